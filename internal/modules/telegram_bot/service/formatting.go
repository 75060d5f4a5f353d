package service

import (
	"fmt"
	"strings"
	"time"

	"risk_desk/internal/runner"
)

func onOff(v bool) string {
	if v {
		return "вкл"
	}
	return "выкл"
}

func formatStatus(st runner.AccountStatus) string {
	var b strings.Builder
	a := st.Account
	fmt.Fprintf(&b, "📒 %s (%s)\n", a.ID, onOff(a.IsActive))
	fmt.Fprintf(&b, "Капитал %s, задействовано %s, доступно %s\n",
		st.Margin.Total.StringFixed(0), st.Margin.Deployed.StringFixed(0), st.Margin.Usable.StringFixed(0))

	for _, l := range st.Limits {
		if !l.LimitValue.IsPositive() {
			continue
		}
		mark := ""
		if l.IsBreached {
			mark = " ⛔️"
		}
		fmt.Fprintf(&b, "%s: %s / %s (%s%%)%s\n", l.LimitType,
			l.CurrentValue.StringFixed(0), l.LimitValue.StringFixed(0), l.UtilizationPct().StringFixed(1), mark)
	}

	if p := st.Position; p != nil {
		fmt.Fprintf(&b, "Позиция: %s %s x%d @ %s, сейчас %s, PnL %s, усреднений %d",
			p.Direction, p.Instrument, p.Quantity, p.EntryPrice.StringFixed(2),
			p.MarkPrice().StringFixed(2), p.UnrealizedPnL.StringFixed(0), p.AveragingCount)
	} else {
		b.WriteString("Позиции нет")
	}

	if cb := st.Breaker; cb != nil && cb.IsActive {
		fmt.Fprintf(&b, "\n🚨 Breaker %s до %s", cb.TriggerType, cb.CooldownUntil.Format(time.DateTime))
	}
	return b.String()
}
