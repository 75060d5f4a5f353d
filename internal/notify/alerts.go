package notify

import (
	"fmt"
	"strings"
	"time"

	"risk_desk/internal/models"

	"github.com/shopspring/decimal"
)

type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Alert is one of PositionAlert, RiskAlert or SummaryAlert.
type Alert interface {
	Kind() string
	Account() string
	Priority() Priority
	Text() string
}

var (
	_ Alert = PositionAlert{}
	_ Alert = RiskAlert{}
	_ Alert = SummaryAlert{}
)

type PositionEvent string

const (
	PositionOpened      PositionEvent = "OPENED"
	PositionClosed      PositionEvent = "CLOSED"
	PositionAveraged    PositionEvent = "AVERAGED"
	PositionExitPending PositionEvent = "EXIT_PENDING"
	PositionHeld        PositionEvent = "HELD"
	PositionDelta       PositionEvent = "DELTA_ADVISORY"
)

type PositionAlert struct {
	AccountID  string
	Event      PositionEvent
	Instrument string
	Direction  models.Direction
	Quantity   int64
	Price      decimal.Decimal
	PnL        decimal.Decimal
	Reason     models.ExitReason
	Note       string
}

func (a PositionAlert) Kind() string    { return "position" }
func (a PositionAlert) Account() string { return a.AccountID }

func (a PositionAlert) Priority() Priority {
	switch a.Event {
	case PositionExitPending:
		return PriorityCritical
	case PositionClosed, PositionDelta:
		return PriorityHigh
	case PositionHeld:
		return PriorityLow
	}
	return PriorityNormal
}

func (a PositionAlert) Text() string {
	var b strings.Builder
	switch a.Event {
	case PositionOpened:
		fmt.Fprintf(&b, "🟢 %s opened %s %s x%d @ %s", a.AccountID, a.Direction, a.Instrument, a.Quantity, a.Price)
	case PositionClosed:
		fmt.Fprintf(&b, "🔴 %s closed %s %s @ %s | %s | P&L %s", a.AccountID, a.Direction, a.Instrument, a.Price, a.Reason, a.PnL.StringFixed(2))
	case PositionAveraged:
		fmt.Fprintf(&b, "➕ %s averaged %s %s, now x%d avg %s", a.AccountID, a.Direction, a.Instrument, a.Quantity, a.Price)
	case PositionExitPending:
		fmt.Fprintf(&b, "⚠️ %s exit %s on %s not confirmed, retrying", a.AccountID, a.Reason, a.Instrument)
	case PositionHeld:
		fmt.Fprintf(&b, "🌙 %s holding %s overnight", a.AccountID, a.Instrument)
	case PositionDelta:
		fmt.Fprintf(&b, "⚖️ %s %s delta advisory", a.AccountID, a.Instrument)
	default:
		fmt.Fprintf(&b, "%s %s %s", a.AccountID, a.Event, a.Instrument)
	}
	if a.Note != "" {
		b.WriteString("\n")
		b.WriteString(a.Note)
	}
	return b.String()
}

type RiskEvent string

const (
	RiskWarning        RiskEvent = "WARNING"
	RiskBreakerTripped RiskEvent = "BREAKER_TRIPPED"
	RiskBreakerReset   RiskEvent = "BREAKER_RESET"
)

type RiskAlert struct {
	AccountID      string
	Event          RiskEvent
	LimitType      models.LimitType
	Current        decimal.Decimal
	Limit          decimal.Decimal
	UtilizationPct decimal.Decimal
	CooldownUntil  time.Time
	Actions        []string
}

func (a RiskAlert) Kind() string    { return "risk" }
func (a RiskAlert) Account() string { return a.AccountID }

func (a RiskAlert) Priority() Priority {
	switch a.Event {
	case RiskBreakerTripped:
		return PriorityCritical
	case RiskWarning:
		return PriorityHigh
	}
	return PriorityNormal
}

func (a RiskAlert) Text() string {
	var b strings.Builder
	switch a.Event {
	case RiskWarning:
		fmt.Fprintf(&b, "⚠️ %s %s at %s%% (%s of %s)", a.AccountID, a.LimitType,
			a.UtilizationPct.StringFixed(1), a.Current.StringFixed(2), a.Limit.StringFixed(2))
	case RiskBreakerTripped:
		fmt.Fprintf(&b, "🛑 CIRCUIT BREAKER %s: %s %s >= %s, cooldown until %s", a.AccountID, a.LimitType,
			a.Current.StringFixed(2), a.Limit.StringFixed(2), a.CooldownUntil.Format("2006-01-02 15:04"))
	case RiskBreakerReset:
		fmt.Fprintf(&b, "✅ %s circuit breaker reset", a.AccountID)
	default:
		fmt.Fprintf(&b, "%s %s", a.AccountID, a.Event)
	}
	for _, line := range a.Actions {
		b.WriteString("\n• ")
		b.WriteString(line)
	}
	return b.String()
}

type SummaryAlert struct {
	AccountID      string
	Date           time.Time
	RealizedPnL    decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	TradesClosed   int
	ActivePosition string // instrument, empty when flat
	Usable         decimal.Decimal
	DailyUsedPct   decimal.Decimal
	IsActive       bool
	BreakerActive  bool
}

func (a SummaryAlert) Kind() string       { return "summary" }
func (a SummaryAlert) Account() string    { return a.AccountID }
func (a SummaryAlert) Priority() Priority { return PriorityLow }

func (a SummaryAlert) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 %s summary %s\n", a.AccountID, a.Date.Format("2006-01-02"))
	fmt.Fprintf(&b, "realized %s | unrealized %s | closed %d\n",
		a.RealizedPnL.StringFixed(2), a.UnrealizedPnL.StringFixed(2), a.TradesClosed)
	if a.ActivePosition != "" {
		fmt.Fprintf(&b, "open: %s\n", a.ActivePosition)
	} else {
		b.WriteString("open: none\n")
	}
	fmt.Fprintf(&b, "usable margin %s | daily limit used %s%%", a.Usable.StringFixed(2), a.DailyUsedPct.StringFixed(1))
	if !a.IsActive {
		b.WriteString("\naccount INACTIVE")
	}
	if a.BreakerActive {
		b.WriteString("\ncircuit breaker ACTIVE")
	}
	return b.String()
}
