// Package exits decides, tick by tick, whether the active position must go.
package exits

import (
	"fmt"
	"time"

	"risk_desk/internal/calendar"
	"risk_desk/internal/models"
	"risk_desk/internal/position"
	"risk_desk/pkg/logger"

	"github.com/shopspring/decimal"
)

type Policy struct {
	EODCutoff          calendar.Clock
	ExpiryCutoff       calendar.Clock
	MinProfitPctToExit decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{
		EODCutoff:          calendar.Clock{Hour: 15, Minute: 15},
		ExpiryCutoff:       calendar.Clock{Hour: 15, Minute: 0},
		MinProfitPctToExit: decimal.NewFromInt(50),
	}
}

type Decision struct {
	ShouldExit  bool              `json:"should_exit"`
	Reason      models.ExitReason `json:"reason"`
	ExitPrice   decimal.Decimal   `json:"exit_price"`
	IsMandatory bool              `json:"is_mandatory"`
	Note        string            `json:"note,omitempty"`
}

type Engine struct {
	cal    *calendar.Calendar
	policy Policy
}

func NewEngine(cal *calendar.Calendar, policy Policy) *Engine {
	return &Engine{cal: cal, policy: policy}
}

// Evaluate runs the rules in priority order, first match wins:
// stop-loss, target, end-of-day profit, expiry. A hold from the end-of-day
// rule is only returned when the expiry rule does not force an exit.
func (e *Engine) Evaluate(p models.Position, now time.Time) Decision {
	price := p.MarkPrice()
	if !p.IsActive() {
		return Decision{ExitPrice: price, Note: "position is not active"}
	}

	if d, ok := e.stopLoss(p, price); ok {
		return d
	}
	if d, ok := e.target(p, price); ok {
		return d
	}

	var hold *Decision
	if !now.Before(e.cal.At(now, e.policy.EODCutoff)) {
		d, exit := e.endOfDay(p, price, now)
		if exit {
			return d
		}
		hold = &d
	}

	if d, ok := e.expiry(p, price, now); ok {
		return d
	}

	if hold != nil {
		logger.Info("[EXIT] %s %s: %s", p.AccountID, p.Instrument, hold.Note)
		return *hold
	}
	return Decision{ExitPrice: price}
}

func (e *Engine) stopLoss(p models.Position, price decimal.Decimal) (Decision, bool) {
	if !p.StopLoss.IsPositive() {
		return Decision{}, false
	}
	var hit bool
	switch p.Direction {
	case models.DirectionLong:
		hit = price.LessThanOrEqual(p.StopLoss)
	case models.DirectionShort, models.DirectionNeutral:
		hit = price.GreaterThanOrEqual(p.StopLoss)
	}
	if !hit {
		return Decision{}, false
	}
	return Decision{
		ShouldExit:  true,
		Reason:      models.ExitStopLoss,
		ExitPrice:   price,
		IsMandatory: true,
		Note:        fmt.Sprintf("stop %s hit at %s", p.StopLoss, price),
	}, true
}

func (e *Engine) target(p models.Position, price decimal.Decimal) (Decision, bool) {
	if !p.Target.IsPositive() {
		return Decision{}, false
	}
	var hit bool
	switch p.Direction {
	case models.DirectionLong:
		hit = price.GreaterThanOrEqual(p.Target)
	case models.DirectionShort, models.DirectionNeutral:
		hit = price.LessThanOrEqual(p.Target)
	}
	if !hit {
		return Decision{}, false
	}
	return Decision{
		ShouldExit:  true,
		Reason:      models.ExitTarget,
		ExitPrice:   price,
		IsMandatory: true,
		Note:        fmt.Sprintf("target %s hit at %s", p.Target, price),
	}, true
}

// endOfDay returns (decision, true) to exit, or a hold decision and false.
// A hold names the trading day the position is next looked at.
func (e *Engine) endOfDay(p models.Position, price decimal.Decimal, now time.Time) (Decision, bool) {
	next := e.cal.NextTradingDay(now).Format(time.DateOnly)
	pct, ok := ProfitPct(p, price)
	if !ok {
		return Decision{
			Reason:    models.HoldOvernight,
			ExitPrice: price,
			Note:      "hold overnight until " + next + ": no profit basis",
		}, false
	}
	if pct.GreaterThanOrEqual(e.policy.MinProfitPctToExit) {
		return Decision{
			ShouldExit: true,
			Reason:     models.ExitEODProfit,
			ExitPrice:  price,
			Note:       fmt.Sprintf("eod profit %s%% >= %s%%", pct.StringFixed(1), e.policy.MinProfitPctToExit),
		}, true
	}
	return Decision{
		Reason:    models.HoldOvernight,
		ExitPrice: price,
		Note: fmt.Sprintf("hold overnight until %s: profit %s%% below %s%%",
			next, pct.StringFixed(1), e.policy.MinProfitPctToExit),
	}, false
}

func (e *Engine) expiry(p models.Position, price decimal.Decimal, now time.Time) (Decision, bool) {
	if p.Expiry.IsZero() {
		return Decision{}, false
	}

	dte := e.cal.DaysBetween(now, p.Expiry)
	var note string
	switch {
	case dte < 0:
		note = "expiry has passed"
	case dte == 0 && !now.Before(e.cal.At(now, e.policy.ExpiryCutoff)):
		note = fmt.Sprintf("expiry day past %s", e.policy.ExpiryCutoff)
	case dte == 1 && e.cal.IsLastTradingDayBeforeGap(now):
		note = "expires after a non-trading gap"
	default:
		return Decision{}, false
	}
	return Decision{
		ShouldExit:  true,
		Reason:      models.ExitExpiry,
		ExitPrice:   price,
		IsMandatory: true,
		Note:        note,
	}, true
}

// ProfitPct = PnL at price / basis * 100. ok is false without a basis.
func ProfitPct(p models.Position, price decimal.Decimal) (decimal.Decimal, bool) {
	basis := position.ProfitBasis(p)
	if !basis.IsPositive() {
		return decimal.Zero, false
	}
	return position.PnL(p, price).Div(basis).Mul(decimal.NewFromInt(100)), true
}
