// Package averaging adds to losing directional positions within a capped
// number of attempts and tightens the stop after every add.
package averaging

import (
	"context"
	"fmt"
	"time"

	"risk_desk/internal/models"
	"risk_desk/internal/position"
	"risk_desk/internal/store"
	"risk_desk/pkg/logger"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Policy struct {
	MaxAttempts    int
	TriggerLossPct decimal.Decimal // negative, e.g. -1.0
	StopTightenPct decimal.Decimal // distance of the new stop from the new average
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		TriggerLossPct: decimal.RequireFromString("-1.0"),
		StopTightenPct: decimal.RequireFromString("0.5"),
	}
}

// Budgeter is the slice of the admission controller averaging needs.
type Budgeter interface {
	AveragingBudget(ctx context.Context, acc models.Account, attempt int) (decimal.Decimal, error)
}

type Verdict struct {
	Ok      bool            `json:"ok"`
	Reason  string          `json:"reason"`
	LossPct decimal.Decimal `json:"loss_pct"`
}

type Engine struct {
	positions store.Positions
	budget    Budgeter
	policy    Policy
	now       func() time.Time
}

func NewEngine(positions store.Positions, budget Budgeter, policy Policy, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{positions: positions, budget: budget, policy: policy, now: now}
}

func (e *Engine) Policy() Policy { return e.policy }

// LossPct of p at price relative to entry, negative when losing.
func LossPct(p models.Position, price decimal.Decimal) decimal.Decimal {
	if !p.EntryPrice.IsPositive() {
		return decimal.Zero
	}
	var move decimal.Decimal
	switch p.Direction {
	case models.DirectionLong:
		move = price.Sub(p.EntryPrice)
	case models.DirectionShort:
		move = p.EntryPrice.Sub(price)
	default:
		return decimal.Zero
	}
	return move.Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
}

func (e *Engine) ShouldAverage(ctx context.Context, acc models.Account, p models.Position, price decimal.Decimal) (Verdict, error) {
	if !p.Direction.IsDirectional() {
		return Verdict{Reason: "market-neutral positions are never averaged"}, nil
	}
	if !p.IsActive() {
		return Verdict{Reason: "position is not active"}, nil
	}

	loss := LossPct(p, price)
	if p.AveragingCount >= e.policy.MaxAttempts {
		return Verdict{LossPct: loss, Reason: fmt.Sprintf("averaged %d times already", p.AveragingCount)}, nil
	}
	if loss.GreaterThan(e.policy.TriggerLossPct) {
		return Verdict{LossPct: loss, Reason: fmt.Sprintf("loss %s%% above trigger %s%%", loss.StringFixed(3), e.policy.TriggerLossPct)}, nil
	}

	budget, err := e.budget.AveragingBudget(ctx, acc, p.AveragingCount+1)
	var maxErr *models.MaxAttemptsExceededError
	if errors.As(err, &maxErr) {
		return Verdict{LossPct: loss, Reason: maxErr.Error()}, nil
	}
	if err != nil {
		return Verdict{LossPct: loss}, err
	}
	if p.MarginUsed.GreaterThan(budget) {
		return Verdict{LossPct: loss, Reason: fmt.Sprintf("equal-size add needs %s, budget %s",
			p.MarginUsed.StringFixed(2), budget.StringFixed(2))}, nil
	}

	return Verdict{Ok: true, LossPct: loss, Reason: fmt.Sprintf("loss %s%% triggers attempt %d", loss.StringFixed(3), p.AveragingCount+1)}, nil
}

// Execute adds an equal quantity at price and stores the result as one
// update; on any failure the stored position is left as it was.
func (e *Engine) Execute(ctx context.Context, acc models.Account, p models.Position, price decimal.Decimal) (models.Position, error) {
	if !p.Direction.IsDirectional() {
		return p, &models.InvalidInputError{Field: "direction", Reason: "NEUTRAL positions are never averaged"}
	}
	if !price.IsPositive() {
		return p, &models.InvalidInputError{Field: "price", Reason: "must be positive"}
	}
	attempt := p.AveragingCount + 1
	if p.AveragingCount >= e.policy.MaxAttempts {
		return p, &models.MaxAttemptsExceededError{Attempt: attempt, Max: e.policy.MaxAttempts}
	}

	budget, err := e.budget.AveragingBudget(ctx, acc, attempt)
	if err != nil {
		return p, err
	}
	if p.MarginUsed.GreaterThan(budget) {
		return p, &models.InsufficientMarginError{Required: p.MarginUsed, Usable: budget}
	}

	next := Apply(p, price, e.policy.StopTightenPct)
	next.UpdatedAt = e.now()
	if err := e.positions.Update(ctx, next); err != nil {
		return p, errors.Wrapf(err, "averaging: store %s", p.ID)
	}

	logger.Info("[AVERAGING] %s %s attempt=%d qty %d->%d avg %s->%s stop %s->%s",
		p.AccountID, p.Instrument, next.AveragingCount, p.Quantity, next.Quantity,
		p.EntryPrice.String(), next.EntryPrice.String(), p.StopLoss.String(), next.StopLoss.String())
	return next, nil
}

// Apply is the averaging arithmetic without side effects.
func Apply(p models.Position, price, tightenPct decimal.Decimal) models.Position {
	oldQty := decimal.NewFromInt(p.Quantity)
	added := p.Quantity
	newQty := p.Quantity + added

	avg := p.EntryPrice.Mul(oldQty).
		Add(price.Mul(decimal.NewFromInt(added))).
		Div(decimal.NewFromInt(newQty))

	shift := tightenPct.Div(decimal.NewFromInt(100))
	stop := avg.Mul(decimal.NewFromInt(1).Sub(shift))
	if p.Direction == models.DirectionShort {
		stop = avg.Mul(decimal.NewFromInt(1).Add(shift))
	}

	next := p
	next.Quantity = newQty
	next.EntryPrice = avg
	next.StopLoss = stop
	if p.Quantity > 0 {
		next.MarginUsed = p.MarginUsed.Add(p.MarginUsed.Div(oldQty).Mul(decimal.NewFromInt(added)))
	}
	next.AveragingCount = p.AveragingCount + 1
	next.EntryValue = decimal.NewFromInt(newQty).Mul(decimal.NewFromInt(p.LotSize)).Mul(avg)
	next.CurrentPrice = price
	next.UnrealizedPnL = position.PnL(next, price)
	return next
}
