package runner

import (
	"context"
	"fmt"
	"time"

	"risk_desk/internal/broker"
	"risk_desk/internal/expiry"
	"risk_desk/internal/gate"
	"risk_desk/internal/helper"
	"risk_desk/internal/margin"
	"risk_desk/internal/metrics"
	"risk_desk/internal/models"
	"risk_desk/internal/notify"
	"risk_desk/internal/position"
	"risk_desk/pkg/logger"
	"risk_desk/pkg/tracing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type EntryResult struct {
	Admitted  bool             `json:"admitted"`
	Reason    string           `json:"reason"`
	Position  models.Position  `json:"position"`
	Selection expiry.Selection `json:"selection"`
	Sizing    margin.Sizing    `json:"sizing"`
}

// EvaluateEntry admits cand into a new position on accountID or returns
// the reason it was rejected. Every check, the order and the open run
// under the account lock, so two evaluations for one account can never
// both pass the one-position check.
func (c *Controller) EvaluateEntry(ctx context.Context, g gate.TradingGate, accountID string, cand models.Candidate) (res EntryResult, err error) {
	span, ctx := tracing.StartSpan(ctx, "runner.EvaluateEntry", map[string]string{
		"account":    accountID,
		"instrument": cand.Instrument,
		"direction":  string(cand.Direction),
	})
	defer span.Finish()

	defer func() {
		metrics.Admissions.WithLabelValues(admissionResult(err)).Inc()
		if err != nil {
			res.Admitted = false
			res.Reason = err.Error()
			tracing.Fail(span, err)
			logger.Info("[ENTRY] %s %s %s rejected: %s", accountID, cand.Instrument, cand.Direction, res.Reason)
		}
	}()

	if g != nil && g.IsPaused() {
		return res, models.ErrTradingPaused
	}

	unlock := c.lock(accountID)
	defer unlock()

	acc, err := c.account(ctx, accountID)
	if err != nil {
		return res, err
	}
	if !acc.IsActive {
		return res, models.ErrAccountInactive
	}
	if _, active, err := c.Breaker.Active(ctx, accountID); err != nil {
		return res, err
	} else if active {
		return res, models.ErrBreakerActive
	}
	if cand.ConfidenceScore < c.policy.MinConfidence {
		return res, errors.Wrapf(models.ErrLowConfidence, "%.2f < %.2f", cand.ConfidenceScore, c.policy.MinConfidence)
	}
	in, ok := c.instruments[cand.Instrument]
	if !ok {
		return res, &models.InvalidInputError{Field: "instrument", Reason: "is not configured: " + cand.Instrument}
	}
	if !cand.Direction.Valid() {
		return res, &models.InvalidInputError{Field: "direction", Reason: "must be LONG, SHORT or NEUTRAL"}
	}
	if existing, found, err := c.Lifecycle.Active(ctx, accountID); err != nil {
		return res, err
	} else if found {
		return res, &models.DuplicatePositionError{AccountID: accountID, PositionID: existing.ID}
	}

	price, err := c.price(ctx, in.Symbol)
	if err != nil {
		return res, err
	}

	expiryDate, sel, err := c.Expiry.SelectExpiry(in.Class, c.Expiry.MinDays(in.Class))
	if err != nil {
		return res, err
	}
	res.Selection = sel

	sizing, err := c.Margin.SizeForLots(ctx, acc, price, in.LotSize, in.MarginPerLot)
	if err != nil {
		return res, err
	}
	res.Sizing = sizing
	if sizing.MaxLots == 0 {
		return res, &models.InsufficientMarginError{Required: in.MarginPerLot, Usable: sizing.RemainingMargin}
	}
	lots := c.entryLots(sizing.MaxLots)
	required := in.MarginPerLot.Mul(decimal.NewFromInt(lots))
	ok, detail, err := c.Margin.CheckAvailability(ctx, acc, required)
	if err != nil {
		return res, err
	}
	if !ok {
		snap, _ := c.Margin.UsableMargin(ctx, acc)
		logger.Info("[ENTRY] %s: %s", accountID, detail)
		return res, &models.InsufficientMarginError{Required: required, Usable: snap.Usable}
	}

	spec := position.Spec{
		Instrument: in.Symbol,
		Class:      in.Class,
		Direction:  cand.Direction,
		Quantity:   lots,
		LotSize:    in.LotSize,
		MarginUsed: required,
		Expiry:     expiryDate,
	}
	if cand.Direction == models.DirectionNeutral {
		spot, err := c.price(ctx, in.Underlying)
		if err != nil {
			return res, err
		}
		wing := c.policy.NeutralWingPct.Div(hundred)
		spec.LegAStrike = helper.RoundUpToStep(spot.Mul(decimal.NewFromInt(1).Add(wing)), in.StrikeStep)
		spec.LegBStrike = helper.RoundDownToStep(spot.Mul(decimal.NewFromInt(1).Sub(wing)), in.StrikeStep)
	}

	// last guard before the order: the selection may be stale by now
	if ok, reason := c.Expiry.Validate(expiryDate, expiry.StrategyFor(in.Class, cand.Direction)); !ok {
		return res, &models.InvalidInputError{Field: "expiry", Reason: reason}
	}

	fill, err := c.Orders.PlaceOrder(ctx, broker.OrderSpec{
		AccountID:  accountID,
		Instrument: in.Symbol,
		Side:       broker.EntrySide(cand.Direction),
		Quantity:   spec.Quantity,
		LotSize:    in.LotSize,
		Price:      price,
		Reason:     "entry",
	})
	if err != nil {
		return res, &models.ExternalDependencyError{Dependency: "orders", Err: err}
	}
	entry := fill.FilledPrice
	if !entry.IsPositive() {
		entry = price
	}
	spec.EntryPrice = entry
	spec.StopLoss, spec.Target = c.brackets(cand.Direction, entry)
	if cand.Direction == models.DirectionNeutral {
		spec.PremiumCollected = entry
	}

	p, err := c.Lifecycle.Open(ctx, accountID, spec)
	if err != nil {
		// the order is already at the broker
		logger.Error("[ENTRY] %s: order %s filled but position was not stored: %v", accountID, fill.OrderID, err)
		return res, err
	}

	res.Admitted = true
	res.Position = p
	res.Reason = fmt.Sprintf("%s %s %d lots, expiry %s (%s, %dd)",
		p.Direction, p.Instrument, p.Quantity, sel.Expiry.Format(time.DateOnly), sel.Type, sel.DaysRemaining)

	c.notify(notify.PositionAlert{
		AccountID:  accountID,
		Event:      notify.PositionOpened,
		Instrument: p.Instrument,
		Direction:  p.Direction,
		Quantity:   p.Quantity,
		Price:      p.EntryPrice,
		Note:       fmt.Sprintf("stop %s, target %s, margin %s", p.StopLoss.StringFixed(2), p.Target.StringFixed(2), p.MarginUsed.StringFixed(0)),
	})
	return res, nil
}

// entryLots is the share of maxLots a first entry takes, at least one lot.
// The rest of the usable margin stays free for averaging budgets.
func (c *Controller) entryLots(maxLots int64) int64 {
	f := c.policy.EntryFraction
	if !f.IsPositive() || f.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return maxLots
	}
	lots := decimal.NewFromInt(maxLots).Mul(f).Floor().IntPart()
	if lots < 1 {
		lots = 1
	}
	return lots
}

// brackets returns stop and target around entry.
func (c *Controller) brackets(dir models.Direction, entry decimal.Decimal) (stop, target decimal.Decimal) {
	one := decimal.NewFromInt(1)
	switch dir {
	case models.DirectionLong:
		return entry.Mul(one.Sub(c.policy.StopPct.Div(hundred))), entry.Mul(one.Add(c.policy.TargetPct.Div(hundred)))
	case models.DirectionShort:
		return entry.Mul(one.Add(c.policy.StopPct.Div(hundred))), entry.Mul(one.Sub(c.policy.TargetPct.Div(hundred)))
	default:
		// NEUTRAL: price is the cost to close, rising against us
		return entry.Mul(one.Add(c.policy.NeutralStopPct.Div(hundred))), entry.Mul(one.Sub(c.policy.NeutralTargetPct.Div(hundred)))
	}
}

func admissionResult(err error) string {
	var (
		dup *models.DuplicatePositionError
		mrg *models.InsufficientMarginError
		inv *models.InvalidInputError
		ext *models.ExternalDependencyError
	)
	switch {
	case err == nil:
		return "admitted"
	case errors.Is(err, models.ErrTradingPaused):
		return "paused"
	case errors.Is(err, models.ErrAccountInactive):
		return "inactive"
	case errors.Is(err, models.ErrBreakerActive):
		return "breaker"
	case errors.Is(err, models.ErrLowConfidence):
		return "low_confidence"
	case errors.As(err, &dup):
		return "duplicate"
	case errors.As(err, &mrg):
		return "no_margin"
	case errors.As(err, &inv):
		return "invalid"
	case errors.As(err, &ext):
		return "external"
	}
	return "error"
}
