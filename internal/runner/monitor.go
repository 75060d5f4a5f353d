package runner

import (
	"context"
	"fmt"
	"time"

	"risk_desk/internal/broker"
	"risk_desk/internal/delta"
	"risk_desk/internal/exits"
	"risk_desk/internal/helper"
	"risk_desk/internal/metrics"
	"risk_desk/internal/models"
	"risk_desk/internal/notify"
	"risk_desk/pkg/logger"
	"risk_desk/pkg/tracing"
)

// MonitorResult is what one tick did to one account.
type MonitorResult struct {
	AccountID string
	Position  *models.Position // after the tick; nil when flat
	Limits    []models.RiskLimit
	Tripped   bool
	Breaker   *models.CircuitBreaker
	Exit      *exits.Decision
	Closed    bool
	Averaged  bool
	Advisory  *delta.Advisory
}

// Monitor runs one tick for accountID: mark the position, recompute loss
// limits, enforce the breaker and, if still open, evaluate exits then
// averaging (directional) or the delta advisory (neutral).
func (c *Controller) Monitor(ctx context.Context, accountID string) (res MonitorResult, err error) {
	span, ctx := tracing.StartSpan(ctx, "runner.Monitor", map[string]string{"account": accountID})
	defer func() {
		tracing.Fail(span, err)
		span.Finish()
	}()

	unlock := c.lock(accountID)
	defer unlock()

	res.AccountID = accountID
	acc, err := c.account(ctx, accountID)
	if err != nil {
		return res, err
	}

	p, hasPos, err := c.Lifecycle.Active(ctx, accountID)
	if err != nil {
		return res, err
	}
	if hasPos {
		p = c.refresh(ctx, p)
	}

	ev, err := c.Tracker.Tick(ctx, acc)
	if err != nil {
		return res, err
	}
	res.Limits = ev.Limits
	for _, w := range ev.Warnings {
		c.notify(notify.RiskAlert{
			AccountID:      accountID,
			Event:          notify.RiskWarning,
			LimitType:      w.LimitType,
			Current:        w.CurrentValue,
			Limit:          w.LimitValue,
			UtilizationPct: w.UtilizationPct(),
		})
	}

	cb, tripped, err := c.Breaker.Enforce(ctx, acc, ev.Limits)
	if tripped {
		res.Tripped = true
		res.Breaker = &cb
		return res, err
	}
	if err != nil {
		return res, err
	}
	cb, active, err := c.Breaker.Active(ctx, accountID)
	if err != nil {
		return res, err
	}
	if active {
		res.Breaker = &cb
		if hasPos || acc.IsActive {
			// Trip left work undone; nothing else runs until it is finished
			return c.retryBreaker(ctx, acc, cb, res)
		}
	}
	if !hasPos {
		return res, nil
	}
	res.Position = &p

	now := c.Now()
	d := c.Exits.Evaluate(p, now)
	if d.ShouldExit {
		res.Exit = &d
		closed, done, err := c.exit(ctx, p, d)
		res.Position, res.Closed = &closed, done
		return res, err
	}
	if d.Reason == models.HoldOvernight {
		res.Exit = &d
		day := c.Calendar.Date(now).Format(time.DateOnly)
		if c.canSend(helper.AlertKey(accountID, "hold", day), 24*time.Hour) {
			c.notify(notify.PositionAlert{
				AccountID:  accountID,
				Event:      notify.PositionHeld,
				Instrument: p.Instrument,
				Direction:  p.Direction,
				Quantity:   p.Quantity,
				Price:      p.MarkPrice(),
				PnL:        p.UnrealizedPnL,
				Reason:     d.Reason,
				Note:       d.Note,
			})
		}
	}

	if p.Direction.IsDirectional() {
		c.average(ctx, acc, p, active, &res)
	} else {
		c.watchDelta(ctx, p, &res)
	}
	return res, nil
}

// retryBreaker finishes a tripped breaker's force close and deactivation.
func (c *Controller) retryBreaker(ctx context.Context, acc models.Account, cb models.CircuitBreaker, res MonitorResult) (MonitorResult, error) {
	next, closed, done, err := c.Breaker.Retry(ctx, acc, cb)
	res.Breaker = &next
	if done {
		res.Position, res.Closed = &closed, true
		c.notify(notify.PositionAlert{
			AccountID:  closed.AccountID,
			Event:      notify.PositionClosed,
			Instrument: closed.Instrument,
			Direction:  closed.Direction,
			Quantity:   closed.Quantity,
			Price:      closed.ExitPrice,
			PnL:        closed.RealizedPnL,
			Reason:     closed.ExitReason,
			Note:       "circuit breaker retry",
		})
	}
	if err != nil {
		logger.Error("[MONITOR] %s: breaker retry: %v", acc.ID, err)
	}
	return res, err
}

// refresh marks p at the last known price. Without any price the position
// keeps its previous mark.
func (c *Controller) refresh(ctx context.Context, p models.Position) models.Position {
	price, err := c.price(ctx, p.Instrument)
	if err != nil {
		logger.Warn("[MONITOR] %s %s: no price, keeping mark %s: %v", p.AccountID, p.Instrument, p.MarkPrice(), err)
		return p
	}
	next, err := c.Lifecycle.UpdatePrice(ctx, p, price)
	if err != nil {
		logger.Error("[MONITOR] %s %s: update price: %v", p.AccountID, p.Instrument, err)
		return p
	}
	return next
}

// exit sends the closing order and closes p at the fill. A failed mandatory
// exit is recorded on the position and retried next tick; a failed
// end-of-day exit is simply evaluated again.
func (c *Controller) exit(ctx context.Context, p models.Position, d exits.Decision) (models.Position, bool, error) {
	fill, err := c.Orders.PlaceOrder(ctx, broker.OrderSpec{
		AccountID:  p.AccountID,
		Instrument: p.Instrument,
		Side:       broker.ExitSide(p.Direction),
		Quantity:   p.Quantity,
		LotSize:    p.LotSize,
		Price:      d.ExitPrice,
		Reason:     string(d.Reason),
	})
	if err != nil {
		if !d.IsMandatory {
			logger.Warn("[EXIT] %s %s: %s order failed, re-evaluating next tick: %v", p.AccountID, p.Instrument, d.Reason, err)
			return p, false, nil
		}
		p.ExitAttempts++
		p.LastExitAttemptAt = c.Now()
		p.UpdatedAt = p.LastExitAttemptAt
		if uerr := c.Store.Positions.Update(ctx, p); uerr != nil {
			logger.Error("[EXIT] %s %s: record exit attempt: %v", p.AccountID, p.Instrument, uerr)
		}
		logger.Error("[EXIT] %s %s: mandatory %s exit not confirmed (attempt %d): %v",
			p.AccountID, p.Instrument, d.Reason, p.ExitAttempts, err)
		if c.canSend(helper.AlertKey(p.AccountID, "exit_pending", string(d.Reason)), c.policy.AlertCooldown) {
			c.notify(notify.PositionAlert{
				AccountID:  p.AccountID,
				Event:      notify.PositionExitPending,
				Instrument: p.Instrument,
				Direction:  p.Direction,
				Quantity:   p.Quantity,
				Price:      d.ExitPrice,
				PnL:        p.UnrealizedPnL,
				Reason:     d.Reason,
				Note:       fmt.Sprintf("attempt %d: %v", p.ExitAttempts, err),
			})
		}
		return p, false, nil
	}

	price := fill.FilledPrice
	if !price.IsPositive() {
		price = d.ExitPrice
	}
	closed, err := c.Lifecycle.Close(ctx, p, price, d.Reason)
	if err != nil {
		logger.Error("[EXIT] %s %s: order %s filled but close not stored: %v", p.AccountID, p.Instrument, fill.OrderID, err)
		return p, false, err
	}
	metrics.Exits.WithLabelValues(string(d.Reason)).Inc()
	c.notify(notify.PositionAlert{
		AccountID:  p.AccountID,
		Event:      notify.PositionClosed,
		Instrument: closed.Instrument,
		Direction:  closed.Direction,
		Quantity:   closed.Quantity,
		Price:      closed.ExitPrice,
		PnL:        closed.RealizedPnL,
		Reason:     closed.ExitReason,
		Note:       d.Note,
	})
	return closed, true, nil
}

// average adds an equal quantity to a losing directional position when the
// averaging engine and the budget allow it. Never on a deactivated or
// tripped account. The order goes first; the position changes only after
// a fill.
func (c *Controller) average(ctx context.Context, acc models.Account, p models.Position, tripped bool, res *MonitorResult) {
	if c.Gate.IsPaused() || !acc.IsActive || tripped {
		return
	}
	price := p.MarkPrice()
	v, err := c.Averaging.ShouldAverage(ctx, acc, p, price)
	if err != nil {
		logger.Error("[AVERAGING] %s %s: %v", p.AccountID, p.Instrument, err)
		return
	}
	if !v.Ok {
		if v.LossPct.LessThanOrEqual(c.Averaging.Policy().TriggerLossPct) {
			metrics.Averaging.WithLabelValues("rejected").Inc()
			logger.Debug("[AVERAGING] %s %s rejected: %s", p.AccountID, p.Instrument, v.Reason)
		}
		return
	}

	fill, err := c.Orders.PlaceOrder(ctx, broker.OrderSpec{
		AccountID:  p.AccountID,
		Instrument: p.Instrument,
		Side:       broker.EntrySide(p.Direction),
		Quantity:   p.Quantity,
		LotSize:    p.LotSize,
		Price:      price,
		Reason:     "averaging",
	})
	if err != nil {
		metrics.Averaging.WithLabelValues("failed").Inc()
		logger.Warn("[AVERAGING] %s %s: order failed, position unchanged: %v", p.AccountID, p.Instrument, err)
		return
	}
	fillPrice := fill.FilledPrice
	if !fillPrice.IsPositive() {
		fillPrice = price
	}

	next, err := c.Averaging.Execute(ctx, acc, p, fillPrice)
	if err != nil {
		metrics.Averaging.WithLabelValues("failed").Inc()
		logger.Error("[AVERAGING] %s %s: order %s filled but averaging not stored: %v", p.AccountID, p.Instrument, fill.OrderID, err)
		return
	}
	metrics.Averaging.WithLabelValues("applied").Inc()
	res.Averaged = true
	res.Position = &next
	c.notify(notify.PositionAlert{
		AccountID:  next.AccountID,
		Event:      notify.PositionAveraged,
		Instrument: next.Instrument,
		Direction:  next.Direction,
		Quantity:   next.Quantity,
		Price:      next.EntryPrice,
		PnL:        next.UnrealizedPnL,
		Note: fmt.Sprintf("attempt %d at %s (loss %s%%), new stop %s",
			next.AveragingCount, fillPrice, v.LossPct.StringFixed(2), next.StopLoss.StringFixed(2)),
	})
}

// watchDelta stores the structure's net delta and raises an advisory when
// it drifts past the threshold. Nothing is traded.
func (c *Controller) watchDelta(ctx context.Context, p models.Position, res *MonitorResult) {
	in, ok := c.instruments[p.Instrument]
	if !ok || in.Underlying == "" {
		return
	}
	spot, err := c.price(ctx, in.Underlying)
	if err != nil {
		logger.Warn("[DELTA] %s %s: no spot: %v", p.AccountID, p.Instrument, err)
		return
	}
	vol, err := c.quotes.GetImpliedVolatility(ctx)
	if err != nil {
		logger.Warn("[DELTA] %s: no volatility, using base width: %v", p.AccountID, err)
	}

	reading, adv, err := c.Delta.Check(p, spot, vol)
	if err != nil {
		logger.Error("[DELTA] %s %s: %v", p.AccountID, p.Instrument, err)
		return
	}
	if !reading.NetDelta.Equal(p.NetDelta) {
		p.NetDelta = reading.NetDelta
		p.UpdatedAt = c.Now()
		if err := c.Store.Positions.Update(ctx, p); err != nil {
			logger.Error("[DELTA] %s %s: store net delta: %v", p.AccountID, p.Instrument, err)
		} else {
			res.Position = &p
		}
	}
	if adv == nil {
		return
	}
	res.Advisory = adv
	if c.canSend(helper.AlertKey(p.AccountID, "delta"), c.policy.AlertCooldown) {
		metrics.DeltaAdvisories.Inc()
		logger.Warn("[DELTA] %s %s: %s", p.AccountID, p.Instrument, adv.Text())
		c.notify(notify.PositionAlert{
			AccountID:  p.AccountID,
			Event:      notify.PositionDelta,
			Instrument: p.Instrument,
			Direction:  p.Direction,
			Quantity:   p.Quantity,
			Price:      spot,
			Note:       adv.Text(),
		})
	}
}
