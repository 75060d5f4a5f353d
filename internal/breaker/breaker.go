// Package breaker trips an account when a loss limit breaches: it
// force-closes the position, deactivates the account and starts a cooldown.
package breaker

import (
	"context"
	"time"

	"risk_desk/internal/broker"
	"risk_desk/internal/metrics"
	"risk_desk/internal/models"
	"risk_desk/internal/notify"
	"risk_desk/internal/position"
	"risk_desk/internal/store"
	"risk_desk/pkg/logger"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

type Policy struct {
	Cooldown time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Cooldown: 24 * time.Hour}
}

type Breaker struct {
	accounts  store.Accounts
	breakers  store.Breakers
	lifecycle *position.Lifecycle
	orders    broker.OrderExecutor
	notifier  notify.Notifier
	policy    Policy
	now       func() time.Time
}

func New(
	accounts store.Accounts,
	breakers store.Breakers,
	lifecycle *position.Lifecycle,
	orders broker.OrderExecutor,
	notifier notify.Notifier,
	policy Policy,
	now func() time.Time,
) *Breaker {
	if now == nil {
		now = time.Now
	}
	return &Breaker{
		accounts:  accounts,
		breakers:  breakers,
		lifecycle: lifecycle,
		orders:    orders,
		notifier:  notifier,
		policy:    policy,
		now:       now,
	}
}

// Active returns the account's breaker if it is currently tripped.
func (b *Breaker) Active(ctx context.Context, accountID string) (models.CircuitBreaker, bool, error) {
	cb, found, err := b.breakers.Latest(ctx, accountID)
	if err != nil || !found || !cb.IsActive {
		return models.CircuitBreaker{}, false, err
	}
	return cb, true, nil
}

// Enforce trips the breaker on the first breached limit. It is a no-op while
// a breaker is already active. tripped reports a new trip on this call.
func (b *Breaker) Enforce(ctx context.Context, acc models.Account, limits []models.RiskLimit) (cb models.CircuitBreaker, tripped bool, err error) {
	var breached *models.RiskLimit
	for i := range limits {
		if limits[i].IsBreached {
			breached = &limits[i]
			break
		}
	}
	if breached == nil {
		return models.CircuitBreaker{}, false, nil
	}

	existing, active, err := b.Active(ctx, acc.ID)
	if err != nil {
		return models.CircuitBreaker{}, false, errors.Wrapf(err, "breaker.Enforce %s", acc.ID)
	}
	if active {
		return existing, false, nil
	}

	cb, err = b.Trip(ctx, acc, *breached)
	return cb, true, err
}

// Trip runs every enforcement step in order. A failed step is logged and
// the remaining steps still run; nothing already done is rolled back.
func (b *Breaker) Trip(ctx context.Context, acc models.Account, limit models.RiskLimit) (models.CircuitBreaker, error) {
	var errs error
	now := b.now()

	cb := models.CircuitBreaker{
		ID:             uuid.NewString(),
		AccountID:      acc.ID,
		TriggerType:    limit.LimitType,
		TriggerValue:   limit.CurrentValue,
		ThresholdValue: limit.LimitValue,
		IsActive:       true,
		CreatedAt:      now,
	}
	b.log(&cb, "tripped: %s loss %s >= limit %s", limit.LimitType, limit.CurrentValue.StringFixed(2), limit.LimitValue.StringFixed(2))
	if err := b.breakers.Save(ctx, cb); err != nil {
		b.log(&cb, "record save failed: %v", err)
		errs = multierr.Append(errs, errors.Wrap(err, "save breaker"))
	}

	_, _, err := b.forceClose(ctx, &cb)
	errs = multierr.Append(errs, err)

	if err := b.accounts.SetActive(ctx, acc.ID, false); err != nil {
		b.log(&cb, "account deactivation failed: %v", err)
		errs = multierr.Append(errs, errors.Wrap(err, "deactivate account"))
	} else {
		b.log(&cb, "account %s deactivated", acc.ID)
	}

	cb.CooldownUntil = now.Add(b.policy.Cooldown)
	b.log(&cb, "cooldown until %s", cb.CooldownUntil.Format(time.RFC3339))

	if err := b.breakers.Save(ctx, cb); err != nil {
		logger.Error("[BREAKER] %s final save failed: %v", acc.ID, err)
		errs = multierr.Append(errs, errors.Wrap(err, "save breaker"))
	}

	metrics.BreakerTrips.WithLabelValues(string(limit.LimitType)).Inc()
	if b.notifier != nil {
		actions := make([]string, 0, len(cb.ActionsLog))
		for _, a := range cb.ActionsLog {
			actions = append(actions, a.Message)
		}
		if ok, detail := b.notifier.Notify(notify.RiskAlert{
			AccountID:     acc.ID,
			Event:         notify.RiskBreakerTripped,
			LimitType:     limit.LimitType,
			Current:       limit.CurrentValue,
			Limit:         limit.LimitValue,
			CooldownUntil: cb.CooldownUntil,
			Actions:       actions,
		}); !ok {
			logger.Error("[BREAKER] %s alert not queued: %s", acc.ID, detail)
		}
	}
	return cb, errs
}

// Retry repeats the steps Trip could not finish for an active breaker: the
// force close of a position that is still open and the deactivation of an
// account that is still active. closed reports that a position was closed.
func (b *Breaker) Retry(ctx context.Context, acc models.Account, cb models.CircuitBreaker) (models.CircuitBreaker, models.Position, bool, error) {
	b.log(&cb, "force close retry")
	p, closed, err := b.forceClose(ctx, &cb)
	if acc.IsActive {
		if aerr := b.accounts.SetActive(ctx, acc.ID, false); aerr != nil {
			b.log(&cb, "account deactivation failed: %v", aerr)
			err = multierr.Append(err, errors.Wrap(aerr, "deactivate account"))
		} else {
			b.log(&cb, "account %s deactivated", acc.ID)
		}
	}
	if serr := b.breakers.Save(ctx, cb); serr != nil {
		logger.Error("[BREAKER] %s save after retry failed: %v", cb.AccountID, serr)
		err = multierr.Append(err, errors.Wrap(serr, "save breaker"))
	}
	return cb, p, closed, err
}

// forceClose closes the active position at the best known price. The close
// is recorded even when the broker order fails. Once an order has filled
// its price is kept on cb and later attempts only store the close.
func (b *Breaker) forceClose(ctx context.Context, cb *models.CircuitBreaker) (models.Position, bool, error) {
	p, found, err := b.lifecycle.Active(ctx, cb.AccountID)
	if err != nil {
		b.log(cb, "active position lookup failed: %v", err)
		return models.Position{}, false, errors.Wrap(err, "active position")
	}
	if !found {
		b.log(cb, "no active position to close")
		return models.Position{}, false, nil
	}

	price := p.MarkPrice()
	switch {
	case cb.ClosePrice.IsPositive():
		price = cb.ClosePrice
		b.log(cb, "close order already filled at %s", price)
	case b.orders != nil:
		fill, err := b.orders.PlaceOrder(ctx, broker.OrderSpec{
			AccountID:  p.AccountID,
			Instrument: p.Instrument,
			Side:       broker.ExitSide(p.Direction),
			Quantity:   p.Quantity,
			LotSize:    p.LotSize,
			Price:      price,
			Reason:     string(models.ExitCircuitBreaker),
		})
		if err != nil {
			b.log(cb, "close order for %s failed, closing at last known %s: %v", p.Instrument, price, err)
		} else {
			if fill.FilledPrice.IsPositive() {
				price = fill.FilledPrice
			}
			cb.ClosePrice = price
			b.log(cb, "close order %s filled at %s", fill.OrderID, price)
		}
	}

	closed, err := b.lifecycle.Close(ctx, p, price, models.ExitCircuitBreaker)
	if err != nil {
		b.log(cb, "closing position %s failed: %v", p.ID, err)
		return p, false, errors.Wrap(err, "close position")
	}
	if closed.ExitReason == models.ExitCircuitBreaker {
		cb.PositionsClosed++
		metrics.Exits.WithLabelValues(string(models.ExitCircuitBreaker)).Inc()
	}
	b.log(cb, "position %s %s closed at %s (%s), realized %s",
		closed.ID, closed.Instrument, closed.ExitPrice, closed.ExitReason, closed.RealizedPnL.StringFixed(2))
	return closed, true, nil
}

// Reset clears an active breaker once its cooldown has passed. It does not
// reactivate the account; that is a separate explicit action.
func (b *Breaker) Reset(ctx context.Context, accountID, by string) (models.CircuitBreaker, error) {
	if by == "" {
		return models.CircuitBreaker{}, &models.InvalidInputError{Field: "reset_by", Reason: "is required"}
	}
	cb, active, err := b.Active(ctx, accountID)
	if err != nil {
		return models.CircuitBreaker{}, errors.Wrapf(err, "breaker.Reset %s", accountID)
	}
	if !active {
		return models.CircuitBreaker{}, errors.Wrapf(models.ErrNotFound, "no active breaker for %s", accountID)
	}

	now := b.now()
	if now.Before(cb.CooldownUntil) {
		return cb, errors.Wrapf(models.ErrCooldownActive, "%s left", cb.CooldownUntil.Sub(now).Round(time.Minute))
	}

	cb.IsActive = false
	cb.ResetAt = &now
	cb.ResetBy = by
	b.log(&cb, "reset by %s", by)
	if err := b.breakers.Save(ctx, cb); err != nil {
		return cb, errors.Wrap(err, "save breaker")
	}

	if b.notifier != nil {
		b.notifier.Notify(notify.RiskAlert{
			AccountID: accountID,
			Event:     notify.RiskBreakerReset,
			LimitType: cb.TriggerType,
			Current:   cb.TriggerValue,
			Limit:     cb.ThresholdValue,
			Actions:   []string{"reset by " + by},
		})
	}
	return cb, nil
}

func (b *Breaker) log(cb *models.CircuitBreaker, format string, args ...any) {
	cb.Log(b.now(), format, args...)
	logger.Warn("[BREAKER] %s: "+format, append([]any{cb.AccountID}, args...)...)
}

// Remaining is the cooldown left on cb at now.
func Remaining(cb models.CircuitBreaker, now time.Time) time.Duration {
	if !cb.IsActive || !now.Before(cb.CooldownUntil) {
		return 0
	}
	return cb.CooldownUntil.Sub(now)
}
