package runner

import (
	"context"
	"sync"
	"time"

	"risk_desk/internal/broker"
	"risk_desk/internal/margin"
	"risk_desk/internal/metrics"
	"risk_desk/internal/models"
	"risk_desk/internal/notify"
	"risk_desk/pkg/logger"
	"risk_desk/pkg/tracing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

// Tick runs Monitor for every account that is active or still holds a
// position, at most Parallel accounts at a time. Accounts share nothing,
// so one failing account does not stop the others. Inactive flat accounts
// are only reported when their breaker is active.
func (c *Controller) Tick(ctx context.Context) ([]MonitorResult, error) {
	span, ctx := tracing.StartSpan(ctx, "runner.Tick", nil)
	defer span.Finish()

	accounts, err := c.Store.Accounts.List(ctx)
	if err != nil {
		tracing.Fail(span, err)
		return nil, errors.Wrap(err, "runner.Tick: list accounts")
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []MonitorResult
		errs    error
		sem     = make(chan struct{}, c.policy.Parallel)
	)
	for _, acc := range accounts {
		if !acc.IsActive {
			has, err := c.Lifecycle.HasActivePosition(ctx, acc.ID)
			if err != nil {
				mu.Lock()
				errs = multierr.Append(errs, errors.Wrapf(err, "account %s", acc.ID))
				mu.Unlock()
				continue
			}
			if !has {
				// nothing to guard; report a tripped breaker without ticking
				if cb, active, err := c.Breaker.Active(ctx, acc.ID); err == nil && active {
					mu.Lock()
					results = append(results, MonitorResult{AccountID: acc.ID, Breaker: &cb})
					mu.Unlock()
				}
				continue
			}
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return results, multierr.Append(errs, ctx.Err())
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := c.Monitor(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			results = append(results, res)
			if err != nil {
				logger.Error("[TICK] %s: %v", id, err)
				errs = multierr.Append(errs, errors.Wrapf(err, "account %s", id))
			}
		}(acc.ID)
	}
	wg.Wait()
	tracing.Fail(span, errs)
	return results, errs
}

// DailySummary sends one summary per account for the current trading day.
func (c *Controller) DailySummary(ctx context.Context) ([]notify.SummaryAlert, error) {
	accounts, err := c.Store.Accounts.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "runner.DailySummary: list accounts")
	}

	now := c.Now()
	day := c.Calendar.Date(now)
	out := make([]notify.SummaryAlert, 0, len(accounts))
	var errs error
	for _, acc := range accounts {
		s, err := c.summary(ctx, acc, day)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "summary %s", acc.ID))
			continue
		}
		out = append(out, s)
		c.notify(s)
	}
	return out, errs
}

func (c *Controller) summary(ctx context.Context, acc models.Account, day time.Time) (notify.SummaryAlert, error) {
	unlock := c.lock(acc.ID)
	defer unlock()

	s := notify.SummaryAlert{AccountID: acc.ID, Date: day, IsActive: acc.IsActive}

	closed, err := c.Store.Positions.ClosedSince(ctx, acc.ID, day)
	if err != nil {
		return s, err
	}
	s.RealizedPnL = decimal.Zero
	for _, p := range closed {
		s.RealizedPnL = s.RealizedPnL.Add(p.RealizedPnL)
	}
	s.TradesClosed = len(closed)

	p, found, err := c.Lifecycle.Active(ctx, acc.ID)
	if err != nil {
		return s, err
	}
	if found {
		s.ActivePosition = p.Instrument
		s.UnrealizedPnL = p.UnrealizedPnL
	}

	snap, err := c.Margin.UsableMargin(ctx, acc)
	if err != nil {
		return s, err
	}
	s.Usable = snap.Usable

	limits, err := c.Store.RiskLimits.ListByAccount(ctx, acc.ID)
	if err != nil {
		return s, err
	}
	for _, l := range limits {
		if l.LimitType == models.LimitDailyLoss {
			s.DailyUsedPct = l.UtilizationPct()
		}
	}

	_, s.BreakerActive, err = c.Breaker.Active(ctx, acc.ID)
	return s, err
}

// AccountStatus is a read-only view of one account.
type AccountStatus struct {
	Account  models.Account         `json:"account"`
	Margin   margin.Snapshot        `json:"margin"`
	Position *models.Position       `json:"position,omitempty"`
	Limits   []models.RiskLimit     `json:"limits"`
	Breaker  *models.CircuitBreaker `json:"breaker,omitempty"`
}

func (c *Controller) Status(ctx context.Context, accountID string) (AccountStatus, error) {
	unlock := c.lock(accountID)
	defer unlock()

	acc, err := c.account(ctx, accountID)
	if err != nil {
		return AccountStatus{}, err
	}
	st := AccountStatus{Account: acc}
	if st.Margin, err = c.Margin.UsableMargin(ctx, acc); err != nil {
		return st, err
	}
	if p, found, err := c.Lifecycle.Active(ctx, accountID); err != nil {
		return st, err
	} else if found {
		st.Position = &p
	}
	if st.Limits, err = c.Store.RiskLimits.ListByAccount(ctx, accountID); err != nil {
		return st, err
	}
	if cb, found, err := c.Store.Breakers.Latest(ctx, accountID); err != nil {
		return st, err
	} else if found {
		st.Breaker = &cb
	}
	return st, nil
}

// ResetBreaker clears the account's active breaker once its cooldown has
// elapsed. The account stays inactive until Reactivate.
func (c *Controller) ResetBreaker(ctx context.Context, accountID, by string) (models.CircuitBreaker, error) {
	unlock := c.lock(accountID)
	defer unlock()
	return c.Breaker.Reset(ctx, accountID, by)
}

// Reactivate re-enables new entries on accountID. It is refused while a
// breaker is active or a loss limit is breached in its current period.
func (c *Controller) Reactivate(ctx context.Context, accountID string) error {
	unlock := c.lock(accountID)
	defer unlock()

	acc, err := c.account(ctx, accountID)
	if err != nil {
		return err
	}
	if _, active, err := c.Breaker.Active(ctx, accountID); err != nil {
		return err
	} else if active {
		return models.ErrBreakerActive
	}
	ev, err := c.Tracker.Tick(ctx, acc)
	if err != nil {
		return err
	}
	if ev.IsBreached() {
		return errors.Wrapf(models.ErrLimitBreached, "%s", ev.Breached[0].LimitType)
	}
	if err := c.Store.Accounts.SetActive(ctx, accountID, true); err != nil {
		return errors.Wrapf(err, "reactivate %s", accountID)
	}
	logger.Info("[ACCOUNT] %s reactivated", accountID)
	return nil
}

// Deactivate blocks new entries on accountID; an open position is still
// monitored and exited.
func (c *Controller) Deactivate(ctx context.Context, accountID string) error {
	unlock := c.lock(accountID)
	defer unlock()
	if err := c.Store.Accounts.SetActive(ctx, accountID, false); err != nil {
		return errors.Wrapf(err, "deactivate %s", accountID)
	}
	logger.Info("[ACCOUNT] %s deactivated", accountID)
	return nil
}

// Accounts lists every configured account.
func (c *Controller) Accounts(ctx context.Context) ([]models.Account, error) {
	return c.Store.Accounts.List(ctx)
}

// ClosePosition closes the account's active position on an operator's
// request. The position is closed only after the exit order fills.
func (c *Controller) ClosePosition(ctx context.Context, accountID, by string) (models.Position, error) {
	if by == "" {
		return models.Position{}, &models.InvalidInputError{Field: "closed_by", Reason: "is required"}
	}
	unlock := c.lock(accountID)
	defer unlock()

	p, found, err := c.Lifecycle.Active(ctx, accountID)
	if err != nil {
		return models.Position{}, err
	}
	if !found {
		return models.Position{}, errors.Wrapf(models.ErrNotFound, "no active position for %s", accountID)
	}
	p = c.refresh(ctx, p)

	price := p.MarkPrice()
	fill, err := c.Orders.PlaceOrder(ctx, broker.OrderSpec{
		AccountID:  p.AccountID,
		Instrument: p.Instrument,
		Side:       broker.ExitSide(p.Direction),
		Quantity:   p.Quantity,
		LotSize:    p.LotSize,
		Price:      price,
		Reason:     string(models.ExitManual),
	})
	if err != nil {
		logger.Warn("[EXIT] %s %s: manual close by %s not filled: %v", accountID, p.Instrument, by, err)
		return p, &models.ExternalDependencyError{Dependency: "orders", Err: err}
	}
	if fill.FilledPrice.IsPositive() {
		price = fill.FilledPrice
	}

	closed, err := c.Lifecycle.Close(ctx, p, price, models.ExitManual)
	if err != nil {
		return p, errors.Wrapf(err, "order %s filled, close not stored", fill.OrderID)
	}
	metrics.Exits.WithLabelValues(string(models.ExitManual)).Inc()
	logger.Info("[EXIT] %s %s closed manually by %s at %s", accountID, closed.Instrument, by, closed.ExitPrice)
	c.notify(notify.PositionAlert{
		AccountID:  accountID,
		Event:      notify.PositionClosed,
		Instrument: closed.Instrument,
		Direction:  closed.Direction,
		Quantity:   closed.Quantity,
		Price:      closed.ExitPrice,
		PnL:        closed.RealizedPnL,
		Reason:     closed.ExitReason,
		Note:       "closed by " + by,
	})
	return closed, nil
}
