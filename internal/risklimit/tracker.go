// Package risklimit keeps the running daily and weekly loss of each account
// against its limits.
package risklimit

import (
	"context"
	"time"

	"risk_desk/internal/calendar"
	"risk_desk/internal/metrics"
	"risk_desk/internal/models"
	"risk_desk/internal/position"
	"risk_desk/internal/store"
	"risk_desk/pkg/logger"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Policy struct {
	WarningThresholdPct decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{WarningThresholdPct: decimal.NewFromInt(80)}
}

// Evaluation is the result of one tick for one account.
type Evaluation struct {
	Limits   []models.RiskLimit
	Breached []models.RiskLimit
	Warnings []models.RiskLimit // crossed the warning threshold on this tick
}

func (e Evaluation) IsBreached() bool { return len(e.Breached) > 0 }

type Tracker struct {
	limits    store.RiskLimits
	positions store.Positions
	cal       *calendar.Calendar
	policy    Policy
	now       func() time.Time
}

func NewTracker(limits store.RiskLimits, positions store.Positions, cal *calendar.Calendar, policy Policy, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{limits: limits, positions: positions, cal: cal, policy: policy, now: now}
}

// Tick recomputes every limit of acc from realized and unrealized loss in
// the limit's period, resetting limits whose period has rolled over.
func (t *Tracker) Tick(ctx context.Context, acc models.Account) (ev Evaluation, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrapf(err, "risklimit.Tick %s", acc.ID)
		}
	}()

	existing, err := t.limits.ListByAccount(ctx, acc.ID)
	if err != nil {
		return Evaluation{}, err
	}
	byType := make(map[models.LimitType]models.RiskLimit, len(existing))
	for _, l := range existing {
		byType[l.LimitType] = l
	}

	active, hasActive, err := t.positions.Active(ctx, acc.ID)
	if err != nil {
		return Evaluation{}, err
	}
	unrealized := decimal.Zero
	if hasActive {
		unrealized = position.PnL(active, active.MarkPrice())
	}

	now := t.now()
	for _, spec := range []struct {
		typ   models.LimitType
		value decimal.Decimal
		start time.Time
	}{
		{models.LimitDailyLoss, acc.MaxDailyLoss, t.cal.Date(now)},
		{models.LimitWeeklyLoss, acc.MaxWeeklyLoss, t.cal.WeekStart(now)},
	} {
		l, ok := byType[spec.typ]
		if !ok || !l.PeriodStart.Equal(spec.start) {
			l = t.reset(l, acc.ID, spec.typ, spec.start, now)
		}
		l.LimitValue = spec.value

		realized, err := t.realizedSince(ctx, acc.ID, spec.start)
		if err != nil {
			return Evaluation{}, err
		}
		l.CurrentValue = lossOf(realized.Add(unrealized))

		// a non-positive limit means the limit is not configured
		if l.LimitValue.IsPositive() && l.CurrentValue.GreaterThanOrEqual(l.LimitValue) {
			if !l.IsBreached {
				logger.Warn("[RISK] %s %s breached: loss %s >= limit %s",
					acc.ID, l.LimitType, l.CurrentValue.StringFixed(2), l.LimitValue.StringFixed(2))
			}
			l.IsBreached = true
		}
		if !l.WarningSent && l.LimitValue.IsPositive() && l.UtilizationPct().GreaterThanOrEqual(l.WarningThresholdPct) {
			l.WarningSent = true
			ev.Warnings = append(ev.Warnings, l)
		}
		l.UpdatedAt = now

		if err := t.limits.Upsert(ctx, l); err != nil {
			return Evaluation{}, err
		}
		metrics.LimitUtilisation.WithLabelValues(acc.ID, string(l.LimitType)).Set(l.UtilizationPct().InexactFloat64())

		ev.Limits = append(ev.Limits, l)
		if l.IsBreached {
			ev.Breached = append(ev.Breached, l)
		}
	}
	return ev, nil
}

func (t *Tracker) reset(prev models.RiskLimit, accountID string, typ models.LimitType, start, now time.Time) models.RiskLimit {
	id, created := prev.ID, prev.CreatedAt
	if id == "" {
		id, created = uuid.NewString(), now
	}
	return models.RiskLimit{
		ID:                  id,
		AccountID:           accountID,
		LimitType:           typ,
		PeriodStart:         start,
		CurrentValue:        decimal.Zero,
		WarningThresholdPct: t.policy.WarningThresholdPct,
		CreatedAt:           created,
	}
}

func (t *Tracker) realizedSince(ctx context.Context, accountID string, since time.Time) (decimal.Decimal, error) {
	closed, err := t.positions.ClosedSince(ctx, accountID, since)
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, p := range closed {
		sum = sum.Add(p.RealizedPnL)
	}
	return sum, nil
}

// lossOf turns net P&L into a non-negative loss figure.
func lossOf(pnl decimal.Decimal) decimal.Decimal {
	if pnl.IsNegative() {
		return pnl.Neg()
	}
	return decimal.Zero
}
