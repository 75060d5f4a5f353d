// Package position owns the state machine of the one position an account
// may hold: NONE -> ACTIVE -> CLOSED.
package position

import (
	"context"
	"time"

	"risk_desk/internal/models"
	"risk_desk/internal/store"
	"risk_desk/pkg/logger"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Spec describes a position to open.
type Spec struct {
	Instrument string
	Class      models.InstrumentClass
	Direction  models.Direction
	Quantity   int64 // lots
	LotSize    int64
	EntryPrice decimal.Decimal
	StopLoss   decimal.Decimal
	Target     decimal.Decimal
	MarginUsed decimal.Decimal
	Expiry     time.Time

	LegAStrike       decimal.Decimal
	LegBStrike       decimal.Decimal
	PremiumCollected decimal.Decimal
}

func (s Spec) Validate() error {
	switch {
	case s.Instrument == "":
		return &models.InvalidInputError{Field: "instrument", Reason: "is required"}
	case !s.Direction.Valid():
		return &models.InvalidInputError{Field: "direction", Reason: "must be LONG, SHORT or NEUTRAL"}
	case s.Quantity <= 0:
		return &models.InvalidInputError{Field: "quantity", Reason: "must be positive"}
	case s.LotSize <= 0:
		return &models.InvalidInputError{Field: "lot_size", Reason: "must be positive"}
	case !s.EntryPrice.IsPositive():
		return &models.InvalidInputError{Field: "entry_price", Reason: "must be positive"}
	case s.MarginUsed.IsNegative():
		return &models.InvalidInputError{Field: "margin_used", Reason: "must be non-negative"}
	case s.Direction == models.DirectionNeutral && !s.PremiumCollected.IsPositive():
		return &models.InvalidInputError{Field: "premium_collected", Reason: "must be positive for NEUTRAL"}
	}
	return nil
}

type Lifecycle struct {
	positions store.Positions
	now       func() time.Time
}

func NewLifecycle(positions store.Positions, now func() time.Time) *Lifecycle {
	if now == nil {
		now = time.Now
	}
	return &Lifecycle{positions: positions, now: now}
}

func (l *Lifecycle) HasActivePosition(ctx context.Context, accountID string) (bool, error) {
	_, found, err := l.positions.Active(ctx, accountID)
	return found, err
}

func (l *Lifecycle) Active(ctx context.Context, accountID string) (models.Position, bool, error) {
	return l.positions.Active(ctx, accountID)
}

// Open persists a new ACTIVE position. The existence re-check here is what
// callers hold the account lock around; the store re-checks on insert too.
func (l *Lifecycle) Open(ctx context.Context, accountID string, spec Spec) (models.Position, error) {
	if err := spec.Validate(); err != nil {
		return models.Position{}, err
	}

	existing, found, err := l.positions.Active(ctx, accountID)
	if err != nil {
		return models.Position{}, errors.Wrap(err, "position.Open: active lookup")
	}
	if found {
		return models.Position{}, &models.DuplicatePositionError{AccountID: accountID, PositionID: existing.ID}
	}

	now := l.now()
	p := models.Position{
		ID:               uuid.NewString(),
		AccountID:        accountID,
		Instrument:       spec.Instrument,
		Class:            spec.Class,
		Direction:        spec.Direction,
		Status:           models.PositionActive,
		Quantity:         spec.Quantity,
		LotSize:          spec.LotSize,
		EntryPrice:       spec.EntryPrice,
		CurrentPrice:     spec.EntryPrice,
		StopLoss:         spec.StopLoss,
		Target:           spec.Target,
		MarginUsed:       spec.MarginUsed,
		Expiry:           spec.Expiry,
		LegAStrike:       spec.LegAStrike,
		LegBStrike:       spec.LegBStrike,
		PremiumCollected: spec.PremiumCollected,
		OpenedAt:         now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	p.EntryValue = decimal.NewFromInt(p.Quantity).Mul(decimal.NewFromInt(p.LotSize)).Mul(p.EntryPrice)
	p.UnrealizedPnL = PnL(p, p.CurrentPrice)

	if err := l.positions.Insert(ctx, p); err != nil {
		return models.Position{}, err
	}

	logger.Info("[POSITION] opened %s %s %s qty=%d lot=%d entry=%s margin=%s",
		accountID, p.Instrument, p.Direction, p.Quantity, p.LotSize, p.EntryPrice.String(), p.MarginUsed.StringFixed(2))
	return p, nil
}

// UpdatePrice marks p at price and recomputes unrealized P&L.
func (l *Lifecycle) UpdatePrice(ctx context.Context, p models.Position, price decimal.Decimal) (models.Position, error) {
	if !p.IsActive() {
		return p, models.ErrPositionClosed
	}
	if !price.IsPositive() {
		return p, &models.InvalidInputError{Field: "price", Reason: "must be positive"}
	}

	next := p
	next.CurrentPrice = price
	next.UnrealizedPnL = PnL(next, price)
	next.UpdatedAt = l.now()
	if err := l.positions.Update(ctx, next); err != nil {
		return p, err
	}
	return next, nil
}

// Close moves p to CLOSED at exitPrice. Closing an already closed position
// is a no-op returning the stored result, so racing exit triggers never
// double count.
func (l *Lifecycle) Close(ctx context.Context, p models.Position, exitPrice decimal.Decimal, reason models.ExitReason) (models.Position, error) {
	// work from the stored row: averaging may have changed size and entry
	cur, found, err := l.positions.Get(ctx, p.ID)
	if err != nil {
		return p, errors.Wrapf(err, "position.Close %s", p.ID)
	}
	if !found {
		return p, models.ErrNotFound
	}
	if !cur.IsActive() {
		return cur, nil
	}
	if !exitPrice.IsPositive() {
		exitPrice = cur.MarkPrice()
	}

	closed, applied, err := l.positions.Close(ctx, store.CloseRequest{
		ID:          cur.ID,
		ExitPrice:   exitPrice,
		RealizedPnL: PnL(cur, exitPrice),
		Reason:      reason,
		At:          l.now(),
	})
	if err != nil {
		return p, errors.Wrapf(err, "position.Close %s", p.ID)
	}

	if applied {
		logger.Info("[POSITION] closed %s %s reason=%s exit=%s pnl=%s",
			closed.AccountID, closed.Instrument, reason, exitPrice.String(), closed.RealizedPnL.StringFixed(2))
	} else {
		logger.Debug("[POSITION] close of %s ignored, already %s (%s)", p.ID, closed.Status, closed.ExitReason)
	}
	return closed, nil
}
