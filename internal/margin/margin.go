// Package margin is the admission controller: it decides how much capital an
// account may newly commit while keeping the reserve untouched.
package margin

import (
	"context"
	"fmt"

	"risk_desk/internal/models"
	"risk_desk/internal/store"
	"risk_desk/pkg/logger"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Policy struct {
	// ReserveRatio of available capital that first entries may never touch.
	ReserveRatio decimal.Decimal
	// AveragingBudgets[i] is the share of available capital for averaging attempt i+1.
	AveragingBudgets []decimal.Decimal
	MaxAttempts      int
}

func DefaultPolicy() Policy {
	return Policy{
		ReserveRatio:     decimal.RequireFromString("0.5"),
		AveragingBudgets: []decimal.Decimal{decimal.RequireFromString("0.20"), decimal.RequireFromString("0.50")},
		MaxAttempts:      3,
	}
}

// Sizing is the largest entry the usable margin allows.
type Sizing struct {
	MaxLots         int64           `json:"max_lots"`
	MaxQty          int64           `json:"max_qty"` // units
	MarginRequired  decimal.Decimal `json:"margin_required"`
	ValueAtSize     decimal.Decimal `json:"value_at_size"`
	RemainingMargin decimal.Decimal `json:"remaining_margin"`
}

type Manager struct {
	positions store.Positions
	policy    Policy
}

func NewManager(positions store.Positions, policy Policy) *Manager {
	return &Manager{positions: positions, policy: policy}
}

func (m *Manager) Policy() Policy { return m.policy }

func (m *Manager) UsableMargin(ctx context.Context, acc models.Account) (Snapshot, error) {
	var active []models.Position
	p, found, err := m.positions.Active(ctx, acc.ID)
	if err != nil {
		return Snapshot{}, errors.Wrapf(err, "margin: active position of %s", acc.ID)
	}
	if found {
		active = append(active, p)
	}
	return Compute(acc, active, m.policy.ReserveRatio), nil
}

// CheckAvailability is a pure check: ok = required <= usable.
func (m *Manager) CheckAvailability(ctx context.Context, acc models.Account, required decimal.Decimal) (bool, string, error) {
	snap, err := m.UsableMargin(ctx, acc)
	if err != nil {
		return false, "", err
	}

	util := snap.UtilizationPct(required)
	ok := required.LessThanOrEqual(snap.Usable)
	logger.Info("[MARGIN] %s required=%s usable=%s utilisation=%s%% ok=%v",
		acc.ID, required.StringFixed(2), snap.Usable.StringFixed(2), util.StringFixed(1), ok)

	if !ok {
		return false, fmt.Sprintf("required %s exceeds usable %s (%s%% of usable)",
			required.StringFixed(2), snap.Usable.StringFixed(2), util.StringFixed(1)), nil
	}
	return true, fmt.Sprintf("utilisation %s%% of usable %s", util.StringFixed(1), snap.Usable.StringFixed(2)), nil
}

// SizeForLots: maxLots = floor(usable / marginPerLot). A non-positive
// marginPerLot yields zero lots together with an InvalidInputError; no room
// is zero lots and a nil error.
func (m *Manager) SizeForLots(
	ctx context.Context,
	acc models.Account,
	pricePerUnit decimal.Decimal,
	lotSize int64,
	marginPerLot decimal.Decimal,
) (Sizing, error) {
	snap, err := m.UsableMargin(ctx, acc)
	if err != nil {
		return Sizing{}, err
	}
	if !marginPerLot.IsPositive() {
		return Sizing{RemainingMargin: snap.Usable}, &models.InvalidInputError{Field: "margin_per_lot", Reason: "must be positive"}
	}
	if lotSize <= 0 {
		return Sizing{RemainingMargin: snap.Usable}, &models.InvalidInputError{Field: "lot_size", Reason: "must be positive"}
	}

	lots := snap.Usable.Div(marginPerLot).Floor().IntPart()
	if lots < 0 {
		lots = 0
	}
	qty := lots * lotSize
	required := marginPerLot.Mul(decimal.NewFromInt(lots))

	return Sizing{
		MaxLots:         lots,
		MaxQty:          qty,
		MarginRequired:  required,
		ValueAtSize:     pricePerUnit.Mul(decimal.NewFromInt(qty)),
		RemainingMargin: snap.Usable.Sub(required),
	}, nil
}

// AveragingBudget: margin allowed for averaging attempt n (1-based).
func (m *Manager) AveragingBudget(ctx context.Context, acc models.Account, attempt int) (decimal.Decimal, error) {
	if attempt < 1 {
		return decimal.Zero, &models.InvalidInputError{Field: "attempt", Reason: "must be >= 1"}
	}
	if attempt >= m.policy.MaxAttempts || attempt > len(m.policy.AveragingBudgets) {
		return decimal.Zero, &models.MaxAttemptsExceededError{Attempt: attempt, Max: m.policy.MaxAttempts}
	}

	snap, err := m.UsableMargin(ctx, acc)
	if err != nil {
		return decimal.Zero, err
	}
	return snap.Available.Mul(m.policy.AveragingBudgets[attempt-1]), nil
}
