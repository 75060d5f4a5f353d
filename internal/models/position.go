package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionLong    Direction = "LONG"
	DirectionShort   Direction = "SHORT"
	DirectionNeutral Direction = "NEUTRAL" // two-leg market-neutral structure
)

// IsDirectional: LONG/SHORT, the only directions that may be averaged.
func (d Direction) IsDirectional() bool {
	return d == DirectionLong || d == DirectionShort
}

func (d Direction) Valid() bool {
	return d.IsDirectional() || d == DirectionNeutral
}

type PositionStatus string

const (
	PositionActive PositionStatus = "ACTIVE"
	PositionClosed PositionStatus = "CLOSED"
)

type InstrumentClass string

const (
	ClassOptions InstrumentClass = "OPTIONS"
	ClassFutures InstrumentClass = "FUTURES"
)

type ExitReason string

const (
	ExitNone           ExitReason = ""
	ExitStopLoss       ExitReason = "STOP_LOSS"
	ExitTarget         ExitReason = "TARGET"
	ExitEODProfit      ExitReason = "EOD_PROFIT"
	ExitExpiry         ExitReason = "EXPIRY"
	ExitCircuitBreaker ExitReason = "CIRCUIT_BREAKER"
	ExitManual         ExitReason = "MANUAL"

	// HoldOvernight is a decision, not an exit: the position stays open.
	HoldOvernight ExitReason = "HOLD_OVERNIGHT"
)

// Position: the single position an account may hold. Quantity is in lots,
// one lot is LotSize units; prices are per unit.
type Position struct {
	ID         string          `json:"id"`
	AccountID  string          `json:"account_id"`
	Instrument string          `json:"instrument"`
	Class      InstrumentClass `json:"class"`
	Direction  Direction       `json:"direction"`
	Status     PositionStatus  `json:"status"`

	Quantity int64 `json:"quantity"`
	LotSize  int64 `json:"lot_size"`

	EntryPrice   decimal.Decimal `json:"entry_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	StopLoss     decimal.Decimal `json:"stop_loss"`
	Target       decimal.Decimal `json:"target"`
	ExitPrice    decimal.Decimal `json:"exit_price"`

	MarginUsed decimal.Decimal `json:"margin_used"`
	EntryValue decimal.Decimal `json:"entry_value"`

	Expiry         time.Time `json:"expiry"`
	AveragingCount int       `json:"averaging_count"`

	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	ExitReason    ExitReason      `json:"exit_reason"`

	// NEUTRAL only: leg A is the call side, leg B the put side.
	LegAStrike       decimal.Decimal `json:"leg_a_strike"`
	LegBStrike       decimal.Decimal `json:"leg_b_strike"`
	PremiumCollected decimal.Decimal `json:"premium_collected"`
	NetDelta         decimal.Decimal `json:"net_delta"`

	// mandatory exits that could not be confirmed by the broker
	ExitAttempts      int       `json:"exit_attempts"`
	LastExitAttemptAt time.Time `json:"last_exit_attempt_at"`

	OpenedAt  time.Time `json:"opened_at"`
	ClosedAt  time.Time `json:"closed_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p Position) IsActive() bool { return p.Status == PositionActive }

// Units = Quantity * LotSize.
func (p Position) Units() decimal.Decimal {
	return decimal.NewFromInt(p.Quantity).Mul(decimal.NewFromInt(p.LotSize))
}

// MarkPrice: best known price: current if we have one, entry otherwise.
func (p Position) MarkPrice() decimal.Decimal {
	if p.CurrentPrice.IsPositive() {
		return p.CurrentPrice
	}
	return p.EntryPrice
}
