// Package broker declares the market-data and order collaborators.
package broker

import (
	"context"

	"risk_desk/internal/models"

	"github.com/shopspring/decimal"
)

type MarketData interface {
	GetPrice(ctx context.Context, instrument string) (decimal.Decimal, error)
	GetImpliedVolatility(ctx context.Context) (decimal.Decimal, error)
}

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

type OrderSpec struct {
	AccountID  string
	Instrument string
	Side       Side
	Quantity   int64 // lots
	LotSize    int64
	Price      decimal.Decimal // reference price, market orders may fill elsewhere
	Reason     string
}

type Fill struct {
	OrderID     string
	FilledPrice decimal.Decimal
}

type OrderExecutor interface {
	PlaceOrder(ctx context.Context, spec OrderSpec) (Fill, error)
}

// EntrySide is the order side that opens a position of dir.
func EntrySide(dir models.Direction) Side {
	if dir == models.DirectionLong {
		return Buy
	}
	return Sell
}

// ExitSide is the order side that closes a position of dir.
func ExitSide(dir models.Direction) Side {
	if EntrySide(dir) == Buy {
		return Sell
	}
	return Buy
}
