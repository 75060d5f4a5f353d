package paper

import (
	"context"
	"strings"
	"testing"

	"risk_desk/internal/broker"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceOrder_FillsAtFeedPrice(t *testing.T) {
	feed := broker.NewStatic(map[string]decimal.Decimal{"NIFTY": decimal.NewFromInt(101)}, decimal.Zero)
	ex := New(feed)

	fill, err := ex.PlaceOrder(context.Background(), broker.OrderSpec{
		AccountID: "acc-1", Instrument: "NIFTY", Side: broker.Buy, Quantity: 2, LotSize: 50,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fill.OrderID, "paper-"))
	assert.True(t, fill.FilledPrice.Equal(decimal.NewFromInt(101)))
	assert.Len(t, ex.Fills(), 1)
}

func TestPlaceOrder_UnknownInstrument(t *testing.T) {
	ex := New(broker.NewStatic(nil, decimal.Zero))

	_, err := ex.PlaceOrder(context.Background(), broker.OrderSpec{Instrument: "X", Quantity: 1})
	assert.ErrorIs(t, err, broker.ErrNoQuote)
}
