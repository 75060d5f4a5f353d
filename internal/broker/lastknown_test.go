package broker

import (
	"context"
	"errors"
	"testing"

	"risk_desk/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastKnown_FallsBackToCache(t *testing.T) {
	feed := NewStatic(map[string]decimal.Decimal{"NIFTY": decimal.NewFromInt(100)}, decimal.NewFromInt(14))
	lk := NewLastKnown(feed, nil)
	ctx := context.Background()

	q, err := lk.Quote(ctx, "NIFTY")
	require.NoError(t, err)
	assert.False(t, q.Stale)

	feed.Fail(errors.New("socket closed"))
	q, err = lk.Quote(ctx, "NIFTY")
	require.NoError(t, err)
	assert.True(t, q.Stale)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(100)))

	v, err := lk.GetImpliedVolatility(ctx)
	require.Error(t, err, "volatility was never cached")
	assert.True(t, v.IsZero())
}

func TestLastKnown_ZeroIsNeverReturned(t *testing.T) {
	feed := NewStatic(map[string]decimal.Decimal{"NIFTY": decimal.NewFromInt(100)}, decimal.Zero)
	lk := NewLastKnown(feed, nil)
	ctx := context.Background()

	_, err := lk.GetPrice(ctx, "NIFTY")
	require.NoError(t, err)

	feed.Set("NIFTY", decimal.Zero)
	px, err := lk.GetPrice(ctx, "NIFTY")
	require.NoError(t, err)
	assert.True(t, px.Equal(decimal.NewFromInt(100)))
}

func TestLastKnown_NoCacheIsExternalError(t *testing.T) {
	lk := NewLastKnown(NewStatic(nil, decimal.Zero), nil)

	_, err := lk.GetPrice(context.Background(), "BANKNIFTY")
	var ext *models.ExternalDependencyError
	require.ErrorAs(t, err, &ext)
	assert.ErrorIs(t, err, ErrNoQuote)
}

func TestSides(t *testing.T) {
	assert.Equal(t, Buy, EntrySide(models.DirectionLong))
	assert.Equal(t, Sell, EntrySide(models.DirectionShort))
	assert.Equal(t, Sell, EntrySide(models.DirectionNeutral))
	assert.Equal(t, Buy, ExitSide(models.DirectionNeutral))
	assert.Equal(t, Sell, ExitSide(models.DirectionLong))
}
