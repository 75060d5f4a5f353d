package averaging

import (
	"context"
	"testing"
	"time"

	"risk_desk/internal/margin"
	"risk_desk/internal/models"
	"risk_desk/internal/store"
	"risk_desk/internal/store/memory"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	db     *memory.DB
	acc    models.Account
	pos    models.Position
	engine *Engine
}

func newFixture(t *testing.T, allocated string, mutate func(*models.Position)) fixture {
	t.Helper()
	ctx := context.Background()
	db := memory.New()
	acc := models.Account{ID: "acc-1", AllocatedCapital: d(allocated), IsActive: true}
	require.NoError(t, db.Set().Accounts.Upsert(ctx, acc))

	p := models.Position{
		ID:           "pos-1",
		AccountID:    acc.ID,
		Instrument:   "RELIANCE24FEBFUT",
		Class:        models.ClassFutures,
		Direction:    models.DirectionLong,
		Status:       models.PositionActive,
		Quantity:     10,
		LotSize:      50,
		EntryPrice:   d("100"),
		CurrentPrice: d("100"),
		StopLoss:     d("95"),
		Target:       d("110"),
		MarginUsed:   d("100000"),
		EntryValue:   d("50000"),
	}
	if mutate != nil {
		mutate(&p)
	}
	require.NoError(t, db.Set().Positions.Insert(ctx, p))

	mgr := margin.NewManager(db.Set().Positions, margin.DefaultPolicy())
	e := NewEngine(db.Set().Positions, mgr, DefaultPolicy(), func() time.Time { return time.Unix(1700000000, 0) })
	return fixture{db: db, acc: acc, pos: p, engine: e}
}

func TestShouldAverage_Boundary(t *testing.T) {
	f := newFixture(t, "2000000", nil)
	ctx := context.Background()

	v, err := f.engine.ShouldAverage(ctx, f.acc, f.pos, d("99.001"))
	require.NoError(t, err)
	assert.False(t, v.Ok)
	assert.True(t, v.LossPct.Equal(d("-0.999")), v.LossPct.String())

	v, err = f.engine.ShouldAverage(ctx, f.acc, f.pos, d("99"))
	require.NoError(t, err)
	assert.True(t, v.Ok, v.Reason)
	assert.True(t, v.LossPct.Equal(d("-1")))

	v, err = f.engine.ShouldAverage(ctx, f.acc, f.pos, d("90"))
	require.NoError(t, err)
	assert.True(t, v.Ok)
}

func TestShouldAverage_ShortBoundary(t *testing.T) {
	f := newFixture(t, "2000000", func(p *models.Position) {
		p.Direction = models.DirectionShort
		p.StopLoss = d("105")
		p.Target = d("90")
	})
	ctx := context.Background()

	v, err := f.engine.ShouldAverage(ctx, f.acc, f.pos, d("100.999"))
	require.NoError(t, err)
	assert.False(t, v.Ok)

	v, err = f.engine.ShouldAverage(ctx, f.acc, f.pos, d("101"))
	require.NoError(t, err)
	assert.True(t, v.Ok)
}

func TestShouldAverage_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("neutral", func(t *testing.T) {
		f := newFixture(t, "2000000", func(p *models.Position) { p.Direction = models.DirectionNeutral })
		v, err := f.engine.ShouldAverage(ctx, f.acc, f.pos, d("50"))
		require.NoError(t, err)
		assert.False(t, v.Ok)
	})

	t.Run("count at max", func(t *testing.T) {
		f := newFixture(t, "2000000", func(p *models.Position) { p.AveragingCount = 3 })
		v, err := f.engine.ShouldAverage(ctx, f.acc, f.pos, d("90"))
		require.NoError(t, err)
		assert.False(t, v.Ok)
	})

	t.Run("third attempt has no budget", func(t *testing.T) {
		f := newFixture(t, "2000000", func(p *models.Position) { p.AveragingCount = 2 })
		v, err := f.engine.ShouldAverage(ctx, f.acc, f.pos, d("90"))
		require.NoError(t, err)
		assert.False(t, v.Ok)
		assert.Contains(t, v.Reason, "max averaging attempts")
	})

	t.Run("insufficient margin", func(t *testing.T) {
		// available 300000, attempt 1 budget 60000 < 100000
		f := newFixture(t, "400000", nil)
		v, err := f.engine.ShouldAverage(ctx, f.acc, f.pos, d("90"))
		require.NoError(t, err)
		assert.False(t, v.Ok)
		assert.Contains(t, v.Reason, "equal-size add")
	})
}

func TestExecute(t *testing.T) {
	f := newFixture(t, "2000000", nil)
	ctx := context.Background()

	next, err := f.engine.Execute(ctx, f.acc, f.pos, d("98"))
	require.NoError(t, err)

	assert.Equal(t, int64(20), next.Quantity)
	assert.True(t, next.EntryPrice.Equal(d("99")), next.EntryPrice.String())
	assert.True(t, next.StopLoss.Equal(d("98.505")), next.StopLoss.String())
	assert.True(t, next.MarginUsed.Equal(d("200000")))
	assert.Equal(t, 1, next.AveragingCount)
	assert.True(t, next.EntryValue.Equal(d("99000")))

	stored, _, err := f.db.Set().Positions.Get(ctx, f.pos.ID)
	require.NoError(t, err)
	assert.Equal(t, next.Quantity, stored.Quantity)
	assert.True(t, stored.StopLoss.Equal(next.StopLoss))
}

func TestExecute_ShortTightensAbove(t *testing.T) {
	f := newFixture(t, "2000000", func(p *models.Position) {
		p.Direction = models.DirectionShort
		p.StopLoss = d("105")
	})

	next, err := f.engine.Execute(context.Background(), f.acc, f.pos, d("102"))
	require.NoError(t, err)
	assert.True(t, next.EntryPrice.Equal(d("101")))
	assert.True(t, next.StopLoss.Equal(d("101.505")))
}

func TestExecute_CountIsMonotonicAndCapped(t *testing.T) {
	f := newFixture(t, "100000000", nil)
	ctx := context.Background()

	p := f.pos
	for want := 1; want <= 2; want++ {
		next, err := f.engine.Execute(ctx, f.acc, p, d("90"))
		require.NoError(t, err)
		assert.Equal(t, p.AveragingCount+1, next.AveragingCount)
		assert.Equal(t, want, next.AveragingCount)
		p = next
	}

	_, err := f.engine.Execute(ctx, f.acc, p, d("80"))
	var maxErr *models.MaxAttemptsExceededError
	require.ErrorAs(t, err, &maxErr)
	assert.Equal(t, 3, maxErr.Attempt)
}

func TestExecute_ThirdAttemptLeavesPositionUnchanged(t *testing.T) {
	f := newFixture(t, "100000000", func(p *models.Position) { p.AveragingCount = 2 })
	ctx := context.Background()

	got, err := f.engine.Execute(ctx, f.acc, f.pos, d("90"))
	var maxErr *models.MaxAttemptsExceededError
	require.ErrorAs(t, err, &maxErr)
	assert.Equal(t, f.pos, got)

	stored, _, err := f.db.Set().Positions.Get(ctx, f.pos.ID)
	require.NoError(t, err)
	assert.Equal(t, f.pos, stored)
}

type failingUpdates struct {
	store.Positions
}

func (failingUpdates) Update(context.Context, models.Position) error {
	return errors.New("write timeout")
}

func TestExecute_FailedWriteLeavesOriginal(t *testing.T) {
	f := newFixture(t, "2000000", nil)
	ctx := context.Background()
	mgr := margin.NewManager(f.db.Set().Positions, margin.DefaultPolicy())
	e := NewEngine(failingUpdates{f.db.Set().Positions}, mgr, DefaultPolicy(), nil)

	got, err := e.Execute(ctx, f.acc, f.pos, d("98"))
	require.Error(t, err)
	assert.Equal(t, f.pos, got)

	stored, _, err := f.db.Set().Positions.Get(ctx, f.pos.ID)
	require.NoError(t, err)
	assert.Equal(t, f.pos, stored)
}

func TestExecute_NeutralRefused(t *testing.T) {
	f := newFixture(t, "2000000", func(p *models.Position) { p.Direction = models.DirectionNeutral })

	_, err := f.engine.Execute(context.Background(), f.acc, f.pos, d("90"))
	var invalid *models.InvalidInputError
	require.ErrorAs(t, err, &invalid)
}
