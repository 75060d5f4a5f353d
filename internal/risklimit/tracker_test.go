package risklimit

import (
	"context"
	"testing"
	"time"

	"risk_desk/internal/calendar"
	"risk_desk/internal/models"
	"risk_desk/internal/store"
	"risk_desk/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	db      *memory.DB
	acc     models.Account
	now     time.Time
	tracker *Tracker
	loc     *time.Location
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cal, err := calendar.New("Asia/Kolkata", nil)
	require.NoError(t, err)

	db := memory.New()
	acc := models.Account{
		ID: "acc-1", AllocatedCapital: d("1000000"),
		MaxDailyLoss: d("10000"), MaxWeeklyLoss: d("25000"), IsActive: true,
	}
	require.NoError(t, db.Set().Accounts.Upsert(context.Background(), acc))

	f := &fixture{db: db, acc: acc, loc: cal.Location()}
	f.now = time.Date(2024, 1, 23, 11, 0, 0, 0, cal.Location()) // Tuesday
	f.tracker = NewTracker(db.Set().RiskLimits, db.Set().Positions, cal, DefaultPolicy(), func() time.Time { return f.now })
	return f
}

func (f *fixture) openLong(t *testing.T, id, current string) models.Position {
	t.Helper()
	p := models.Position{
		ID: id, AccountID: f.acc.ID, Direction: models.DirectionLong, Status: models.PositionActive,
		Quantity: 10, LotSize: 50, EntryPrice: d("100"), CurrentPrice: d(current),
	}
	require.NoError(t, f.db.Set().Positions.Insert(context.Background(), p))
	return p
}

func (f *fixture) close(t *testing.T, id, pnl string, at time.Time) {
	t.Helper()
	_, applied, err := f.db.Set().Positions.Close(context.Background(), store.CloseRequest{
		ID: id, ExitPrice: d("1"), RealizedPnL: d(pnl), Reason: models.ExitStopLoss, At: at,
	})
	require.NoError(t, err)
	require.True(t, applied)
}

func limitOf(ev Evaluation, typ models.LimitType) models.RiskLimit {
	for _, l := range ev.Limits {
		if l.LimitType == typ {
			return l
		}
	}
	return models.RiskLimit{}
}

func TestTick_CreatesLimits(t *testing.T) {
	f := newFixture(t)

	ev, err := f.tracker.Tick(context.Background(), f.acc)
	require.NoError(t, err)
	require.Len(t, ev.Limits, 2)
	assert.False(t, ev.IsBreached())

	daily := limitOf(ev, models.LimitDailyLoss)
	assert.True(t, daily.LimitValue.Equal(d("10000")))
	assert.True(t, daily.CurrentValue.IsZero())
	assert.True(t, daily.PeriodStart.Equal(time.Date(2024, 1, 23, 0, 0, 0, 0, f.loc)))

	weekly := limitOf(ev, models.LimitWeeklyLoss)
	assert.True(t, weekly.PeriodStart.Equal(time.Date(2024, 1, 22, 0, 0, 0, 0, f.loc)))
}

func TestTick_WarningIsOneShot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// (84-100)*500 = -8000: 80% of the daily limit
	f.openLong(t, "p1", "84")

	ev, err := f.tracker.Tick(ctx, f.acc)
	require.NoError(t, err)
	require.Len(t, ev.Warnings, 1)
	assert.Equal(t, models.LimitDailyLoss, ev.Warnings[0].LimitType)
	assert.True(t, ev.Warnings[0].WarningSent)
	assert.False(t, ev.IsBreached())

	ev, err = f.tracker.Tick(ctx, f.acc)
	require.NoError(t, err)
	assert.Empty(t, ev.Warnings)
}

func TestTick_BreachOnRealizedPlusUnrealized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.openLong(t, "p1", "100")
	f.close(t, "p1", "-6000", f.now.Add(-time.Hour))
	f.openLong(t, "p2", "92") // -4000 open

	ev, err := f.tracker.Tick(ctx, f.acc)
	require.NoError(t, err)
	require.True(t, ev.IsBreached())
	require.Len(t, ev.Breached, 1)
	assert.Equal(t, models.LimitDailyLoss, ev.Breached[0].LimitType)
	assert.True(t, ev.Breached[0].CurrentValue.Equal(d("10000")))
}

func TestTick_ProfitCountsAsZeroLoss(t *testing.T) {
	f := newFixture(t)
	f.openLong(t, "p1", "120")

	ev, err := f.tracker.Tick(context.Background(), f.acc)
	require.NoError(t, err)
	assert.True(t, limitOf(ev, models.LimitDailyLoss).CurrentValue.IsZero())
}

func TestTick_DailyResetsWeeklyAccumulates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.openLong(t, "p1", "100")
	f.close(t, "p1", "-9000", f.now)

	ev, err := f.tracker.Tick(ctx, f.acc)
	require.NoError(t, err)
	require.Len(t, ev.Warnings, 1)

	f.now = f.now.AddDate(0, 0, 1)
	ev, err = f.tracker.Tick(ctx, f.acc)
	require.NoError(t, err)

	daily := limitOf(ev, models.LimitDailyLoss)
	assert.True(t, daily.CurrentValue.IsZero())
	assert.False(t, daily.WarningSent)

	weekly := limitOf(ev, models.LimitWeeklyLoss)
	assert.True(t, weekly.CurrentValue.Equal(d("9000")))
	assert.False(t, weekly.WarningSent)
	assert.Empty(t, ev.Warnings)
}

func TestTick_UnsetLimitNeverBreaches(t *testing.T) {
	f := newFixture(t)
	f.acc.MaxWeeklyLoss = decimal.Zero
	f.openLong(t, "p1", "50")

	ev, err := f.tracker.Tick(context.Background(), f.acc)
	require.NoError(t, err)
	assert.False(t, limitOf(ev, models.LimitWeeklyLoss).IsBreached)
	assert.True(t, limitOf(ev, models.LimitDailyLoss).IsBreached)
}
