package margin

import (
	"context"
	"testing"

	"risk_desk/internal/models"
	"risk_desk/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newManager(t *testing.T, allocated string) (*Manager, *memory.DB, models.Account) {
	t.Helper()
	db := memory.New()
	acc := models.Account{ID: "acc-1", AllocatedCapital: d(allocated), MaxDailyLoss: d("100000"), IsActive: true}
	require.NoError(t, db.Set().Accounts.Upsert(context.Background(), acc))
	return NewManager(db.Set().Positions, DefaultPolicy()), db, acc
}

func TestUsableMargin_NoPositions(t *testing.T) {
	m, _, acc := newManager(t, "60000000")

	snap, err := m.UsableMargin(context.Background(), acc)
	require.NoError(t, err)

	assert.True(t, snap.Total.Equal(d("60000000")))
	assert.True(t, snap.Deployed.IsZero())
	assert.True(t, snap.Available.Equal(d("60000000")))
	assert.True(t, snap.Usable.Equal(d("30000000")), snap.Usable.String())
	assert.True(t, snap.Reserved.Equal(d("30000000")))
}

func TestUsableMargin_ActivePositionDeducted(t *testing.T) {
	m, db, acc := newManager(t, "1000000")
	require.NoError(t, db.Set().Positions.Insert(context.Background(), models.Position{
		ID: "p1", AccountID: acc.ID, Status: models.PositionActive, MarginUsed: d("400000"),
	}))

	snap, err := m.UsableMargin(context.Background(), acc)
	require.NoError(t, err)
	assert.True(t, snap.Deployed.Equal(d("400000")))
	assert.True(t, snap.Available.Equal(d("600000")))
	assert.True(t, snap.Usable.Equal(d("300000")))
}

func TestCompute_NeverNegativeAndSumsToAvailable(t *testing.T) {
	cases := []struct {
		name      string
		allocated string
		margin    string
		ratio     string
	}{
		{"over-deployed", "100", "250", "0.5"},
		{"odd amount", "100001", "0", "0.5"},
		{"fractional ratio", "12345.67", "1000.01", "0.37"},
		{"zero capital", "0", "0", "0.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			acc := models.Account{ID: "a", AllocatedCapital: d(tc.allocated)}
			pos := []models.Position{{AccountID: "a", Status: models.PositionActive, MarginUsed: d(tc.margin)}}
			snap := Compute(acc, pos, d(tc.ratio))

			assert.False(t, snap.Available.IsNegative())
			assert.False(t, snap.Usable.IsNegative())
			assert.False(t, snap.Reserved.IsNegative())
			assert.True(t, snap.Usable.Add(snap.Reserved).Equal(snap.Available))
		})
	}
}

func TestCheckAvailability(t *testing.T) {
	m, _, acc := newManager(t, "1000000")
	ctx := context.Background()

	ok, _, err := m.CheckAvailability(ctx, acc, d("500000"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, detail, err := m.CheckAvailability(ctx, acc, d("500000.01"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, detail, "exceeds usable")
}

func TestSizeForLots(t *testing.T) {
	m, _, acc := newManager(t, "1000000")
	ctx := context.Background()

	s, err := m.SizeForLots(ctx, acc, d("100"), 50, d("120000"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), s.MaxLots)
	assert.Equal(t, int64(200), s.MaxQty)
	assert.True(t, s.MarginRequired.Equal(d("480000")))
	assert.True(t, s.ValueAtSize.Equal(d("20000")))
	assert.True(t, s.RemainingMargin.Equal(d("20000")))
}

func TestSizeForLots_NoRoomIsNotAnError(t *testing.T) {
	m, _, acc := newManager(t, "1000")

	s, err := m.SizeForLots(context.Background(), acc, d("100"), 50, d("120000"))
	require.NoError(t, err)
	assert.Zero(t, s.MaxLots)
}

func TestSizeForLots_NonPositiveMarginPerLot(t *testing.T) {
	m, _, acc := newManager(t, "1000000")

	s, err := m.SizeForLots(context.Background(), acc, d("100"), 50, decimal.Zero)
	var invalid *models.InvalidInputError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "margin_per_lot", invalid.Field)
	assert.Zero(t, s.MaxLots)
}

func TestAveragingBudget(t *testing.T) {
	m, _, acc := newManager(t, "1000000")
	ctx := context.Background()

	b1, err := m.AveragingBudget(ctx, acc, 1)
	require.NoError(t, err)
	assert.True(t, b1.Equal(d("200000")))

	b2, err := m.AveragingBudget(ctx, acc, 2)
	require.NoError(t, err)
	assert.True(t, b2.Equal(d("500000")))

	_, err = m.AveragingBudget(ctx, acc, 3)
	var maxErr *models.MaxAttemptsExceededError
	require.ErrorAs(t, err, &maxErr)
	assert.Equal(t, 3, maxErr.Attempt)

	_, err = m.AveragingBudget(ctx, acc, 0)
	var invalid *models.InvalidInputError
	require.ErrorAs(t, err, &invalid)
}
