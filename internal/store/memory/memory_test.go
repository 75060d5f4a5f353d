package memory

import (
	"context"
	"testing"
	"time"

	"risk_desk/internal/models"
	"risk_desk/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(t *testing.T) store.Set {
	t.Helper()
	s := New().Set()
	require.NoError(t, s.Accounts.Upsert(context.Background(), models.Account{ID: "acc-1", AllocatedCapital: decimal.NewFromInt(1000), IsActive: true}))
	return s
}

func active(id string) models.Position {
	return models.Position{ID: id, AccountID: "acc-1", Status: models.PositionActive, Quantity: 1, LotSize: 1, EntryPrice: decimal.NewFromInt(10)}
}

func TestInsert_OneActivePerAccount(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	require.NoError(t, s.Positions.Insert(ctx, active("p1")))
	err := s.Positions.Insert(ctx, active("p2"))
	var dup *models.DuplicatePositionError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "p1", dup.PositionID)

	assert.ErrorIs(t, s.Positions.Insert(ctx, models.Position{ID: "x", AccountID: "ghost", Status: models.PositionActive}), models.ErrNotFound)
}

func TestClose_OnlyOnce(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	require.NoError(t, s.Positions.Insert(ctx, active("p1")))
	at := time.Date(2024, 1, 22, 10, 0, 0, 0, time.UTC)

	p, applied, err := s.Positions.Close(ctx, store.CloseRequest{ID: "p1", ExitPrice: decimal.NewFromInt(12), RealizedPnL: decimal.NewFromInt(2), Reason: models.ExitTarget, At: at})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.PositionClosed, p.Status)

	p, applied, err = s.Positions.Close(ctx, store.CloseRequest{ID: "p1", ExitPrice: decimal.NewFromInt(1), RealizedPnL: decimal.NewFromInt(-9), Reason: models.ExitCircuitBreaker, At: at.Add(time.Hour)})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.True(t, p.RealizedPnL.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, at, p.ClosedAt)

	assert.ErrorIs(t, s.Positions.Update(ctx, active("p1")), models.ErrPositionClosed)

	// a new position may open once the first is closed
	require.NoError(t, s.Positions.Insert(ctx, active("p2")))

	closed, err := s.Positions.ClosedSince(ctx, "acc-1", at)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "p1", closed[0].ID)

	acc, _, err := s.Accounts.Get(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, acc.PositionIDs)
}

func TestAccounts_UpsertKeepsPositionIDs(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	require.NoError(t, s.Positions.Insert(ctx, active("p1")))

	require.NoError(t, s.Accounts.Upsert(ctx, models.Account{ID: "acc-1", AllocatedCapital: decimal.NewFromInt(5000), IsActive: true}))
	acc, found, err := s.Accounts.Get(ctx, "acc-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"p1"}, acc.PositionIDs)
	assert.True(t, acc.AllocatedCapital.Equal(decimal.NewFromInt(5000)))

	require.NoError(t, s.Accounts.SetActive(ctx, "acc-1", false))
	acc, _, _ = s.Accounts.Get(ctx, "acc-1")
	assert.False(t, acc.IsActive)

	assert.ErrorIs(t, s.Accounts.SetActive(ctx, "nope", false), models.ErrNotFound)
}

func TestBreakers_LatestWins(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	_, found, err := s.Breakers.Latest(ctx, "acc-1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Breakers.Save(ctx, models.CircuitBreaker{ID: "b1", AccountID: "acc-1"}))
	require.NoError(t, s.Breakers.Save(ctx, models.CircuitBreaker{ID: "b2", AccountID: "acc-1", IsActive: true}))
	require.NoError(t, s.Breakers.Save(ctx, models.CircuitBreaker{ID: "b1", AccountID: "acc-1", ResetBy: "ops"}))

	cb, found, err := s.Breakers.Latest(ctx, "acc-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "b2", cb.ID)
}
