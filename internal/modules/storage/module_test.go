package storage

import (
	"context"
	"testing"

	"risk_desk/internal/modules/config"
	"risk_desk/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeed_KeepsTrippedAccountInactive(t *testing.T) {
	ctx := context.Background()
	accounts := memory.New().Set().Accounts
	seeds := []config.AccountSeed{{ID: "desk-main", Capital: 1000000, MaxDailyLoss: 10000}}

	require.NoError(t, Seed(ctx, accounts, seeds))
	acc, found, err := accounts.Get(ctx, "desk-main")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, acc.IsActive)

	require.NoError(t, accounts.SetActive(ctx, "desk-main", false))

	seeds[0].Capital = 2000000
	require.NoError(t, Seed(ctx, accounts, seeds))
	acc, _, err = accounts.Get(ctx, "desk-main")
	require.NoError(t, err)
	assert.False(t, acc.IsActive)
	assert.Equal(t, "2000000", acc.AllocatedCapital.String())
}
