package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"risk_desk/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "values.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_BundledValues(t *testing.T) {
	cfg, err := Load("../../../configs/values_local.yaml")
	require.NoError(t, err)

	assert.Equal(t, "Asia/Kolkata", cfg.Market.Timezone)
	assert.Equal(t, 24*time.Hour, cfg.Policy.BreakerCooldown)
	assert.Equal(t, 15*time.Second, cfg.Runner.MonitorInterval)

	in, ok := cfg.Instrument("NIFTY-FUT")
	require.True(t, ok)
	assert.Equal(t, int64(50), in.LotSize)
	assert.Equal(t, models.ClassFutures, in.Class)

	require.Len(t, cfg.Accounts, 2)
	acc := cfg.Accounts[0].Account()
	assert.True(t, acc.AllocatedCapital.Equal(decimal.NewFromInt(60000000)))
	assert.True(t, acc.IsActive)

	_, err = cfg.Calendar()
	require.NoError(t, err)
}

func TestLoad_DefaultsFillGaps(t *testing.T) {
	cfg, err := Load(writeConfig(t, "db_dsn: postgres://x\n"))
	require.NoError(t, err)

	mp := cfg.Policy.Margin()
	assert.True(t, mp.ReserveRatio.Equal(decimal.RequireFromString("0.5")))
	require.Len(t, mp.AveragingBudgets, 2)
	assert.True(t, mp.AveragingBudgets[0].Equal(decimal.RequireFromString("0.2")))
	assert.Equal(t, 3, mp.MaxAttempts)

	ep := cfg.Policy.Exits()
	assert.Equal(t, 15, ep.EODCutoff.Hour)
	assert.Equal(t, 15, ep.EODCutoff.Minute)
	assert.True(t, ep.MinProfitPctToExit.Equal(decimal.NewFromInt(50)))

	assert.Equal(t, time.Thursday, cfg.Expiry().Weekday)
	assert.Equal(t, 15, cfg.Expiry().FuturesMinDays)
	assert.True(t, cfg.Policy.Averaging().TriggerLossPct.Equal(decimal.NewFromInt(-1)))
	assert.Equal(t, 3, cfg.Notify.Dispatcher().Retries)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, 8081, cfg.Service.AdminPort)
}

func TestValidate_RejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"zero margin per lot": `
market:
  instruments:
    - {symbol: X, class: FUTURES, lot_size: 50, margin_per_lot: 0}
`,
		"zero lot size": `
market:
  instruments:
    - {symbol: X, class: OPTIONS, lot_size: 0, margin_per_lot: 10}
`,
		"unknown class": `
market:
  instruments:
    - {symbol: X, class: SWAPS, lot_size: 1, margin_per_lot: 10}
`,
		"negative capital": `
accounts:
  - {id: a, capital: -1}
`,
		"bad cutoff": `
policy:
  eod_cutoff: "25:99"
`,
		"bad weekday": `
market:
  expiry_weekday: Someday
`,
		"positive trigger": `
policy:
  averaging_trigger_pct: 1
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			var inv *models.InvalidInputError
			require.ErrorAs(t, err, &inv)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "legacy-token")
	t.Setenv("RISK_DATABASE_DSN", "postgres://risk")
	t.Setenv("RISK_TELEGRAM_CHAT_ID", "-100500")

	cfg, err := Load(writeConfig(t, "telegram:\n  token: from-file\n"))
	require.NoError(t, err)
	assert.Equal(t, "legacy-token", cfg.Telegram.Token)
	assert.Equal(t, "postgres://risk", cfg.DB)
	assert.Equal(t, int64(-100500), cfg.Telegram.ChatID)
}
