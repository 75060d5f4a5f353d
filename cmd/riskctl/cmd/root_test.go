package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DATABASE_DSN", "")
	t.Setenv("RISK_DATABASE_DSN", "")
	t.Setenv("TELEGRAM_TOKEN", "")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", "../../../configs/values_local.yaml"}, args...))
	t.Cleanup(func() {
		asJSON, resetBy, closedBy = false, "", ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestStatus_Table(t *testing.T) {
	out, err := run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "ACCOUNT")
	assert.Contains(t, out, "desk-main")
	assert.Contains(t, out, "desk-hedge")
}

func TestStatus_JSON(t *testing.T) {
	out, err := run(t, "status", "desk-main", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"id": "desk-main"`)
	assert.Contains(t, out, `"usable"`)
}

func TestResetBreaker_RequiresBy(t *testing.T) {
	_, err := run(t, "reset-breaker", "desk-main")
	assert.EqualError(t, err, "--by is required")
}

func TestResetBreaker_NoActiveBreaker(t *testing.T) {
	_, err := run(t, "reset-breaker", "desk-main", "--by", "ops")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no active breaker")
}

func TestTick_FlatAccounts(t *testing.T) {
	out, err := run(t, "tick")
	require.NoError(t, err)
	assert.Contains(t, out, "desk-main: flat")
}

func TestClose_Flat(t *testing.T) {
	_, err := run(t, "close", "desk-main")
	assert.EqualError(t, err, "--by is required")

	_, err = run(t, "close", "desk-main", "--by", "ops")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no active position")
}
