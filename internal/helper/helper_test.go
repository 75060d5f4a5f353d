package helper

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRoundStep(t *testing.T) {
	cases := []struct {
		px, step, down, up string
	}{
		{"21937.4", "50", "21900", "21950"},
		{"21924.9", "50", "21900", "21950"},
		{"22000", "50", "22000", "22000"},
		{"101.3", "0", "101.3", "101.3"},
	}
	for _, tc := range cases {
		assert.True(t, RoundDownToStep(d(tc.px), d(tc.step)).Equal(d(tc.down)), "down %s", tc.px)
		assert.True(t, RoundUpToStep(d(tc.px), d(tc.step)).Equal(d(tc.up)), "up %s", tc.px)
	}
}

func TestAlertKey(t *testing.T) {
	assert.Equal(t, "acc-1:delta", AlertKey("acc-1", "delta"))
	assert.Equal(t, "acc-1:warn:DAILY_LOSS", AlertKey("acc-1", "warn", "DAILY_LOSS"))
}
