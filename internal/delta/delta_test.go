package delta

import (
	"testing"

	"risk_desk/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strangle() models.Position {
	return models.Position{
		AccountID:        "acc-1",
		Instrument:       "NIFTY-STRANGLE",
		Direction:        models.DirectionNeutral,
		Status:           models.PositionActive,
		Quantity:         20,
		LotSize:          50,
		LegAStrike:       d("105"),
		LegBStrike:       d("95"),
		PremiumCollected: d("4"),
	}
}

func TestNetDelta_BalancedStructure(t *testing.T) {
	m := NewMonitor(DefaultPolicy())

	r, err := m.NetDelta(strangle(), d("100"), d("15"))
	require.NoError(t, err)
	assert.True(t, r.LegADelta.Equal(d("-0.1")))
	assert.True(t, r.LegBDelta.Equal(d("0.1")))
	assert.True(t, r.NetDelta.IsZero())
	assert.False(t, r.Breached)
}

func TestCheck_RallyBreachesShortSide(t *testing.T) {
	m := NewMonitor(DefaultPolicy())

	// call goes ATM, put stays deep OTM: (-0.5 + 0.1) * 1000
	r, adv, err := m.Check(strangle(), d("104"), d("15"))
	require.NoError(t, err)
	assert.True(t, r.NetDelta.Equal(d("-400")), r.NetDelta.String())
	require.NotNil(t, adv)
	assert.Contains(t, adv.TrimLeg, "leg A")
	assert.Contains(t, adv.Text(), "short bias")
}

func TestCheck_SelloffBreachesLongSide(t *testing.T) {
	m := NewMonitor(DefaultPolicy())

	r, adv, err := m.Check(strangle(), d("95.5"), d("15"))
	require.NoError(t, err)
	assert.True(t, r.NetDelta.IsPositive())
	require.NotNil(t, adv)
	assert.Contains(t, adv.TrimLeg, "leg B")
}

func TestCheck_WithinThreshold(t *testing.T) {
	m := NewMonitor(DefaultPolicy())
	p := strangle()
	p.Quantity = 1

	_, adv, err := m.Check(p, d("104"), d("15"))
	require.NoError(t, err)
	assert.Nil(t, adv)
}

func TestWidthScalesWithVolatility(t *testing.T) {
	m := NewMonitor(DefaultPolicy())

	// at 2x base volatility the band is 2% wide, so 4.76% OTM is plain OTM
	r, err := m.NetDelta(strangle(), d("100"), d("30"))
	require.NoError(t, err)
	assert.True(t, r.LegADelta.Equal(d("-0.3")))

	assert.True(t, m.width(d("1")).Equal(d("0.5")))
	assert.True(t, m.width(decimal.Zero).Equal(d("1")))
}

func TestNetDelta_RejectsDirectional(t *testing.T) {
	m := NewMonitor(DefaultPolicy())
	p := strangle()
	p.Direction = models.DirectionLong

	_, err := m.NetDelta(p, d("100"), d("15"))
	var invalid *models.InvalidInputError
	require.ErrorAs(t, err, &invalid)
}

func TestBucket(t *testing.T) {
	w := d("1")
	cases := map[string]string{"3.5": "0.9", "2": "0.7", "1": "0.5", "0": "0.5", "-1": "0.5", "-2": "0.3", "-3": "0.3", "-3.01": "0.1"}
	for m, want := range cases {
		assert.True(t, bucket(d(m), w).Equal(d(want)), "moneyness %s", m)
	}
}
