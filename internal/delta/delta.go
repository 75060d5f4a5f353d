// Package delta watches the directional drift of two-leg market-neutral
// positions. It only advises; nothing here places orders.
package delta

import (
	"fmt"

	"risk_desk/internal/models"

	"github.com/shopspring/decimal"
)

type Policy struct {
	Threshold      decimal.Decimal // |net delta| in units above which we advise
	BaseVolatility decimal.Decimal // volatility at which bucket width is 1%
}

func DefaultPolicy() Policy {
	return Policy{Threshold: decimal.NewFromInt(300), BaseVolatility: decimal.NewFromInt(15)}
}

// Bucket deltas by moneyness. A simplified approximation, not a pricing model.
var (
	deepITM = decimal.RequireFromString("0.9")
	itm     = decimal.RequireFromString("0.7")
	atm     = decimal.RequireFromString("0.5")
	otm     = decimal.RequireFromString("0.3")
	deepOTM = decimal.RequireFromString("0.1")

	minWidth = decimal.RequireFromString("0.5")
	hundred  = decimal.NewFromInt(100)
	three    = decimal.NewFromInt(3)
)

type Reading struct {
	LegADelta decimal.Decimal `json:"leg_a_delta"` // short call, per unit
	LegBDelta decimal.Decimal `json:"leg_b_delta"` // short put, per unit
	NetDelta  decimal.Decimal `json:"net_delta"`
	Breached  bool            `json:"breached"`
}

// Advisory is a recommendation for a human; it is never executed.
type Advisory struct {
	AccountID  string
	Instrument string
	NetDelta   decimal.Decimal
	Threshold  decimal.Decimal
	TrimLeg    string
	AddLeg     string
}

func (a Advisory) Text() string {
	bias := "long"
	if a.NetDelta.IsNegative() {
		bias = "short"
	}
	return fmt.Sprintf("net delta %s beyond ±%s (%s bias): consider trimming %s or adding to %s",
		a.NetDelta.StringFixed(0), a.Threshold.StringFixed(0), bias, a.TrimLeg, a.AddLeg)
}

type Monitor struct {
	policy Policy
}

func NewMonitor(policy Policy) *Monitor {
	return &Monitor{policy: policy}
}

// NetDelta = (legA + legB) * quantity * lotSize, with leg A the short call
// (negative delta) and leg B the short put (positive delta).
func (m *Monitor) NetDelta(p models.Position, spot, volatility decimal.Decimal) (Reading, error) {
	if p.Direction != models.DirectionNeutral {
		return Reading{}, &models.InvalidInputError{Field: "direction", Reason: "net delta applies to NEUTRAL positions only"}
	}
	if !spot.IsPositive() {
		return Reading{}, &models.InvalidInputError{Field: "spot", Reason: "must be positive"}
	}
	if !p.LegAStrike.IsPositive() || !p.LegBStrike.IsPositive() {
		return Reading{}, &models.InvalidInputError{Field: "strikes", Reason: "both legs must be set"}
	}

	width := m.width(volatility)
	callM := spot.Sub(p.LegAStrike).Div(p.LegAStrike).Mul(hundred)
	putM := p.LegBStrike.Sub(spot).Div(p.LegBStrike).Mul(hundred)

	a := bucket(callM, width).Neg()
	b := bucket(putM, width)
	net := a.Add(b).Mul(p.Units())

	return Reading{
		LegADelta: a,
		LegBDelta: b,
		NetDelta:  net,
		Breached:  net.Abs().GreaterThan(m.policy.Threshold),
	}, nil
}

// Check returns an advisory when the reading breaches the threshold.
func (m *Monitor) Check(p models.Position, spot, volatility decimal.Decimal) (Reading, *Advisory, error) {
	r, err := m.NetDelta(p, spot, volatility)
	if err != nil || !r.Breached {
		return r, nil, err
	}

	adv := &Advisory{
		AccountID:  p.AccountID,
		Instrument: p.Instrument,
		NetDelta:   r.NetDelta,
		Threshold:  m.policy.Threshold,
	}
	if r.NetDelta.IsPositive() {
		// put side dominates
		adv.TrimLeg = fmt.Sprintf("leg B put %s", p.LegBStrike)
		adv.AddLeg = fmt.Sprintf("leg A call %s", p.LegAStrike)
	} else {
		adv.TrimLeg = fmt.Sprintf("leg A call %s", p.LegAStrike)
		adv.AddLeg = fmt.Sprintf("leg B put %s", p.LegBStrike)
	}
	return r, adv, nil
}

// width of the ATM band in percent of strike, scaled by volatility.
func (m *Monitor) width(volatility decimal.Decimal) decimal.Decimal {
	if !m.policy.BaseVolatility.IsPositive() || !volatility.IsPositive() {
		return decimal.NewFromInt(1)
	}
	w := volatility.Div(m.policy.BaseVolatility)
	if w.LessThan(minWidth) {
		return minWidth
	}
	return w
}

// bucket maps percent moneyness (positive = in the money) to an absolute delta.
func bucket(moneyness, width decimal.Decimal) decimal.Decimal {
	far := width.Mul(three)
	switch {
	case moneyness.GreaterThan(far):
		return deepITM
	case moneyness.GreaterThan(width):
		return itm
	case moneyness.GreaterThanOrEqual(width.Neg()):
		return atm
	case moneyness.GreaterThanOrEqual(far.Neg()):
		return otm
	default:
		return deepOTM
	}
}
