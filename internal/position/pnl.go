package position

import (
	"risk_desk/internal/models"

	"github.com/shopspring/decimal"
)

// PnL of p valued at price:
//
//	LONG    (price - entry)   * units
//	SHORT   (entry - price)   * units
//	NEUTRAL (premium - price) * units, price being the cost to close
func PnL(p models.Position, price decimal.Decimal) decimal.Decimal {
	units := p.Units()
	switch p.Direction {
	case models.DirectionLong:
		return price.Sub(p.EntryPrice).Mul(units)
	case models.DirectionShort:
		return p.EntryPrice.Sub(price).Mul(units)
	case models.DirectionNeutral:
		return p.PremiumCollected.Sub(price).Mul(units)
	}
	return decimal.Zero
}

// ProfitBasis is what profit percentages are measured against.
func ProfitBasis(p models.Position) decimal.Decimal {
	if p.Direction == models.DirectionNeutral {
		return p.PremiumCollected.Mul(p.Units())
	}
	return p.EntryValue
}
