package margin

import (
	"risk_desk/internal/models"

	"github.com/shopspring/decimal"
)

// Snapshot is the capital ledger of one account at one instant.
// Deployed is always derived from the active positions, never stored.
type Snapshot struct {
	Total     decimal.Decimal `json:"total"`
	Deployed  decimal.Decimal `json:"deployed"`
	Available decimal.Decimal `json:"available"`
	Usable    decimal.Decimal `json:"usable"`
	Reserved  decimal.Decimal `json:"reserved"`
}

// UtilizationPct: share of usable margin that required would consume.
func (s Snapshot) UtilizationPct(required decimal.Decimal) decimal.Decimal {
	if !s.Usable.IsPositive() {
		if required.IsPositive() {
			return decimal.NewFromInt(100)
		}
		return decimal.Zero
	}
	return required.Div(s.Usable).Mul(decimal.NewFromInt(100))
}

// Compute builds the ledger. Reserved is taken as available minus usable so
// that usable+reserved == available holds exactly for any ratio.
func Compute(acc models.Account, active []models.Position, reserveRatio decimal.Decimal) Snapshot {
	total := acc.AllocatedCapital
	if total.IsNegative() {
		total = decimal.Zero
	}

	deployed := decimal.Zero
	for _, p := range active {
		if p.IsActive() && p.AccountID == acc.ID {
			deployed = deployed.Add(p.MarginUsed)
		}
	}

	available := total.Sub(deployed)
	if available.IsNegative() {
		available = decimal.Zero
	}

	usable := available.Mul(decimal.NewFromInt(1).Sub(reserveRatio))
	if usable.IsNegative() {
		usable = decimal.Zero
	}
	if usable.GreaterThan(available) {
		usable = available
	}

	return Snapshot{
		Total:     total,
		Deployed:  deployed,
		Available: available,
		Usable:    usable,
		Reserved:  available.Sub(usable),
	}
}
