package helper

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AlertKey is the rate-limit key for one kind of alert on one account.
func AlertKey(accountID, kind string, parts ...string) string {
	return strings.Join(append([]string{accountID, kind}, parts...), ":")
}

// RoundDownToStep floors px to a multiple of step.
func RoundDownToStep(px, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return px
	}
	return px.Div(step).Floor().Mul(step)
}

// RoundUpToStep ceils px to a multiple of step.
func RoundUpToStep(px, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return px
	}
	return px.Div(step).Ceil().Mul(step)
}
