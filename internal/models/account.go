package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account owns its positions (by id), risk limits and breaker records.
type Account struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	AllocatedCapital decimal.Decimal `json:"allocated_capital"`
	MaxDailyLoss     decimal.Decimal `json:"max_daily_loss"`
	MaxWeeklyLoss    decimal.Decimal `json:"max_weekly_loss"`
	IsActive         bool            `json:"is_active"`

	// Telegram chat for this account's alerts; 0 means the desk chat.
	ChatID int64 `json:"chat_id"`

	PositionIDs []string `json:"position_ids"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a Account) Validate() error {
	if a.ID == "" {
		return &InvalidInputError{Field: "account.id", Reason: "is required"}
	}
	if a.AllocatedCapital.IsNegative() {
		return &InvalidInputError{Field: "account.allocated_capital", Reason: "must be non-negative"}
	}
	if a.MaxDailyLoss.IsNegative() {
		return &InvalidInputError{Field: "account.max_daily_loss", Reason: "must be non-negative"}
	}
	if a.MaxWeeklyLoss.IsNegative() {
		return &InvalidInputError{Field: "account.max_weekly_loss", Reason: "must be non-negative"}
	}
	return nil
}

// Candidate: screening output, consumed as opaque input.
type Candidate struct {
	Instrument      string    `json:"instrument"`
	Direction       Direction `json:"direction"`
	ConfidenceScore float64   `json:"confidence_score"`
}
