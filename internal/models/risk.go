package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type LimitType string

const (
	LimitDailyLoss  LimitType = "DAILY_LOSS"
	LimitWeeklyLoss LimitType = "WEEKLY_LOSS"
)

var hundred = decimal.NewFromInt(100)

// RiskLimit: running loss utilisation for one account, one limit type, one period.
type RiskLimit struct {
	ID                  string          `json:"id"`
	AccountID           string          `json:"account_id"`
	LimitType           LimitType       `json:"limit_type"`
	PeriodStart         time.Time       `json:"period_start"`
	LimitValue          decimal.Decimal `json:"limit_value"`
	CurrentValue        decimal.Decimal `json:"current_value"`
	IsBreached          bool            `json:"is_breached"`
	WarningThresholdPct decimal.Decimal `json:"warning_threshold_pct"`
	WarningSent         bool            `json:"warning_sent"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// UtilizationPct = current/limit*100, zero for an unset limit.
func (l RiskLimit) UtilizationPct() decimal.Decimal {
	if !l.LimitValue.IsPositive() {
		return decimal.Zero
	}
	return l.CurrentValue.Div(l.LimitValue).Mul(hundred)
}

// BreakerAction: one timestamped line of a breaker's trail.
type BreakerAction struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

type CircuitBreaker struct {
	ID              string          `json:"id"`
	AccountID       string          `json:"account_id"`
	TriggerType     LimitType       `json:"trigger_type"`
	TriggerValue    decimal.Decimal `json:"trigger_value"`
	ThresholdValue  decimal.Decimal `json:"threshold_value"`
	IsActive        bool            `json:"is_active"`
	PositionsClosed int             `json:"positions_closed"`
	ClosePrice      decimal.Decimal `json:"close_price"` // fill of the force-close order, zero until one fills
	CooldownUntil   time.Time       `json:"cooldown_until"`
	ActionsLog      []BreakerAction `json:"actions_log"`
	ResetAt         *time.Time      `json:"reset_at,omitempty"`
	ResetBy         string          `json:"reset_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (b *CircuitBreaker) Log(at time.Time, format string, args ...any) {
	b.ActionsLog = append(b.ActionsLog, BreakerAction{At: at, Message: fmt.Sprintf(format, args...)})
	b.UpdatedAt = at
}
