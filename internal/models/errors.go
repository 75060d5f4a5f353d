package models

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrPositionClosed  = errors.New("position is closed")
	ErrAccountInactive = errors.New("account is inactive")
	ErrBreakerActive   = errors.New("circuit breaker is active")
	ErrCooldownActive  = errors.New("circuit breaker cooldown has not elapsed")
	ErrTradingPaused   = errors.New("trading is paused")
	ErrLowConfidence   = errors.New("candidate below confidence gate")
	ErrLimitBreached   = errors.New("loss limit breached in the current period")
)

// DuplicatePositionError: attempt to open a second ACTIVE position. Never retried.
type DuplicatePositionError struct {
	AccountID  string
	PositionID string
}

func (e *DuplicatePositionError) Error() string {
	if e.PositionID != "" {
		return fmt.Sprintf("ONE POSITION RULE: active position exists (account=%s position=%s)", e.AccountID, e.PositionID)
	}
	return fmt.Sprintf("ONE POSITION RULE: active position exists (account=%s)", e.AccountID)
}

// InsufficientMarginError: admission rejected; a smaller size may pass later.
type InsufficientMarginError struct {
	Required decimal.Decimal
	Usable   decimal.Decimal
}

func (e *InsufficientMarginError) Error() string {
	return fmt.Sprintf("insufficient margin: required %s, usable %s", e.Required.StringFixed(2), e.Usable.StringFixed(2))
}

// MaxAttemptsExceededError: averaging exhausted for the position.
type MaxAttemptsExceededError struct {
	Attempt int
	Max     int
}

func (e *MaxAttemptsExceededError) Error() string {
	return fmt.Sprintf("max averaging attempts exceeded: attempt %d, limit %d", e.Attempt, e.Max)
}

// InvalidInputError: malformed input or configuration.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s %s", e.Field, e.Reason)
}

// ExternalDependencyError: market data, order or notification failure.
type ExternalDependencyError struct {
	Dependency string
	Err        error
}

func (e *ExternalDependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Dependency, e.Err)
}

func (e *ExternalDependencyError) Unwrap() error { return e.Err }
