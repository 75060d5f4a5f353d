// Package store declares the repositories the controller reads and writes.
// Lookups return (value, found, err): "nothing there" is a normal branch.
package store

import (
	"context"
	"time"

	"risk_desk/internal/models"

	"github.com/shopspring/decimal"
)

type Accounts interface {
	Get(ctx context.Context, id string) (models.Account, bool, error)
	List(ctx context.Context) ([]models.Account, error)
	Upsert(ctx context.Context, a models.Account) error
	SetActive(ctx context.Context, id string, active bool) error
}

type Positions interface {
	// Insert fails with *models.DuplicatePositionError when the account
	// already holds an ACTIVE position.
	Insert(ctx context.Context, p models.Position) error
	// Update replaces an ACTIVE position as one write; models.ErrPositionClosed otherwise.
	Update(ctx context.Context, p models.Position) error
	// Close transitions ACTIVE -> CLOSED once. applied=false means it was
	// already closed and the stored row is returned unchanged.
	Close(ctx context.Context, req CloseRequest) (p models.Position, applied bool, err error)
	Get(ctx context.Context, id string) (models.Position, bool, error)
	Active(ctx context.Context, accountID string) (models.Position, bool, error)
	ListByAccount(ctx context.Context, accountID string) ([]models.Position, error)
	ClosedSince(ctx context.Context, accountID string, since time.Time) ([]models.Position, error)
}

type CloseRequest struct {
	ID          string
	ExitPrice   decimal.Decimal
	RealizedPnL decimal.Decimal
	Reason      models.ExitReason
	At          time.Time
}

type RiskLimits interface {
	ListByAccount(ctx context.Context, accountID string) ([]models.RiskLimit, error)
	Upsert(ctx context.Context, l models.RiskLimit) error
}

type Breakers interface {
	Save(ctx context.Context, b models.CircuitBreaker) error
	Latest(ctx context.Context, accountID string) (models.CircuitBreaker, bool, error)
}

// Set bundles the repositories so modules can depend on one value.
type Set struct {
	Accounts   Accounts
	Positions  Positions
	RiskLimits RiskLimits
	Breakers   Breakers
}
