// Package pg stores accounts, positions, risk limits and breakers in
// Postgres through pkg/db. Money columns are numeric and travel as text.
package pg

import (
	"context"
	_ "embed"
	"time"

	"risk_desk/internal/store"
	"risk_desk/pkg/db"

	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

// Migrate applies the schema; every statement is idempotent.
func Migrate(ctx context.Context, m db.TxManager) error {
	_, err := m.Conn().Exec(ctx, schema)
	return err
}

func NewSet(m db.TxManager) store.Set {
	return store.Set{
		Accounts:   &Accounts{db: m},
		Positions:  &Positions{db: m},
		RiskLimits: &RiskLimits{db: m},
		Breakers:   &Breakers{db: m},
	}
}

type scanner interface {
	Scan(dest ...any) error
}

// dec parses a numeric that was selected as ::text.
func dec(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func decs(dst []*decimal.Decimal, src []string) error {
	for i := range dst {
		v, err := dec(src[i])
		if err != nil {
			return err
		}
		*dst[i] = v
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func fromNull(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
