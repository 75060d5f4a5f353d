package pg

import (
	"context"
	"fmt"

	"risk_desk/internal/models"
	"risk_desk/pkg/db"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Accounts struct {
	db db.TxManager
}

const accountCols = `id, name, allocated_capital::text, max_daily_loss::text, max_weekly_loss::text,
	is_active, chat_id, created_at, updated_at`

func scanAccount(row scanner) (models.Account, error) {
	var (
		a   models.Account
		raw [3]string
	)
	if err := row.Scan(&a.ID, &a.Name, &raw[0], &raw[1], &raw[2], &a.IsActive, &a.ChatID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return a, err
	}
	err := decs([]*decimal.Decimal{&a.AllocatedCapital, &a.MaxDailyLoss, &a.MaxWeeklyLoss}, raw[:])
	return a, err
}

func (r *Accounts) Get(ctx context.Context, id string) (acc models.Account, found bool, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Accounts.Get: %w", err)
		}
	}()

	err = r.db.RunRepeatableRead(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		acc, err = scanAccount(tx.QueryRow(ctxTx, `SELECT `+accountCols+` FROM accounts WHERE id = $1`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		acc.PositionIDs, err = positionIDs(ctxTx, tx, id)
		return err
	})
	return acc, found, err
}

func (r *Accounts) List(ctx context.Context) (out []models.Account, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Accounts.List: %w", err)
		}
	}()

	err = r.db.RunRepeatableRead(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		rows, err := tx.Query(ctxTx, `SELECT `+accountCols+` FROM accounts ORDER BY id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			a, err := scanAccount(rows)
			if err != nil {
				return err
			}
			out = append(out, a)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		for i := range out {
			if out[i].PositionIDs, err = positionIDs(ctxTx, tx, out[i].ID); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (r *Accounts) Upsert(ctx context.Context, a models.Account) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Accounts.Upsert: %w", err)
		}
	}()
	if err := a.Validate(); err != nil {
		return err
	}

	_, err = r.db.Conn().Exec(ctx, `
		INSERT INTO accounts (id, name, allocated_capital, max_daily_loss, max_weekly_loss, is_active, chat_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			allocated_capital = EXCLUDED.allocated_capital,
			max_daily_loss = EXCLUDED.max_daily_loss,
			max_weekly_loss = EXCLUDED.max_weekly_loss,
			is_active = EXCLUDED.is_active,
			chat_id = EXCLUDED.chat_id,
			updated_at = now()`,
		a.ID, a.Name, a.AllocatedCapital.String(), a.MaxDailyLoss.String(), a.MaxWeeklyLoss.String(), a.IsActive, a.ChatID)
	return err
}

func (r *Accounts) SetActive(ctx context.Context, id string, active bool) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Accounts.SetActive: %w", err)
		}
	}()

	tag, err := r.db.Conn().Exec(ctx, `UPDATE accounts SET is_active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func positionIDs(ctx context.Context, tx db.Transaction, accountID string) ([]string, error) {
	rows, err := tx.Query(ctx, `SELECT id FROM positions WHERE account_id = $1 ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
