package pg

import (
	"context"
	"fmt"
	"time"

	"risk_desk/internal/models"
	"risk_desk/pkg/db"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Breakers struct {
	db db.TxManager
}

func (r *Breakers) Save(ctx context.Context, cb models.CircuitBreaker) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Breakers.Save: %w", err)
		}
	}()

	log := cb.ActionsLog
	if log == nil {
		log = []models.BreakerAction{}
	}
	actions, err := sonic.MarshalString(log)
	if err != nil {
		return err
	}

	_, err = r.db.Conn().Exec(ctx, `
		INSERT INTO circuit_breakers (id, account_id, trigger_type, trigger_value, threshold_value, is_active,
		                              positions_closed, cooldown_until, actions_log, reset_at, reset_by,
		                              created_at, updated_at, close_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			is_active = EXCLUDED.is_active,
			positions_closed = EXCLUDED.positions_closed,
			close_price = EXCLUDED.close_price,
			cooldown_until = EXCLUDED.cooldown_until,
			actions_log = EXCLUDED.actions_log,
			reset_at = EXCLUDED.reset_at,
			reset_by = EXCLUDED.reset_by,
			updated_at = EXCLUDED.updated_at`,
		cb.ID, cb.AccountID, string(cb.TriggerType), cb.TriggerValue.String(), cb.ThresholdValue.String(), cb.IsActive,
		cb.PositionsClosed, nullTime(cb.CooldownUntil), actions, cb.ResetAt, cb.ResetBy,
		cb.CreatedAt, cb.UpdatedAt, cb.ClosePrice.String())
	return err
}

func (r *Breakers) Latest(ctx context.Context, accountID string) (cb models.CircuitBreaker, found bool, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Breakers.Latest: %w", err)
		}
	}()

	var (
		raw      [3]string
		actions  string
		cooldown *time.Time
	)
	err = r.db.Conn().QueryRow(ctx, `
		SELECT id, account_id, trigger_type, trigger_value::text, threshold_value::text, is_active,
		       positions_closed, cooldown_until, actions_log::text, reset_at, reset_by, created_at, updated_at,
		       close_price::text
		FROM circuit_breakers WHERE account_id = $1
		ORDER BY created_at DESC, id DESC LIMIT 1`, accountID).
		Scan(&cb.ID, &cb.AccountID, &cb.TriggerType, &raw[0], &raw[1], &cb.IsActive,
			&cb.PositionsClosed, &cooldown, &actions, &cb.ResetAt, &cb.ResetBy, &cb.CreatedAt, &cb.UpdatedAt,
			&raw[2])
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CircuitBreaker{}, false, nil
	}
	if err != nil {
		return cb, false, err
	}
	cb.CooldownUntil = fromNull(cooldown)
	if err := decs([]*decimal.Decimal{&cb.TriggerValue, &cb.ThresholdValue, &cb.ClosePrice}, raw[:]); err != nil {
		return cb, false, err
	}
	if err := sonic.UnmarshalString(actions, &cb.ActionsLog); err != nil {
		return cb, false, err
	}
	return cb, true, nil
}
