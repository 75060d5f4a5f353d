package pg

import (
	"context"
	"fmt"

	"risk_desk/internal/models"
	"risk_desk/pkg/db"

	"github.com/shopspring/decimal"
)

type RiskLimits struct {
	db db.TxManager
}

func (r *RiskLimits) ListByAccount(ctx context.Context, accountID string) (out []models.RiskLimit, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.RiskLimits.ListByAccount: %w", err)
		}
	}()

	rows, err := r.db.Conn().Query(ctx, `
		SELECT id, account_id, limit_type, period_start, limit_value::text, current_value::text,
		       is_breached, warning_threshold_pct::text, warning_sent, created_at, updated_at
		FROM risk_limits WHERE account_id = $1 ORDER BY limit_type`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l   models.RiskLimit
			raw [3]string
		)
		if err := rows.Scan(&l.ID, &l.AccountID, &l.LimitType, &l.PeriodStart, &raw[0], &raw[1],
			&l.IsBreached, &raw[2], &l.WarningSent, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		if err := decs([]*decimal.Decimal{&l.LimitValue, &l.CurrentValue, &l.WarningThresholdPct}, raw[:]); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *RiskLimits) Upsert(ctx context.Context, l models.RiskLimit) error {
	_, err := r.db.Conn().Exec(ctx, `
		INSERT INTO risk_limits (id, account_id, limit_type, period_start, limit_value, current_value,
		                         is_breached, warning_threshold_pct, warning_sent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (account_id, limit_type) DO UPDATE SET
			id = EXCLUDED.id,
			period_start = EXCLUDED.period_start,
			limit_value = EXCLUDED.limit_value,
			current_value = EXCLUDED.current_value,
			is_breached = EXCLUDED.is_breached,
			warning_threshold_pct = EXCLUDED.warning_threshold_pct,
			warning_sent = EXCLUDED.warning_sent,
			updated_at = EXCLUDED.updated_at`,
		l.ID, l.AccountID, string(l.LimitType), l.PeriodStart, l.LimitValue.String(), l.CurrentValue.String(),
		l.IsBreached, l.WarningThresholdPct.String(), l.WarningSent, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pg.RiskLimits.Upsert: %w", err)
	}
	return nil
}
