package pg

import (
	"context"
	"fmt"
	"time"

	"risk_desk/internal/models"
	"risk_desk/internal/store"
	"risk_desk/pkg/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Positions struct {
	db db.TxManager
}

const positionCols = `id, account_id, instrument, class, direction, status, quantity, lot_size,
	entry_price::text, current_price::text, stop_loss::text, target::text, exit_price::text,
	margin_used::text, entry_value::text, expiry, averaging_count,
	realized_pnl::text, unrealized_pnl::text, exit_reason,
	leg_a_strike::text, leg_b_strike::text, premium_collected::text, net_delta::text,
	exit_attempts, last_exit_attempt_at, opened_at, closed_at, created_at, updated_at`

func scanPosition(row scanner) (models.Position, error) {
	var (
		p                          models.Position
		raw                        [13]string
		expiry, lastExit, closedAt *time.Time
	)
	err := row.Scan(
		&p.ID, &p.AccountID, &p.Instrument, &p.Class, &p.Direction, &p.Status, &p.Quantity, &p.LotSize,
		&raw[0], &raw[1], &raw[2], &raw[3], &raw[4],
		&raw[5], &raw[6], &expiry, &p.AveragingCount,
		&raw[7], &raw[8], &p.ExitReason,
		&raw[9], &raw[10], &raw[11], &raw[12],
		&p.ExitAttempts, &lastExit, &p.OpenedAt, &closedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}
	p.Expiry, p.LastExitAttemptAt, p.ClosedAt = fromNull(expiry), fromNull(lastExit), fromNull(closedAt)

	err = decs([]*decimal.Decimal{
		&p.EntryPrice, &p.CurrentPrice, &p.StopLoss, &p.Target, &p.ExitPrice,
		&p.MarginUsed, &p.EntryValue,
		&p.RealizedPnL, &p.UnrealizedPnL,
		&p.LegAStrike, &p.LegBStrike, &p.PremiumCollected, &p.NetDelta,
	}, raw[:])
	return p, err
}

func collectPositions(rows pgx.Rows) ([]models.Position, error) {
	defer rows.Close()
	var out []models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Insert locks the account row, re-checks for an ACTIVE position and
// inserts. The one_active_position index backs the check.
func (r *Positions) Insert(ctx context.Context, p models.Position) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Positions.Insert: %w", err)
		}
	}()

	return r.db.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		var id string
		err := tx.QueryRow(ctxTx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, p.AccountID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return err
		}

		var existing string
		err = tx.QueryRow(ctxTx, `SELECT id FROM positions WHERE account_id = $1 AND status = 'ACTIVE'`, p.AccountID).Scan(&existing)
		switch {
		case err == nil:
			return &models.DuplicatePositionError{AccountID: p.AccountID, PositionID: existing}
		case !errors.Is(err, pgx.ErrNoRows):
			return err
		}

		_, err = tx.Exec(ctxTx, `
			INSERT INTO positions (`+insertCols+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			        $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)`,
			positionArgs(p)...)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "one_active_position" {
			return &models.DuplicatePositionError{AccountID: p.AccountID}
		}
		return err
	})
}

const insertCols = `id, account_id, instrument, class, direction, status, quantity, lot_size,
	entry_price, current_price, stop_loss, target, exit_price, margin_used, entry_value, expiry,
	averaging_count, realized_pnl, unrealized_pnl, exit_reason,
	leg_a_strike, leg_b_strike, premium_collected, net_delta,
	exit_attempts, last_exit_attempt_at, opened_at, closed_at, created_at, updated_at`

func positionArgs(p models.Position) []any {
	return []any{
		p.ID, p.AccountID, p.Instrument, string(p.Class), string(p.Direction), string(p.Status), p.Quantity, p.LotSize,
		p.EntryPrice.String(), p.CurrentPrice.String(), p.StopLoss.String(), p.Target.String(), p.ExitPrice.String(),
		p.MarginUsed.String(), p.EntryValue.String(), nullTime(p.Expiry),
		p.AveragingCount, p.RealizedPnL.String(), p.UnrealizedPnL.String(), string(p.ExitReason),
		p.LegAStrike.String(), p.LegBStrike.String(), p.PremiumCollected.String(), p.NetDelta.String(),
		p.ExitAttempts, nullTime(p.LastExitAttemptAt), p.OpenedAt, nullTime(p.ClosedAt), p.CreatedAt, p.UpdatedAt,
	}
}

// Update rewrites every mutable column of an ACTIVE position in one statement.
func (r *Positions) Update(ctx context.Context, p models.Position) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Positions.Update: %w", err)
		}
	}()
	if !p.IsActive() {
		return models.ErrPositionClosed
	}

	tag, err := r.db.Conn().Exec(ctx, `
		UPDATE positions SET
			quantity = $2, entry_price = $3, current_price = $4, stop_loss = $5, target = $6,
			margin_used = $7, entry_value = $8, averaging_count = $9, unrealized_pnl = $10,
			net_delta = $11, exit_attempts = $12, last_exit_attempt_at = $13, updated_at = $14
		WHERE id = $1 AND status = 'ACTIVE'`,
		p.ID, p.Quantity, p.EntryPrice.String(), p.CurrentPrice.String(), p.StopLoss.String(), p.Target.String(),
		p.MarginUsed.String(), p.EntryValue.String(), p.AveragingCount, p.UnrealizedPnL.String(),
		p.NetDelta.String(), p.ExitAttempts, nullTime(p.LastExitAttemptAt), p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	_, found, err := r.Get(ctx, p.ID)
	if err != nil {
		return err
	}
	if !found {
		return models.ErrNotFound
	}
	return models.ErrPositionClosed
}

func (r *Positions) Close(ctx context.Context, req store.CloseRequest) (p models.Position, applied bool, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Positions.Close: %w", err)
		}
	}()

	p, err = scanPosition(r.db.Conn().QueryRow(ctx, `
		UPDATE positions SET
			status = 'CLOSED', exit_price = $2, realized_pnl = $3, unrealized_pnl = 0,
			exit_reason = $4, closed_at = $5, updated_at = $5
		WHERE id = $1 AND status = 'ACTIVE'
		RETURNING `+positionCols,
		req.ID, req.ExitPrice.String(), req.RealizedPnL.String(), string(req.Reason), req.At))
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return p, false, err
	}

	// already closed (or unknown): hand back the stored row untouched
	p, found, err := r.Get(ctx, req.ID)
	if err != nil {
		return p, false, err
	}
	if !found {
		return p, false, models.ErrNotFound
	}
	return p, false, nil
}

func (r *Positions) Get(ctx context.Context, id string) (models.Position, bool, error) {
	p, err := scanPosition(r.db.Conn().QueryRow(ctx, `SELECT `+positionCols+` FROM positions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Position{}, false, nil
	}
	if err != nil {
		return models.Position{}, false, fmt.Errorf("pg.Positions.Get: %w", err)
	}
	return p, true, nil
}

func (r *Positions) Active(ctx context.Context, accountID string) (models.Position, bool, error) {
	p, err := scanPosition(r.db.Conn().QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions WHERE account_id = $1 AND status = 'ACTIVE'`, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Position{}, false, nil
	}
	if err != nil {
		return models.Position{}, false, fmt.Errorf("pg.Positions.Active: %w", err)
	}
	return p, true, nil
}

func (r *Positions) ListByAccount(ctx context.Context, accountID string) ([]models.Position, error) {
	rows, err := r.db.Conn().Query(ctx,
		`SELECT `+positionCols+` FROM positions WHERE account_id = $1 ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("pg.Positions.ListByAccount: %w", err)
	}
	return collectPositions(rows)
}

func (r *Positions) ClosedSince(ctx context.Context, accountID string, since time.Time) ([]models.Position, error) {
	rows, err := r.db.Conn().Query(ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE account_id = $1 AND status = 'CLOSED' AND closed_at >= $2
		 ORDER BY closed_at`, accountID, since)
	if err != nil {
		return nil, fmt.Errorf("pg.Positions.ClosedSince: %w", err)
	}
	return collectPositions(rows)
}
