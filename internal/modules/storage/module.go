package storage

import (
	"context"
	"fmt"

	"risk_desk/internal/modules/config"
	"risk_desk/internal/store"
	"risk_desk/internal/store/memory"
	"risk_desk/internal/store/pg"
	"risk_desk/pkg/db"
	"risk_desk/pkg/logger"

	"go.uber.org/fx"
)

// Module: Postgres, если задан db_dsn, иначе всё в памяти процесса.
func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(
			NewSet,
		),
	)
}

func NewSet(ctx context.Context, lc fx.Lifecycle, cfg *config.Config) (store.Set, error) {
	var set store.Set
	if cfg.DB == "" {
		logger.Warn("[STORAGE] db_dsn is empty, state is kept in memory only")
		set = memory.New().Set()
	} else {
		poolMaster, err := db.NewPool(ctx, db.PoolConfig{
			DSN: cfg.DB,
		})
		if err != nil {
			return store.Set{}, fmt.Errorf("failed to create poolMaster: %w", err)
		}

		err = poolMaster.Ping(ctx)
		if err != nil {
			poolMaster.Close()
			return store.Set{}, err
		}

		m := db.NewPgTxManager(poolMaster)
		if err := pg.Migrate(ctx, m); err != nil {
			m.Close()
			return store.Set{}, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				m.Close()
				return nil
			},
		})
		set = pg.NewSet(m)
	}

	if err := Seed(ctx, set.Accounts, cfg.Accounts); err != nil {
		return store.Set{}, err
	}
	return set, nil
}

// Seed creates configured accounts that do not exist yet and refreshes
// capital and limits of the ones that do. IsActive is never touched for an
// existing account: a tripped account stays inactive across restarts.
func Seed(ctx context.Context, accounts store.Accounts, seeds []config.AccountSeed) error {
	for _, s := range seeds {
		acc := s.Account()
		prev, found, err := accounts.Get(ctx, acc.ID)
		if err != nil {
			return fmt.Errorf("seed %s: %w", acc.ID, err)
		}
		if found {
			acc.IsActive = prev.IsActive
			if acc.ChatID == 0 {
				acc.ChatID = prev.ChatID
			}
		}
		if err := accounts.Upsert(ctx, acc); err != nil {
			return fmt.Errorf("seed %s: %w", acc.ID, err)
		}
		logger.Info("[STORAGE] account %s seeded (capital=%s active=%v)", acc.ID, acc.AllocatedCapital.StringFixed(0), acc.IsActive)
	}
	return nil
}
