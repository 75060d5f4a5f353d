package main

import (
	"context"
	"log"

	"risk_desk/internal/modules/config"
	"risk_desk/internal/modules/health"
	"risk_desk/internal/modules/market_ws"
	"risk_desk/internal/modules/storage"
	telegram "risk_desk/internal/modules/telegram_bot"
	"risk_desk/internal/runner"
	"risk_desk/pkg/logger"
	"risk_desk/pkg/tracing"

	"go.uber.org/fx"
)

const serviceName = "risk_desk"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return ctx
			},
		),
		config.Module(),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config) error {
			return observability(lc, cfg, cancel)
		}),
		storage.Module(),
		health.Module(),
		market_ws.Module(),
		runner.Module(),
		telegram.Module(),
	)
	if err := app.Err(); err != nil {
		log.Fatal(err)
	}
	app.Run()
}

// observability sets up logging and tracing and stops the workers' context
// on shutdown.
func observability(lc fx.Lifecycle, cfg *config.Config, cancel context.CancelFunc) error {
	logger.SetServiceName(serviceName)
	tracing.SetServiceName(serviceName)
	if err := logger.Init(cfg.Logger); err != nil {
		return err
	}
	_, closeTracer, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		return err
	}
	logger.Info("[BOOT] %d accounts, %d instruments, tracing=%v", len(cfg.Accounts), len(cfg.Market.Instruments), cfg.Tracing.Enabled)

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			cancel()
			closeTracer()
			logger.Sync()
			return nil
		},
	})
	return nil
}
