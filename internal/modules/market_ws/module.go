package market_ws

import (
	"context"

	"risk_desk/internal/broker"
	"risk_desk/internal/modules/config"
	healthsvc "risk_desk/internal/modules/health/service"
	"risk_desk/internal/modules/market_ws/service"
	"risk_desk/pkg/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
)

// Module provides broker.MarketData. With market_ws.url set the stream
// feeds it; otherwise reference prices from the instrument table do.
func Module() fx.Option {
	return fx.Module("market_ws",
		fx.Provide(
			service.NewFeed,
			NewMarketData,
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, feed *service.Feed, state *healthsvc.State) {
			if cfg.MarketWS.URL == "" {
				return
			}
			c := service.NewClient(clientConfig(cfg), feed, state)
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						defer close(done)
						c.Run(ctx)
					}()
					return nil
				},
				OnStop: func(stop context.Context) error {
					cancel()
					select {
					case <-done:
					case <-stop.Done():
					}
					return nil
				},
			})
		}),
	)
}

func clientConfig(cfg *config.Config) service.Config {
	ids := make([]string, 0, len(cfg.Market.Instruments))
	seen := make(map[string]bool)
	for _, in := range cfg.Market.Instruments {
		for _, id := range []string{in.Symbol, in.Underlying} {
			if id != "" && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return service.Config{
		URL:            cfg.MarketWS.URL,
		Instruments:    ids,
		ReconnectDelay: cfg.MarketWS.ReconnectDelay,
		PingEvery:      cfg.MarketWS.PingEvery,
	}
}

// NewMarketData: the stream feed seeded with reference prices, or a static
// feed of the reference prices alone.
func NewMarketData(cfg *config.Config, feed *service.Feed) broker.MarketData {
	prices := make(map[string]decimal.Decimal, len(cfg.Market.Instruments))
	for _, in := range cfg.Market.Instruments {
		if in.RefPrice > 0 {
			prices[in.Symbol] = decimal.NewFromFloat(in.RefPrice)
		}
	}
	vol := decimal.NewFromFloat(cfg.Market.Volatility)

	if cfg.MarketWS.URL == "" {
		logger.Warn("[MARKET] market_ws.url is empty, using reference prices for %d instruments", len(prices))
		return broker.NewStatic(prices, vol)
	}
	feed.Seed(prices, vol)
	return feed
}
