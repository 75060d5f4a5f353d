package market_ws

import (
	"context"
	"testing"

	"risk_desk/internal/broker"
	"risk_desk/internal/models"
	"risk_desk/internal/modules/config"
	"risk_desk/internal/modules/market_ws/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Market.Volatility = 14.5
	cfg.Market.Instruments = []config.Instrument{
		{Symbol: "NIFTY-FUT", Class: models.ClassFutures, LotSize: 50, MarginPerLot: 120000, RefPrice: 21950},
		{Symbol: "NIFTY-STRANGLE", Class: models.ClassOptions, LotSize: 50, MarginPerLot: 150000, StrikeStep: 50, Underlying: "NIFTY-FUT", RefPrice: 180},
	}
	return &cfg
}

func TestNewMarketData_StaticWithoutURL(t *testing.T) {
	md := NewMarketData(testConfig(), service.NewFeed())
	_, ok := md.(*broker.Static)
	require.True(t, ok)

	px, err := md.GetPrice(context.Background(), "NIFTY-STRANGLE")
	require.NoError(t, err)
	assert.True(t, px.Equal(decimal.NewFromInt(180)))
	iv, err := md.GetImpliedVolatility(context.Background())
	require.NoError(t, err)
	assert.True(t, iv.Equal(decimal.RequireFromString("14.5")))
}

func TestNewMarketData_StreamSeeded(t *testing.T) {
	cfg := testConfig()
	cfg.MarketWS.URL = "ws://127.0.0.1:1/ws"
	feed := service.NewFeed()

	md := NewMarketData(cfg, feed)
	assert.Same(t, feed, md)
	px, err := md.GetPrice(context.Background(), "NIFTY-FUT")
	require.NoError(t, err)
	assert.True(t, px.Equal(decimal.NewFromInt(21950)))
}

func TestClientConfig_SubscribesUnderlyingOnce(t *testing.T) {
	cfg := testConfig()
	cfg.MarketWS.URL = "ws://example/ws"
	cc := clientConfig(cfg)
	assert.Equal(t, []string{"NIFTY-FUT", "NIFTY-STRANGLE"}, cc.Instruments)
	assert.Equal(t, cfg.MarketWS.PingEvery, cc.PingEvery)
}
