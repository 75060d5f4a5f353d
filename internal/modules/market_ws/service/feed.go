package service

import (
	"context"
	"sync"
	"time"

	"risk_desk/internal/broker"

	"github.com/shopspring/decimal"
)

// Feed is the in-memory view of the stream: the last price per
// instrument and the last volatility reading.
type Feed struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	at     map[string]time.Time
	vol    decimal.Decimal
}

var _ broker.MarketData = (*Feed)(nil)

func NewFeed() *Feed {
	return &Feed{prices: make(map[string]decimal.Decimal), at: make(map[string]time.Time)}
}

func (f *Feed) setPrice(instID string, px decimal.Decimal, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// кадры могут прийти не по порядку
	if prev, ok := f.at[instID]; ok && at.Before(prev) {
		return
	}
	f.prices[instID] = px
	f.at[instID] = at
}

func (f *Feed) setVolatility(v decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vol = v
}

// Seed fills prices that the stream has not delivered yet.
func (f *Feed) Seed(prices map[string]decimal.Decimal, vol decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range prices {
		if _, ok := f.prices[k]; !ok && v.IsPositive() {
			f.prices[k] = v
		}
	}
	if !f.vol.IsPositive() {
		f.vol = vol
	}
}

func (f *Feed) GetPrice(_ context.Context, instrument string) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	px, ok := f.prices[instrument]
	if !ok {
		return decimal.Zero, broker.ErrNoQuote
	}
	return px, nil
}

func (f *Feed) GetImpliedVolatility(context.Context) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.vol.IsPositive() {
		return decimal.Zero, broker.ErrNoQuote
	}
	return f.vol, nil
}

// LastUpdate is when the stream last moved instrument.
func (f *Feed) LastUpdate(instrument string) time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.at[instrument]
}
