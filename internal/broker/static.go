package broker

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// Static is a settable in-process feed: reference prices from config when
// no stream is configured, and the feed tests drive.
type Static struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	vol    decimal.Decimal
	err    error
}

var _ MarketData = (*Static)(nil)

func NewStatic(prices map[string]decimal.Decimal, vol decimal.Decimal) *Static {
	s := &Static{prices: make(map[string]decimal.Decimal, len(prices)), vol: vol}
	for k, v := range prices {
		s.prices[k] = v
	}
	return s
}

func (s *Static) Set(instrument string, px decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[instrument] = px
}

func (s *Static) SetVolatility(v decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vol = v
}

// Fail makes every call return err until Fail(nil).
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Static) GetPrice(_ context.Context, instrument string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return decimal.Zero, s.err
	}
	px, ok := s.prices[instrument]
	if !ok {
		return decimal.Zero, ErrNoQuote
	}
	return px, nil
}

func (s *Static) GetImpliedVolatility(context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return decimal.Zero, s.err
	}
	return s.vol, nil
}
