package broker

import (
	"context"
	"sync"
	"time"

	"risk_desk/internal/models"
	"risk_desk/pkg/logger"

	"github.com/shopspring/decimal"
)

// Quote is a price with its age.
type Quote struct {
	Price decimal.Decimal
	At    time.Time
	Stale bool
}

// LastKnown wraps a feed and falls back to the last good value when the
// feed fails or returns a non-positive price. It never returns zero.
type LastKnown struct {
	feed MarketData
	now  func() time.Time

	mu     sync.RWMutex
	prices map[string]Quote
	vol    *Quote
}

var _ MarketData = (*LastKnown)(nil)

func NewLastKnown(feed MarketData, now func() time.Time) *LastKnown {
	if now == nil {
		now = time.Now
	}
	return &LastKnown{feed: feed, now: now, prices: make(map[string]Quote)}
}

func (l *LastKnown) Quote(ctx context.Context, instrument string) (Quote, error) {
	px, err := l.feed.GetPrice(ctx, instrument)
	if err == nil && px.IsPositive() {
		q := Quote{Price: px, At: l.now()}
		l.mu.Lock()
		l.prices[instrument] = q
		l.mu.Unlock()
		return q, nil
	}

	l.mu.RLock()
	cached, ok := l.prices[instrument]
	l.mu.RUnlock()
	if !ok {
		if err == nil {
			err = errNonPositive
		}
		return Quote{}, &models.ExternalDependencyError{Dependency: "market data " + instrument, Err: err}
	}
	logger.Warn("[MARKET] %s feed unavailable (%v), using last known %s from %s",
		instrument, err, cached.Price, cached.At.Format(time.RFC3339))
	cached.Stale = true
	return cached, nil
}

func (l *LastKnown) GetPrice(ctx context.Context, instrument string) (decimal.Decimal, error) {
	q, err := l.Quote(ctx, instrument)
	return q.Price, err
}

func (l *LastKnown) GetImpliedVolatility(ctx context.Context) (decimal.Decimal, error) {
	v, err := l.feed.GetImpliedVolatility(ctx)
	if err == nil && v.IsPositive() {
		l.mu.Lock()
		l.vol = &Quote{Price: v, At: l.now()}
		l.mu.Unlock()
		return v, nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.vol == nil {
		if err == nil {
			err = errNonPositive
		}
		return decimal.Zero, &models.ExternalDependencyError{Dependency: "implied volatility", Err: err}
	}
	return l.vol.Price, nil
}
