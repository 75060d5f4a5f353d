// Package paper fills orders at the current feed price without a venue.
package paper

import (
	"context"
	"sync"

	"risk_desk/internal/broker"
	"risk_desk/internal/models"
	"risk_desk/pkg/logger"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Executor struct {
	feed broker.MarketData

	mu    sync.Mutex
	fills []broker.Fill
}

var _ broker.OrderExecutor = (*Executor)(nil)

func New(feed broker.MarketData) *Executor {
	return &Executor{feed: feed}
}

func (e *Executor) PlaceOrder(ctx context.Context, spec broker.OrderSpec) (broker.Fill, error) {
	if spec.Quantity <= 0 {
		return broker.Fill{}, &models.InvalidInputError{Field: "order.quantity", Reason: "must be positive"}
	}

	px, err := e.feed.GetPrice(ctx, spec.Instrument)
	if err != nil {
		return broker.Fill{}, errors.Wrapf(err, "paper: price for %s", spec.Instrument)
	}
	fill := broker.Fill{OrderID: "paper-" + uuid.NewString(), FilledPrice: px}

	e.mu.Lock()
	e.fills = append(e.fills, fill)
	e.mu.Unlock()

	logger.Info("[PAPER] %s %s %s x%d @ %s (%s) id=%s",
		spec.AccountID, spec.Side, spec.Instrument, spec.Quantity, px, spec.Reason, fill.OrderID)
	return fill, nil
}

// Fills returns a copy of every fill so far.
func (e *Executor) Fills() []broker.Fill {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]broker.Fill(nil), e.fills...)
}
