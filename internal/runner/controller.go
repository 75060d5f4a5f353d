// Package runner drives the controller: entry evaluation, per-tick
// monitoring of every account, daily summaries and manual actions.
// Everything that touches one account runs under that account's lock.
package runner

import (
	"context"
	"sync"
	"time"

	"risk_desk/internal/averaging"
	"risk_desk/internal/breaker"
	"risk_desk/internal/broker"
	"risk_desk/internal/calendar"
	"risk_desk/internal/delta"
	"risk_desk/internal/exits"
	"risk_desk/internal/expiry"
	"risk_desk/internal/gate"
	"risk_desk/internal/margin"
	"risk_desk/internal/models"
	"risk_desk/internal/notify"
	"risk_desk/internal/position"
	"risk_desk/internal/risklimit"
	"risk_desk/internal/store"
	"risk_desk/pkg/logger"

	"github.com/shopspring/decimal"
)

// Instrument is one tradable contract from the instrument table.
type Instrument struct {
	Symbol       string
	Class        models.InstrumentClass
	LotSize      int64
	MarginPerLot decimal.Decimal
	StrikeStep   decimal.Decimal
	Underlying   string // spot series for strikes and delta, NEUTRAL only
}

type Policy struct {
	MinConfidence float64
	EntryFraction decimal.Decimal // share of max lots a first entry takes; 0 means all

	// stop/target distance from the fill, in percent
	StopPct          decimal.Decimal
	TargetPct        decimal.Decimal
	NeutralStopPct   decimal.Decimal
	NeutralTargetPct decimal.Decimal
	NeutralWingPct   decimal.Decimal

	AlertCooldown time.Duration
	Parallel      int
}

type Deps struct {
	Store     store.Set
	Calendar  *calendar.Calendar
	Margin    *margin.Manager
	Expiry    *expiry.Selector
	Lifecycle *position.Lifecycle
	Exits     *exits.Engine
	Averaging *averaging.Engine
	Delta     *delta.Monitor
	Tracker   *risklimit.Tracker
	Breaker   *breaker.Breaker
	Market    broker.MarketData
	Orders    broker.OrderExecutor
	Notifier  notify.Notifier
	Gate      gate.TradingGate // averaging adds exposure and stops with entries
	Now       func() time.Time
}

type Controller struct {
	Deps
	quotes      *broker.LastKnown
	policy      Policy
	instruments map[string]Instrument

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	sentMu sync.Mutex
	sent   map[string]time.Time // alert key -> last sent
}

func New(d Deps, policy Policy, instruments []Instrument) *Controller {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Gate == nil {
		d.Gate = gate.New()
	}
	if policy.Parallel <= 0 {
		policy.Parallel = 1
	}
	byName := make(map[string]Instrument, len(instruments))
	for _, in := range instruments {
		byName[in.Symbol] = in
	}
	return &Controller{
		Deps:        d,
		quotes:      broker.NewLastKnown(d.Market, d.Now),
		policy:      policy,
		instruments: byName,
		locks:       make(map[string]*sync.Mutex),
		sent:        make(map[string]time.Time),
	}
}

// lock serialises everything that reads or mutates one account's
// position, limits and breaker.
func (c *Controller) lock(accountID string) func() {
	c.locksMu.Lock()
	mu, ok := c.locks[accountID]
	if !ok {
		mu = &sync.Mutex{}
		c.locks[accountID] = mu
	}
	c.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// canSend: не чаще одного алерта с ключом key за every.
func (c *Controller) canSend(key string, every time.Duration) bool {
	now := c.Now()
	c.sentMu.Lock()
	defer c.sentMu.Unlock()
	if last, ok := c.sent[key]; ok && now.Sub(last) < every {
		return false
	}
	c.sent[key] = now
	return true
}

func (c *Controller) notify(a notify.Alert) {
	if c.Notifier == nil {
		return
	}
	if ok, detail := c.Notifier.Notify(a); !ok {
		logger.Warn("[NOTIFY] %s alert for %s not queued: %s", a.Kind(), a.Account(), detail)
	}
}

func (c *Controller) account(ctx context.Context, accountID string) (models.Account, error) {
	acc, found, err := c.Store.Accounts.Get(ctx, accountID)
	if err != nil {
		return models.Account{}, err
	}
	if !found {
		return models.Account{}, models.ErrNotFound
	}
	return acc, nil
}

// price is the last known price of instrument, never zero.
func (c *Controller) price(ctx context.Context, instrument string) (decimal.Decimal, error) {
	return c.quotes.GetPrice(ctx, instrument)
}
