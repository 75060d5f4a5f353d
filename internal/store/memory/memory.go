// Package memory keeps every repository in process maps under one mutex.
// It backs tests and single-process deployments without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"risk_desk/internal/models"
	"risk_desk/internal/store"

	"github.com/shopspring/decimal"
)

type DB struct {
	mu sync.RWMutex

	accounts  map[string]models.Account
	positions map[string]models.Position
	active    map[string]string // accountID -> ACTIVE position id
	limits    map[string]models.RiskLimit
	breakers  map[string][]models.CircuitBreaker
}

func New() *DB {
	return &DB{
		accounts:  make(map[string]models.Account),
		positions: make(map[string]models.Position),
		active:    make(map[string]string),
		limits:    make(map[string]models.RiskLimit),
		breakers:  make(map[string][]models.CircuitBreaker),
	}
}

// Set exposes the DB through the store interfaces.
func (db *DB) Set() store.Set {
	return store.Set{
		Accounts:   (*Accounts)(db),
		Positions:  (*Positions)(db),
		RiskLimits: (*RiskLimits)(db),
		Breakers:   (*Breakers)(db),
	}
}

// ---- accounts ----

type Accounts DB

func (a *Accounts) Get(_ context.Context, id string) (models.Account, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	acc, ok := a.accounts[id]
	if !ok {
		return models.Account{}, false, nil
	}
	return cloneAccount(acc), true, nil
}

func (a *Accounts) List(_ context.Context) ([]models.Account, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.Account, 0, len(a.accounts))
	for _, acc := range a.accounts {
		out = append(out, cloneAccount(acc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (a *Accounts) Upsert(_ context.Context, acc models.Account) error {
	if err := acc.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	if prev, ok := a.accounts[acc.ID]; ok {
		acc.PositionIDs = prev.PositionIDs
		acc.CreatedAt = prev.CreatedAt
	} else if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now
	a.accounts[acc.ID] = cloneAccount(acc)
	return nil
}

func (a *Accounts) SetActive(_ context.Context, id string, active bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := a.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	acc.IsActive = active
	acc.UpdatedAt = time.Now()
	a.accounts[id] = acc
	return nil
}

// ---- positions ----

type Positions DB

func (p *Positions) Insert(_ context.Context, pos models.Position) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	acc, ok := p.accounts[pos.AccountID]
	if !ok {
		return models.ErrNotFound
	}
	if id, ok := p.active[pos.AccountID]; ok {
		return &models.DuplicatePositionError{AccountID: pos.AccountID, PositionID: id}
	}
	p.positions[pos.ID] = pos
	if pos.IsActive() {
		p.active[pos.AccountID] = pos.ID
	}
	acc.PositionIDs = append(append([]string(nil), acc.PositionIDs...), pos.ID)
	p.accounts[pos.AccountID] = acc
	return nil
}

func (p *Positions) Update(_ context.Context, pos models.Position) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, ok := p.positions[pos.ID]
	if !ok {
		return models.ErrNotFound
	}
	if !cur.IsActive() || !pos.IsActive() {
		return models.ErrPositionClosed
	}
	p.positions[pos.ID] = pos
	return nil
}

func (p *Positions) Close(_ context.Context, req store.CloseRequest) (models.Position, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, ok := p.positions[req.ID]
	if !ok {
		return models.Position{}, false, models.ErrNotFound
	}
	if !cur.IsActive() {
		return cur, false, nil
	}
	cur.Status = models.PositionClosed
	cur.ExitPrice = req.ExitPrice
	cur.RealizedPnL = req.RealizedPnL
	cur.UnrealizedPnL = decimal.Zero
	cur.ExitReason = req.Reason
	cur.ClosedAt = req.At
	cur.UpdatedAt = req.At
	p.positions[req.ID] = cur
	delete(p.active, cur.AccountID)
	return cur, true, nil
}

func (p *Positions) Get(_ context.Context, id string) (models.Position, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[id]
	return pos, ok, nil
}

func (p *Positions) Active(_ context.Context, accountID string) (models.Position, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.active[accountID]
	if !ok {
		return models.Position{}, false, nil
	}
	return p.positions[id], true, nil
}

func (p *Positions) ListByAccount(_ context.Context, accountID string) ([]models.Position, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	acc, ok := p.accounts[accountID]
	if !ok {
		return nil, nil
	}
	out := make([]models.Position, 0, len(acc.PositionIDs))
	for _, id := range acc.PositionIDs {
		out = append(out, p.positions[id])
	}
	return out, nil
}

func (p *Positions) ClosedSince(ctx context.Context, accountID string, since time.Time) ([]models.Position, error) {
	all, err := p.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, pos := range all {
		if pos.Status == models.PositionClosed && !pos.ClosedAt.Before(since) {
			out = append(out, pos)
		}
	}
	return out, nil
}

// ---- risk limits ----

type RiskLimits DB

func (r *RiskLimits) ListByAccount(_ context.Context, accountID string) ([]models.RiskLimit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.RiskLimit
	for _, l := range r.limits {
		if l.AccountID == accountID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LimitType < out[j].LimitType })
	return out, nil
}

func (r *RiskLimits) Upsert(_ context.Context, l models.RiskLimit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limits[l.AccountID+":"+string(l.LimitType)] = l
	return nil
}

// ---- breakers ----

type Breakers DB

func (b *Breakers) Save(_ context.Context, cb models.CircuitBreaker) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.breakers[cb.AccountID]
	cb.ActionsLog = append([]models.BreakerAction(nil), cb.ActionsLog...)
	for i := range list {
		if list[i].ID == cb.ID {
			list[i] = cb
			return nil
		}
	}
	b.breakers[cb.AccountID] = append(list, cb)
	return nil
}

func (b *Breakers) Latest(_ context.Context, accountID string) (models.CircuitBreaker, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	list := b.breakers[accountID]
	if len(list) == 0 {
		return models.CircuitBreaker{}, false, nil
	}
	cb := list[len(list)-1]
	cb.ActionsLog = append([]models.BreakerAction(nil), cb.ActionsLog...)
	return cb, true, nil
}

// clone чтобы никто извне не мутировал shared slice
func cloneAccount(in models.Account) models.Account {
	in.PositionIDs = append([]string(nil), in.PositionIDs...)
	return in
}
