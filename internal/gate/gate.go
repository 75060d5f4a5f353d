// Package gate is the desk-wide trading pause switch.
package gate

import (
	"sync"
	"sync/atomic"
	"time"

	"risk_desk/pkg/logger"
)

type TradingGate interface {
	IsPaused() bool
	Pause(reason string)
	Resume()
}

type State struct {
	Paused bool      `json:"paused"`
	Reason string    `json:"reason,omitempty"`
	Since  time.Time `json:"since,omitempty"`
}

// Atomic is the in-process TradingGate. IsPaused is lock-free; the reason
// is kept for status output only.
type Atomic struct {
	paused atomic.Bool

	mu    sync.Mutex
	state State
}

var _ TradingGate = (*Atomic)(nil)

func New() *Atomic { return &Atomic{} }

func (g *Atomic) IsPaused() bool { return g.paused.Load() }

func (g *Atomic) Pause(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = State{Paused: true, Reason: reason, Since: time.Now()}
	g.paused.Store(true)
	logger.Warn("[GATE] trading paused: %s", reason)
}

func (g *Atomic) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused.Load() {
		return
	}
	g.state = State{Since: time.Now()}
	g.paused.Store(false)
	logger.Info("[GATE] trading resumed")
}

func (g *Atomic) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}
