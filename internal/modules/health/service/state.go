package service

import (
	"sync/atomic"
	"time"
)

type State struct {
	ready     atomic.Bool
	startedAt time.Time

	wsConnected  atomic.Bool
	lastTickUnix atomic.Int64 // unix seconds
	tickAccounts atomic.Int64
	tripped      atomic.Int64 // accounts with an active breaker after the last tick
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetWSConnected(v bool) { s.wsConnected.Store(v) }
func (s *State) WSConnected() bool     { return s.wsConnected.Load() }

// TouchTick records a finished monitor tick.
func (s *State) TouchTick(t time.Time, accounts, tripped int) {
	s.lastTickUnix.Store(t.Unix())
	s.tickAccounts.Store(int64(accounts))
	s.tripped.Store(int64(tripped))
}

func (s *State) LastTick() time.Time {
	u := s.lastTickUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (s *State) TickAccounts() int { return int(s.tickAccounts.Load()) }
func (s *State) Tripped() int      { return int(s.tripped.Load()) }

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
