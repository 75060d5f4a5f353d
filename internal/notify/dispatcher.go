package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"risk_desk/internal/metrics"
	"risk_desk/pkg/logger"
)

type Config struct {
	QueueSize int
	Retries   int           // delivery attempts per alert
	Backoff   time.Duration // first retry delay, doubled every attempt
}

func DefaultConfig() Config {
	return Config{QueueSize: 256, Retries: 3, Backoff: 500 * time.Millisecond}
}

type envelope struct {
	alert  Alert
	chatID int64
}

// Dispatcher queues alerts and delivers them from a single worker with a
// bounded retry. Notify never blocks the caller.
type Dispatcher struct {
	ch  Channel
	cfg Config

	queue chan envelope

	mu    sync.RWMutex
	chats map[string]int64 // accountID -> chat
}

var _ Notifier = (*Dispatcher)(nil)

func NewDispatcher(ch Channel, cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 1
	}
	return &Dispatcher{
		ch:    ch,
		cfg:   cfg,
		queue: make(chan envelope, cfg.QueueSize),
		chats: make(map[string]int64),
	}
}

// Route sends alerts of accountID to chatID instead of the default chat.
func (d *Dispatcher) Route(accountID string, chatID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chats[accountID] = chatID
}

func (d *Dispatcher) chatFor(accountID string) int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.chats[accountID]
}

func (d *Dispatcher) Notify(a Alert) (bool, string) {
	if a == nil {
		return false, "nil alert"
	}
	env := envelope{alert: a, chatID: d.chatFor(a.Account())}
	select {
	case d.queue <- env:
		return true, "queued"
	default:
		metrics.Notify.WithLabelValues("dropped").Inc()
		logger.Error("[NOTIFY] queue full, dropped %s alert for %s", a.Kind(), a.Account())
		return false, "queue full"
	}
}

// Run delivers queued alerts until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-d.queue:
			_ = d.deliver(ctx, env)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, env envelope) error {
	text := env.alert.Text()
	if env.alert.Priority() >= PriorityCritical {
		text = "‼️ " + text
	}

	var err error
	delay := d.cfg.Backoff
	for attempt := 1; attempt <= d.cfg.Retries; attempt++ {
		if err = d.ch.Deliver(ctx, env.chatID, text); err == nil {
			metrics.Notify.WithLabelValues("sent").Inc()
			return nil
		}
		logger.Warn("[NOTIFY] %s alert for %s attempt %d/%d failed: %v",
			env.alert.Kind(), env.alert.Account(), attempt, d.cfg.Retries, err)
		if attempt == d.cfg.Retries {
			break
		}
		metrics.Notify.WithLabelValues("retry").Inc()

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= 2
	}

	metrics.Notify.WithLabelValues("dropped").Inc()
	logger.Error("[NOTIFY] giving up on %s alert for %s after %d attempts: %v",
		env.alert.Kind(), env.alert.Account(), d.cfg.Retries, err)
	return fmt.Errorf("notify: %d attempts: %w", d.cfg.Retries, err)
}
