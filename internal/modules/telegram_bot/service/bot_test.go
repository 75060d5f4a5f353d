package service

import (
	"context"
	"testing"
	"time"

	"risk_desk/internal/gate"
	"risk_desk/internal/margin"
	"risk_desk/internal/models"
	"risk_desk/internal/runner"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOps struct {
	accounts    []models.Account
	status      map[string]runner.AccountStatus
	resetBy     string
	reactivated []string
	reactErr    error
	closedBy    string
}

func (f *fakeOps) Accounts(context.Context) ([]models.Account, error) { return f.accounts, nil }

func (f *fakeOps) Status(_ context.Context, id string) (runner.AccountStatus, error) {
	st, ok := f.status[id]
	if !ok {
		return runner.AccountStatus{}, models.ErrNotFound
	}
	return st, nil
}

func (f *fakeOps) ResetBreaker(_ context.Context, id, by string) (models.CircuitBreaker, error) {
	f.resetBy = by
	return models.CircuitBreaker{AccountID: id, TriggerType: models.LimitDailyLoss}, nil
}

func (f *fakeOps) Reactivate(_ context.Context, id string) error {
	if f.reactErr != nil {
		return f.reactErr
	}
	f.reactivated = append(f.reactivated, id)
	return nil
}

func (f *fakeOps) Deactivate(context.Context, string) error { return nil }

func (f *fakeOps) ClosePosition(_ context.Context, id, by string) (models.Position, error) {
	if id != "desk-main" {
		return models.Position{}, models.ErrNotFound
	}
	f.closedBy = by
	return models.Position{
		AccountID: id, Instrument: "NIFTY-FUT", Status: models.PositionClosed,
		ExitPrice: decimal.NewFromInt(21950), RealizedPnL: decimal.NewFromInt(-1250), ExitReason: models.ExitManual,
	}, nil
}

const desk = int64(-1001)

func newBot(t *testing.T) (*Bot, *fakeOps, *gate.Atomic, chan models.Candidate) {
	t.Helper()
	ops := &fakeOps{
		accounts: []models.Account{{ID: "desk-main", IsActive: true}},
		status: map[string]runner.AccountStatus{
			"desk-main": {
				Account: models.Account{ID: "desk-main", IsActive: true},
				Margin:  margin.Snapshot{Total: decimal.NewFromInt(1000000), Usable: decimal.NewFromInt(425000), Deployed: decimal.NewFromInt(150000)},
				Limits: []models.RiskLimit{{
					LimitType: models.LimitDailyLoss, LimitValue: decimal.NewFromInt(20000), CurrentValue: decimal.NewFromInt(5000),
				}},
				Breaker: &models.CircuitBreaker{IsActive: true, TriggerType: models.LimitWeeklyLoss, CooldownUntil: time.Date(2024, 1, 23, 10, 0, 0, 0, time.UTC)},
			},
		},
	}
	g := gate.New()
	cands := make(chan models.Candidate, 1)
	return NewBot(nil, ops, g, cands, []int64{desk, 0}), ops, g, cands
}

func TestHandle_UnknownChatIgnored(t *testing.T) {
	b, _, g, _ := newBot(t)
	assert.Empty(t, b.Handle(context.Background(), 42, "@x", "pause", ""))
	assert.False(t, g.IsPaused())
}

func TestHandle_PauseResume(t *testing.T) {
	b, _, g, _ := newBot(t)
	reply := b.Handle(context.Background(), desk, "@ops", "pause", "RBI policy")
	assert.Contains(t, reply, "RBI policy")
	require.True(t, g.IsPaused())
	assert.Equal(t, "RBI policy", g.State().Reason)

	b.Handle(context.Background(), desk, "@ops", "resume", "")
	assert.False(t, g.IsPaused())
}

func TestHandle_Status(t *testing.T) {
	b, _, _, _ := newBot(t)
	reply := b.Handle(context.Background(), desk, "@ops", "status", "")
	assert.Contains(t, reply, "desk-main")
	assert.Contains(t, reply, "DAILY_LOSS: 5000 / 20000 (25.0%)")
	assert.Contains(t, reply, "Позиции нет")
	assert.Contains(t, reply, "Breaker WEEKLY_LOSS")

	reply = b.Handle(context.Background(), desk, "@ops", "status", "ghost")
	assert.Contains(t, reply, "ghost: не найден")
}

func TestHandle_Candidate(t *testing.T) {
	b, _, _, cands := newBot(t)
	ctx := context.Background()

	assert.Contains(t, b.Handle(ctx, desk, "@ops", "candidate", "NIFTY-FUT up 0.7"), "LONG, SHORT")
	assert.Contains(t, b.Handle(ctx, desk, "@ops", "candidate", "NIFTY-FUT long 1.7"), "от 0 до 1")

	reply := b.Handle(ctx, desk, "@ops", "candidate", "NIFTY-FUT long 0,75")
	assert.Contains(t, reply, "в очереди")
	got := <-cands
	assert.Equal(t, models.Candidate{Instrument: "NIFTY-FUT", Direction: models.DirectionLong, ConfidenceScore: 0.75}, got)

	// queue of one: second push fills it, third is refused
	b.Handle(ctx, desk, "@ops", "candidate", "NIFTY-FUT short 0.9")
	assert.Contains(t, b.Handle(ctx, desk, "@ops", "candidate", "NIFTY-FUT short 0.9"), "заполнена")
}

func TestHandle_BreakerActions(t *testing.T) {
	b, ops, _, _ := newBot(t)
	ctx := context.Background()

	assert.Contains(t, b.Handle(ctx, desk, "@ops", "reset", ""), "Формат")
	reply := b.Handle(ctx, desk, "@ops", "reset", "desk-main")
	assert.Contains(t, reply, "сброшен")
	assert.Equal(t, "@ops", ops.resetBy)

	ops.reactErr = errors.Wrap(models.ErrBreakerActive, "reactivate")
	assert.Contains(t, b.Handle(ctx, desk, "@ops", "reactivate", "desk-main"), models.ErrBreakerActive.Error())
	ops.reactErr = nil
	b.Handle(ctx, desk, "@ops", "reactivate", "desk-main")
	assert.Equal(t, []string{"desk-main"}, ops.reactivated)
}

func TestHandle_Unknown(t *testing.T) {
	b, _, _, _ := newBot(t)
	assert.Contains(t, b.Handle(context.Background(), desk, "@ops", "moon", ""), "Неизвестная команда")
}

func TestHandle_Close(t *testing.T) {
	b, ops, _, _ := newBot(t)
	ctx := context.Background()

	assert.Contains(t, b.Handle(ctx, desk, "@ops", "close", ""), "Формат")

	reply := b.Handle(ctx, desk, "@ops", "close", "desk-main")
	assert.Contains(t, reply, "NIFTY-FUT")
	assert.Contains(t, reply, "-1250")
	assert.Equal(t, "@ops", ops.closedBy)

	assert.Contains(t, b.Handle(ctx, desk, "@ops", "close", "ghost"), "⚠️")
}
