package runner

import (
	"context"
	"time"

	"risk_desk/internal/averaging"
	"risk_desk/internal/breaker"
	"risk_desk/internal/broker"
	"risk_desk/internal/broker/paper"
	"risk_desk/internal/calendar"
	"risk_desk/internal/delta"
	"risk_desk/internal/exits"
	"risk_desk/internal/expiry"
	"risk_desk/internal/gate"
	"risk_desk/internal/margin"
	"risk_desk/internal/models"
	"risk_desk/internal/modules/config"
	"risk_desk/internal/modules/health/service"
	"risk_desk/internal/notify"
	"risk_desk/internal/position"
	"risk_desk/internal/risklimit"
	"risk_desk/internal/store"
	"risk_desk/pkg/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
)

// CandidateSource carries screening output into the entry worker.
type CandidateSource chan models.Candidate

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			gate.New, // *gate.Atomic
			func(cfg *config.Config) CandidateSource {
				return make(CandidateSource, cfg.Runner.CandidateQueue)
			},
			func(md broker.MarketData) broker.OrderExecutor {
				return paper.New(md)
			},
			NewController,
		),
		fx.Invoke(func(
			lc fx.Lifecycle,
			ctx context.Context,
			cfg *config.Config,
			c *Controller,
			g *gate.Atomic,
			cands CandidateSource,
			state *service.State,
		) {
			w := &workers{cfg: cfg.Runner, c: c, gate: g, cands: cands, state: state}
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go w.monitorLoop(ctx)
					go w.entryLoop(ctx)
					return nil
				},
			})
		}),
	)
}

func NewController(
	cfg *config.Config,
	set store.Set,
	md broker.MarketData,
	orders broker.OrderExecutor,
	n notify.Notifier,
	g *gate.Atomic,
) (*Controller, error) {
	cal, err := cfg.Calendar()
	if err != nil {
		return nil, err
	}
	p := cfg.Policy

	marginMgr := margin.NewManager(set.Positions, p.Margin())
	lifecycle := position.NewLifecycle(set.Positions, nil)

	deps := Deps{
		Store:     set,
		Calendar:  cal,
		Margin:    marginMgr,
		Expiry:    expiry.NewSelector(cal, cfg.Expiry(), nil),
		Lifecycle: lifecycle,
		Exits:     exits.NewEngine(cal, p.Exits()),
		Averaging: averaging.NewEngine(set.Positions, marginMgr, p.Averaging(), nil),
		Delta:     delta.NewMonitor(p.Delta()),
		Tracker:   risklimit.NewTracker(set.RiskLimits, set.Positions, cal, p.RiskLimits(), nil),
		Breaker:   breaker.New(set.Accounts, set.Breakers, lifecycle, orders, n, p.Breaker(), nil),
		Market:    md,
		Orders:    orders,
		Notifier:  n,
		Gate:      g,
	}

	instruments := make([]Instrument, 0, len(cfg.Market.Instruments))
	for _, in := range cfg.Market.Instruments {
		instruments = append(instruments, Instrument{
			Symbol:       in.Symbol,
			Class:        in.Class,
			LotSize:      in.LotSize,
			MarginPerLot: decimal.NewFromFloat(in.MarginPerLot),
			StrikeStep:   decimal.NewFromFloat(in.StrikeStep),
			Underlying:   in.Underlying,
		})
	}

	return New(deps, Policy{
		MinConfidence:    p.MinConfidence,
		EntryFraction:    decimal.NewFromFloat(p.EntryFraction),
		StopPct:          decimal.NewFromFloat(p.StopPct),
		TargetPct:        decimal.NewFromFloat(p.TargetPct),
		NeutralStopPct:   decimal.NewFromFloat(p.NeutralStopPct),
		NeutralTargetPct: decimal.NewFromFloat(p.NeutralTargetPct),
		NeutralWingPct:   decimal.NewFromFloat(p.NeutralWingPct),
		AlertCooldown:    cfg.Notify.Cooldown,
		Parallel:         cfg.Runner.Parallel,
	}, instruments), nil
}

type workers struct {
	cfg   config.Runner
	c     *Controller
	gate  *gate.Atomic
	cands CandidateSource
	state *service.State

	lastSummary time.Time // trading day of the last summary
}

func (w *workers) monitorLoop(ctx context.Context) {
	summaryAt, _ := calendar.ParseClock(w.cfg.SummaryAt)
	t := time.NewTicker(w.cfg.MonitorInterval)
	defer t.Stop()

	for {
		w.tick(ctx)

		now := w.c.Now()
		day := w.c.Calendar.Date(now)
		if w.c.Calendar.IsTradingDay(now) && !now.Before(w.c.Calendar.At(now, summaryAt)) && !w.lastSummary.Equal(day) {
			w.lastSummary = day
			if _, err := w.c.DailySummary(ctx); err != nil {
				logger.Error("[SUMMARY] %v", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (w *workers) tick(ctx context.Context) {
	results, err := w.c.Tick(ctx)
	if err != nil {
		logger.Error("[TICK] %v", err)
	}
	tripped := 0
	for _, r := range results {
		if r.Tripped || (r.Breaker != nil && r.Breaker.IsActive) {
			tripped++
		}
	}
	w.state.TouchTick(w.c.Now(), len(results), tripped)
	w.state.SetReady(true)
}

// entryLoop drains queued candidates once per entry window and offers each
// to every active account.
func (w *workers) entryLoop(ctx context.Context) {
	t := time.NewTicker(w.cfg.EntryInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		var batch []models.Candidate
	drain:
		for {
			select {
			case cand := <-w.cands:
				batch = append(batch, cand)
			default:
				break drain
			}
		}
		if len(batch) == 0 {
			continue
		}

		accounts, err := w.c.Store.Accounts.List(ctx)
		if err != nil {
			logger.Error("[ENTRY] list accounts: %v", err)
			continue
		}
		for _, cand := range batch {
			for _, acc := range accounts {
				if !acc.IsActive {
					continue
				}
				res, err := w.c.EvaluateEntry(ctx, w.gate, acc.ID, cand)
				if err == nil {
					logger.Info("[ENTRY] %s admitted: %s", acc.ID, res.Reason)
				}
			}
		}
	}
}
