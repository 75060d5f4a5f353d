package telegram

import (
	"context"

	"risk_desk/internal/gate"
	"risk_desk/internal/modules/config"
	"risk_desk/internal/modules/telegram_bot/service"
	"risk_desk/internal/notify"
	"risk_desk/internal/runner"
	"risk_desk/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(
			NewBotAPI,
			NewDispatcher,
			func(d *notify.Dispatcher) notify.Notifier { return d },
			func(c *runner.Controller) service.Operator { return c },
			NewBot,
		),
		fx.Invoke(func(lc fx.Lifecycle, d *notify.Dispatcher, b *service.Bot) {
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go d.Run(ctx)
					go b.Run(ctx)
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
		}),
	)
}

// NewBotAPI returns nil without a token: alerts then go to the log.
func NewBotAPI(cfg *config.Config) (*tgbot.BotAPI, error) {
	if cfg.Telegram.Token == "" {
		logger.Warn("[TG] TELEGRAM_TOKEN is empty, alerts go to the log only")
		return nil, nil
	}
	return tgbot.NewBotAPI(cfg.Telegram.Token)
}

// NewDispatcher routes every account with its own chat there and the rest
// to the desk chat.
func NewDispatcher(cfg *config.Config, bot *tgbot.BotAPI) *notify.Dispatcher {
	var ch notify.Channel = notify.NewStdout()
	if bot != nil {
		ch = notify.NewTelegram(bot, cfg.Telegram.ChatID)
	}
	d := notify.NewDispatcher(ch, cfg.Notify.Dispatcher())
	for _, a := range cfg.Accounts {
		if a.ChatID != 0 {
			d.Route(a.ID, a.ChatID)
		}
	}
	return d
}

func NewBot(cfg *config.Config, bot *tgbot.BotAPI, ops service.Operator, g *gate.Atomic, cands runner.CandidateSource) *service.Bot {
	chats := []int64{cfg.Telegram.ChatID}
	for _, a := range cfg.Accounts {
		chats = append(chats, a.ChatID)
	}
	return service.NewBot(bot, ops, g, cands, chats)
}
