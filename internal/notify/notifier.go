package notify

import (
	"context"
	"errors"

	"risk_desk/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Channel is the push transport alerts go out through.
type Channel interface {
	Deliver(ctx context.Context, chatID int64, text string) error
}

// Notifier is what the controller talks to: fire-and-forget.
type Notifier interface {
	Notify(a Alert) (ok bool, detail string)
}

var ErrNoChat = errors.New("telegram: no chat id")

// Telegram: пассивный канал: только отправка сообщений.
type Telegram struct {
	bot         *tgbot.BotAPI
	defaultChat int64
}

func NewTelegram(bot *tgbot.BotAPI, defaultChat int64) *Telegram {
	return &Telegram{bot: bot, defaultChat: defaultChat}
}

func (t *Telegram) Deliver(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if chatID == 0 {
		chatID = t.defaultChat
	}
	if chatID == 0 {
		return ErrNoChat
	}
	_, err := t.bot.Send(tgbot.NewMessage(chatID, text))
	return err
}

// Stdout: заглушка, всё пишет в лог.
type Stdout struct{}

func NewStdout() *Stdout { return &Stdout{} }

func (s *Stdout) Deliver(_ context.Context, chatID int64, text string) error {
	logger.Info("[NOTIFY] chat=%d %s", chatID, text)
	return nil
}
