package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"risk_desk/internal/gate"
	"risk_desk/internal/models"
	"risk_desk/internal/runner"
	"risk_desk/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

// Operator is the slice of the controller the desk chat may drive.
type Operator interface {
	Accounts(ctx context.Context) ([]models.Account, error)
	Status(ctx context.Context, accountID string) (runner.AccountStatus, error)
	ResetBreaker(ctx context.Context, accountID, by string) (models.CircuitBreaker, error)
	Reactivate(ctx context.Context, accountID string) error
	Deactivate(ctx context.Context, accountID string) error
	ClosePosition(ctx context.Context, accountID, by string) (models.Position, error)
}

// Bot answers desk commands. Only the desk chat and the account chats
// from config are served; everything else is ignored.
type Bot struct {
	api   *tgbot.BotAPI
	ops   Operator
	gate  *gate.Atomic
	cands chan<- models.Candidate

	allowed map[int64]bool
}

func NewBot(api *tgbot.BotAPI, ops Operator, g *gate.Atomic, cands chan<- models.Candidate, chats []int64) *Bot {
	allowed := make(map[int64]bool, len(chats))
	for _, id := range chats {
		if id != 0 {
			allowed[id] = true
		}
	}
	return &Bot{api: api, ops: ops, gate: g, cands: cands, allowed: allowed}
}

// Run reads updates until ctx is done. Without an API it returns at once.
func (b *Bot) Run(ctx context.Context) {
	if b.api == nil {
		return
	}
	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)
	logger.Info("[TG] listening for commands as @%s", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			msg := upd.Message
			if msg == nil || !msg.IsCommand() {
				continue
			}
			reply := b.Handle(ctx, msg.Chat.ID, who(msg), msg.Command(), msg.CommandArguments())
			if reply == "" {
				continue
			}
			if _, err := b.api.Send(tgbot.NewMessage(msg.Chat.ID, reply)); err != nil {
				logger.Warn("[TG] reply to %d: %v", msg.Chat.ID, err)
			}
		}
	}
}

func who(msg *tgbot.Message) string {
	if msg.From == nil {
		return strconv.FormatInt(msg.Chat.ID, 10)
	}
	if msg.From.UserName != "" {
		return "@" + msg.From.UserName
	}
	return strconv.FormatInt(msg.From.ID, 10)
}

// Handle runs one command and returns the reply text.
func (b *Bot) Handle(ctx context.Context, chatID int64, by, command, args string) string {
	if !b.allowed[chatID] {
		logger.Warn("[TG] /%s from unknown chat %d ignored", command, chatID)
		return ""
	}
	fields := strings.Fields(args)

	switch command {
	case "start", "help":
		return helpText
	case "status":
		return b.status(ctx, fields)
	case "pause":
		reason := strings.TrimSpace(args)
		if reason == "" {
			reason = "paused by " + by
		}
		b.gate.Pause(reason)
		return "⏸ Новые входы и усреднения остановлены: " + reason
	case "resume":
		b.gate.Resume()
		return "▶️ Торговля возобновлена"
	case "candidate":
		return b.candidate(fields)
	case "reset":
		if len(fields) != 1 {
			return "Формат: /reset <account>"
		}
		cb, err := b.ops.ResetBreaker(ctx, fields[0], by)
		if err != nil {
			return "⚠️ " + err.Error()
		}
		return fmt.Sprintf("✅ Breaker %s сброшен (%s). Аккаунт остаётся выключенным до /reactivate", fields[0], cb.TriggerType)
	case "reactivate":
		if len(fields) != 1 {
			return "Формат: /reactivate <account>"
		}
		if err := b.ops.Reactivate(ctx, fields[0]); err != nil {
			return "⚠️ " + err.Error()
		}
		return "✅ " + fields[0] + " снова принимает входы"
	case "deactivate":
		if len(fields) != 1 {
			return "Формат: /deactivate <account>"
		}
		if err := b.ops.Deactivate(ctx, fields[0]); err != nil {
			return "⚠️ " + err.Error()
		}
		return "⏹ " + fields[0] + " выключен, открытая позиция остаётся под контролем"
	case "close":
		if len(fields) != 1 {
			return "Формат: /close <account>"
		}
		p, err := b.ops.ClosePosition(ctx, fields[0], by)
		if err != nil {
			return "⚠️ " + err.Error()
		}
		return fmt.Sprintf("✅ %s %s закрыта по %s, PnL %s", fields[0], p.Instrument, p.ExitPrice, p.RealizedPnL.StringFixed(0))
	}
	return "Неизвестная команда /" + command + "\n\n" + helpText
}

func (b *Bot) status(ctx context.Context, fields []string) string {
	var ids []string
	if len(fields) > 0 {
		ids = fields
	} else {
		accounts, err := b.ops.Accounts(ctx)
		if err != nil {
			return "⚠️ " + err.Error()
		}
		for _, a := range accounts {
			ids = append(ids, a.ID)
		}
	}
	if len(ids) == 0 {
		return "Аккаунтов нет"
	}

	var sb strings.Builder
	if st := b.gate.State(); st.Paused {
		fmt.Fprintf(&sb, "⏸ Пауза: %s\n\n", st.Reason)
	}
	for i, id := range ids {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		st, err := b.ops.Status(ctx, id)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				fmt.Fprintf(&sb, "%s: не найден", id)
				continue
			}
			fmt.Fprintf(&sb, "%s: ⚠️ %v", id, err)
			continue
		}
		sb.WriteString(formatStatus(st))
	}
	return sb.String()
}

// /candidate NIFTY-FUT LONG 0.75
func (b *Bot) candidate(fields []string) string {
	if len(fields) != 3 {
		return "Формат: /candidate <instrument> <LONG|SHORT|NEUTRAL> <confidence>"
	}
	dir := models.Direction(strings.ToUpper(fields[1]))
	if !dir.Valid() {
		return "Направление: LONG, SHORT или NEUTRAL"
	}
	conf, err := strconv.ParseFloat(strings.ReplaceAll(fields[2], ",", "."), 64)
	if err != nil || conf < 0 || conf > 1 {
		return "Уверенность: число от 0 до 1"
	}
	cand := models.Candidate{Instrument: fields[0], Direction: dir, ConfidenceScore: conf}
	select {
	case b.cands <- cand:
		return fmt.Sprintf("📥 %s %s (%.2f) в очереди на следующий вход", cand.Instrument, cand.Direction, conf)
	default:
		return "⚠️ Очередь кандидатов заполнена, попробуй позже"
	}
}

const helpText = "Команды:\n" +
	"/status [account] - маржа, лимиты, позиция\n" +
	"/pause [причина] - стоп новых входов\n" +
	"/resume - снять паузу\n" +
	"/candidate <instrument> <direction> <confidence>\n" +
	"/reset <account> - сбросить breaker после cooldown\n" +
	"/reactivate <account>\n" +
	"/deactivate <account>\n" +
	"/close <account> - закрыть позицию вручную"
