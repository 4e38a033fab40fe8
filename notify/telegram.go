package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/warp/group-ledger/service"
)

// sender is the part of *tgbotapi.BotAPI we use.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts event summaries to one chat and sends settlement codes as
// direct messages. A code's destination must be a numeric chat id.
type Telegram struct {
	api    sender
	chatID int64
	logger *slog.Logger
}

// NewTelegram connects with the bot token. A zero chatID disables event
// posting but keeps code delivery.
func NewTelegram(token string, chatID int64, logger *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect telegram bot: %w", err)
	}
	logger.Info("telegram bot authorized", "account", api.Self.UserName)
	return newTelegram(api, chatID, logger), nil
}

func newTelegram(api sender, chatID int64, logger *slog.Logger) *Telegram {
	return &Telegram{api: api, chatID: chatID, logger: logger}
}

func (t *Telegram) Notify(ctx context.Context, e service.Event) {
	if t.chatID == 0 {
		return
	}
	if _, err := t.api.Send(tgbotapi.NewMessage(t.chatID, e.Summary())); err != nil {
		t.logger.WarnContext(ctx, "telegram notify failed", "event", e.Type, "group_id", e.GroupID, "error", err)
	}
}

func (t *Telegram) SendOTP(_ context.Context, code, destination string) error {
	chatID, err := strconv.ParseInt(destination, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram destination %q is not a chat id", destination)
	}
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Your settlement code is %s", code))
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send settlement code: %w", err)
	}
	return nil
}
