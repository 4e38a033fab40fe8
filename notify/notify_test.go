package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/group-ledger/ledger"
	"github.com/warp/group-ledger/service"
)

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

type countingNotifier struct{ n int }

func (c *countingNotifier) Notify(context.Context, service.Event) { c.n++ }

func joined() service.Event {
	return service.Event{
		Type:           service.EventMemberAdded,
		GroupID:        "g1",
		GroupTitle:     "Trip",
		ActorID:        "C",
		SubjectID:      "A",
		SubjectContact: "a@example.com",
		Recipients:     []ledger.UserID{"A", "C"},
		At:             time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestLog_WritesSummary(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	NewLog(logger).Notify(context.Background(), joined())

	assert.Contains(t, buf.String(), `a@example.com joined \"Trip\"`)
	assert.Contains(t, buf.String(), "event=member_added")
	assert.Contains(t, buf.String(), "recipients=2")
}

func TestFanout_ForwardsToAll(t *testing.T) {
	a, b := &countingNotifier{}, &countingNotifier{}

	Fanout{a, b}.Notify(context.Background(), joined())

	assert.Equal(t, 1, a.n)
	assert.Equal(t, 1, b.n)
}

func TestTelegram_Notify(t *testing.T) {
	bot := &fakeBot{}
	tg := newTelegram(bot, -100123, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tg.Notify(context.Background(), joined())

	require.Len(t, bot.sent, 1)
	assert.Equal(t, int64(-100123), bot.sent[0].ChatID)
	assert.Equal(t, `a@example.com joined "Trip"`, bot.sent[0].Text)
}

func TestTelegram_NotifyWithoutChatIsSilent(t *testing.T) {
	bot := &fakeBot{}
	newTelegram(bot, 0, slog.New(slog.NewTextHandler(io.Discard, nil))).Notify(context.Background(), joined())
	assert.Empty(t, bot.sent)
}

func TestTelegram_SendOTP(t *testing.T) {
	bot := &fakeBot{}
	tg := newTelegram(bot, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, tg.SendOTP(context.Background(), "012345", "42"))
	require.Len(t, bot.sent, 1)
	assert.Equal(t, int64(42), bot.sent[0].ChatID)
	assert.Contains(t, bot.sent[0].Text, "012345")

	err := tg.SendOTP(context.Background(), "012345", "c@example.com")
	assert.ErrorContains(t, err, "not a chat id")

	bot.err = errors.New("blocked by user")
	err = tg.SendOTP(context.Background(), "012345", "42")
	assert.ErrorContains(t, err, "blocked by user")
}
