/*
Package notify delivers ledger events and settlement codes.

PURPOSE:
  Adapters behind the service's Notifier and OTPSender interfaces. The
  service publishes only after a successful save, and none of these adapters
  can fail an operation: delivery errors are logged and dropped.

ADAPTERS:
  Log       - writes event summaries to slog (default in development)
  LogOTP    - writes settlement codes to slog; never use in production
  Fanout    - forwards each event to several notifiers
  Telegram  - posts to a chat through the Telegram Bot API (telegram.go)

SEE ALSO:
  - service/collaborators.go: Interfaces and Event
  - cmd/server/main.go: Selection by configuration
*/
package notify

import (
	"context"
	"log/slog"

	"github.com/warp/group-ledger/service"
)

// Log writes every event as one structured log line.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(ctx context.Context, e service.Event) {
	l.logger.InfoContext(ctx, e.Summary(),
		"event", e.Type,
		"group_id", e.GroupID,
		"actor_id", e.ActorID,
		"recipients", len(e.Recipients),
	)
}

// LogOTP prints settlement codes to the log instead of sending them.
type LogOTP struct {
	logger *slog.Logger
}

func NewLogOTP(logger *slog.Logger) *LogOTP {
	return &LogOTP{logger: logger}
}

func (l *LogOTP) SendOTP(ctx context.Context, code, destination string) error {
	l.logger.WarnContext(ctx, "settlement code (log delivery)", "destination", destination, "code", code)
	return nil
}

// Fanout forwards each event to every notifier in order.
type Fanout []service.Notifier

func (f Fanout) Notify(ctx context.Context, e service.Event) {
	for _, n := range f {
		n.Notify(ctx, e)
	}
}
