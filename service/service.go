/*
service.go - Transaction wrapper around the group aggregate

PURPOSE:
  Runs every group operation as one read-modify-write transaction on one
  group document, then publishes the resulting event. The aggregate in
  ledger/ decides what is allowed; this package decides when it is saved.

TRANSACTION FLOW (mutate):
  ┌──────────────────────────────────────────────────────────────────┐
  │  lock(groupID) ──▶ Get ──▶ fn(group) ──▶ Save(expectedVersion)  │
  │                     ▲                          │                 │
  │                     └── ErrConcurrentModification (bounded) ─────┘
  └──────────────────────────────────────────────────────────────────┘

  1. The per-group lock serializes writers in this process. Different
     groups never wait on each other.
  2. fn works on a freshly loaded copy. An error from fn aborts before
     anything is saved.
  3. Save is a compare-and-swap on Group.Version. A conflict (another
     process wrote first) reloads and reruns fn, at most MaxWriteRetries
     times, then fails with ErrWriteConflict.

SIDE EFFECTS:
  OTP delivery and notifications run after the save and never undo it.

SEE ALSO:
  - operations.go: One method per group operation
  - collaborators.go: Directory, OTPSender, Notifier, Event
  - ledger/store.go: Repository contract
*/
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/group-ledger/ledger"
)

const (
	DefaultOTPTTL          = 10 * time.Minute
	DefaultMaxWriteRetries = 3
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	repo      ledger.Repository
	directory Directory
	otp       OTPSender
	notifier  Notifier
	metrics   *Metrics
	logger    *slog.Logger

	now        func() time.Time
	generate   func() (string, error)
	otpTTL     time.Duration
	maxRetries int

	locks groupLocks
}

type Option func(*Service)

func WithDirectory(d Directory) Option { return func(s *Service) { s.directory = d } }
func WithOTPSender(o OTPSender) Option { return func(s *Service) { s.otp = o } }
func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }
func WithMetrics(m *Metrics) Option { return func(s *Service) { s.metrics = m } }
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithOTPGenerator replaces the random code generator.
func WithOTPGenerator(gen func() (string, error)) Option {
	return func(s *Service) { s.generate = gen }
}

// WithOTPTTL sets how long a settlement code stays valid. Zero disables expiry.
func WithOTPTTL(ttl time.Duration) Option {
	return func(s *Service) { s.otpTTL = ttl }
}

// WithMaxWriteRetries bounds the reload-and-retry loop on version conflicts.
func WithMaxWriteRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

func New(repo ledger.Repository, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		notifier:   nopNotifier{},
		logger:     slog.Default(),
		now:        time.Now,
		generate:   ledger.GenerateOTP,
		otpTTL:     DefaultOTPTTL,
		maxRetries: DefaultMaxWriteRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// TRANSACTION WRAPPER
// =============================================================================

// mutate loads the group, applies fn and saves it with the loaded version,
// retrying on version conflicts. It returns the saved group.
func (s *Service) mutate(ctx context.Context, op string, groupID ledger.GroupID, fn func(g *ledger.Group) error) (*ledger.Group, error) {
	unlock := s.locks.lock(groupID)
	defer unlock()

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		g, err := s.repo.Get(ctx, groupID)
		if err != nil {
			return nil, err
		}
		loaded := g.Version

		if err := fn(g); err != nil {
			return nil, err
		}

		err = s.repo.Save(ctx, g, loaded)
		if err == nil {
			return g, nil
		}
		if !ledger.IsRetryable(err) {
			return nil, fmt.Errorf("failed to save group %s: %w", groupID, err)
		}

		s.metrics.conflict(op)
		s.logger.Warn("group write conflict, retrying",
			"op", op,
			"group_id", groupID,
			"attempt", attempt+1,
			"version", loaded,
		)
	}
	return nil, fmt.Errorf("%w: group %s after %d attempts", ledger.ErrWriteConflict, groupID, s.maxRetries+1)
}

// finish records metrics and logs the outcome of one operation.
func (s *Service) finish(op string, groupID ledger.GroupID, actorID ledger.UserID, start time.Time, err error) {
	s.metrics.observe(op, start, err)

	attrs := []any{
		"op", op,
		"group_id", groupID,
		"actor_id", actorID,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	switch {
	case err == nil:
		s.logger.Info("group operation completed", attrs...)
	case ledger.IsClientError(err) || ledger.IsNotFound(err):
		s.logger.Info("group operation rejected", append(attrs, "error", err)...)
	default:
		s.logger.Error("group operation failed", append(attrs, "error", err)...)
	}
}

// publish sends an event for a committed group.
func (s *Service) publish(ctx context.Context, g *ledger.Group, e Event) {
	e.GroupID = g.ID
	e.GroupTitle = g.Title
	e.Recipients = g.ActiveMembers()
	if e.At.IsZero() {
		e.At = s.now()
	}
	if e.SubjectID != "" && e.SubjectContact == "" {
		e.SubjectContact = s.contact(ctx, e.SubjectID)
	}
	s.notifier.Notify(ctx, e)
}

// contact looks a user up in the directory, returning "" when unknown.
func (s *Service) contact(ctx context.Context, userID ledger.UserID) string {
	if s.directory == nil {
		return ""
	}
	c, err := s.directory.Contact(ctx, userID)
	if err != nil {
		s.logger.Warn("directory lookup failed", "user_id", userID, "error", err)
		return ""
	}
	return c
}

// =============================================================================
// PER-GROUP LOCKS
// =============================================================================

// groupLocks is a keyed mutex. Entries are reference counted and dropped
// when the last holder unlocks.
type groupLocks struct {
	mu    sync.Mutex
	locks map[ledger.GroupID]*groupLock
}

type groupLock struct {
	mu   sync.Mutex
	refs int
}

func (l *groupLocks) lock(id ledger.GroupID) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[ledger.GroupID]*groupLock)
	}
	gl, ok := l.locks[id]
	if !ok {
		gl = &groupLock{}
		l.locks[id] = gl
	}
	gl.refs++
	l.mu.Unlock()

	gl.mu.Lock()
	return func() {
		gl.mu.Unlock()

		l.mu.Lock()
		gl.refs--
		if gl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
