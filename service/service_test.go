package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/group-ledger/ledger"
	"github.com/warp/group-ledger/ledger/store"
	"github.com/warp/group-ledger/service"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

type recordingNotifier struct {
	mu     sync.Mutex
	events []service.Event
}

func (n *recordingNotifier) Notify(_ context.Context, e service.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) types() []service.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]service.EventType, len(n.events))
	for i, e := range n.events {
		out[i] = e.Type
	}
	return out
}

type captureSender struct {
	code, destination string
	err               error
}

func (c *captureSender) SendOTP(_ context.Context, code, destination string) error {
	c.code, c.destination = code, destination
	return c.err
}

type mapDirectory map[ledger.UserID]string

func (d mapDirectory) Contact(_ context.Context, u ledger.UserID) (string, error) {
	if c, ok := d[u]; ok {
		return c, nil
	}
	return "", ledger.NotFound("user", string(u))
}

// interferingRepo runs a competing write before the first `times` saves,
// the way a second process sharing the database would.
type interferingRepo struct {
	*store.Memory
	times     int
	interfere func(ctx context.Context, m *store.Memory)
}

func (r *interferingRepo) Save(ctx context.Context, g *ledger.Group, expected int64) error {
	if r.times > 0 {
		r.times--
		r.interfere(ctx, r.Memory)
	}
	return r.Memory.Save(ctx, g, expected)
}

type fixture struct {
	svc      *service.Service
	repo     ledger.Repository
	notifier *recordingNotifier
	sender   *captureSender
	reg      *prometheus.Registry
	clock    *time.Time
}

func newFixture(t *testing.T, repo ledger.Repository, opts ...service.Option) *fixture {
	t.Helper()
	if repo == nil {
		repo = store.NewMemory()
	}
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		repo:     repo,
		notifier: &recordingNotifier{},
		sender:   &captureSender{},
		reg:      prometheus.NewRegistry(),
		clock:    &now,
	}
	base := []service.Option{
		service.WithNotifier(f.notifier),
		service.WithOTPSender(f.sender),
		service.WithDirectory(mapDirectory{"C": "c@example.com", "A": "a@example.com"}),
		service.WithMetrics(service.NewMetrics(f.reg)),
		service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		service.WithClock(func() time.Time { return *f.clock }),
	}
	f.svc = service.New(repo, append(base, opts...)...)
	return f
}

func (f *fixture) group(t *testing.T, members ...ledger.UserID) *ledger.Group {
	t.Helper()
	g, err := f.svc.CreateGroup(context.Background(), ledger.NewGroupParams{
		ID: "g1", Title: "Trip", CreatorID: "C", Members: members,
	})
	require.NoError(t, err)
	return g
}

func expense(payer ledger.UserID, amount string, selected ...ledger.UserID) ledger.NewExpense {
	return ledger.NewExpense{PayerID: payer, Amount: ledger.Money(amount), Policy: ledger.SplitEqual, Selected: selected}
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Equal(t, ledger.Money(want).StringFixed(2), got.StringFixed(2))
}

// =============================================================================
// END-TO-END SCENARIO
// =============================================================================

func TestService_BalanceAndContributionDiverge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.group(t, "A")

	// GIVEN: C pays 100 for A alone
	_, err := f.svc.AddExpense(ctx, "g1", expense("C", "100", "A"))
	require.NoError(t, err)

	g, err := f.svc.GetGroup(ctx, "g1")
	require.NoError(t, err)
	assertMoney(t, "-100", g.BalanceOf("C"))
	assertMoney(t, "100", g.BalanceOf("A"))

	// WHEN: A tries to leave
	err = f.svc.LeaveGroup(ctx, "g1", "A")

	// THEN
	var srErr *ledger.SettlementRequiredError
	require.ErrorAs(t, err, &srErr)
	assertMoney(t, "100", srErr.Amount)

	// WHEN: C settles A's balance with the OTP sent to C's own contact
	require.NoError(t, f.svc.SettleBalance(ctx, "g1", "C", "A"))
	assert.Equal(t, "c@example.com", f.sender.destination)
	assert.Len(t, f.sender.code, ledger.OTPDigits)

	cleared, err := f.svc.VerifySettlement(ctx, "g1", "C", "A", f.sender.code)
	require.NoError(t, err)
	assertMoney(t, "100", cleared)

	// THEN: A's balance is zero, C's is untouched, and leave still fails
	g, err = f.svc.GetGroup(ctx, "g1")
	require.NoError(t, err)
	assertMoney(t, "0", g.BalanceOf("A"))
	assertMoney(t, "-100", g.BalanceOf("C"))
	assert.Nil(t, g.PendingSettlement)
	assert.ErrorIs(t, f.svc.LeaveGroup(ctx, "g1", "A"), ledger.ErrSettlementRequired)

	assert.Equal(t, []service.EventType{
		service.EventGroupCreated,
		service.EventExpenseAdded,
		service.EventSettlementRequested,
		service.EventSettlementVerified,
	}, f.notifier.types(), "failed operations emit nothing")
}

// =============================================================================
// LEAVE
// =============================================================================

func TestService_RequestLeave(t *testing.T) {
	ctx := context.Background()

	t.Run("pending request is persisted", func(t *testing.T) {
		f := newFixture(t, nil)
		f.group(t, "A", "B")
		_, err := f.svc.AddExpense(ctx, "g1", expense("A", "40", "A", "B"))
		require.NoError(t, err)

		err = f.svc.RequestLeave(ctx, "g1", "B")

		var srErr *ledger.SettlementRequiredError
		require.ErrorAs(t, err, &srErr)
		assert.True(t, srErr.Pending)
		assertMoney(t, "20", srErr.Amount)

		g, err := f.svc.GetGroup(ctx, "g1")
		require.NoError(t, err)
		assert.True(t, g.HasPendingLeave("B"))
		assert.True(t, g.IsActive("B"))
		assert.Contains(t, f.notifier.types(), service.EventLeavePending)
	})

	t.Run("settling expenses clears it and allows the leave", func(t *testing.T) {
		f := newFixture(t, nil)
		f.group(t, "A", "B")
		_, err := f.svc.AddExpense(ctx, "g1", expense("A", "40", "A", "B"))
		require.NoError(t, err)
		require.Error(t, f.svc.RequestLeave(ctx, "g1", "B"))

		settled, err := f.svc.SettleMemberExpenses(ctx, "g1", "C", "B")
		require.NoError(t, err)
		assertMoney(t, "20", settled)

		require.NoError(t, f.svc.RequestLeave(ctx, "g1", "B"))
		g, err := f.svc.GetGroup(ctx, "g1")
		require.NoError(t, err)
		assert.False(t, g.IsActive("B"))
		assert.False(t, g.HasPendingLeave("B"))
	})
}

// =============================================================================
// ATOMICITY
// =============================================================================

func TestService_RejectedOperationSavesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.group(t, "A")

	_, err := f.svc.AddExpense(ctx, "g1", ledger.NewExpense{
		PayerID:  "A",
		Amount:   ledger.Money("10"),
		Policy:   ledger.SplitCustom,
		Selected: []ledger.UserID{"A", "C"},
		Custom:   map[ledger.UserID]decimal.Decimal{"A": ledger.Money("5"), "C": ledger.Money("4")},
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidSplit)

	g, err := f.svc.GetGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), g.Version)
	assert.Empty(t, g.Expenses)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestService_ConcurrentAddsLoseNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.group(t, "A", "B")

	const writers = 40
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AddExpense(ctx, "g1", expense("A", "1", "A", "B"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	g, err := f.svc.GetGroup(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, g.Expenses, writers)
	assertMoney(t, "20", g.BalanceOf("B"))
	assertMoney(t, "-20", g.BalanceOf("A"))
	assert.True(t, g.TotalBalance().IsZero())
	assert.Equal(t, int64(writers+1), g.Version)
}

func TestService_RetriesOnVersionConflict(t *testing.T) {
	ctx := context.Background()

	// Another process adds B's expense between our load and our save.
	competingAdd := func(ctx context.Context, m *store.Memory) {
		g, err := m.Get(ctx, "g1")
		if err != nil {
			panic(err)
		}
		if _, err := g.AddExpense(expense("B", "30", "B", "C"), time.Now()); err != nil {
			panic(err)
		}
		if err := m.Save(ctx, g, g.Version); err != nil {
			panic(err)
		}
	}

	t.Run("retry sees the competing write", func(t *testing.T) {
		repo := &interferingRepo{Memory: store.NewMemory(), times: 1, interfere: competingAdd}
		f := newFixture(t, repo)
		f.group(t, "A", "B")

		_, err := f.svc.AddExpense(ctx, "g1", expense("A", "10", "A", "C"))
		require.NoError(t, err)

		g, err := f.svc.GetGroup(ctx, "g1")
		require.NoError(t, err)
		assert.Len(t, g.Expenses, 2, "neither write is lost")
		assert.True(t, g.TotalBalance().IsZero())

		expected := `
# HELP group_ledger_write_conflicts_total Optimistic concurrency conflicts that triggered a retry
# TYPE group_ledger_write_conflicts_total counter
group_ledger_write_conflicts_total{operation="add_expense"} 1
`
		assert.NoError(t, testutil.GatherAndCompare(f.reg, strings.NewReader(expected), "group_ledger_write_conflicts_total"))
	})

	t.Run("exhausted retries surface a write conflict", func(t *testing.T) {
		repo := &interferingRepo{Memory: store.NewMemory(), times: 10, interfere: competingAdd}
		f := newFixture(t, repo, service.WithMaxWriteRetries(2))
		f.group(t, "A", "B")

		_, err := f.svc.AddExpense(ctx, "g1", expense("A", "10", "A", "C"))

		assert.ErrorIs(t, err, ledger.ErrWriteConflict)
		assert.False(t, ledger.IsClientError(err))
		assert.Equal(t, 7, repo.times, "one attempt plus two retries")

		g, err := f.svc.GetGroup(ctx, "g1")
		require.NoError(t, err)
		for _, e := range g.Expenses {
			assert.Equal(t, ledger.UserID("B"), e.PayerID, "our expense was never saved")
		}
	})
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func TestService_SettleBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("delivery failure keeps the request", func(t *testing.T) {
		f := newFixture(t, nil)
		f.group(t, "A")
		f.sender.err = errors.New("smtp down")

		require.NoError(t, f.svc.SettleBalance(ctx, "g1", "C", "A"))

		g, err := f.svc.GetGroup(ctx, "g1")
		require.NoError(t, err)
		require.NotNil(t, g.PendingSettlement)
		assert.Equal(t, ledger.UserID("A"), g.PendingSettlement.TargetUserID)

		expected := `
# HELP group_ledger_otp_delivery_failures_total Settlement codes that could not be delivered
# TYPE group_ledger_otp_delivery_failures_total counter
group_ledger_otp_delivery_failures_total 1
`
		assert.NoError(t, testutil.GatherAndCompare(f.reg, strings.NewReader(expected), "group_ledger_otp_delivery_failures_total"))
	})

	t.Run("code expires after the ttl", func(t *testing.T) {
		f := newFixture(t, nil, service.WithOTPTTL(5*time.Minute))
		f.group(t, "A")
		require.NoError(t, f.svc.SettleBalance(ctx, "g1", "C", "A"))

		*f.clock = f.clock.Add(6 * time.Minute)
		_, err := f.svc.VerifySettlement(ctx, "g1", "C", "A", f.sender.code)

		assert.ErrorIs(t, err, ledger.ErrSettlementExpired)
	})

	t.Run("only the creator may request", func(t *testing.T) {
		f := newFixture(t, nil)
		f.group(t, "A")

		err := f.svc.SettleBalance(ctx, "g1", "A", "A")

		assert.ErrorIs(t, err, ledger.ErrForbidden)
		assert.Empty(t, f.sender.code, "nothing is sent for a rejected request")
	})

	t.Run("code goes to the contact in the memory directory", func(t *testing.T) {
		users := store.NewUsers()
		require.NoError(t, users.RegisterUser(ctx, "C", "Carol", "4242"))
		f := newFixture(t, nil, service.WithDirectory(users))
		f.group(t, "A")

		require.NoError(t, f.svc.SettleBalance(ctx, "g1", "C", "A"))

		assert.Equal(t, "4242", f.sender.destination)
		require.Len(t, f.sender.code, 6)
		_, err := f.svc.VerifySettlement(ctx, "g1", "C", "A", f.sender.code)
		assert.NoError(t, err)

		expected := `
# HELP group_ledger_otp_delivery_failures_total Settlement codes that could not be delivered
# TYPE group_ledger_otp_delivery_failures_total counter
group_ledger_otp_delivery_failures_total 0
`
		assert.NoError(t, testutil.GatherAndCompare(f.reg, strings.NewReader(expected), "group_ledger_otp_delivery_failures_total"))
	})

	t.Run("fixed generator", func(t *testing.T) {
		f := newFixture(t, nil, service.WithOTPGenerator(func() (string, error) { return "012345", nil }))
		f.group(t, "A")
		require.NoError(t, f.svc.SettleBalance(ctx, "g1", "C", "A"))

		assert.Equal(t, "012345", f.sender.code)
		_, err := f.svc.VerifySettlement(ctx, "g1", "C", "A", "012345")
		assert.NoError(t, err)
	})
}

// =============================================================================
// GROUPS AND QUERIES
// =============================================================================

func TestService_DeleteGroup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.group(t, "A")

	assert.ErrorIs(t, f.svc.DeleteGroup(ctx, "g1", "A"), ledger.ErrForbidden)
	require.NoError(t, f.svc.DeleteGroup(ctx, "g1", "C"))

	_, err := f.svc.GetGroup(ctx, "g1")
	assert.True(t, ledger.IsNotFound(err))
	assert.True(t, ledger.IsNotFound(f.svc.DeleteGroup(ctx, "g1", "C")))
}

func TestService_ListGroupsForUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.group(t, "A")
	_, err := f.svc.CreateGroup(ctx, ledger.NewGroupParams{ID: "g2", Title: "Flat", CreatorID: "B"})
	require.NoError(t, err)

	groups, err := f.svc.ListGroupsForUser(ctx, "A")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, ledger.GroupID("g1"), groups[0].ID)

	require.NoError(t, f.svc.LeaveGroup(ctx, "g1", "A"))
	groups, err = f.svc.ListGroupsForUser(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestService_MemberPosition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.group(t, "A", "B")
	_, err := f.svc.AddExpense(ctx, "g1", expense("A", "90", "A", "B", "C"))
	require.NoError(t, err)

	p, err := f.svc.MemberPosition(ctx, "g1", "B")
	require.NoError(t, err)

	assert.True(t, p.Active)
	assertMoney(t, "30", p.Balance)
	assertMoney(t, "30", p.Contribution)
	require.Len(t, p.Transfers, 1)
	assert.Equal(t, ledger.UserID("A"), p.Transfers[0].To)

	_, err = f.svc.MemberPosition(ctx, "g1", "nobody")
	assert.ErrorIs(t, err, ledger.ErrNotAMember)
}

func TestService_EventsCarryContactAndRecipients(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.group(t)

	_, err := f.svc.AddMember(ctx, "g1", "C", "A")
	require.NoError(t, err)

	require.Len(t, f.notifier.events, 2)
	e := f.notifier.events[1]
	assert.Equal(t, service.EventMemberAdded, e.Type)
	assert.Equal(t, "a@example.com", e.SubjectContact)
	assert.Equal(t, []ledger.UserID{"C", "A"}, e.Recipients)
	assert.Equal(t, `a@example.com joined "Trip"`, e.Summary())
}
