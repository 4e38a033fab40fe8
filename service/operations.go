package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/group-ledger/ledger"
)

// =============================================================================
// GROUPS
// =============================================================================

func (s *Service) CreateGroup(ctx context.Context, p ledger.NewGroupParams) (g *ledger.Group, err error) {
	start := time.Now()
	defer func() { s.finish("create_group", p.ID, p.CreatorID, start, err) }()

	g, err = ledger.NewGroup(p, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, g); err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	s.publish(ctx, g, Event{Type: EventGroupCreated, ActorID: g.CreatorID})
	return g, nil
}

func (s *Service) GetGroup(ctx context.Context, groupID ledger.GroupID) (*ledger.Group, error) {
	return s.repo.Get(ctx, groupID)
}

// ListGroupsForUser returns the groups where the user is an active member.
func (s *Service) ListGroupsForUser(ctx context.Context, userID ledger.UserID) ([]*ledger.Group, error) {
	groups, err := s.repo.ListByMember(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups for %s: %w", userID, err)
	}
	return groups, nil
}

// DeleteGroup removes the whole group. Creator only.
func (s *Service) DeleteGroup(ctx context.Context, groupID ledger.GroupID, actorID ledger.UserID) (err error) {
	start := time.Now()
	defer func() { s.finish("delete_group", groupID, actorID, start, err) }()

	unlock := s.locks.lock(groupID)
	defer unlock()

	g, err := s.repo.Get(ctx, groupID)
	if err != nil {
		return err
	}
	if err := g.AuthorizeDelete(actorID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, groupID); err != nil {
		return fmt.Errorf("failed to delete group %s: %w", groupID, err)
	}

	s.publish(ctx, g, Event{Type: EventGroupDeleted, ActorID: actorID})
	return nil
}

// =============================================================================
// MEMBERS
// =============================================================================

func (s *Service) AddMember(ctx context.Context, groupID ledger.GroupID, actorID, userID ledger.UserID) (g *ledger.Group, err error) {
	start := time.Now()
	defer func() { s.finish("add_member", groupID, actorID, start, err) }()

	g, err = s.mutate(ctx, "add_member", groupID, func(g *ledger.Group) error {
		return g.AddMember(actorID, userID, s.now())
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, g, Event{Type: EventMemberAdded, ActorID: actorID, SubjectID: userID})
	return g, nil
}

func (s *Service) RemoveMember(ctx context.Context, groupID ledger.GroupID, actorID, userID ledger.UserID) (g *ledger.Group, err error) {
	start := time.Now()
	defer func() { s.finish("remove_member", groupID, actorID, start, err) }()

	g, err = s.mutate(ctx, "remove_member", groupID, func(g *ledger.Group) error {
		return g.RemoveMember(actorID, userID, s.now())
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, g, Event{Type: EventMemberRemoved, ActorID: actorID, SubjectID: userID})
	return g, nil
}

// RequestLeave leaves the group when the member's contribution is zero.
// Otherwise the pending-leave request is saved and a
// *ledger.SettlementRequiredError with Pending set is returned.
func (s *Service) RequestLeave(ctx context.Context, groupID ledger.GroupID, userID ledger.UserID) (err error) {
	start := time.Now()
	defer func() { s.finish("request_leave", groupID, userID, start, err) }()

	var out ledger.LeaveOutcome
	g, err := s.mutate(ctx, "request_leave", groupID, func(g *ledger.Group) error {
		var err error
		out, err = g.RequestLeave(userID, s.now())
		return err
	})
	if err != nil {
		return err
	}

	if out.Pending {
		s.publish(ctx, g, Event{Type: EventLeavePending, ActorID: userID, SubjectID: userID, Amount: out.Contribution})
		return &ledger.SettlementRequiredError{UserID: userID, Amount: out.Contribution, Pending: true}
	}
	s.publish(ctx, g, Event{Type: EventMemberLeft, ActorID: userID, SubjectID: userID})
	return nil
}

func (s *Service) LeaveGroup(ctx context.Context, groupID ledger.GroupID, userID ledger.UserID) (err error) {
	start := time.Now()
	defer func() { s.finish("leave_group", groupID, userID, start, err) }()

	g, err := s.mutate(ctx, "leave_group", groupID, func(g *ledger.Group) error {
		return g.LeaveGroup(userID, s.now())
	})
	if err != nil {
		return err
	}

	s.publish(ctx, g, Event{Type: EventMemberLeft, ActorID: userID, SubjectID: userID})
	return nil
}

// Position is one member's standing in a group.
type Position struct {
	UserID       ledger.UserID     `json:"user_id"`
	Active       bool              `json:"active"`
	Balance      decimal.Decimal   `json:"balance"`
	Contribution decimal.Decimal   `json:"contribution"`
	PendingLeave bool              `json:"pending_leave"`
	Transfers    []ledger.Transfer `json:"transfers"`
}

// MemberPosition reports both definitions of what a member owes, plus the
// suggested transfers that involve them.
func (s *Service) MemberPosition(ctx context.Context, groupID ledger.GroupID, userID ledger.UserID) (Position, error) {
	g, err := s.repo.Get(ctx, groupID)
	if err != nil {
		return Position{}, err
	}
	if !g.IsMember(userID) {
		return Position{}, fmt.Errorf("%w: %s", ledger.ErrNotAMember, userID)
	}

	p := Position{
		UserID:       userID,
		Active:       g.IsActive(userID),
		Balance:      g.BalanceOf(userID),
		Contribution: g.Contribution(userID),
		PendingLeave: g.HasPendingLeave(userID),
		Transfers:    []ledger.Transfer{},
	}
	for _, t := range g.SettlementPlan() {
		if t.From == userID || t.To == userID {
			p.Transfers = append(p.Transfers, t)
		}
	}
	return p, nil
}

// =============================================================================
// EXPENSES
// =============================================================================

func (s *Service) AddExpense(ctx context.Context, groupID ledger.GroupID, in ledger.NewExpense) (e ledger.Expense, err error) {
	start := time.Now()
	defer func() { s.finish("add_expense", groupID, in.PayerID, start, err) }()

	g, err := s.mutate(ctx, "add_expense", groupID, func(g *ledger.Group) error {
		var err error
		e, err = g.AddExpense(in, s.now())
		return err
	})
	if err != nil {
		return ledger.Expense{}, err
	}

	s.publish(ctx, g, Event{Type: EventExpenseAdded, ActorID: in.PayerID, ExpenseID: e.ID, Amount: e.Amount})
	return e, nil
}

func (s *Service) EditExpense(ctx context.Context, groupID ledger.GroupID, expenseID ledger.ExpenseID, editorID ledger.UserID, ch ledger.ExpenseChanges) (e ledger.Expense, err error) {
	start := time.Now()
	defer func() { s.finish("edit_expense", groupID, editorID, start, err) }()

	g, err := s.mutate(ctx, "edit_expense", groupID, func(g *ledger.Group) error {
		var err error
		e, err = g.EditExpense(expenseID, editorID, ch, s.now())
		return err
	})
	if err != nil {
		return ledger.Expense{}, err
	}

	s.publish(ctx, g, Event{Type: EventExpenseEdited, ActorID: editorID, ExpenseID: e.ID, Amount: e.Amount})
	return e, nil
}

func (s *Service) DeleteExpense(ctx context.Context, groupID ledger.GroupID, expenseID ledger.ExpenseID, actorID ledger.UserID) (err error) {
	start := time.Now()
	defer func() { s.finish("delete_expense", groupID, actorID, start, err) }()

	var removed ledger.Expense
	g, err := s.mutate(ctx, "delete_expense", groupID, func(g *ledger.Group) error {
		var err error
		removed, err = g.DeleteExpense(expenseID, actorID)
		return err
	})
	if err != nil {
		return err
	}

	s.publish(ctx, g, Event{Type: EventExpenseDeleted, ActorID: actorID, ExpenseID: removed.ID, Amount: removed.Amount})
	return nil
}

// =============================================================================
// SETTLEMENT
// =============================================================================

// SettleBalance starts the OTP flow: a fresh code is stored (hashed) on the
// group and sent to the creator's own contact. A delivery failure is logged
// and the request stays in place.
func (s *Service) SettleBalance(ctx context.Context, groupID ledger.GroupID, actorID, targetID ledger.UserID) (err error) {
	start := time.Now()
	defer func() { s.finish("settle_balance", groupID, actorID, start, err) }()

	code, err := s.generate()
	if err != nil {
		return err
	}

	g, err := s.mutate(ctx, "settle_balance", groupID, func(g *ledger.Group) error {
		return g.RequestSettlement(actorID, targetID, code, s.now(), s.otpTTL)
	})
	if err != nil {
		return err
	}

	s.deliverOTP(ctx, g, code)
	s.publish(ctx, g, Event{Type: EventSettlementRequested, ActorID: actorID, SubjectID: targetID})
	return nil
}

func (s *Service) deliverOTP(ctx context.Context, g *ledger.Group, code string) {
	log := s.logger.With("group_id", g.ID, "creator_id", g.CreatorID)
	if s.otp == nil {
		log.Warn("no otp sender configured, settlement code not delivered")
		s.metrics.otpFailure()
		return
	}
	destination := s.contact(ctx, g.CreatorID)
	if destination == "" {
		log.Warn("creator has no contact, settlement code not delivered")
		s.metrics.otpFailure()
		return
	}
	if err := s.otp.SendOTP(ctx, code, destination); err != nil {
		log.Error("failed to deliver settlement code", "error", err)
		s.metrics.otpFailure()
	}
}

// VerifySettlement confirms the pending code and zeroes the target's balance.
// It returns the balance that was cleared.
func (s *Service) VerifySettlement(ctx context.Context, groupID ledger.GroupID, actorID, targetID ledger.UserID, code string) (cleared decimal.Decimal, err error) {
	start := time.Now()
	defer func() { s.finish("verify_settlement", groupID, actorID, start, err) }()

	g, err := s.mutate(ctx, "verify_settlement", groupID, func(g *ledger.Group) error {
		var err error
		cleared, err = g.VerifySettlement(actorID, targetID, code, s.now())
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}

	s.publish(ctx, g, Event{Type: EventSettlementVerified, ActorID: actorID, SubjectID: targetID, Amount: cleared})
	return cleared, nil
}

// SettleMemberExpenses zeroes every split line of the target. It returns the
// total that was settled.
func (s *Service) SettleMemberExpenses(ctx context.Context, groupID ledger.GroupID, actorID, targetID ledger.UserID) (settled decimal.Decimal, err error) {
	start := time.Now()
	defer func() { s.finish("settle_member_expenses", groupID, actorID, start, err) }()

	g, err := s.mutate(ctx, "settle_member_expenses", groupID, func(g *ledger.Group) error {
		var err error
		settled, err = g.SettleMemberExpenses(actorID, targetID)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}

	s.publish(ctx, g, Event{Type: EventMemberExpensesSettled, ActorID: actorID, SubjectID: targetID, Amount: settled})
	return settled, nil
}
