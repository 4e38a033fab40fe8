/*
member.go - Member lifecycle

PURPOSE:
  Join, re-join, voluntary leave and creator-initiated removal. Memberships
  are never deleted: leaving sets LeftAt, re-adding clears it, so expense
  history always resolves past members.

GATES:
  RemoveMember  - ledger balance must be exactly zero
  LeaveGroup    - contribution (sum of the member's split lines) must be zero
  RequestLeave  - same as LeaveGroup, but a non-zero contribution records a
                  pending-leave request instead of failing outright

The two gates use different definitions of "owed" on purpose. After an
OTP settlement zeroes a balance, the contribution is still non-zero until
the member's split lines are zeroed by SettleMemberExpenses.
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AddMember adds the user, or reactivates a historical membership. Creator only.
func (g *Group) AddMember(actorID, userID UserID, at time.Time) error {
	if err := g.requireCreator(actorID); err != nil {
		return err
	}
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	i := g.memberIndex(userID)
	switch {
	case i < 0:
		g.Members = append(g.Members, Membership{UserID: userID, JoinedAt: at})
	case g.Members[i].Active():
		return fmt.Errorf("%w: %s", ErrAlreadyMember, userID)
	default:
		g.Members[i].LeftAt = nil
		g.Members[i].JoinedAt = at
	}
	g.ensureBalance(userID)
	return nil
}

// RemoveMember deactivates a member whose ledger balance is zero. Creator only.
func (g *Group) RemoveMember(actorID, userID UserID, at time.Time) error {
	if err := g.requireCreator(actorID); err != nil {
		return err
	}
	if userID == g.CreatorID {
		return ErrCannotRemoveCreator
	}
	if err := g.requireActive(userID); err != nil {
		return err
	}
	if bal := g.BalanceOf(userID); !bal.IsZero() {
		return &NonZeroBalanceError{UserID: userID, Balance: bal}
	}

	g.deactivate(userID, at)
	return nil
}

// LeaveOutcome reports what RequestLeave did.
type LeaveOutcome struct {
	Left         bool
	Pending      bool
	Contribution decimal.Decimal
}

// RequestLeave leaves the group if the member's contribution is zero.
// Otherwise it records a pending-leave request (one per user) and reports
// Pending. The caller persists the group in both cases and turns Pending
// into a SettlementRequiredError.
func (g *Group) RequestLeave(userID UserID, at time.Time) (LeaveOutcome, error) {
	if err := g.requireLeaver(userID); err != nil {
		return LeaveOutcome{}, err
	}

	contribution := g.Contribution(userID)
	if !contribution.IsZero() {
		if !g.HasPendingLeave(userID) {
			g.PendingLeaves = append(g.PendingLeaves, PendingLeave{UserID: userID, RequestedAt: at})
		}
		return LeaveOutcome{Pending: true, Contribution: contribution}, nil
	}

	g.deactivate(userID, at)
	return LeaveOutcome{Left: true, Contribution: contribution}, nil
}

// LeaveGroup is the member-initiated leave. A non-zero contribution is a
// hard failure and nothing is recorded.
func (g *Group) LeaveGroup(userID UserID, at time.Time) error {
	if err := g.requireLeaver(userID); err != nil {
		return err
	}
	if contribution := g.Contribution(userID); !contribution.IsZero() {
		return &SettlementRequiredError{UserID: userID, Amount: contribution}
	}
	g.deactivate(userID, at)
	return nil
}

func (g *Group) requireLeaver(userID UserID) error {
	if userID == g.CreatorID {
		return fmt.Errorf("%w: the creator must delete the group instead of leaving", ErrForbidden)
	}
	return g.requireActive(userID)
}

func (g *Group) deactivate(userID UserID, at time.Time) {
	i := g.memberIndex(userID)
	g.Members[i].LeftAt = timePtr(at)
	g.removePendingLeave(userID)
}
