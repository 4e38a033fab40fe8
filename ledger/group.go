package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewGroupParams describes a group to create. Members are extra users added
// alongside the creator.
type NewGroupParams struct {
	ID        GroupID
	Title     string
	CreatorID UserID
	ColorTag  string
	Members   []UserID
}

// NewGroup builds a group whose first membership is the creator.
func NewGroup(p NewGroupParams, at time.Time) (*Group, error) {
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if p.CreatorID == "" {
		return nil, fmt.Errorf("%w: creator is required", ErrInvalidInput)
	}
	id := p.ID
	if id == "" {
		id = GroupID(uuid.NewString())
	}

	g := &Group{
		ID:        id,
		Title:     title,
		CreatorID: p.CreatorID,
		ColorTag:  p.ColorTag,
		CreatedAt: at,
	}
	g.Members = append(g.Members, Membership{UserID: p.CreatorID, JoinedAt: at})
	g.ensureBalance(p.CreatorID)

	for _, u := range p.Members {
		if u == "" || g.IsMember(u) {
			continue
		}
		g.Members = append(g.Members, Membership{UserID: u, JoinedAt: at})
		g.ensureBalance(u)
	}
	return g, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Membership returns the user's membership record, active or historical.
func (g *Group) Membership(userID UserID) (Membership, bool) {
	if i := g.memberIndex(userID); i >= 0 {
		return g.Members[i], true
	}
	return Membership{}, false
}

// IsMember reports whether the user has ever been a member.
func (g *Group) IsMember(userID UserID) bool {
	return g.memberIndex(userID) >= 0
}

// IsActive reports whether the user is a current member.
func (g *Group) IsActive(userID UserID) bool {
	m, ok := g.Membership(userID)
	return ok && m.Active()
}

// ActiveMembers returns the ids of current members in join order.
func (g *Group) ActiveMembers() []UserID {
	var ids []UserID
	for _, m := range g.Members {
		if m.Active() {
			ids = append(ids, m.UserID)
		}
	}
	return ids
}

// Expense returns the expense with the given id.
func (g *Group) Expense(id ExpenseID) (Expense, bool) {
	if i := g.expenseIndex(id); i >= 0 {
		return g.Expenses[i], true
	}
	return Expense{}, false
}

// HasPendingLeave reports whether the user has an unsettled leave request.
func (g *Group) HasPendingLeave(userID UserID) bool {
	for _, p := range g.PendingLeaves {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy, so a failed mutation can be discarded.
func (g *Group) Clone() *Group {
	c := *g
	c.Members = make([]Membership, len(g.Members))
	for i, m := range g.Members {
		c.Members[i] = m
		if m.LeftAt != nil {
			c.Members[i].LeftAt = timePtr(*m.LeftAt)
		}
	}
	c.Expenses = nil
	for _, e := range g.Expenses {
		e.SelectedMembers = append([]UserID(nil), e.SelectedMembers...)
		e.Split = append([]SplitLine(nil), e.Split...)
		c.Expenses = append(c.Expenses, e)
	}
	c.Balances = append([]Balance(nil), g.Balances...)
	c.PendingLeaves = append([]PendingLeave(nil), g.PendingLeaves...)
	if g.PendingSettlement != nil {
		ps := *g.PendingSettlement
		c.PendingSettlement = &ps
	}
	return &c
}

// =============================================================================
// AUTHORIZATION - one check per right
// =============================================================================

func (g *Group) requireCreator(actorID UserID) error {
	if actorID != g.CreatorID {
		return fmt.Errorf("%w: only the group creator may do this", ErrForbidden)
	}
	return nil
}

func (g *Group) requireActive(userID UserID) error {
	if !g.IsActive(userID) {
		return fmt.Errorf("%w: %s", ErrNotAMember, userID)
	}
	return nil
}

func (g *Group) requirePayer(e Expense, actorID UserID) error {
	if e.PayerID != actorID {
		return fmt.Errorf("%w: only the payer may edit expense %s", ErrForbidden, e.ID)
	}
	return nil
}

// AuthorizeDelete checks that the actor may delete the whole group.
func (g *Group) AuthorizeDelete(actorID UserID) error {
	return g.requireCreator(actorID)
}

// =============================================================================
// INTERNAL
// =============================================================================

func (g *Group) memberIndex(userID UserID) int {
	for i, m := range g.Members {
		if m.UserID == userID {
			return i
		}
	}
	return -1
}

func (g *Group) expenseIndex(id ExpenseID) int {
	for i, e := range g.Expenses {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (g *Group) removePendingLeave(userID UserID) {
	kept := g.PendingLeaves[:0]
	for _, p := range g.PendingLeaves {
		if p.UserID != userID {
			kept = append(kept, p)
		}
	}
	g.PendingLeaves = kept
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &AmountError{Amount: amount, Reason: "must be greater than zero"}
	}
	if !amount.Equal(amount.Round(MoneyPlaces)) {
		return &AmountError{Amount: amount, Reason: "finer than a cent"}
	}
	return nil
}
