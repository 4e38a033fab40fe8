/*
Package ledger provides the group ledger and expense-split engine.

PURPOSE:
  A Group is the aggregate root for one shared-expense pool. It owns the
  memberships, the expense list, the per-member balances, pending leave
  requests and the in-flight settlement request. Every mutation goes through
  a method on *Group so the invariants below are checked in one place.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal with 2 fractional digits
  - Membership: a user's participation record, active or historical
  - Expense: one payment with its applied split
  - Balance: a member's running position in the group ledger
  - PendingLeave / PendingSettlement: workflow state kept on the aggregate

INVARIANTS:
  1. sum(Balances) == 0 after any add/edit/delete of expenses
  2. sum(Expense.Split) == Expense.Amount (within 0.01) until a member's
     lines are zeroed by SettleMemberExpenses
  3. The creator is the first membership and never has LeftAt set
  4. Memberships are never removed, only deactivated

SIGN CONVENTION:
  A borrower's balance grows by their share, the payer's balance shrinks by
  the total. Positive = the member owes the group, negative = the group owes
  the member.

SEE ALSO:
  - split.go: Split calculator
  - balance.go: Balance ledger arithmetic
  - expense.go, member.go, settlement.go: Mutation operations
  - errors.go: Error kinds
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type GroupID string
type UserID string
type ExpenseID string

// =============================================================================
// MONEY
// =============================================================================

// MoneyPlaces is the number of fractional digits of the smallest currency unit.
const MoneyPlaces = 2

// SplitTolerance is the accepted gap between a custom split's sum and the
// expense amount.
var SplitTolerance = decimal.New(1, -MoneyPlaces)

// Money parses a decimal string and panics on malformed input.
// Intended for constants and tests.
func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// =============================================================================
// MEMBERSHIP
// =============================================================================

type Membership struct {
	UserID   UserID     `json:"user_id"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

func (m Membership) Active() bool { return m.LeftAt == nil }

// =============================================================================
// EXPENSE
// =============================================================================

type SplitPolicy string

const (
	SplitEqual  SplitPolicy = "equal"
	SplitCustom SplitPolicy = "custom"
)

func (p SplitPolicy) Valid() bool {
	return p == SplitEqual || p == SplitCustom
}

// SplitLine is one member's share of an expense.
type SplitLine struct {
	UserID UserID          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

type Expense struct {
	ID              ExpenseID       `json:"id"`
	Description     string          `json:"description"`
	Amount          decimal.Decimal `json:"amount"`
	PayerID         UserID          `json:"payer_id"`
	Date            time.Time       `json:"date"`
	Policy          SplitPolicy     `json:"policy"`
	SelectedMembers []UserID        `json:"selected_members"`
	Split           []SplitLine     `json:"split"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// SplitTotal returns the sum of the expense's split lines.
func (e Expense) SplitTotal() decimal.Decimal {
	return sumLines(e.Split)
}

// ShareOf returns the user's split amount, zero if they are not in the split.
func (e Expense) ShareOf(userID UserID) decimal.Decimal {
	total := decimal.Zero
	for _, l := range e.Split {
		if l.UserID == userID {
			total = total.Add(l.Amount)
		}
	}
	return total
}

// =============================================================================
// BALANCES AND WORKFLOW STATE
// =============================================================================

type Balance struct {
	UserID  UserID          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

type PendingLeave struct {
	UserID      UserID    `json:"user_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// PendingSettlement is the single in-flight forced-settlement request of a
// group. Only the bcrypt hash of the one-time code is kept.
type PendingSettlement struct {
	TargetUserID UserID    `json:"target_user_id"`
	OTPHash      string    `json:"otp_hash"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (p PendingSettlement) Expired(at time.Time) bool {
	return !p.ExpiresAt.IsZero() && at.After(p.ExpiresAt)
}

// =============================================================================
// GROUP - Aggregate root
// =============================================================================

type Group struct {
	ID        GroupID   `json:"id"`
	Title     string    `json:"title"`
	CreatorID UserID    `json:"creator_id"`
	ColorTag  string    `json:"color_tag,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// Version is the optimistic concurrency token. Repositories bump it on
	// every successful save.
	Version int64 `json:"version"`

	Members           []Membership       `json:"members"`
	Expenses          []Expense          `json:"expenses"`
	Balances          []Balance          `json:"balances"`
	PendingLeaves     []PendingLeave     `json:"pending_leaves"`
	PendingSettlement *PendingSettlement `json:"pending_settlement,omitempty"`
}

// =============================================================================
// HELPERS
// =============================================================================

func sumLines(lines []SplitLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Amount)
	}
	return total
}

func timePtr(t time.Time) *time.Time { return &t }
