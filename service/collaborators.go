package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/group-ledger/ledger"
)

// =============================================================================
// COLLABORATORS - narrow interfaces to the outside world
// =============================================================================

// Directory resolves a user id to a human-readable contact (email, chat id).
type Directory interface {
	Contact(ctx context.Context, userID ledger.UserID) (string, error)
}

// OTPSender delivers a settlement code. Delivery is fire-and-forget: a
// failure is logged and counted but never rolls back the stored request.
type OTPSender interface {
	SendOTP(ctx context.Context, code, destination string) error
}

// Notifier receives an event after the mutation that produced it was saved.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// =============================================================================
// EVENTS
// =============================================================================

type EventType string

const (
	EventGroupCreated          EventType = "group_created"
	EventGroupDeleted          EventType = "group_deleted"
	EventMemberAdded           EventType = "member_added"
	EventMemberRemoved         EventType = "member_removed"
	EventMemberLeft            EventType = "member_left"
	EventLeavePending          EventType = "leave_pending"
	EventExpenseAdded          EventType = "expense_added"
	EventExpenseEdited         EventType = "expense_edited"
	EventExpenseDeleted        EventType = "expense_deleted"
	EventSettlementRequested   EventType = "settlement_requested"
	EventSettlementVerified    EventType = "settlement_verified"
	EventMemberExpensesSettled EventType = "member_expenses_settled"
)

// Event is a summary of one committed mutation.
type Event struct {
	Type       EventType        `json:"type"`
	GroupID    ledger.GroupID   `json:"group_id"`
	GroupTitle string           `json:"group_title"`
	ActorID    ledger.UserID    `json:"actor_id"`
	SubjectID  ledger.UserID    `json:"subject_id,omitempty"`
	ExpenseID  ledger.ExpenseID `json:"expense_id,omitempty"`
	Amount     decimal.Decimal  `json:"amount"`

	// SubjectContact is the subject's directory entry, when one was found.
	SubjectContact string `json:"subject_contact,omitempty"`

	// Recipients are the active members after the mutation.
	Recipients []ledger.UserID `json:"recipients"`
	At         time.Time       `json:"at"`
}

// Summary renders the event as one human-readable line.
func (e Event) Summary() string {
	subject := string(e.SubjectID)
	if e.SubjectContact != "" {
		subject = e.SubjectContact
	}
	amount := e.Amount.StringFixed(ledger.MoneyPlaces)

	switch e.Type {
	case EventGroupCreated:
		return fmt.Sprintf("Group %q was created by %s", e.GroupTitle, e.ActorID)
	case EventGroupDeleted:
		return fmt.Sprintf("Group %q was deleted", e.GroupTitle)
	case EventMemberAdded:
		return fmt.Sprintf("%s joined %q", subject, e.GroupTitle)
	case EventMemberRemoved:
		return fmt.Sprintf("%s was removed from %q", subject, e.GroupTitle)
	case EventMemberLeft:
		return fmt.Sprintf("%s left %q", subject, e.GroupTitle)
	case EventLeavePending:
		return fmt.Sprintf("%s wants to leave %q but still owes %s", subject, e.GroupTitle, amount)
	case EventExpenseAdded:
		return fmt.Sprintf("%s added an expense of %s in %q", e.ActorID, amount, e.GroupTitle)
	case EventExpenseEdited:
		return fmt.Sprintf("%s edited an expense in %q, now %s", e.ActorID, e.GroupTitle, amount)
	case EventExpenseDeleted:
		return fmt.Sprintf("An expense of %s was deleted from %q", amount, e.GroupTitle)
	case EventSettlementRequested:
		return fmt.Sprintf("A settlement for %s was requested in %q", subject, e.GroupTitle)
	case EventSettlementVerified:
		return fmt.Sprintf("%s's balance of %s was settled in %q", subject, amount, e.GroupTitle)
	case EventMemberExpensesSettled:
		return fmt.Sprintf("%s's expenses totalling %s were settled in %q", subject, amount, e.GroupTitle)
	default:
		return string(e.Type)
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) {}
