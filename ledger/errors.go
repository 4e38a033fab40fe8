/*
errors.go - Centralized error types for the group ledger

PURPOSE:
  All error kinds in one place. Callers classify with errors.Is against the
  sentinels; structured errors carry the computed totals so a caller can show
  a precise diagnostic and still unwrap to the sentinel.

ERROR CATEGORIES:
  1. Lookup errors - group, expense or member missing
  2. Authorization errors - wrong actor for creator-only / payer-only actions
  3. Validation errors - amounts, splits, balance gates
  4. Workflow errors - settlement OTP state machine
  5. Store errors - optimistic concurrency conflicts

All validation runs before any mutation, so an error from a *Group method
means the group was left untouched.

SEE ALSO:
  - service/service.go: Retries ErrConcurrentModification, surfaces ErrWriteConflict
  - api/handlers.go: Maps categories to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a group or expense does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the actor lacks the creator/payer right.
	ErrForbidden = errors.New("forbidden")

	// ErrNotAMember is returned when a user is not an active member.
	ErrNotAMember = errors.New("not a member")

	// ErrAlreadyMember is returned when adding a user who is already active.
	ErrAlreadyMember = errors.New("already a member")

	// ErrCannotRemoveCreator is returned when removing the group creator.
	ErrCannotRemoveCreator = errors.New("cannot remove group creator")

	// ErrInvalidInput is returned for malformed arguments (empty title, ids).
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidAmount is returned for non-positive or over-precise amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidSplit is returned when a split cannot be computed or validated.
	ErrInvalidSplit = errors.New("invalid split")

	// ErrNonZeroBalance is returned when removing a member whose ledger
	// balance is not zero.
	ErrNonZeroBalance = errors.New("non-zero balance")

	// ErrSettlementRequired is returned when a member with a non-zero
	// contribution tries to leave.
	ErrSettlementRequired = errors.New("settlement required")

	// ErrNoPendingRequest is returned when verifying without a pending settlement.
	ErrNoPendingRequest = errors.New("no pending settlement request")

	// ErrMismatch is returned when the settlement target or OTP does not match.
	ErrMismatch = errors.New("settlement mismatch")

	// ErrSettlementExpired is returned when the pending settlement outlived its TTL.
	ErrSettlementExpired = errors.New("settlement request expired")

	// ErrConcurrentModification is returned by a Repository when the stored
	// version differs from the expected one.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrWriteConflict is returned when concurrent-update retries are exhausted.
	ErrWriteConflict = errors.New("write conflict: retries exhausted")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// AmountError reports a rejected expense amount.
type AmountError struct {
	Amount decimal.Decimal
	Reason string
}

func (e *AmountError) Error() string {
	return fmt.Sprintf("invalid amount %s: %s", e.Amount, e.Reason)
}

func (e *AmountError) Unwrap() error { return ErrInvalidAmount }

// SplitError reports why a split was rejected, with the totals involved.
type SplitError struct {
	Reason string
	UserID UserID
	Amount decimal.Decimal
	Sum    decimal.Decimal
}

func (e *SplitError) Error() string {
	if e.UserID != "" {
		return fmt.Sprintf("invalid split: %s (user %s)", e.Reason, e.UserID)
	}
	if !e.Sum.IsZero() || !e.Amount.IsZero() {
		return fmt.Sprintf("invalid split: %s (sum %s, amount %s)",
			e.Reason, e.Sum.StringFixed(MoneyPlaces), e.Amount.StringFixed(MoneyPlaces))
	}
	return "invalid split: " + e.Reason
}

func (e *SplitError) Unwrap() error { return ErrInvalidSplit }

// NonZeroBalanceError reports the ledger balance that blocks a removal.
type NonZeroBalanceError struct {
	UserID  UserID
	Balance decimal.Decimal
}

func (e *NonZeroBalanceError) Error() string {
	return fmt.Sprintf("member %s has non-zero balance %s", e.UserID, e.Balance.StringFixed(MoneyPlaces))
}

func (e *NonZeroBalanceError) Unwrap() error { return ErrNonZeroBalance }

// SettlementRequiredError reports the contribution that blocks a leave.
// Pending is true when a pending-leave request was recorded.
type SettlementRequiredError struct {
	UserID  UserID
	Amount  decimal.Decimal
	Pending bool
}

func (e *SettlementRequiredError) Error() string {
	return fmt.Sprintf("member %s must settle %s before leaving", e.UserID, e.Amount.StringFixed(MoneyPlaces))
}

func (e *SettlementRequiredError) Unwrap() error { return ErrSettlementRequired }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func errNotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// NotFound builds a lookup error for stores and services outside this package.
func NotFound(kind, id string) error {
	return errNotFound(kind, id)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing group or expense.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is due to invalid caller input or
// a precondition the caller can fix.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotAMember) ||
		errors.Is(err, ErrAlreadyMember) ||
		errors.Is(err, ErrCannotRemoveCreator) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidSplit) ||
		errors.Is(err, ErrNonZeroBalance) ||
		errors.Is(err, ErrSettlementRequired) ||
		errors.Is(err, ErrNoPendingRequest) ||
		errors.Is(err, ErrMismatch) ||
		errors.Is(err, ErrSettlementExpired)
}
