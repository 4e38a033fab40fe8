/*
expense.go - Expense mutations

PURPOSE:
  Add, edit and delete expenses while keeping the balance ledger in step.
  Every operation validates first and mutates last, so a returned error means
  the group is unchanged.

EDIT = UNDO + REAPPLY:
  The new split is computed against the current membership before anything
  is touched. Only then is the old split reversed and the new one applied.

RIGHTS:
  add    - any active member, who becomes the payer
  edit   - the expense's payer only
  delete - the group creator only (no balance precondition)
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewExpense describes an expense to add. PayerID is the acting user.
type NewExpense struct {
	ID          ExpenseID
	PayerID     UserID
	Description string
	Amount      decimal.Decimal
	Date        time.Time
	Policy      SplitPolicy
	Selected    []UserID
	Custom      map[UserID]decimal.Decimal
}

// ExpenseChanges holds the fields to edit. Nil fields keep their value.
// With a custom policy and no Custom map, the current split amounts are reused.
type ExpenseChanges struct {
	Description *string
	Amount      *decimal.Decimal
	Date        *time.Time
	Policy      *SplitPolicy
	Selected    []UserID
	Custom      map[UserID]decimal.Decimal
}

// AddExpense validates, appends the expense and applies its split.
func (g *Group) AddExpense(in NewExpense, at time.Time) (Expense, error) {
	if err := g.requireActive(in.PayerID); err != nil {
		return Expense{}, err
	}
	if err := validateAmount(in.Amount); err != nil {
		return Expense{}, err
	}
	policy := in.Policy
	if policy == "" {
		policy = SplitEqual
	}

	split, err := ComputeSplit(SplitInput{
		Amount:   in.Amount,
		Policy:   policy,
		Selected: in.Selected,
		Custom:   in.Custom,
		Mode:     SplitForCreate,
	}, g.IsActive)
	if err != nil {
		return Expense{}, err
	}

	id := in.ID
	if id == "" {
		id = ExpenseID(uuid.NewString())
	}
	if g.expenseIndex(id) >= 0 {
		return Expense{}, fmt.Errorf("%w: duplicate expense id %s", ErrInvalidInput, id)
	}
	date := in.Date
	if date.IsZero() {
		date = at
	}

	e := Expense{
		ID:              id,
		Description:     in.Description,
		Amount:          in.Amount,
		PayerID:         in.PayerID,
		Date:            date,
		Policy:          policy,
		SelectedMembers: append([]UserID(nil), in.Selected...),
		Split:           split,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
	g.Expenses = append(g.Expenses, e)
	g.ApplySplit(e.Split, e.PayerID)
	return e, nil
}

// EditExpense replaces the expense's fields and split. Only the payer may
// edit, and only while still an active member: a payer who has left gets an
// error wrapping ErrNotAMember.
func (g *Group) EditExpense(id ExpenseID, editorID UserID, ch ExpenseChanges, at time.Time) (Expense, error) {
	i := g.expenseIndex(id)
	if i < 0 {
		return Expense{}, errNotFound("expense", string(id))
	}
	old := g.Expenses[i]
	if err := g.requirePayer(old, editorID); err != nil {
		return Expense{}, err
	}
	if err := g.requireActive(editorID); err != nil {
		return Expense{}, err
	}

	next := old
	next.SelectedMembers = append([]UserID(nil), old.SelectedMembers...)
	if ch.Description != nil {
		next.Description = *ch.Description
	}
	if ch.Amount != nil {
		if err := validateAmount(*ch.Amount); err != nil {
			return Expense{}, err
		}
		next.Amount = *ch.Amount
	}
	if ch.Date != nil {
		next.Date = *ch.Date
	}
	if ch.Policy != nil {
		next.Policy = *ch.Policy
	}
	if ch.Selected != nil {
		next.SelectedMembers = append([]UserID(nil), ch.Selected...)
	}

	custom := ch.Custom
	if next.Policy == SplitCustom && custom == nil {
		custom = make(map[UserID]decimal.Decimal, len(old.Split))
		for _, l := range old.Split {
			custom[l.UserID] = l.Amount
		}
		// Members dropped from the selection lose their previous amount.
		for u := range custom {
			if !containsUser(next.SelectedMembers, u) {
				delete(custom, u)
			}
		}
	}

	split, err := ComputeSplit(SplitInput{
		Amount:   next.Amount,
		Policy:   next.Policy,
		Selected: next.SelectedMembers,
		Custom:   custom,
		Mode:     SplitForEdit,
	}, g.IsActive)
	if err != nil {
		return Expense{}, err
	}
	next.Split = split
	next.UpdatedAt = at

	g.ReverseSplit(old.Split, old.PayerID)
	g.ApplySplit(next.Split, next.PayerID)
	g.Expenses[i] = next
	return next, nil
}

// DeleteExpense reverses the expense's split and removes it. Creator only.
func (g *Group) DeleteExpense(id ExpenseID, actorID UserID) (Expense, error) {
	if err := g.requireCreator(actorID); err != nil {
		return Expense{}, err
	}
	i := g.expenseIndex(id)
	if i < 0 {
		return Expense{}, errNotFound("expense", string(id))
	}
	e := g.Expenses[i]
	g.ReverseSplit(e.Split, e.PayerID)
	g.Expenses = append(g.Expenses[:i], g.Expenses[i+1:]...)
	return e, nil
}

func containsUser(ids []UserID, u UserID) bool {
	for _, id := range ids {
		if id == u {
			return true
		}
	}
	return false
}
