/*
balance.go - Balance ledger

PURPOSE:
  Maintains the per-member running balance of a group. Balances are updated
  incrementally: applying an expense's split credits each borrower with
  their share and debits the payer with the split total, so the group total
  stays at zero. Corrections are made by reversing the old split, never by
  editing a balance in place.

ROUND TRIP:
  ApplySplit followed by ReverseSplit restores every balance exactly.
  decimal arithmetic keeps this exact, there is no float drift.

ADMINISTRATIVE OVERRIDE:
  ZeroBalance force-sets one member's balance to 0 without touching anyone
  else. This breaks sum-to-zero on purpose; it is only reachable through the
  OTP-verified settlement flow.
*/
package ledger

import (
	"github.com/shopspring/decimal"
)

// ApplySplit credits every split line and debits the payer by the line total.
func (g *Group) ApplySplit(split []SplitLine, payerID UserID) {
	for _, l := range split {
		g.adjust(l.UserID, l.Amount)
	}
	g.adjust(payerID, sumLines(split).Neg())
}

// ReverseSplit is the exact inverse of ApplySplit.
func (g *Group) ReverseSplit(split []SplitLine, payerID UserID) {
	for _, l := range split {
		g.adjust(l.UserID, l.Amount.Neg())
	}
	g.adjust(payerID, sumLines(split))
}

// ZeroBalance sets the user's balance to zero and returns the previous value.
func (g *Group) ZeroBalance(userID UserID) decimal.Decimal {
	i := g.balanceIndex(userID)
	if i < 0 {
		g.Balances = append(g.Balances, Balance{UserID: userID, Balance: decimal.Zero})
		return decimal.Zero
	}
	prev := g.Balances[i].Balance
	g.Balances[i].Balance = decimal.Zero
	return prev
}

// BalanceOf returns the user's ledger balance, zero if they have no entry.
func (g *Group) BalanceOf(userID UserID) decimal.Decimal {
	if i := g.balanceIndex(userID); i >= 0 {
		return g.Balances[i].Balance
	}
	return decimal.Zero
}

// TotalBalance returns the sum of all balance entries.
func (g *Group) TotalBalance() decimal.Decimal {
	total := decimal.Zero
	for _, b := range g.Balances {
		total = total.Add(b.Balance)
	}
	return total
}

// Contribution is the sum of the user's split lines across all expenses.
// It gates leaving the group and can diverge from BalanceOf after
// ZeroBalance.
func (g *Group) Contribution(userID UserID) decimal.Decimal {
	total := decimal.Zero
	for _, e := range g.Expenses {
		total = total.Add(e.ShareOf(userID))
	}
	return total
}

func (g *Group) adjust(userID UserID, delta decimal.Decimal) {
	i := g.balanceIndex(userID)
	if i < 0 {
		g.Balances = append(g.Balances, Balance{UserID: userID, Balance: delta})
		return
	}
	g.Balances[i].Balance = g.Balances[i].Balance.Add(delta)
}

func (g *Group) ensureBalance(userID UserID) {
	if g.balanceIndex(userID) < 0 {
		g.Balances = append(g.Balances, Balance{UserID: userID, Balance: decimal.Zero})
	}
}

func (g *Group) balanceIndex(userID UserID) int {
	for i, b := range g.Balances {
		if b.UserID == userID {
			return i
		}
	}
	return -1
}
