package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Transfer is one suggested payment that moves the group towards zero.
type Transfer struct {
	From   UserID          `json:"from"`
	To     UserID          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// SettlementPlan matches members who owe (positive balance) with members who
// are owed (negative balance), largest first, and returns the transfers that
// clear as much as possible. Ties are broken by user id so the plan is stable.
func (g *Group) SettlementPlan() []Transfer {
	type position struct {
		user   UserID
		amount decimal.Decimal
	}
	var debtors, creditors []position
	for _, b := range g.Balances {
		switch {
		case b.Balance.IsPositive():
			debtors = append(debtors, position{b.UserID, b.Balance})
		case b.Balance.IsNegative():
			creditors = append(creditors, position{b.UserID, b.Balance.Neg()})
		}
	}
	byAmount := func(ps []position) func(i, j int) bool {
		return func(i, j int) bool {
			if c := ps[i].amount.Cmp(ps[j].amount); c != 0 {
				return c > 0
			}
			return ps[i].user < ps[j].user
		}
	}
	sort.Slice(debtors, byAmount(debtors))
	sort.Slice(creditors, byAmount(creditors))

	var plan []Transfer
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		amount := decimal.Min(debtors[i].amount, creditors[j].amount)
		if amount.IsPositive() {
			plan = append(plan, Transfer{From: debtors[i].user, To: creditors[j].user, Amount: amount})
		}
		debtors[i].amount = debtors[i].amount.Sub(amount)
		creditors[j].amount = creditors[j].amount.Sub(amount)
		if debtors[i].amount.IsZero() {
			i++
		}
		if creditors[j].amount.IsZero() {
			j++
		}
	}
	return plan
}
