/*
split.go - Split calculator

PURPOSE:
  Turns an expense amount, a split policy and a member selection into the
  list of (member, owed amount) lines that the balance ledger applies.
  Pure: no group state is touched, the caller supplies an "is active" check.

POLICIES:
  Equal:  amount / n rounded to the cent. The first selected member absorbs
          the rounding remainder so the lines always sum to the amount
          exactly (100 / 3 -> 33.34, 33.33, 33.33).
  Custom: the caller gives one amount per selected member. The sum must be
          within SplitTolerance of the amount. Create mode requires every
          line to be positive; edit mode also accepts zero.

SEE ALSO:
  - balance.go: ApplySplit / ReverseSplit
  - expense.go: Callers
*/
package ledger

import (
	"github.com/shopspring/decimal"
)

// SplitMode selects the custom-split positivity rule.
type SplitMode int

const (
	SplitForCreate SplitMode = iota
	SplitForEdit
)

type SplitInput struct {
	Amount   decimal.Decimal
	Policy   SplitPolicy
	Selected []UserID
	Custom   map[UserID]decimal.Decimal
	Mode     SplitMode
}

// ComputeSplit returns the split lines in selection order.
func ComputeSplit(in SplitInput, active func(UserID) bool) ([]SplitLine, error) {
	if len(in.Selected) == 0 {
		return nil, &SplitError{Reason: "no members selected"}
	}

	seen := make(map[UserID]bool, len(in.Selected))
	for _, u := range in.Selected {
		if seen[u] {
			return nil, &SplitError{Reason: "member selected twice", UserID: u}
		}
		seen[u] = true
		if !active(u) {
			return nil, &SplitError{Reason: "selected member is not active", UserID: u}
		}
	}

	switch in.Policy {
	case SplitEqual:
		return equalSplit(in.Amount, in.Selected), nil
	case SplitCustom:
		return customSplit(in, seen, active)
	default:
		return nil, &SplitError{Reason: "unknown split policy " + string(in.Policy)}
	}
}

// equalSplit rounds every share down to the cent, so the first member's
// remainder is between zero and n-1 cents and no line is negative.
func equalSplit(amount decimal.Decimal, selected []UserID) []SplitLine {
	n := decimal.NewFromInt(int64(len(selected)))
	share := amount.Div(n).RoundDown(MoneyPlaces)
	first := amount.Sub(share.Mul(n.Sub(decimal.NewFromInt(1))))

	lines := make([]SplitLine, len(selected))
	for i, u := range selected {
		lines[i] = SplitLine{UserID: u, Amount: share}
	}
	lines[0].Amount = first
	return lines
}

func customSplit(in SplitInput, selected map[UserID]bool, active func(UserID) bool) ([]SplitLine, error) {
	for u := range in.Custom {
		if !active(u) {
			return nil, &SplitError{Reason: "custom amount for inactive member", UserID: u}
		}
		if !selected[u] {
			return nil, &SplitError{Reason: "custom amount for unselected member", UserID: u}
		}
	}

	lines := make([]SplitLine, 0, len(in.Selected))
	for _, u := range in.Selected {
		amt, ok := in.Custom[u]
		if !ok {
			return nil, &SplitError{Reason: "missing custom amount", UserID: u}
		}
		if amt.IsNegative() {
			return nil, &SplitError{Reason: "negative custom amount", UserID: u}
		}
		if !amt.Equal(amt.Round(MoneyPlaces)) {
			return nil, &SplitError{Reason: "custom amount finer than a cent", UserID: u}
		}
		if in.Mode == SplitForCreate && amt.IsZero() {
			return nil, &SplitError{Reason: "custom amount must be positive", UserID: u}
		}
		lines = append(lines, SplitLine{UserID: u, Amount: amt})
	}

	sum := sumLines(lines)
	if sum.Sub(in.Amount).Abs().GreaterThan(SplitTolerance) {
		return nil, &SplitError{Reason: "custom amounts do not add up", Amount: in.Amount, Sum: sum}
	}
	return lines, nil
}
