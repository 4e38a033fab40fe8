/*
settlement.go - Forced settlement workflow

PURPOSE:
  Lets the group creator zero out a member's position, either through an
  OTP-confirmed override of the ledger balance or by zeroing the member's
  split lines across every expense.

OTP STATE MACHINE (one request per group):

    RequestSettlement ──▶ Requested ──VerifySettlement──▶ balance zeroed,
          ▲                   │                           pending cleared
          └── overwrite ──────┘

  - A new request replaces any unconfirmed one.
  - The code is kept only as a bcrypt hash and expires after the TTL.
  - Verify checks, in order: pending exists, not expired, target and code match.

BROKEN INVARIANTS (accepted):
  VerifySettlement zeroes one balance and leaves the others, so the group
  total is no longer zero. SettleMemberExpenses zeroes split lines while the
  expense amount stays, so those expenses no longer sum to their amount.
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RequestSettlement stores a pending settlement for the target with the
// hashed code. Creator only.
func (g *Group) RequestSettlement(actorID, targetID UserID, code string, at time.Time, ttl time.Duration) error {
	if err := g.requireCreator(actorID); err != nil {
		return err
	}
	if !g.IsMember(targetID) {
		return fmt.Errorf("%w: %s", ErrNotAMember, targetID)
	}
	if len(code) != OTPDigits {
		return fmt.Errorf("%w: otp must have %d digits", ErrInvalidInput, OTPDigits)
	}

	hash, err := hashOTP(code)
	if err != nil {
		return err
	}
	ps := &PendingSettlement{
		TargetUserID: targetID,
		OTPHash:      hash,
		CreatedAt:    at,
	}
	if ttl > 0 {
		ps.ExpiresAt = at.Add(ttl)
	}
	g.PendingSettlement = ps
	return nil
}

// VerifySettlement confirms the pending settlement and zeroes the target's
// ledger balance. It returns the balance that was cleared.
func (g *Group) VerifySettlement(actorID, targetID UserID, code string, at time.Time) (decimal.Decimal, error) {
	if err := g.requireCreator(actorID); err != nil {
		return decimal.Zero, err
	}
	ps := g.PendingSettlement
	if ps == nil {
		return decimal.Zero, ErrNoPendingRequest
	}
	if ps.Expired(at) {
		return decimal.Zero, ErrSettlementExpired
	}
	if ps.TargetUserID != targetID || !otpMatches(ps.OTPHash, code) {
		return decimal.Zero, ErrMismatch
	}

	cleared := g.ZeroBalance(targetID)
	g.removePendingLeave(targetID)
	g.PendingSettlement = nil
	return cleared, nil
}

// SettleMemberExpenses zeroes every split line of the target and removes
// those amounts from the target's balance. Creator only. It returns the
// total that was settled.
func (g *Group) SettleMemberExpenses(actorID, targetID UserID) (decimal.Decimal, error) {
	if err := g.requireCreator(actorID); err != nil {
		return decimal.Zero, err
	}
	if !g.IsMember(targetID) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNotAMember, targetID)
	}

	settled := decimal.Zero
	for i := range g.Expenses {
		split := g.Expenses[i].Split
		for j := range split {
			if split[j].UserID != targetID || split[j].Amount.IsZero() {
				continue
			}
			g.adjust(targetID, split[j].Amount.Neg())
			settled = settled.Add(split[j].Amount)
			split[j].Amount = decimal.Zero
		}
	}
	g.removePendingLeave(targetID)
	return settled, nil
}
