/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  ledger's stored document. Money travels as strings with two decimals
  ("33.34") so clients never round through floating point.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Handlers only parse (ids, amounts, dates). Every business rule lives in
  the ledger package and comes back as a typed error.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain types
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/group-ledger/ledger"
	"github.com/warp/group-ledger/service"
)

const dateFormat = "2006-01-02"

// =============================================================================
// REQUEST TYPES
// =============================================================================

type CreateGroupRequest struct {
	ID       string   `json:"id,omitempty"`
	Title    string   `json:"title"`
	ColorTag string   `json:"color_tag,omitempty"`
	Members  []string `json:"members"`
}

type AddMemberRequest struct {
	UserID string `json:"user_id"`
}

// ExpenseRequest creates an expense. Custom maps user id to amount and is
// only read for the "custom" policy.
type ExpenseRequest struct {
	ID          string            `json:"id,omitempty"`
	Description string            `json:"description"`
	Amount      string            `json:"amount"`
	Date        string            `json:"date,omitempty"`
	Policy      string            `json:"policy,omitempty"`
	Selected    []string          `json:"selected_members"`
	Custom      map[string]string `json:"custom,omitempty"`
}

// EditExpenseRequest changes only the fields that are present.
type EditExpenseRequest struct {
	Description *string           `json:"description,omitempty"`
	Amount      *string           `json:"amount,omitempty"`
	Date        *string           `json:"date,omitempty"`
	Policy      *string           `json:"policy,omitempty"`
	Selected    []string          `json:"selected_members,omitempty"`
	Custom      map[string]string `json:"custom,omitempty"`
}

type SettleRequest struct {
	TargetUserID string `json:"target_user_id"`
}

type VerifyRequest struct {
	TargetUserID string `json:"target_user_id"`
	Code         string `json:"code"`
}

type UserRequest struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type GroupDTO struct {
	ID                string                `json:"id"`
	Title             string                `json:"title"`
	CreatorID         string                `json:"creator_id"`
	ColorTag          string                `json:"color_tag,omitempty"`
	Version           int64                 `json:"version"`
	Members           []MemberDTO           `json:"members"`
	Expenses          []ExpenseDTO          `json:"expenses"`
	Balances          []BalanceDTO          `json:"balances"`
	PendingLeaves     []string              `json:"pending_leaves"`
	PendingSettlement *PendingSettlementDTO `json:"pending_settlement,omitempty"`
	CreatedAt         string                `json:"created_at"`
}

type GroupSummaryDTO struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	ColorTag string `json:"color_tag,omitempty"`
	Members  int    `json:"members"`
}

type MemberDTO struct {
	UserID   string  `json:"user_id"`
	Active   bool    `json:"active"`
	JoinedAt string  `json:"joined_at"`
	LeftAt   *string `json:"left_at,omitempty"`
}

type SplitLineDTO struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"`
}

type ExpenseDTO struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Amount      string         `json:"amount"`
	PayerID     string         `json:"payer_id"`
	Date        string         `json:"date"`
	Policy      string         `json:"policy"`
	Split       []SplitLineDTO `json:"split"`
}

type BalanceDTO struct {
	UserID  string `json:"user_id"`
	Balance string `json:"balance"`
}

// PendingSettlementDTO never carries the code or its hash.
type PendingSettlementDTO struct {
	TargetUserID string `json:"target_user_id"`
	ExpiresAt    string `json:"expires_at,omitempty"`
}

type TransferDTO struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type PositionDTO struct {
	UserID       string        `json:"user_id"`
	Active       bool          `json:"active"`
	Balance      string        `json:"balance"`
	Contribution string        `json:"contribution"`
	PendingLeave bool          `json:"pending_leave"`
	Transfers    []TransferDTO `json:"transfers"`
}

// AmountDTO reports the amount an operation cleared or is waiting on.
type AmountDTO struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"`
	Status string `json:"status,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func money(d decimal.Decimal) string {
	return d.StringFixed(ledger.MoneyPlaces)
}

func toGroupDTO(g *ledger.Group) GroupDTO {
	dto := GroupDTO{
		ID:            string(g.ID),
		Title:         g.Title,
		CreatorID:     string(g.CreatorID),
		ColorTag:      g.ColorTag,
		Version:       g.Version,
		Members:       make([]MemberDTO, len(g.Members)),
		Expenses:      make([]ExpenseDTO, len(g.Expenses)),
		Balances:      make([]BalanceDTO, len(g.Balances)),
		PendingLeaves: make([]string, len(g.PendingLeaves)),
		CreatedAt:     g.CreatedAt.Format(time.RFC3339),
	}
	for i, m := range g.Members {
		dto.Members[i] = MemberDTO{
			UserID:   string(m.UserID),
			Active:   m.Active(),
			JoinedAt: m.JoinedAt.Format(time.RFC3339),
		}
		if m.LeftAt != nil {
			left := m.LeftAt.Format(time.RFC3339)
			dto.Members[i].LeftAt = &left
		}
	}
	for i, e := range g.Expenses {
		dto.Expenses[i] = toExpenseDTO(e)
	}
	for i, b := range g.Balances {
		dto.Balances[i] = BalanceDTO{UserID: string(b.UserID), Balance: money(b.Balance)}
	}
	for i, p := range g.PendingLeaves {
		dto.PendingLeaves[i] = string(p.UserID)
	}
	if p := g.PendingSettlement; p != nil {
		dto.PendingSettlement = &PendingSettlementDTO{TargetUserID: string(p.TargetUserID)}
		if !p.ExpiresAt.IsZero() {
			dto.PendingSettlement.ExpiresAt = p.ExpiresAt.Format(time.RFC3339)
		}
	}
	return dto
}

func toExpenseDTO(e ledger.Expense) ExpenseDTO {
	dto := ExpenseDTO{
		ID:          string(e.ID),
		Description: e.Description,
		Amount:      money(e.Amount),
		PayerID:     string(e.PayerID),
		Date:        e.Date.Format(dateFormat),
		Policy:      string(e.Policy),
		Split:       make([]SplitLineDTO, len(e.Split)),
	}
	for i, l := range e.Split {
		dto.Split[i] = SplitLineDTO{UserID: string(l.UserID), Amount: money(l.Amount)}
	}
	return dto
}

func toTransferDTOs(ts []ledger.Transfer) []TransferDTO {
	dtos := make([]TransferDTO, len(ts))
	for i, t := range ts {
		dtos[i] = TransferDTO{From: string(t.From), To: string(t.To), Amount: money(t.Amount)}
	}
	return dtos
}

func toPositionDTO(p service.Position) PositionDTO {
	return PositionDTO{
		UserID:       string(p.UserID),
		Active:       p.Active,
		Balance:      money(p.Balance),
		Contribution: money(p.Contribution),
		PendingLeave: p.PendingLeave,
		Transfers:    toTransferDTOs(p.Transfers),
	}
}

// =============================================================================
// PARSING
// =============================================================================

func userIDs(ids []string) []ledger.UserID {
	if ids == nil {
		return nil
	}
	out := make([]ledger.UserID, len(ids))
	for i, id := range ids {
		out[i] = ledger.UserID(id)
	}
	return out
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: amount %q is not a number", ledger.ErrInvalidAmount, s)
	}
	return d, nil
}

func parseCustom(m map[string]string) (map[ledger.UserID]decimal.Decimal, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[ledger.UserID]decimal.Decimal, len(m))
	for id, s := range m {
		d, err := parseAmount(s)
		if err != nil {
			return nil, err
		}
		out[ledger.UserID(id)] = d
	}
	return out, nil
}

// parseDate accepts a calendar date or an RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(dateFormat, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD or RFC 3339", ledger.ErrInvalidInput, s)
	}
	return t, nil
}

func (req ExpenseRequest) toNewExpense(payer ledger.UserID) (ledger.NewExpense, error) {
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return ledger.NewExpense{}, err
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return ledger.NewExpense{}, err
	}
	custom, err := parseCustom(req.Custom)
	if err != nil {
		return ledger.NewExpense{}, err
	}
	return ledger.NewExpense{
		ID:          ledger.ExpenseID(req.ID),
		PayerID:     payer,
		Description: req.Description,
		Amount:      amount,
		Date:        date,
		Policy:      ledger.SplitPolicy(req.Policy),
		Selected:    userIDs(req.Selected),
		Custom:      custom,
	}, nil
}

func (req EditExpenseRequest) toChanges() (ledger.ExpenseChanges, error) {
	ch := ledger.ExpenseChanges{
		Description: req.Description,
		Selected:    userIDs(req.Selected),
	}
	if req.Amount != nil {
		amount, err := parseAmount(*req.Amount)
		if err != nil {
			return ch, err
		}
		ch.Amount = &amount
	}
	if req.Date != nil {
		date, err := parseDate(*req.Date)
		if err != nil {
			return ch, err
		}
		ch.Date = &date
	}
	if req.Policy != nil {
		p := ledger.SplitPolicy(*req.Policy)
		ch.Policy = &p
	}
	custom, err := parseCustom(req.Custom)
	if err != nil {
		return ch, err
	}
	ch.Custom = custom
	return ch, nil
}
