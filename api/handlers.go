/*
handlers.go - HTTP API handlers for the group ledger

PURPOSE:
  Exposes the service via REST. Handles HTTP request/response, JSON
  serialization, and delegates every rule to the service and ledger.
  The acting user always comes from the bearer token, never from the body.

ENDPOINTS:
  Groups:
    GET    /api/groups                                  Groups the caller is active in
    POST   /api/groups                                  Create group (caller is creator)
    GET    /api/groups/{groupID}                        Group document (members only)
    DELETE /api/groups/{groupID}                        Delete group (creator only)
    GET    /api/groups/{groupID}/plan                   Suggested transfers

  Members:
    POST   /api/groups/{groupID}/members                Add member (creator only)
    DELETE /api/groups/{groupID}/members/{userID}       Remove member (creator only)
    GET    /api/groups/{groupID}/members/{userID}       Member position
    POST   /api/groups/{groupID}/leave                  Leave now (zero contribution)
    POST   /api/groups/{groupID}/leave-requests         Leave or record a pending leave

  Expenses:
    POST   /api/groups/{groupID}/expenses               Add expense (caller pays)
    PATCH  /api/groups/{groupID}/expenses/{expenseID}   Edit expense (payer only)
    DELETE /api/groups/{groupID}/expenses/{expenseID}   Delete expense (creator only)

  Settlement:
    POST   /api/groups/{groupID}/settlements            Request OTP settlement
    POST   /api/groups/{groupID}/settlements/verify     Verify OTP, zero balance
    POST   /api/groups/{groupID}/members/{userID}/settle Settle member expenses

  Users:
    PUT    /api/users/me                                Register caller's contact

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed body or invalid input
  - 401: Missing or invalid token
  - 403: Not the creator / payer / a member
  - 404: Group or expense not found
  - 409: State conflict (balance gates, concurrent write retries exhausted)
  - 422: Amount, split or settlement code rejected
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - service/operations.go: Operations called here
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/warp/group-ledger/ledger"
	"github.com/warp/group-ledger/service"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// UserRegistry stores directory entries. Both database stores implement it.
type UserRegistry interface {
	RegisterUser(ctx context.Context, id ledger.UserID, name, contact string) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *service.Service

	// Users is optional; without it PUT /api/users/me is not mounted.
	Users UserRegistry
}

func NewHandler(svc *service.Service, users UserRegistry) *Handler {
	return &Handler{Service: svc, Users: users}
}

// =============================================================================
// GROUP HANDLERS
// =============================================================================

// ListGroups returns the groups the caller is an active member of.
// GET /api/groups
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Service.ListGroupsForUser(r.Context(), ActorFrom(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	dtos := make([]GroupSummaryDTO, len(groups))
	for i, g := range groups {
		dtos[i] = GroupSummaryDTO{
			ID:       string(g.ID),
			Title:    g.Title,
			ColorTag: g.ColorTag,
			Members:  len(g.ActiveMembers()),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateGroup creates a group with the caller as creator.
// POST /api/groups
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	g, err := h.Service.CreateGroup(r.Context(), ledger.NewGroupParams{
		ID:        ledger.GroupID(req.ID),
		Title:     req.Title,
		CreatorID: ActorFrom(r.Context()),
		ColorTag:  req.ColorTag,
		Members:   userIDs(req.Members),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGroupDTO(g))
}

// GetGroup returns the full group. Former members can still read it.
// GET /api/groups/{groupID}
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	g, ok := h.loadForMember(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toGroupDTO(g))
}

// DeleteGroup deletes the group. Creator only.
// DELETE /api/groups/{groupID}
func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteGroup(r.Context(), groupID(r), ActorFrom(r.Context())); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPlan returns the transfers that would settle the group.
// GET /api/groups/{groupID}/plan
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	g, ok := h.loadForMember(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toTransferDTOs(g.SettlementPlan()))
}

func (h *Handler) loadForMember(w http.ResponseWriter, r *http.Request) (*ledger.Group, bool) {
	g, err := h.Service.GetGroup(r.Context(), groupID(r))
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	if !g.IsMember(ActorFrom(r.Context())) {
		writeError(w, http.StatusForbidden, "Forbidden", ledger.ErrNotAMember)
		return nil, false
	}
	return g, true
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// AddMember adds or reactivates a member. Creator only.
// POST /api/groups/{groupID}/members
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req AddMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	g, err := h.Service.AddMember(r.Context(), groupID(r), ActorFrom(r.Context()), ledger.UserID(req.UserID))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupDTO(g))
}

// RemoveMember removes a member whose balance is zero. Creator only.
// DELETE /api/groups/{groupID}/members/{userID}
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	g, err := h.Service.RemoveMember(r.Context(), groupID(r), ActorFrom(r.Context()), userID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupDTO(g))
}

// GetPosition returns what a member owes under both definitions.
// GET /api/groups/{groupID}/members/{userID}
func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.loadForMember(w, r); !ok {
		return
	}
	p, err := h.Service.MemberPosition(r.Context(), groupID(r), userID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPositionDTO(p))
}

// LeaveGroup leaves immediately or fails with 409.
// POST /api/groups/{groupID}/leave
func (h *Handler) LeaveGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.LeaveGroup(r.Context(), groupID(r), ActorFrom(r.Context())); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RequestLeave leaves, or records a pending leave and answers 202 with the
// contribution that must be settled first.
// POST /api/groups/{groupID}/leave-requests
func (h *Handler) RequestLeave(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())
	err := h.Service.RequestLeave(r.Context(), groupID(r), actor)

	var pending *ledger.SettlementRequiredError
	if errors.As(err, &pending) && pending.Pending {
		writeJSON(w, http.StatusAccepted, AmountDTO{UserID: string(actor), Amount: money(pending.Amount), Status: "pending"})
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AmountDTO{UserID: string(actor), Amount: money(ledger.Money("0")), Status: "left"})
}

// =============================================================================
// EXPENSE HANDLERS
// =============================================================================

// AddExpense records an expense paid by the caller.
// POST /api/groups/{groupID}/expenses
func (h *Handler) AddExpense(w http.ResponseWriter, r *http.Request) {
	var req ExpenseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	in, err := req.toNewExpense(ActorFrom(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	e, err := h.Service.AddExpense(r.Context(), groupID(r), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toExpenseDTO(e))
}

// EditExpense changes an expense and recomputes its split. Payer only.
// PATCH /api/groups/{groupID}/expenses/{expenseID}
func (h *Handler) EditExpense(w http.ResponseWriter, r *http.Request) {
	var req EditExpenseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ch, err := req.toChanges()
	if err != nil {
		writeServiceError(w, err)
		return
	}

	e, err := h.Service.EditExpense(r.Context(), groupID(r), expenseID(r), ActorFrom(r.Context()), ch)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(e))
}

// DeleteExpense removes an expense and reverses its split. Creator only.
// DELETE /api/groups/{groupID}/expenses/{expenseID}
func (h *Handler) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteExpense(r.Context(), groupID(r), expenseID(r), ActorFrom(r.Context())); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// RequestSettlement starts an OTP settlement. The code goes to the creator.
// POST /api/groups/{groupID}/settlements
func (h *Handler) RequestSettlement(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	err := h.Service.SettleBalance(r.Context(), groupID(r), ActorFrom(r.Context()), ledger.UserID(req.TargetUserID))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// VerifySettlement checks the code and zeroes the target's balance.
// POST /api/groups/{groupID}/settlements/verify
func (h *Handler) VerifySettlement(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	target := ledger.UserID(req.TargetUserID)
	cleared, err := h.Service.VerifySettlement(r.Context(), groupID(r), ActorFrom(r.Context()), target, req.Code)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AmountDTO{UserID: string(target), Amount: money(cleared), Status: "settled"})
}

// SettleMemberExpenses clears the member's expenses. Creator only.
// POST /api/groups/{groupID}/members/{userID}/settle
func (h *Handler) SettleMemberExpenses(w http.ResponseWriter, r *http.Request) {
	target := userID(r)
	settled, err := h.Service.SettleMemberExpenses(r.Context(), groupID(r), ActorFrom(r.Context()), target)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AmountDTO{UserID: string(target), Amount: money(settled), Status: "settled"})
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// PutMe registers where the caller receives codes and notices.
// PUT /api/users/me
func (h *Handler) PutMe(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required", nil)
		return
	}

	if err := h.Users.RegisterUser(r.Context(), ActorFrom(r.Context()), req.Name, req.Contact); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

func groupID(r *http.Request) ledger.GroupID {
	return ledger.GroupID(chi.URLParam(r, "groupID"))
}

func userID(r *http.Request) ledger.UserID {
	return ledger.UserID(chi.URLParam(r, "userID"))
}

func expenseID(r *http.Request) ledger.ExpenseID {
	return ledger.ExpenseID(chi.URLParam(r, "expenseID"))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps ledger error categories to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, ledger.ErrForbidden), errors.Is(err, ledger.ErrNotAMember):
		writeError(w, http.StatusForbidden, "Forbidden", err)
	case errors.Is(err, ledger.ErrWriteConflict):
		writeError(w, http.StatusConflict, "Group is busy, retry", err)
	case errors.Is(err, ledger.ErrAlreadyMember),
		errors.Is(err, ledger.ErrCannotRemoveCreator),
		errors.Is(err, ledger.ErrNonZeroBalance),
		errors.Is(err, ledger.ErrSettlementRequired):
		writeError(w, http.StatusConflict, "Conflict", err)
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidSplit),
		errors.Is(err, ledger.ErrNoPendingRequest),
		errors.Is(err, ledger.ErrMismatch),
		errors.Is(err, ledger.ErrSettlementExpired):
		writeError(w, http.StatusUnprocessableEntity, "Unprocessable", err)
	case errors.Is(err, ledger.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "Invalid input", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
