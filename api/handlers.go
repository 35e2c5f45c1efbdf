/*
handlers.go - HTTP handlers mapping the command surface onto the engine

PURPOSE:
  Each user-facing action maps 1:1 to one engine operation or to a pure
  read. The acting user arrives in the X-Actor-ID header (the front end
  authenticates; this service only authorizes).

ENDPOINTS:
  Users:
    GET    /api/users/{id}/balance   Current balance (read, no lock)
    GET    /api/users/{id}/history   Mutation log with running totals
    POST   /api/users/{id}/balance   Apply increment/set (privileged)

  Groups:
    GET    /api/groups               List configured grants
    PUT    /api/groups/{id}/grant    Set the group's grant (privileged)
    DELETE /api/groups/{id}/grant    Clear the group's grant (privileged)

  Admins (owner only):
    PUT    /api/admins/{id}          Promote to the allowlist
    DELETE /api/admins/{id}          Demote from the allowlist

  Ingest & membership events:
    POST   /api/ingest/donation      Automated donation (system actor)
    POST   /api/events/join          Schedule deferred post-join check
    POST   /api/events/leave         Cancel a pending check

ERROR HANDLING:
  - 400: malformed input, negative set amount
  - 401: missing actor header
  - 403: actor not privileged / not owner
  - 409: entity or group busy ("try again")
  - 500: storage failure

SEE ALSO:
  - dto.go: request/response shapes
  - server.go: router and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pledge/donor-engine/donor"
	"github.com/shopspring/decimal"
)

// actorHeader carries the authenticated acting user's ID.
const actorHeader = "X-Actor-ID"

// defaultDonationAmount applies when an automated donation arrives
// without an amount.
var defaultDonationAmount = decimal.NewFromInt(10)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *donor.Engine
	Checker   *donor.Checker
	Admins    donor.AdminStore
	JoinWatch *donor.JoinWatcher
	Audit     donor.Auditor
}

// NewHandler wires a handler over the engine and its collaborators.
func NewHandler(engine *donor.Engine, checker *donor.Checker, admins donor.AdminStore, watch *donor.JoinWatcher, audit donor.Auditor) *Handler {
	if audit == nil {
		audit = donor.NopAuditor
	}
	return &Handler{
		Engine:    engine,
		Checker:   checker,
		Admins:    admins,
		JoinWatch: watch,
		Audit:     audit,
	}
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// GetBalance returns the user's current balance. Reads never lock.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.privilegedActor(w, r); !ok {
		return
	}

	user := donor.UserID(chi.URLParam(r, "id"))
	balance, err := h.Engine.Ledger.GetBalance(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read balance", err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{User: string(user), Balance: balance})
}

// GetHistory returns the user's mutation log with running totals.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.privilegedActor(w, r); !ok {
		return
	}

	user := donor.UserID(chi.URLParam(r, "id"))
	records, err := h.Engine.History.ListHistory(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read history", err)
		return
	}

	lines := donor.ReplayTotals(records)
	dto := HistoryDTO{User: string(user), Lines: make([]HistoryLineDTO, len(lines))}
	for i, line := range lines {
		dto.Lines[i] = HistoryLineDTO{
			ID:     line.Record.ID,
			At:     line.Record.Time,
			Actor:  string(line.Record.Actor),
			Op:     string(line.Record.Op),
			Amount: line.Record.Amount,
			Before: line.Before,
			After:  line.After,
		}
	}

	writeJSON(w, http.StatusOK, dto)
}

// ChangeBalance applies one increment or set to the user's ledger.
func (h *Handler) ChangeBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.privilegedActor(w, r)
	if !ok {
		return
	}

	var req ChangeBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	op := donor.Op(req.Op)
	if !op.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown op: must be increment or set", nil)
		return
	}
	// Non-negativity for set is a boundary rule, not an engine rule.
	if op == donor.OpSet && req.Amount.IsNegative() {
		writeError(w, http.StatusBadRequest, "Set amount must be at least 0", nil)
		return
	}

	user := donor.UserID(chi.URLParam(r, "id"))
	res, err := h.Engine.ApplyBalanceChange(r.Context(), actor, user, op, req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ChangeBalanceDTO{
		User:     string(user),
		Op:       string(op),
		Amount:   req.Amount,
		Previous: res.Previous,
		New:      res.New,
	})
}

// =============================================================================
// GROUP HANDLERS
// =============================================================================

// ListGroups returns every group with a configured grant.
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.privilegedActor(w, r); !ok {
		return
	}

	configs, err := h.Engine.Groups.ListGroupGrants(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list groups", err)
		return
	}

	dtos := make([]GroupConfigDTO, len(configs))
	for i, cfg := range configs {
		dtos[i] = GroupConfigDTO{Group: string(cfg.Group), Grant: string(cfg.Grant)}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SetGrant configures the group's grant and reconciles its members.
func (h *Handler) SetGrant(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.privilegedActor(w, r)
	if !ok {
		return
	}

	var req SetGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Grant == "" {
		writeError(w, http.StatusBadRequest, "Grant must not be empty; DELETE the grant to clear it", nil)
		return
	}

	h.reconfigure(w, r, actor, donor.GrantID(req.Grant))
}

// ClearGrant clears the group's grant and reconciles its members.
func (h *Handler) ClearGrant(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.privilegedActor(w, r)
	if !ok {
		return
	}

	h.reconfigure(w, r, actor, "")
}

func (h *Handler) reconfigure(w http.ResponseWriter, r *http.Request, actor donor.UserID, grant donor.GrantID) {
	group := donor.GroupID(chi.URLParam(r, "id"))
	res, err := h.Engine.ReconfigureGroup(r.Context(), actor, group, grant)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ReconfigureDTO{
		Group:       string(group),
		Grant:       string(grant),
		Previous:    string(res.Previous),
		HadPrevious: res.HadPrevious,
		Changed:     res.Changed,
	})
}

// =============================================================================
// ADMIN HANDLERS (owner only)
// =============================================================================

// Promote adds the user to the allowlist.
func (h *Handler) Promote(w http.ResponseWriter, r *http.Request) {
	if !h.ownerActor(w, r) {
		return
	}

	user := donor.UserID(chi.URLParam(r, "id"))
	was, err := h.Admins.AddAdmin(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to promote", err)
		return
	}
	if !was {
		discardAudit(h.Audit.Emit(r.Context(), "Promoted "+string(user)+"."))
	}

	writeJSON(w, http.StatusOK, AdminDTO{User: string(user), Changed: !was, Admin: true})
}

// Demote removes the user from the allowlist.
func (h *Handler) Demote(w http.ResponseWriter, r *http.Request) {
	if !h.ownerActor(w, r) {
		return
	}

	user := donor.UserID(chi.URLParam(r, "id"))
	was, err := h.Admins.RemoveAdmin(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to demote", err)
		return
	}
	if was {
		discardAudit(h.Audit.Emit(r.Context(), "Demoted "+string(user)+"."))
	}

	writeJSON(w, http.StatusOK, AdminDTO{User: string(user), Changed: was, Admin: false})
}

// =============================================================================
// INGEST & MEMBERSHIP EVENTS
// =============================================================================

// IngestDonation applies an automated donation as the system actor,
// through the same locked engine path as operator-driven changes.
func (h *Handler) IngestDonation(w http.ResponseWriter, r *http.Request) {
	var req IngestDonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.User == "" {
		writeError(w, http.StatusBadRequest, "User is required", nil)
		return
	}

	amount := defaultDonationAmount
	if req.Amount != nil {
		amount = *req.Amount
	}

	res, err := h.Engine.ApplyBalanceChange(r.Context(), donor.SystemActor, donor.UserID(req.User), donor.OpIncrement, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, ChangeBalanceDTO{
		User:     req.User,
		Op:       string(donor.OpIncrement),
		Amount:   amount,
		Previous: res.Previous,
		New:      res.New,
	})
}

// MemberJoined schedules the deferred post-join grant check.
func (h *Handler) MemberJoined(w http.ResponseWriter, r *http.Request) {
	var req MembershipEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Group == "" || req.User == "" {
		writeError(w, http.StatusBadRequest, "Group and user are required", nil)
		return
	}

	h.JoinWatch.OnJoin(donor.GroupID(req.Group), donor.UserID(req.User))
	w.WriteHeader(http.StatusAccepted)
}

// MemberLeft cancels any pending post-join check.
func (h *Handler) MemberLeft(w http.ResponseWriter, r *http.Request) {
	var req MembershipEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	h.JoinWatch.OnLeave(donor.GroupID(req.Group), donor.UserID(req.User))
	w.WriteHeader(http.StatusAccepted)
}

// =============================================================================
// HELPERS
// =============================================================================

// privilegedActor extracts the acting user and enforces privilege.
// On failure it writes the error reply and returns ok=false.
func (h *Handler) privilegedActor(w http.ResponseWriter, r *http.Request) (donor.UserID, bool) {
	actor := donor.UserID(r.Header.Get(actorHeader))
	if actor == "" {
		writeError(w, http.StatusUnauthorized, "Missing "+actorHeader+" header", nil)
		return "", false
	}

	privileged, err := h.Checker.IsPrivileged(r.Context(), actor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check privilege", err)
		return "", false
	}
	if !privileged {
		writeError(w, http.StatusForbidden, "You do not have permission to use this command", nil)
		return "", false
	}
	return actor, true
}

// ownerActor enforces that the acting user is the fixed owner.
func (h *Handler) ownerActor(w http.ResponseWriter, r *http.Request) bool {
	actor := donor.UserID(r.Header.Get(actorHeader))
	if actor == "" {
		writeError(w, http.StatusUnauthorized, "Missing "+actorHeader+" header", nil)
		return false
	}
	if !h.Checker.IsOwner(actor) {
		writeError(w, http.StatusForbidden, "You do not have permission to use this command", nil)
		return false
	}
	return true
}

// writeEngineError maps engine errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case donor.IsBusy(err):
		writeError(w, http.StatusConflict, "Temporarily locked, try again", err)
	case errors.Is(err, donor.ErrUnknownOp):
		writeError(w, http.StatusBadRequest, "Unknown op: must be increment or set", err)
	case errors.Is(err, donor.ErrNotPrivileged):
		writeError(w, http.StatusForbidden, "You do not have permission to use this command", err)
	case errors.Is(err, donor.ErrStoreUnavailable):
		writeError(w, http.StatusInternalServerError, "Storage failure", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	dto := ErrorDTO{Error: msg}
	if err != nil {
		dto.Detail = err.Error()
	}
	writeJSON(w, status, dto)
}

// discardAudit logs and drops an audit-emission error; emission is
// best-effort everywhere.
func discardAudit(err error) {
	if err != nil {
		log.Printf("ignored audit failure: %v", err)
	}
}
