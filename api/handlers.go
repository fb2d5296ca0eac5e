/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Exposes leave policies, the request lifecycle, balances and notifications
  via REST API. Handles HTTP request/response and JSON serialization, and
  delegates every decision to the leave services.

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Gate: session -> actor resolution (auth middleware)
  - Service: request lifecycle, balances, worked hours
  - Policies: policy CRUD
  - Notifications: in-app notification inbox
  - Issuer: bearer token signing and verification
  - PolicyFactory: JSON <-> Policy conversion

REQUEST FLOW:
  1. Auth middleware puts the actor on the context
  2. Parse path, query and body
  3. Call the service with the actor and workspace reference
  4. Serialize response

ERROR HANDLING:
  Service errors map to a status by category and are returned as JSON
  {error, code, details}:
  - 401 UNAUTHORIZED:            no or invalid session
  - 404 NOT_FOUND:               unknown workspace, policy, request, user
  - 403 ACCESS_DENIED:           not the owner nor an active member
  - 403 INSUFFICIENT_PERMISSION: member without the needed permission
  - 400 VALIDATION_ERROR:        invalid input
  - 409 CONFLICT:                duplicate name, policy in use
  - 409 INVALID_STATE:           request no longer pending
  - 500 INTERNAL_ERROR:          anything else, without details

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/auth"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/notify"
)

// maxBodyBytes bounds every JSON body.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

type Deps struct {
	Gate          *leave.Gate
	Service       *leave.Service
	Policies      *leave.PolicyService
	Notifications *notify.Service
	Issuer        *auth.Issuer
	// DevTokens enables POST /api/auth/token.
	DevTokens bool
	Logger    *zap.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	gate          *leave.Gate
	service       *leave.Service
	policies      *leave.PolicyService
	notifications *notify.Service
	issuer        *auth.Issuer
	factory       *factory.PolicyFactory
	devTokens     bool
	logger        *zap.Logger
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		gate:          d.Gate,
		service:       d.Service,
		policies:      d.Policies,
		notifications: d.Notifications,
		issuer:        d.Issuer,
		factory:       factory.NewPolicyFactory(),
		devTokens:     d.DevTokens,
		logger:        logger.Named("api"),
	}
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// IssueToken signs a token for an existing user. Development only.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	if !h.devTokens {
		writeError(w, http.StatusNotFound, "Not found", "NOT_FOUND", "")
		return
	}
	var req TokenRequest
	if !h.decode(w, r, &req) {
		return
	}
	session := &leave.Session{User: &leave.SessionUser{Email: req.Email}}
	if _, err := h.gate.ResolveActor(r.Context(), session); err != nil {
		if errors.Is(err, leave.ErrUnauthorized) {
			err = &leave.ValidationError{Field: "email", Message: "must not be empty"}
		}
		h.writeServiceError(w, r, err)
		return
	}
	token, expires, err := h.issuer.Issue(req.Email)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, TokenResponse{Token: token, ExpiresAt: formatTime(expires)})
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns the visible policies, or with ?all=1 a filtered,
// paginated list of every policy.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	actor, ws := h.actor(r), chi.URLParam(r, "ws")
	q := r.URL.Query()

	if !queryBool(q.Get("all")) {
		policies, err := h.policies.GetLeavePolicies(r.Context(), actor, ws)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		dtos := make([]PolicyDTO, 0, len(policies))
		for _, p := range policies {
			dtos = append(dtos, toPolicyDTO(h.factory, p))
		}
		writeJSON(w, http.StatusOK, dtos)
		return
	}

	page, err := pageOptions(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	filter := leave.PolicyFilter{Search: q.Get("search"), Group: q.Get("group"), PageOptions: page}
	if v := q.Get("hidden"); v != "" {
		hidden := queryBool(v)
		filter.Hidden = &hidden
	}
	result, err := h.policies.ListPolicies(r.Context(), actor, ws, filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPage(result, func(p leave.Policy) PolicyDTO { return toPolicyDTO(h.factory, p) }))
}

// CreatePolicy creates a policy from a factory.PolicyJSON body.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	policy, ok := h.decodePolicy(w, r)
	if !ok {
		return
	}
	created, err := h.policies.CreatePolicy(r.Context(), h.actor(r), chi.URLParam(r, "ws"), policy)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPolicyDTO(h.factory, *created))
}

func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.policies.GetPolicy(r.Context(), h.actor(r), chi.URLParam(r, "ws"), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(h.factory, *p))
}

// UpdatePolicy replaces a policy definition.
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	policy, ok := h.decodePolicy(w, r)
	if !ok {
		return
	}
	updated, err := h.policies.UpdatePolicy(r.Context(), h.actor(r), chi.URLParam(r, "ws"), chi.URLParam(r, "id"), policy)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(h.factory, *updated))
}

func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.policies.DeletePolicy(r.Context(), h.actor(r), chi.URLParam(r, "ws"), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// CreateRequest submits a leave request against a policy of the workspace.
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	actor, ws := h.actor(r), chi.URLParam(r, "ws")
	var req CreateLeaveRequest
	if !h.decode(w, r, &req) {
		return
	}
	// The policy must belong to the workspace in the path.
	if _, err := h.policies.GetPolicy(r.Context(), actor, ws, req.PolicyID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out, err := h.service.CreateLeaveRequest(r.Context(), actor, leave.CreateRequestInput{
		PolicyID:  req.PolicyID,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Duration:  leave.Duration(strings.ToUpper(req.Duration)),
		Notes:     req.Notes,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOutcomeResponse(out))
}

// ListWorkspaceRequests is the manager queue.
func (h *Handler) ListWorkspaceRequests(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	page, err := h.service.GetPaginatedWorkspaceLeaveRequests(r.Context(), h.actor(r), chi.URLParam(r, "ws"), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPage(page, toRequestDTO))
}

func (h *Handler) ListMyRequests(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	page, err := h.service.GetMyLeaveRequests(r.Context(), h.actor(r), chi.URLParam(r, "ws"), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPage(page, toRequestDTO))
}

func (h *Handler) RequestSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.service.GetWorkspaceLeaveRequestsSummary(r.Context(), h.actor(r), chi.URLParam(r, "ws"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// ApproveRequest approves a pending request.
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	out, err := h.service.ApproveLeaveRequest(r.Context(), h.actor(r), chi.URLParam(r, "id"), req.Notes)
	h.writeOutcome(w, r, out, err)
}

// RejectRequest rejects a pending request.
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	out, err := h.service.RejectLeaveRequest(r.Context(), h.actor(r), chi.URLParam(r, "id"), req.Notes)
	h.writeOutcome(w, r, out, err)
}

// CancelRequest withdraws the caller's own pending request.
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.CancelLeaveRequest(r.Context(), h.actor(r), chi.URLParam(r, "id"))
	h.writeOutcome(w, r, out, err)
}

func (h *Handler) writeOutcome(w http.ResponseWriter, r *http.Request, out leave.Outcome, err error) {
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeResponse(out))
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetBalances returns the caller's balance for every visible policy.
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	year, err := queryInt(r, "year")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	balances, err := h.service.GetBalances(r.Context(), h.actor(r), chi.URLParam(r, "ws"), year)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	dtos := make([]BalanceDTO, 0, len(balances))
	for _, b := range balances {
		dtos = append(dtos, toBalanceDTO(b))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBalance returns one balance. userID "me" is the caller.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	year, err := queryInt(r, "year")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	b, err := h.service.GetBalance(r.Context(), h.actor(r), chi.URLParam(r, "ws"), balanceUser(r), chi.URLParam(r, "policyID"), year)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(b))
}

// GetLedgerEntries lists the ledger rows behind a balance (?year=).
func (h *Handler) GetLedgerEntries(w http.ResponseWriter, r *http.Request) {
	year, err := queryInt(r, "year")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	txs, err := h.service.GetLedgerEntries(r.Context(), h.actor(r), chi.URLParam(r, "ws"), balanceUser(r), chi.URLParam(r, "policyID"), year)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	entries := make([]LedgerEntryDTO, 0, len(txs))
	for _, tx := range txs {
		entries = append(entries, toLedgerEntryDTO(tx))
	}
	writeJSON(w, http.StatusOK, entries)
}

// balanceUser reads {userID}; "me" stands for the caller.
func balanceUser(r *http.Request) string {
	if userID := chi.URLParam(r, "userID"); userID != "me" {
		return userID
	}
	return ""
}

// RecordWorkedHours credits an hourly policy.
func (h *Handler) RecordWorkedHours(w http.ResponseWriter, r *http.Request) {
	var req WorkedHoursRequest
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := h.service.RecordWorkedHours(r.Context(), h.actor(r), chi.URLParam(r, "ws"), leave.WorkedHoursInput{
		UserID:    req.UserID,
		PolicyID:  req.PolicyID,
		Date:      req.Date,
		Hours:     req.Hours,
		Reference: req.Reference,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLedgerEntryDTO(tx))
}

func toLedgerEntryDTO(tx generic.Transaction) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:          string(tx.ID),
		UserID:      string(tx.EntityID),
		PolicyID:    string(tx.PolicyID),
		EffectiveAt: tx.EffectiveAt.String(),
		Amount:      tx.Delta.Value,
		Unit:        string(tx.Delta.Unit),
		Type:        string(tx.Type),
		Reference:   tx.ReferenceID,
	}
}

// =============================================================================
// NOTIFICATION HANDLERS
// =============================================================================

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	ns, err := h.notifications.List(r.Context(), h.actor(r), queryBool(r.URL.Query().Get("unread")), limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if ns == nil {
		ns = []notify.Notification{}
	}
	writeJSON(w, http.StatusOK, ns)
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := h.notifications.MarkRead(r.Context(), h.actor(r), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

// actor is set by authenticate on every route that calls this.
func (h *Handler) actor(r *http.Request) leave.Actor {
	a, _ := ActorFrom(r.Context())
	return a
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// errorStatus maps a service error to its HTTP status, code and message.
func errorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, leave.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required"
	case errors.Is(err, leave.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Resource not found"
	case errors.Is(err, leave.ErrAccessDenied):
		return http.StatusForbidden, "ACCESS_DENIED", "Access denied"
	case errors.Is(err, leave.ErrInsufficientPermission):
		return http.StatusForbidden, "INSUFFICIENT_PERMISSION", "Insufficient permission"
	case errors.Is(err, leave.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR", "Invalid input"
	case errors.Is(err, leave.ErrConflict):
		return http.StatusConflict, "CONFLICT", "Conflict"
	case errors.Is(err, leave.ErrState):
		return http.StatusConflict, "INVALID_STATE", "Request is not in a state that allows this"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := errorStatus(err)
	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("code", code),
		zap.Error(err),
	}
	details := ""
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", fields...)
	} else {
		h.logger.Debug("request rejected", fields...)
		details = err.Error()
	}
	writeError(w, status, message, code, details)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.writeServiceError(w, r, &leave.ValidationError{Field: "body", Message: err.Error()})
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		h.writeServiceError(w, r, &leave.ValidationError{Field: "body", Message: err.Error()})
		return false
	}
	return true
}

func (h *Handler) decodePolicy(w http.ResponseWriter, r *http.Request) (leave.Policy, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeServiceError(w, r, &leave.ValidationError{Field: "body", Message: err.Error()})
		return leave.Policy{}, false
	}
	p, err := h.factory.ParsePolicy(string(body))
	if err != nil {
		h.writeServiceError(w, r, err)
		return leave.Policy{}, false
	}
	return p, true
}

func queryBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}

// queryInt returns 0 for a missing parameter.
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &leave.ValidationError{Field: name, Message: "must be an integer"}
	}
	return n, nil
}

func pageOptions(r *http.Request) (leave.PageOptions, error) {
	take, err := queryInt(r, "take")
	if err != nil {
		return leave.PageOptions{}, err
	}
	skip, err := queryInt(r, "skip")
	if err != nil {
		return leave.PageOptions{}, err
	}
	return leave.PageOptions{Take: take, Skip: skip}, nil
}

func listOptions(r *http.Request) (leave.ListOptions, error) {
	page, err := pageOptions(r)
	if err != nil {
		return leave.ListOptions{}, err
	}
	return leave.ListOptions{PageOptions: page, Status: r.URL.Query().Get("status")}, nil
}
