/*
handlers_test.go - HTTP tests for the API handlers

Tests run the real router against an in-memory sqlite store:
- Authentication and dev token issuance
- Error category -> status mapping
- Policy CRUD, the request lifecycle, balances and notifications
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/auth"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/notify"
	"github.com/warp/leave-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testNow = time.Date(2025, time.August, 1, 12, 0, 0, 0, time.UTC)

type testServer struct {
	*httptest.Server
	issuer *auth.Issuer
	tokens map[string]string
}

// newTestServer seeds workspace "acme" with an owner, a manager holding
// MANAGE_LEAVE and a plain member alice, plus an outsider.
func newTestServer(t *testing.T, devTokens bool) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	for _, u := range []leave.User{
		{ID: "u-owner", Email: "owner@acme.test", Name: "Owner"},
		{ID: "u-manager", Email: "manager@acme.test", Name: "Manager"},
		{ID: "u-alice", Email: "alice@acme.test", Name: "Alice"},
		{ID: "u-out", Email: "outsider@other.test", Name: "Outsider"},
	} {
		require.NoError(t, store.SaveUser(ctx, u))
	}
	require.NoError(t, store.SaveWorkspace(ctx, leave.Workspace{ID: "ws-1", Slug: "acme", Name: "Acme", OwnerID: "u-owner"}))
	joined := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveMember(ctx, leave.Member{
		WorkspaceID: "ws-1", UserID: "u-manager", Role: leave.RoleMember, Status: leave.MemberActive, JoinedAt: joined,
		Permissions: []leave.Permission{leave.PermissionManageLeave},
	}))
	require.NoError(t, store.SaveMember(ctx, leave.Member{
		WorkspaceID: "ws-1", UserID: "u-alice", Role: leave.RoleMember, Status: leave.MemberActive, JoinedAt: joined,
	}))

	gate := leave.NewGate(store, nil, nil)
	notifications := notify.NewService(store, nil)
	svc := leave.NewService(leave.Deps{
		Gate:      gate,
		Directory: store,
		Policies:  store,
		Requests:  store,
		Ledger:    generic.NewLedger(store),
		Snapshots: store,
		Notifier:  notifications,
	}, leave.WithClock(func() time.Time { return testNow }))

	issuer := auth.NewIssuer("test-secret", time.Hour)
	h := NewHandler(Deps{
		Gate:          gate,
		Service:       svc,
		Policies:      leave.NewPolicyService(gate, store, nil),
		Notifications: notifications,
		Issuer:        issuer,
		DevTokens:     devTokens,
	})
	srv := httptest.NewServer(NewRouter(h, RouterOptions{}))
	t.Cleanup(srv.Close)

	ts := &testServer{Server: srv, issuer: issuer, tokens: map[string]string{}}
	for _, email := range []string{"owner@acme.test", "manager@acme.test", "alice@acme.test", "outsider@other.test"} {
		token, _, err := issuer.Issue(email)
		require.NoError(t, err)
		ts.tokens[email] = token
	}
	return ts
}

// do sends a request as the user with the given email ("" for anonymous)
// and decodes the response into out when it is non-nil.
func (ts *testServer) do(t *testing.T, as, method, path string, body any, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = bytes.NewBufferString(b)
		default:
			raw, err := json.Marshal(b)
			require.NoError(t, err)
			rdr = bytes.NewReader(raw)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if as != "" {
		req.Header.Set("Authorization", "Bearer "+ts.tokens[as])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

const (
	owner   = "owner@acme.test"
	manager = "manager@acme.test"
	alice   = "alice@acme.test"
	outside = "outsider@other.test"
)

func (ts *testServer) createAnnualLeave(t *testing.T) PolicyDTO {
	t.Helper()
	var p PolicyDTO
	status := ts.do(t, owner, http.MethodPost, "/api/workspaces/acme/policies", factory.AnnualLeaveJSON("Annual Leave", 25, 5), &p)
	require.Equal(t, http.StatusCreated, status)
	return p
}

// =============================================================================
// AUTH
// =============================================================================

func TestAuth_RequiresValidBearerToken(t *testing.T) {
	ts := newTestServer(t, false)

	var errResp ErrorResponse
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, "", http.MethodGet, "/api/workspaces/acme/policies", nil, &errResp))
	assert.Equal(t, "UNAUTHORIZED", errResp.Code)

	ts.tokens["forged"] = "not-a-token"
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, "forged", http.MethodGet, "/api/workspaces/acme/policies", nil, nil))

	// A valid token for someone who is not a user.
	ghost, _, err := ts.issuer.Issue("ghost@acme.test")
	require.NoError(t, err)
	ts.tokens["ghost"] = ghost
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, "ghost", http.MethodGet, "/api/workspaces/acme/policies", nil, nil))
}

func TestIssueToken(t *testing.T) {
	// GIVEN: dev tokens disabled
	disabled := newTestServer(t, false)
	assert.Equal(t, http.StatusNotFound, disabled.do(t, "", http.MethodPost, "/api/auth/token", TokenRequest{Email: alice}, nil))

	// GIVEN: dev tokens enabled
	ts := newTestServer(t, true)

	var tok TokenResponse
	require.Equal(t, http.StatusCreated, ts.do(t, "", http.MethodPost, "/api/auth/token", TokenRequest{Email: alice}, &tok))
	assert.NotEmpty(t, tok.ExpiresAt)

	// THEN: the token authenticates
	ts.tokens["fresh"] = tok.Token
	assert.Equal(t, http.StatusOK, ts.do(t, "fresh", http.MethodGet, "/api/workspaces/acme/policies", nil, nil))

	assert.Equal(t, http.StatusNotFound, ts.do(t, "", http.MethodPost, "/api/auth/token", TokenRequest{Email: "ghost@acme.test"}, nil))
	assert.Equal(t, http.StatusBadRequest, ts.do(t, "", http.MethodPost, "/api/auth/token", TokenRequest{Email: " "}, nil))
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{leave.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
		{&leave.NotFoundError{Kind: "policy", Ref: "p"}, http.StatusNotFound, "NOT_FOUND"},
		{&leave.AccessError{WorkspaceID: "ws-1"}, http.StatusForbidden, "ACCESS_DENIED"},
		{&leave.PermissionError{Permission: leave.PermissionManageLeave}, http.StatusForbidden, "INSUFFICIENT_PERMISSION"},
		{&leave.ValidationError{Field: "name"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{leave.ErrConflict, http.StatusConflict, "CONFLICT"},
		{fmt.Errorf("wrapped: %w", leave.ErrState), http.StatusConflict, "INVALID_STATE"},
		{fmt.Errorf("disk full"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			status, code, _ := errorStatus(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, code)
		})
	}
}

// =============================================================================
// POLICIES
// =============================================================================

func TestPolicies_CRUD(t *testing.T) {
	ts := newTestServer(t, false)

	// WHEN: the owner creates a policy from a preset
	p := ts.createAnnualLeave(t)

	// THEN: the definition round-trips
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "ws-1", p.WorkspaceID)
	assert.Equal(t, "FIXED", p.AccrualType)
	assert.True(t, p.AccrualAmount.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, "PARTIAL_BALANCE", p.RolloverType)

	var got PolicyDTO
	require.Equal(t, http.StatusOK, ts.do(t, alice, http.MethodGet, "/api/workspaces/ws-1/policies/"+p.ID, nil, &got))
	assert.Equal(t, "Annual Leave", got.Name)

	var updated PolicyDTO
	require.Equal(t, http.StatusOK, ts.do(t, owner, http.MethodPut, "/api/workspaces/acme/policies/"+p.ID,
		`{"name": "Annual Leave", "accrualType": "FIXED", "accrualAmount": 28}`, &updated))
	assert.True(t, updated.AccrualAmount.Equal(decimal.NewFromInt(28)))
	assert.Equal(t, "NONE", updated.RolloverType)

	assert.Equal(t, http.StatusNoContent, ts.do(t, owner, http.MethodDelete, "/api/workspaces/acme/policies/"+p.ID, nil, nil))
	assert.Equal(t, http.StatusNotFound, ts.do(t, owner, http.MethodGet, "/api/workspaces/acme/policies/"+p.ID, nil, nil))
}

func TestPolicies_Errors(t *testing.T) {
	ts := newTestServer(t, false)
	ts.createAnnualLeave(t)

	var errResp ErrorResponse
	status := ts.do(t, alice, http.MethodPost, "/api/workspaces/acme/policies", `{"name": "Mine"}`, &errResp)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "INSUFFICIENT_PERMISSION", errResp.Code)

	status = ts.do(t, outside, http.MethodGet, "/api/workspaces/acme/policies", nil, &errResp)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "ACCESS_DENIED", errResp.Code)

	assert.Equal(t, http.StatusNotFound, ts.do(t, owner, http.MethodGet, "/api/workspaces/nowhere/policies", nil, nil))

	status = ts.do(t, owner, http.MethodPost, "/api/workspaces/acme/policies", `{"name": "X", "rolloverType": "PARTIAL_BALANCE"}`, &errResp)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, errResp.Details, "rolloverAmount")

	status = ts.do(t, owner, http.MethodPost, "/api/workspaces/acme/policies", `{"name": "annual leave"}`, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "CONFLICT", errResp.Code)
}

func TestPolicies_ListAllIsPaginated(t *testing.T) {
	ts := newTestServer(t, false)
	for _, name := range []string{"Annual", "Sick", "Unpaid"} {
		require.Equal(t, http.StatusCreated, ts.do(t, owner, http.MethodPost, "/api/workspaces/acme/policies", factory.SickLeaveJSON(name, 5), nil))
	}

	var page PageResponse[PolicyDTO]
	require.Equal(t, http.StatusOK, ts.do(t, owner, http.MethodGet, "/api/workspaces/acme/policies?all=1&take=2", nil, &page))
	assert.Len(t, page.Data, 2)
	assert.Equal(t, 3, page.Pagination.Total)
	assert.True(t, page.Pagination.HasMore)
	assert.Equal(t, 2, page.Pagination.TotalPages)

	var visible []PolicyDTO
	require.Equal(t, http.StatusOK, ts.do(t, alice, http.MethodGet, "/api/workspaces/acme/policies", nil, &visible))
	assert.Len(t, visible, 3)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, owner, http.MethodGet, "/api/workspaces/acme/policies?all=1&take=many", nil, nil))
}

// =============================================================================
// REQUEST LIFECYCLE
// =============================================================================

func TestRequests_Lifecycle(t *testing.T) {
	ts := newTestServer(t, false)
	p := ts.createAnnualLeave(t)

	// GIVEN: alice asks for a week off
	var created OutcomeResponse
	status := ts.do(t, alice, http.MethodPost, "/api/workspaces/acme/requests", CreateLeaveRequest{
		PolicyID: p.ID, StartDate: "2025-09-01", EndDate: "2025-09-05", Notes: "holiday",
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "PENDING", created.Request.Status)
	assert.Equal(t, "FULL_DAY", created.Request.Duration)

	// THEN: alice cannot review, the manager sees it queued
	assert.Equal(t, http.StatusForbidden, ts.do(t, alice, http.MethodPost, "/api/requests/"+created.Request.ID+"/approve", nil, nil))

	var queue PageResponse[RequestDTO]
	require.Equal(t, http.StatusOK, ts.do(t, manager, http.MethodGet, "/api/workspaces/acme/requests?status=pending", nil, &queue))
	require.Len(t, queue.Data, 1)
	assert.Equal(t, created.Request.ID, queue.Data[0].ID)

	// WHEN: the manager approves
	var approved OutcomeResponse
	require.Equal(t, http.StatusOK, ts.do(t, manager, http.MethodPost, "/api/requests/"+created.Request.ID+"/approve",
		ReviewRequest{Notes: "enjoy"}, &approved))

	// THEN: the balance comes back with the outcome
	assert.Equal(t, "APPROVED", approved.Request.Status)
	assert.Equal(t, "enjoy", approved.Request.ReviewNotes)
	require.NotNil(t, approved.Request.ReviewedAt)
	require.NotNil(t, approved.Balance)
	assert.True(t, approved.Balance.Balance.Equal(decimal.NewFromInt(20)))
	for _, se := range approved.SideEffects {
		assert.True(t, se.OK, se.Name)
	}

	// AND: a second decision is refused
	var errResp ErrorResponse
	status = ts.do(t, manager, http.MethodPost, "/api/requests/"+created.Request.ID+"/reject", nil, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "INVALID_STATE", errResp.Code)

	var sum leave.Summary
	require.Equal(t, http.StatusOK, ts.do(t, manager, http.MethodGet, "/api/workspaces/acme/requests/summary", nil, &sum))
	assert.Equal(t, 1, sum.Approved)
	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, http.StatusForbidden, ts.do(t, alice, http.MethodGet, "/api/workspaces/acme/requests/summary", nil, nil))

	var mine PageResponse[RequestDTO]
	require.Equal(t, http.StatusOK, ts.do(t, alice, http.MethodGet, "/api/workspaces/acme/requests/mine", nil, &mine))
	assert.Equal(t, 1, mine.Pagination.Total)
}

func TestRequests_CancelAndValidation(t *testing.T) {
	ts := newTestServer(t, false)
	p := ts.createAnnualLeave(t)

	var created OutcomeResponse
	require.Equal(t, http.StatusCreated, ts.do(t, alice, http.MethodPost, "/api/workspaces/acme/requests", CreateLeaveRequest{
		PolicyID: p.ID, StartDate: "2025-09-01", Duration: "half_day",
	}, &created))
	assert.Equal(t, "HALF_DAY", created.Request.Duration)

	assert.Equal(t, http.StatusForbidden, ts.do(t, manager, http.MethodPost, "/api/requests/"+created.Request.ID+"/cancel", nil, nil))

	var canceled OutcomeResponse
	require.Equal(t, http.StatusOK, ts.do(t, alice, http.MethodPost, "/api/requests/"+created.Request.ID+"/cancel", nil, &canceled))
	assert.Equal(t, "CANCELED", canceled.Request.Status)
	assert.Nil(t, canceled.Request.ReviewedAt)

	assert.Equal(t, http.StatusNotFound, ts.do(t, manager, http.MethodPost, "/api/requests/missing/approve", nil, nil))

	assert.Equal(t, http.StatusBadRequest, ts.do(t, alice, http.MethodPost, "/api/workspaces/acme/requests", CreateLeaveRequest{
		PolicyID: p.ID, StartDate: "2025-09-05", EndDate: "2025-09-01",
	}, nil))
	assert.Equal(t, http.StatusBadRequest, ts.do(t, alice, http.MethodPost, "/api/workspaces/acme/requests", `{"policyId": "x", "days": 3}`, nil))
	assert.Equal(t, http.StatusNotFound, ts.do(t, alice, http.MethodPost, "/api/workspaces/acme/requests", CreateLeaveRequest{
		PolicyID: "missing", StartDate: "2025-09-01",
	}, nil))
}

// =============================================================================
// BALANCES AND NOTIFICATIONS
// =============================================================================

func TestBalances(t *testing.T) {
	ts := newTestServer(t, false)
	p := ts.createAnnualLeave(t)

	var balances []BalanceDTO
	require.Equal(t, http.StatusOK, ts.do(t, alice, http.MethodGet, "/api/workspaces/acme/balances?year=2025", nil, &balances))
	require.Len(t, balances, 1)
	assert.Equal(t, "days", balances[0].Unit)
	assert.Equal(t, "2025-01-01", balances[0].PeriodStart)
	assert.True(t, balances[0].Balance.Equal(decimal.NewFromInt(25)))

	var one BalanceDTO
	require.Equal(t, http.StatusOK, ts.do(t, alice, http.MethodGet, "/api/workspaces/acme/balances/me/"+p.ID, nil, &one))
	assert.Equal(t, 2025, one.Year)

	assert.Equal(t, http.StatusForbidden, ts.do(t, alice, http.MethodGet, "/api/workspaces/acme/balances/u-manager/"+p.ID, nil, nil))
	assert.Equal(t, http.StatusOK, ts.do(t, manager, http.MethodGet, "/api/workspaces/acme/balances/u-alice/"+p.ID, nil, nil))
	assert.Equal(t, http.StatusBadRequest, ts.do(t, alice, http.MethodGet, "/api/workspaces/acme/balances?year=soon", nil, nil))
}

func TestWorkedHours(t *testing.T) {
	ts := newTestServer(t, false)
	var p PolicyDTO
	require.Equal(t, http.StatusCreated, ts.do(t, owner, http.MethodPost, "/api/workspaces/acme/policies", factory.HourlyAccrualJSON("Hourly", 0.1), &p))

	var entry LedgerEntryDTO
	status := ts.do(t, manager, http.MethodPost, "/api/workspaces/acme/worked-hours", WorkedHoursRequest{
		UserID: "u-alice", PolicyID: p.ID, Date: "2025-07-01", Hours: decimal.NewFromInt(40), Reference: "ts-1",
	}, &entry)
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, entry.Amount.Equal(decimal.NewFromInt(4)))
	assert.Equal(t, "hours", entry.Unit)

	var b BalanceDTO
	require.Equal(t, http.StatusOK, ts.do(t, alice, http.MethodGet, "/api/workspaces/acme/balances/me/"+p.ID, nil, &b))
	assert.True(t, b.TotalAccrued.Equal(decimal.NewFromInt(4)))

	var entries []LedgerEntryDTO
	require.Equal(t, http.StatusOK, ts.do(t, alice, http.MethodGet, "/api/workspaces/acme/balances/me/"+p.ID+"/ledger?year=2025", nil, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)
	assert.Equal(t, "ts-1", entries[0].Reference)
	assert.Equal(t, http.StatusForbidden, ts.do(t, alice, http.MethodGet, "/api/workspaces/acme/balances/u-manager/"+p.ID+"/ledger", nil, nil))
}

func TestNotifications(t *testing.T) {
	ts := newTestServer(t, false)
	p := ts.createAnnualLeave(t)
	require.Equal(t, http.StatusCreated, ts.do(t, alice, http.MethodPost, "/api/workspaces/acme/requests", CreateLeaveRequest{
		PolicyID: p.ID, StartDate: "2025-09-01",
	}, nil))

	// GIVEN: the manager was told about the submission
	var inbox []notify.Notification
	require.Equal(t, http.StatusOK, ts.do(t, manager, http.MethodGet, "/api/notifications?unread=1", nil, &inbox))
	require.Len(t, inbox, 1)
	assert.Equal(t, notify.KindLeaveSubmitted, inbox[0].Kind)
	assert.Contains(t, inbox[0].Body, "Alice requested Annual Leave")

	// WHEN: marked read
	assert.Equal(t, http.StatusNoContent, ts.do(t, manager, http.MethodPost, "/api/notifications/"+inbox[0].ID+"/read", nil, nil))

	// THEN: it leaves the unread list, and nobody else can touch it
	require.Equal(t, http.StatusOK, ts.do(t, manager, http.MethodGet, "/api/notifications?unread=true", nil, &inbox))
	assert.Empty(t, inbox)
	assert.Equal(t, http.StatusNotFound, ts.do(t, alice, http.MethodPost, "/api/notifications/missing/read", nil, nil))
}

func TestRouter_CredentialsOnlyForExplicitOrigins(t *testing.T) {
	cases := []struct {
		name        string
		origins     []string
		origin      string
		credentials string
	}{
		{"default wildcard", nil, "https://evil.test", ""},
		{"configured wildcard", []string{"*"}, "https://evil.test", ""},
		{"explicit origin", []string{"https://app.acme.test", " "}, "https://app.acme.test", "true"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// GIVEN: a router with the configured origins
			router := NewRouter(NewHandler(Deps{}), RouterOptions{AllowedOrigins: tc.origins})

			// WHEN: a cross-origin request arrives
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			req.Header.Set("Origin", tc.origin)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			// THEN: credentials are only allowed for explicit origins
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tc.credentials, rec.Header().Get("Access-Control-Allow-Credentials"))
		})
	}
}
