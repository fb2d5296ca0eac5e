package leave_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// fixture is a workspace "acme" (ws-1) with:
//
//	owner    workspace owner, every permission
//	manager  MEMBER holding MANAGE_LEAVE
//	alice    MEMBER without permissions, joined 2024-01-01
//	bob      SUSPENDED member
//	outsider registered user with no membership
type fixture struct {
	store    *sqlite.Store
	gate     *leave.Gate
	svc      *leave.Service
	policies *leave.PolicyService
	notifier *fakeNotifier
	webhooks *fakeEmitter

	owner, manager, alice, bob, outsider leave.Actor
}

var testNow = time.Date(2025, time.August, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, opts ...leave.Option) *fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	users := []leave.User{
		{ID: "u-owner", Email: "owner@acme.test", Name: "Olivia Owner"},
		{ID: "u-manager", Email: "manager@acme.test", Name: "Max Manager"},
		{ID: "u-alice", Email: "alice@acme.test", Name: "Alice"},
		{ID: "u-bob", Email: "bob@acme.test", Name: "Bob"},
		{ID: "u-out", Email: "outsider@other.test", Name: "Outsider"},
	}
	for _, u := range users {
		require.NoError(t, store.SaveUser(ctx, u))
	}
	require.NoError(t, store.SaveWorkspace(ctx, leave.Workspace{ID: "ws-1", Slug: "acme", Name: "Acme", OwnerID: "u-owner"}))
	joined := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	members := []leave.Member{
		{WorkspaceID: "ws-1", UserID: "u-manager", Role: leave.RoleMember, Status: leave.MemberActive, JoinedAt: joined,
			Permissions: []leave.Permission{leave.PermissionManageLeave}},
		{WorkspaceID: "ws-1", UserID: "u-alice", Role: leave.RoleMember, Status: leave.MemberActive, JoinedAt: joined},
		{WorkspaceID: "ws-1", UserID: "u-bob", Role: leave.RoleMember, Status: leave.MemberSuspended, JoinedAt: joined},
	}
	for _, m := range members {
		require.NoError(t, store.SaveMember(ctx, m))
	}

	f := &fixture{
		store:    store,
		notifier: &fakeNotifier{},
		webhooks: &fakeEmitter{},
		owner:    leave.Actor{UserID: "u-owner", Email: "owner@acme.test"},
		manager:  leave.Actor{UserID: "u-manager", Email: "manager@acme.test"},
		alice:    leave.Actor{UserID: "u-alice", Email: "alice@acme.test"},
		bob:      leave.Actor{UserID: "u-bob", Email: "bob@acme.test"},
		outsider: leave.Actor{UserID: "u-out", Email: "outsider@other.test"},
	}
	f.gate = leave.NewGate(store, nil, nil)
	f.policies = leave.NewPolicyService(f.gate, store, nil)
	opts = append([]leave.Option{leave.WithClock(func() time.Time { return testNow })}, opts...)
	f.svc = leave.NewService(leave.Deps{
		Gate:      f.gate,
		Directory: store,
		Policies:  store,
		Requests:  store,
		Ledger:    generic.NewLedger(store),
		Snapshots: store,
		Notifier:  f.notifier,
		Webhooks:  f.webhooks,
	}, opts...)
	return f
}

// annualLeave creates the FIXED 25 days/year policy used by most scenarios.
func (f *fixture) annualLeave(t *testing.T) *leave.Policy {
	t.Helper()
	return f.createPolicy(t, leave.Policy{
		Name:          "Annual Leave",
		AccrualType:   leave.AccrualFixed,
		AccrualAmount: decimal.NewFromInt(25),
	})
}

func (f *fixture) createPolicy(t *testing.T, p leave.Policy) *leave.Policy {
	t.Helper()
	created, err := f.policies.CreatePolicy(context.Background(), f.owner, "acme", p)
	require.NoError(t, err)
	return created
}

func (f *fixture) request(t *testing.T, actor leave.Actor, policyID, start, end string, d leave.Duration) leave.Request {
	t.Helper()
	out, err := f.svc.CreateLeaveRequest(context.Background(), actor, leave.CreateRequestInput{
		PolicyID: policyID, StartDate: start, EndDate: end, Duration: d,
	})
	require.NoError(t, err)
	return out.Request
}

func (f *fixture) approve(t *testing.T, requestID string) leave.Outcome {
	t.Helper()
	out, err := f.svc.ApproveLeaveRequest(context.Background(), f.manager, requestID, "")
	require.NoError(t, err)
	return out
}

func (f *fixture) balance(t *testing.T, userID, policyID string, year int) leave.Balance {
	t.Helper()
	b, err := f.svc.GetBalance(context.Background(), f.owner, "acme", userID, policyID, year)
	require.NoError(t, err)
	return b
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// FAKE COLLABORATORS
// =============================================================================

type statusNotice struct {
	RequestID string
	Recipient string
	Status    leave.Status
	ActorID   string
}

type fakeNotifier struct {
	mu          sync.Mutex
	submissions []leave.Submission
	changes     []statusNotice
	err         error
}

func (n *fakeNotifier) NotifyLeaveSubmission(_ context.Context, s leave.Submission) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.submissions = append(n.submissions, s)
	return n.err
}

func (n *fakeNotifier) NotifyLeaveStatusChange(_ context.Context, c leave.StatusChange, status leave.Status, actorID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, statusNotice{
		RequestID: c.Request.ID, Recipient: c.Request.UserID, Status: status, ActorID: actorID,
	})
	return n.err
}

func (n *fakeNotifier) statusChanges() []statusNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]statusNotice(nil), n.changes...)
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []leave.WebhookEvent
	panics bool
}

func (e *fakeEmitter) EmitLeaveCreated(_ context.Context, ev leave.WebhookEvent, _ leave.EmitOptions) error {
	if e.panics {
		panic("emitter exploded")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *fakeEmitter) emitted() []leave.WebhookEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]leave.WebhookEvent(nil), e.events...)
}

var errDeliveryDown = errors.New("delivery down")
