package leave

import (
	"context"
	"time"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// PERSISTENCE CONTRACTS - implemented by store/sqlite
// =============================================================================
// Getters return (nil, nil) when the row does not exist; callers decide which
// NotFoundError to raise.

// Directory answers identity and membership questions for the gate.
type Directory interface {
	UserByEmail(ctx context.Context, email string) (*User, error)
	WorkspaceByID(ctx context.Context, id string) (*Workspace, error)
	WorkspaceBySlug(ctx context.Context, slug string) (*Workspace, error)
	Member(ctx context.Context, workspaceID, userID string) (*Member, error)
	Members(ctx context.Context, workspaceID string) ([]Member, error)
}

type PolicyFilter struct {
	Hidden *bool
	Search string // case-insensitive substring of the name
	Group  string
	PageOptions
}

type PolicyRepository interface {
	// CreatePolicy fails with a ConflictError when the name is taken.
	CreatePolicy(ctx context.Context, p *Policy) error
	UpdatePolicy(ctx context.Context, p *Policy) error
	// DeletePolicy fails with a ConflictError when any request references it.
	DeletePolicy(ctx context.Context, workspaceID, id string) error
	GetPolicy(ctx context.Context, id string) (*Policy, error)
	PolicyByName(ctx context.Context, workspaceID, name string) (*Policy, error)
	// CountPolicyEntries counts the ledger rows written against a policy.
	CountPolicyEntries(ctx context.Context, policyID string) (int, error)
	// ListPolicies returns one page, name-ordered, and the unpaged total.
	ListPolicies(ctx context.Context, workspaceID string, f PolicyFilter) ([]Policy, int, error)
}

type RequestQuery struct {
	Status *Status
	UserID string
	PageOptions
}

// Transition is a conditional status change. It applies only if the request
// is still in From; Ledger entries are written in the same transaction.
type Transition struct {
	RequestID  string
	From       Status
	To         Status
	ReviewerID string
	Notes      string
	At         time.Time
	Ledger     []generic.Transaction
}

type RequestRepository interface {
	CreateRequest(ctx context.Context, r *Request) error
	GetRequest(ctx context.Context, id string) (*Request, error)
	// TransitionRequest returns a StateError when the request is no longer
	// in t.From.
	TransitionRequest(ctx context.Context, t Transition) (*Request, error)
	// ListRequests orders PENDING, APPROVED, REJECTED, CANCELED, then newest
	// first.
	ListRequests(ctx context.Context, workspaceID string, q RequestQuery) ([]Request, int, error)
	CountRequests(ctx context.Context, workspaceID string, status Status) (int, error)
	ApprovedRequests(ctx context.Context, userID, policyID string) ([]Request, error)
}
