package leave

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// POLICY SERVICE - CRUD over leave policies
// =============================================================================
// Anyone with access to the workspace reads visible policies. Hidden policies
// and every write need MANAGE_LEAVE_POLICIES.

type PolicyService struct {
	gate     *Gate
	policies PolicyRepository
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

func NewPolicyService(gate *Gate, policies PolicyRepository, logger *zap.Logger) *PolicyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PolicyService{
		gate:     gate,
		policies: policies,
		logger:   logger.Named("leave.policies"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// GetLeavePolicies returns the visible policies of the workspace by name.
func (s *PolicyService) GetLeavePolicies(ctx context.Context, actor Actor, ref string) ([]Policy, error) {
	ws, err := s.gate.Authorize(ctx, actor, ref)
	if err != nil {
		return nil, err
	}
	visible := false
	return allPolicies(ctx, s.policies, ws.ID, &visible)
}

// ListPolicies pages through policies. Callers without
// MANAGE_LEAVE_POLICIES only ever see visible ones.
func (s *PolicyService) ListPolicies(ctx context.Context, actor Actor, ref string, f PolicyFilter) (Page[Policy], error) {
	ws, err := s.gate.Authorize(ctx, actor, ref)
	if err != nil {
		return Page[Policy]{}, err
	}
	if f.Hidden == nil || *f.Hidden {
		manager, err := s.gate.HasPermission(ctx, actor, ws.ID, PermissionManageLeavePolicies)
		if err != nil {
			return Page[Policy]{}, err
		}
		if !manager {
			visible := false
			f.Hidden = &visible
		}
	}
	f.PageOptions = f.PageOptions.Normalize()

	items, total, err := s.policies.ListPolicies(ctx, ws.ID, f)
	if err != nil {
		return Page[Policy]{}, err
	}
	return Page[Policy]{Data: items, Pagination: NewPagination(total, f.PageOptions)}, nil
}

func (s *PolicyService) GetPolicy(ctx context.Context, actor Actor, ref, id string) (*Policy, error) {
	ws, err := s.gate.Authorize(ctx, actor, ref)
	if err != nil {
		return nil, err
	}
	p, err := s.inWorkspace(ctx, ws.ID, id)
	if err != nil {
		return nil, err
	}
	if p.IsHidden {
		manager, err := s.gate.HasPermission(ctx, actor, ws.ID, PermissionManageLeavePolicies)
		if err != nil {
			return nil, err
		}
		if !manager {
			return nil, &NotFoundError{Kind: "policy", Ref: id}
		}
	}
	return p, nil
}

func (s *PolicyService) CreatePolicy(ctx context.Context, actor Actor, ref string, p Policy) (*Policy, error) {
	ws, err := s.gate.RequirePermission(ctx, actor, ref, PermissionManageLeavePolicies)
	if err != nil {
		return nil, err
	}
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := s.ensureNameFree(ctx, ws.ID, p.Name, ""); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p.ID = s.newID()
	p.WorkspaceID = ws.ID
	p.CreatedAt, p.UpdatedAt = now, now
	p.RequestCount = 0
	if err := s.policies.CreatePolicy(ctx, &p); err != nil {
		s.logger.Error("create policy failed", zap.String("workspace_id", ws.ID), zap.String("name", p.Name), zap.Error(err))
		return nil, err
	}
	s.logger.Info("policy created", zap.String("workspace_id", ws.ID), zap.String("policy_id", p.ID), zap.String("name", p.Name))
	return &p, nil
}

// UpdatePolicy replaces the definition of an existing policy. Identity,
// workspace and creation time are kept. The tracking unit is frozen once
// requests or ledger entries exist.
func (s *PolicyService) UpdatePolicy(ctx context.Context, actor Actor, ref, id string, p Policy) (*Policy, error) {
	ws, err := s.gate.RequirePermission(ctx, actor, ref, PermissionManageLeavePolicies)
	if err != nil {
		return nil, err
	}
	current, err := s.inWorkspace(ctx, ws.ID, id)
	if err != nil {
		return nil, err
	}
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Name != current.Name {
		if err := s.ensureNameFree(ctx, ws.ID, p.Name, id); err != nil {
			return nil, err
		}
	}
	if p.TrackIn != current.TrackIn {
		if err := s.ensureUnitUnused(ctx, current); err != nil {
			return nil, err
		}
	}

	p.ID = current.ID
	p.WorkspaceID = current.WorkspaceID
	p.CreatedAt = current.CreatedAt
	p.RequestCount = current.RequestCount
	p.UpdatedAt = s.now().UTC()
	if err := s.policies.UpdatePolicy(ctx, &p); err != nil {
		return nil, err
	}
	s.logger.Info("policy updated", zap.String("workspace_id", ws.ID), zap.String("policy_id", id))
	return &p, nil
}

// DeletePolicy refuses while any request references the policy.
func (s *PolicyService) DeletePolicy(ctx context.Context, actor Actor, ref, id string) error {
	ws, err := s.gate.RequirePermission(ctx, actor, ref, PermissionManageLeavePolicies)
	if err != nil {
		return err
	}
	p, err := s.inWorkspace(ctx, ws.ID, id)
	if err != nil {
		return err
	}
	if p.RequestCount > 0 {
		return &ConflictError{Kind: "policy", Message: "policy has leave requests and cannot be deleted"}
	}
	if err := s.policies.DeletePolicy(ctx, ws.ID, id); err != nil {
		return err
	}
	s.logger.Info("policy deleted", zap.String("workspace_id", ws.ID), zap.String("policy_id", id))
	return nil
}

func (s *PolicyService) inWorkspace(ctx context.Context, workspaceID, id string) (*Policy, error) {
	p, err := s.policies.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil || p.WorkspaceID != workspaceID {
		return nil, &NotFoundError{Kind: "policy", Ref: id}
	}
	return p, nil
}

func (s *PolicyService) ensureUnitUnused(ctx context.Context, p *Policy) error {
	entries := 0
	if p.RequestCount == 0 {
		n, err := s.policies.CountPolicyEntries(ctx, p.ID)
		if err != nil {
			return err
		}
		entries = n
	}
	if p.RequestCount > 0 || entries > 0 {
		return &ConflictError{Kind: "policy", Message: "trackTimeIn of " + p.Name + " cannot change once it has requests or ledger entries"}
	}
	return nil
}

func (s *PolicyService) ensureNameFree(ctx context.Context, workspaceID, name, selfID string) error {
	existing, err := s.policies.PolicyByName(ctx, workspaceID, name)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != selfID {
		return &ConflictError{Kind: "policy", Message: "a policy named " + name + " already exists"}
	}
	return nil
}

// allPolicies walks every page of a filtered listing.
func allPolicies(ctx context.Context, repo PolicyRepository, workspaceID string, hidden *bool) ([]Policy, error) {
	var out []Policy
	f := PolicyFilter{Hidden: hidden, PageOptions: PageOptions{Take: MaxTake}}
	for {
		items, total, err := repo.ListPolicies(ctx, workspaceID, f)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		f.Skip += len(items)
		if len(items) == 0 || f.Skip >= total {
			return out, nil
		}
	}
}
