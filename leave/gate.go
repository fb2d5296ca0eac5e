package leave

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// =============================================================================
// AUTHORIZATION GATE
// =============================================================================
// Every mutation and every listing goes through the gate first:
//   session -> actor -> workspace (id or slug) -> membership -> permission
// The gate only reads.

// Session is what the HTTP boundary knows about the caller.
type Session struct {
	User *SessionUser
}

type SessionUser struct {
	Email string
}

// Actor is the resolved caller. Core operations take it explicitly.
type Actor struct {
	UserID string
	Email  string
	Name   string
}

// DisplayName is what other people see: the name, else the email.
func (a Actor) DisplayName() string {
	switch {
	case strings.TrimSpace(a.Name) != "":
		return a.Name
	case a.Email != "":
		return a.Email
	default:
		return a.UserID
	}
}

type PermissionCheck struct {
	HasPermission bool
}

// PermissionChecker decides whether a user holds a permission in a workspace.
type PermissionChecker interface {
	CheckUserPermission(ctx context.Context, userID, workspaceID string, perm Permission) (PermissionCheck, error)
}

type Gate struct {
	dir    Directory
	perms  PermissionChecker
	logger *zap.Logger
}

// NewGate builds a gate. A nil checker falls back to role-based checks
// against the directory.
func NewGate(dir Directory, perms PermissionChecker, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if perms == nil {
		perms = RolePermissions{Directory: dir}
	}
	return &Gate{dir: dir, perms: perms, logger: logger.Named("leave.gate")}
}

// ResolveActor turns a session into an actor.
func (g *Gate) ResolveActor(ctx context.Context, s *Session) (Actor, error) {
	if s == nil || s.User == nil || strings.TrimSpace(s.User.Email) == "" {
		return Actor{}, ErrUnauthorized
	}
	user, err := g.dir.UserByEmail(ctx, s.User.Email)
	if err != nil {
		return Actor{}, err
	}
	if user == nil {
		return Actor{}, &NotFoundError{Kind: "user", Ref: s.User.Email}
	}
	return Actor{UserID: user.ID, Email: user.Email, Name: user.Name}, nil
}

// Workspace resolves a workspace id or slug without checking access.
func (g *Gate) Workspace(ctx context.Context, ref string) (*Workspace, error) {
	ws, err := g.dir.WorkspaceByID(ctx, ref)
	if err != nil {
		return nil, err
	}
	if ws == nil {
		ws, err = g.dir.WorkspaceBySlug(ctx, ref)
		if err != nil {
			return nil, err
		}
	}
	if ws == nil {
		return nil, &NotFoundError{Kind: "workspace", Ref: ref}
	}
	return ws, nil
}

// Authorize resolves the workspace and requires the actor to be its owner or
// an ACTIVE member.
func (g *Gate) Authorize(ctx context.Context, actor Actor, ref string) (*Workspace, error) {
	if actor.UserID == "" {
		return nil, ErrUnauthorized
	}
	ws, err := g.Workspace(ctx, ref)
	if err != nil {
		return nil, err
	}
	if ws.OwnerID == actor.UserID {
		return ws, nil
	}

	m, err := g.dir.Member(ctx, ws.ID, actor.UserID)
	if err != nil {
		return nil, err
	}
	switch {
	case m == nil:
		g.logger.Debug("access denied: not a member", zap.String("user_id", actor.UserID), zap.String("workspace_id", ws.ID))
		return nil, &AccessError{UserID: actor.UserID, WorkspaceID: ws.ID, Reason: "not a member"}
	case m.Status != MemberActive:
		g.logger.Debug("access denied: inactive member", zap.String("user_id", actor.UserID), zap.String("workspace_id", ws.ID), zap.String("status", string(m.Status)))
		return nil, &AccessError{UserID: actor.UserID, WorkspaceID: ws.ID, Reason: "membership is " + strings.ToLower(string(m.Status))}
	}
	return ws, nil
}

// RequirePermission is Authorize plus a permission check.
func (g *Gate) RequirePermission(ctx context.Context, actor Actor, ref string, perm Permission) (*Workspace, error) {
	ws, err := g.Authorize(ctx, actor, ref)
	if err != nil {
		return nil, err
	}
	ok, err := g.HasPermission(ctx, actor, ws.ID, perm)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &PermissionError{UserID: actor.UserID, WorkspaceID: ws.ID, Permission: perm}
	}
	return ws, nil
}

// HasPermission runs only the permission check; the caller must already have
// authorized the workspace.
func (g *Gate) HasPermission(ctx context.Context, actor Actor, workspaceID string, perm Permission) (bool, error) {
	res, err := g.perms.CheckUserPermission(ctx, actor.UserID, workspaceID, perm)
	if err != nil {
		return false, err
	}
	return res.HasPermission, nil
}

// =============================================================================
// ROLE PERMISSIONS - default PermissionChecker
// =============================================================================

// RolePermissions grants everything to the owner and to ADMIN members;
// MEMBER holds only explicit grants. Inactive members hold nothing.
type RolePermissions struct {
	Directory Directory
}

func (rp RolePermissions) CheckUserPermission(ctx context.Context, userID, workspaceID string, perm Permission) (PermissionCheck, error) {
	ws, err := rp.Directory.WorkspaceByID(ctx, workspaceID)
	if err != nil {
		return PermissionCheck{}, err
	}
	if ws != nil && ws.OwnerID == userID {
		return PermissionCheck{HasPermission: true}, nil
	}
	m, err := rp.Directory.Member(ctx, workspaceID, userID)
	if err != nil || m == nil || m.Status != MemberActive {
		return PermissionCheck{}, err
	}
	return PermissionCheck{HasPermission: m.Role == RoleOwner || m.Role == RoleAdmin || m.Granted(perm)}, nil
}
