package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// DIRECTORY (leave.Directory) - users, workspaces, members
// =============================================================================
// Users and workspaces belong to the identity side of the product; the leave
// engine only reads them. The Save* methods exist for seeding and tests.

func (s *Store) SaveUser(ctx context.Context, u leave.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO users (id, email, name, image, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET email = excluded.email, name = excluded.name, image = excluded.image`,
		u.ID, u.Email, u.Name, u.Image, formatTime(s.now()))
	return errors.Wrapf(err, "save user %s", u.ID)
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*leave.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var u leave.User
	err := s.db.QueryRowContext(ctx, `SELECT id, email, name, image FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.Email, &u.Name, &u.Image)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load user by email")
	}
	return &u, nil
}

func (s *Store) SaveWorkspace(ctx context.Context, ws leave.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := ws.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO workspaces (id, slug, name, owner_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET slug = excluded.slug, name = excluded.name, owner_id = excluded.owner_id`,
		ws.ID, ws.Slug, ws.Name, ws.OwnerID, formatTime(createdAt))
	return errors.Wrapf(err, "save workspace %s", ws.ID)
}

func (s *Store) WorkspaceByID(ctx context.Context, id string) (*leave.Workspace, error) {
	return s.workspace(ctx, `SELECT id, slug, name, owner_id, created_at FROM workspaces WHERE id = ?`, id)
}

func (s *Store) WorkspaceBySlug(ctx context.Context, slug string) (*leave.Workspace, error) {
	return s.workspace(ctx, `SELECT id, slug, name, owner_id, created_at FROM workspaces WHERE slug = ?`, slug)
}

// Workspaces lists every workspace, oldest first.
func (s *Store) Workspaces(ctx context.Context) ([]leave.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, slug, name, owner_id, created_at FROM workspaces ORDER BY created_at, id`)
	if err != nil {
		return nil, errors.Wrap(err, "list workspaces")
	}
	defer rows.Close()

	var out []leave.Workspace
	for rows.Next() {
		var (
			ws        leave.Workspace
			createdAt string
		)
		if err := rows.Scan(&ws.ID, &ws.Slug, &ws.Name, &ws.OwnerID, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scan workspace")
		}
		ws.CreatedAt = parseTime(createdAt)
		out = append(out, ws)
	}
	return out, errors.Wrap(rows.Err(), "list workspaces")
}

func (s *Store) workspace(ctx context.Context, query string, arg string) (*leave.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		ws        leave.Workspace
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&ws.ID, &ws.Slug, &ws.Name, &ws.OwnerID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load workspace")
	}
	ws.CreatedAt = parseTime(createdAt)
	return &ws, nil
}

// SaveMember upserts a membership and replaces its explicit permissions.
func (s *Store) SaveMember(ctx context.Context, m leave.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	joinedAt := m.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = s.now()
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO members (workspace_id, user_id, role, status, joined_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(workspace_id, user_id) DO UPDATE SET
			role = excluded.role, status = excluded.status, joined_at = excluded.joined_at`,
		m.WorkspaceID, m.UserID, m.Role, m.Status, formatTime(joinedAt)); err != nil {
		return errors.Wrapf(err, "save member %s/%s", m.WorkspaceID, m.UserID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM member_permissions WHERE workspace_id = ? AND user_id = ?`,
		m.WorkspaceID, m.UserID); err != nil {
		return errors.Wrap(err, "clear member permissions")
	}
	for _, p := range m.Permissions {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO member_permissions (workspace_id, user_id, permission)
			VALUES (?, ?, ?)`, m.WorkspaceID, m.UserID, p); err != nil {
			return errors.Wrap(err, "grant member permission")
		}
	}
	return errors.Wrap(tx.Commit(), "commit member")
}

func (s *Store) Member(ctx context.Context, workspaceID, userID string) (*leave.Member, error) {
	members, err := s.members(ctx, `WHERE m.workspace_id = ? AND m.user_id = ?`, workspaceID, userID)
	if err != nil || len(members) == 0 {
		return nil, err
	}
	return &members[0], nil
}

func (s *Store) Members(ctx context.Context, workspaceID string) ([]leave.Member, error) {
	return s.members(ctx, `WHERE m.workspace_id = ?`, workspaceID)
}

func (s *Store) members(ctx context.Context, where string, args ...any) ([]leave.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT m.workspace_id, m.user_id, m.role, m.status, m.joined_at,
			COALESCE((SELECT group_concat(p.permission) FROM member_permissions p
				WHERE p.workspace_id = m.workspace_id AND p.user_id = m.user_id), '')
		FROM members m `+where+` ORDER BY m.joined_at ASC`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query members")
	}
	defer rows.Close()

	var members []leave.Member
	for rows.Next() {
		var (
			m        leave.Member
			joinedAt string
			perms    string
		)
		if err := rows.Scan(&m.WorkspaceID, &m.UserID, &m.Role, &m.Status, &joinedAt, &perms); err != nil {
			return nil, errors.Wrap(err, "scan member")
		}
		m.JoinedAt = parseTime(joinedAt)
		m.Permissions = splitPermissions(perms)
		members = append(members, m)
	}
	return members, rows.Err()
}

func splitPermissions(csv string) []leave.Permission {
	var perms []leave.Permission
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			if i > start {
				perms = append(perms, leave.Permission(csv[start:i]))
			}
			start = i + 1
		}
	}
	return perms
}
