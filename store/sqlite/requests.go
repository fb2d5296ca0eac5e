package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// LEAVE REQUESTS (leave.RequestRepository)
// =============================================================================

const requestColumns = `id, workspace_id, user_id, policy_id, start_date, end_date, duration,
	notes, status, reviewed_by, review_notes, reviewed_at, created_at, updated_at`

// statusOrder puts the review queue first.
const statusOrder = `CASE status
	WHEN 'PENDING' THEN 0 WHEN 'APPROVED' THEN 1 WHEN 'REJECTED' THEN 2 ELSE 3 END`

func (s *Store) CreateRequest(ctx context.Context, r *leave.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO leave_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.WorkspaceID, r.UserID, r.PolicyID,
		formatDate(r.StartDate), formatDate(r.EndDate), r.Duration,
		r.Notes, r.Status, nullString(r.ReviewedBy), r.ReviewNotes, nullTime(r.ReviewedAt),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	return errors.Wrapf(err, "create leave request %s", r.ID)
}

func (s *Store) GetRequest(ctx context.Context, id string) (*leave.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getRequest(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getRequest(ctx context.Context, db queryRower, id string) (*leave.Request, error) {
	r, err := scanRequest(db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM leave_requests WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load leave request %s", id)
	}
	return &r, nil
}

// TransitionRequest moves a request from t.From to t.To and appends t.Ledger
// in the same database transaction. When another writer got there first the
// UPDATE matches nothing and the current status comes back in a StateError.
func (s *Store) TransitionRequest(ctx context.Context, t leave.Transition) (*leave.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction")
	}
	defer sqlTx.Rollback()

	res, err := sqlTx.ExecContext(ctx, `UPDATE leave_requests
		SET status = ?, reviewed_by = ?, review_notes = ?, reviewed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		t.To, nullString(t.ReviewerID), t.Notes, reviewedAt(t), formatTime(t.At),
		t.RequestID, t.From,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "transition leave request %s", t.RequestID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		current, err := s.getRequest(ctx, sqlTx, t.RequestID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, &leave.NotFoundError{Kind: "request", Ref: t.RequestID}
		}
		return nil, &leave.StateError{RequestID: t.RequestID, Current: current.Status, Wanted: t.To}
	}

	for _, entry := range t.Ledger {
		if err := s.appendTx(ctx, sqlTx, entry); err != nil {
			return nil, err
		}
	}

	updated, err := s.getRequest(ctx, sqlTx, t.RequestID)
	if err != nil {
		return nil, err
	}
	if err := sqlTx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit transition")
	}
	return updated, nil
}

// reviewedAt is only recorded for reviewer decisions; a cancel has no reviewer.
func reviewedAt(t leave.Transition) sql.NullString {
	if t.ReviewerID == "" {
		return sql.NullString{}
	}
	return nullTime(&t.At)
}

func (s *Store) ListRequests(ctx context.Context, workspaceID string, q leave.RequestQuery) ([]leave.Request, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := []string{"workspace_id = ?"}
	args := []any{workspaceID}
	if q.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *q.Status)
	}
	if q.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, q.UserID)
	}
	clause := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leave_requests`+clause, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count leave requests")
	}

	opts := q.PageOptions.Normalize()
	requests, err := s.queryRequests(ctx, `SELECT `+requestColumns+` FROM leave_requests`+clause+`
		ORDER BY `+statusOrder+`, created_at DESC, id ASC LIMIT ? OFFSET ?`,
		append(args, opts.Take, opts.Skip)...)
	if err != nil {
		return nil, 0, err
	}
	return requests, total, nil
}

func (s *Store) CountRequests(ctx context.Context, workspaceID string, status leave.Status) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leave_requests WHERE workspace_id = ? AND status = ?`,
		workspaceID, status).Scan(&n)
	return n, errors.Wrap(err, "count leave requests")
}

func (s *Store) ApprovedRequests(ctx context.Context, userID, policyID string) ([]leave.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRequests(ctx, `SELECT `+requestColumns+` FROM leave_requests
		WHERE user_id = ? AND policy_id = ? AND status = 'APPROVED'
		ORDER BY start_date ASC`, userID, policyID)
}

func (s *Store) queryRequests(ctx context.Context, query string, args ...any) ([]leave.Request, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query leave requests")
	}
	defer rows.Close()

	var requests []leave.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan leave request")
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (leave.Request, error) {
	var (
		r                    leave.Request
		start, end           string
		reviewedBy           sql.NullString
		reviewedAt           sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&r.ID, &r.WorkspaceID, &r.UserID, &r.PolicyID, &start, &end, &r.Duration,
		&r.Notes, &r.Status, &reviewedBy, &r.ReviewNotes, &reviewedAt, &createdAt, &updatedAt,
	); err != nil {
		return r, err
	}
	r.StartDate = parseDate(start)
	r.EndDate = parseDate(end)
	r.ReviewedBy = reviewedBy.String
	r.ReviewedAt = parseNullTime(reviewedAt)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}
