package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/warp/leave-engine/notify"
)

// =============================================================================
// NOTIFICATIONS (notify.Store)
// =============================================================================

func (s *Store) SaveNotifications(ctx context.Context, ns []notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	for _, n := range ns {
		if _, err := tx.ExecContext(ctx, `INSERT INTO notifications
			(id, workspace_id, recipient_id, kind, title, body, request_id, created_at, read_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			n.ID, n.WorkspaceID, n.RecipientID, n.Kind, n.Title, n.Body,
			nullString(n.RequestID), formatTime(n.CreatedAt), nullTime(n.ReadAt),
		); err != nil {
			return errors.Wrapf(err, "insert notification %s", n.ID)
		}
	}
	return errors.Wrap(tx.Commit(), "commit notifications")
}

func (s *Store) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]notify.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, workspace_id, recipient_id, kind, title, body, request_id, created_at, read_at
		FROM notifications WHERE recipient_id = ?`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, recipientID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query notifications")
	}
	defer rows.Close()

	var out []notify.Notification
	for rows.Next() {
		var (
			n                 notify.Notification
			requestID, readAt sql.NullString
			createdAt         string
		)
		if err := rows.Scan(&n.ID, &n.WorkspaceID, &n.RecipientID, &n.Kind, &n.Title, &n.Body,
			&requestID, &createdAt, &readAt); err != nil {
			return nil, errors.Wrap(err, "scan notification")
		}
		n.RequestID = requestID.String
		n.CreatedAt = parseTime(createdAt)
		n.ReadAt = parseNullTime(readAt)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, recipientID, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET read_at = COALESCE(read_at, ?)
		WHERE id = ? AND recipient_id = ?`, formatTime(at), id, recipientID)
	if err != nil {
		return false, errors.Wrapf(err, "mark notification %s read", id)
	}
	n, err := res.RowsAffected()
	return n > 0, errors.Wrap(err, "rows affected")
}
