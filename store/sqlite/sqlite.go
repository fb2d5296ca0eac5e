/*
Package sqlite is the SQLite-backed persistence of the leave engine.

INTERFACES IMPLEMENTED:
  generic.Store, generic.SnapshotStore   ledger and balance snapshots
  leave.Directory                        users, workspaces, members
  leave.PolicyRepository                 leave_policies
  leave.RequestRepository                leave_requests
  notify.Store                           notifications

KEY TABLES:
  transactions:       append-only ledger (grants, consumptions)
  leave_policies:     policy definitions, name unique per workspace
  leave_requests:     requests, never deleted; status moves by conditional
                      UPDATE ... WHERE status = 'PENDING'
  balance_snapshots:  balances captured after approvals
  notifications:      in-app notifications

CONCURRENCY:
  A sync.RWMutex serializes writers inside the process. Review races are
  settled by the conditional UPDATE, not by the mutex: the loser sees zero
  affected rows and gets a leave.StateError.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      return err
  }
  defer store.Close()
  ledger := generic.NewLedger(store)
*/
package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/generic"
)

// timestampLayout sorts lexicographically in UTC.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// New opens (and migrates) the database at dbPath. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if dbPath == ":memory:" {
		// every new connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate database")
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping() error {
	return s.db.Ping()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE COLLATE NOCASE,
		name TEXT NOT NULL DEFAULT '',
		image TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS workspaces (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		owner_id TEXT NOT NULL REFERENCES users(id),
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS members (
		workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id),
		role TEXT NOT NULL DEFAULT 'MEMBER',
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		joined_at TEXT NOT NULL,
		PRIMARY KEY (workspace_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS member_permissions (
		workspace_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		permission TEXT NOT NULL,
		PRIMARY KEY (workspace_id, user_id, permission),
		FOREIGN KEY (workspace_id, user_id) REFERENCES members(workspace_id, user_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS leave_policies (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		name TEXT NOT NULL COLLATE NOCASE,
		group_name TEXT NOT NULL DEFAULT '',
		is_paid INTEGER NOT NULL DEFAULT 0,
		track_in TEXT NOT NULL,
		accrual_type TEXT NOT NULL,
		accrual_amount TEXT NOT NULL DEFAULT '0',
		accrual_rate TEXT NOT NULL DEFAULT '0',
		prorate INTEGER NOT NULL DEFAULT 0,
		max_balance TEXT,
		rollover_type TEXT NOT NULL,
		rollover_amount TEXT NOT NULL DEFAULT '0',
		is_hidden INTEGER NOT NULL DEFAULT 0,
		export_mode TEXT NOT NULL,
		hours_per_day TEXT NOT NULL DEFAULT '8',
		year_start_month INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (workspace_id, name)
	);

	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL REFERENCES workspaces(id),
		user_id TEXT NOT NULL REFERENCES users(id),
		policy_id TEXT NOT NULL REFERENCES leave_policies(id),
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		duration TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'PENDING',
		reviewed_by TEXT,
		review_notes TEXT NOT NULL DEFAULT '',
		reviewed_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leave_requests_workspace_status
		ON leave_requests(workspace_id, status, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_leave_requests_user_policy
		ON leave_requests(user_id, policy_id, status);
	CREATE INDEX IF NOT EXISTS idx_leave_requests_policy
		ON leave_requests(policy_id);

	-- append-only: nothing issues UPDATE or DELETE against this table
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		effective_at TEXT NOT NULL,
		delta_value TEXT NOT NULL,
		delta_unit TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		metadata_json TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_entity_policy_date
		ON transactions(entity_id, policy_id, effective_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON transactions(reference_id) WHERE reference_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS balance_snapshots (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		taken_at TEXT NOT NULL,
		unit TEXT NOT NULL,
		accrued TEXT NOT NULL,
		carried_over TEXT NOT NULL,
		consumed TEXT NOT NULL,
		reason TEXT NOT NULL,
		ref TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_balance_snapshots_entity_policy
		ON balance_snapshots(entity_id, policy_id, created_at);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		recipient_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		request_id TEXT,
		created_at TEXT NOT NULL,
		read_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_recipient
		ON notifications(recipient_id, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func formatTime(t time.Time) string { return t.UTC().Format(timestampLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func formatDate(tp generic.TimePoint) string { return tp.String() }

func parseDate(s string) generic.TimePoint {
	tp, _ := generic.ParseDate(s)
	return tp
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseAmount(value, unit string) generic.Amount {
	return generic.NewAmountFromDecimal(parseDecimal(value), generic.Unit(unit))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
