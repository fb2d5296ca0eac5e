package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// LEDGER (generic.Store)
// =============================================================================

const transactionColumns = `id, entity_id, policy_id, effective_at, delta_value, delta_unit,
	tx_type, reference_id, reason, idempotency_key, metadata_json, created_by, created_at`

func (s *Store) Append(ctx context.Context, tx generic.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendTx(ctx, s.db, tx)
}

func (s *Store) appendTx(ctx context.Context, db execer, tx generic.Transaction) error {
	var metadata sql.NullString
	if len(tx.Metadata) > 0 {
		raw, err := json.Marshal(tx.Metadata)
		if err != nil {
			return errors.Wrap(err, "encode transaction metadata")
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := db.ExecContext(ctx, `INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.EntityID,
		tx.PolicyID,
		formatDate(tx.EffectiveAt),
		tx.Delta.Value.String(),
		tx.Delta.Unit,
		tx.Type,
		nullString(tx.ReferenceID),
		nullString(tx.Reason),
		nullString(tx.IdempotencyKey),
		metadata,
		nullString(tx.CreatedBy),
		formatTime(s.now()),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateIdempotencyKey
		}
		return errors.Wrapf(err, "append transaction %s", tx.ID)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, entityID generic.EntityID, policyID generic.PolicyID) ([]generic.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE entity_id = ? AND policy_id = ?
		ORDER BY effective_at ASC, created_at ASC`, entityID, policyID)
}

func (s *Store) LoadRange(ctx context.Context, entityID generic.EntityID, policyID generic.PolicyID, from, to generic.TimePoint) ([]generic.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE entity_id = ? AND policy_id = ? AND effective_at >= ? AND effective_at <= ?
		ORDER BY effective_at ASC, created_at ASC`,
		entityID, policyID, formatDate(from), formatDate(to))
}

func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?", idempotencyKey,
	).Scan(&count)
	return count > 0, errors.Wrap(err, "check idempotency key")
}

// TransactionsByReference returns every entry written for a reference, such
// as the consumption entries of a leave request.
func (s *Store) TransactionsByReference(ctx context.Context, referenceID string) ([]generic.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE reference_id = ? ORDER BY effective_at ASC`, referenceID)
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]generic.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query transactions")
	}
	defer rows.Close()

	var txs []generic.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func scanTransaction(rows *sql.Rows) (generic.Transaction, error) {
	var (
		tx             generic.Transaction
		effectiveAt    string
		deltaValue     string
		deltaUnit      string
		referenceID    sql.NullString
		reason         sql.NullString
		idempotencyKey sql.NullString
		metadataJSON   sql.NullString
		createdBy      sql.NullString
		createdAt      string
	)
	if err := rows.Scan(
		&tx.ID, &tx.EntityID, &tx.PolicyID, &effectiveAt, &deltaValue, &deltaUnit,
		&tx.Type, &referenceID, &reason, &idempotencyKey, &metadataJSON, &createdBy, &createdAt,
	); err != nil {
		return tx, errors.Wrap(err, "scan transaction")
	}

	tx.EffectiveAt = parseDate(effectiveAt)
	tx.Delta = parseAmount(deltaValue, deltaUnit)
	tx.ReferenceID = referenceID.String
	tx.Reason = reason.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.CreatedBy = createdBy.String
	tx.CreatedAt = generic.FromTime(parseTime(createdAt))
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &tx.Metadata); err != nil {
			return tx, errors.Wrapf(err, "decode metadata of transaction %s", tx.ID)
		}
	}
	return tx, nil
}

// =============================================================================
// SNAPSHOTS (generic.SnapshotStore)
// =============================================================================

// SaveSnapshot keeps the first snapshot saved under an id.
func (s *Store) SaveSnapshot(ctx context.Context, snap generic.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := snap.Balance
	_, err := s.db.ExecContext(ctx, `INSERT INTO balance_snapshots
		(id, entity_id, policy_id, period_start, period_end, taken_at, unit,
		 accrued, carried_over, consumed, reason, ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		snap.ID, snap.EntityID, snap.PolicyID,
		formatDate(snap.Period.Start), formatDate(snap.Period.End), formatDate(snap.TakenAt),
		b.Accrued.Unit, b.Accrued.Value.String(), b.CarriedOver.Value.String(), b.Consumed.Value.String(),
		snap.Reason, nullString(snap.Ref), formatTime(s.now()),
	)
	return errors.Wrapf(err, "save snapshot %s", snap.ID)
}

func (s *Store) LatestSnapshot(ctx context.Context, entityID generic.EntityID, policyID generic.PolicyID) (*generic.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		snap                           generic.Snapshot
		start, end, takenAt, unit      string
		accrued, carriedOver, consumed string
		ref                            sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, entity_id, policy_id, period_start, period_end,
			taken_at, unit, accrued, carried_over, consumed, reason, ref
		FROM balance_snapshots
		WHERE entity_id = ? AND policy_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, entityID, policyID,
	).Scan(&snap.ID, &snap.EntityID, &snap.PolicyID, &start, &end, &takenAt, &unit,
		&accrued, &carriedOver, &consumed, &snap.Reason, &ref)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load latest snapshot")
	}

	snap.Period = generic.Period{Start: parseDate(start), End: parseDate(end)}
	snap.TakenAt = parseDate(takenAt)
	snap.Ref = ref.String
	snap.Balance = generic.Balance{
		EntityID:    snap.EntityID,
		PolicyID:    snap.PolicyID,
		Period:      snap.Period,
		Accrued:     parseAmount(accrued, unit),
		CarriedOver: parseAmount(carriedOver, unit),
		Consumed:    parseAmount(consumed, unit),
	}
	return &snap, nil
}
