/*
ledger.go - Append-only log of balance changes

PURPOSE:
  Entitlements that cannot be derived from the policy alone (hours worked,
  manual top-ups) and every approved absence are written here. Nothing is
  ever updated in place: a mistake is corrected with a reversal entry so the
  history keeps explaining the number.

INVARIANTS:
  1. APPEND-ONLY: no update, no delete
  2. IDEMPOTENT: a repeated idempotency key is rejected, never duplicated

SEE ALSO:
  - store.go: persistence contract
  - store/sqlite/ledger.go: the database implementation
*/
package generic

import "context"

// Ledger is the read/write surface services use.
type Ledger interface {
	// Append adds a transaction. Fails with ErrDuplicateIdempotencyKey when
	// the key is already recorded.
	Append(ctx context.Context, tx Transaction) error

	// Transactions returns all entries for entity+policy ordered by EffectiveAt.
	Transactions(ctx context.Context, entityID EntityID, policyID PolicyID) ([]Transaction, error)

	// TransactionsInRange returns entries effective in [from, to].
	TransactionsInRange(ctx context.Context, entityID EntityID, policyID PolicyID, from, to TimePoint) ([]Transaction, error)
}

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, tx Transaction) error {
	if err := l.checkKey(ctx, tx.IdempotencyKey); err != nil {
		return err
	}
	if !tx.Type.Valid() {
		return ErrInvalidTransaction
	}
	return l.Store.Append(ctx, tx)
}

func (l *DefaultLedger) checkKey(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	exists, err := l.Store.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateIdempotencyKey
	}
	return nil
}

func (l *DefaultLedger) Transactions(ctx context.Context, entityID EntityID, policyID PolicyID) ([]Transaction, error) {
	return l.Store.Load(ctx, entityID, policyID)
}

func (l *DefaultLedger) TransactionsInRange(ctx context.Context, entityID EntityID, policyID PolicyID, from, to TimePoint) ([]Transaction, error) {
	return l.Store.LoadRange(ctx, entityID, policyID, from, to)
}
