package generic

import "context"

// =============================================================================
// STORE - persistence for the ledger (append-only)
// =============================================================================

// Store persists transactions. There is no Update and no Delete.
//
// Implementations:
//   - store/sqlite: the database used by the server
//   - generic/store: in-memory, for tests
type Store interface {
	// Append persists one transaction.
	Append(ctx context.Context, tx Transaction) error

	// Load returns all transactions for entity+policy, ordered by EffectiveAt.
	Load(ctx context.Context, entityID EntityID, policyID PolicyID) ([]Transaction, error)

	// LoadRange returns transactions effective in [from, to].
	LoadRange(ctx context.Context, entityID EntityID, policyID PolicyID, from, to TimePoint) ([]Transaction, error)

	// Exists reports whether an idempotency key has been written.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}
