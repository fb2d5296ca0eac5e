package generic

import "errors"

// =============================================================================
// SENTINEL ERRORS - use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. Retries hit this and may ignore it.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInvalidTransaction is returned for an unknown transaction type.
	ErrInvalidTransaction = errors.New("invalid transaction")
)
