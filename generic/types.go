/*
Package generic is the ledger engine underneath leave balances.

PURPOSE:
  Balances are never stored as a mutable number. They are derived from a
  policy definition, an append-only ledger of grants and consumptions, and
  the tracking period being asked about. This package holds the pieces that
  know nothing about workspaces or requests: amounts, day-granular time,
  periods, the ledger and its store, rollover and balance arithmetic.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: a decimal quantity with a unit (days or hours)
  - Transaction: an immutable ledger entry
  - EntityID/PolicyID: typed identifiers so the two are never swapped

USAGE:
  tx := generic.Transaction{
      EntityID:       "user-1",
      PolicyID:       "policy-annual",
      EffectiveAt:    generic.NewTimePoint(2025, time.March, 3),
      Delta:          generic.NewAmount(-2, generic.UnitDays),
      Type:           generic.TxConsumption,
      IdempotencyKey: "leave-request:42:2025",
  }

SEE ALSO:
  - ledger.go: append/read contract
  - rollover.go: what survives a period boundary
  - balance.go: the derived balance
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitDays  Unit = "days"
	UnitHours Unit = "hours"
)

func NewAmount(value float64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewAmountFromDecimal(value decimal.Decimal, unit Unit) Amount {
	return Amount{Value: value, Unit: unit}
}

func ZeroAmount(unit Unit) Amount {
	return Amount{Value: decimal.Zero, Unit: unit}
}

func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Unit: a.Unit} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) Round(places int32) Amount    { return Amount{Value: a.Value.Round(places), Unit: a.Unit} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

func (a Amount) Max(b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// ClampZero returns the amount, or zero when it is negative.
func (a Amount) ClampZero() Amount {
	if a.IsNegative() {
		return a.Zero()
	}
	return a
}

func (a Amount) Zero() Amount { return Amount{Value: decimal.Zero, Unit: a.Unit} }

func (a Amount) String() string { return a.Value.String() + " " + string(a.Unit) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntityID string
type PolicyID string
type TransactionID string

// =============================================================================
// TRANSACTION
// =============================================================================

type TransactionType string

const (
	TxGrant       TransactionType = "grant"       // worked-hours accrual, manual top-up
	TxConsumption TransactionType = "consumption" // approved leave
	TxAdjustment  TransactionType = "adjustment"  // manual correction, either sign
	TxReversal    TransactionType = "reversal"    // undo of an earlier entry
)

func (t TransactionType) Valid() bool {
	switch t {
	case TxGrant, TxConsumption, TxAdjustment, TxReversal:
		return true
	}
	return false
}

type Transaction struct {
	ID             TransactionID
	EntityID       EntityID
	PolicyID       PolicyID
	EffectiveAt    TimePoint
	Delta          Amount
	Type           TransactionType
	ReferenceID    string // e.g. the leave request id
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string

	CreatedBy string
	CreatedAt TimePoint
}
