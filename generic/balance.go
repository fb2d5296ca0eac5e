package generic

// =============================================================================
// BALANCE - derived state of one entity+policy for one period
// =============================================================================

// Balance is never persisted as a source of truth. It is the sum of what the
// period granted, what carried in from the previous one, and what was used.
type Balance struct {
	EntityID EntityID
	PolicyID PolicyID
	Period   Period

	Accrued     Amount
	CarriedOver Amount
	Consumed    Amount
}

// Entitlement is everything available to spend in the period.
func (b Balance) Entitlement() Amount { return b.Accrued.Add(b.CarriedOver) }

// Raw may be negative when more was approved than was available.
func (b Balance) Raw() Amount { return b.Entitlement().Sub(b.Consumed) }

// Available is Raw clamped at zero.
func (b Balance) Available() Amount { return b.Raw().ClampZero() }

func (b Balance) Overdrawn() bool { return b.Raw().IsNegative() }

// CapEntitlement limits accrued plus carried-over to max. Carry-over is
// reduced first, then accrual.
func (b Balance) CapEntitlement(max Amount) Balance {
	if !b.Entitlement().GreaterThan(max) {
		return b
	}
	limit := max.ClampZero()
	b.Accrued = b.Accrued.Min(limit)
	b.CarriedOver = limit.Sub(b.Accrued).ClampZero()
	return b
}
