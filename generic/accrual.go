package generic

// =============================================================================
// ACCRUAL SCHEDULE - how entitlement accumulates inside a period
// =============================================================================

// AccrualSchedule generates accrual events for a time range.
type AccrualSchedule interface {
	// GenerateAccruals returns accrual events in [from, to].
	GenerateAccruals(from, to TimePoint) []AccrualEvent

	// IsDeterministic is false when accrual depends on facts recorded later
	// (hours worked). Such schedules generate nothing and the ledger's grants
	// are the accrual.
	IsDeterministic() bool
}

type AccrualEvent struct {
	At     TimePoint
	Amount Amount
	Reason string
}

// AccruedBetween sums a deterministic schedule over [from, to].
func AccruedBetween(s AccrualSchedule, from, to TimePoint, unit Unit) Amount {
	total := ZeroAmount(unit)
	for _, ev := range s.GenerateAccruals(from, to) {
		total = total.Add(ev.Amount)
	}
	return total
}
