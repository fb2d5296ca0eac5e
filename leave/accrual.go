/*
accrual.go - generic.AccrualSchedule implementations for leave policies

  DOES_NOT_ACCRUE         annualGrant, the full amount every tracking year
  FIXED                   annualGrant, pro-rated in the year the member joined
                          when the policy asks for it
  HOURLY,
  REGULAR_WORKING_HOURS   workedHours, non-deterministic: the ledger grants
                          written by RecordWorkedHours are the accrual

No schedule grants anything for a tracking year that ended before the member
joined, so rollover never starts from years the member was not there.
*/
package leave

import (
	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/generic"
)

type annualGrant struct {
	amount  generic.Amount
	periods generic.PeriodConfig
	joined  generic.TimePoint // zero when unknown
	prorate bool
}

func (a annualGrant) IsDeterministic() bool { return true }

func (a annualGrant) GenerateAccruals(from, to generic.TimePoint) []generic.AccrualEvent {
	var events []generic.AccrualEvent
	for year := a.periods.YearOf(from); year <= a.periods.YearOf(to); year++ {
		period := a.periods.YearStartingIn(year)
		if period.Start.Before(from) || period.Start.After(to) {
			continue
		}
		if !a.joined.IsZero() && a.joined.After(period.End) {
			continue
		}

		amount, reason := a.amount, "annual grant"
		if a.prorate && !a.joined.IsZero() && a.joined.After(period.Start) {
			remaining := generic.DaysInclusive(a.joined, period.End)
			factor := decimal.NewFromInt(int64(remaining)).Div(decimal.NewFromInt(int64(period.Length())))
			amount = amount.Mul(factor).Round(2)
			reason = "pro-rated annual grant"
		}
		events = append(events, generic.AccrualEvent{At: period.Start, Amount: amount, Reason: reason})
	}
	return events
}

type workedHours struct{}

func (workedHours) IsDeterministic() bool                                          { return false }
func (workedHours) GenerateAccruals(_, _ generic.TimePoint) []generic.AccrualEvent { return nil }

// AccrualSchedule returns the schedule for a member who joined at `joined`
// (zero when unknown).
func (p Policy) AccrualSchedule(joined generic.TimePoint) generic.AccrualSchedule {
	if p.AccrualType.FromWorkedHours() {
		return workedHours{}
	}
	return annualGrant{
		amount:  generic.NewAmountFromDecimal(p.AccrualAmount, p.Unit()),
		periods: p.PeriodConfig(),
		joined:  joined,
		prorate: p.AccrualType == AccrualFixed && p.Prorate,
	}
}
