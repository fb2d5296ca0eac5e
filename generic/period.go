package generic

import "time"

// =============================================================================
// PERIOD - balance is always asked for a period, never a bare instant
// =============================================================================

// Period is an inclusive day range.
//
// Examples:
//   - Calendar year 2025: Jan 1 - Dec 31
//   - Fiscal year 2025 starting in April: Apr 1 2025 - Mar 31 2026
type Period struct {
	Start TimePoint
	End   TimePoint
}

// Contains returns true if the time point is within [Start, End].
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Length is the number of days in the period.
func (p Period) Length() int { return DaysInclusive(p.Start, p.End) }

// Overlap returns the intersection with [from, to] and whether it is non-empty.
func (p Period) Overlap(from, to TimePoint) (Period, bool) {
	start := MaxTime(p.Start, from)
	end := MinTime(p.End, to)
	if end.Before(start) {
		return Period{}, false
	}
	return Period{Start: start, End: end}, true
}

func (p Period) Valid() bool { return !p.End.Before(p.Start) }

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// PreviousPeriod is the year ending the day before Start.
func (p Period) PreviousPeriod() Period {
	return Period{Start: p.Start.AddYears(-1), End: p.Start.AddDays(-1)}
}

type PeriodType string

const (
	PeriodCalendarYear PeriodType = "calendar_year" // Jan 1 - Dec 31
	PeriodFiscalYear   PeriodType = "fiscal_year"   // custom start month
)

// PeriodConfig says how tracking years are laid out for a policy.
type PeriodConfig struct {
	Type PeriodType

	// For fiscal years: the month the year starts in (1-12).
	FiscalYearStartMonth time.Month
}

// YearStartingIn returns tracking year N, i.e. the period that starts in
// calendar year N.
func (pc PeriodConfig) YearStartingIn(year int) Period {
	if pc.Type != PeriodFiscalYear || pc.FiscalYearStartMonth <= time.January {
		return Period{Start: StartOfYear(year), End: EndOfYear(year)}
	}
	start := NewTimePoint(year, pc.FiscalYearStartMonth, 1)
	return Period{Start: start, End: start.AddYears(1).AddDays(-1)}
}

// PeriodFor returns the period that contains the given date.
func (pc PeriodConfig) PeriodFor(date TimePoint) Period {
	p := pc.YearStartingIn(date.Year())
	if date.Before(p.Start) {
		return pc.YearStartingIn(date.Year() - 1)
	}
	return p
}

// YearOf is the tracking year number (the calendar year it starts in) of date.
func (pc PeriodConfig) YearOf(date TimePoint) int {
	return pc.PeriodFor(date).Start.Year()
}
