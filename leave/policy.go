package leave

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// POLICY RULES - how a Policy maps onto the generic engine
// =============================================================================

var halfDay = decimal.NewFromFloat(0.5)

func (p Policy) Unit() generic.Unit { return p.TrackIn.Unit() }

// PeriodConfig lays tracking years out from YearStartMonth.
func (p Policy) PeriodConfig() generic.PeriodConfig {
	if p.YearStartMonth > time.January && p.YearStartMonth <= time.December {
		return generic.PeriodConfig{Type: generic.PeriodFiscalYear, FiscalYearStartMonth: p.YearStartMonth}
	}
	return generic.PeriodConfig{Type: generic.PeriodCalendarYear}
}

// TrackingYear is the period that starts in calendar year `year`.
func (p Policy) TrackingYear(year int) generic.Period {
	return p.PeriodConfig().YearStartingIn(year)
}

func (p Policy) RolloverRule() generic.RolloverRule {
	switch p.RolloverType {
	case RolloverEntire:
		return generic.RolloverRule{Mode: generic.RolloverEntire}
	case RolloverPartial:
		limit := generic.NewAmountFromDecimal(p.RolloverAmount, p.Unit())
		return generic.RolloverRule{Mode: generic.RolloverPartial, MaxCarryover: &limit}
	default:
		return generic.RolloverRule{Mode: generic.RolloverNone}
	}
}

func (p Policy) hoursPerDay() decimal.Decimal {
	if p.HoursPerDay.IsPositive() {
		return p.HoursPerDay
	}
	return decimal.NewFromInt(DefaultHoursPerDay)
}

// daysToUnit converts a number of leave days into the policy's unit.
func (p Policy) daysToUnit(days decimal.Decimal) generic.Amount {
	if p.TrackIn == TrackHours {
		return generic.NewAmountFromDecimal(days.Mul(p.hoursPerDay()), generic.UnitHours)
	}
	return generic.NewAmountFromDecimal(days, generic.UnitDays)
}

// inUnit converts a ledger amount into the policy's unit. Entries keep the
// unit the policy had when they were written.
func (p Policy) inUnit(a generic.Amount) generic.Amount {
	unit := p.Unit()
	switch {
	case a.Unit == unit || a.Unit == "":
		return generic.NewAmountFromDecimal(a.Value, unit)
	case a.Unit == generic.UnitDays:
		return p.daysToUnit(a.Value)
	default:
		return generic.NewAmountFromDecimal(a.Value.Div(p.hoursPerDay()), unit)
	}
}

// Usage is how much of the policy the request consumes inside period.
// HALF_DAY counts half a day on its start date; FULL_DAY counts every
// calendar day of the request that falls inside the period.
func (p Policy) Usage(r Request, period generic.Period) generic.Amount {
	days := decimal.Zero
	switch r.Duration {
	case HalfDay:
		if period.Contains(r.StartDate) {
			days = halfDay
		}
	default:
		if o, ok := period.Overlap(r.StartDate, r.EndDate); ok {
			days = decimal.NewFromInt(int64(o.Length()))
		}
	}
	return p.daysToUnit(days)
}

// TrackingYears lists the tracking years a request touches, in order.
func (p Policy) TrackingYears(r Request) []int {
	pc := p.PeriodConfig()
	end := r.EndDate
	if r.Duration == HalfDay || end.IsZero() {
		end = r.StartDate
	}
	var years []int
	for y := pc.YearOf(r.StartDate); y <= pc.YearOf(end); y++ {
		years = append(years, y)
	}
	return years
}

// =============================================================================
// DEFAULTS AND VALIDATION
// =============================================================================

// ApplyDefaults fills zero values with the defaults a new policy gets.
func (p *Policy) ApplyDefaults() {
	p.Name = strings.TrimSpace(p.Name)
	p.Group = strings.TrimSpace(p.Group)
	if p.TrackIn == "" {
		p.TrackIn = TrackDays
	}
	if p.AccrualType == "" {
		p.AccrualType = AccrualNone
	}
	if p.RolloverType == "" {
		p.RolloverType = RolloverNone
	}
	if p.ExportMode == "" {
		p.ExportMode = ExportDefault
	}
	if p.YearStartMonth == 0 {
		p.YearStartMonth = time.January
	}
	if p.HoursPerDay.IsZero() {
		p.HoursPerDay = decimal.NewFromInt(DefaultHoursPerDay)
	}
}

// Validate reports the first invalid field. Call after ApplyDefaults.
func (p Policy) Validate() error {
	switch {
	case p.Name == "":
		return invalid("name", "must not be empty")
	case len(p.Name) > 120:
		return invalid("name", "must be at most 120 characters")
	}
	switch p.TrackIn {
	case TrackDays, TrackHours:
	default:
		return invalid("trackTimeIn", "unknown value %q", p.TrackIn)
	}
	switch p.AccrualType {
	case AccrualNone, AccrualFixed, AccrualHourly, AccrualRegularWorkingHours:
	default:
		return invalid("accrualType", "unknown value %q", p.AccrualType)
	}
	switch p.RolloverType {
	case RolloverNone, RolloverEntire:
	case RolloverPartial:
		if !p.RolloverAmount.IsPositive() {
			return invalid("rolloverAmount", "must be positive for %s", RolloverPartial)
		}
	default:
		return invalid("rolloverType", "unknown value %q", p.RolloverType)
	}
	switch p.ExportMode {
	case ExportDefault, ExportDoNotExport:
	default:
		return invalid("exportMode", "unknown value %q", p.ExportMode)
	}
	if p.AccrualAmount.IsNegative() {
		return invalid("accrualAmount", "must not be negative")
	}
	if p.AccrualRate.IsNegative() {
		return invalid("accrualRate", "must not be negative")
	}
	if p.AccrualType.FromWorkedHours() && !p.AccrualRate.IsPositive() {
		return invalid("accrualRate", "must be positive for %s", p.AccrualType)
	}
	if p.RolloverAmount.IsNegative() {
		return invalid("rolloverAmount", "must not be negative")
	}
	if p.MaxBalance != nil && p.MaxBalance.IsNegative() {
		return invalid("maxBalance", "must not be negative")
	}
	if !p.HoursPerDay.IsPositive() || p.HoursPerDay.GreaterThan(decimal.NewFromInt(24)) {
		return invalid("hoursPerDay", "must be between 0 and 24")
	}
	if p.YearStartMonth < time.January || p.YearStartMonth > time.December {
		return invalid("yearStartMonth", "must be between 1 and 12")
	}
	return nil
}
