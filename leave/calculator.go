package leave

import (
	"time"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// BALANCE CALCULATOR - pure, same input gives the same output
// =============================================================================

// maxRolloverDepth bounds the walk back through previous tracking years.
const maxRolloverDepth = 50

type CalculationInput struct {
	Policy   Policy
	UserID   string
	JoinedAt time.Time // zero when unknown

	// Requests may contain any status and policy; only APPROVED requests of
	// Policy count.
	Requests []Request

	// Grants are the ledger entries of user+policy.
	Grants []generic.Transaction

	Year int
	// AsOf limits ledger grants of the current year; zero means the whole year.
	AsOf generic.TimePoint
}

type Calculator struct{}

// Calculate returns the balance of tracking year in.Year:
//
//	accrued  from the accrual schedule, or ledger grants for worked-hours policies
//	rollover from year-1's unused balance under the policy's rollover rule
//	used     approved requests clipped to the year
//	balance  max(0, accrued + rollover - used), capped entitlement if MaxBalance
func (c Calculator) Calculate(in CalculationInput) Balance {
	return newBalance(in.UserID, in.Year, c.Derive(in))
}

// Derive is Calculate in the generic engine's terms.
func (c Calculator) Derive(in CalculationInput) generic.Balance {
	return c.year(in, in.Year, c.firstYear(in))
}

func (c Calculator) year(in CalculationInput, year, first int) generic.Balance {
	p := in.Policy
	unit := p.Unit()
	period := p.TrackingYear(year)

	b := generic.Balance{
		EntityID:    generic.EntityID(in.UserID),
		PolicyID:    generic.PolicyID(p.ID),
		Period:      period,
		Accrued:     c.accrued(in, period),
		CarriedOver: generic.ZeroAmount(unit),
		Consumed:    c.used(in, period),
	}
	if year > first {
		prev := c.year(in, year-1, first)
		b.CarriedOver = p.RolloverRule().Apply(prev.Raw()).CarriedOver
	}
	if p.MaxBalance != nil {
		b = b.CapEntitlement(generic.NewAmountFromDecimal(*p.MaxBalance, unit))
	}
	return b
}

func (c Calculator) accrued(in CalculationInput, period generic.Period) generic.Amount {
	p := in.Policy
	unit := p.Unit()

	var joined generic.TimePoint
	if !in.JoinedAt.IsZero() {
		joined = generic.FromTime(in.JoinedAt)
	}
	schedule := p.AccrualSchedule(joined)
	if schedule.IsDeterministic() {
		return generic.AccruedBetween(schedule, period.Start, period.End, unit)
	}

	upTo := period.End
	if !in.AsOf.IsZero() {
		upTo = generic.MinTime(in.AsOf, period.End)
	}
	total := generic.ZeroAmount(unit)
	for _, tx := range in.Grants {
		if tx.Type != generic.TxGrant && tx.Type != generic.TxAdjustment {
			continue
		}
		if tx.EffectiveAt.Before(period.Start) || tx.EffectiveAt.After(upTo) {
			continue
		}
		total = total.Add(p.inUnit(tx.Delta))
	}
	return total
}

func (c Calculator) used(in CalculationInput, period generic.Period) generic.Amount {
	total := generic.ZeroAmount(in.Policy.Unit())
	for _, r := range in.Requests {
		if r.Status != StatusApproved || r.PolicyID != in.Policy.ID {
			continue
		}
		total = total.Add(in.Policy.Usage(r, period))
	}
	return total
}

// firstYear is where the rollover chain starts: the policy's creation year,
// pulled earlier by any older approved request or grant.
func (c Calculator) firstYear(in CalculationInput) int {
	pc := in.Policy.PeriodConfig()
	first := in.Year
	if !in.Policy.CreatedAt.IsZero() {
		first = min(first, pc.YearOf(generic.FromTime(in.Policy.CreatedAt)))
	}
	for _, r := range in.Requests {
		if r.Status == StatusApproved && r.PolicyID == in.Policy.ID {
			first = min(first, pc.YearOf(r.StartDate))
		}
	}
	for _, g := range in.Grants {
		first = min(first, pc.YearOf(g.EffectiveAt))
	}
	return max(first, in.Year-maxRolloverDepth)
}
