package leave_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

func fixedPolicy(amount int64, rollover leave.RolloverType) leave.Policy {
	p := leave.Policy{
		ID:            "pol-annual",
		WorkspaceID:   "ws-1",
		Name:          "Annual Leave",
		AccrualType:   leave.AccrualFixed,
		AccrualAmount: decimal.NewFromInt(amount),
		RolloverType:  rollover,
		CreatedAt:     time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
	p.ApplyDefaults()
	return p
}

func approved(id, start, end string, d leave.Duration) leave.Request {
	s, _ := generic.ParseDate(start)
	e, _ := generic.ParseDate(end)
	return leave.Request{ID: id, PolicyID: "pol-annual", UserID: "u-1", StartDate: s, EndDate: e, Duration: d, Status: leave.StatusApproved}
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, decimal.RequireFromString(want).Equal(got), "expected %s, got %s", want, got)
}

func TestCalculator_IgnoresNonApprovedAndOtherPolicies(t *testing.T) {
	p := fixedPolicy(25, leave.RolloverNone)
	rejected := approved("r-2", "2025-03-03", "2025-03-07", leave.FullDay)
	rejected.Status = leave.StatusRejected
	other := approved("r-3", "2025-03-10", "2025-03-10", leave.FullDay)
	other.PolicyID = "pol-sick"

	b := leave.Calculator{}.Calculate(leave.CalculationInput{
		Policy: p, UserID: "u-1", Year: 2025,
		Requests: []leave.Request{approved("r-1", "2025-06-01", "2025-06-05", leave.FullDay), rejected, other},
	})
	assertDec(t, "25", b.TotalAccrued)
	assertDec(t, "5", b.TotalUsed)
	assertDec(t, "20", b.Balance)
	assert.Equal(t, generic.UnitDays, b.Unit)
}

func TestCalculator_Idempotent(t *testing.T) {
	in := leave.CalculationInput{
		Policy: fixedPolicy(25, leave.RolloverEntire), UserID: "u-1", Year: 2025,
		Requests: []leave.Request{approved("r-1", "2024-06-03", "2024-06-07", leave.FullDay)},
	}
	first, second := leave.Calculator{}.Calculate(in), leave.Calculator{}.Calculate(in)
	assert.True(t, first.Balance.Equal(second.Balance))
	assert.True(t, first.Rollover.Equal(second.Rollover))
	assert.True(t, first.TotalUsed.Equal(second.TotalUsed))
	assertDec(t, "45", first.Balance)
}

func TestCalculator_RolloverModes(t *testing.T) {
	// 2024: 25 accrued, 5 used, 20 unused
	used2024 := []leave.Request{approved("r-1", "2024-06-03", "2024-06-07", leave.FullDay)}

	cases := []struct {
		name     string
		rollover leave.RolloverType
		amount   string
		carried  string
		balance  string
	}{
		{"none", leave.RolloverNone, "0", "0", "25"},
		{"entire", leave.RolloverEntire, "0", "20", "45"},
		{"partial caps carry", leave.RolloverPartial, "5", "5", "30"},
		{"partial above unused", leave.RolloverPartial, "30", "20", "45"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := fixedPolicy(25, tc.rollover)
			p.RolloverAmount = decimal.RequireFromString(tc.amount)
			b := leave.Calculator{}.Calculate(leave.CalculationInput{Policy: p, UserID: "u-1", Year: 2025, Requests: used2024})
			assertDec(t, tc.carried, b.Rollover)
			assertDec(t, tc.balance, b.Balance)
		})
	}
}

func TestCalculator_RolloverChainsAcrossYears(t *testing.T) {
	p := fixedPolicy(10, leave.RolloverEntire)
	p.CreatedAt = time.Date(2022, time.March, 1, 0, 0, 0, 0, time.UTC)

	b := leave.Calculator{}.Calculate(leave.CalculationInput{
		Policy: p, UserID: "u-1", Year: 2025,
		Requests: []leave.Request{approved("r-1", "2023-05-01", "2023-05-03", leave.FullDay)},
	})
	// 2022: 10, 2023: 10+10-3 = 17, 2024: 27, 2025: 27 carried + 10
	assertDec(t, "27", b.Rollover)
	assertDec(t, "37", b.Balance)
}

func TestCalculator_OverdraftIsPermissive(t *testing.T) {
	p := fixedPolicy(25, leave.RolloverEntire)
	requests := []leave.Request{approved("r-1", "2024-01-01", "2024-01-30", leave.FullDay)}

	b2024 := leave.Calculator{}.Calculate(leave.CalculationInput{Policy: p, UserID: "u-1", Year: 2024, Requests: requests})
	assertDec(t, "0", b2024.Balance)
	assertDec(t, "-5", b2024.Raw)
	assert.True(t, b2024.Overdrawn)

	// A negative year never carries a debt forward.
	b2025 := leave.Calculator{}.Calculate(leave.CalculationInput{Policy: p, UserID: "u-1", Year: 2025, Requests: requests})
	assertDec(t, "0", b2025.Rollover)
	assertDec(t, "25", b2025.Balance)
}

func TestCalculator_MaxBalanceTrimsCarryFirst(t *testing.T) {
	p := fixedPolicy(25, leave.RolloverEntire)
	ceiling := decimal.NewFromInt(30)
	p.MaxBalance = &ceiling

	b := leave.Calculator{}.Calculate(leave.CalculationInput{Policy: p, UserID: "u-1", Year: 2025})
	assertDec(t, "25", b.TotalAccrued)
	assertDec(t, "5", b.Rollover)
	assertDec(t, "30", b.Balance)
}

func TestCalculator_RequestSpanningYearBoundary(t *testing.T) {
	p := fixedPolicy(25, leave.RolloverNone)
	requests := []leave.Request{approved("r-1", "2024-12-30", "2025-01-02", leave.FullDay)}

	b2024 := leave.Calculator{}.Calculate(leave.CalculationInput{Policy: p, UserID: "u-1", Year: 2024, Requests: requests})
	b2025 := leave.Calculator{}.Calculate(leave.CalculationInput{Policy: p, UserID: "u-1", Year: 2025, Requests: requests})
	assertDec(t, "2", b2024.TotalUsed)
	assertDec(t, "2", b2025.TotalUsed)
}

func TestCalculator_HoursPolicyConvertsDays(t *testing.T) {
	p := fixedPolicy(200, leave.RolloverNone)
	p.TrackIn = leave.TrackHours
	p.HoursPerDay = decimal.NewFromFloat(7.5)

	b := leave.Calculator{}.Calculate(leave.CalculationInput{
		Policy: p, UserID: "u-1", Year: 2025,
		Requests: []leave.Request{
			approved("r-1", "2025-03-03", "2025-03-04", leave.FullDay),
			approved("r-2", "2025-03-10", "2025-03-10", leave.HalfDay),
		},
	})
	assert.Equal(t, generic.UnitHours, b.Unit)
	assertDec(t, "18.75", b.TotalUsed)
	assertDec(t, "181.25", b.Balance)
}

func TestCalculator_ProratesJoiningYear(t *testing.T) {
	p := fixedPolicy(24, leave.RolloverEntire)
	p.Prorate = true
	in := leave.CalculationInput{
		Policy: p, UserID: "u-1", Year: 2025,
		JoinedAt: time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC),
	}

	// 184 of 365 days remain: 24 * 184 / 365 = 12.0986...
	b := leave.Calculator{}.Calculate(in)
	assertDec(t, "12.1", b.TotalAccrued)
	// Nothing accrued in 2024, before the member joined.
	assertDec(t, "0", b.Rollover)

	in.Year = 2026
	b = leave.Calculator{}.Calculate(in)
	assertDec(t, "24", b.TotalAccrued)
	assertDec(t, "12.1", b.Rollover)
}

func TestCalculator_WorkedHoursUseLedgerGrants(t *testing.T) {
	p := fixedPolicy(0, leave.RolloverNone)
	p.AccrualType = leave.AccrualHourly
	p.AccrualRate = decimal.NewFromFloat(0.1)
	p.TrackIn = leave.TrackHours

	grant := func(id, day, hours string) generic.Transaction {
		d, _ := generic.ParseDate(day)
		return generic.Transaction{
			ID: generic.TransactionID(id), EntityID: "u-1", PolicyID: "pol-annual", EffectiveAt: d,
			Delta: generic.NewAmountFromDecimal(decimal.RequireFromString(hours), generic.UnitHours), Type: generic.TxGrant,
		}
	}
	consumption := grant("tx-c", "2025-02-01", "-8")
	consumption.Type = generic.TxConsumption

	asOf, _ := generic.ParseDate("2025-03-31")
	b := leave.Calculator{}.Calculate(leave.CalculationInput{
		Policy: p, UserID: "u-1", Year: 2025, AsOf: asOf,
		Grants: []generic.Transaction{
			grant("tx-1", "2025-01-15", "4"),
			grant("tx-2", "2025-03-15", "4"),
			grant("tx-3", "2025-05-15", "4"), // after AsOf
			consumption,                      // mirrors an approval, not counted twice
		},
	})
	assertDec(t, "8", b.TotalAccrued)
	assertDec(t, "0", b.TotalUsed)
}

func TestCalculator_GrantsInAnotherUnitAreConverted(t *testing.T) {
	// GIVEN: an hours policy holding a grant written while it tracked days
	p := fixedPolicy(0, leave.RolloverNone)
	p.AccrualType = leave.AccrualHourly
	p.AccrualRate = decimal.NewFromFloat(0.1)
	p.TrackIn = leave.TrackHours
	day, _ := generic.ParseDate("2025-01-15")
	grants := []generic.Transaction{{
		ID: "tx-1", EntityID: "u-1", PolicyID: "pol-annual", EffectiveAt: day,
		Delta: generic.NewAmount(2, generic.UnitDays), Type: generic.TxGrant,
	}}

	// WHEN: calculated
	b := leave.Calculator{}.Calculate(leave.CalculationInput{Policy: p, UserID: "u-1", Year: 2025, Grants: grants})

	// THEN: 2 days count as 16 hours at 8 hours a day
	assert.Equal(t, generic.UnitHours, b.Unit)
	assertDec(t, "16", b.TotalAccrued)

	// and back again for a days policy
	p.TrackIn = leave.TrackDays
	grants[0].Delta = generic.NewAmount(12, generic.UnitHours)
	b = leave.Calculator{}.Calculate(leave.CalculationInput{Policy: p, UserID: "u-1", Year: 2025, Grants: grants})
	assertDec(t, "1.5", b.TotalAccrued)
}

func TestCalculator_FiscalYear(t *testing.T) {
	p := fixedPolicy(20, leave.RolloverNone)
	p.YearStartMonth = time.April

	// 2025-03-31 belongs to the tracking year that started April 2024.
	requests := []leave.Request{approved("r-1", "2025-03-31", "2025-04-01", leave.FullDay)}

	b2024 := leave.Calculator{}.Calculate(leave.CalculationInput{Policy: p, UserID: "u-1", Year: 2024, Requests: requests})
	assert.Equal(t, "2024-04-01", b2024.Period.Start.String())
	assert.Equal(t, "2025-03-31", b2024.Period.End.String())
	assertDec(t, "1", b2024.TotalUsed)

	b2025 := leave.Calculator{}.Calculate(leave.CalculationInput{Policy: p, UserID: "u-1", Year: 2025, Requests: requests})
	assertDec(t, "1", b2025.TotalUsed)
	assertDec(t, "19", b2025.Balance)
}
