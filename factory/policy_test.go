package factory

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/leave"
)

func TestParsePolicy_FullDocument(t *testing.T) {
	// GIVEN: a definition using both numeric and string decimals
	doc := `{
		"name": "Annual Leave",
		"group": "Vacation",
		"isPaid": true,
		"trackTimeIn": "HOURS",
		"accrualType": "FIXED",
		"accrualAmount": 200,
		"maxBalance": "240",
		"rolloverType": "PARTIAL_BALANCE",
		"rolloverAmount": 40,
		"hoursPerDay": "7.5",
		"yearStartMonth": 4
	}`

	// WHEN: parsed
	p, err := NewPolicyFactory().ParsePolicy(doc)

	// THEN: every field lands on the policy
	require.NoError(t, err)
	assert.Equal(t, "Annual Leave", p.Name)
	assert.Equal(t, "Vacation", p.Group)
	assert.True(t, p.IsPaid)
	assert.Equal(t, leave.TrackHours, p.TrackIn)
	assert.Equal(t, leave.AccrualFixed, p.AccrualType)
	assert.True(t, p.AccrualAmount.Equal(decimal.NewFromInt(200)))
	require.NotNil(t, p.MaxBalance)
	assert.True(t, p.MaxBalance.Equal(decimal.NewFromInt(240)))
	assert.Equal(t, leave.RolloverPartial, p.RolloverType)
	assert.True(t, p.HoursPerDay.Equal(decimal.NewFromFloat(7.5)))
	assert.Equal(t, time.April, p.YearStartMonth)
	assert.Equal(t, leave.ExportDefault, p.ExportMode)
}

func TestParsePolicy_Defaults(t *testing.T) {
	p, err := NewPolicyFactory().ParsePolicy(`{"name": "Sick"}`)
	require.NoError(t, err)
	assert.Equal(t, leave.TrackDays, p.TrackIn)
	assert.Equal(t, leave.AccrualNone, p.AccrualType)
	assert.Equal(t, leave.RolloverNone, p.RolloverType)
	assert.Equal(t, time.January, p.YearStartMonth)
	assert.True(t, p.HoursPerDay.Equal(decimal.NewFromInt(8)))
	assert.Nil(t, p.MaxBalance)
}

func TestParsePolicy_Rejects(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"malformed", `{"name": `},
		{"unknown field", `{"name": "A", "resource_type": "pto"}`},
		{"empty name", `{"name": ""}`},
		{"unknown rollover", `{"name": "A", "rolloverType": "SOME"}`},
		{"partial without amount", `{"name": "A", "rolloverType": "PARTIAL_BALANCE"}`},
		{"negative amount", `{"name": "A", "accrualAmount": -2}`},
		{"bad month", `{"name": "A", "yearStartMonth": 13}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewPolicyFactory().ParsePolicy(tc.doc)
			assert.ErrorIs(t, err, leave.ErrValidation)
		})
	}
}

func TestParsePolicies_ReportsIndex(t *testing.T) {
	f := NewPolicyFactory()

	policies, err := f.ParsePolicies(`[{"name": "A"}, {"name": "B", "accrualType": "FIXED", "accrualAmount": 3}]`)
	require.NoError(t, err)
	require.Len(t, policies, 2)
	assert.Equal(t, "B", policies[1].Name)

	_, err = f.ParsePolicies(`[{"name": "A"}, {"name": ""}]`)
	assert.ErrorIs(t, err, leave.ErrValidation)
	assert.Contains(t, err.Error(), "policy 1")
}

func TestPresets_RoundTripThroughParser(t *testing.T) {
	f := NewPolicyFactory()

	annual, err := f.ParsePolicy(AnnualLeaveJSON("Annual Leave", 25, 5))
	require.NoError(t, err)
	assert.Equal(t, leave.RolloverPartial, annual.RolloverType)
	assert.True(t, annual.RolloverAmount.Equal(decimal.NewFromInt(5)))
	assert.True(t, annual.Prorate)

	noCarry, err := f.ParsePolicy(AnnualLeaveJSON("Annual Leave", 25, 0))
	require.NoError(t, err)
	assert.Equal(t, leave.RolloverNone, noCarry.RolloverType)

	sick, err := f.ParsePolicy(SickLeaveJSON("Sick Leave", 10))
	require.NoError(t, err)
	assert.True(t, sick.AccrualAmount.Equal(decimal.NewFromInt(10)))

	unpaid, err := f.ParsePolicy(UnpaidLeaveJSON("Unpaid", 20))
	require.NoError(t, err)
	assert.False(t, unpaid.IsPaid)
	assert.Equal(t, leave.ExportDoNotExport, unpaid.ExportMode)

	hourly, err := f.ParsePolicy(HourlyAccrualJSON("Hourly", 0.05))
	require.NoError(t, err)
	assert.Equal(t, leave.TrackHours, hourly.TrackIn)
	assert.True(t, hourly.AccrualRate.Equal(decimal.NewFromFloat(0.05)))
}

func TestToJSON_InvertsFromJSON(t *testing.T) {
	f := NewPolicyFactory()
	p, err := f.ParsePolicy(AnnualLeaveJSON("Annual Leave", 25, 5))
	require.NoError(t, err)

	again, err := f.FromJSON(f.ToJSON(p))
	require.NoError(t, err)
	assert.Equal(t, p.Name, again.Name)
	assert.Equal(t, p.RolloverType, again.RolloverType)
	assert.True(t, p.AccrualAmount.Equal(again.AccrualAmount))
}
