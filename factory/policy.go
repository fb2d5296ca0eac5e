/*
Package factory provides JSON to Go leave policy conversion.

PURPOSE:
  Converts JSON policy definitions into leave.Policy values. The same
  document shape is accepted by the create/update policy endpoints and by
  the seed command, so a policy written once can be loaded either way.

JSON SCHEMA:
  {
    "name": "Annual Leave",
    "group": "Vacation",
    "isPaid": true,
    "trackTimeIn": "DAYS",
    "accrualType": "FIXED",
    "accrualAmount": 25,
    "prorate": true,
    "maxBalance": 35,
    "rolloverType": "PARTIAL_BALANCE",
    "rolloverAmount": 5,
    "isHidden": false,
    "exportMode": "DEFAULT",
    "hoursPerDay": 8,
    "yearStartMonth": 1
  }

  Decimal fields accept JSON numbers or strings ("7.5"). Every field except
  "name" is optional; missing fields take the defaults of
  leave.Policy.ApplyDefaults.

USAGE:
  f := factory.NewPolicyFactory()

  policy, err := f.ParsePolicy(jsonString)
  policies, err := f.ParsePolicies(jsonArray)

  // From a preset
  policy, err := f.ParsePolicy(factory.AnnualLeaveJSON("Annual Leave", 25, 5))

SEE ALSO:
  - leave/types.go: Policy type definition
  - leave/policy.go: defaults and validation
*/
package factory

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of a leave policy definition.
type PolicyJSON struct {
	Name           string           `json:"name"`
	Group          string           `json:"group,omitempty"`
	IsPaid         bool             `json:"isPaid"`
	TrackTimeIn    string           `json:"trackTimeIn,omitempty"`    // DAYS, HOURS
	AccrualType    string           `json:"accrualType,omitempty"`    // DOES_NOT_ACCRUE, FIXED, HOURLY, REGULAR_WORKING_HOURS
	AccrualAmount  decimal.Decimal  `json:"accrualAmount"`            // per tracking year
	AccrualRate    decimal.Decimal  `json:"accrualRate"`              // per hour worked
	Prorate        bool             `json:"prorate,omitempty"`
	MaxBalance     *decimal.Decimal `json:"maxBalance,omitempty"`
	RolloverType   string           `json:"rolloverType,omitempty"`   // NONE, ENTIRE_BALANCE, PARTIAL_BALANCE
	RolloverAmount decimal.Decimal  `json:"rolloverAmount"`
	IsHidden       bool             `json:"isHidden"`
	ExportMode     string           `json:"exportMode,omitempty"`     // DEFAULT, DO_NOT_EXPORT
	HoursPerDay    decimal.Decimal  `json:"hoursPerDay"`
	YearStartMonth int              `json:"yearStartMonth,omitempty"` // Month 1-12
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts JSON policies to leave.Policy values.
type PolicyFactory struct{}

// NewPolicyFactory creates a new policy factory.
func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy parses a JSON document into a validated Policy.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (leave.Policy, error) {
	var pj PolicyJSON
	if err := decodeStrict(jsonStr, &pj); err != nil {
		return leave.Policy{}, &leave.ValidationError{Field: "body", Message: err.Error()}
	}
	return f.FromJSON(pj)
}

// ParsePolicies parses a JSON array of policy definitions.
func (f *PolicyFactory) ParsePolicies(jsonStr string) ([]leave.Policy, error) {
	var list []PolicyJSON
	if err := decodeStrict(jsonStr, &list); err != nil {
		return nil, &leave.ValidationError{Field: "body", Message: err.Error()}
	}
	policies := make([]leave.Policy, 0, len(list))
	for i, pj := range list {
		p, err := f.FromJSON(pj)
		if err != nil {
			return nil, errors.Wrapf(err, "policy %d", i)
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// FromJSON converts PolicyJSON to a Policy with defaults applied, then
// validates it. IDs and timestamps are left to the store.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (leave.Policy, error) {
	p := leave.Policy{
		Name:           pj.Name,
		Group:          pj.Group,
		IsPaid:         pj.IsPaid,
		TrackIn:        leave.TrackIn(pj.TrackTimeIn),
		AccrualType:    leave.AccrualType(pj.AccrualType),
		AccrualAmount:  pj.AccrualAmount,
		AccrualRate:    pj.AccrualRate,
		Prorate:        pj.Prorate,
		MaxBalance:     pj.MaxBalance,
		RolloverType:   leave.RolloverType(pj.RolloverType),
		RolloverAmount: pj.RolloverAmount,
		IsHidden:       pj.IsHidden,
		ExportMode:     leave.ExportMode(pj.ExportMode),
		HoursPerDay:    pj.HoursPerDay,
		YearStartMonth: time.Month(pj.YearStartMonth),
	}
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return leave.Policy{}, err
	}
	return p, nil
}

// ToJSON converts a Policy back to its definition.
func (f *PolicyFactory) ToJSON(p leave.Policy) PolicyJSON {
	return PolicyJSON{
		Name:           p.Name,
		Group:          p.Group,
		IsPaid:         p.IsPaid,
		TrackTimeIn:    string(p.TrackIn),
		AccrualType:    string(p.AccrualType),
		AccrualAmount:  p.AccrualAmount,
		AccrualRate:    p.AccrualRate,
		Prorate:        p.Prorate,
		MaxBalance:     p.MaxBalance,
		RolloverType:   string(p.RolloverType),
		RolloverAmount: p.RolloverAmount,
		IsHidden:       p.IsHidden,
		ExportMode:     string(p.ExportMode),
		HoursPerDay:    p.HoursPerDay,
		YearStartMonth: int(p.YearStartMonth),
	}
}

func decodeStrict(s string, v any) error {
	dec := json.NewDecoder(bytes.NewBufferString(s))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "failed to parse policy JSON")
	}
	return nil
}

// =============================================================================
// PRESET POLICIES
// =============================================================================

func presetJSON(pj PolicyJSON) string {
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// AnnualLeaveJSON returns JSON for a paid, day-tracked policy granting
// annualDays each year and carrying up to maxCarryover days over.
// A zero maxCarryover means nothing carries.
func AnnualLeaveJSON(name string, annualDays, maxCarryover float64) string {
	pj := PolicyJSON{
		Name:          name,
		Group:         "Vacation",
		IsPaid:        true,
		TrackTimeIn:   string(leave.TrackDays),
		AccrualType:   string(leave.AccrualFixed),
		AccrualAmount: decimal.NewFromFloat(annualDays),
		Prorate:       true,
		RolloverType:  string(leave.RolloverNone),
	}
	if maxCarryover > 0 {
		pj.RolloverType = string(leave.RolloverPartial)
		pj.RolloverAmount = decimal.NewFromFloat(maxCarryover)
	}
	return presetJSON(pj)
}

// SickLeaveJSON returns JSON for a use-it-or-lose-it sick leave policy.
func SickLeaveJSON(name string, annualDays float64) string {
	return presetJSON(PolicyJSON{
		Name:          name,
		Group:         "Sickness",
		IsPaid:        true,
		TrackTimeIn:   string(leave.TrackDays),
		AccrualType:   string(leave.AccrualFixed),
		AccrualAmount: decimal.NewFromFloat(annualDays),
		RolloverType:  string(leave.RolloverNone),
	})
}

// UnpaidLeaveJSON returns JSON for an unpaid policy with a constant allowance.
func UnpaidLeaveJSON(name string, days float64) string {
	return presetJSON(PolicyJSON{
		Name:          name,
		TrackTimeIn:   string(leave.TrackDays),
		AccrualType:   string(leave.AccrualNone),
		AccrualAmount: decimal.NewFromFloat(days),
		ExportMode:    string(leave.ExportDoNotExport),
	})
}

// HourlyAccrualJSON returns JSON for an hour-tracked policy earning
// ratePerHour for every hour worked, with the whole balance rolling over.
func HourlyAccrualJSON(name string, ratePerHour float64) string {
	return presetJSON(PolicyJSON{
		Name:         name,
		IsPaid:       true,
		TrackTimeIn:  string(leave.TrackHours),
		AccrualType:  string(leave.AccrualHourly),
		AccrualRate:  decimal.NewFromFloat(ratePerHour),
		RolloverType: string(leave.RolloverEntire),
	})
}
