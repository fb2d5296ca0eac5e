/*
Package leave implements leave tracking for workspaces.

PURPOSE:
  Members of a workspace request time off against leave policies, managers
  approve or reject those requests, and everybody can see what balance is
  left. Balances are derived on read from the policy, the approved requests
  and the ledger grants; nothing stores a running total.

KEY CONCEPTS IN THIS FILE (types.go):
  - Workspace/Member: the tenant boundary and who may act inside it
  - Policy: what a leave type grants and how unused leave rolls over
  - Request: a single absence moving through PENDING to a terminal status
  - Balance: the per-year result of the calculator

SEE ALSO:
  - gate.go: who may do what
  - calculator.go: balance derivation
  - service.go: request lifecycle
  - policy_service.go: policy CRUD
*/
package leave

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// IDENTITY AND TENANCY
// =============================================================================

type User struct {
	ID    string
	Email string
	Name  string
	Image string
}

type Workspace struct {
	ID        string
	Slug      string
	Name      string
	OwnerID   string
	CreatedAt time.Time
}

type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

type MemberStatus string

const (
	MemberActive    MemberStatus = "ACTIVE"
	MemberInvited   MemberStatus = "INVITED"
	MemberSuspended MemberStatus = "SUSPENDED"
)

type Permission string

const (
	PermissionManageLeave         Permission = "MANAGE_LEAVE"
	PermissionManageLeavePolicies Permission = "MANAGE_LEAVE_POLICIES"
)

func (p Permission) Valid() bool {
	return p == PermissionManageLeave || p == PermissionManageLeavePolicies
}

type Member struct {
	WorkspaceID string
	UserID      string
	Role        Role
	Status      MemberStatus
	Permissions []Permission
	JoinedAt    time.Time
}

func (m Member) Granted(p Permission) bool {
	for _, g := range m.Permissions {
		if g == p {
			return true
		}
	}
	return false
}

// =============================================================================
// POLICY
// =============================================================================

type TrackIn string

const (
	TrackDays  TrackIn = "DAYS"
	TrackHours TrackIn = "HOURS"
)

func (t TrackIn) Unit() generic.Unit {
	if t == TrackHours {
		return generic.UnitHours
	}
	return generic.UnitDays
}

type AccrualType string

const (
	AccrualNone                AccrualType = "DOES_NOT_ACCRUE"
	AccrualHourly              AccrualType = "HOURLY"
	AccrualFixed               AccrualType = "FIXED"
	AccrualRegularWorkingHours AccrualType = "REGULAR_WORKING_HOURS"
)

// FromWorkedHours is true for accrual types fed by RecordWorkedHours.
func (a AccrualType) FromWorkedHours() bool {
	return a == AccrualHourly || a == AccrualRegularWorkingHours
}

type RolloverType string

const (
	RolloverNone    RolloverType = "NONE"
	RolloverEntire  RolloverType = "ENTIRE_BALANCE"
	RolloverPartial RolloverType = "PARTIAL_BALANCE"
)

type ExportMode string

const (
	ExportDefault     ExportMode = "DEFAULT"
	ExportDoNotExport ExportMode = "DO_NOT_EXPORT"
)

// DefaultHoursPerDay converts day-based requests into hours for HOURS policies.
const DefaultHoursPerDay = 8

type Policy struct {
	ID          string
	WorkspaceID string
	Name        string
	Group       string
	IsPaid      bool
	TrackIn     TrackIn

	AccrualType   AccrualType
	AccrualAmount decimal.Decimal // per tracking year, in TrackIn units
	AccrualRate   decimal.Decimal // units earned per hour worked
	Prorate       bool
	MaxBalance    *decimal.Decimal

	RolloverType   RolloverType
	RolloverAmount decimal.Decimal

	IsHidden       bool
	ExportMode     ExportMode
	HoursPerDay    decimal.Decimal
	YearStartMonth time.Month

	CreatedAt time.Time
	UpdatedAt time.Time

	// RequestCount is derived: how many requests reference the policy.
	RequestCount int
}

// =============================================================================
// REQUEST
// =============================================================================

type Duration string

const (
	FullDay Duration = "FULL_DAY"
	HalfDay Duration = "HALF_DAY"
)

func (d Duration) Valid() bool { return d == FullDay || d == HalfDay }

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusCanceled Status = "CANCELED"
)

// Statuses in queue order.
var Statuses = []Status{StatusPending, StatusApproved, StatusRejected, StatusCanceled}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCanceled:
		return true
	}
	return false
}

// Terminal statuses never change again.
func (s Status) Terminal() bool { return s != StatusPending && s.Valid() }

type Request struct {
	ID          string
	WorkspaceID string
	UserID      string
	PolicyID    string
	StartDate   generic.TimePoint
	EndDate     generic.TimePoint
	Duration    Duration
	Notes       string
	Status      Status

	ReviewedBy  string
	ReviewNotes string
	ReviewedAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// BALANCE
// =============================================================================

// Balance is the calculator's answer for one user, policy and tracking year.
type Balance struct {
	UserID   string
	PolicyID string
	Year     int
	Period   generic.Period
	Unit     generic.Unit

	TotalAccrued decimal.Decimal
	TotalUsed    decimal.Decimal
	Rollover     decimal.Decimal

	// Balance is never negative; Raw keeps the unclamped value.
	Balance   decimal.Decimal
	Raw       decimal.Decimal
	Overdrawn bool
}

func newBalance(userID string, year int, b generic.Balance) Balance {
	return Balance{
		UserID:       userID,
		PolicyID:     string(b.PolicyID),
		Year:         year,
		Period:       b.Period,
		Unit:         b.Accrued.Unit,
		TotalAccrued: b.Accrued.Value,
		TotalUsed:    b.Consumed.Value,
		Rollover:     b.CarriedOver.Value,
		Balance:      b.Available().Value,
		Raw:          b.Raw().Value,
		Overdrawn:    b.Overdrawn(),
	}
}
