/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the leave domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

DECIMALS:
  Amounts are shopspring decimals and serialize as JSON strings ("12.5"),
  so balances never lose precision on the way to the client.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/policy.go: PolicyJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// POLICIES
// =============================================================================

// PolicyDTO is a stored policy: its definition plus identity and counters.
type PolicyDTO struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	factory.PolicyJSON
	RequestCount int    `json:"requestCount"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

// =============================================================================
// REQUESTS
// =============================================================================

// CreateLeaveRequest is the body of POST /workspaces/{ws}/requests.
type CreateLeaveRequest struct {
	PolicyID  string `json:"policyId"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate,omitempty"`
	Duration  string `json:"duration,omitempty"` // FULL_DAY (default), HALF_DAY
	Notes     string `json:"notes,omitempty"`
}

// ReviewRequest is the optional body of approve and reject.
type ReviewRequest struct {
	Notes string `json:"notes"`
}

type RequestDTO struct {
	ID          string  `json:"id"`
	WorkspaceID string  `json:"workspaceId"`
	UserID      string  `json:"userId"`
	PolicyID    string  `json:"policyId"`
	StartDate   string  `json:"startDate"`
	EndDate     string  `json:"endDate"`
	Duration    string  `json:"duration"`
	Notes       string  `json:"notes"`
	Status      string  `json:"status"`
	ReviewedBy  string  `json:"reviewedBy,omitempty"`
	ReviewNotes string  `json:"reviewNotes,omitempty"`
	ReviewedAt  *string `json:"reviewedAt,omitempty"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
}

type SideEffectDTO struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// OutcomeResponse wraps a lifecycle result. Side effects are informational:
// the request has been saved whatever they report.
type OutcomeResponse struct {
	Request     RequestDTO      `json:"request"`
	Balance     *BalanceDTO     `json:"balance,omitempty"`
	SideEffects []SideEffectDTO `json:"sideEffects"`
}

// PageResponse is a paginated list.
type PageResponse[T any] struct {
	Data       []T              `json:"data"`
	Pagination leave.Pagination `json:"pagination"`
}

// =============================================================================
// BALANCES
// =============================================================================

type BalanceDTO struct {
	UserID       string          `json:"userId"`
	PolicyID     string          `json:"policyId"`
	Year         int             `json:"year"`
	PeriodStart  string          `json:"periodStart"`
	PeriodEnd    string          `json:"periodEnd"`
	Unit         string          `json:"unit"`
	TotalAccrued decimal.Decimal `json:"totalAccrued"`
	TotalUsed    decimal.Decimal `json:"totalUsed"`
	Rollover     decimal.Decimal `json:"rollover"`
	Balance      decimal.Decimal `json:"balance"`
	Overdrawn    bool            `json:"overdrawn"`
}

// WorkedHoursRequest is the body of POST /workspaces/{ws}/worked-hours.
type WorkedHoursRequest struct {
	UserID    string          `json:"userId"`
	PolicyID  string          `json:"policyId"`
	Date      string          `json:"date"`
	Hours     decimal.Decimal `json:"hours"`
	Reference string          `json:"reference,omitempty"`
}

// LedgerEntryDTO is one ledger row: a worked-hours grant or the consumption
// of an approved request.
type LedgerEntryDTO struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	PolicyID    string          `json:"policyId"`
	EffectiveAt string          `json:"effectiveAt"`
	Amount      decimal.Decimal `json:"amount"`
	Unit        string          `json:"unit"`
	Type        string          `json:"type"`
	Reference   string          `json:"reference,omitempty"`
}

// =============================================================================
// AUTH
// =============================================================================

type TokenRequest struct {
	Email string `json:"email"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toPolicyDTO(f *factory.PolicyFactory, p leave.Policy) PolicyDTO {
	return PolicyDTO{
		ID:           p.ID,
		WorkspaceID:  p.WorkspaceID,
		PolicyJSON:   f.ToJSON(p),
		RequestCount: p.RequestCount,
		CreatedAt:    formatTime(p.CreatedAt),
		UpdatedAt:    formatTime(p.UpdatedAt),
	}
}

func toRequestDTO(r leave.Request) RequestDTO {
	dto := RequestDTO{
		ID:          r.ID,
		WorkspaceID: r.WorkspaceID,
		UserID:      r.UserID,
		PolicyID:    r.PolicyID,
		StartDate:   r.StartDate.String(),
		EndDate:     r.EndDate.String(),
		Duration:    string(r.Duration),
		Notes:       r.Notes,
		Status:      string(r.Status),
		ReviewedBy:  r.ReviewedBy,
		ReviewNotes: r.ReviewNotes,
		CreatedAt:   formatTime(r.CreatedAt),
		UpdatedAt:   formatTime(r.UpdatedAt),
	}
	if r.ReviewedAt != nil {
		at := formatTime(*r.ReviewedAt)
		dto.ReviewedAt = &at
	}
	return dto
}

func toBalanceDTO(b leave.Balance) BalanceDTO {
	return BalanceDTO{
		UserID:       b.UserID,
		PolicyID:     b.PolicyID,
		Year:         b.Year,
		PeriodStart:  b.Period.Start.String(),
		PeriodEnd:    b.Period.End.String(),
		Unit:         string(b.Unit),
		TotalAccrued: b.TotalAccrued,
		TotalUsed:    b.TotalUsed,
		Rollover:     b.Rollover,
		Balance:      b.Balance,
		Overdrawn:    b.Overdrawn,
	}
}

func toOutcomeResponse(o leave.Outcome) OutcomeResponse {
	resp := OutcomeResponse{
		Request:     toRequestDTO(o.Request),
		SideEffects: make([]SideEffectDTO, 0, len(o.SideEffects)),
	}
	if o.Balance != nil {
		b := toBalanceDTO(*o.Balance)
		resp.Balance = &b
	}
	for _, se := range o.SideEffects {
		dto := SideEffectDTO{Name: se.Name, OK: se.OK()}
		if se.Err != nil {
			dto.Error = se.Err.Error()
		}
		resp.SideEffects = append(resp.SideEffects, dto)
	}
	return resp
}

func toPage[T, D any](p leave.Page[T], conv func(T) D) PageResponse[D] {
	data := make([]D, 0, len(p.Data))
	for _, item := range p.Data {
		data = append(data, conv(item))
	}
	return PageResponse[D]{Data: data, Pagination: p.Pagination}
}
