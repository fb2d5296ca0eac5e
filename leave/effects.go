package leave

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// COLLABORATORS - notification and webhook delivery
// =============================================================================

// Submission is sent to reviewers when a request is created.
type Submission struct {
	Request       Request
	Policy        Policy
	Requester     string   // user id
	RequesterName string   // shown to reviewers
	Reviewers     []string // user ids holding MANAGE_LEAVE, requester excluded
}

// StatusChange is sent to the requester when a reviewer decides.
type StatusChange struct {
	Request Request
	Policy  Policy
}

type Notifier interface {
	NotifyLeaveSubmission(ctx context.Context, s Submission) error
	NotifyLeaveStatusChange(ctx context.Context, c StatusChange, status Status, actorID string) error
}

type EmitOptions struct {
	// Async hands the event to a goroutine; the error only covers dispatch.
	Async bool
}

type WebhookEmitter interface {
	EmitLeaveCreated(ctx context.Context, ev WebhookEvent, opts EmitOptions) error
}

// =============================================================================
// WEBHOOK PAYLOAD
// =============================================================================

const (
	DefaultTimezone  = "Europe/London"
	halfDayStartTime = "09:00:00"
	halfDayEndTime   = "17:00:00"
)

type WebhookEvent struct {
	ID          string  `json:"id"`
	UserID      string  `json:"userId"`
	WorkspaceID string  `json:"workspaceId"`
	StartDate   string  `json:"startDate"`
	EndDate     string  `json:"endDate"`
	IsAllDay    bool    `json:"isAllDay"`
	StartTime   *string `json:"startTime,omitempty"`
	EndTime     *string `json:"endTime,omitempty"`
	Status      string  `json:"status"`
	Type        string  `json:"type"`
	Reason      string  `json:"reason"`
	Notes       string  `json:"notes"`
	Timezone    string  `json:"timezone"`
	UpdatedAt   string  `json:"updatedAt"`
}

// NewWebhookEvent normalizes a request for external consumers: ISO dates,
// lower-case status, policy name as type, request notes as reason and
// reviewer notes as notes. Half-day requests get working-hours times.
func NewWebhookEvent(r Request, p Policy, timezone string) WebhookEvent {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	ev := WebhookEvent{
		ID:          r.ID,
		UserID:      r.UserID,
		WorkspaceID: r.WorkspaceID,
		StartDate:   r.StartDate.String(),
		EndDate:     r.EndDate.String(),
		IsAllDay:    r.Duration == FullDay,
		Status:      strings.ToLower(string(r.Status)),
		Type:        p.Name,
		Reason:      r.Notes,
		Notes:       r.ReviewNotes,
		Timezone:    timezone,
		UpdatedAt:   r.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if !ev.IsAllDay {
		start, end := halfDayStartTime, halfDayEndTime
		ev.StartTime, ev.EndTime = &start, &end
	}
	return ev
}

// =============================================================================
// OUTCOME - primary result plus best-effort side effects
// =============================================================================

const (
	EffectBalance      = "balance_snapshot"
	EffectNotification = "notification"
	EffectWebhook      = "webhook"
)

type SideEffectOutcome struct {
	Name string
	Err  error
}

func (o SideEffectOutcome) OK() bool { return o.Err == nil }

type Outcome struct {
	Request     Request
	Balance     *Balance // set after approval when the balance was recomputed
	SideEffects []SideEffectOutcome
}

// Failed lists side effects that did not complete.
func (o Outcome) Failed() []SideEffectOutcome {
	var failed []SideEffectOutcome
	for _, se := range o.SideEffects {
		if !se.OK() {
			failed = append(failed, se)
		}
	}
	return failed
}

// runEffect executes fn after the primary write has committed. Errors and
// panics are logged and returned as an outcome, never propagated.
func runEffect(ctx context.Context, logger *zap.Logger, name, requestID string, fn func(context.Context) error) (out SideEffectOutcome) {
	out.Name = name
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("panic: %v", r)
		}
		if out.Err != nil {
			logger.Warn("side effect failed",
				zap.String("effect", name),
				zap.String("request_id", requestID),
				zap.Error(out.Err),
			)
		}
	}()
	out.Err = fn(context.WithoutCancel(ctx))
	return out
}

func consumptionKey(requestID string, year int) string {
	return fmt.Sprintf("leave-request:%s:consume:%d", requestID, year)
}

// consumptionEntries is one ledger entry per tracking year the request
// touches.
func consumptionEntries(p Policy, r Request, actorID string, at time.Time) []generic.Transaction {
	var txs []generic.Transaction
	for _, year := range p.TrackingYears(r) {
		period := p.TrackingYear(year)
		used := p.Usage(r, period)
		if used.IsZero() {
			continue
		}
		txs = append(txs, generic.Transaction{
			ID:             generic.TransactionID(fmt.Sprintf("%s-%d", r.ID, year)),
			EntityID:       generic.EntityID(r.UserID),
			PolicyID:       generic.PolicyID(p.ID),
			EffectiveAt:    generic.MaxTime(r.StartDate, period.Start),
			Delta:          used.Neg(),
			Type:           generic.TxConsumption,
			ReferenceID:    r.ID,
			Reason:         "approved leave",
			IdempotencyKey: consumptionKey(r.ID, year),
			CreatedBy:      actorID,
			CreatedAt:      generic.FromTime(at),
		})
	}
	return txs
}
