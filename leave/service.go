package leave

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// LEAVE SERVICE - request lifecycle
// =============================================================================
//
//	PENDING --approve--> APPROVED
//	PENDING --reject---> REJECTED
//	PENDING --cancel---> CANCELED   (requester only)
//
// Terminal statuses never change. The status change is a conditional write
// (only while still PENDING), so of two concurrent reviews exactly one wins
// and the other gets a StateError. Notifications, webhooks and snapshots run
// after the write has committed and cannot undo it.

type Deps struct {
	Gate      *Gate
	Directory Directory
	Policies  PolicyRepository
	Requests  RequestRepository
	Ledger    generic.Ledger
	Snapshots generic.SnapshotStore // optional
	Notifier  Notifier              // optional
	Webhooks  WebhookEmitter        // optional
	Logger    *zap.Logger
}

type Service struct {
	gate      *Gate
	dir       Directory
	policies  PolicyRepository
	requests  RequestRepository
	ledger    generic.Ledger
	snapshots generic.SnapshotStore
	notifier  Notifier
	webhooks  WebhookEmitter
	calc      Calculator
	logger    *zap.Logger

	now      func() time.Time
	newID    func() string
	timezone string
	async    bool
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithIDGenerator(fn func() string) Option { return func(s *Service) { s.newID = fn } }

// WithTimezone sets the timezone reported in webhook payloads.
func WithTimezone(tz string) Option { return func(s *Service) { s.timezone = tz } }

func WithAsyncWebhooks(async bool) Option { return func(s *Service) { s.async = async } }

func NewService(d Deps, opts ...Option) *Service {
	s := &Service{
		gate:      d.Gate,
		dir:       d.Directory,
		policies:  d.Policies,
		requests:  d.Requests,
		ledger:    d.Ledger,
		snapshots: d.Snapshots,
		notifier:  d.Notifier,
		webhooks:  d.Webhooks,
		logger:    d.Logger,
		now:       time.Now,
		newID:     uuid.NewString,
		timezone:  DefaultTimezone,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("leave.service")
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// CREATE
// =============================================================================

type CreateRequestInput struct {
	PolicyID  string
	StartDate string // YYYY-MM-DD
	EndDate   string // YYYY-MM-DD, defaults to StartDate
	Duration  Duration
	Notes     string
}

func (s *Service) CreateLeaveRequest(ctx context.Context, actor Actor, in CreateRequestInput) (Outcome, error) {
	log := s.logger.With(zap.String("user_id", actor.UserID), zap.String("policy_id", in.PolicyID))
	log.Debug("create leave request requested")

	policy, err := s.policy(ctx, in.PolicyID)
	if err != nil {
		return Outcome{}, err
	}
	ws, err := s.gate.Authorize(ctx, actor, policy.WorkspaceID)
	if err != nil {
		log.Warn("create leave request denied", zap.Error(err))
		return Outcome{}, err
	}

	start, end, duration, err := parseRequestRange(in)
	if err != nil {
		return Outcome{}, err
	}

	now := s.now().UTC()
	req := Request{
		ID:          s.newID(),
		WorkspaceID: ws.ID,
		UserID:      actor.UserID,
		PolicyID:    policy.ID,
		StartDate:   start,
		EndDate:     end,
		Duration:    duration,
		Notes:       strings.TrimSpace(in.Notes),
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.requests.CreateRequest(ctx, &req); err != nil {
		log.Error("create leave request failed", zap.Error(err))
		return Outcome{}, err
	}
	log.Info("leave request created", zap.String("request_id", req.ID), zap.String("workspace_id", ws.ID))

	out := Outcome{Request: req}
	if s.notifier != nil {
		out.SideEffects = append(out.SideEffects, runEffect(ctx, s.logger, EffectNotification, req.ID, func(ctx context.Context) error {
			reviewers, err := s.reviewers(ctx, ws, actor.UserID)
			if err != nil || len(reviewers) == 0 {
				return err
			}
			return s.notifier.NotifyLeaveSubmission(ctx, Submission{
				Request:       req,
				Policy:        *policy,
				Requester:     actor.UserID,
				RequesterName: actor.DisplayName(),
				Reviewers:     reviewers,
			})
		}))
	}
	return out, nil
}

// maxRequestDays bounds one request. It spans at most two tracking years.
const maxRequestDays = 366

func parseRequestRange(in CreateRequestInput) (start, end generic.TimePoint, duration Duration, err error) {
	duration = in.Duration
	if duration == "" {
		duration = FullDay
	}
	if !duration.Valid() {
		return start, end, "", invalid("duration", "unknown value %q", in.Duration)
	}
	if start, err = generic.ParseDate(in.StartDate); err != nil {
		return start, end, "", invalid("startDate", "%s", err.Error())
	}
	end = start
	if in.EndDate != "" {
		if end, err = generic.ParseDate(in.EndDate); err != nil {
			return start, end, "", invalid("endDate", "%s", err.Error())
		}
	}
	if end.Before(start) {
		return start, end, "", invalid("endDate", "must not be before startDate")
	}
	if duration == HalfDay && !end.Equal(start) {
		return start, end, "", invalid("endDate", "a half-day request covers a single day")
	}
	if generic.DaysInclusive(start, end) > maxRequestDays {
		return start, end, "", invalid("endDate", "a request covers at most %d days", maxRequestDays)
	}
	return start, end, duration, nil
}

// reviewers are the users who can act on requests in ws, minus exclude.
func (s *Service) reviewers(ctx context.Context, ws *Workspace, exclude string) ([]string, error) {
	members, err := s.dir.Members(ctx, ws.ID)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{exclude: true}
	var ids []string
	add := func(userID string) {
		if !seen[userID] {
			seen[userID] = true
			ids = append(ids, userID)
		}
	}
	if ws.OwnerID != "" {
		add(ws.OwnerID)
	}
	for _, m := range members {
		if seen[m.UserID] || m.Status != MemberActive {
			continue
		}
		ok, err := s.gate.HasPermission(ctx, Actor{UserID: m.UserID}, ws.ID, PermissionManageLeave)
		if err != nil {
			return nil, err
		}
		if ok {
			add(m.UserID)
		}
	}
	return ids, nil
}

// =============================================================================
// REVIEW
// =============================================================================

func (s *Service) ApproveLeaveRequest(ctx context.Context, actor Actor, requestID, notes string) (Outcome, error) {
	return s.review(ctx, actor, requestID, StatusApproved, notes)
}

func (s *Service) RejectLeaveRequest(ctx context.Context, actor Actor, requestID, notes string) (Outcome, error) {
	return s.review(ctx, actor, requestID, StatusRejected, notes)
}

func (s *Service) review(ctx context.Context, actor Actor, requestID string, to Status, notes string) (Outcome, error) {
	log := s.logger.With(zap.String("request_id", requestID), zap.String("reviewer_id", actor.UserID), zap.String("to", string(to)))
	log.Debug("review leave request requested")

	req, policy, err := s.load(ctx, requestID)
	if err != nil {
		return Outcome{}, err
	}
	if _, err := s.gate.RequirePermission(ctx, actor, policy.WorkspaceID, PermissionManageLeave); err != nil {
		log.Warn("review leave request denied", zap.Error(err))
		return Outcome{}, err
	}
	if req.Status != StatusPending {
		return Outcome{}, &StateError{RequestID: req.ID, Current: req.Status, Wanted: to}
	}

	now := s.now().UTC()
	t := Transition{
		RequestID:  req.ID,
		From:       StatusPending,
		To:         to,
		ReviewerID: actor.UserID,
		Notes:      strings.TrimSpace(notes),
		At:         now,
	}
	if to == StatusApproved {
		t.Ledger = consumptionEntries(*policy, *req, actor.UserID, now)
	}
	updated, err := s.requests.TransitionRequest(ctx, t)
	if err != nil {
		log.Warn("review leave request failed", zap.Error(err))
		return Outcome{}, err
	}
	log.Info("leave request reviewed")

	out := Outcome{Request: *updated}
	if to == StatusApproved {
		out.SideEffects = append(out.SideEffects, runEffect(ctx, s.logger, EffectBalance, req.ID, func(ctx context.Context) error {
			year := policy.PeriodConfig().YearOf(updated.StartDate)
			b, err := s.snapshot(ctx, *policy, updated.WorkspaceID, updated.UserID, year, generic.SnapshotRequestApproved, updated.ID)
			if err == nil {
				out.Balance = &b
			}
			return err
		}))
	}
	if s.notifier != nil {
		out.SideEffects = append(out.SideEffects, runEffect(ctx, s.logger, EffectNotification, req.ID, func(ctx context.Context) error {
			return s.notifier.NotifyLeaveStatusChange(ctx, StatusChange{Request: *updated, Policy: *policy}, to, actor.UserID)
		}))
	}
	if to == StatusApproved && s.webhooks != nil {
		out.SideEffects = append(out.SideEffects, runEffect(ctx, s.logger, EffectWebhook, req.ID, func(ctx context.Context) error {
			ev := NewWebhookEvent(*updated, *policy, s.timezone)
			return s.webhooks.EmitLeaveCreated(ctx, ev, EmitOptions{Async: s.async})
		}))
	}
	return out, nil
}

// snapshot computes userID's balance for a tracking year and records it
// with the reason and reference that changed it.
func (s *Service) snapshot(ctx context.Context, policy Policy, workspaceID, userID string, year int, reason generic.SnapshotReason, ref string) (Balance, error) {
	in, err := s.calculationInput(ctx, policy, workspaceID, userID, year)
	if err != nil {
		return Balance{}, err
	}
	derived := s.calc.Derive(in)
	if s.snapshots != nil {
		err = s.snapshots.SaveSnapshot(ctx, generic.Snapshot{
			ID:       s.newID(),
			EntityID: derived.EntityID,
			PolicyID: derived.PolicyID,
			Period:   derived.Period,
			TakenAt:  generic.FromTime(s.now()),
			Balance:  derived,
			Reason:   reason,
			Ref:      ref,
		})
	}
	return newBalance(userID, year, derived), err
}

// =============================================================================
// CANCEL
// =============================================================================

func (s *Service) CancelLeaveRequest(ctx context.Context, actor Actor, requestID string) (Outcome, error) {
	req, _, err := s.load(ctx, requestID)
	if err != nil {
		return Outcome{}, err
	}
	if _, err := s.gate.Authorize(ctx, actor, req.WorkspaceID); err != nil {
		return Outcome{}, err
	}
	if req.UserID != actor.UserID {
		return Outcome{}, &AccessError{UserID: actor.UserID, WorkspaceID: req.WorkspaceID, Reason: "only the requester can cancel"}
	}
	if req.Status != StatusPending {
		return Outcome{}, &StateError{RequestID: req.ID, Current: req.Status, Wanted: StatusCanceled}
	}

	updated, err := s.requests.TransitionRequest(ctx, Transition{
		RequestID: req.ID,
		From:      StatusPending,
		To:        StatusCanceled,
		At:        s.now().UTC(),
	})
	if err != nil {
		return Outcome{}, err
	}
	s.logger.Info("leave request canceled", zap.String("request_id", req.ID), zap.String("user_id", actor.UserID))
	return Outcome{Request: *updated}, nil
}

// =============================================================================
// LISTING
// =============================================================================

type ListOptions struct {
	PageOptions
	Status string // optional, case-insensitive
}

func (o ListOptions) status() (*Status, error) {
	if o.Status == "" {
		return nil, nil
	}
	st := Status(strings.ToUpper(o.Status))
	if !st.Valid() {
		return nil, invalid("status", "unknown value %q", o.Status)
	}
	return &st, nil
}

// GetPaginatedWorkspaceLeaveRequests is the manager queue: every request of
// the workspace, pending first, newest first within a status.
func (s *Service) GetPaginatedWorkspaceLeaveRequests(ctx context.Context, actor Actor, ref string, opts ListOptions) (Page[Request], error) {
	ws, err := s.gate.RequirePermission(ctx, actor, ref, PermissionManageLeave)
	if err != nil {
		return Page[Request]{}, err
	}
	return s.list(ctx, ws.ID, "", opts)
}

// GetMyLeaveRequests lists the caller's own requests in the workspace.
func (s *Service) GetMyLeaveRequests(ctx context.Context, actor Actor, ref string, opts ListOptions) (Page[Request], error) {
	ws, err := s.gate.Authorize(ctx, actor, ref)
	if err != nil {
		return Page[Request]{}, err
	}
	return s.list(ctx, ws.ID, actor.UserID, opts)
}

func (s *Service) list(ctx context.Context, workspaceID, userID string, opts ListOptions) (Page[Request], error) {
	status, err := opts.status()
	if err != nil {
		return Page[Request]{}, err
	}
	page := opts.PageOptions.Normalize()
	items, total, err := s.requests.ListRequests(ctx, workspaceID, RequestQuery{Status: status, UserID: userID, PageOptions: page})
	if err != nil {
		return Page[Request]{}, err
	}
	return Page[Request]{Data: items, Pagination: NewPagination(total, page)}, nil
}

type Summary struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Canceled int `json:"canceled"`
	Total    int `json:"total"`
}

// GetWorkspaceLeaveRequestsSummary counts requests per status. The counts
// are independent queries and run concurrently.
func (s *Service) GetWorkspaceLeaveRequestsSummary(ctx context.Context, actor Actor, ref string) (Summary, error) {
	ws, err := s.gate.RequirePermission(ctx, actor, ref, PermissionManageLeave)
	if err != nil {
		return Summary{}, err
	}

	counts := make([]int, len(Statuses))
	g, gctx := errgroup.WithContext(ctx)
	for i, st := range Statuses {
		g.Go(func() error {
			n, err := s.requests.CountRequests(gctx, ws.ID, st)
			counts[i] = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	sum := Summary{Pending: counts[0], Approved: counts[1], Rejected: counts[2], Canceled: counts[3]}
	sum.Total = sum.Pending + sum.Approved + sum.Rejected + sum.Canceled
	return sum, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) policy(ctx context.Context, id string) (*Policy, error) {
	p, err := s.policies.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &NotFoundError{Kind: "policy", Ref: id}
	}
	return p, nil
}

func (s *Service) load(ctx context.Context, requestID string) (*Request, *Policy, error) {
	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if req == nil {
		return nil, nil, &NotFoundError{Kind: "request", Ref: requestID}
	}
	p, err := s.policy(ctx, req.PolicyID)
	if err != nil {
		return nil, nil, err
	}
	return req, p, nil
}
