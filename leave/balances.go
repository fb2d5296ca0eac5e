package leave

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// BALANCES - read side of the calculator
// =============================================================================

// GetBalance returns userID's balance on a policy for a tracking year (0 means
// the current one). Reading someone else's balance needs MANAGE_LEAVE.
func (s *Service) GetBalance(ctx context.Context, actor Actor, ref, userID, policyID string, year int) (Balance, error) {
	ws, policy, userID, err := s.balanceSubject(ctx, actor, ref, userID, policyID)
	if err != nil {
		return Balance{}, err
	}
	return s.balance(ctx, *policy, ws.ID, userID, year)
}

// GetLedgerEntries lists the ledger rows of userID on a policy that are
// effective in a tracking year (0 means the current one): worked-hours
// grants and the consumption of approved requests.
func (s *Service) GetLedgerEntries(ctx context.Context, actor Actor, ref, userID, policyID string, year int) ([]generic.Transaction, error) {
	_, policy, userID, err := s.balanceSubject(ctx, actor, ref, userID, policyID)
	if err != nil {
		return nil, err
	}
	if s.ledger == nil {
		return nil, nil
	}
	if year == 0 {
		year = policy.PeriodConfig().YearOf(generic.FromTime(s.now()))
	}
	period := policy.TrackingYear(year)
	return s.ledger.TransactionsInRange(ctx, generic.EntityID(userID), generic.PolicyID(policy.ID), period.Start, period.End)
}

// balanceSubject authorizes a balance read. Reading someone else's needs
// MANAGE_LEAVE; an empty userID means the caller.
func (s *Service) balanceSubject(ctx context.Context, actor Actor, ref, userID, policyID string) (*Workspace, *Policy, string, error) {
	ws, err := s.gate.Authorize(ctx, actor, ref)
	if err != nil {
		return nil, nil, "", err
	}
	if userID == "" {
		userID = actor.UserID
	}
	if userID != actor.UserID {
		if _, err := s.gate.RequirePermission(ctx, actor, ws.ID, PermissionManageLeave); err != nil {
			return nil, nil, "", err
		}
	}

	policy, err := s.policy(ctx, policyID)
	if err != nil {
		return nil, nil, "", err
	}
	if policy.WorkspaceID != ws.ID {
		return nil, nil, "", &NotFoundError{Kind: "policy", Ref: policyID}
	}
	return ws, policy, userID, nil
}

// GetBalances returns the caller's balance for every visible policy.
func (s *Service) GetBalances(ctx context.Context, actor Actor, ref string, year int) ([]Balance, error) {
	ws, err := s.gate.Authorize(ctx, actor, ref)
	if err != nil {
		return nil, err
	}
	visible := false
	policies, err := allPolicies(ctx, s.policies, ws.ID, &visible)
	if err != nil {
		return nil, err
	}

	balances := make([]Balance, 0, len(policies))
	for _, p := range policies {
		b, err := s.balance(ctx, p, ws.ID, actor.UserID, year)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, nil
}

func (s *Service) balance(ctx context.Context, policy Policy, workspaceID, userID string, year int) (Balance, error) {
	if year == 0 {
		year = policy.PeriodConfig().YearOf(generic.FromTime(s.now()))
	}
	in, err := s.calculationInput(ctx, policy, workspaceID, userID, year)
	if err != nil {
		return Balance{}, err
	}
	return s.calc.Calculate(in), nil
}

func (s *Service) calculationInput(ctx context.Context, policy Policy, workspaceID, userID string, year int) (CalculationInput, error) {
	in := CalculationInput{
		Policy: policy,
		UserID: userID,
		Year:   year,
		AsOf:   generic.FromTime(s.now()),
	}

	m, err := s.dir.Member(ctx, workspaceID, userID)
	if err != nil {
		return in, err
	}
	if m != nil {
		in.JoinedAt = m.JoinedAt
	} else if ws, err := s.dir.WorkspaceByID(ctx, workspaceID); err != nil {
		return in, err
	} else if ws == nil || ws.OwnerID != userID {
		return in, &NotFoundError{Kind: "member", Ref: userID}
	}

	if in.Requests, err = s.requests.ApprovedRequests(ctx, userID, policy.ID); err != nil {
		return in, err
	}
	if s.ledger != nil {
		if in.Grants, err = s.ledger.Transactions(ctx, generic.EntityID(userID), generic.PolicyID(policy.ID)); err != nil {
			return in, err
		}
	}
	return in, nil
}

// =============================================================================
// WORKED HOURS - feeds HOURLY and REGULAR_WORKING_HOURS policies
// =============================================================================

type WorkedHoursInput struct {
	UserID   string
	PolicyID string
	Date     string // YYYY-MM-DD
	Hours    decimal.Decimal
	// Reference makes the call idempotent, e.g. a timesheet id.
	Reference string
}

var maxHoursPerEntry = decimal.NewFromInt(24)

// RecordWorkedHours appends a ledger grant of hours x accrual rate.
func (s *Service) RecordWorkedHours(ctx context.Context, actor Actor, ref string, in WorkedHoursInput) (generic.Transaction, error) {
	ws, err := s.gate.RequirePermission(ctx, actor, ref, PermissionManageLeave)
	if err != nil {
		return generic.Transaction{}, err
	}
	policy, err := s.policy(ctx, in.PolicyID)
	if err != nil {
		return generic.Transaction{}, err
	}
	if policy.WorkspaceID != ws.ID {
		return generic.Transaction{}, &NotFoundError{Kind: "policy", Ref: in.PolicyID}
	}
	if !policy.AccrualType.FromWorkedHours() {
		return generic.Transaction{}, invalid("policyId", "policy %q does not accrue from worked hours", policy.Name)
	}
	if !in.Hours.IsPositive() || in.Hours.GreaterThan(maxHoursPerEntry) {
		return generic.Transaction{}, invalid("hours", "must be between 0 and 24")
	}
	day, err := generic.ParseDate(in.Date)
	if err != nil {
		return generic.Transaction{}, invalid("date", "%s", err.Error())
	}
	m, err := s.dir.Member(ctx, ws.ID, in.UserID)
	if err != nil {
		return generic.Transaction{}, err
	}
	if m == nil && ws.OwnerID != in.UserID {
		return generic.Transaction{}, &NotFoundError{Kind: "member", Ref: in.UserID}
	}

	tx := generic.Transaction{
		ID:          generic.TransactionID(s.newID()),
		EntityID:    generic.EntityID(in.UserID),
		PolicyID:    generic.PolicyID(policy.ID),
		EffectiveAt: day,
		Delta:       generic.NewAmountFromDecimal(in.Hours.Mul(policy.AccrualRate), policy.Unit()),
		Type:        generic.TxGrant,
		ReferenceID: in.Reference,
		Reason:      fmt.Sprintf("%s hours worked", in.Hours.String()),
		Metadata:    map[string]string{"hours": in.Hours.String()},
		CreatedBy:   actor.UserID,
		CreatedAt:   generic.FromTime(s.now()),
	}
	if in.Reference != "" {
		tx.IdempotencyKey = fmt.Sprintf("worked-hours:%s:%s:%s", policy.ID, in.UserID, in.Reference)
	}

	if err := s.ledger.Append(ctx, tx); err != nil {
		if errors.Is(err, generic.ErrDuplicateIdempotencyKey) {
			return generic.Transaction{}, &ConflictError{Kind: "worked_hours", Message: "reference " + in.Reference + " already recorded"}
		}
		return generic.Transaction{}, err
	}
	s.logger.Info("worked hours recorded",
		zap.String("user_id", in.UserID),
		zap.String("policy_id", policy.ID),
		zap.String("hours", in.Hours.String()),
		zap.String("granted", tx.Delta.String()),
	)

	// The grant is committed; a failed snapshot only costs the audit row.
	year := policy.PeriodConfig().YearOf(day)
	if _, err := s.snapshot(ctx, *policy, ws.ID, in.UserID, year, generic.SnapshotHoursRecorded, string(tx.ID)); err != nil {
		s.logger.Warn("worked hours snapshot failed", zap.String("transaction_id", string(tx.ID)), zap.Error(err))
	}
	return tx, nil
}
