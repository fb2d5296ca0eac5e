package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// LEAVE POLICIES (leave.PolicyRepository)
// =============================================================================

const policyColumns = `p.id, p.workspace_id, p.name, p.group_name, p.is_paid, p.track_in,
	p.accrual_type, p.accrual_amount, p.accrual_rate, p.prorate, p.max_balance,
	p.rollover_type, p.rollover_amount, p.is_hidden, p.export_mode, p.hours_per_day,
	p.year_start_month, p.created_at, p.updated_at,
	(SELECT COUNT(*) FROM leave_requests r WHERE r.policy_id = p.id)`

func (s *Store) CreatePolicy(ctx context.Context, p *leave.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO leave_policies (
			id, workspace_id, name, group_name, is_paid, track_in,
			accrual_type, accrual_amount, accrual_rate, prorate, max_balance,
			rollover_type, rollover_amount, is_hidden, export_mode, hours_per_day,
			year_start_month, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.WorkspaceID, p.Name, p.Group, boolInt(p.IsPaid), p.TrackIn,
		p.AccrualType, p.AccrualAmount.String(), p.AccrualRate.String(), boolInt(p.Prorate), maxBalance(p),
		p.RolloverType, p.RolloverAmount.String(), boolInt(p.IsHidden), p.ExportMode, p.HoursPerDay.String(),
		int(p.YearStartMonth), formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &leave.ConflictError{Kind: "policy", Message: "a policy named " + p.Name + " already exists"}
		}
		return errors.Wrapf(err, "create policy %s", p.ID)
	}
	return nil
}

func (s *Store) UpdatePolicy(ctx context.Context, p *leave.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE leave_policies SET
			name = ?, group_name = ?, is_paid = ?, track_in = ?,
			accrual_type = ?, accrual_amount = ?, accrual_rate = ?, prorate = ?, max_balance = ?,
			rollover_type = ?, rollover_amount = ?, is_hidden = ?, export_mode = ?, hours_per_day = ?,
			year_start_month = ?, updated_at = ?
		WHERE id = ? AND workspace_id = ?`,
		p.Name, p.Group, boolInt(p.IsPaid), p.TrackIn,
		p.AccrualType, p.AccrualAmount.String(), p.AccrualRate.String(), boolInt(p.Prorate), maxBalance(p),
		p.RolloverType, p.RolloverAmount.String(), boolInt(p.IsHidden), p.ExportMode, p.HoursPerDay.String(),
		int(p.YearStartMonth), formatTime(p.UpdatedAt),
		p.ID, p.WorkspaceID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &leave.ConflictError{Kind: "policy", Message: "a policy named " + p.Name + " already exists"}
		}
		return errors.Wrapf(err, "update policy %s", p.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &leave.NotFoundError{Kind: "policy", Ref: p.ID}
	}
	return nil
}

// DeletePolicy only removes a policy no request points at. The check and the
// delete are a single statement.
func (s *Store) DeletePolicy(ctx context.Context, workspaceID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM leave_policies
		WHERE id = ? AND workspace_id = ?
		AND NOT EXISTS (SELECT 1 FROM leave_requests WHERE policy_id = ?)`, id, workspaceID, id)
	if err != nil {
		return errors.Wrapf(err, "delete policy %s", id)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leave_policies WHERE id = ? AND workspace_id = ?`,
		id, workspaceID).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "check policy")
	}
	if exists == 0 {
		return &leave.NotFoundError{Kind: "policy", Ref: id}
	}
	return &leave.ConflictError{Kind: "policy", Message: "policy has leave requests and cannot be deleted"}
}

func (s *Store) GetPolicy(ctx context.Context, id string) (*leave.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.onePolicy(ctx, `WHERE p.id = ?`, id)
}

func (s *Store) PolicyByName(ctx context.Context, workspaceID, name string) (*leave.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.onePolicy(ctx, `WHERE p.workspace_id = ? AND p.name = ?`, workspaceID, strings.TrimSpace(name))
}

func (s *Store) CountPolicyEntries(ctx context.Context, policyID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions WHERE policy_id = ?", policyID).Scan(&count)
	return count, errors.Wrapf(err, "count entries of policy %s", policyID)
}

func (s *Store) onePolicy(ctx context.Context, where string, args ...any) (*leave.Policy, error) {
	policies, err := s.queryPolicies(ctx, `SELECT `+policyColumns+` FROM leave_policies p `+where, args...)
	if err != nil || len(policies) == 0 {
		return nil, err
	}
	return &policies[0], nil
}

func (s *Store) ListPolicies(ctx context.Context, workspaceID string, f leave.PolicyFilter) ([]leave.Policy, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := []string{"p.workspace_id = ?"}
	args := []any{workspaceID}
	if f.Hidden != nil {
		where = append(where, "p.is_hidden = ?")
		args = append(args, boolInt(*f.Hidden))
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		where = append(where, "p.name LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(search)+"%")
	}
	if f.Group != "" {
		where = append(where, "p.group_name = ?")
		args = append(args, f.Group)
	}
	clause := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leave_policies p`+clause, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count policies")
	}

	opts := f.PageOptions.Normalize()
	policies, err := s.queryPolicies(ctx, `SELECT `+policyColumns+` FROM leave_policies p`+clause+`
		ORDER BY p.name ASC LIMIT ? OFFSET ?`, append(args, opts.Take, opts.Skip)...)
	if err != nil {
		return nil, 0, err
	}
	return policies, total, nil
}

func (s *Store) queryPolicies(ctx context.Context, query string, args ...any) ([]leave.Policy, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query policies")
	}
	defer rows.Close()

	var policies []leave.Policy
	for rows.Next() {
		var (
			p                                    leave.Policy
			isPaid, prorate, isHidden, month     int
			accrualAmount, accrualRate, rollover string
			hoursPerDay, createdAt, updatedAt    string
			maxBal                               sql.NullString
		)
		if err := rows.Scan(
			&p.ID, &p.WorkspaceID, &p.Name, &p.Group, &isPaid, &p.TrackIn,
			&p.AccrualType, &accrualAmount, &accrualRate, &prorate, &maxBal,
			&p.RolloverType, &rollover, &isHidden, &p.ExportMode, &hoursPerDay,
			&month, &createdAt, &updatedAt, &p.RequestCount,
		); err != nil {
			return nil, errors.Wrap(err, "scan policy")
		}
		p.IsPaid, p.Prorate, p.IsHidden = isPaid == 1, prorate == 1, isHidden == 1
		p.AccrualAmount = parseDecimal(accrualAmount)
		p.AccrualRate = parseDecimal(accrualRate)
		p.RolloverAmount = parseDecimal(rollover)
		p.HoursPerDay = parseDecimal(hoursPerDay)
		if maxBal.Valid {
			mb := parseDecimal(maxBal.String)
			p.MaxBalance = &mb
		}
		p.YearStartMonth = time.Month(month)
		p.CreatedAt = parseTime(createdAt)
		p.UpdatedAt = parseTime(updatedAt)
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func maxBalance(p *leave.Policy) sql.NullString {
	if p.MaxBalance == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: p.MaxBalance.String(), Valid: true}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
