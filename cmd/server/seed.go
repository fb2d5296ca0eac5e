package main

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/sqlite"
)

// seedDemo creates the demo workspace "acme" with an owner, a manager and
// two employees, and the preset policies. Re-running it is harmless:
// users and members are upserted and existing policy names are skipped.
// extraPolicies is an optional JSON array of policy definitions.
func seedDemo(ctx context.Context, store *sqlite.Store, policies *leave.PolicyService, extraPolicies string, logger *zap.Logger) error {
	users := []leave.User{
		{ID: "u-owner", Email: "owner@acme.test", Name: "Olivia Owner"},
		{ID: "u-manager", Email: "manager@acme.test", Name: "Max Manager"},
		{ID: "u-alice", Email: "alice@acme.test", Name: "Alice Example"},
		{ID: "u-bob", Email: "bob@acme.test", Name: "Bob Example"},
	}
	for _, u := range users {
		if err := store.SaveUser(ctx, u); err != nil {
			return err
		}
	}
	if err := store.SaveWorkspace(ctx, leave.Workspace{ID: "ws-acme", Slug: "acme", Name: "Acme Ltd", OwnerID: "u-owner"}); err != nil {
		return err
	}

	joined := time.Date(time.Now().Year()-1, time.January, 1, 0, 0, 0, 0, time.UTC)
	members := []leave.Member{
		{UserID: "u-manager", Role: leave.RoleMember, Permissions: []leave.Permission{leave.PermissionManageLeave}},
		{UserID: "u-alice", Role: leave.RoleMember},
		{UserID: "u-bob", Role: leave.RoleMember},
	}
	for _, m := range members {
		m.WorkspaceID, m.Status, m.JoinedAt = "ws-acme", leave.MemberActive, joined
		if err := store.SaveMember(ctx, m); err != nil {
			return err
		}
	}

	f := factory.NewPolicyFactory()
	docs := []string{
		factory.AnnualLeaveJSON("Annual Leave", 25, 5),
		factory.SickLeaveJSON("Sick Leave", 10),
		factory.UnpaidLeaveJSON("Unpaid Leave", 20),
		factory.HourlyAccrualJSON("Hourly Accrual", 0.0385),
	}
	var defs []leave.Policy
	for _, doc := range docs {
		p, err := f.ParsePolicy(doc)
		if err != nil {
			return err
		}
		defs = append(defs, p)
	}
	if extraPolicies != "" {
		extra, err := f.ParsePolicies(extraPolicies)
		if err != nil {
			return err
		}
		defs = append(defs, extra...)
	}

	owner := leave.Actor{UserID: "u-owner", Email: "owner@acme.test"}
	created := 0
	for _, p := range defs {
		_, err := policies.CreatePolicy(ctx, owner, "acme", p)
		switch {
		case errors.Is(err, leave.ErrConflict):
			continue
		case err != nil:
			return err
		}
		created++
	}
	logger.Info("demo workspace seeded",
		zap.String("workspace", "acme"),
		zap.Int("users", len(users)),
		zap.Int("policies_created", created),
	)
	return nil
}
