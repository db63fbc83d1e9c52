package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"opsboard.org/internal/auth"
)

var now = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

func TestUserEmailIndexFollowsUpdates(t *testing.T) {
	s := New()
	ctx := context.Background()

	u := &auth.User{ID: "u1", Email: "a@example.com", DisplayName: "A", RoleID: "r1", Status: auth.UserStatusActive}
	if err := s.Users(ctx).Create(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Users(ctx).Create(ctx, &auth.User{ID: "u2", Email: "a@example.com"}); !errors.Is(err, auth.ErrDuplicateEmail) {
		t.Fatalf("got %v, want ErrDuplicateEmail", err)
	}

	u.Email = "b@example.com"
	if err := s.Users(ctx).Update(ctx, u); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := s.Users(ctx).FindByEmail(ctx, "a@example.com"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatal("old email must be released after update")
	}
	if _, err := s.Users(ctx).FindByEmail(ctx, "b@example.com"); err != nil {
		t.Fatalf("new email not indexed: %v", err)
	}

	if err := s.Users(ctx).Delete(ctx, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Users(ctx).FindByEmail(ctx, "b@example.com"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatal("email must be released after delete")
	}
}

func TestReadsCopyOut(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Users(ctx).Create(ctx, &auth.User{ID: "u1", Email: "a@example.com", DisplayName: "A"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.Users(ctx).Find(ctx, "u1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	got.DisplayName = "mutated"

	again, err := s.Users(ctx).Find(ctx, "u1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if again.DisplayName != "A" {
		t.Fatal("caller mutation must not reach the store")
	}
}

func TestRolePermissionBindingsDropWithRole(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Permissions(ctx).Ensure(ctx, []auth.Permission{
		{ID: "p1", Key: auth.PermViewUsers},
		{ID: "p2", Key: auth.PermViewRoles},
	}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	role := &auth.Role{ID: "r1", Name: "Operator"}
	if err := s.Roles(ctx).Create(ctx, role); err != nil {
		t.Fatalf("create role: %v", err)
	}
	if err := s.Permissions(ctx).SetForRole(ctx, "r1", []string{auth.PermViewUsers}); err != nil {
		t.Fatalf("set for role: %v", err)
	}
	perms, err := s.Permissions(ctx).ForRole(ctx, "r1")
	if err != nil || len(perms) != 1 {
		t.Fatalf("for role: %v %v", perms, err)
	}

	if err := s.Roles(ctx).Delete(ctx, "r1"); err != nil {
		t.Fatalf("delete role: %v", err)
	}
	perms, err = s.Permissions(ctx).ForRole(ctx, "r1")
	if err != nil {
		t.Fatalf("for role after delete: %v", err)
	}
	if len(perms) != 0 {
		t.Fatal("bindings must drop with the role")
	}
}

func TestAuditQueryOrderAndWindow(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i, action := range []string{"auth.login", "user.create", "auth.login"} {
		rec := &auth.AuditRecord{
			OccurredAt: now.Add(time.Duration(i) * time.Minute),
			Action:     action,
			Outcome:    auth.OutcomeSuccess,
		}
		if err := s.Audit(ctx).Append(ctx, rec); err != nil {
			t.Fatalf("append: %v", err)
		}
		if rec.ID == "" {
			t.Fatal("append must assign an id")
		}
	}

	records, err := s.Audit(ctx).Query(ctx, auth.AuditFilter{Action: "auth.login"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if !records[0].OccurredAt.After(records[1].OccurredAt) {
		t.Fatal("records must come back newest first")
	}

	windowed, err := s.Audit(ctx).Query(ctx, auth.AuditFilter{From: now.Add(time.Minute), To: now.Add(time.Minute)})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(windowed) != 1 || windowed[0].Action != "user.create" {
		t.Fatalf("window mismatch: %+v", windowed)
	}
}
