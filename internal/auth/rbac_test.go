package auth_test

import (
	"context"
	"errors"
	"testing"

	"opsboard.org/internal/auth"
)

func TestEnsureBuiltinsIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.rbac.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	roles, err := env.rbac.ListRoles(ctx)
	if err != nil {
		t.Fatalf("list roles: %v", err)
	}
	if len(roles) != 3 {
		t.Fatalf("expected 3 builtin roles, got %d", len(roles))
	}
	perms, err := env.rbac.ListPermissions(ctx)
	if err != nil {
		t.Fatalf("list permissions: %v", err)
	}
	if len(perms) != len(auth.BuiltinPermissions) {
		t.Fatalf("expected %d permissions, got %d", len(auth.BuiltinPermissions), len(perms))
	}
}

func TestDeleteProtectedRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	admin, err := env.store.Roles(ctx).FindByName(ctx, auth.RoleAdmin)
	if err != nil {
		t.Fatalf("find admin role: %v", err)
	}
	err = env.rbac.DeleteRole(ctx, auth.Principal{}, admin.ID, auth.RequestMeta{})
	if !errors.Is(err, auth.ErrRoleProtected) {
		t.Fatalf("got %v, want ErrRoleProtected", err)
	}
}

func TestDeleteRoleInUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	role, err := env.rbac.CreateRole(ctx, auth.Principal{}, auth.NewRole{
		Name:        "Auditor",
		Description: "Read-only audit access",
		Permissions: []string{auth.PermViewDashboard, auth.PermViewAuditLogs},
	}, auth.RequestMeta{})
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	user, err := env.rbac.CreateUser(ctx, auth.Principal{}, auth.NewUser{
		Email:       "auditor@example.com",
		DisplayName: "Auditor One",
		Password:    "password123",
		RoleID:      role.ID,
	}, auth.RequestMeta{})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	err = env.rbac.DeleteRole(ctx, auth.Principal{}, role.ID, auth.RequestMeta{})
	if !errors.Is(err, auth.ErrRoleInUse) {
		t.Fatalf("got %v, want ErrRoleInUse", err)
	}

	userRole, err := env.store.Roles(ctx).FindByName(ctx, auth.RoleUser)
	if err != nil {
		t.Fatalf("find user role: %v", err)
	}
	if _, err := env.rbac.AssignRole(ctx, auth.Principal{}, user.ID, userRole.ID, auth.RequestMeta{}); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if err := env.rbac.DeleteRole(ctx, auth.Principal{}, role.ID, auth.RequestMeta{}); err != nil {
		t.Fatalf("delete after reassign: %v", err)
	}
}

func TestAssignedCountIsDerived(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	role, err := env.rbac.CreateRole(ctx, auth.Principal{}, auth.NewRole{Name: "Support"}, auth.RequestMeta{})
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	count, err := env.rbac.AssignedCount(ctx, role.ID)
	if err != nil || count != 0 {
		t.Fatalf("fresh role count = %d, %v", count, err)
	}

	for _, email := range []string{"a@example.com", "b@example.com"} {
		if _, err := env.rbac.CreateUser(ctx, auth.Principal{}, auth.NewUser{
			Email:       email,
			DisplayName: "Support " + email,
			Password:    "password123",
			RoleID:      role.ID,
		}, auth.RequestMeta{}); err != nil {
			t.Fatalf("create %s: %v", email, err)
		}
	}
	count, err = env.rbac.AssignedCount(ctx, role.ID)
	if err != nil || count != 2 {
		t.Fatalf("count after assignment = %d, %v", count, err)
	}

	listed, err := env.rbac.ListRoles(ctx)
	if err != nil {
		t.Fatalf("list roles: %v", err)
	}
	for _, r := range listed {
		if r.ID == role.ID && r.UserCount != 2 {
			t.Fatalf("listed count = %d, want 2", r.UserCount)
		}
	}
}

func TestSetRolePermissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	role, err := env.rbac.CreateRole(ctx, auth.Principal{}, auth.NewRole{Name: "Operator"}, auth.RequestMeta{})
	if err != nil {
		t.Fatalf("create role: %v", err)
	}

	err = env.rbac.SetRolePermissions(ctx, auth.Principal{}, role.ID,
		[]string{auth.PermViewUsers, "bogus_permission"}, auth.RequestMeta{})
	if !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("unknown key: got %v, want ErrInvalidInput", err)
	}

	keys := []string{auth.PermViewUsers, auth.PermViewRoles, auth.PermViewUsers}
	if err := env.rbac.SetRolePermissions(ctx, auth.Principal{}, role.ID, keys, auth.RequestMeta{}); err != nil {
		t.Fatalf("set permissions: %v", err)
	}
	perms, err := env.rbac.RolePermissions(ctx, role.ID)
	if err != nil {
		t.Fatalf("role permissions: %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("duplicates must collapse: got %d keys", len(perms))
	}

	admin, err := env.store.Roles(ctx).FindByName(ctx, auth.RoleAdmin)
	if err != nil {
		t.Fatalf("find admin role: %v", err)
	}
	err = env.rbac.SetRolePermissions(ctx, auth.Principal{}, admin.ID, []string{auth.PermViewDashboard}, auth.RequestMeta{})
	if !errors.Is(err, auth.ErrRoleProtected) {
		t.Fatalf("protected role: got %v, want ErrRoleProtected", err)
	}
}

func TestCreateRoleDuplicateName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.rbac.CreateRole(ctx, auth.Principal{}, auth.NewRole{Name: "Billing"}, auth.RequestMeta{}); err != nil {
		t.Fatalf("create role: %v", err)
	}
	_, err := env.rbac.CreateRole(ctx, auth.Principal{}, auth.NewRole{Name: "Billing"}, auth.RequestMeta{})
	if !errors.Is(err, auth.ErrDuplicateName) {
		t.Fatalf("got %v, want ErrDuplicateName", err)
	}
}

func TestDeleteUserGuards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	actor, err := env.sessions.Principal(ctx, env.admin.ID)
	if err != nil {
		t.Fatalf("principal: %v", err)
	}
	err = env.rbac.DeleteUser(ctx, actor, env.admin.ID, auth.RequestMeta{})
	if !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("self delete: got %v, want ErrInvalidInput", err)
	}

	err = env.rbac.DeleteUser(ctx, actor, "missing-user", auth.RequestMeta{})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("missing user: got %v, want ErrNotFound", err)
	}

	userRole, _ := env.store.Roles(ctx).FindByName(ctx, auth.RoleUser)
	victim, err := env.rbac.CreateUser(ctx, actor, auth.NewUser{
		Email:       "victim@example.com",
		DisplayName: "Victim",
		Password:    "password123",
		RoleID:      userRole.ID,
	}, auth.RequestMeta{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.rbac.DeleteUser(ctx, actor, victim.ID, auth.RequestMeta{}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.rbac.GetUser(ctx, victim.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("deleted user still present: %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	userRole, _ := env.store.Roles(ctx).FindByName(ctx, auth.RoleUser)
	cases := []struct {
		name string
		in   auth.NewUser
		want error
	}{
		{"bad email", auth.NewUser{Email: "nope", DisplayName: "X", Password: "password123", RoleID: userRole.ID}, auth.ErrInvalidInput},
		{"short password", auth.NewUser{Email: "x@example.com", DisplayName: "X", Password: "short", RoleID: userRole.ID}, auth.ErrInvalidInput},
		{"missing role", auth.NewUser{Email: "x@example.com", DisplayName: "X", Password: "password123", RoleID: "nope"}, auth.ErrInvalidInput},
		{"bad status", auth.NewUser{Email: "x@example.com", DisplayName: "X", Password: "password123", RoleID: userRole.ID, Status: "frozen"}, auth.ErrInvalidInput},
		{"duplicate email", auth.NewUser{Email: "admin@example.com", DisplayName: "X", Password: "password123", RoleID: userRole.ID}, auth.ErrDuplicateEmail},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.rbac.CreateUser(ctx, auth.Principal{}, tc.in, auth.RequestMeta{})
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}
