package auth

import "testing"

func TestHasPermissionFailsClosed(t *testing.T) {
	empty := Principal{}
	if empty.HasPermission(PermViewDashboard) {
		t.Fatal("empty principal must not hold any permission")
	}

	p := NewPrincipal(&User{ID: "u1"}, nil, nil)
	if p.HasPermission(PermViewUsers) {
		t.Fatal("principal without role must not hold any permission")
	}

	p = NewPrincipal(&User{ID: "u1"}, &Role{ID: "r1", Name: "Custom"}, []Permission{{Key: PermViewUsers}})
	if !p.HasPermission(PermViewUsers) {
		t.Fatal("granted permission not visible")
	}
	if p.HasPermission(PermDeleteUsers) {
		t.Fatal("ungranted permission must evaluate false")
	}
	if p.HasPermission("made_up_key") {
		t.Fatal("unknown key must evaluate false")
	}
}

func TestVisibleDashboardIsTotal(t *testing.T) {
	cases := []struct {
		role string
		want ViewKind
	}{
		{RoleAdmin, DashboardAdmin},
		{RoleManager, DashboardManager},
		{RoleUser, DashboardUser},
		{"Auditor", DashboardUser},
		{"", DashboardUser},
	}
	for _, tc := range cases {
		if got := VisibleDashboard(tc.role); got != tc.want {
			t.Fatalf("VisibleDashboard(%q) = %q, want %q", tc.role, got, tc.want)
		}
	}
}

func TestBuiltinPermissionMatrix(t *testing.T) {
	if len(builtinRolePermissions[RoleAdmin]) != len(BuiltinPermissions) {
		t.Fatalf("admin must hold the full catalog: %d != %d",
			len(builtinRolePermissions[RoleAdmin]), len(BuiltinPermissions))
	}
	for role, keys := range builtinRolePermissions {
		for _, key := range keys {
			if !KnownPermission(key) {
				t.Fatalf("role %s references unknown permission %s", role, key)
			}
		}
	}
}
