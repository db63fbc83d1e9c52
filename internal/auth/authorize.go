package auth

// Principal represents a user with its resolved role and permission set.
type Principal struct {
	User        *User
	Role        *Role
	Permissions map[string]struct{}
}

// NewPrincipal constructs a principal with preloaded permissions.
func NewPrincipal(user *User, role *Role, perms []Permission) Principal {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[p.Key] = struct{}{}
	}
	return Principal{User: user, Role: role, Permissions: set}
}

// HasPermission reports whether the principal may execute the action
// identified by key. Evaluation fails closed: an unresolved user or role
// yields an empty set and therefore false for every key.
func (p Principal) HasPermission(key string) bool {
	_, ok := p.Permissions[key]
	return ok
}

// ViewKind identifies the default landing view for a role.
type ViewKind string

const (
	DashboardAdmin   ViewKind = "admin"
	DashboardManager ViewKind = "manager"
	DashboardUser    ViewKind = "user"
)

// VisibleDashboard maps a role name to its landing view. The function is
// total: unrecognized roles fall back to the least-privileged view.
func VisibleDashboard(roleName string) ViewKind {
	switch roleName {
	case RoleAdmin:
		return DashboardAdmin
	case RoleManager:
		return DashboardManager
	default:
		return DashboardUser
	}
}
