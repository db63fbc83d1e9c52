package auth

// Permission keys form a closed catalog defined by the console's capability
// surface; they are never created or deleted at runtime.
const (
	PermViewDashboard  = "view_dashboard"
	PermViewProfile    = "view_profile"
	PermEditProfile    = "edit_profile"
	PermViewUsers      = "view_users"
	PermCreateUsers    = "create_users"
	PermEditUsers      = "edit_users"
	PermDeleteUsers    = "delete_users"
	PermViewRoles      = "view_roles"
	PermCreateRoles    = "create_roles"
	PermEditRoles      = "edit_roles"
	PermDeleteRoles    = "delete_roles"
	PermViewAuditLogs  = "view_audit_logs"
	PermExportData     = "export_data"
	PermManageSettings = "manage_settings"
)

var BuiltinPermissions = []Permission{
	{Key: PermViewDashboard, Description: "View the landing dashboard"},
	{Key: PermViewProfile, Description: "View own profile"},
	{Key: PermEditProfile, Description: "Edit own profile"},
	{Key: PermViewUsers, Description: "List and inspect users"},
	{Key: PermCreateUsers, Description: "Create users"},
	{Key: PermEditUsers, Description: "Edit users and reassign roles"},
	{Key: PermDeleteUsers, Description: "Delete users"},
	{Key: PermViewRoles, Description: "List roles and their permissions"},
	{Key: PermCreateRoles, Description: "Create roles"},
	{Key: PermEditRoles, Description: "Edit roles and permission sets"},
	{Key: PermDeleteRoles, Description: "Delete roles"},
	{Key: PermViewAuditLogs, Description: "Review the audit log"},
	{Key: PermExportData, Description: "Export filtered data"},
	{Key: PermManageSettings, Description: "Manage system settings"},
}

// KnownPermission reports whether key belongs to the catalog.
func KnownPermission(key string) bool {
	for _, p := range BuiltinPermissions {
		if p.Key == key {
			return true
		}
	}
	return false
}

// AllPermissionKeys returns every catalog key in declaration order.
func AllPermissionKeys() []string {
	keys := make([]string, len(BuiltinPermissions))
	for i, p := range BuiltinPermissions {
		keys[i] = p.Key
	}
	return keys
}

// builtinRolePermissions is the default permission matrix for seeded roles.
var builtinRolePermissions = map[string][]string{
	RoleAdmin: AllPermissionKeys(),
	RoleManager: {
		PermViewDashboard,
		PermViewProfile,
		PermEditProfile,
		PermViewUsers,
		PermEditUsers,
		PermViewAuditLogs,
		PermExportData,
	},
	RoleUser: {
		PermViewDashboard,
		PermViewProfile,
		PermEditProfile,
	},
}

var builtinRoleDescriptions = map[string]string{
	RoleAdmin:   "Full system access with all permissions",
	RoleManager: "Department management with limited administrative access",
	RoleUser:    "Basic user access with profile management",
}
