package httpapi

import (
	"net/http"

	"opsboard.org/internal/auth"
)

type updateProfileRequest struct {
	DisplayName *string `json:"display_name"`
	Email       *string `json:"email"`
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermViewProfile) {
			return
		}
		writeJSON(w, http.StatusOK, principal.User)
	case http.MethodPatch:
		if !a.ensurePermission(w, r, auth.PermEditProfile) {
			return
		}
		var req updateProfileRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.sessions.UpdateProfile(r.Context(), principal, auth.ProfileUpdate{
			DisplayName: req.DisplayName,
			Email:       req.Email,
		}, requestMeta(r))
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

type dashboardResponse struct {
	Dashboard   auth.ViewKind       `json:"dashboard"`
	UserCount   *int                `json:"user_count,omitempty"`
	RoleCount   *int                `json:"role_count,omitempty"`
	RecentAudit []*auth.AuditRecord `json:"recent_audit,omitempty"`
}

// handleDashboard renders the landing view for the caller's role. Sections
// the principal may not see are simply omitted.
func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}
	if !a.ensurePermission(w, r, auth.PermViewDashboard) {
		return
	}

	roleName := ""
	if principal.Role != nil {
		roleName = principal.Role.Name
	}
	resp := dashboardResponse{Dashboard: auth.VisibleDashboard(roleName)}

	if principal.HasPermission(auth.PermViewUsers) {
		users, err := a.rbac.ListUsers(r.Context())
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		n := len(users)
		resp.UserCount = &n
	}
	if principal.HasPermission(auth.PermViewRoles) {
		roles, err := a.rbac.ListRoles(r.Context())
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		n := len(roles)
		resp.RoleCount = &n
	}
	if principal.HasPermission(auth.PermViewAuditLogs) {
		recent, err := a.recorder.Query(r.Context(), auth.AuditFilter{Limit: 5})
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		resp.RecentAudit = recent
	}
	writeJSON(w, http.StatusOK, resp)
}
