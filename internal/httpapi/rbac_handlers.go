package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"opsboard.org/internal/auth"
)

type createUserRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	RoleID      string `json:"role_id"`
	Department  string `json:"department"`
	Status      string `json:"status"`
}

type updateUserRequest struct {
	Email       *string `json:"email"`
	DisplayName *string `json:"display_name"`
	RoleID      *string `json:"role_id"`
	Department  *string `json:"department"`
	Status      *string `json:"status"`
}

type assignRoleRequest struct {
	RoleID string `json:"role_id"`
}

type createRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type updateRoleRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type updateRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type roleDetailResponse struct {
	auth.RoleWithCount
	Permissions []string `json:"permissions"`
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermViewUsers) {
			return
		}
		users, err := a.rbac.ListUsers(r.Context())
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	case http.MethodPost:
		if !a.ensurePermission(w, r, auth.PermCreateUsers) {
			return
		}
		var req createUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		actor, _ := auth.PrincipalFromContext(r.Context())
		user, err := a.rbac.CreateUser(r.Context(), actor, auth.NewUser{
			Email:       req.Email,
			Password:    req.Password,
			DisplayName: req.DisplayName,
			RoleID:      req.RoleID,
			Department:  req.Department,
			Status:      req.Status,
		}, requestMeta(r))
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.ID))
		writeJSON(w, http.StatusCreated, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	userID := parts[0]

	switch {
	case len(parts) == 1:
		a.handleUserByID(w, r, userID)
	case len(parts) == 2 && parts[1] == "role":
		a.handleUserRole(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserByID(w http.ResponseWriter, r *http.Request, userID string) {
	actor, _ := auth.PrincipalFromContext(r.Context())
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermViewUsers) {
			return
		}
		user, err := a.rbac.GetUser(r.Context(), userID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		if !a.ensurePermission(w, r, auth.PermEditUsers) {
			return
		}
		var req updateUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.rbac.UpdateUser(r.Context(), actor, userID, auth.UserUpdate{
			Email:       req.Email,
			DisplayName: req.DisplayName,
			RoleID:      req.RoleID,
			Department:  req.Department,
			Status:      req.Status,
		}, requestMeta(r))
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		if !a.ensurePermission(w, r, auth.PermDeleteUsers) {
			return
		}
		if err := a.rbac.DeleteUser(r.Context(), actor, userID, requestMeta(r)); err != nil {
			handleServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleUserRole(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermission(w, r, auth.PermEditUsers) {
		return
	}
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.RoleID = strings.TrimSpace(req.RoleID)
	if req.RoleID == "" {
		writeError(w, r, http.StatusBadRequest, "role_id is required")
		return
	}
	actor, _ := auth.PrincipalFromContext(r.Context())
	user, err := a.rbac.AssignRole(r.Context(), actor, userID, req.RoleID, requestMeta(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermViewRoles) {
			return
		}
		roles, err := a.rbac.ListRoles(r.Context())
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case http.MethodPost:
		if !a.ensurePermission(w, r, auth.PermCreateRoles) {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		actor, _ := auth.PrincipalFromContext(r.Context())
		role, err := a.rbac.CreateRole(r.Context(), actor, auth.NewRole{
			Name:        req.Name,
			Description: req.Description,
			Permissions: req.Permissions,
		}, requestMeta(r))
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	roleID := parts[0]

	switch {
	case len(parts) == 1:
		a.handleRoleByID(w, r, roleID)
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleRolePermissions(w, r, roleID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRoleByID(w http.ResponseWriter, r *http.Request, roleID string) {
	actor, _ := auth.PrincipalFromContext(r.Context())
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermission(w, r, auth.PermViewRoles) {
			return
		}
		role, perms, err := a.rbac.GetRole(r.Context(), roleID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		keys := make([]string, len(perms))
		for i, p := range perms {
			keys[i] = p.Key
		}
		writeJSON(w, http.StatusOK, roleDetailResponse{RoleWithCount: *role, Permissions: keys})
	case http.MethodPatch:
		if !a.ensurePermission(w, r, auth.PermEditRoles) {
			return
		}
		var req updateRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.rbac.UpdateRole(r.Context(), actor, roleID, auth.RoleUpdate{
			Name:        req.Name,
			Description: req.Description,
		}, requestMeta(r))
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodDelete:
		if !a.ensurePermission(w, r, auth.PermDeleteRoles) {
			return
		}
		if err := a.rbac.DeleteRole(r.Context(), actor, roleID, requestMeta(r)); err != nil {
			handleServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request, roleID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermission(w, r, auth.PermEditRoles) {
		return
	}
	var req updateRolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	actor, _ := auth.PrincipalFromContext(r.Context())
	if err := a.rbac.SetRolePermissions(r.Context(), actor, roleID, req.Permissions, requestMeta(r)); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, auth.PermViewRoles) {
		return
	}
	perms, err := a.rbac.ListPermissions(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}
