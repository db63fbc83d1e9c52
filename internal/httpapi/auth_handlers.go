package httpapi

import (
	"net/http"

	"opsboard.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type sessionTokenRequest struct {
	SessionToken string `json:"session_token"`
}

type sessionResponse struct {
	User        *auth.User        `json:"user"`
	Role        *auth.Role        `json:"role,omitempty"`
	Permissions []string          `json:"permissions"`
	Dashboard   auth.ViewKind     `json:"dashboard"`
	Credentials *auth.Credentials `json:"credentials,omitempty"`
}

func newSessionResponse(principal auth.Principal, creds *auth.Credentials) sessionResponse {
	perms := make([]string, 0, len(principal.Permissions))
	for _, p := range auth.BuiltinPermissions {
		if principal.HasPermission(p.Key) {
			perms = append(perms, p.Key)
		}
	}
	roleName := ""
	if principal.Role != nil {
		roleName = principal.Role.Name
	}
	return sessionResponse{
		User:        principal.User,
		Role:        principal.Role,
		Permissions: perms,
		Dashboard:   auth.VisibleDashboard(roleName),
		Credentials: creds,
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	creds, principal, err := a.sessions.Login(r.Context(), req.Email, req.Password, requestMeta(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(principal, &creds))
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	creds, principal, err := a.sessions.Signup(r.Context(), req.Email, req.Password, req.DisplayName, requestMeta(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionResponse(principal, &creds))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req sessionTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.sessions.Logout(r.Context(), req.SessionToken, requestMeta(r)); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req sessionTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	creds, principal, err := a.sessions.Refresh(r.Context(), req.SessionToken, requestMeta(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(principal, &creds))
}

// handleSession reports the authenticated principal behind the bearer token.
func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(principal, nil))
}
