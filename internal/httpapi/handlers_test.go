package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"opsboard.org/internal/audit"
	"opsboard.org/internal/auth"
	"opsboard.org/internal/store/memory"
	"opsboard.org/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	store   *memory.Store
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	ctx := context.Background()

	store := memory.New()
	st := stream.New()
	recorder := audit.NewRecorder(store.Audit(ctx), audit.WithPublisher(st))

	rbac, err := auth.NewRBACService(store, auth.WithRBACAuditSink(recorder))
	if err != nil {
		t.Fatalf("new rbac: %v", err)
	}
	if err := rbac.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("ensure builtins: %v", err)
	}

	adminRole, err := store.Roles(ctx).FindByName(ctx, auth.RoleAdmin)
	if err != nil {
		t.Fatalf("find admin role: %v", err)
	}
	if _, err := rbac.CreateUser(ctx, auth.Principal{}, auth.NewUser{
		Email:       "admin@example.com",
		DisplayName: "Admin User",
		Password:    "password123",
		RoleID:      adminRole.ID,
	}, auth.RequestMeta{}); err != nil {
		t.Fatalf("create admin: %v", err)
	}

	sessions, err := auth.NewSessionManager(store, "test-secret", auth.WithAuditSink(recorder))
	if err != nil {
		t.Fatalf("new session manager: %v", err)
	}

	api := New(ReadyProbe{}, "test", sessions, rbac, recorder, st)
	api.rateBurst = 100
	api.ratePerSec = 100

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		store:   store,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) login(email, password string) sessionResponse {
	c.t.Helper()
	resp := c.post("/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected login status: %d", resp.StatusCode)
	}
	payload := decode[sessionResponse](c.t, resp)
	if payload.Credentials == nil || payload.Credentials.AccessToken == "" {
		c.t.Fatal("login response missing credentials")
	}
	return payload
}

func (c *apiClient) adminAuth() map[string]string {
	c.t.Helper()
	session := c.login("admin@example.com", "password123")
	return map[string]string{"Authorization": "Bearer " + session.Credentials.AccessToken}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestLoginAndSessionFlow(t *testing.T) {
	c := newTestAPI(t)

	session := c.login("admin@example.com", "password123")
	if session.Role == nil || session.Role.Name != auth.RoleAdmin {
		t.Fatalf("unexpected role: %+v", session.Role)
	}
	if session.Dashboard != auth.DashboardAdmin {
		t.Fatalf("dashboard = %q", session.Dashboard)
	}
	if len(session.Permissions) != len(auth.BuiltinPermissions) {
		t.Fatalf("admin must list the full catalog, got %d keys", len(session.Permissions))
	}

	headers := map[string]string{"Authorization": "Bearer " + session.Credentials.AccessToken}
	resp := c.get("/v1/auth/session", nil, headers)
	got := decode[sessionResponse](t, resp)
	if got.User == nil || got.User.Email != "admin@example.com" {
		t.Fatalf("session user = %+v", got.User)
	}
	if got.Credentials != nil {
		t.Fatal("session introspection must not mint credentials")
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/auth/login", map[string]string{
		"email":    "admin@example.com",
		"password": "wrong-password",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestRefreshRotatesViaHTTP(t *testing.T) {
	c := newTestAPI(t)
	session := c.login("admin@example.com", "password123")

	resp := c.post("/v1/auth/refresh", map[string]string{
		"session_token": session.Credentials.SessionToken,
	}, nil)
	next := decode[sessionResponse](t, resp)
	if next.Credentials.SessionToken == session.Credentials.SessionToken {
		t.Fatal("refresh must rotate the session token")
	}

	replay := c.post("/v1/auth/refresh", map[string]string{
		"session_token": session.Credentials.SessionToken,
	}, nil)
	defer replay.Body.Close()
	if replay.StatusCode != http.StatusUnauthorized {
		t.Fatalf("replayed token status = %d, want 401", replay.StatusCode)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	c := newTestAPI(t)

	for _, path := range []string{"/v1/users", "/v1/roles", "/v1/audit", "/v1/profile", "/v1/dashboard"} {
		resp := c.get(path, nil, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("GET %s without token: status = %d, want 401", path, resp.StatusCode)
		}
	}
}

func TestPermissionEnforcement(t *testing.T) {
	c := newTestAPI(t)

	// Self-served signup lands on the User role with no admin permissions.
	resp := c.post("/v1/auth/signup", map[string]string{
		"email":        "plain@example.com",
		"password":     "password123",
		"display_name": "Plain User",
	}, nil)
	session := decode[sessionResponse](t, resp)
	headers := map[string]string{"Authorization": "Bearer " + session.Credentials.AccessToken}

	for _, path := range []string{"/v1/users", "/v1/roles", "/v1/audit"} {
		resp := c.get(path, nil, headers)
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("GET %s as plain user: status = %d, want 403", path, resp.StatusCode)
		}
	}

	// Own profile and dashboard remain reachable.
	profile := c.get("/v1/profile", nil, headers)
	if profile.StatusCode != http.StatusOK {
		t.Fatalf("profile status = %d", profile.StatusCode)
	}
	profile.Body.Close()

	dash := c.get("/v1/dashboard", nil, headers)
	got := decode[dashboardResponse](t, dash)
	if got.Dashboard != auth.DashboardUser {
		t.Fatalf("dashboard = %q, want user view", got.Dashboard)
	}
	if got.UserCount != nil || got.RecentAudit != nil {
		t.Fatal("plain user must not receive administrative sections")
	}
}

func TestUserAdministrationFlow(t *testing.T) {
	c := newTestAPI(t)
	headers := c.adminAuth()

	roles := decode[struct {
		Roles []*auth.RoleWithCount `json:"roles"`
	}](t, c.get("/v1/roles", nil, headers))
	var userRoleID string
	for _, role := range roles.Roles {
		if role.Name == auth.RoleUser {
			userRoleID = role.ID
		}
	}
	if userRoleID == "" {
		t.Fatal("builtin User role not listed")
	}

	created := decode[*auth.User](t, c.post("/v1/users", map[string]string{
		"email":        "new@example.com",
		"password":     "password123",
		"display_name": "New Person",
		"role_id":      userRoleID,
		"department":   "Engineering",
	}, headers))
	if created.ID == "" || created.Department != "Engineering" {
		t.Fatalf("created user = %+v", created)
	}

	dup := c.post("/v1/users", map[string]string{
		"email":        "new@example.com",
		"password":     "password123",
		"display_name": "Someone Else",
		"role_id":      userRoleID,
	}, headers)
	dup.Body.Close()
	if dup.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate email status = %d, want 409", dup.StatusCode)
	}

	patched := decode[*auth.User](t, c.do(http.MethodPatch, "/v1/users/"+created.ID, map[string]string{
		"display_name": "Renamed Person",
	}, headers))
	if patched.DisplayName != "Renamed Person" {
		t.Fatalf("patched user = %+v", patched)
	}

	del := c.do(http.MethodDelete, "/v1/users/"+created.ID, nil, headers)
	del.Body.Close()
	if del.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", del.StatusCode)
	}

	missing := c.get("/v1/users/"+created.ID, nil, headers)
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted user status = %d, want 404", missing.StatusCode)
	}
}

func TestRoleGuardsOverHTTP(t *testing.T) {
	c := newTestAPI(t)
	headers := c.adminAuth()

	role := decode[*auth.Role](t, c.post("/v1/roles", map[string]any{
		"name":        "Auditor",
		"description": "Read-only audit access",
		"permissions": []string{auth.PermViewDashboard, auth.PermViewAuditLogs},
	}, headers))

	roles := decode[struct {
		Roles []*auth.RoleWithCount `json:"roles"`
	}](t, c.get("/v1/roles", nil, headers))
	var userRoleID, adminRoleID string
	for _, r := range roles.Roles {
		switch r.Name {
		case auth.RoleUser:
			userRoleID = r.ID
		case auth.RoleAdmin:
			adminRoleID = r.ID
		}
	}

	member := decode[*auth.User](t, c.post("/v1/users", map[string]string{
		"email":        "auditor@example.com",
		"password":     "password123",
		"display_name": "Auditor One",
		"role_id":      role.ID,
	}, headers))

	inUse := c.do(http.MethodDelete, "/v1/roles/"+role.ID, nil, headers)
	inUse.Body.Close()
	if inUse.StatusCode != http.StatusConflict {
		t.Fatalf("role in use status = %d, want 409", inUse.StatusCode)
	}

	protected := c.do(http.MethodDelete, "/v1/roles/"+adminRoleID, nil, headers)
	protected.Body.Close()
	if protected.StatusCode != http.StatusConflict {
		t.Fatalf("protected role status = %d, want 409", protected.StatusCode)
	}

	reassign := c.do(http.MethodPut, "/v1/users/"+member.ID+"/role", map[string]string{
		"role_id": userRoleID,
	}, headers)
	reassign.Body.Close()
	if reassign.StatusCode != http.StatusOK {
		t.Fatalf("reassign status = %d", reassign.StatusCode)
	}

	freed := c.do(http.MethodDelete, "/v1/roles/"+role.ID, nil, headers)
	freed.Body.Close()
	if freed.StatusCode != http.StatusNoContent {
		t.Fatalf("delete freed role status = %d, want 204", freed.StatusCode)
	}
}

func TestRoleDetailIncludesCountAndPermissions(t *testing.T) {
	c := newTestAPI(t)
	headers := c.adminAuth()

	role := decode[*auth.Role](t, c.post("/v1/roles", map[string]any{
		"name":        "Operator",
		"permissions": []string{auth.PermViewUsers},
	}, headers))

	detail := decode[roleDetailResponse](t, c.get("/v1/roles/"+role.ID, nil, headers))
	if detail.UserCount != 0 {
		t.Fatalf("fresh role count = %d", detail.UserCount)
	}
	if len(detail.Permissions) != 1 || detail.Permissions[0] != auth.PermViewUsers {
		t.Fatalf("detail permissions = %v", detail.Permissions)
	}

	bad := c.do(http.MethodPut, "/v1/roles/"+role.ID+"/permissions", map[string]any{
		"permissions": []string{"bogus_permission"},
	}, headers)
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown permission status = %d, want 400", bad.StatusCode)
	}
}

func TestAuditQueryAndExport(t *testing.T) {
	c := newTestAPI(t)
	headers := c.adminAuth()

	records := decode[struct {
		Records []*auth.AuditRecord `json:"records"`
	}](t, c.get("/v1/audit", url.Values{"action": {"auth.login"}}, headers))
	if len(records.Records) == 0 {
		t.Fatal("login must leave an audit trail")
	}
	for _, rec := range records.Records {
		if rec.Action != "auth.login" {
			t.Fatalf("filter leaked action %q", rec.Action)
		}
	}

	resp := c.get("/v1/audit/export", nil, headers)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("export content type = %q", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.HasPrefix(string(body), `"Timestamp","User","Action","Resource","Status","IP Address","Details"`) {
		t.Fatalf("export header = %q", strings.SplitN(string(body), "\n", 2)[0])
	}
}

func TestHealthAndInfo(t *testing.T) {
	c := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := c.get(path, nil, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: status = %d", path, resp.StatusCode)
		}
	}
}
