package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"opsboard.org/internal/ids"
	"opsboard.org/internal/obs"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultSessionTTL = 24 * time.Hour * 14

	minPasswordLength = 8
)

// SessionManager authenticates credentials, issues and restores sessions and
// resolves principals for authorization checks.
type SessionManager struct {
	store Store
	sink  AuditSink
	now   func() time.Time

	secret     []byte
	issuer     string
	accessTTL  time.Duration
	sessionTTL time.Duration
}

// SessionOption configures SessionManager behavior.
type SessionOption func(*SessionManager) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) SessionOption {
	return func(m *SessionManager) error {
		if fn != nil {
			m.now = fn
		}
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) SessionOption {
	return func(m *SessionManager) error {
		m.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) SessionOption {
	return func(m *SessionManager) error {
		if ttl > 0 {
			m.accessTTL = ttl
		}
		return nil
	}
}

// WithSessionTTL configures session lifetime.
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(m *SessionManager) error {
		if ttl > 0 {
			m.sessionTTL = ttl
		}
		return nil
	}
}

// WithAuditSink routes audit records through the provided sink instead of the
// store's audit log directly.
func WithAuditSink(sink AuditSink) SessionOption {
	return func(m *SessionManager) error {
		if sink != nil {
			m.sink = sink
		}
		return nil
	}
}

// NewSessionManager constructs a SessionManager bound to the given store.
func NewSessionManager(store Store, secret string, opts ...SessionOption) (*SessionManager, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: token secret is required")
	}
	m := &SessionManager{
		store:      store,
		now:        time.Now,
		secret:     []byte(secret),
		issuer:     "opsboard",
		accessTTL:  defaultAccessTTL,
		sessionTTL: defaultSessionTTL,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Credentials bundles the short-lived access token with the opaque session
// token used for restore and rotation.
type Credentials struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	SessionToken     string    `json:"session_token"`
	SessionExpiresAt time.Time `json:"session_expires_at"`
}

// Principal loads a user with its resolved role and permission set. A user
// whose role no longer exists resolves to an empty permission set so every
// check fails closed.
func (m *SessionManager) Principal(ctx context.Context, userID string) (Principal, error) {
	user, err := m.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	role, err := m.store.Roles(ctx).Find(ctx, user.RoleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return NewPrincipal(user, nil, nil), nil
		}
		return Principal{}, err
	}
	perms, err := m.store.Permissions(ctx).ForRole(ctx, role.ID)
	if err != nil {
		return Principal{}, err
	}
	return NewPrincipal(user, role, perms), nil
}

// Login verifies credentials and issues a fresh session. The failure path is
// uniform for unknown emails and wrong passwords so account existence never
// leaks, including through timing.
func (m *SessionManager) Login(ctx context.Context, email, password string, meta RequestMeta) (Credentials, Principal, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		burnVerify(password)
		return m.loginFailure(ctx, email, meta)
	}
	user, err := m.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			burnVerify(password)
			return m.loginFailure(ctx, email, meta)
		}
		return Credentials{}, Principal{}, err
	}
	if user.Status != UserStatusActive {
		burnVerify(password)
		return m.loginFailure(ctx, email, meta)
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return m.loginFailure(ctx, email, meta)
	}

	now := m.now().UTC()
	if err := m.store.Users(ctx).TouchLastLogin(ctx, user.ID, now); err != nil {
		return Credentials{}, Principal{}, err
	}
	principal, err := m.Principal(ctx, user.ID)
	if err != nil {
		return Credentials{}, Principal{}, err
	}
	creds, err := m.issueCredentials(ctx, principal, now)
	if err != nil {
		return Credentials{}, Principal{}, err
	}

	obs.CountLogin("success")
	m.appendAudit(ctx, &AuditRecord{
		ActorUserID:  user.ID,
		ActorEmail:   user.Email,
		Action:       "auth.login",
		ResourceType: "authentication",
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		Outcome:      OutcomeSuccess,
	})
	return creds, principal, nil
}

func (m *SessionManager) loginFailure(ctx context.Context, email string, meta RequestMeta) (Credentials, Principal, error) {
	obs.CountLogin("failure")
	m.appendAudit(ctx, &AuditRecord{
		ActorEmail:   email,
		Action:       "auth.login",
		ResourceType: "authentication",
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		Outcome:      OutcomeFailure,
		Detail:       "invalid credentials",
	})
	return Credentials{}, Principal{}, ErrInvalidCredentials
}

// Signup creates an account with the least-privileged builtin role and logs
// the new user in.
func (m *SessionManager) Signup(ctx context.Context, email, password, displayName string, meta RequestMeta) (Credentials, Principal, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return Credentials{}, Principal{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if len(password) < minPasswordLength {
		return Credentials{}, Principal{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return Credentials{}, Principal{}, fmt.Errorf("%w: display name is required", ErrInvalidInput)
	}

	role, err := m.store.Roles(ctx).FindByName(ctx, RoleUser)
	if err != nil {
		return Credentials{}, Principal{}, fmt.Errorf("default role: %w", err)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Credentials{}, Principal{}, err
	}

	now := m.now().UTC()
	user := &User{
		ID:           ids.New(),
		Email:        email,
		DisplayName:  displayName,
		RoleID:       role.ID,
		Status:       UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
		PasswordHash: hash,
	}
	if err := m.store.Users(ctx).Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			m.appendAudit(ctx, &AuditRecord{
				ActorEmail:   email,
				Action:       "auth.signup",
				ResourceType: "authentication",
				IPAddress:    meta.IPAddress,
				UserAgent:    meta.UserAgent,
				Outcome:      OutcomeFailure,
				Detail:       "email already registered",
			})
			return Credentials{}, Principal{}, ErrEmailTaken
		}
		return Credentials{}, Principal{}, err
	}

	principal := NewPrincipal(user, role, mustForRole(ctx, m.store, role.ID))
	creds, err := m.issueCredentials(ctx, principal, now)
	if err != nil {
		return Credentials{}, Principal{}, err
	}
	m.appendAudit(ctx, &AuditRecord{
		ActorUserID:  user.ID,
		ActorEmail:   user.Email,
		Action:       "auth.signup",
		ResourceType: "authentication",
		ResourceID:   user.ID,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		Outcome:      OutcomeSuccess,
	})
	return creds, principal, nil
}

// Logout revokes the session named by the opaque token. It is idempotent:
// unknown, expired and already-revoked tokens all return nil.
func (m *SessionManager) Logout(ctx context.Context, sessionToken string, meta RequestMeta) error {
	id, secret, err := splitSessionToken(sessionToken)
	if err != nil {
		return nil
	}
	sess, err := m.store.Sessions(ctx).Find(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if sess.Revoked || !secureCompareHash(sess.TokenHash, secret) {
		return nil
	}
	if err := m.store.Sessions(ctx).MarkRevoked(ctx, sess.ID); err != nil {
		return err
	}
	m.appendAudit(ctx, &AuditRecord{
		ActorUserID:  sess.UserID,
		Action:       "auth.logout",
		ResourceType: "authentication",
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		Outcome:      OutcomeSuccess,
	})
	return nil
}

// LogoutAll revokes every session belonging to the user.
func (m *SessionManager) LogoutAll(ctx context.Context, userID string) error {
	return m.store.Sessions(ctx).MarkRevokedByUser(ctx, userID)
}

// Restore re-derives an active principal from a persisted session token. It
// returns a nil session (and no error) when the token is absent, malformed,
// expired, revoked, or no longer maps to a live user.
func (m *SessionManager) Restore(ctx context.Context, sessionToken string) (Principal, *Session, error) {
	id, secret, err := splitSessionToken(sessionToken)
	if err != nil {
		return Principal{}, nil, nil
	}
	sess, err := m.store.Sessions(ctx).Find(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, nil, nil
		}
		return Principal{}, nil, err
	}
	if sess.Revoked || m.now().After(sess.ExpiresAt) {
		return Principal{}, nil, nil
	}
	if !secureCompareHash(sess.TokenHash, secret) {
		// A bad secret against a live session id smells like token theft;
		// retire the session.
		_ = m.store.Sessions(ctx).MarkRevoked(ctx, sess.ID)
		return Principal{}, nil, nil
	}
	user, err := m.store.Users(ctx).Find(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, nil, nil
		}
		return Principal{}, nil, err
	}
	if user.Status != UserStatusActive {
		return Principal{}, nil, nil
	}
	principal, err := m.Principal(ctx, user.ID)
	if err != nil {
		return Principal{}, nil, err
	}
	return principal, sess, nil
}

// Refresh rotates the session token and issues fresh credentials.
func (m *SessionManager) Refresh(ctx context.Context, sessionToken string, meta RequestMeta) (Credentials, Principal, error) {
	principal, sess, err := m.Restore(ctx, sessionToken)
	if err != nil {
		return Credentials{}, Principal{}, err
	}
	if sess == nil {
		return Credentials{}, Principal{}, ErrInvalidToken
	}
	if err := m.store.Sessions(ctx).MarkRevoked(ctx, sess.ID); err != nil {
		return Credentials{}, Principal{}, err
	}
	creds, err := m.issueCredentials(ctx, principal, m.now().UTC())
	if err != nil {
		return Credentials{}, Principal{}, err
	}
	return creds, principal, nil
}

// ProfileUpdate names the fields a user may change on their own account.
// Role and status are deliberately absent; they move only through the
// RBACService under elevated permissions.
type ProfileUpdate struct {
	DisplayName *string
	Email       *string
}

// UpdateProfile applies self-service profile changes with email uniqueness
// re-checked by the store.
func (m *SessionManager) UpdateProfile(ctx context.Context, principal Principal, upd ProfileUpdate, meta RequestMeta) (*User, error) {
	if principal.User == nil {
		return nil, ErrUnauthorized
	}
	user, err := m.store.Users(ctx).Find(ctx, principal.User.ID)
	if err != nil {
		return nil, err
	}
	if upd.DisplayName != nil {
		name := strings.TrimSpace(*upd.DisplayName)
		if name == "" {
			return nil, fmt.Errorf("%w: display name is required", ErrInvalidInput)
		}
		user.DisplayName = name
	}
	if upd.Email != nil {
		email := normalizeEmail(*upd.Email)
		if !validEmail(email) {
			return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
		user.Email = email
	}
	user.UpdatedAt = m.now().UTC()
	if err := m.store.Users(ctx).Update(ctx, user); err != nil {
		return nil, err
	}
	m.appendAudit(ctx, &AuditRecord{
		ActorUserID:  user.ID,
		ActorEmail:   user.Email,
		Action:       "profile.update",
		ResourceType: "profile",
		ResourceID:   user.ID,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		Outcome:      OutcomeSuccess,
	})
	return user, nil
}

// AuthenticateToken validates an access token and resolves its principal.
func (m *SessionManager) AuthenticateToken(ctx context.Context, token string) (Principal, error) {
	claims, err := m.parseAccessToken(token)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	principal, err := m.Principal(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrInvalidToken
		}
		return Principal{}, err
	}
	if principal.User.Status != UserStatusActive {
		return Principal{}, ErrInvalidToken
	}
	return principal, nil
}

func (m *SessionManager) issueCredentials(ctx context.Context, principal Principal, now time.Time) (Credentials, error) {
	access, accessExp, err := m.signAccessToken(principal.User, principalRoleName(principal), now)
	if err != nil {
		return Credentials{}, err
	}
	token, sess, err := m.newSession(principal.User.ID, now)
	if err != nil {
		return Credentials{}, err
	}
	if err := m.store.Sessions(ctx).Create(ctx, sess); err != nil {
		return Credentials{}, err
	}
	return Credentials{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		SessionToken:     token,
		SessionExpiresAt: sess.ExpiresAt,
	}, nil
}

func (m *SessionManager) newSession(userID string, now time.Time) (string, *Session, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	id := ids.New()
	sum := sha256.Sum256([]byte(secret))
	sess := &Session{
		ID:        id,
		UserID:    userID,
		TokenHash: hex.EncodeToString(sum[:]),
		IssuedAt:  now,
		ExpiresAt: now.Add(m.sessionTTL),
	}
	return id + "." + secret, sess, nil
}

// appendAudit records an entry best-effort: a failed write is surfaced to
// monitoring but never blocks the triggering operation.
func (m *SessionManager) appendAudit(ctx context.Context, rec *AuditRecord) {
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = m.now().UTC()
	}
	sink := m.sink
	if sink == nil {
		sink = m.store.Audit(ctx)
	}
	if err := sink.Append(ctx, rec); err != nil {
		obs.CountAuditAppendFailure()
		obs.Error("audit append failed", err)
	}
}

func principalRoleName(p Principal) string {
	if p.Role != nil {
		return p.Role.Name
	}
	return ""
}

func mustForRole(ctx context.Context, store Store, roleID string) []Permission {
	perms, err := store.Permissions(ctx).ForRole(ctx, roleID)
	if err != nil {
		return nil
	}
	return perms
}

func splitSessionToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid session token format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func validEmail(email string) bool {
	return email != "" && strings.Contains(email, "@")
}
