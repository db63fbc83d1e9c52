package auth

import "time"

const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)

// Builtin role names seeded at startup. Admin is protected from deletion.
const (
	RoleAdmin   = "Admin"
	RoleManager = "Manager"
	RoleUser    = "User"
)

// Audit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeWarning = "warning"
)

// User is an account in the console directory. Each user holds exactly one
// role; permissions are always resolved through it.
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	RoleID      string     `json:"role_id"`
	Department  string     `json:"department,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`

	// PasswordHash never leaves the service boundary.
	PasswordHash string `json:"-"`
}

// Role groups permissions. The assigned-user count is always derived from the
// user store, never persisted on the role itself.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Protected   bool      `json:"protected"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleWithCount pairs a role with its live assigned-user count.
type RoleWithCount struct {
	Role
	UserCount int `json:"user_count"`
}

// Permission is a fine-grained capability from the closed catalog.
type Permission struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Session is a persisted binding between a validated identity and a client.
// Only a hash of the session secret is stored.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
}

// AuditRecord is an append-only log entry for a security-relevant action.
type AuditRecord struct {
	ID           string    `json:"id"`
	OccurredAt   time.Time `json:"occurred_at"`
	ActorUserID  string    `json:"actor_user_id,omitempty"`
	ActorEmail   string    `json:"actor_email,omitempty"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	Outcome      string    `json:"outcome"`
	Detail       string    `json:"detail,omitempty"`
}

// RequestMeta carries client attributes attached to audit records.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}
