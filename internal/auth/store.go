package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
// Implementations live in internal/store; the services here never reach the
// storage layer directly.
type Store interface {
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	Permissions(ctx context.Context) PermissionStore
	Sessions(ctx context.Context) SessionStore
	Audit(ctx context.Context) AuditStore
}

// UserStore manages the identity directory.
type UserStore interface {
	// Create fails with ErrDuplicateEmail when the email is taken.
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	// Update fails with ErrNotFound for unknown ids and ErrDuplicateEmail
	// when an email change collides with another account.
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id string) error
	// CountByRole derives the live assigned-user count for a role.
	CountByRole(ctx context.Context, roleID string) (int, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

// RoleStore manages role definitions.
type RoleStore interface {
	// Create fails with ErrDuplicateName when the name is taken.
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	Update(ctx context.Context, role *Role) error
	Delete(ctx context.Context, id string) error
}

// PermissionStore manages the permission catalog and role bindings.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	List(ctx context.Context) ([]Permission, error)
	SetForRole(ctx context.Context, roleID string, keys []string) error
	ForRole(ctx context.Context, roleID string) ([]Permission, error)
}

// SessionStore manages the session lifecycle.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	MarkRevoked(ctx context.Context, id string) error
	MarkRevokedByUser(ctx context.Context, userID string) error
}

// AuditFilter selects audit records; zero fields match everything and all set
// fields apply conjunctively.
type AuditFilter struct {
	Actor   string
	Action  string
	Outcome string
	From    time.Time
	To      time.Time
	Limit   int
}

// AuditStore appends immutable entries and reads them back newest first.
type AuditStore interface {
	Append(ctx context.Context, rec *AuditRecord) error
	Query(ctx context.Context, filter AuditFilter) ([]*AuditRecord, error)
}

// AuditSink receives audit records emitted by the services. Store.Audit
// satisfies it; wrappers may add fan-out or monitoring.
type AuditSink interface {
	Append(ctx context.Context, rec *AuditRecord) error
}
