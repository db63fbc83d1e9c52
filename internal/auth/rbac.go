package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"opsboard.org/internal/ids"
	"opsboard.org/internal/obs"
)

// RBACService administers users, roles and permission bindings. All mutations
// are audited with the acting principal attached.
type RBACService struct {
	store Store
	sink  AuditSink
	now   func() time.Time
}

// RBACOption configures RBACService behavior.
type RBACOption func(*RBACService)

// WithRBACClock overrides the time source (useful for tests).
func WithRBACClock(fn func() time.Time) RBACOption {
	return func(s *RBACService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithRBACAuditSink routes audit records through the provided sink.
func WithRBACAuditSink(sink AuditSink) RBACOption {
	return func(s *RBACService) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// NewRBACService constructs the administrative service.
func NewRBACService(store Store, opts ...RBACOption) (*RBACService, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	s := &RBACService{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnsureBuiltins seeds the permission catalog and the builtin roles. It is
// idempotent: existing roles keep their operator-managed permission sets and
// only freshly created roles receive the defaults.
func (s *RBACService) EnsureBuiltins(ctx context.Context) error {
	now := s.now().UTC()

	perms := make([]Permission, len(BuiltinPermissions))
	copy(perms, BuiltinPermissions)
	for i := range perms {
		if perms[i].ID == "" {
			perms[i].ID = ids.New()
		}
		if perms[i].CreatedAt.IsZero() {
			perms[i].CreatedAt = now
		}
	}
	if err := s.store.Permissions(ctx).Ensure(ctx, perms); err != nil {
		return fmt.Errorf("ensure permissions: %w", err)
	}

	for _, name := range []string{RoleAdmin, RoleManager, RoleUser} {
		_, err := s.store.Roles(ctx).FindByName(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("find role %s: %w", name, err)
		}
		role := &Role{
			ID:          ids.New(),
			Name:        name,
			Description: builtinRoleDescriptions[name],
			Protected:   name == RoleAdmin,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.store.Roles(ctx).Create(ctx, role); err != nil {
			if errors.Is(err, ErrDuplicateName) {
				continue
			}
			return fmt.Errorf("create role %s: %w", name, err)
		}
		if err := s.store.Permissions(ctx).SetForRole(ctx, role.ID, builtinRolePermissions[name]); err != nil {
			return fmt.Errorf("bind permissions for %s: %w", name, err)
		}
	}
	return nil
}

// NewUser carries the fields for administrative user creation.
type NewUser struct {
	Email       string
	DisplayName string
	Password    string
	RoleID      string
	Department  string
	Status      string
}

// CreateUser provisions an account on behalf of an administrator.
func (s *RBACService) CreateUser(ctx context.Context, actor Principal, in NewUser, meta RequestMeta) (*User, error) {
	email := normalizeEmail(in.Email)
	if !validEmail(email) {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	name := strings.TrimSpace(in.DisplayName)
	if name == "" {
		return nil, fmt.Errorf("%w: display name is required", ErrInvalidInput)
	}
	status := in.Status
	if status == "" {
		status = UserStatusActive
	}
	if status != UserStatusActive && status != UserStatusInactive {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, in.Status)
	}
	if _, err := s.store.Roles(ctx).Find(ctx, in.RoleID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: role does not exist", ErrInvalidInput)
		}
		return nil, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &User{
		ID:           ids.New(),
		Email:        email,
		DisplayName:  name,
		RoleID:       in.RoleID,
		Department:   strings.TrimSpace(in.Department),
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
		PasswordHash: hash,
	}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, err
	}
	s.audit(ctx, actor, "user.create", "user", user.ID, meta, OutcomeSuccess, "created "+user.Email)
	return user, nil
}

// UserUpdate names the administratively editable user fields. Nil pointers
// leave the field untouched.
type UserUpdate struct {
	Email       *string
	DisplayName *string
	RoleID      *string
	Department  *string
	Status      *string
}

// UpdateUser applies an administrative edit.
func (s *RBACService) UpdateUser(ctx context.Context, actor Principal, id string, upd UserUpdate, meta RequestMeta) (*User, error) {
	user, err := s.store.Users(ctx).Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Email != nil {
		email := normalizeEmail(*upd.Email)
		if !validEmail(email) {
			return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
		user.Email = email
	}
	if upd.DisplayName != nil {
		name := strings.TrimSpace(*upd.DisplayName)
		if name == "" {
			return nil, fmt.Errorf("%w: display name is required", ErrInvalidInput)
		}
		user.DisplayName = name
	}
	if upd.RoleID != nil {
		if _, err := s.store.Roles(ctx).Find(ctx, *upd.RoleID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: role does not exist", ErrInvalidInput)
			}
			return nil, err
		}
		user.RoleID = *upd.RoleID
	}
	if upd.Department != nil {
		user.Department = strings.TrimSpace(*upd.Department)
	}
	if upd.Status != nil {
		if *upd.Status != UserStatusActive && *upd.Status != UserStatusInactive {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *upd.Status)
		}
		user.Status = *upd.Status
	}
	user.UpdatedAt = s.now().UTC()
	if err := s.store.Users(ctx).Update(ctx, user); err != nil {
		return nil, err
	}
	s.audit(ctx, actor, "user.update", "user", user.ID, meta, OutcomeSuccess, "updated "+user.Email)
	return user, nil
}

// DeleteUser removes an account and revokes its sessions. Administrators may
// not delete their own account.
func (s *RBACService) DeleteUser(ctx context.Context, actor Principal, id string, meta RequestMeta) error {
	if actor.User != nil && actor.User.ID == id {
		return fmt.Errorf("%w: cannot delete own account", ErrInvalidInput)
	}
	user, err := s.store.Users(ctx).Find(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Users(ctx).Delete(ctx, id); err != nil {
		return err
	}
	if err := s.store.Sessions(ctx).MarkRevokedByUser(ctx, id); err != nil {
		obs.Error("revoke sessions of deleted user", err)
	}
	s.audit(ctx, actor, "user.delete", "user", id, meta, OutcomeWarning, "deleted "+user.Email)
	return nil
}

// AssignRole moves a user onto a different role.
func (s *RBACService) AssignRole(ctx context.Context, actor Principal, userID, roleID string, meta RequestMeta) (*User, error) {
	role, err := s.store.Roles(ctx).Find(ctx, roleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: role does not exist", ErrInvalidInput)
		}
		return nil, err
	}
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.RoleID = role.ID
	user.UpdatedAt = s.now().UTC()
	if err := s.store.Users(ctx).Update(ctx, user); err != nil {
		return nil, err
	}
	s.audit(ctx, actor, "user.assign_role", "user", user.ID, meta, OutcomeSuccess, "assigned role "+role.Name)
	return user, nil
}

// GetUser loads a single user.
func (s *RBACService) GetUser(ctx context.Context, id string) (*User, error) {
	return s.store.Users(ctx).Find(ctx, id)
}

// ListUsers returns the directory sorted by display name.
func (s *RBACService) ListUsers(ctx context.Context) ([]*User, error) {
	users, err := s.store.Users(ctx).List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool { return users[i].DisplayName < users[j].DisplayName })
	return users, nil
}

// NewRole carries the fields for role creation.
type NewRole struct {
	Name        string
	Description string
	Permissions []string
}

// CreateRole defines a new role with an optional initial permission set.
func (s *RBACService) CreateRole(ctx context.Context, actor Principal, in NewRole, meta RequestMeta) (*Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	for _, key := range in.Permissions {
		if !KnownPermission(key) {
			return nil, fmt.Errorf("%w: unknown permission %q", ErrInvalidInput, key)
		}
	}
	now := s.now().UTC()
	role := &Role{
		ID:          ids.New(),
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Roles(ctx).Create(ctx, role); err != nil {
		return nil, err
	}
	if len(in.Permissions) > 0 {
		if err := s.store.Permissions(ctx).SetForRole(ctx, role.ID, in.Permissions); err != nil {
			return nil, err
		}
	}
	s.audit(ctx, actor, "role.create", "role", role.ID, meta, OutcomeSuccess, "created "+role.Name)
	return role, nil
}

// RoleUpdate names the editable role fields.
type RoleUpdate struct {
	Name        *string
	Description *string
}

// UpdateRole renames or re-describes a role. Protected roles keep their name.
func (s *RBACService) UpdateRole(ctx context.Context, actor Principal, id string, upd RoleUpdate, meta RequestMeta) (*Role, error) {
	role, err := s.store.Roles(ctx).Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		if role.Protected && name != role.Name {
			return nil, fmt.Errorf("%w: %s cannot be renamed", ErrRoleProtected, role.Name)
		}
		role.Name = name
	}
	if upd.Description != nil {
		role.Description = strings.TrimSpace(*upd.Description)
	}
	role.UpdatedAt = s.now().UTC()
	if err := s.store.Roles(ctx).Update(ctx, role); err != nil {
		return nil, err
	}
	s.audit(ctx, actor, "role.update", "role", role.ID, meta, OutcomeSuccess, "updated "+role.Name)
	return role, nil
}

// DeleteRole removes a role. Protected roles and roles with assigned users
// are refused.
func (s *RBACService) DeleteRole(ctx context.Context, actor Principal, id string, meta RequestMeta) error {
	role, err := s.store.Roles(ctx).Find(ctx, id)
	if err != nil {
		return err
	}
	if role.Protected {
		return fmt.Errorf("%w: %s", ErrRoleProtected, role.Name)
	}
	count, err := s.store.Users(ctx).CountByRole(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %d users assigned", ErrRoleInUse, count)
	}
	if err := s.store.Roles(ctx).Delete(ctx, id); err != nil {
		return err
	}
	s.audit(ctx, actor, "role.delete", "role", id, meta, OutcomeWarning, "deleted "+role.Name)
	return nil
}

// SetRolePermissions replaces a role's permission set. Every key must belong
// to the catalog; the protected Admin role keeps its full set.
func (s *RBACService) SetRolePermissions(ctx context.Context, actor Principal, roleID string, keys []string, meta RequestMeta) error {
	role, err := s.store.Roles(ctx).Find(ctx, roleID)
	if err != nil {
		return err
	}
	if role.Protected {
		return fmt.Errorf("%w: permissions of %s cannot change", ErrRoleProtected, role.Name)
	}
	seen := make(map[string]struct{}, len(keys))
	deduped := keys[:0:0]
	for _, key := range keys {
		if !KnownPermission(key) {
			return fmt.Errorf("%w: unknown permission %q", ErrInvalidInput, key)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, key)
	}
	if err := s.store.Permissions(ctx).SetForRole(ctx, roleID, deduped); err != nil {
		return err
	}
	s.audit(ctx, actor, "role.permissions.update", "role", roleID, meta, OutcomeSuccess,
		fmt.Sprintf("set %d permissions on %s", len(deduped), role.Name))
	return nil
}

// GetRole loads a role with its live assigned-user count and permission keys.
func (s *RBACService) GetRole(ctx context.Context, id string) (*RoleWithCount, []Permission, error) {
	role, err := s.store.Roles(ctx).Find(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	count, err := s.store.Users(ctx).CountByRole(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	perms, err := s.store.Permissions(ctx).ForRole(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return &RoleWithCount{Role: *role, UserCount: count}, perms, nil
}

// ListRoles returns every role with derived user counts, sorted by name.
func (s *RBACService) ListRoles(ctx context.Context) ([]*RoleWithCount, error) {
	roles, err := s.store.Roles(ctx).List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*RoleWithCount, 0, len(roles))
	for _, role := range roles {
		count, err := s.store.Users(ctx).CountByRole(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, &RoleWithCount{Role: *role, UserCount: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AssignedCount derives the number of users holding a role.
func (s *RBACService) AssignedCount(ctx context.Context, roleID string) (int, error) {
	return s.store.Users(ctx).CountByRole(ctx, roleID)
}

// ListPermissions returns the full catalog.
func (s *RBACService) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.Permissions(ctx).List(ctx)
}

// RolePermissions returns the keys bound to a role.
func (s *RBACService) RolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	return s.store.Permissions(ctx).ForRole(ctx, roleID)
}

func (s *RBACService) audit(ctx context.Context, actor Principal, action, resourceType, resourceID string, meta RequestMeta, outcome, detail string) {
	rec := &AuditRecord{
		OccurredAt:   s.now().UTC(),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		Outcome:      outcome,
		Detail:       detail,
	}
	if actor.User != nil {
		rec.ActorUserID = actor.User.ID
		rec.ActorEmail = actor.User.Email
	}
	sink := s.sink
	if sink == nil {
		sink = s.store.Audit(ctx)
	}
	if err := sink.Append(ctx, rec); err != nil {
		obs.CountAuditAppendFailure()
		obs.Error("audit append failed", err)
	}
}
