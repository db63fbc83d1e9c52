// Package memory provides an in-process auth.Store used for development,
// demos and tests. All reads copy out so callers never alias internal state.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"opsboard.org/internal/auth"
	"opsboard.org/internal/ids"
)

// Store implements auth.Store with in-process concurrency safety.
type Store struct {
	mu sync.RWMutex

	users      map[string]*auth.User
	emailIndex map[string]string // email -> user id

	roles     map[string]*auth.Role
	nameIndex map[string]string // role name -> role id

	perms     map[string]*auth.Permission // key -> permission
	permOrder []string
	rolePerms map[string]map[string]struct{} // role id -> permission keys

	sessions map[string]*auth.Session

	audit []*auth.AuditRecord
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:      make(map[string]*auth.User),
		emailIndex: make(map[string]string),
		roles:      make(map[string]*auth.Role),
		nameIndex:  make(map[string]string),
		perms:      make(map[string]*auth.Permission),
		rolePerms:  make(map[string]map[string]struct{}),
		sessions:   make(map[string]*auth.Session),
	}
}

func (s *Store) Users(ctx context.Context) auth.UserStore             { return userView{s} }
func (s *Store) Roles(ctx context.Context) auth.RoleStore             { return roleView{s} }
func (s *Store) Permissions(ctx context.Context) auth.PermissionStore { return permView{s} }
func (s *Store) Sessions(ctx context.Context) auth.SessionStore       { return sessionView{s} }
func (s *Store) Audit(ctx context.Context) auth.AuditStore            { return auditView{s} }

type userView struct{ s *Store }

func (v userView) Create(ctx context.Context, u *auth.User) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, taken := v.s.emailIndex[u.Email]; taken {
		return auth.ErrDuplicateEmail
	}
	cp := cloneUser(u)
	v.s.users[cp.ID] = cp
	v.s.emailIndex[cp.Email] = cp.ID
	return nil
}

func (v userView) Find(ctx context.Context, id string) (*auth.User, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	u, ok := v.s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneUser(u), nil
}

func (v userView) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	id, ok := v.s.emailIndex[email]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneUser(v.s.users[id]), nil
}

func (v userView) List(ctx context.Context) ([]*auth.User, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make([]*auth.User, 0, len(v.s.users))
	for _, u := range v.s.users {
		out = append(out, cloneUser(u))
	}
	return out, nil
}

func (v userView) Update(ctx context.Context, u *auth.User) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	prev, ok := v.s.users[u.ID]
	if !ok {
		return auth.ErrNotFound
	}
	if u.Email != prev.Email {
		if owner, taken := v.s.emailIndex[u.Email]; taken && owner != u.ID {
			return auth.ErrDuplicateEmail
		}
		delete(v.s.emailIndex, prev.Email)
		v.s.emailIndex[u.Email] = u.ID
	}
	v.s.users[u.ID] = cloneUser(u)
	return nil
}

func (v userView) Delete(ctx context.Context, id string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	u, ok := v.s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	delete(v.s.emailIndex, u.Email)
	delete(v.s.users, id)
	return nil
}

func (v userView) CountByRole(ctx context.Context, roleID string) (int, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	count := 0
	for _, u := range v.s.users {
		if u.RoleID == roleID {
			count++
		}
	}
	return count, nil
}

func (v userView) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	u, ok := v.s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	t := at
	u.LastLoginAt = &t
	return nil
}

type roleView struct{ s *Store }

func (v roleView) Create(ctx context.Context, role *auth.Role) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, taken := v.s.nameIndex[role.Name]; taken {
		return auth.ErrDuplicateName
	}
	cp := *role
	v.s.roles[cp.ID] = &cp
	v.s.nameIndex[cp.Name] = cp.ID
	return nil
}

func (v roleView) Find(ctx context.Context, id string) (*auth.Role, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	role, ok := v.s.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *role
	return &cp, nil
}

func (v roleView) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	id, ok := v.s.nameIndex[name]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *v.s.roles[id]
	return &cp, nil
}

func (v roleView) List(ctx context.Context) ([]*auth.Role, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make([]*auth.Role, 0, len(v.s.roles))
	for _, role := range v.s.roles {
		cp := *role
		out = append(out, &cp)
	}
	return out, nil
}

func (v roleView) Update(ctx context.Context, role *auth.Role) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	prev, ok := v.s.roles[role.ID]
	if !ok {
		return auth.ErrNotFound
	}
	if role.Name != prev.Name {
		if owner, taken := v.s.nameIndex[role.Name]; taken && owner != role.ID {
			return auth.ErrDuplicateName
		}
		delete(v.s.nameIndex, prev.Name)
		v.s.nameIndex[role.Name] = role.ID
	}
	cp := *role
	v.s.roles[role.ID] = &cp
	return nil
}

func (v roleView) Delete(ctx context.Context, id string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	role, ok := v.s.roles[id]
	if !ok {
		return auth.ErrNotFound
	}
	delete(v.s.nameIndex, role.Name)
	delete(v.s.roles, id)
	delete(v.s.rolePerms, id)
	return nil
}

type permView struct{ s *Store }

func (v permView) Ensure(ctx context.Context, perms []auth.Permission) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, p := range perms {
		if _, ok := v.s.perms[p.Key]; ok {
			continue
		}
		cp := p
		v.s.perms[p.Key] = &cp
		v.s.permOrder = append(v.s.permOrder, p.Key)
	}
	return nil
}

func (v permView) List(ctx context.Context) ([]auth.Permission, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make([]auth.Permission, 0, len(v.s.permOrder))
	for _, key := range v.s.permOrder {
		out = append(out, *v.s.perms[key])
	}
	return out, nil
}

func (v permView) SetForRole(ctx context.Context, roleID string, keys []string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.roles[roleID]; !ok {
		return auth.ErrNotFound
	}
	set := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, known := v.s.perms[key]; known {
			set[key] = struct{}{}
		}
	}
	v.s.rolePerms[roleID] = set
	return nil
}

func (v permView) ForRole(ctx context.Context, roleID string) ([]auth.Permission, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	set := v.s.rolePerms[roleID]
	out := make([]auth.Permission, 0, len(set))
	for _, key := range v.s.permOrder {
		if _, ok := set[key]; ok {
			out = append(out, *v.s.perms[key])
		}
	}
	return out, nil
}

type sessionView struct{ s *Store }

func (v sessionView) Create(ctx context.Context, sess *auth.Session) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	cp := *sess
	v.s.sessions[cp.ID] = &cp
	return nil
}

func (v sessionView) Find(ctx context.Context, id string) (*auth.Session, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	sess, ok := v.s.sessions[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (v sessionView) MarkRevoked(ctx context.Context, id string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	sess, ok := v.s.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	sess.Revoked = true
	return nil
}

func (v sessionView) MarkRevokedByUser(ctx context.Context, userID string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, sess := range v.s.sessions {
		if sess.UserID == userID {
			sess.Revoked = true
		}
	}
	return nil
}

type auditView struct{ s *Store }

func (v auditView) Append(ctx context.Context, rec *auth.AuditRecord) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	cp := *rec
	if cp.ID == "" {
		cp.ID = ids.New()
	}
	if cp.OccurredAt.IsZero() {
		cp.OccurredAt = time.Now().UTC()
	}
	rec.ID = cp.ID
	rec.OccurredAt = cp.OccurredAt
	v.s.audit = append(v.s.audit, &cp)
	return nil
}

func (v auditView) Query(ctx context.Context, filter auth.AuditFilter) ([]*auth.AuditRecord, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make([]*auth.AuditRecord, 0, len(v.s.audit))
	for _, rec := range v.s.audit {
		if !matches(rec, filter) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	// Newest first, stable for equal timestamps.
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matches(rec *auth.AuditRecord, f auth.AuditFilter) bool {
	if f.Actor != "" && rec.ActorUserID != f.Actor && rec.ActorEmail != f.Actor {
		return false
	}
	if f.Action != "" && rec.Action != f.Action {
		return false
	}
	if f.Outcome != "" && rec.Outcome != f.Outcome {
		return false
	}
	if !f.From.IsZero() && rec.OccurredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && rec.OccurredAt.After(f.To) {
		return false
	}
	return true
}

func cloneUser(u *auth.User) *auth.User {
	cp := *u
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		cp.LastLoginAt = &t
	}
	return &cp
}
