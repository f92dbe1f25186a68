package authz

import (
	"context"
	"sync"
	"time"
)

// fakeStore is an in-memory Store mirroring the SQL filters of PGStore:
// grants are filtered on active flags and expiry, denials only on the row's
// active flag.
type fakeStore struct {
	mu      sync.Mutex
	nextID  int64
	perms   []Permission
	role    []RolePermission
	users   []UserPermission
	err     error
	fetches int
}

var _ Store = (*fakeStore)(nil)

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) addRole(role, permission string, scope Scope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.role = append(f.role, RolePermission{
		ID:         f.id(),
		Role:       role,
		Permission: permission,
		Scope:      scope,
		CreatedAt:  time.Now(),
	})
}

func (f *fakeStore) addOverride(userID int64, permission string, granted bool, scope Scope, expiresAt *time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, UserPermission{
		ID:         f.id(),
		UserID:     userID,
		Permission: permission,
		IsGranted:  granted,
		Scope:      scope,
		ExpiresAt:  expiresAt,
		IsActive:   true,
		CreatedAt:  time.Now(),
	})
}

func (f *fakeStore) RolePermissions(_ context.Context, role string) ([]RolePermission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	var out []RolePermission
	for _, b := range f.role {
		if b.Role == role {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) UserGrants(_ context.Context, userID int64) ([]UserPermission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	now := time.Now()
	var out []UserPermission
	for _, up := range f.users {
		if up.UserID == userID && up.IsGranted && up.IsActive && !up.Expired(now) {
			out = append(out, up)
		}
	}
	return out, nil
}

func (f *fakeStore) UserDenials(_ context.Context, userID int64) ([]UserPermission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []UserPermission
	for _, up := range f.users {
		if up.UserID == userID && !up.IsGranted && up.IsActive {
			out = append(out, up)
		}
	}
	return out, nil
}

func (f *fakeStore) CreatePermission(_ context.Context, name, category, description string) (Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Permission{}, f.err
	}
	for _, p := range f.perms {
		if p.Name == name {
			return Permission{}, ErrDuplicateBinding
		}
	}
	perm := Permission{ID: f.id(), Name: name, Category: category, Description: description, IsActive: true, CreatedAt: time.Now()}
	f.perms = append(f.perms, perm)
	return perm, nil
}

func (f *fakeStore) ListPermissions(_ context.Context, category string) ([]Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []Permission
	for _, p := range f.perms {
		if category == "" || p.Category == category {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdatePermission(_ context.Context, id int64, category, description string) (Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.perms {
		if p.ID == id {
			f.perms[i].Category = category
			f.perms[i].Description = description
			return f.perms[i], nil
		}
	}
	return Permission{}, ErrBindingNotFound
}

func (f *fakeStore) SetPermissionActive(_ context.Context, id int64, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.perms {
		if p.ID == id {
			f.perms[i].IsActive = active
			return nil
		}
	}
	return ErrBindingNotFound
}

func (f *fakeStore) CreateRoleBinding(_ context.Context, role string, permissionID int64, scope Scope) (RolePermission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return RolePermission{}, f.err
	}
	for _, b := range f.role {
		if b.Role == role && b.PermissionID == permissionID && b.Scope == scope {
			return RolePermission{}, ErrDuplicateBinding
		}
	}
	name := ""
	for _, p := range f.perms {
		if p.ID == permissionID {
			name = p.Name
		}
	}
	binding := RolePermission{ID: f.id(), Role: role, PermissionID: permissionID, Permission: name, Scope: scope, CreatedAt: time.Now()}
	f.role = append(f.role, binding)
	return binding, nil
}

func (f *fakeStore) ListRoleBindings(ctx context.Context, role string) ([]RolePermission, error) {
	return f.RolePermissions(ctx, role)
}

func (f *fakeStore) DeleteRoleBinding(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, b := range f.role {
		if b.ID == id {
			f.role = append(f.role[:i], f.role[i+1:]...)
			return nil
		}
	}
	return ErrBindingNotFound
}

func (f *fakeStore) DeleteRoleBindings(_ context.Context, role string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []RolePermission
	var deleted int64
	for _, b := range f.role {
		if b.Role == role {
			deleted++
			continue
		}
		kept = append(kept, b)
	}
	f.role = kept
	return deleted, nil
}

func (f *fakeStore) CreateUserBinding(_ context.Context, binding UserPermission) (UserPermission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return UserPermission{}, f.err
	}
	binding.ID = f.id()
	binding.IsActive = true
	binding.CreatedAt = time.Now()
	for _, p := range f.perms {
		if p.ID == binding.PermissionID {
			binding.Permission = p.Name
			binding.Category = p.Category
		}
	}
	f.users = append(f.users, binding)
	return binding, nil
}

func (f *fakeStore) ListUserBindings(_ context.Context, userID int64) ([]UserPermission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []UserPermission
	for _, up := range f.users {
		if up.UserID == userID {
			out = append(out, up)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateUserBinding(_ context.Context, id int64, expiresAt *time.Time, reason string) (UserPermission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, up := range f.users {
		if up.ID == id {
			f.users[i].ExpiresAt = expiresAt
			f.users[i].Reason = reason
			return f.users[i], nil
		}
	}
	return UserPermission{}, ErrBindingNotFound
}

func (f *fakeStore) SetUserBindingActive(_ context.Context, id int64, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, up := range f.users {
		if up.ID == id {
			f.users[i].IsActive = active
			return nil
		}
	}
	return ErrBindingNotFound
}

func (f *fakeStore) DeleteUserBinding(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, up := range f.users {
		if up.ID == id {
			f.users = append(f.users[:i], f.users[i+1:]...)
			return nil
		}
	}
	return ErrBindingNotFound
}

func (f *fakeStore) DeleteUserBindings(_ context.Context, userID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []UserPermission
	var deleted int64
	for _, up := range f.users {
		if up.UserID == userID {
			deleted++
			continue
		}
		kept = append(kept, up)
	}
	f.users = kept
	return deleted, nil
}

func (f *fakeStore) SweepExpiredGrants(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	var kept []UserPermission
	var deleted int64
	for _, up := range f.users {
		if up.IsGranted && up.ExpiresAt != nil && up.ExpiresAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, up)
	}
	f.users = kept
	return deleted, nil
}
