package authz

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/carebook/carebook/internal/shared"
)

// Service orchestrates catalog, store, snapshot cache and auditing for the
// management surface and the snapshot endpoint.
type Service struct {
	catalog   *Catalog
	store     Store
	resolver  *Resolver
	snapshots *SnapshotCache
	audit     *shared.AuditLogger
	logger    *slog.Logger
}

// NewService constructs a Service.
func NewService(catalog *Catalog, store Store, resolver *Resolver, snapshots *SnapshotCache, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	return &Service{
		catalog:   catalog,
		store:     store,
		resolver:  resolver,
		snapshots: snapshots,
		audit:     audit,
		logger:    logger,
	}
}

// Check resolves a permission for a live principal.
func (s *Service) Check(ctx context.Context, principal Principal, permission string, scope Scope) (Decision, error) {
	return s.resolver.Resolve(ctx, principal, permission, scope)
}

// CheckUser resolves a permission for a stored user as if they issued the
// request themselves. Used by the admin check endpoint.
func (s *Service) CheckUser(ctx context.Context, userID int64, role, permission string, scope Scope) (Decision, error) {
	principal := Principal{UserID: userID, Role: role, Status: StatusActive}
	return s.resolver.Resolve(ctx, principal, permission, scope)
}

// RoleHasPermission answers the role-level check query: does the role hold
// the permission at the requested scope through its structural bindings.
func (s *Service) RoleHasPermission(ctx context.Context, role, permission string, scope Scope) (bool, error) {
	if !s.catalog.IsKnown(permission) {
		return false, ErrUnknownPermission
	}
	if role == RoleAdmin {
		return true, nil
	}
	bindings, err := s.store.RolePermissions(ctx, role)
	if err != nil {
		return false, err
	}
	for _, binding := range bindings {
		if binding.Permission == permission && binding.Scope.Matches(scope) {
			return true, nil
		}
	}
	return false, nil
}

// Snapshot returns the principal's resolved permission snapshot, serving
// from the Redis cache when fresh.
func (s *Service) Snapshot(ctx context.Context, principal Principal) (*Snapshot, error) {
	if snap, err := s.snapshots.Get(ctx, principal.UserID); err != nil {
		// Cache failure only costs a rebuild; it never fails the request.
		s.logger.Warn("authz snapshot cache read", slog.Any("error", err))
	} else if snap != nil {
		return snap, nil
	}

	resolved, err := s.resolver.Fetch(ctx, principal)
	if err != nil {
		return nil, err
	}
	snap := NewSnapshot(s.catalog, resolved)
	if err := s.snapshots.Set(ctx, principal.UserID, snap); err != nil {
		s.logger.Warn("authz snapshot cache write", slog.Any("error", err))
	}
	return snap, nil
}

// Catalog exposes the registry for listing endpoints.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// CreatePermission registers a new permission in the catalog and persists
// it.
func (s *Service) CreatePermission(ctx context.Context, actor Principal, name, category, description string) (Permission, error) {
	name = strings.TrimSpace(name)
	if !s.catalog.IsKnown(name) {
		if err := s.catalog.Register(name, category, description); err != nil {
			return Permission{}, err
		}
	}
	perm, err := s.store.CreatePermission(ctx, name, category, description)
	if err != nil {
		return Permission{}, err
	}
	s.auditChange(ctx, actor, "permission.create", "permission", perm.ID, map[string]any{"name": name})
	return perm, nil
}

// ListPermissions lists stored permissions, optionally by category.
func (s *Service) ListPermissions(ctx context.Context, category string) ([]Permission, error) {
	return s.store.ListPermissions(ctx, category)
}

// UpdatePermission updates permission metadata.
func (s *Service) UpdatePermission(ctx context.Context, actor Principal, id int64, category, description string) (Permission, error) {
	perm, err := s.store.UpdatePermission(ctx, id, category, description)
	if err != nil {
		return Permission{}, err
	}
	s.auditChange(ctx, actor, "permission.update", "permission", id, nil)
	return perm, nil
}

// SetPermissionActive soft-enables or soft-disables a permission.
func (s *Service) SetPermissionActive(ctx context.Context, actor Principal, id int64, active bool) error {
	if err := s.store.SetPermissionActive(ctx, id, active); err != nil {
		return err
	}
	s.auditChange(ctx, actor, "permission.set_active", "permission", id, map[string]any{"active": active})
	return nil
}

// CreateRoleBinding attaches a permission to a role at the given scope.
func (s *Service) CreateRoleBinding(ctx context.Context, actor Principal, role string, permissionID int64, scope Scope) (RolePermission, error) {
	binding, err := s.store.CreateRoleBinding(ctx, role, permissionID, scope)
	if err != nil {
		return RolePermission{}, err
	}
	s.auditChange(ctx, actor, "role_binding.create", "role_permission", binding.ID, map[string]any{"role": role})
	return binding, nil
}

// ListRoleBindings lists all bindings for a role.
func (s *Service) ListRoleBindings(ctx context.Context, role string) ([]RolePermission, error) {
	return s.store.ListRoleBindings(ctx, role)
}

// DeleteRoleBinding removes one role binding.
func (s *Service) DeleteRoleBinding(ctx context.Context, actor Principal, id int64) error {
	if err := s.store.DeleteRoleBinding(ctx, id); err != nil {
		return err
	}
	s.auditChange(ctx, actor, "role_binding.delete", "role_permission", id, nil)
	return nil
}

// DeleteRoleBindings removes every binding of a role.
func (s *Service) DeleteRoleBindings(ctx context.Context, actor Principal, role string) (int64, error) {
	deleted, err := s.store.DeleteRoleBindings(ctx, role)
	if err != nil {
		return 0, err
	}
	s.auditChange(ctx, actor, "role_binding.bulk_delete", "role", 0, map[string]any{"role": role, "deleted": deleted})
	return deleted, nil
}

// CreateUserBinding records a per-user grant or denial, stamped with the
// acting admin.
func (s *Service) CreateUserBinding(ctx context.Context, actor Principal, binding UserPermission) (UserPermission, error) {
	binding.GrantedBy = actor.UserID
	created, err := s.store.CreateUserBinding(ctx, binding)
	if err != nil {
		return UserPermission{}, err
	}
	s.invalidateSnapshot(ctx, binding.UserID)
	action := "user_binding.grant"
	if !binding.IsGranted {
		action = "user_binding.deny"
	}
	s.auditChange(ctx, actor, action, "user_permission", created.ID, map[string]any{"user_id": binding.UserID})
	return created, nil
}

// ListUserBindings lists every override row for a user.
func (s *Service) ListUserBindings(ctx context.Context, userID int64) ([]UserPermission, error) {
	return s.store.ListUserBindings(ctx, userID)
}

// UpdateUserBinding changes expiry or reason of an override.
func (s *Service) UpdateUserBinding(ctx context.Context, actor Principal, id int64, expiresAt *time.Time, reason string) (UserPermission, error) {
	updated, err := s.store.UpdateUserBinding(ctx, id, expiresAt, reason)
	if err != nil {
		return UserPermission{}, err
	}
	s.invalidateSnapshot(ctx, updated.UserID)
	s.auditChange(ctx, actor, "user_binding.update", "user_permission", id, nil)
	return updated, nil
}

// SetUserBindingActive toggles an override without deleting it.
func (s *Service) SetUserBindingActive(ctx context.Context, actor Principal, id, userID int64, active bool) error {
	if err := s.store.SetUserBindingActive(ctx, id, active); err != nil {
		return err
	}
	s.invalidateSnapshot(ctx, userID)
	s.auditChange(ctx, actor, "user_binding.set_active", "user_permission", id, map[string]any{"active": active})
	return nil
}

// DeleteUserBinding removes one override row.
func (s *Service) DeleteUserBinding(ctx context.Context, actor Principal, id, userID int64) error {
	if err := s.store.DeleteUserBinding(ctx, id); err != nil {
		return err
	}
	s.invalidateSnapshot(ctx, userID)
	s.auditChange(ctx, actor, "user_binding.delete", "user_permission", id, nil)
	return nil
}

// DeleteUserBindings removes every override row of a user.
func (s *Service) DeleteUserBindings(ctx context.Context, actor Principal, userID int64) (int64, error) {
	deleted, err := s.store.DeleteUserBindings(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.invalidateSnapshot(ctx, userID)
	s.auditChange(ctx, actor, "user_binding.bulk_delete", "user", userID, map[string]any{"deleted": deleted})
	return deleted, nil
}

func (s *Service) invalidateSnapshot(ctx context.Context, userID int64) {
	if err := s.snapshots.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("authz snapshot invalidate", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func (s *Service) auditChange(ctx context.Context, actor Principal, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("authz audit record", slog.String("action", action), slog.Any("error", err))
	}
}
