package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable wraps data-access failures. Callers must treat it as
// fail-closed: a failed lookup is a DENY plus a 500, never an ALLOW.
var ErrStoreUnavailable = errors.New("authz: store unavailable")

// ErrDuplicateBinding indicates an identical binding row already exists.
var ErrDuplicateBinding = errors.New("authz: duplicate binding")

// ErrBindingNotFound indicates the referenced binding row does not exist.
var ErrBindingNotFound = errors.New("authz: binding not found")

// Store is the read/write port over the permission relations. The store
// trusts its caller; admin-only restrictions are enforced by the guard
// layer, not here.
type Store interface {
	// RolePermissions returns all bindings for a role whose referenced
	// permission is active.
	RolePermissions(ctx context.Context, role string) ([]RolePermission, error)
	// UserGrants returns active, non-expired grant overrides referencing
	// active permissions.
	UserGrants(ctx context.Context, userID int64) ([]UserPermission, error)
	// UserDenials returns active denial overrides. No expiry filter and no
	// permission-active join is applied; see the note in the
	// implementation.
	UserDenials(ctx context.Context, userID int64) ([]UserPermission, error)

	CreatePermission(ctx context.Context, name, category, description string) (Permission, error)
	ListPermissions(ctx context.Context, category string) ([]Permission, error)
	UpdatePermission(ctx context.Context, id int64, category, description string) (Permission, error)
	SetPermissionActive(ctx context.Context, id int64, active bool) error

	CreateRoleBinding(ctx context.Context, role string, permissionID int64, scope Scope) (RolePermission, error)
	ListRoleBindings(ctx context.Context, role string) ([]RolePermission, error)
	DeleteRoleBinding(ctx context.Context, id int64) error
	DeleteRoleBindings(ctx context.Context, role string) (int64, error)

	CreateUserBinding(ctx context.Context, binding UserPermission) (UserPermission, error)
	ListUserBindings(ctx context.Context, userID int64) ([]UserPermission, error)
	UpdateUserBinding(ctx context.Context, id int64, expiresAt *time.Time, reason string) (UserPermission, error)
	SetUserBindingActive(ctx context.Context, id int64, active bool) error
	DeleteUserBinding(ctx context.Context, id int64) error
	DeleteUserBindings(ctx context.Context, userID int64) (int64, error)

	// SweepExpiredGrants deletes grant rows whose expiry passed before the
	// cutoff. Denials are never swept.
	SweepExpiredGrants(ctx context.Context, cutoff time.Time) (int64, error)
}

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

var _ Store = (*PGStore)(nil)

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

// RolePermissions returns role bindings joined to active permissions.
func (s *PGStore) RolePermissions(ctx context.Context, role string) ([]RolePermission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT rp.id, rp.role, rp.permission_id, p.name, rp.resource_type, rp.resource_id, rp.created_at
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id AND p.is_active
		WHERE rp.role = $1
		ORDER BY rp.id`, role)
	if err != nil {
		return nil, storeErr("role permissions", err)
	}
	defer rows.Close()

	var bindings []RolePermission
	for rows.Next() {
		var (
			b       RolePermission
			resType pgtype.Text
			resID   pgtype.Int8
		)
		if err := rows.Scan(&b.ID, &b.Role, &b.PermissionID, &b.Permission, &resType, &resID, &b.CreatedAt); err != nil {
			return nil, storeErr("role permissions scan", err)
		}
		b.Scope = scopeFromNullable(resType, resID)
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("role permissions rows", err)
	}
	return bindings, nil
}

// UserGrants returns grant overrides that are active, reference an active
// permission and have not expired.
func (s *PGStore) UserGrants(ctx context.Context, userID int64) ([]UserPermission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT up.id, up.user_id, up.permission_id, p.name, p.category, up.is_granted,
		       up.resource_type, up.resource_id, up.expires_at, up.granted_by, up.reason,
		       up.is_active, up.created_at, up.updated_at
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id AND p.is_active
		WHERE up.user_id = $1
		  AND up.is_granted
		  AND up.is_active
		  AND (up.expires_at IS NULL OR up.expires_at > NOW())
		ORDER BY up.id`, userID)
	if err != nil {
		return nil, storeErr("user grants", err)
	}
	defer rows.Close()
	return scanUserPermissions(rows)
}

// UserDenials returns denial overrides for the user.
//
// NOTE: denials intentionally skip the expiry filter and the
// permission-active join that UserGrants applies. An expired grant stops
// granting, but a denial keeps denying past its expiry date. This asymmetry
// mirrors long-standing production behavior; do not "fix" it without a
// product decision, and keep the tests covering it in sync.
func (s *PGStore) UserDenials(ctx context.Context, userID int64) ([]UserPermission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT up.id, up.user_id, up.permission_id, p.name, p.category, up.is_granted,
		       up.resource_type, up.resource_id, up.expires_at, up.granted_by, up.reason,
		       up.is_active, up.created_at, up.updated_at
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1
		  AND NOT up.is_granted
		  AND up.is_active
		ORDER BY up.id`, userID)
	if err != nil {
		return nil, storeErr("user denials", err)
	}
	defer rows.Close()
	return scanUserPermissions(rows)
}

// CreatePermission inserts a catalog-backed permission row.
func (s *PGStore) CreatePermission(ctx context.Context, name, category, description string) (Permission, error) {
	var p Permission
	err := s.pool.QueryRow(ctx, `
		INSERT INTO permissions (name, category, description, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, NOW(), NOW())
		RETURNING id, name, category, description, is_active, created_at, updated_at`,
		name, category, description).
		Scan(&p.ID, &p.Name, &p.Category, &p.Description, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Permission{}, ErrDuplicateBinding
		}
		return Permission{}, storeErr("create permission", err)
	}
	return p, nil
}

// ListPermissions returns permissions, optionally filtered by category.
func (s *PGStore) ListPermissions(ctx context.Context, category string) ([]Permission, error) {
	query := `SELECT id, name, category, description, is_active, created_at, updated_at FROM permissions`
	args := []any{}
	if category != "" {
		query += ` WHERE category = $1`
		args = append(args, category)
	}
	query += ` ORDER BY category, name`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list permissions", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Description, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, storeErr("list permissions scan", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list permissions rows", err)
	}
	return perms, nil
}

// UpdatePermission updates mutable permission metadata. The name is
// immutable once created.
func (s *PGStore) UpdatePermission(ctx context.Context, id int64, category, description string) (Permission, error) {
	var p Permission
	err := s.pool.QueryRow(ctx, `
		UPDATE permissions SET category = $2, description = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING id, name, category, description, is_active, created_at, updated_at`,
		id, category, description).
		Scan(&p.ID, &p.Name, &p.Category, &p.Description, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, ErrBindingNotFound
		}
		return Permission{}, storeErr("update permission", err)
	}
	return p, nil
}

// SetPermissionActive soft-enables or soft-disables a permission. Referenced
// permissions are never hard-deleted.
func (s *PGStore) SetPermissionActive(ctx context.Context, id int64, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE permissions SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return storeErr("set permission active", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBindingNotFound
	}
	return nil
}

// CreateRoleBinding inserts a role binding row.
func (s *PGStore) CreateRoleBinding(ctx context.Context, role string, permissionID int64, scope Scope) (RolePermission, error) {
	resType, resID := scopeToNullable(scope)
	var (
		b       RolePermission
		outType pgtype.Text
		outID   pgtype.Int8
	)
	err := s.pool.QueryRow(ctx, `
		INSERT INTO role_permissions (role, permission_id, resource_type, resource_id, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, role, permission_id,
		          (SELECT name FROM permissions WHERE id = permission_id),
		          resource_type, resource_id, created_at`,
		role, permissionID, resType, resID).
		Scan(&b.ID, &b.Role, &b.PermissionID, &b.Permission, &outType, &outID, &b.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return RolePermission{}, ErrDuplicateBinding
		}
		return RolePermission{}, storeErr("create role binding", err)
	}
	b.Scope = scopeFromNullable(outType, outID)
	return b, nil
}

// ListRoleBindings returns every binding for a role, including bindings to
// deactivated permissions (admin listing).
func (s *PGStore) ListRoleBindings(ctx context.Context, role string) ([]RolePermission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT rp.id, rp.role, rp.permission_id, p.name, rp.resource_type, rp.resource_id, rp.created_at
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role = $1
		ORDER BY rp.id`, role)
	if err != nil {
		return nil, storeErr("list role bindings", err)
	}
	defer rows.Close()

	var bindings []RolePermission
	for rows.Next() {
		var (
			b       RolePermission
			resType pgtype.Text
			resID   pgtype.Int8
		)
		if err := rows.Scan(&b.ID, &b.Role, &b.PermissionID, &b.Permission, &resType, &resID, &b.CreatedAt); err != nil {
			return nil, storeErr("list role bindings scan", err)
		}
		b.Scope = scopeFromNullable(resType, resID)
		bindings = append(bindings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list role bindings rows", err)
	}
	return bindings, nil
}

// DeleteRoleBinding removes a single role binding.
func (s *PGStore) DeleteRoleBinding(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM role_permissions WHERE id = $1`, id)
	if err != nil {
		return storeErr("delete role binding", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBindingNotFound
	}
	return nil
}

// DeleteRoleBindings removes all bindings for a role.
func (s *PGStore) DeleteRoleBindings(ctx context.Context, role string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM role_permissions WHERE role = $1`, role)
	if err != nil {
		return 0, storeErr("delete role bindings", err)
	}
	return tag.RowsAffected(), nil
}

// CreateUserBinding inserts a user override row.
func (s *PGStore) CreateUserBinding(ctx context.Context, binding UserPermission) (UserPermission, error) {
	resType, resID := scopeToNullable(binding.Scope)
	expires := pgtype.Timestamptz{}
	if binding.ExpiresAt != nil {
		expires = pgtype.Timestamptz{Time: binding.ExpiresAt.UTC(), Valid: true}
	}
	grantedBy := pgtype.Int8{Int64: binding.GrantedBy, Valid: binding.GrantedBy != 0}
	reason := pgtype.Text{String: binding.Reason, Valid: binding.Reason != ""}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO user_permissions
			(user_id, permission_id, is_granted, resource_type, resource_id,
			 expires_at, granted_by, reason, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, NOW(), NOW())
		RETURNING id`,
		binding.UserID, binding.PermissionID, binding.IsGranted, resType, resID,
		expires, grantedBy, reason).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return UserPermission{}, ErrDuplicateBinding
		}
		return UserPermission{}, storeErr("create user binding", err)
	}
	return s.getUserBinding(ctx, id)
}

// ListUserBindings returns every override row for a user, expired and
// inactive rows included (admin listing).
func (s *PGStore) ListUserBindings(ctx context.Context, userID int64) ([]UserPermission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT up.id, up.user_id, up.permission_id, p.name, p.category, up.is_granted,
		       up.resource_type, up.resource_id, up.expires_at, up.granted_by, up.reason,
		       up.is_active, up.created_at, up.updated_at
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1
		ORDER BY up.id`, userID)
	if err != nil {
		return nil, storeErr("list user bindings", err)
	}
	defer rows.Close()
	return scanUserPermissions(rows)
}

// UpdateUserBinding updates expiry and reason on an override row.
func (s *PGStore) UpdateUserBinding(ctx context.Context, id int64, expiresAt *time.Time, reason string) (UserPermission, error) {
	expires := pgtype.Timestamptz{}
	if expiresAt != nil {
		expires = pgtype.Timestamptz{Time: expiresAt.UTC(), Valid: true}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE user_permissions SET expires_at = $2, reason = COALESCE(NULLIF($3, ''), reason), updated_at = NOW()
		WHERE id = $1`, id, expires, reason)
	if err != nil {
		return UserPermission{}, storeErr("update user binding", err)
	}
	if tag.RowsAffected() == 0 {
		return UserPermission{}, ErrBindingNotFound
	}
	return s.getUserBinding(ctx, id)
}

// SetUserBindingActive toggles an override row without deleting it.
func (s *PGStore) SetUserBindingActive(ctx context.Context, id int64, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE user_permissions SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return storeErr("set user binding active", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBindingNotFound
	}
	return nil
}

// DeleteUserBinding removes a single override row.
func (s *PGStore) DeleteUserBinding(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM user_permissions WHERE id = $1`, id)
	if err != nil {
		return storeErr("delete user binding", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBindingNotFound
	}
	return nil
}

// DeleteUserBindings removes all override rows for a user.
func (s *PGStore) DeleteUserBindings(ctx context.Context, userID int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, storeErr("delete user bindings", err)
	}
	return tag.RowsAffected(), nil
}

// SweepExpiredGrants deletes long-expired grant rows. Denial rows are left
// untouched on purpose; see UserDenials.
func (s *PGStore) SweepExpiredGrants(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM user_permissions
		WHERE is_granted AND expires_at IS NOT NULL AND expires_at < $1`, cutoff)
	if err != nil {
		return 0, storeErr("sweep expired grants", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PGStore) getUserBinding(ctx context.Context, id int64) (UserPermission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT up.id, up.user_id, up.permission_id, p.name, p.category, up.is_granted,
		       up.resource_type, up.resource_id, up.expires_at, up.granted_by, up.reason,
		       up.is_active, up.created_at, up.updated_at
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.id = $1`, id)
	if err != nil {
		return UserPermission{}, storeErr("get user binding", err)
	}
	defer rows.Close()
	bindings, err := scanUserPermissions(rows)
	if err != nil {
		return UserPermission{}, err
	}
	if len(bindings) == 0 {
		return UserPermission{}, ErrBindingNotFound
	}
	return bindings[0], nil
}

func scanUserPermissions(rows pgx.Rows) ([]UserPermission, error) {
	var bindings []UserPermission
	for rows.Next() {
		var (
			up        UserPermission
			resType   pgtype.Text
			resID     pgtype.Int8
			expires   pgtype.Timestamptz
			grantedBy pgtype.Int8
			reason    pgtype.Text
		)
		if err := rows.Scan(&up.ID, &up.UserID, &up.PermissionID, &up.Permission, &up.Category,
			&up.IsGranted, &resType, &resID, &expires, &grantedBy, &reason,
			&up.IsActive, &up.CreatedAt, &up.UpdatedAt); err != nil {
			return nil, storeErr("user permissions scan", err)
		}
		up.Scope = scopeFromNullable(resType, resID)
		if expires.Valid {
			t := expires.Time
			up.ExpiresAt = &t
		}
		up.GrantedBy = grantedBy.Int64
		up.Reason = reason.String
		bindings = append(bindings, up)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("user permissions rows", err)
	}
	return bindings, nil
}

func scopeFromNullable(resType pgtype.Text, resID pgtype.Int8) Scope {
	scope := Scope{}
	if resType.Valid {
		scope.ResourceType = resType.String
	}
	if resID.Valid {
		scope.ResourceID = resID.Int64
	}
	return scope
}

func scopeToNullable(scope Scope) (pgtype.Text, pgtype.Int8) {
	return pgtype.Text{String: scope.ResourceType, Valid: scope.ResourceType != ""},
		pgtype.Int8{Int64: scope.ResourceID, Valid: scope.ResourceID != 0}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
