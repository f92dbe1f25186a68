package authz

import (
	"context"
	"time"
)

// Role names are a fixed small set; bindings key on the name directly rather
// than a roles table.
const (
	RoleAdmin        = "admin"
	RoleDoctor       = "doctor"
	RolePatient      = "patient"
	RoleResponsable  = "responsable"
	RoleReceptionist = "receptionist"
)

// Account statuses for a principal.
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
)

// Permission is an atomic capability identified by a namespaced
// "resource:action" name.
type Permission struct {
	ID          int64
	Name        string
	Category    string
	Description string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Scope narrows a permission check from global to type- or instance-level.
// The zero value means a global scope; ResourceID zero means not
// instance-scoped. Application resource IDs are always positive.
type Scope struct {
	ResourceType string
	ResourceID   int64
}

// GlobalScope is the unscoped request.
var GlobalScope = Scope{}

// TypeScope builds a type-level scope.
func TypeScope(resourceType string) Scope {
	return Scope{ResourceType: resourceType}
}

// InstanceScope builds an instance-level scope.
func InstanceScope(resourceType string, resourceID int64) Scope {
	return Scope{ResourceType: resourceType, ResourceID: resourceID}
}

// IsGlobal reports whether the scope covers all resources.
func (s Scope) IsGlobal() bool {
	return s.ResourceType == "" && s.ResourceID == 0
}

// IsInstance reports whether the scope names a single resource instance.
func (s Scope) IsInstance() bool {
	return s.ResourceType != "" && s.ResourceID != 0
}

// Matches reports whether a binding carrying scope s satisfies a request
// carrying scope req. Matching is exact-tier: a global binding does not
// satisfy a type- or instance-scoped request, and a type binding does not
// satisfy an instance request. No hierarchical fallback.
func (s Scope) Matches(req Scope) bool {
	switch {
	case req.ResourceType == "":
		return s.ResourceType == "" && s.ResourceID == 0
	case req.ResourceID == 0:
		return s.ResourceType == req.ResourceType && s.ResourceID == 0
	default:
		return s.ResourceType == req.ResourceType && s.ResourceID == req.ResourceID
	}
}

// RolePermission binds a permission to a role at a given scope. A role may
// hold the same permission at several scopes; each is an independent row.
// Role bindings are structural and never expire.
type RolePermission struct {
	ID           int64
	Role         string
	PermissionID int64
	Permission   string
	Scope        Scope
	CreatedAt    time.Time
}

// UserPermission is a per-user override: an explicit grant or an explicit
// denial, optionally scoped and optionally expiring. Denials take precedence
// over any role-derived grant for a matching scope.
type UserPermission struct {
	ID           int64
	UserID       int64
	PermissionID int64
	Permission   string
	Category     string
	IsGranted    bool
	Scope        Scope
	ExpiresAt    *time.Time
	GrantedBy    int64
	Reason       string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired reports whether the override expired before now. A nil ExpiresAt
// never expires.
func (up UserPermission) Expired(now time.Time) bool {
	return up.ExpiresAt != nil && up.ExpiresAt.Before(now)
}

// Principal describes the authenticated actor for a single request. It is
// runtime state, never persisted.
type Principal struct {
	UserID int64
	Role   string
	Status string
}

// IsActive reports whether the account may act at all. Checked before any
// permission resolution.
func (p Principal) IsActive() bool {
	return p.Status == StatusActive
}

// IsAdmin reports whether the principal bypasses permission checks.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Reason explains how a Decision was reached.
type Reason string

// Decision reasons in precedence order.
const (
	ReasonInactiveAccount Reason = "inactive_account"
	ReasonAdminBypass     Reason = "admin_bypass"
	ReasonSelfAccess      Reason = "self_access"
	ReasonExplicitDeny    Reason = "explicit_deny"
	ReasonRoleGrant       Reason = "role_grant"
	ReasonUserGrant       Reason = "user_grant"
	ReasonNoMatchingGrant Reason = "no_matching_grant"
	ReasonOwnership       Reason = "ownership"
	// ReasonUnknownPermission marks a deny caused by a permission name
	// absent from the catalog. Only produced in production mode; in
	// development an unknown name fails fast instead.
	ReasonUnknownPermission Reason = "unknown_permission"
)

// Decision is the outcome of a permission resolution.
type Decision struct {
	Allow  bool
	Reason Reason
}

type principalContextKey struct{}

// ContextWithPrincipal stores the resolved principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}
