package authz

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// ResolvedPermissions holds every binding relevant to one principal. The
// guard layer caches it per request so repeated checks within a single
// request hit the store once.
type ResolvedPermissions struct {
	Role    []RolePermission
	Grants  []UserPermission
	Denials []UserPermission
}

// Resolver decides ALLOW/DENY for (principal, permission, scope) requests.
// It is a pure function of its inputs besides the store reads: resolving the
// same request twice without an intervening mutation yields the same
// Decision.
type Resolver struct {
	catalog    *Catalog
	store      Store
	logger     *slog.Logger
	production bool
	now        func() time.Time
}

// NewResolver constructs a Resolver. In production mode unknown permission
// names deny instead of failing the request pipeline.
func NewResolver(catalog *Catalog, store Store, logger *slog.Logger, production bool) *Resolver {
	return &Resolver{
		catalog:    catalog,
		store:      store,
		logger:     logger,
		production: production,
		now:        time.Now,
	}
}

// Resolve runs the full precedence chain:
//
//  1. inactive principal        -> DENY  (InactiveAccount)
//  2. admin role                -> ALLOW (AdminBypass), scope-blind
//  3. self-scoped shortcut      -> ALLOW (SelfAccess), no store read
//  4. role binding, exact tier  -> tentative ALLOW
//  5. matching denial           -> DENY  (ExplicitDeny), beats step 4
//  6. step 4 held, no denial    -> ALLOW (RoleGrant)
//  7. non-expired user grant    -> ALLOW (UserGrant)
//  8. otherwise                 -> DENY  (NoMatchingGrant)
//
// A store failure returns an error and must be treated as fail-closed by the
// caller. A normal deny never returns an error.
func (r *Resolver) Resolve(ctx context.Context, principal Principal, permission string, scope Scope) (Decision, error) {
	if decision, done, err := r.preStoreDecision(principal, permission, scope); done || err != nil {
		return decision, err
	}
	resolved, err := r.Fetch(ctx, principal)
	if err != nil {
		return Decision{}, err
	}
	return evaluateBindings(permission, scope, resolved, r.now()), nil
}

// Evaluate applies the identical precedence chain against prefetched
// bindings. Cached bindings may outlive a grant's expiry, so grant expiry is
// re-checked against the current clock here.
func (r *Resolver) Evaluate(principal Principal, permission string, scope Scope, resolved ResolvedPermissions) (Decision, error) {
	if decision, done, err := r.preStoreDecision(principal, permission, scope); done || err != nil {
		return decision, err
	}
	return evaluateBindings(permission, scope, resolved, r.now()), nil
}

// Fetch loads the principal's bindings. The three reads are independent and
// issued concurrently; precedence is applied only after all complete, so the
// fetch order never changes the decision.
func (r *Resolver) Fetch(ctx context.Context, principal Principal) (ResolvedPermissions, error) {
	var resolved ResolvedPermissions
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		bindings, err := r.store.RolePermissions(ctx, principal.Role)
		resolved.Role = bindings
		return err
	})
	g.Go(func() error {
		grants, err := r.store.UserGrants(ctx, principal.UserID)
		resolved.Grants = grants
		return err
	})
	g.Go(func() error {
		denials, err := r.store.UserDenials(ctx, principal.UserID)
		resolved.Denials = denials
		return err
	})
	if err := g.Wait(); err != nil {
		return ResolvedPermissions{}, err
	}
	return resolved, nil
}

// preStoreDecision covers the steps that never touch the store. The second
// return value reports whether the decision is final.
func (r *Resolver) preStoreDecision(principal Principal, permission string, scope Scope) (Decision, bool, error) {
	if !r.catalog.IsKnown(permission) {
		if r.production {
			if r.logger != nil {
				r.logger.Error("authz: unknown permission requested", slog.String("permission", permission))
			}
			return Decision{Allow: false, Reason: ReasonUnknownPermission}, true, nil
		}
		return Decision{}, true, ErrUnknownPermission
	}
	if !principal.IsActive() {
		return Decision{Allow: false, Reason: ReasonInactiveAccount}, true, nil
	}
	if principal.IsAdmin() {
		return Decision{Allow: true, Reason: ReasonAdminBypass}, true, nil
	}
	// Self-access is structurally guaranteed and must not depend on a
	// binding row existing.
	if r.catalog.IsSelfScoped(permission) && scope.ResourceID != 0 && scope.ResourceID == principal.UserID {
		return Decision{Allow: true, Reason: ReasonSelfAccess}, true, nil
	}
	return Decision{}, false, nil
}

func evaluateBindings(permission string, scope Scope, resolved ResolvedPermissions, now time.Time) Decision {
	roleMatch := false
	for _, binding := range resolved.Role {
		if binding.Permission == permission && binding.Scope.Matches(scope) {
			roleMatch = true
			break
		}
	}

	// Explicit deny beats any grant, role- or user-derived.
	for _, denial := range resolved.Denials {
		if denial.Permission == permission && denial.Scope.Matches(scope) {
			return Decision{Allow: false, Reason: ReasonExplicitDeny}
		}
	}

	if roleMatch {
		return Decision{Allow: true, Reason: ReasonRoleGrant}
	}

	for _, grant := range resolved.Grants {
		if grant.Permission == permission && grant.Scope.Matches(scope) && !grant.Expired(now) {
			return Decision{Allow: true, Reason: ReasonUserGrant}
		}
	}

	return Decision{Allow: false, Reason: ReasonNoMatchingGrant}
}
