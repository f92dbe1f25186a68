package authz

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/carebook/carebook/internal/platform/httpx"
)

// DecisionRecorder receives every guard decision for metrics.
type DecisionRecorder interface {
	RecordDecision(reason string, allow bool)
}

// ResourceExtractor derives the scope under check from the request. The
// resource instance is not always literally in the URL; extractors may
// resolve a parent entity first.
type ResourceExtractor func(r *http.Request) (Scope, error)

// PathID reads a numeric chi route parameter as an instance scope.
func PathID(param, resourceType string) ResourceExtractor {
	return func(r *http.Request) (Scope, error) {
		raw := chi.URLParam(r, param)
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return Scope{}, fmt.Errorf("invalid %s identifier", resourceType)
		}
		return InstanceScope(resourceType, id), nil
	}
}

// ParentID reads a numeric route parameter and resolves it through a parent
// lookup to the resource instance the permission check is actually about
// (e.g. a dossier entry ID resolved to the owning patient ID).
func ParentID(param, resourceType string, resolve func(ctx context.Context, id int64) (int64, error)) ResourceExtractor {
	return func(r *http.Request) (Scope, error) {
		raw := chi.URLParam(r, param)
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return Scope{}, fmt.Errorf("invalid %s identifier", resourceType)
		}
		resolved, err := resolve(r.Context(), id)
		if err != nil {
			return Scope{}, err
		}
		return InstanceScope(resourceType, resolved), nil
	}
}

// GuardOption tunes a resource-scoped guard.
type GuardOption func(*guardConfig)

type guardConfig struct {
	ownership        OwnershipCheck
	ownershipExtract ResourceExtractor
}

// WithOwnership layers a relationship rule before the generic resolver. The
// rule can only widen access, never narrow it.
func WithOwnership(check OwnershipCheck) GuardOption {
	return func(cfg *guardConfig) {
		cfg.ownership = check
	}
}

// WithOwnershipAt is WithOwnership with a dedicated extractor for the rule's
// scope. It serves routes whose permission is granted at a different tier
// than the resource in the URL, such as a globally granted manage permission
// guarding one instance's sub-collection.
func WithOwnershipAt(extract ResourceExtractor, check OwnershipCheck) GuardOption {
	return func(cfg *guardConfig) {
		cfg.ownership = check
		cfg.ownershipExtract = extract
	}
}

// Guard enforces permission checks at the request boundary. It must run
// strictly after the principal middleware; a missing principal fails closed
// with 401.
type Guard struct {
	Resolver   *Resolver
	Logger     *slog.Logger
	Metrics    DecisionRecorder
	Production bool
}

// RequirePermission allows the request only when the principal holds the
// permission at global scope. An ownership option can widen access for
// principals related to the resource without a binding.
func (g Guard) RequirePermission(name string, opts ...GuardOption) func(http.Handler) http.Handler {
	cfg := guardConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return g.middleware([]string{name}, nil, cfg)
}

// RequireAnyPermission allows the request when the principal holds at least
// one of the permissions at global scope.
func (g Guard) RequireAnyPermission(names ...string) func(http.Handler) http.Handler {
	return g.middleware(names, nil, guardConfig{})
}

// RequireResource allows the request when an ownership rule matches or the
// principal holds the permission at the extracted scope.
func (g Guard) RequireResource(name string, extract ResourceExtractor, opts ...GuardOption) func(http.Handler) http.Handler {
	cfg := guardConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return g.middleware([]string{name}, extract, cfg)
}

func (g Guard) middleware(names []string, extract ResourceExtractor, cfg guardConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.Message(w, http.StatusUnauthorized, "authentication required")
				return
			}

			scope := GlobalScope
			if extract != nil {
				var err error
				scope, err = extract(r)
				if err != nil {
					httpx.Message(w, http.StatusBadRequest, err.Error())
					return
				}
			}

			if cfg.ownership != nil && principal.IsActive() {
				ownScope := scope
				if cfg.ownershipExtract != nil {
					var err error
					ownScope, err = cfg.ownershipExtract(r)
					if err != nil {
						httpx.Message(w, http.StatusBadRequest, err.Error())
						return
					}
				}
				allowed, err := cfg.ownership(r.Context(), principal, ownScope)
				if err != nil {
					g.fail(w, "ownership lookup", err)
					return
				}
				if allowed {
					g.record(Decision{Allow: true, Reason: ReasonOwnership})
					next.ServeHTTP(w, r)
					return
				}
			}

			for _, name := range names {
				decision, updated, err := g.decide(r, principal, name, scope)
				if err != nil {
					g.fail(w, "permission resolution", err)
					return
				}
				r = updated
				if decision.Allow {
					g.record(decision)
					next.ServeHTTP(w, r)
					return
				}
			}

			// The internal reason (explicit deny vs no grant) is never
			// surfaced; callers only learn which permission was missing.
			g.record(Decision{Allow: false, Reason: ReasonNoMatchingGrant})
			httpx.Message(w, http.StatusForbidden,
				fmt.Sprintf("missing required permission: %s", strings.Join(names, " or ")))
		})
	}
}

// decide evaluates one permission, fetching the principal's bindings at most
// once per request and caching them on the request context.
func (g Guard) decide(r *http.Request, principal Principal, name string, scope Scope) (Decision, *http.Request, error) {
	decision, done, err := g.Resolver.preStoreDecision(principal, name, scope)
	if done || err != nil {
		return decision, r, err
	}

	ctx := r.Context()
	resolved, ok := resolvedFromContext(ctx)
	if !ok {
		var fetchErr error
		resolved, fetchErr = g.Resolver.Fetch(ctx, principal)
		if fetchErr != nil {
			return Decision{}, r, fetchErr
		}
		r = r.WithContext(contextWithResolved(ctx, resolved))
	}
	return evaluateBindings(name, scope, resolved, g.Resolver.now()), r, nil
}

// fail responds with 500 and never lets the request proceed: authorization
// infrastructure failure is a deny, not an allow.
func (g Guard) fail(w http.ResponseWriter, op string, err error) {
	if g.Logger != nil {
		g.Logger.Error("authz guard "+op, slog.Any("error", err))
	}
	detail := ""
	if !g.Production {
		detail = err.Error()
	}
	httpx.Failure(w, http.StatusInternalServerError, "authorization unavailable", detail)
}

func (g Guard) record(decision Decision) {
	if g.Metrics != nil {
		g.Metrics.RecordDecision(string(decision.Reason), decision.Allow)
	}
}

type resolvedContextKey struct{}

func contextWithResolved(ctx context.Context, resolved ResolvedPermissions) context.Context {
	return context.WithValue(ctx, resolvedContextKey{}, resolved)
}

func resolvedFromContext(ctx context.Context) (ResolvedPermissions, bool) {
	resolved, ok := ctx.Value(resolvedContextKey{}).(ResolvedPermissions)
	return resolved, ok
}
