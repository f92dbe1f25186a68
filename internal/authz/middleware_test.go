package authz

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebook/carebook/internal/shared"
)

type fakeRecorder struct {
	mu      sync.Mutex
	reasons []string
	allows  []bool
}

func (f *fakeRecorder) RecordDecision(reason string, allow bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
	f.allows = append(f.allows, allow)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func testGuard(store Store) Guard {
	return Guard{
		Resolver: testResolver(store, false),
		Logger:   slog.New(slog.DiscardHandler),
	}
}

func requestAs(principal *Principal, target string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	if principal != nil {
		r = r.WithContext(ContextWithPrincipal(r.Context(), *principal))
	}
	return r
}

func TestGuardMissingPrincipal(t *testing.T) {
	guard := testGuard(&fakeStore{})
	rec := httptest.NewRecorder()

	guard.RequirePermission(shared.PermUsersView)(okHandler()).ServeHTTP(rec, requestAs(nil, "/users"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGuardAllowsAndDenies(t *testing.T) {
	store := &fakeStore{}
	store.addRole(RoleReceptionist, shared.PermUsersView, GlobalScope)
	metrics := &fakeRecorder{}
	guard := testGuard(store)
	guard.Metrics = metrics
	recep := Principal{UserID: 3, Role: RoleReceptionist, Status: StatusActive}

	rec := httptest.NewRecorder()
	guard.RequirePermission(shared.PermUsersView)(okHandler()).ServeHTTP(rec, requestAs(&recep, "/users"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	guard.RequirePermission(shared.PermUsersManage)(okHandler()).ServeHTTP(rec, requestAs(&recep, "/users"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), shared.PermUsersManage)

	require.Len(t, metrics.reasons, 2)
	assert.Equal(t, string(ReasonRoleGrant), metrics.reasons[0])
	assert.True(t, metrics.allows[0])
	assert.False(t, metrics.allows[1])
}

func TestGuardAnyPermission(t *testing.T) {
	store := &fakeStore{}
	store.addRole(RoleReceptionist, shared.PermPermissionsView, GlobalScope)
	guard := testGuard(store)
	recep := Principal{UserID: 3, Role: RoleReceptionist, Status: StatusActive}

	rec := httptest.NewRecorder()
	guard.RequireAnyPermission(shared.PermPermissionsManage, shared.PermPermissionsView)(okHandler()).
		ServeHTTP(rec, requestAs(&recep, "/authz/permissions"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGuardStoreFailureIs500NeverAllow(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	guard := testGuard(store)
	doctor := Principal{UserID: 5, Role: RoleDoctor, Status: StatusActive}

	rec := httptest.NewRecorder()
	guard.RequirePermission(shared.PermAppointmentViewAll)(okHandler()).ServeHTTP(rec, requestAs(&doctor, "/appointments"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "authorization unavailable")
}

func TestGuardProductionHidesDetail(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	guard := testGuard(store)
	guard.Production = true
	doctor := Principal{UserID: 5, Role: RoleDoctor, Status: StatusActive}

	rec := httptest.NewRecorder()
	guard.RequirePermission(shared.PermAppointmentViewAll)(okHandler()).ServeHTTP(rec, requestAs(&doctor, "/appointments"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestGuardResourceExtractor(t *testing.T) {
	store := &fakeStore{}
	store.addRole(RoleDoctor, shared.PermDoctorManageAvailability, InstanceScope("doctor", 5))
	guard := testGuard(store)
	doctor := Principal{UserID: 99, Role: RoleDoctor, Status: StatusActive}

	router := chi.NewRouter()
	router.With(guard.RequireResource(shared.PermDoctorManageAvailability, PathID("id", "doctor"))).
		Get("/doctors/{id}/availability", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, requestAs(&doctor, "/doctors/5/availability"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, requestAs(&doctor, "/doctors/6/availability"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, requestAs(&doctor, "/doctors/abc/availability"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGuardOwnershipWidensOnly(t *testing.T) {
	store := &fakeStore{}
	guard := testGuard(store)
	doctor := Principal{UserID: 5, Role: RoleDoctor, Status: StatusActive}

	ownDoctor := func(_ context.Context, p Principal, scope Scope) (bool, error) {
		return p.Role == RoleDoctor && p.UserID == scope.ResourceID, nil
	}

	router := chi.NewRouter()
	router.With(guard.RequireResource(shared.PermDoctorManageProfile, PathID("id", "doctor"), WithOwnership(ownDoctor))).
		Get("/doctors/{id}", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

	// Ownership match allows with no binding anywhere.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, requestAs(&doctor, "/doctors/5"))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Ownership mismatch falls through to the resolver and denies.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, requestAs(&doctor, "/doctors/6"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGuardOwnershipWithOwnScope(t *testing.T) {
	store := &fakeStore{}
	store.addRole(RoleReceptionist, shared.PermManagersManage, GlobalScope)
	guard := testGuard(store)

	selfManager := func(_ context.Context, p Principal, scope Scope) (bool, error) {
		return p.Role == RoleResponsable && p.UserID == scope.ResourceID, nil
	}

	router := chi.NewRouter()
	router.With(guard.RequirePermission(shared.PermManagersManage,
		WithOwnershipAt(PathID("id", "manager"), selfManager))).
		Get("/managers/{id}/doctors", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

	// The permission stays a global check even though the route names an
	// instance, so a global role binding satisfies it.
	recep := Principal{UserID: 3, Role: RoleReceptionist, Status: StatusActive}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, requestAs(&recep, "/managers/42/doctors"))
	assert.Equal(t, http.StatusOK, rec.Code)

	// The ownership rule still sees the instance from the path.
	manager := Principal{UserID: 42, Role: RoleResponsable, Status: StatusActive}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, requestAs(&manager, "/managers/42/doctors"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, requestAs(&manager, "/managers/41/doctors"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// A malformed identifier is rejected before any lookup.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, requestAs(&manager, "/managers/abc/doctors"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGuardOwnershipSkippedForInactivePrincipal(t *testing.T) {
	guard := testGuard(&fakeStore{})
	suspended := Principal{UserID: 5, Role: RoleDoctor, Status: StatusSuspended}

	always := func(context.Context, Principal, Scope) (bool, error) { return true, nil }

	router := chi.NewRouter()
	router.With(guard.RequireResource(shared.PermDoctorManageProfile, PathID("id", "doctor"), WithOwnership(always))).
		Get("/doctors/{id}", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, requestAs(&suspended, "/doctors/5"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGuardFetchesBindingsOncePerRequest(t *testing.T) {
	store := &fakeStore{}
	store.addRole(RoleReceptionist, shared.PermUsersView, GlobalScope)
	store.addRole(RoleReceptionist, shared.PermPatientViewAll, GlobalScope)
	guard := testGuard(store)
	recep := Principal{UserID: 3, Role: RoleReceptionist, Status: StatusActive}

	router := chi.NewRouter()
	router.Use(guard.RequirePermission(shared.PermUsersView))
	router.Use(guard.RequirePermission(shared.PermPatientViewAll))
	router.Get("/patients", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, requestAs(&recep, "/patients"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, store.fetches)
}
