package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebook/carebook/internal/authz"
	"github.com/carebook/carebook/internal/shared"
)

type fakeRepo struct {
	nextID      int64
	assignments []ManagerAssignment
}

func (f *fakeRepo) ManagesDoctor(_ context.Context, managerID, doctorID int64) (bool, error) {
	for _, a := range f.assignments {
		if a.ManagerID == managerID && a.DoctorID == doctorID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) Participants(context.Context, int64) (authz.Participants, error) {
	return authz.Participants{}, shared.ErrNotFound
}

func (f *fakeRepo) PatientSeenByDoctor(context.Context, int64, int64) (bool, error) {
	return false, nil
}

func (f *fakeRepo) OwnerPatient(context.Context, int64) (int64, error) {
	return 0, shared.ErrNotFound
}

func (f *fakeRepo) AssignManager(_ context.Context, managerID, doctorID int64) (ManagerAssignment, error) {
	for _, a := range f.assignments {
		if a.ManagerID == managerID && a.DoctorID == doctorID {
			return ManagerAssignment{}, ErrDuplicateAssignment
		}
	}
	f.nextID++
	a := ManagerAssignment{ID: f.nextID, ManagerID: managerID, DoctorID: doctorID, CreatedAt: time.Now()}
	f.assignments = append(f.assignments, a)
	return a, nil
}

func (f *fakeRepo) UnassignManager(_ context.Context, id int64) error {
	for i, a := range f.assignments {
		if a.ID == id {
			f.assignments = append(f.assignments[:i], f.assignments[i+1:]...)
			return nil
		}
	}
	return shared.ErrNotFound
}

func (f *fakeRepo) ListManagedDoctors(_ context.Context, managerID int64) ([]ManagerAssignment, error) {
	var out []ManagerAssignment
	for _, a := range f.assignments {
		if a.ManagerID == managerID {
			out = append(out, a)
		}
	}
	return out, nil
}

// stubStore answers only the binding reads the guard performs. Every other
// Store method is unused by these tests.
type stubStore struct {
	authz.Store
	role []authz.RolePermission
}

func (s *stubStore) RolePermissions(_ context.Context, role string) ([]authz.RolePermission, error) {
	var out []authz.RolePermission
	for _, b := range s.role {
		if b.Role == role {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *stubStore) UserGrants(context.Context, int64) ([]authz.UserPermission, error) {
	return nil, nil
}

func (s *stubStore) UserDenials(context.Context, int64) ([]authz.UserPermission, error) {
	return nil, nil
}

func newTestHandler(store *stubStore) (*Handler, *fakeRepo) {
	repo := &fakeRepo{}
	logger := slog.New(slog.DiscardHandler)
	service := NewService(repo, nil, logger)
	resolver := authz.NewResolver(authz.DefaultCatalog(), store, logger, false)
	guard := authz.Guard{Resolver: resolver, Logger: logger}
	ownership := authz.NewOwnershipChecker(repo, repo, repo)
	return NewHandler(logger, service, guard, ownership), repo
}

func asPrincipal(r *http.Request, p authz.Principal) *http.Request {
	return r.WithContext(authz.ContextWithPrincipal(r.Context(), p))
}

func TestAssignManager(t *testing.T) {
	h, repo := newTestHandler(&stubStore{})
	admin := authz.Principal{UserID: 1, Role: authz.RoleAdmin, Status: authz.StatusActive}

	body, _ := json.Marshal(assignRequest{ManagerID: 20, DoctorID: 5})
	r := asPrincipal(httptest.NewRequest(http.MethodPost, "/directory/managers", bytes.NewReader(body)), admin)
	rec := httptest.NewRecorder()
	h.assign(rec, r)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, repo.assignments, 1)

	// Second identical assignment conflicts.
	r = asPrincipal(httptest.NewRequest(http.MethodPost, "/directory/managers", bytes.NewReader(body)), admin)
	rec = httptest.NewRecorder()
	h.assign(rec, r)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAssignManagerValidation(t *testing.T) {
	h, _ := newTestHandler(&stubStore{})
	admin := authz.Principal{UserID: 1, Role: authz.RoleAdmin, Status: authz.StatusActive}

	body, _ := json.Marshal(assignRequest{ManagerID: 0, DoctorID: 5})
	r := asPrincipal(httptest.NewRequest(http.MethodPost, "/directory/managers", bytes.NewReader(body)), admin)
	rec := httptest.NewRecorder()
	h.assign(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestManagedDoctorsVisibility(t *testing.T) {
	store := &stubStore{}
	h, repo := newTestHandler(store)
	_, err := repo.AssignManager(context.Background(), 20, 5)
	require.NoError(t, err)

	router := chi.NewRouter()
	router.Route("/directory", h.MountRoutes)

	// The responsable sees their own list.
	responsable := authz.Principal{UserID: 20, Role: authz.RoleResponsable, Status: authz.StatusActive}
	r := asPrincipal(httptest.NewRequest(http.MethodGet, "/directory/managers/20/doctors", nil), responsable)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"doctorId":5`)

	// Another responsable's list is off limits.
	r = asPrincipal(httptest.NewRequest(http.MethodGet, "/directory/managers/21/doctors", nil), responsable)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), shared.PermManagersManage)

	// Admin sees everything.
	admin := authz.Principal{UserID: 1, Role: authz.RoleAdmin, Status: authz.StatusActive}
	r = asPrincipal(httptest.NewRequest(http.MethodGet, "/directory/managers/20/doctors", nil), admin)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Anonymous gets 401.
	r = httptest.NewRequest(http.MethodGet, "/directory/managers/20/doctors", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestManagedDoctorsHonorsRoleBindings(t *testing.T) {
	store := &stubStore{}
	h, repo := newTestHandler(store)
	_, err := repo.AssignManager(context.Background(), 99, 5)
	require.NoError(t, err)

	router := chi.NewRouter()
	router.Route("/directory", h.MountRoutes)

	recep := authz.Principal{UserID: 7, Role: authz.RoleReceptionist, Status: authz.StatusActive}

	// Without a binding the list stays closed.
	r := asPrincipal(httptest.NewRequest(http.MethodGet, "/directory/managers/99/doctors", nil), recep)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// A global manager:manage role binding opens any responsable's list,
	// exactly like the write routes guarded by the same permission.
	store.role = append(store.role, authz.RolePermission{
		Role:       authz.RoleReceptionist,
		Permission: shared.PermManagersManage,
		Scope:      authz.GlobalScope,
	})
	r = asPrincipal(httptest.NewRequest(http.MethodGet, "/directory/managers/99/doctors", nil), recep)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"doctorId":5`)
}

func TestUnassignManager(t *testing.T) {
	h, repo := newTestHandler(&stubStore{})
	_, err := repo.AssignManager(context.Background(), 20, 5)
	require.NoError(t, err)

	router := chi.NewRouter()
	router.Delete("/directory/managers/{id}", h.unassign)
	admin := authz.Principal{UserID: 1, Role: authz.RoleAdmin, Status: authz.StatusActive}

	r := asPrincipal(httptest.NewRequest(http.MethodDelete, "/directory/managers/1", nil), admin)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, repo.assignments)

	// Deleting again is a 404.
	r = asPrincipal(httptest.NewRequest(http.MethodDelete, "/directory/managers/1", nil), admin)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
