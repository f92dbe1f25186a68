package authz

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebook/carebook/internal/shared"
	_ "github.com/carebook/carebook/internal/testing/guard"
)

func testService(t *testing.T, store Store) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	catalog := DefaultCatalog()
	logger := slog.New(slog.DiscardHandler)
	resolver := NewResolver(catalog, store, logger, false)
	cache := NewSnapshotCache(client, time.Minute)
	return NewService(catalog, store, resolver, cache, nil, logger), mr
}

func TestServiceSnapshotCaching(t *testing.T) {
	store := &fakeStore{}
	store.addRole(RoleDoctor, shared.PermAppointmentViewAll, GlobalScope)
	svc, _ := testService(t, store)
	doctor := Principal{UserID: 5, Role: RoleDoctor, Status: StatusActive}

	snap, err := svc.Snapshot(context.Background(), doctor)
	require.NoError(t, err)
	require.Len(t, snap.All, 1)
	assert.Equal(t, 1, store.fetches)

	// Second read is served from Redis without touching the store.
	snap, err = svc.Snapshot(context.Background(), doctor)
	require.NoError(t, err)
	require.Len(t, snap.All, 1)
	assert.Equal(t, 1, store.fetches)
}

func TestServiceUserBindingWriteInvalidatesSnapshot(t *testing.T) {
	store := &fakeStore{}
	perm, err := store.CreatePermission(context.Background(), shared.PermDossierViewAll, CategoryDossiers, "")
	require.NoError(t, err)

	svc, _ := testService(t, store)
	admin := Principal{UserID: 1, Role: RoleAdmin, Status: StatusActive}
	doctor := Principal{UserID: 5, Role: RoleDoctor, Status: StatusActive}

	snap, err := svc.Snapshot(context.Background(), doctor)
	require.NoError(t, err)
	assert.Empty(t, snap.All)

	_, err = svc.CreateUserBinding(context.Background(), admin, UserPermission{
		UserID:       5,
		PermissionID: perm.ID,
		IsGranted:    true,
	})
	require.NoError(t, err)

	// The cached empty snapshot was dropped; the rebuild sees the grant.
	snap, err = svc.Snapshot(context.Background(), doctor)
	require.NoError(t, err)
	require.Len(t, snap.All, 1)
	assert.Equal(t, shared.PermDossierViewAll, snap.All[0].Name)
	assert.Equal(t, int64(1), snap.All[0].GrantedBy)
}

func TestServiceSnapshotSurvivesCacheOutage(t *testing.T) {
	store := &fakeStore{}
	store.addRole(RoleDoctor, shared.PermAppointmentViewAll, GlobalScope)
	svc, mr := testService(t, store)
	mr.Close()
	doctor := Principal{UserID: 5, Role: RoleDoctor, Status: StatusActive}

	snap, err := svc.Snapshot(context.Background(), doctor)
	require.NoError(t, err)
	assert.Len(t, snap.All, 1)
}

func TestServiceRoleHasPermission(t *testing.T) {
	store := &fakeStore{}
	store.addRole(RoleReceptionist, shared.PermAppointmentViewAll, GlobalScope)
	svc, _ := testService(t, store)
	ctx := context.Background()

	ok, err := svc.RoleHasPermission(ctx, RoleReceptionist, shared.PermAppointmentViewAll, GlobalScope)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.RoleHasPermission(ctx, RoleReceptionist, shared.PermDossierUpdate, GlobalScope)
	require.NoError(t, err)
	assert.False(t, ok)

	// Admin is structurally all-capable.
	ok, err = svc.RoleHasPermission(ctx, RoleAdmin, shared.PermDossierUpdate, GlobalScope)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.RoleHasPermission(ctx, RoleReceptionist, "totally:bogus", GlobalScope)
	assert.ErrorIs(t, err, ErrUnknownPermission)
}

func TestServiceCreatePermissionRegistersCatalog(t *testing.T) {
	store := &fakeStore{}
	svc, _ := testService(t, store)
	admin := Principal{UserID: 1, Role: RoleAdmin, Status: StatusActive}

	perm, err := svc.CreatePermission(context.Background(), admin, "report:export", CategoryPlatform, "Export reports")
	require.NoError(t, err)
	assert.NotZero(t, perm.ID)
	assert.True(t, svc.Catalog().IsKnown("report:export"))
}

func TestServiceCheckUser(t *testing.T) {
	store := &fakeStore{}
	store.addOverride(9, shared.PermDossierViewAll, true, GlobalScope, nil)
	svc, _ := testService(t, store)

	decision, err := svc.CheckUser(context.Background(), 9, RoleDoctor, shared.PermDossierViewAll, GlobalScope)
	require.NoError(t, err)
	assert.True(t, decision.Allow)
	assert.Equal(t, ReasonUserGrant, decision.Reason)
}
