package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	regerrors "github.com/R3E-Network/universal-registry/infrastructure/errors"
	"github.com/R3E-Network/universal-registry/internal/registry"
)

type fakeStore struct {
	mu      sync.Mutex
	entries map[string]*registry.Entry
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]*registry.Entry)}
}

func (s *fakeStore) Save(_ context.Context, entry *registry.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.entries[entry.ID] = &cp
	return nil
}

func (s *fakeStore) Load(_ context.Context, id string) (*registry.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, regerrors.NotFound("entry", id)
	}
	cp := *e
	return &cp, nil
}

func (s *fakeStore) Search(_ context.Context, _ registry.Filters) ([]*registry.Entry, error) {
	return nil, nil
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *fakeStore) Count(_ context.Context, _ registry.Filters) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func (s *fakeStore) ExportJSON(_ context.Context, _ string) error { return nil }

func TestReconcileRegistersNewService(t *testing.T) {
	reg := registry.NewRegistry(newFakeStore())
	b := New(reg, time.Minute)

	err := b.Reconcile(context.Background(), []DiscoveredService{{
		ID: "orch-1", Name: "payments-api", Type: "http", Endpoint: "10.0.0.1:8080",
		Metadata: map[string]interface{}{"region": "us-east"},
	}})
	require.NoError(t, err)

	entryID, ok := b.MappedEntryID("orch-1")
	require.True(t, ok)

	entry, err := reg.Get(context.Background(), entryID)
	require.NoError(t, err)
	require.Equal(t, registry.CategoryService, entry.Category)
	require.Equal(t, "orchestrator", entry.CreatedBy)
	require.Equal(t, "10.0.0.1:8080", entry.Metadata["endpoint"])
}

func TestReconcileUpdatesOnMetadataChange(t *testing.T) {
	reg := registry.NewRegistry(newFakeStore())
	b := New(reg, time.Minute)
	ctx := context.Background()

	svc := DiscoveredService{ID: "orch-2", Name: "queue-worker", Type: "grpc", Endpoint: "10.0.0.2:9090",
		Metadata: map[string]interface{}{"version": "1"}}
	require.NoError(t, b.Reconcile(ctx, []DiscoveredService{svc}))

	entryID, _ := b.MappedEntryID("orch-2")
	first, err := reg.Get(ctx, entryID)
	require.NoError(t, err)

	svc.Metadata["version"] = "2"
	require.NoError(t, b.Reconcile(ctx, []DiscoveredService{svc}))

	second, err := reg.Get(ctx, entryID)
	require.NoError(t, err)
	require.Equal(t, "2", second.Metadata["version"])
	require.True(t, second.UpdatedAt.After(first.UpdatedAt) || second.UpdatedAt.Equal(first.UpdatedAt))
}

func TestExpireStaleMarksEntryInactive(t *testing.T) {
	reg := registry.NewRegistry(newFakeStore())
	b := New(reg, 10*time.Millisecond)
	ctx := context.Background()

	svc := DiscoveredService{ID: "orch-3", Name: "cache-node", Type: "tcp", Endpoint: "10.0.0.3:6379"}
	require.NoError(t, b.Reconcile(ctx, []DiscoveredService{svc}))
	entryID, _ := b.MappedEntryID("orch-3")

	time.Sleep(20 * time.Millisecond)
	b.expireStale(ctx)

	got, err := reg.Get(ctx, entryID)
	require.NoError(t, err)
	require.Equal(t, registry.StatusInactive, got.Status)
}

func TestGetUnifiedStatusAggregatesCounts(t *testing.T) {
	reg := registry.NewRegistry(newFakeStore())
	b := New(reg, time.Minute)
	ctx := context.Background()

	require.NoError(t, b.Reconcile(ctx, []DiscoveredService{
		{ID: "orch-4", Name: "svc-a", Type: "http", Endpoint: "a:1"},
		{ID: "orch-5", Name: "svc-b", Type: "http", Endpoint: "b:1"},
	}))

	status, err := b.GetUnifiedStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, status.SyncedComponents)
	require.Equal(t, 2, status.ServicesDiscovered)
	require.Equal(t, 2, status.RegistryTotalEntries)
	require.Equal(t, int64(2), status.RegistryCategories[registry.CategoryService])
}

func TestExternalKeyStableAcrossCalls(t *testing.T) {
	a := externalKey("svc", "http", "host:1")
	b := externalKey("svc", "http", "host:1")
	require.Equal(t, a, b)

	c := externalKey("svc", "http", "host:2")
	require.NotEqual(t, a, c)
}
