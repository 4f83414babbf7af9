package registry

import (
	"context"
	"sync"

	regerrors "github.com/R3E-Network/universal-registry/infrastructure/errors"
)

// memStore is a minimal in-memory Store used only by this package's tests;
// the real backend lives in internal/storage.
type memStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]*Entry)}
}

func (m *memStore) Save(_ context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		if id == entry.ID {
			continue
		}
		if e.Namespace == entry.Namespace && e.Name == entry.Name && e.Version == entry.Version {
			return regerrors.Conflict("duplicate namespace/name/version")
		}
	}
	cp := *entry
	m.entries[entry.ID] = &cp
	return nil
}

func (m *memStore) Load(_ context.Context, id string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, regerrors.NotFound("entry", id)
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) Search(_ context.Context, filters Filters) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Entry
	for _, e := range m.entries {
		if filters.Namespace != "" && e.Namespace != filters.Namespace {
			continue
		}
		if filters.Category != "" && e.Category != filters.Category {
			continue
		}
		if filters.Status != "" && e.Status != filters.Status {
			continue
		}
		if !matchFacets(e, filters.Facets) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func matchFacets(e *Entry, facets map[string][]string) bool {
	if len(facets) == 0 {
		return true
	}
	facetMap, _ := e.Config["facets"].(map[string]interface{})
	for key, wanted := range facets {
		raw, ok := facetMap[key]
		if !ok {
			return false
		}
		vals, ok := raw.([]interface{})
		if !ok {
			return false
		}
		found := false
		for _, v := range vals {
			for _, w := range wanted {
				if v == w {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return regerrors.NotFound("entry", id)
	}
	delete(m.entries, id)
	return nil
}

func (m *memStore) Count(ctx context.Context, filters Filters) (int, error) {
	results, err := m.Search(ctx, filters)
	return len(results), err
}

func (m *memStore) ExportJSON(_ context.Context, _ string) error {
	return nil
}
