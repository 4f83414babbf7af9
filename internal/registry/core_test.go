package registry

import (
	"context"
	"testing"
	"time"

	regerrors "github.com/R3E-Network/universal-registry/infrastructure/errors"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry(newMemStore())
}

func baseEntry(id, namespace, name, version string) *Entry {
	return &Entry{
		ID:        id,
		Namespace: namespace,
		Name:      name,
		Version:   version,
		Category:  CategoryPlugin,
		Status:    StatusRegistered,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestRegisterAndSearchByFacet(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	e1 := baseEntry("plugin-vision", "nx.plugins", "Vision", "1.0.0")
	e1.Config = map[string]interface{}{
		"facets": map[string]interface{}{
			"domain": []interface{}{"vision", "ml"},
			"stage":  []interface{}{"beta"},
		},
	}
	require.NoError(t, r.Register(ctx, e1))

	got, err := r.Get(ctx, "plugin-vision")
	require.NoError(t, err)
	require.Equal(t, "plugin-vision", got.ID)

	results, err := r.Search(ctx, Filters{Facets: map[string][]string{"domain": {"vision"}}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	results, err = r.Search(ctx, Filters{Facets: map[string][]string{"domain": {"audio"}}})
	require.NoError(t, err)
	require.Len(t, results, 0)

	results, err = r.Search(ctx, Filters{Namespace: "nx.plugins", Facets: map[string][]string{"domain": {"ml"}, "stage": {"beta"}}})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestRegisterDuplicateConflict(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	e1 := baseEntry("a1", "a", "b", "1.0.0")
	require.NoError(t, r.Register(ctx, e1))

	e2 := baseEntry("a2", "a", "b", "1.0.0")
	err := r.Register(ctx, e2)
	require.Error(t, err)
	require.Equal(t, regerrors.ErrCodeConflict, regerrors.GetServiceError(err).Code)

	_, err = r.Get(ctx, "a2")
	require.Error(t, err)
}

func TestDeleteWithDependent(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	e1 := baseEntry("e1", "ns", "one", "1.0.0")
	require.NoError(t, r.Register(ctx, e1))

	e2 := baseEntry("e2", "ns", "two", "1.0.0")
	e2.Dependencies = []string{"e1"}
	require.NoError(t, r.Register(ctx, e2))

	err := r.Delete(ctx, "e1", DeleteOptions{})
	require.Error(t, err)
	require.Equal(t, regerrors.ErrCodeDependentsExist, regerrors.GetServiceError(err).Code)

	require.NoError(t, r.Delete(ctx, "e1", DeleteOptions{Force: true}))

	got, err := r.Get(ctx, "e2")
	require.NoError(t, err)
	require.Equal(t, []string{"e1"}, got.Dependencies)
}

func TestResolveDependenciesCycle(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	a := baseEntry("A", "ns", "a", "1.0.0")
	b := baseEntry("B", "ns", "b", "1.0.0")
	c := baseEntry("C", "ns", "c", "1.0.0")
	a.Dependencies = []string{"B"}
	b.Dependencies = []string{"C"}
	c.Dependencies = []string{"A"}

	require.NoError(t, r.Register(ctx, a))
	require.NoError(t, r.Register(ctx, b))
	require.NoError(t, r.Register(ctx, c))

	_, err := r.ResolveDependencies(ctx, "A")
	require.Error(t, err)
	require.Equal(t, regerrors.ErrCodeCycleDetected, regerrors.GetServiceError(err).Code)
}

func TestGEFSOverallAndGrade(t *testing.T) {
	g := GEFS{Quality: 100, Reliability: 100, Performance: 100, Security: 100, Compatibility: 100, Documentation: 100}
	require.InDelta(t, 100.0, g.Overall(), 0.001)
	require.Equal(t, "A+", g.Grade())

	g2 := GEFS{Quality: 50, Reliability: 50, Performance: 50, Security: 50, Compatibility: 50, Documentation: 50}
	require.InDelta(t, 50.0, g2.Overall(), 0.001)
	require.Equal(t, "F", g2.Grade())
}

func TestConflictsRejectedAtValidation(t *testing.T) {
	e := baseEntry("x", "ns", "x", "1.0.0")
	e.Dependencies = []string{"y"}
	e.Conflicts = []string{"y"}
	issues := Validate(e)
	require.NotEmpty(t, issues)
}
