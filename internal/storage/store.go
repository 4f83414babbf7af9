// Package storage implements the durable hybrid store backing the
// registry: a primary entry table plus a derived facet index, both kept
// consistent by a single write path per entry.
package storage

import (
	"context"

	"github.com/R3E-Network/universal-registry/internal/registry"
)

// Filters is an alias of registry.Filters so SQLiteStore satisfies
// registry.Store without the two packages needing to share an import
// cycle: registry defines the query grammar, storage implements it.
type Filters = registry.Filters

// Store is the Storage Backend contract (§4.B). Implementations must keep
// the facet index consistent with each entry's payload within the same
// transaction as the entry write.
type Store interface {
	Save(ctx context.Context, entry *registry.Entry) error
	Load(ctx context.Context, id string) (*registry.Entry, error)
	Search(ctx context.Context, filters Filters) ([]*registry.Entry, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context, filters Filters) (int, error)
	// ExportJSON writes a snapshot of every entry to path, atomically
	// (write-tmp, fsync, rename). Facet rows are not part of the snapshot.
	ExportJSON(ctx context.Context, path string) error
	Close() error
}
