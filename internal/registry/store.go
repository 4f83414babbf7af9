package registry

import "context"

// Filters mirrors storage.Filters without importing the storage package,
// keeping registry free of a dependency on its own backing store's
// implementation details. Store implementations adapt between the two.
type Filters struct {
	Namespace string
	Category  Category
	Status    Status
	TenantID  string
	Facets    map[string][]string
}

// Store is the subset of the storage backend the Registry Core depends on.
type Store interface {
	Save(ctx context.Context, entry *Entry) error
	Load(ctx context.Context, id string) (*Entry, error)
	Search(ctx context.Context, filters Filters) ([]*Entry, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context, filters Filters) (int, error)
	ExportJSON(ctx context.Context, path string) error
}
