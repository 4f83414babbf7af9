package registry

import "time"

// FeatureFlag is a single flag contributed by a FeatureLayer.
type FeatureFlag struct {
	ID       string   `json:"id"`
	Category string   `json:"category"`
	Maturity string   `json:"maturity"` // alpha | beta | ga | deprecated
	Enabled  bool     `json:"enabled"`
	Weight   float64  `json:"weight"`
	Tags     []string `json:"tags,omitempty"`
}

// FeatureLayer is a composite classification that, when registered,
// produces a registry entry and contributes facet rows (§3).
type FeatureLayer struct {
	ID        string                   `json:"id"`
	Namespace string                   `json:"namespace"`
	Name      string                   `json:"name"`
	Version   string                   `json:"version"`
	Flags     []FeatureFlag            `json:"flags"`
	Facets    map[string][]string      `json:"facets"`
}

// ToEntry converts l into the registry entry it produces on registration.
func (l *FeatureLayer) ToEntry() *Entry {
	flagsData := make([]interface{}, 0, len(l.Flags))
	for _, f := range l.Flags {
		flagsData = append(flagsData, map[string]interface{}{
			"id": f.ID, "category": f.Category, "maturity": f.Maturity,
			"enabled": f.Enabled, "weight": f.Weight, "tags": f.Tags,
		})
	}
	facetValues := make(map[string]interface{}, len(l.Facets))
	for k, v := range l.Facets {
		vals := make([]interface{}, 0, len(v))
		for _, s := range v {
			vals = append(vals, s)
		}
		facetValues[k] = vals
	}
	return &Entry{
		ID:        l.ID,
		Namespace: l.Namespace,
		Name:      l.Name,
		Version:   l.Version,
		Category:  CategoryFeatureLayer,
		TenantID:  "default",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Status:    StatusRegistered,
		Config: map[string]interface{}{
			"flags":  flagsData,
			"facets": facetValues,
		},
	}
}
