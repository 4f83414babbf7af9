package propagation

import (
	"context"

	"github.com/R3E-Network/universal-registry/internal/registry"
)

// RegistryDeliverer delivers a propagation payload by merging it into the
// target entry's data and persisting the result, which in turn fans the
// change out over the subscription bus to anyone streaming that entry.
type RegistryDeliverer struct {
	reg *registry.Registry
}

// NewRegistryDeliverer builds a Deliverer that applies propagated payloads
// directly to target entries.
func NewRegistryDeliverer(reg *registry.Registry) *RegistryDeliverer {
	return &RegistryDeliverer{reg: reg}
}

// Deliver merges payload into targetID's Data map and updates the entry.
func (d *RegistryDeliverer) Deliver(ctx context.Context, targetID string, payload map[string]interface{}) error {
	target, err := d.reg.Get(ctx, targetID)
	if err != nil {
		return err
	}

	merged := make(map[string]interface{}, len(target.Data)+len(payload))
	for k, v := range target.Data {
		merged[k] = v
	}
	for k, v := range payload {
		merged[k] = v
	}

	updated := *target
	updated.Data = merged
	return d.reg.Update(ctx, &updated, registry.UpdateOptions{})
}
