// Package bridge implements the Integration Bridge (§4.J): reconciles
// externally-discovered services into registry entries and keeps the
// orchestrator's view and the registry's view of the world in sync.
package bridge

import (
	"context"
	"crypto/sha256"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/universal-registry/infrastructure/logging"
	"github.com/R3E-Network/universal-registry/infrastructure/metrics"
	"github.com/R3E-Network/universal-registry/internal/registry"
)

// DiscoveredService is one externally-discovered entity, reported by a
// discovery collaborator (environment scan, DNS, port scan, or similar).
type DiscoveredService struct {
	ID       string
	Name     string
	Type     string
	Endpoint string
	Metadata map[string]interface{}
}

// externalKey computes the stable identity a discovered service maps to
// registry entries through, independent of the orchestrator's own id scheme.
func externalKey(name, typ, endpoint string) string {
	sum := sha256.Sum256([]byte(name + typ + endpoint))
	return fmt.Sprintf("%x", sum)
}

// DefaultTTL is how long a previously-discovered service may go unseen
// before its mapped entry is marked INACTIVE.
const DefaultTTL = 600 * time.Second

// sweepInterval is how often the background reconciliation sweep checks for
// expired mappings.
const sweepInterval = 30 * time.Second

// mapping tracks one external_key's correspondence to a registry entry.
type mapping struct {
	entryID      string
	orchestrator string
	lastSeen     time.Time
}

// Bridge reconciles DiscoveredService batches into registry entries and
// retires entries that discovery has stopped reporting.
type Bridge struct {
	reg *registry.Registry
	ttl time.Duration

	mu       sync.Mutex
	mappings map[string]*mapping // external_key -> mapping

	log  *logging.Logger
	cron *cron.Cron
}

// New builds a Bridge bound to reg. ttl <= 0 uses DefaultTTL.
func New(reg *registry.Registry, ttl time.Duration) *Bridge {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Bridge{
		reg:      reg,
		ttl:      ttl,
		mappings: make(map[string]*mapping),
		log:      logging.NewFromEnv("integration-bridge"),
		cron:     cron.New(),
	}
}

// Start launches the background sweep that expires mappings discovery has
// stopped reporting.
func (b *Bridge) Start() {
	_, _ = b.cron.AddFunc("@every 30s", func() {
		b.expireStale(context.Background())
	})
	b.cron.Start()
}

// Stop halts the background sweep.
func (b *Bridge) Stop() {
	ctx := b.cron.Stop()
	<-ctx.Done()
}

// Reconcile folds one batch of discovered services into the registry:
// unseen services are registered, changed ones are updated, and every
// mapping's last-seen time is refreshed.
func (b *Bridge) Reconcile(ctx context.Context, discovered []DiscoveredService) error {
	now := time.Now()
	for _, svc := range discovered {
		key := externalKey(svc.Name, svc.Type, svc.Endpoint)

		b.mu.Lock()
		m, exists := b.mappings[key]
		b.mu.Unlock()

		if !exists {
			entry, err := b.register(ctx, key, svc)
			if err != nil {
				return fmt.Errorf("bridge: register %s: %w", svc.Name, err)
			}
			b.mu.Lock()
			b.mappings[key] = &mapping{entryID: entry.ID, orchestrator: svc.ID, lastSeen: now}
			b.mu.Unlock()
			b.recordOutcome("registered")
			continue
		}

		b.mu.Lock()
		m.lastSeen = now
		m.orchestrator = svc.ID
		b.mu.Unlock()

		if err := b.updateIfChanged(ctx, m.entryID, svc); err != nil {
			return fmt.Errorf("bridge: update %s: %w", svc.Name, err)
		}
	}

	b.expireStale(ctx)
	b.setSyncedGauge()
	return nil
}

func (b *Bridge) register(ctx context.Context, externalKey string, svc DiscoveredService) (*registry.Entry, error) {
	meta := map[string]interface{}{}
	for k, v := range svc.Metadata {
		meta[k] = v
	}
	meta["external_key"] = externalKey
	meta["orchestrator_id"] = svc.ID
	meta["endpoint"] = svc.Endpoint

	entry := &registry.Entry{
		ID:        "bridge-" + externalKey[:16],
		Namespace: "orchestrator",
		Name:      svc.Name,
		Version:   "1.0.0",
		Category:  registry.CategoryService,
		CreatedBy: "orchestrator",
		Status:    registry.StatusActive,
		Metadata:  meta,
		Tags:      []string{"discovered", svc.Type},
	}
	if err := b.reg.Register(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (b *Bridge) updateIfChanged(ctx context.Context, entryID string, svc DiscoveredService) error {
	existing, err := b.reg.Get(ctx, entryID)
	if err != nil {
		return err
	}

	meta := map[string]interface{}{}
	for k, v := range existing.Metadata {
		meta[k] = v
	}
	changed := meta["endpoint"] != svc.Endpoint
	for k, v := range svc.Metadata {
		if !reflect.DeepEqual(meta[k], v) {
			changed = true
		}
		meta[k] = v
	}
	meta["endpoint"] = svc.Endpoint
	meta["orchestrator_id"] = svc.ID

	if !changed {
		return nil
	}

	updated := *existing
	updated.Metadata = meta
	if updated.Status == registry.StatusInactive {
		updated.Status = registry.StatusActive
	}
	if err := b.reg.Update(ctx, &updated, registry.UpdateOptions{}); err != nil {
		return err
	}
	b.recordOutcome("updated")
	return nil
}

// expireStale transitions entries whose discovery mapping hasn't been
// refreshed within ttl to INACTIVE. Expired entries are not deleted; they
// keep their mapping so a later re-discovery resumes through it.
func (b *Bridge) expireStale(ctx context.Context) {
	cutoff := time.Now().Add(-b.ttl)

	b.mu.Lock()
	var stale []*mapping
	for _, m := range b.mappings {
		if m.lastSeen.Before(cutoff) {
			stale = append(stale, m)
		}
	}
	b.mu.Unlock()

	for _, m := range stale {
		entry, err := b.reg.Get(ctx, m.entryID)
		if err != nil || entry.Status == registry.StatusInactive {
			continue
		}
		inactive := *entry
		inactive.Status = registry.StatusInactive
		if err := b.reg.Update(ctx, &inactive, registry.UpdateOptions{}); err != nil {
			b.log.WithError(err).Warn("bridge: failed to mark stale entry inactive")
			continue
		}
		b.recordOutcome("expired")
	}
}

func (b *Bridge) recordOutcome(action string) {
	metrics.Global().RecordBridgeReconcile("integration-bridge", action)
}

func (b *Bridge) setSyncedGauge() {
	b.mu.Lock()
	count := len(b.mappings)
	b.mu.Unlock()
	metrics.Global().SetBridgeSyncedComponents(count)
}

// UnifiedStatus aggregates the bridge's, the orchestrator's, and the
// registry's view of the synced service population.
type UnifiedStatus struct {
	SyncedComponents     int                        `json:"bridge_synced_components"`
	ServicesDiscovered   int                        `json:"orchestrator_services_discovered"`
	RegistryTotalEntries int                        `json:"registry_total_entries"`
	RegistryCategories   map[registry.Category]int64 `json:"registry_categories"`
	Timestamp            time.Time                  `json:"timestamp"`
}

// GetUnifiedStatus returns the current cross-system snapshot.
func (b *Bridge) GetUnifiedStatus(ctx context.Context) (UnifiedStatus, error) {
	b.mu.Lock()
	synced := len(b.mappings)
	discovered := 0
	for _, m := range b.mappings {
		if time.Since(m.lastSeen) < b.ttl {
			discovered++
		}
	}
	b.mu.Unlock()

	total, err := b.reg.Count(ctx, registry.Filters{})
	if err != nil {
		return UnifiedStatus{}, err
	}

	categories := make(map[registry.Category]int64)
	stats := b.reg.Stats()
	stats.CopyByCategory(categories)

	return UnifiedStatus{
		SyncedComponents:     synced,
		ServicesDiscovered:   discovered,
		RegistryTotalEntries: total,
		RegistryCategories:   categories,
		Timestamp:            time.Now(),
	}, nil
}

// MappedEntryID returns the registry entry id a discovered service's
// orchestrator id currently maps to, if any.
func (b *Bridge) MappedEntryID(orchestratorID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.mappings {
		if m.orchestrator == orchestratorID {
			return m.entryID, true
		}
	}
	return "", false
}
