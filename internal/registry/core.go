package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/R3E-Network/universal-registry/infrastructure/cache"
	regerrors "github.com/R3E-Network/universal-registry/infrastructure/errors"
	"github.com/R3E-Network/universal-registry/infrastructure/logging"
)

// ChangeKind classifies a Registry change event published to the
// Subscription Bus.
type ChangeKind string

const (
	ChangeCreated         ChangeKind = "CREATED"
	ChangeUpdated         ChangeKind = "UPDATED"
	ChangeDeleted         ChangeKind = "DELETED"
	ChangeHotSwapRollback ChangeKind = "HOTSWAP_ROLLBACK"
)

// Change is the event shape published on every mutating Registry Core
// operation.
type Change struct {
	Kind    ChangeKind
	Entry   *Entry
	Diff    map[string]interface{}
	AtEpoch int64 // per-entry monotonic sequence, used for bus ordering
}

// Publisher is implemented by the Subscription Bus; Registry Core depends
// on this narrow interface rather than the bus package directly to avoid
// a dependency cycle (the bus, in turn, looks up entries via Registry).
type Publisher interface {
	Publish(ctx context.Context, change Change)
}

// Stats tracks Registry Core aggregate counters (§4.C).
type Stats struct {
	mu             sync.Mutex
	TotalRegistered int64
	TotalActive     int64
	TotalQueries    int64
	CacheHits       int64
	CacheMisses     int64
	totalQueryNanos int64
	ByCategory      map[Category]int64
}

func newStats() *Stats {
	return &Stats{ByCategory: make(map[Category]int64)}
}

// AvgQueryTimeMs returns the rolling average query latency in milliseconds.
func (s *Stats) AvgQueryTimeMs() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.totalQueryNanos) / float64(s.TotalQueries) / 1e6
}

func (s *Stats) recordQuery(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalQueries++
	s.totalQueryNanos += d.Nanoseconds()
}

// CopyByCategory copies the per-category registration counts into dst.
func (s *Stats) CopyByCategory(dst map[Category]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.ByCategory {
		dst[k] = v
	}
}

// Registry is the Registry Core (§4.C): CRUD, dependency resolution, hooks,
// a read-through cache, and aggregate stats, sitting atop a Store.
type Registry struct {
	store  Store
	cache  *cache.Cache
	hooks  *hookRegistry
	pub    Publisher
	log    *logging.Logger
	stats  *Stats
	plugins *PluginRegistry

	seqMu sync.Mutex
	seq   map[string]int64 // per-entry monotonic sequence for bus ordering
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithPublisher wires a Subscription Bus (or any Publisher) to receive
// change events.
func WithPublisher(p Publisher) Option {
	return func(r *Registry) { r.pub = p }
}

// WithLogger overrides the default logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// NewRegistry constructs a Registry Core over store.
func NewRegistry(store Store, opts ...Option) *Registry {
	r := &Registry{
		store:   store,
		cache:   cache.NewCache(cache.DefaultConfig()),
		hooks:   newHookRegistry(),
		log:     logging.NewFromEnv("registry"),
		stats:   newStats(),
		plugins: NewPluginRegistry(),
		seq:     make(map[string]int64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// On registers a lifecycle hook.
func (r *Registry) On(point HookPoint, fn Hook) {
	r.hooks.On(point, fn)
}

// Plugins exposes the plugin binding table for callers that want to bind a
// Plugin implementation to an entry id.
func (r *Registry) Plugins() *PluginRegistry {
	return r.plugins
}

// Stats returns the live stats counters.
func (r *Registry) Stats() *Stats {
	return r.stats
}

func (r *Registry) nextSeq(entryID string) int64 {
	r.seqMu.Lock()
	defer r.seqMu.Unlock()
	r.seq[entryID]++
	return r.seq[entryID]
}

func (r *Registry) publish(ctx context.Context, kind ChangeKind, entry *Entry, diff map[string]interface{}) {
	if r.pub == nil {
		return
	}
	r.pub.Publish(ctx, Change{
		Kind:    kind,
		Entry:   entry,
		Diff:    diff,
		AtEpoch: r.nextSeq(entry.ID),
	})
}

// PublishChange publishes an arbitrary Change event on the configured bus,
// for components (e.g. the hot-swap manager) that need to emit events
// outside the CRUD lifecycle this type otherwise tracks.
func (r *Registry) PublishChange(ctx context.Context, kind ChangeKind, entry *Entry, diff map[string]interface{}) {
	r.publish(ctx, kind, entry, diff)
}

// Register validates, persists, and publishes a new entry.
func (r *Registry) Register(ctx context.Context, entry *Entry) error {
	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	if entry.TenantID == "" {
		entry.TenantID = "default"
	}
	if entry.Status == "" {
		entry.Status = StatusRegistered
	}

	checksum, err := entry.ComputeChecksum()
	if err != nil {
		return regerrors.Internal("compute checksum", err)
	}
	entry.Checksum = checksum

	if issues := Validate(entry); len(issues) > 0 {
		return validationError(issues)
	}

	if err := r.checkConflicts(ctx, entry); err != nil {
		return err
	}

	if err := r.hooks.run(BeforeRegister, entry); err != nil {
		return regerrors.Wrap(regerrors.ErrCodeInvalidInput, "before_register hook rejected entry", 400, err)
	}

	if err := r.store.Save(ctx, entry); err != nil {
		return err
	}
	r.cache.SetVersioned(cacheKey(entry.ID), entry, 0)

	r.stats.mu.Lock()
	r.stats.TotalRegistered++
	r.stats.ByCategory[entry.Category]++
	if entry.Status == StatusActive {
		r.stats.TotalActive++
	}
	r.stats.mu.Unlock()

	if err := r.hooks.runAfter(AfterRegister, entry); err != nil {
		r.log.WithError(err).Warn("after_register hook failed")
	}

	r.publish(ctx, ChangeCreated, entry, nil)
	return nil
}

// checkConflicts enforces the §3 invariant that dependencies and conflicts
// referenced entries actually satisfy the "conflicts" exclusion: none of
// entry's conflicts may already coexist as a dependency of any currently
// registered entry that also depends on entry. A direct, cheap check: none
// of entry.Conflicts may itself be registered while listing entry as a
// dependency.
func (r *Registry) checkConflicts(ctx context.Context, entry *Entry) error {
	for _, conflictID := range entry.Conflicts {
		existing, err := r.store.Load(ctx, conflictID)
		if err != nil {
			continue // unregistered conflict id is not itself an error
		}
		for _, dep := range existing.Dependencies {
			if dep == entry.ID {
				return regerrors.Conflict(fmt.Sprintf("entry %q conflicts with already-registered dependent %q", entry.ID, conflictID))
			}
		}
	}
	return nil
}

func cacheKey(id string) string { return "entry:" + id }

// Get resolves an entry by id, cache-then-storage.
func (r *Registry) Get(ctx context.Context, id string) (*Entry, error) {
	start := time.Now()
	defer func() { r.stats.recordQuery(time.Since(start)) }()

	if v, ok := r.cache.Get(cacheKey(id)); ok {
		r.stats.mu.Lock()
		r.stats.CacheHits++
		r.stats.mu.Unlock()
		return v.(*Entry), nil
	}

	r.stats.mu.Lock()
	r.stats.CacheMisses++
	r.stats.mu.Unlock()

	entry, err := r.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache.SetVersioned(cacheKey(id), entry, 0)
	return entry, nil
}

// Search delegates to the store and records query stats.
func (r *Registry) Search(ctx context.Context, filters Filters) ([]*Entry, error) {
	start := time.Now()
	defer func() { r.stats.recordQuery(time.Since(start)) }()
	return r.store.Search(ctx, filters)
}

// Count delegates to the store.
func (r *Registry) Count(ctx context.Context, filters Filters) (int, error) {
	return r.store.Count(ctx, filters)
}

// UpdateOptions controls Update's version-downgrade check.
type UpdateOptions struct {
	AllowDowngrade bool
}

// Update loads the existing entry, validates the replacement, and persists
// it, rejecting version downgrades unless explicitly allowed.
func (r *Registry) Update(ctx context.Context, entry *Entry, opts UpdateOptions) error {
	existing, err := r.store.Load(ctx, entry.ID)
	if err != nil {
		return err
	}

	if !opts.AllowDowngrade && isDowngrade(existing.Version, entry.Version) {
		return regerrors.InvalidInput("version", fmt.Sprintf("refusing downgrade from %s to %s without allow_downgrade", existing.Version, entry.Version))
	}

	if existing.Status != entry.Status && !CanTransition(existing.Status, entry.Status) {
		return regerrors.InvalidInput("status", fmt.Sprintf("illegal transition %s -> %s", existing.Status, entry.Status))
	}

	entry.CreatedAt = existing.CreatedAt
	entry.UpdatedAt = time.Now()
	checksum, err := entry.ComputeChecksum()
	if err != nil {
		return regerrors.Internal("compute checksum", err)
	}
	entry.Checksum = checksum

	if issues := Validate(entry); len(issues) > 0 {
		return validationError(issues)
	}

	if err := r.hooks.run(BeforeUpdate, entry); err != nil {
		return regerrors.Wrap(regerrors.ErrCodeInvalidInput, "before_update hook rejected entry", 400, err)
	}

	if err := r.store.Save(ctx, entry); err != nil {
		return err
	}
	r.cache.SetVersioned(cacheKey(entry.ID), entry, 0)

	if err := r.hooks.runAfter(AfterUpdate, entry); err != nil {
		r.log.WithError(err).Warn("after_update hook failed")
	}

	r.publish(ctx, ChangeUpdated, entry, diffFields(existing, entry))
	return nil
}

// DeleteOptions controls Delete's dependents check.
type DeleteOptions struct {
	Force bool
}

// Delete removes an entry, refusing when dependents exist unless Force is
// set.
func (r *Registry) Delete(ctx context.Context, id string, opts DeleteOptions) error {
	entry, err := r.store.Load(ctx, id)
	if err != nil {
		return err
	}

	if !opts.Force {
		dependents, err := r.findDependents(ctx, id)
		if err != nil {
			return err
		}
		if len(dependents) > 0 {
			return regerrors.DependentsExist(id, dependents)
		}
	}

	if err := r.hooks.run(BeforeDelete, entry); err != nil {
		return regerrors.Wrap(regerrors.ErrCodeInvalidInput, "before_delete hook rejected deletion", 400, err)
	}

	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}
	r.cache.Invalidate(cacheKey(id))
	r.plugins.Unbind(id)

	if err := r.hooks.runAfter(AfterDelete, entry); err != nil {
		r.log.WithError(err).Warn("after_delete hook failed")
	}

	r.publish(ctx, ChangeDeleted, entry, nil)
	return nil
}

func (r *Registry) findDependents(ctx context.Context, id string) ([]string, error) {
	all, err := r.store.Search(ctx, Filters{})
	if err != nil {
		return nil, err
	}
	var dependents []string
	for _, e := range all {
		for _, dep := range e.Dependencies {
			if dep == id {
				dependents = append(dependents, e.ID)
				break
			}
		}
	}
	return dependents, nil
}

// ResolveDependencies returns the transitive closure of id's dependencies,
// depth-first and deduped, failing with a CycleError if a cycle is found.
func (r *Registry) ResolveDependencies(ctx context.Context, id string) ([]string, error) {
	visited := make(map[string]bool)
	onPath := make(map[string]bool)
	var order []string
	var path []string

	var visit func(string) error
	visit = func(cur string) error {
		if onPath[cur] {
			cyclePath := append(append([]string{}, path...), cur)
			return regerrors.CycleDetected(cyclePath)
		}
		if visited[cur] {
			return nil
		}
		visited[cur] = true
		onPath[cur] = true
		path = append(path, cur)

		entry, err := r.store.Load(ctx, cur)
		if err == nil {
			for _, dep := range entry.Dependencies {
				if err := visit(dep); err != nil {
					return err
				}
				order = append(order, dep)
			}
		}

		onPath[cur] = false
		path = path[:len(path)-1]
		return nil
	}

	root, err := r.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	onPath[id] = true
	path = append(path, id)
	for _, dep := range root.Dependencies {
		if err := visit(dep); err != nil {
			return nil, err
		}
		order = append(order, dep)
	}

	return dedupe(order), nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// RegisterSubregistry bulk-registers a related set of entries under a
// shared namespace, rolling back (best-effort) on the first failure.
func (r *Registry) RegisterSubregistry(ctx context.Context, entries []*Entry) error {
	registered := make([]string, 0, len(entries))
	for _, e := range entries {
		if err := r.Register(ctx, e); err != nil {
			for _, id := range registered {
				_ = r.Delete(ctx, id, DeleteOptions{Force: true})
			}
			return regerrors.Wrap(regerrors.ErrCodeInvalidInput, "subregistry registration failed, rolled back", 400, err)
		}
		registered = append(registered, e.ID)
	}
	return nil
}

// RegisterFeatureLayer registers a FeatureLayer as an entry carrying its
// flags and facets, contributing facet rows on save.
func (r *Registry) RegisterFeatureLayer(ctx context.Context, layer *FeatureLayer) error {
	entry := layer.ToEntry()
	return r.Register(ctx, entry)
}

func isDowngrade(from, to string) bool {
	fv, err1 := semver.NewVersion(from)
	tv, err2 := semver.NewVersion(to)
	if err1 != nil || err2 != nil {
		return false
	}
	return tv.LessThan(fv)
}

func diffFields(before, after *Entry) map[string]interface{} {
	diff := make(map[string]interface{})
	if before.Status != after.Status {
		diff["status"] = map[string]string{"from": string(before.Status), "to": string(after.Status)}
	}
	if before.Version != after.Version {
		diff["version"] = map[string]string{"from": before.Version, "to": after.Version}
	}
	return diff
}

func validationError(issues []ValidationIssue) error {
	details := make(map[string]interface{}, len(issues))
	for _, issue := range issues {
		details[issue.Field] = issue.Reason
	}
	err := regerrors.New(regerrors.ErrCodeInvalidInput, "entry failed validation", 400)
	for k, v := range details {
		err.WithDetails(k, v)
	}
	return err
}
