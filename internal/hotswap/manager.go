// Package hotswap implements the Hot-Swap Manager (§4.G): replaces a
// hot-swap-enabled entry's version with no observable downtime via a
// staged drain, atomic alias cutover, verification, and rollback.
package hotswap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/universal-registry/infrastructure/logging"
	"github.com/R3E-Network/universal-registry/infrastructure/metrics"
	"github.com/R3E-Network/universal-registry/internal/registry"
)

// Phase is a step in the sequential hot-swap state machine.
type Phase string

const (
	PhaseStaging    Phase = "STAGING"
	PhaseDraining   Phase = "DRAINING"
	PhaseSwitching  Phase = "SWITCHING"
	PhaseVerifying  Phase = "VERIFYING"
	PhaseDone       Phase = "DONE"
	PhaseRolledBack Phase = "ROLLED_BACK"
)

// DefaultVerifyDeadline bounds how long a verification predicate may run
// before the swap is rolled back.
const DefaultVerifyDeadline = 10 * time.Second

// DefaultDrainDeadline bounds how long outstanding operations on the old
// entry get to finish before SWITCHING proceeds regardless.
const DefaultDrainDeadline = 5 * time.Second

// Transition records one hot-swap's progress through its phases.
type Transition struct {
	EntryID         string // alias (namespace/name) being swapped
	FromVersion     string
	ToVersion       string
	Phase           Phase
	StartedAt       time.Time
	CompletedAt     time.Time
	RollbackVersion string
}

// VerifyFunc is a caller-supplied health predicate run during VERIFYING.
// A nil VerifyFunc falls back to a trivial "entry still loads and isn't
// FAILED" check.
type VerifyFunc func(ctx context.Context, newEntry *registry.Entry) bool

// Manager serializes hot-swaps per alias and tracks which entry id is
// currently active behind each alias.
type Manager struct {
	reg *registry.Registry
	log *logging.Logger

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	aliases map[string]string // alias -> active entry id
}

// NewManager builds a Manager bound to reg.
func NewManager(reg *registry.Registry) *Manager {
	return &Manager{
		reg:     reg,
		log:     logging.NewFromEnv("hotswap-manager"),
		locks:   make(map[string]*sync.Mutex),
		aliases: make(map[string]string),
	}
}

// ActiveEntryID returns the entry id currently behind alias, if a swap has
// ever run for it.
func (m *Manager) ActiveEntryID(alias string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.aliases[alias]
	return id, ok
}

func (m *Manager) lockFor(alias string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[alias]
	if !ok {
		l = &sync.Mutex{}
		m.locks[alias] = l
	}
	return l
}

func (m *Manager) setAlias(alias, entryID string) {
	m.mu.Lock()
	m.aliases[alias] = entryID
	m.mu.Unlock()
}

// Swap replaces fromEntryID with newEntry behind their shared alias
// (namespace/name). At most one swap per alias runs at a time; concurrent
// callers block until the in-flight swap finishes.
func (m *Manager) Swap(ctx context.Context, fromEntryID string, newEntry *registry.Entry, verify VerifyFunc, verifyDeadline, drainDeadline time.Duration) (*Transition, error) {
	if verifyDeadline <= 0 {
		verifyDeadline = DefaultVerifyDeadline
	}
	if drainDeadline <= 0 {
		drainDeadline = DefaultDrainDeadline
	}

	old, err := m.reg.Get(ctx, fromEntryID)
	if err != nil {
		return nil, fmt.Errorf("hotswap: load %s: %w", fromEntryID, err)
	}
	if !old.HotSwapEnabled {
		return nil, fmt.Errorf("hotswap: entry %s is not hot-swap enabled", fromEntryID)
	}

	alias := old.Alias()
	lock := m.lockFor(alias)
	lock.Lock()
	defer lock.Unlock()

	t := &Transition{
		EntryID:     alias,
		FromVersion: old.Version,
		ToVersion:   newEntry.Version,
		Phase:       PhaseStaging,
		StartedAt:   time.Now(),
	}

	// STAGING: persist the new entry as a sibling and validate dependencies
	// via the ordinary Register pipeline.
	newEntry.Status = registry.StatusRegistered
	newEntry.HotSwapEnabled = true
	if err := m.reg.Register(ctx, newEntry); err != nil {
		t.Phase = PhaseRolledBack
		t.CompletedAt = time.Now()
		m.recordOutcome("staging_failed")
		return t, fmt.Errorf("hotswap: staging failed: %w", err)
	}

	// DRAINING: old entry stops taking new traffic; give outstanding work a
	// bounded window before forcing the cutover.
	t.Phase = PhaseDraining
	draining := *old
	draining.Status = registry.StatusDraining
	if err := m.reg.Update(ctx, &draining, registry.UpdateOptions{}); err != nil {
		return t, m.rollback(ctx, t, alias, old, newEntry, fmt.Sprintf("draining failed: %v", err))
	}
	m.waitDrain(ctx, drainDeadline)

	// SWITCHING: atomic alias cutover.
	t.Phase = PhaseSwitching
	m.setAlias(alias, newEntry.ID)

	// VERIFYING: run the health predicate.
	t.Phase = PhaseVerifying
	ok := m.runVerify(ctx, newEntry, verify, verifyDeadline)
	if !ok {
		return t, m.rollback(ctx, t, alias, old, newEntry, "verification failed")
	}

	// DONE.
	active := *newEntry
	active.Status = registry.StatusActive
	if err := m.reg.Update(ctx, &active, registry.UpdateOptions{}); err != nil {
		return t, m.rollback(ctx, t, alias, old, newEntry, fmt.Sprintf("activation failed: %v", err))
	}
	retired := draining
	retired.Status = registry.StatusUnloaded
	_ = m.reg.Update(ctx, &retired, registry.UpdateOptions{})

	t.Phase = PhaseDone
	t.CompletedAt = time.Now()
	m.recordOutcome("done")
	return t, nil
}

func (m *Manager) waitDrain(ctx context.Context, deadline time.Duration) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (m *Manager) runVerify(ctx context.Context, newEntry *registry.Entry, verify VerifyFunc, deadline time.Duration) bool {
	vctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if verify != nil {
		return verify(vctx, newEntry)
	}
	got, err := m.reg.Get(vctx, newEntry.ID)
	return err == nil && got.Status != registry.StatusFailed
}

// rollback reverts the alias to the old entry, marks newEntry FAILED,
// publishes a HOTSWAP_ROLLBACK event, and returns the transition's error.
func (m *Manager) rollback(ctx context.Context, t *Transition, alias string, old, newEntry *registry.Entry, reason string) error {
	m.setAlias(alias, old.ID)

	failed := *newEntry
	failed.Status = registry.StatusFailed
	_ = m.reg.Update(ctx, &failed, registry.UpdateOptions{})

	restored := *old
	restored.Status = registry.StatusActive
	_ = m.reg.Update(ctx, &restored, registry.UpdateOptions{})

	t.Phase = PhaseRolledBack
	t.RollbackVersion = old.Version
	t.CompletedAt = time.Now()

	m.reg.PublishChange(ctx, registry.ChangeHotSwapRollback, &failed, map[string]interface{}{"reason": reason})
	m.log.Warn(ctx, "hot-swap rolled back", map[string]interface{}{
		"alias": alias, "from_version": old.Version, "to_version": newEntry.Version, "reason": reason,
	})
	m.recordOutcome("rolled_back")
	return fmt.Errorf("hotswap: %s", reason)
}

func (m *Manager) recordOutcome(outcome string) {
	metrics.Global().RecordHotSwapTransition("hotswap-manager", outcome)
}
