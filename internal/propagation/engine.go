// Package propagation implements the Propagation Engine (§4.F): rule-driven
// fan-out of entry updates across the registry graph in four delivery modes,
// with conflict detection and a pluggable resolution policy.
package propagation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	regerrors "github.com/R3E-Network/universal-registry/infrastructure/errors"
	"github.com/R3E-Network/universal-registry/infrastructure/logging"
	"github.com/R3E-Network/universal-registry/infrastructure/metrics"
	"github.com/R3E-Network/universal-registry/infrastructure/ratelimit"
	"github.com/R3E-Network/universal-registry/internal/registry"
)

// cascadeRateLimit caps how fast a CASCADE walk fans out hop deliveries, so a
// densely connected propagation graph can't flood downstream targets in a
// tight loop.
var cascadeRateLimit = ratelimit.RateLimitConfig{RequestsPerSecond: 200, Burst: 50}

// Mode is a propagation delivery strategy.
type Mode string

const (
	ModeImmediate Mode = "IMMEDIATE"
	ModeEventual  Mode = "EVENTUAL"
	ModeCascade   Mode = "CASCADE"
	ModeConsensus Mode = "CONSENSUS"
)

// SessionStatus is a propagation session's terminal or in-flight state.
type SessionStatus string

const (
	SessionRunning    SessionStatus = "RUNNING"
	SessionCommitted  SessionStatus = "COMMITTED"
	SessionRolledBack SessionStatus = "ROLLED_BACK"
	SessionFailed     SessionStatus = "FAILED"
)

// ConflictPolicy governs how concurrent updates to the same entry_id are
// resolved. The default is Manual (§4.F).
type ConflictPolicy string

const (
	ConflictManual          ConflictPolicy = "manual"
	ConflictLastWriterWins  ConflictPolicy = "last_writer_wins"
	ConflictMergeByField    ConflictPolicy = "merge_by_field"
)

// Session tracks one propagation's progress.
type Session struct {
	ChainID        string        `json:"chain_id"`
	SourceEntryID  string        `json:"source_entry_id"`
	Mode           Mode          `json:"mode"`
	Path           []string      `json:"path"`
	Status         SessionStatus `json:"status"`
	Progress       float64       `json:"progress"`
	CreatedAt      time.Time     `json:"created_at"`
}

// EntryGetter is the subset of the Registry Core the engine needs to walk
// the dependency/propagation graph.
type EntryGetter interface {
	Get(ctx context.Context, id string) (*registry.Entry, error)
}

// Deliverer performs the actual hop delivery (e.g. via the subscription bus
// or the streaming engine). Returning an error marks that hop failed.
type Deliverer interface {
	Deliver(ctx context.Context, targetID string, payload map[string]interface{}) error
}

// DeliverFunc adapts a function to the Deliverer interface.
type DeliverFunc func(ctx context.Context, targetID string, payload map[string]interface{}) error

// Deliver implements Deliverer.
func (f DeliverFunc) Deliver(ctx context.Context, targetID string, payload map[string]interface{}) error {
	return f(ctx, targetID, payload)
}

// Engine computes and executes propagation plans.
type Engine struct {
	getter     EntryGetter
	deliver    Deliverer
	policy     ConflictPolicy
	log        *logging.Logger
	cascadeRL  *ratelimit.RateLimiter

	mu       sync.Mutex
	sessions map[string]*Session
}

// New builds a propagation Engine. policy defaults to ConflictManual when
// empty.
func New(getter EntryGetter, deliver Deliverer, policy ConflictPolicy) *Engine {
	if policy == "" {
		policy = ConflictManual
	}
	return &Engine{
		getter:    getter,
		deliver:   deliver,
		policy:    policy,
		log:       logging.NewFromEnv("propagation-engine"),
		cascadeRL: ratelimit.New(cascadeRateLimit),
		sessions:  make(map[string]*Session),
	}
}

// Session returns a tracked session by chain id.
func (e *Engine) Session(chainID string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[chainID]
	return s, ok
}

func (e *Engine) newSession(sourceID string, mode Mode) *Session {
	s := &Session{
		ChainID:       uuid.NewString(),
		SourceEntryID: sourceID,
		Mode:          mode,
		Status:        SessionRunning,
		CreatedAt:     time.Now(),
	}
	e.mu.Lock()
	e.sessions[s.ChainID] = s
	e.mu.Unlock()
	return s
}

func (e *Engine) finish(s *Session, status SessionStatus) {
	e.mu.Lock()
	s.Status = status
	if status == SessionCommitted {
		s.Progress = 1
	}
	e.mu.Unlock()
}

// Propagate dispatches payload from source according to mode and rules.
func (e *Engine) Propagate(ctx context.Context, source *registry.Entry, payload map[string]interface{}, mode Mode, rules []Rule) (*Session, error) {
	switch mode {
	case ModeImmediate:
		return e.propagateImmediate(ctx, source, payload, rules)
	case ModeEventual:
		return e.propagateEventual(source, payload, rules)
	case ModeCascade:
		return e.propagateCascade(ctx, source, payload, rules)
	case ModeConsensus:
		return nil, fmt.Errorf("propagation: use PropagateConsensus for CONSENSUS mode")
	default:
		return nil, fmt.Errorf("propagation: unknown mode %q", mode)
	}
}

func (e *Engine) propagateImmediate(ctx context.Context, source *registry.Entry, payload map[string]interface{}, rules []Rule) (*Session, error) {
	s := e.newSession(source.ID, ModeImmediate)
	total := len(source.PropagationTargets)
	for i, targetID := range source.PropagationTargets {
		hopPayload, err := e.applyRules(payload, source, rules)
		if err != nil {
			e.finish(s, SessionFailed)
			return s, err
		}
		start := time.Now()
		err = e.deliver.Deliver(ctx, targetID, hopPayload)
		e.recordHop("immediate", err, start)
		e.log.LogPropagationHop(ctx, s.ChainID, targetID, err)
		if err != nil {
			e.finish(s, SessionFailed)
			return s, fmt.Errorf("propagation: deliver to %s: %w", targetID, err)
		}
		s.Path = append(s.Path, targetID)
		e.mu.Lock()
		if total > 0 {
			s.Progress = float64(i+1) / float64(total)
		}
		e.mu.Unlock()
	}
	e.finish(s, SessionCommitted)
	return s, nil
}

func (e *Engine) propagateEventual(source *registry.Entry, payload map[string]interface{}, rules []Rule) (*Session, error) {
	s := e.newSession(source.ID, ModeEventual)
	go func() {
		ctx := context.Background()
		for _, targetID := range source.PropagationTargets {
			hopPayload, err := e.applyRules(payload, source, rules)
			if err != nil {
				continue
			}
			start := time.Now()
			err = e.deliver.Deliver(ctx, targetID, hopPayload)
			e.recordHop("eventual", err, start)
			e.log.LogPropagationHop(ctx, s.ChainID, targetID, err)
			if err == nil {
				e.mu.Lock()
				s.Path = append(s.Path, targetID)
				e.mu.Unlock()
			}
		}
		e.finish(s, SessionCommitted)
	}()
	return s, nil
}

func (e *Engine) propagateCascade(ctx context.Context, source *registry.Entry, payload map[string]interface{}, rules []Rule) (*Session, error) {
	s := e.newSession(source.ID, ModeCascade)
	visited := map[string]bool{source.ID: true}

	var walk func(entry *registry.Entry, hopPayload map[string]interface{}) error
	walk = func(entry *registry.Entry, hopPayload map[string]interface{}) error {
		for _, targetID := range entry.PropagationTargets {
			if visited[targetID] {
				continue
			}
			visited[targetID] = true

			if err := e.cascadeRL.Wait(ctx); err != nil {
				return fmt.Errorf("propagation: rate limit wait: %w", err)
			}

			target, err := e.getter.Get(ctx, targetID)
			if err != nil {
				return fmt.Errorf("propagation: load hop %s: %w", targetID, err)
			}

			next := hopPayload
			for _, rule := range rules {
				ok, err := rule.Matches(hopPayload, target)
				if err != nil {
					return err
				}
				if !ok || !matchesTargetFilter(rule.TargetFilter, target) {
					continue
				}
				next, err = rule.Apply(next, target)
				if err != nil {
					return err
				}
			}

			start := time.Now()
			deliverErr := e.deliver.Deliver(ctx, targetID, next)
			e.recordHop("cascade", deliverErr, start)
			e.log.LogPropagationHop(ctx, s.ChainID, targetID, deliverErr)
			if deliverErr != nil {
				return fmt.Errorf("propagation: deliver to %s: %w", targetID, deliverErr)
			}
			e.mu.Lock()
			s.Path = append(s.Path, targetID)
			e.mu.Unlock()

			if err := walk(target, next); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(source, payload); err != nil {
		e.finish(s, SessionFailed)
		return s, err
	}
	e.finish(s, SessionCommitted)
	return s, nil
}

// PropagateConsensus fans out to source.PropagationTargets and requires at
// least quorum successful deliveries within timeout. On failure, it rolls
// back by invoking rollback against every target that did acknowledge.
func (e *Engine) PropagateConsensus(ctx context.Context, source *registry.Entry, payload map[string]interface{}, quorum int, timeout time.Duration, rollback Deliverer) (*Session, error) {
	s := e.newSession(source.ID, ModeConsensus)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		targetID string
		err      error
	}
	results := make(chan result, len(source.PropagationTargets))
	for _, targetID := range source.PropagationTargets {
		targetID := targetID
		go func() {
			start := time.Now()
			err := e.deliver.Deliver(ctx, targetID, payload)
			e.recordHop("consensus", err, start)
			results <- result{targetID, err}
		}()
	}

	var acked []string
collect:
	for range source.PropagationTargets {
		select {
		case r := <-results:
			e.log.LogPropagationHop(ctx, s.ChainID, r.targetID, r.err)
			if r.err == nil {
				e.mu.Lock()
				acked = append(acked, r.targetID)
				s.Path = append(s.Path, r.targetID)
				e.mu.Unlock()
			}
		case <-ctx.Done():
			break collect
		}
	}

	if len(acked) < quorum {
		if rollback != nil {
			for _, targetID := range acked {
				_ = rollback.Deliver(context.Background(), targetID, payload)
			}
		}
		e.finish(s, SessionRolledBack)
		return s, regerrors.New(regerrors.ErrCodeConflict,
			fmt.Sprintf("consensus not reached: %d/%d acks (quorum %d)", len(acked), len(source.PropagationTargets), quorum),
			409)
	}

	e.finish(s, SessionCommitted)
	return s, nil
}

func (e *Engine) applyRules(payload map[string]interface{}, entry *registry.Entry, rules []Rule) (map[string]interface{}, error) {
	current := payload
	for _, rule := range rules {
		ok, err := rule.Matches(current, entry)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		current, err = rule.Apply(current, entry)
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

func (e *Engine) recordHop(mode string, err error, start time.Time) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	metrics.Global().RecordPropagationHop("propagation-engine", mode, status, time.Since(start))
}

// DetectConflict reports whether a concurrent update conflicts: the update's
// view of updated_at no longer matches the store's current value.
func DetectConflict(storedUpdatedAt, callerSeenUpdatedAt time.Time) bool {
	return !storedUpdatedAt.Equal(callerSeenUpdatedAt)
}

// Resolve applies the engine's configured ConflictPolicy to a conflicting
// pair of entries, returning the entry to persist.
func (e *Engine) Resolve(stored, incoming *registry.Entry) (*registry.Entry, error) {
	switch e.policy {
	case ConflictLastWriterWins:
		return incoming, nil
	case ConflictMergeByField:
		return mergeByField(stored, incoming), nil
	default:
		return nil, regerrors.New(regerrors.ErrCodeConflict, "concurrent update conflict", 409).
			WithDetails("stored_version", stored.Version).
			WithDetails("incoming_version", incoming.Version)
	}
}

// mergeByField merges incoming onto stored: scalars are replaced, list
// fields are union-deduped, and nested maps are merged key-by-key.
func mergeByField(stored, incoming *registry.Entry) *registry.Entry {
	merged := *incoming
	merged.Tags = unionStrings(stored.Tags, incoming.Tags)
	merged.Dependencies = unionStrings(stored.Dependencies, incoming.Dependencies)
	merged.Data = mergeMaps(stored.Data, incoming.Data)
	merged.Metadata = mergeMaps(stored.Metadata, incoming.Metadata)
	merged.Config = mergeMaps(stored.Config, incoming.Config)
	return &merged
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

func mergeMaps(a, b map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if nestedA, ok := out[k].(map[string]interface{}); ok {
			if nestedB, ok := v.(map[string]interface{}); ok {
				out[k] = mergeMaps(nestedA, nestedB)
				continue
			}
		}
		out[k] = v
	}
	return out
}
