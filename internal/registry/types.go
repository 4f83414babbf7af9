// Package registry implements the typed entry catalog: identity, the
// category taxonomy, GEFS quality scoring, validation, and the CRUD core
// that sits in front of the storage backend.
package registry

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Status is an entry's lifecycle state.
type Status string

const (
	StatusRegistered Status = "REGISTERED"
	StatusActive     Status = "ACTIVE"
	StatusInactive   Status = "INACTIVE"
	StatusDraining   Status = "DRAINING"
	StatusDeprecated Status = "DEPRECATED"
	StatusFailed     Status = "FAILED"
	StatusUnloaded   Status = "UNLOADED"
)

// statusTransitions is the total transition table for Status. A transition
// not present here is rejected by Registry.Update (via CanTransition).
var statusTransitions = map[Status]map[Status]bool{
	StatusRegistered: {StatusActive: true, StatusFailed: true, StatusUnloaded: true},
	StatusActive:     {StatusDraining: true, StatusDeprecated: true, StatusFailed: true, StatusInactive: true},
	StatusInactive:   {StatusActive: true, StatusUnloaded: true, StatusFailed: true},
	StatusDraining:   {StatusInactive: true, StatusUnloaded: true, StatusFailed: true, StatusActive: true},
	StatusDeprecated: {StatusUnloaded: true, StatusActive: true},
	StatusFailed:     {StatusRegistered: true, StatusUnloaded: true},
	StatusUnloaded:   {},
}

// CanTransition reports whether from -> to is an allowed lifecycle move.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	next, ok := statusTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Relationship is a directed, typed edge from an entry to another entry id.
type Relationship struct {
	TargetID string `json:"target_id"`
	Kind     string `json:"kind"`
}

// GEFS is the six-component Generative-Ensemble-Fusion Score.
type GEFS struct {
	Quality       float64 `json:"quality"`
	Reliability   float64 `json:"reliability"`
	Performance   float64 `json:"performance"`
	Security      float64 `json:"security"`
	Compatibility float64 `json:"compatibility"`
	Documentation float64 `json:"documentation"`
}

var gefsWeights = struct {
	Quality, Reliability, Performance, Security, Compatibility, Documentation float64
}{0.25, 0.20, 0.20, 0.15, 0.10, 0.10}

// Overall returns the weighted composite score in [0,100].
func (g GEFS) Overall() float64 {
	return g.Quality*gefsWeights.Quality +
		g.Reliability*gefsWeights.Reliability +
		g.Performance*gefsWeights.Performance +
		g.Security*gefsWeights.Security +
		g.Compatibility*gefsWeights.Compatibility +
		g.Documentation*gefsWeights.Documentation
}

// Grade bands the overall score into a letter grade.
func (g GEFS) Grade() string {
	return gradeFor(g.Overall())
}

func gradeFor(score float64) string {
	switch {
	case score >= 95:
		return "A+"
	case score >= 90:
		return "A"
	case score >= 85:
		return "A-"
	case score >= 80:
		return "B+"
	case score >= 75:
		return "B"
	case score >= 70:
		return "B-"
	case score >= 65:
		return "C+"
	case score >= 60:
		return "C"
	default:
		return "F"
	}
}

// Entry is the unit of registration in the catalog.
type Entry struct {
	ID       string   `json:"id"`
	Namespace string  `json:"namespace"`
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Category Category `json:"category"`
	TenantID string   `json:"tenant_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by"`
	Checksum  string    `json:"checksum"`
	SizeBytes int64     `json:"size_bytes"`

	Data           map[string]interface{} `json:"data,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Specifications map[string]interface{} `json:"specifications,omitempty"`
	Config         map[string]interface{} `json:"config,omitempty"`
	Tags           []string               `json:"tags,omitempty"`

	Dependencies  []string       `json:"dependencies,omitempty"`
	Conflicts     []string       `json:"conflicts,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`

	Status Status `json:"status"`
	GEFS   GEFS   `json:"gefs"`

	// HotSwapEnabled opts an entry into hot-swap version transitions (§4.G).
	HotSwapEnabled bool `json:"hotswap_enabled,omitempty"`
	// StreamingEnabled opts an entry into the streaming engine as a valid
	// source or target endpoint (§4.E).
	StreamingEnabled bool `json:"streaming_enabled,omitempty"`
	// PropagationTargets lists direct downstream entry ids consulted by the
	// propagation engine (§4.F).
	PropagationTargets []string `json:"propagation_targets,omitempty"`
}

// Alias is the (namespace, name) pair an entry's "current" version resolves
// through; used by the hot-swap manager's atomic cutover.
func (e *Entry) Alias() string {
	return e.Namespace + "/" + e.Name
}

// Key uniquely identifies an entry's (namespace, name, version) triple.
func (e *Entry) Key() string {
	return fmt.Sprintf("%s/%s@%s", e.Namespace, e.Name, e.Version)
}

// Canonical produces a deterministic byte serialization of the entry's
// payload fields, used to compute Checksum. Map keys are sorted and numbers
// are encoded via encoding/json, which is already stable for the types this
// registry accepts (strings, float64, bool, nested maps/slices).
func (e *Entry) Canonical() ([]byte, error) {
	payload := map[string]interface{}{
		"data":           canonicalizeMap(e.Data),
		"metadata":       canonicalizeMap(e.Metadata),
		"specifications": canonicalizeMap(e.Specifications),
		"config":         canonicalizeMap(e.Config),
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]interface{}, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, payload[k])
	}
	return json.Marshal(ordered)
}

// canonicalizeMap returns a copy of m with nested maps converted to
// sorted-key representations so json.Marshal output is deterministic
// across runs (Go's encoding/json already sorts map keys, so this mostly
// normalizes nil vs empty).
func canonicalizeMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

// ComputeChecksum returns the SHA-256 hex digest over the entry's canonical
// payload serialization.
func (e *Entry) ComputeChecksum() (string, error) {
	canon, err := e.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return fmt.Sprintf("%x", sum), nil
}
