package propagation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/universal-registry/internal/registry"
)

type fakeGetter struct {
	mu      sync.Mutex
	entries map[string]*registry.Entry
}

func (g *fakeGetter) Get(_ context.Context, id string) (*registry.Entry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return e, nil
}

type recordingDeliverer struct {
	mu        sync.Mutex
	delivered []string
	fail      map[string]bool
}

func (d *recordingDeliverer) Deliver(_ context.Context, targetID string, _ map[string]interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail[targetID] {
		return errors.New("delivery failed")
	}
	d.delivered = append(d.delivered, targetID)
	return nil
}

func TestPropagateImmediateVisitsAllTargets(t *testing.T) {
	source := &registry.Entry{ID: "a", PropagationTargets: []string{"b", "c"}}
	d := &recordingDeliverer{fail: map[string]bool{}}
	e := New(&fakeGetter{entries: map[string]*registry.Entry{}}, d, ConflictManual)

	s, err := e.Propagate(context.Background(), source, map[string]interface{}{"x": 1}, ModeImmediate, nil)
	require.NoError(t, err)
	require.Equal(t, SessionCommitted, s.Status)
	require.Equal(t, []string{"b", "c"}, d.delivered)
	require.InDelta(t, 1.0, s.Progress, 0.001)
}

func TestPropagateImmediateFailsFastOnError(t *testing.T) {
	source := &registry.Entry{ID: "a", PropagationTargets: []string{"b", "c"}}
	d := &recordingDeliverer{fail: map[string]bool{"b": true}}
	e := New(&fakeGetter{entries: map[string]*registry.Entry{}}, d, ConflictManual)

	s, err := e.Propagate(context.Background(), source, map[string]interface{}{}, ModeImmediate, nil)
	require.Error(t, err)
	require.Equal(t, SessionFailed, s.Status)
	require.Empty(t, d.delivered)
}

func TestPropagateCascadeVisitsEachHopOnce(t *testing.T) {
	a := &registry.Entry{ID: "a", Category: registry.CategoryPlugin, PropagationTargets: []string{"b"}}
	b := &registry.Entry{ID: "b", Category: registry.CategoryPlugin, PropagationTargets: []string{"c", "a"}}
	c := &registry.Entry{ID: "c", Category: registry.CategoryPlugin, PropagationTargets: []string{"b"}}
	getter := &fakeGetter{entries: map[string]*registry.Entry{"a": a, "b": b, "c": c}}
	d := &recordingDeliverer{fail: map[string]bool{}}
	e := New(getter, d, ConflictManual)

	s, err := e.Propagate(context.Background(), a, map[string]interface{}{}, ModeCascade, nil)
	require.NoError(t, err)
	require.Equal(t, SessionCommitted, s.Status)
	require.ElementsMatch(t, []string{"b", "c"}, d.delivered)
}

func TestPropagateCascadeAppliesRuleTransform(t *testing.T) {
	a := &registry.Entry{ID: "a", PropagationTargets: []string{"b"}}
	b := &registry.Entry{ID: "b"}
	getter := &fakeGetter{entries: map[string]*registry.Entry{"a": a, "b": b}}

	var captured map[string]interface{}
	d := DeliverFunc(func(_ context.Context, targetID string, payload map[string]interface{}) error {
		captured = payload
		return nil
	})
	e := New(getter, d, ConflictManual)

	rules := []Rule{{
		When:      "payload.count < 10",
		Transform: map[string]string{"count": "payload.count + 1"},
	}}
	_, err := e.Propagate(context.Background(), a, map[string]interface{}{"count": 1}, ModeCascade, rules)
	require.NoError(t, err)
	require.EqualValues(t, 2, captured["count"])
}

func TestPropagateEventualReturnsImmediatelyAndDeliversAsync(t *testing.T) {
	a := &registry.Entry{ID: "a", PropagationTargets: []string{"b"}}
	d := &recordingDeliverer{fail: map[string]bool{}}
	e := New(&fakeGetter{entries: map[string]*registry.Entry{}}, d, ConflictManual)

	s, err := e.Propagate(context.Background(), a, map[string]interface{}{}, ModeEventual, nil)
	require.NoError(t, err)
	require.Equal(t, SessionRunning, s.Status)

	require.Eventually(t, func() bool {
		got, _ := e.Session(s.ChainID)
		return got.Status == SessionCommitted
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"b"}, d.delivered)
}

func TestPropagateConsensusCommitsWhenQuorumMet(t *testing.T) {
	a := &registry.Entry{ID: "a", PropagationTargets: []string{"b", "c", "d"}}
	d := &recordingDeliverer{fail: map[string]bool{"d": true}}
	e := New(&fakeGetter{entries: map[string]*registry.Entry{}}, d, ConflictManual)

	s, err := e.PropagateConsensus(context.Background(), a, map[string]interface{}{}, 2, time.Second, nil)
	require.NoError(t, err)
	require.Equal(t, SessionCommitted, s.Status)
}

func TestPropagateConsensusRollsBackWhenQuorumMissed(t *testing.T) {
	a := &registry.Entry{ID: "a", PropagationTargets: []string{"b", "c", "d"}}
	d := &recordingDeliverer{fail: map[string]bool{"b": true, "c": true, "d": true}}
	e := New(&fakeGetter{entries: map[string]*registry.Entry{}}, d, ConflictManual)

	s, err := e.PropagateConsensus(context.Background(), a, map[string]interface{}{}, 2, time.Second, nil)
	require.Error(t, err)
	require.Equal(t, SessionRolledBack, s.Status)
}

func TestResolveManualReturnsConflictError(t *testing.T) {
	e := New(&fakeGetter{}, &recordingDeliverer{}, ConflictManual)
	stored := &registry.Entry{Version: "1.0.0"}
	incoming := &registry.Entry{Version: "1.1.0"}

	_, err := e.Resolve(stored, incoming)
	require.Error(t, err)
}

func TestResolveLastWriterWinsReturnsIncoming(t *testing.T) {
	e := New(&fakeGetter{}, &recordingDeliverer{}, ConflictLastWriterWins)
	stored := &registry.Entry{Version: "1.0.0"}
	incoming := &registry.Entry{Version: "1.1.0"}

	got, err := e.Resolve(stored, incoming)
	require.NoError(t, err)
	require.Equal(t, "1.1.0", got.Version)
}

func TestResolveMergeByFieldUnionsListsAndMergesMaps(t *testing.T) {
	e := New(&fakeGetter{}, &recordingDeliverer{}, ConflictMergeByField)
	stored := &registry.Entry{
		Version: "1.0.0",
		Tags:    []string{"a", "b"},
		Config:  map[string]interface{}{"x": 1, "nested": map[string]interface{}{"p": 1}},
	}
	incoming := &registry.Entry{
		Version: "1.1.0",
		Tags:    []string{"b", "c"},
		Config:  map[string]interface{}{"y": 2, "nested": map[string]interface{}{"q": 2}},
	}

	got, err := e.Resolve(stored, incoming)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b", "c"}, got.Tags)
	require.Equal(t, 1, got.Config["x"])
	require.Equal(t, 2, got.Config["y"])
	nested := got.Config["nested"].(map[string]interface{})
	require.Equal(t, 1, nested["p"])
	require.Equal(t, 2, nested["q"])
}

func TestDetectConflict(t *testing.T) {
	now := time.Now()
	require.False(t, DetectConflict(now, now))
	require.True(t, DetectConflict(now, now.Add(time.Second)))
}
