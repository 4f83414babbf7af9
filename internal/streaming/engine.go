package streaming

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/universal-registry/infrastructure/logging"
	"github.com/R3E-Network/universal-registry/infrastructure/metrics"
	"github.com/R3E-Network/universal-registry/internal/cryptolayer"
)

// HeartbeatInterval is how often streams are expected to report activity.
const HeartbeatInterval = 30 * time.Second

// staleAfterIntervals is the number of missed heartbeat intervals before a
// stream is marked STALE.
const staleAfterIntervals = 3

// DefaultQueueDepth bounds each direction's in-memory message queue.
const DefaultQueueDepth = 256

// Engine owns the set of active streams and their per-stream queues. A
// background cron job sweeps for stale streams every HeartbeatInterval.
type Engine struct {
	mu      sync.Mutex
	streams map[string]*Stream

	crypto *cryptolayer.Layer
	log    *logging.Logger
	cron   *cron.Cron

	onStale func(s *Stream)
}

// New builds a streaming Engine. crypto may be nil, in which case payloads
// are delivered unencrypted regardless of a caller's encrypt_payloads intent.
func New(crypto *cryptolayer.Layer) *Engine {
	e := &Engine{
		streams: make(map[string]*Stream),
		crypto:  crypto,
		log:     logging.NewFromEnv("streaming-engine"),
		cron:    cron.New(),
	}
	return e
}

// Start launches the background heartbeat/stale-detection sweep.
func (e *Engine) Start() {
	_, _ = e.cron.AddFunc("@every 30s", e.sweepStale)
	e.cron.Start()
}

// Stop halts the background sweep; in-flight streams are left as-is.
func (e *Engine) Stop() {
	ctx := e.cron.Stop()
	<-ctx.Done()
}

// CreateStream registers a new Stream between source and target and
// transitions it to CONNECTED.
func (e *Engine) CreateStream(sourceID, targetID, protocol string, direction Direction) (*Stream, error) {
	if sourceID == "" || targetID == "" {
		return nil, fmt.Errorf("streaming: source and target ids are required")
	}

	keyRef := 0
	if e.crypto != nil {
		keyRef = e.crypto.ActiveVersion()
	}

	now := time.Now()
	s := &Stream{
		ID:               uuid.NewString(),
		SourceID:         sourceID,
		TargetID:         targetID,
		Protocol:         protocol,
		Direction:        direction,
		EncryptionKeyRef: keyRef,
		Status:           StatusConnected,
		CreatedAt:        now,
		LastActivity:     now,
		forward:          make(chan []byte, DefaultQueueDepth),
	}
	if direction == DirectionBi {
		s.reverse = make(chan []byte, DefaultQueueDepth)
	}

	e.mu.Lock()
	e.streams[s.ID] = s
	count := len(e.streams)
	e.mu.Unlock()

	metrics.Global().SetStreamsActive(count)
	return s, nil
}

// Get returns a stream by id.
func (e *Engine) Get(id string) (*Stream, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.streams[id]
	return s, ok
}

// Send delivers payload on the forward queue (source->target), encrypting it
// first when encryptPayloads is set and a Crypto Layer is configured.
func (e *Engine) Send(ctx context.Context, streamID string, payload []byte, encryptPayloads bool) error {
	return e.send(streamID, payload, encryptPayloads, true)
}

// SendReverse delivers payload on the reverse queue (target->source) of a
// bi-directional stream.
func (e *Engine) SendReverse(ctx context.Context, streamID string, payload []byte, encryptPayloads bool) error {
	return e.send(streamID, payload, encryptPayloads, false)
}

func (e *Engine) send(streamID string, payload []byte, encryptPayloads, forward bool) error {
	s, ok := e.Get(streamID)
	if !ok {
		return fmt.Errorf("streaming: unknown stream %s", streamID)
	}
	if s.Status == StatusClosed {
		return fmt.Errorf("streaming: stream %s is closed", streamID)
	}

	body := payload
	if encryptPayloads && e.crypto != nil {
		ciphertext, _, err := e.crypto.Encrypt([]byte(s.ID), payload)
		if err != nil {
			return fmt.Errorf("streaming: encrypt payload: %w", err)
		}
		body = ciphertext
	}

	queue := s.forward
	if !forward {
		if s.reverse == nil {
			return fmt.Errorf("streaming: stream %s is not bi-directional", streamID)
		}
		queue = s.reverse
	}

	select {
	case queue <- body:
	default:
		return fmt.Errorf("streaming: stream %s queue full", streamID)
	}

	e.mu.Lock()
	s.LastActivity = time.Now()
	if forward {
		s.Metrics.MessagesSent++
	} else {
		s.Metrics.MessagesReceived++
	}
	if s.Status == StatusStale {
		s.Status = StatusConnected
	}
	e.mu.Unlock()
	return nil
}

// Heartbeat records activity on a stream without sending a payload.
func (e *Engine) Heartbeat(streamID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.streams[streamID]
	if !ok {
		return fmt.Errorf("streaming: unknown stream %s", streamID)
	}
	s.LastActivity = time.Now()
	if s.Status == StatusStale {
		s.Status = StatusConnected
	}
	return nil
}

// sweepStale marks streams STALE when no activity was observed within
// staleAfterIntervals heartbeat periods.
func (e *Engine) sweepStale() {
	deadline := time.Now().Add(-staleAfterIntervals * HeartbeatInterval)
	e.mu.Lock()
	var staled []*Stream
	for _, s := range e.streams {
		if s.Status == StatusConnected && s.LastActivity.Before(deadline) {
			s.Status = StatusStale
			staled = append(staled, s)
		}
	}
	e.mu.Unlock()

	for _, s := range staled {
		e.log.Warn(context.Background(), "stream went stale", map[string]interface{}{
			"stream_id": s.ID, "source_id": s.SourceID, "target_id": s.TargetID,
		})
		if e.onStale != nil {
			e.onStale(s)
		}
	}
}

// CloseStream drains outstanding messages up to deadline, then marks the
// stream CLOSED and releases its queues.
func (e *Engine) CloseStream(streamID string, deadline time.Duration) error {
	s, ok := e.Get(streamID)
	if !ok {
		return fmt.Errorf("streaming: unknown stream %s", streamID)
	}

	drainDeadline := time.Now().Add(deadline)
	drainQueue(s.forward, drainDeadline)
	if s.reverse != nil {
		drainQueue(s.reverse, drainDeadline)
	}

	e.mu.Lock()
	s.Status = StatusClosed
	delete(e.streams, streamID)
	count := len(e.streams)
	e.mu.Unlock()

	metrics.Global().SetStreamsActive(count)
	return nil
}

func drainQueue(q chan []byte, deadline time.Time) {
	if q == nil {
		return
	}
	for {
		if time.Now().After(deadline) {
			return
		}
		select {
		case <-q:
		default:
			return
		}
	}
}

// Count returns the number of currently tracked streams.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.streams)
}
