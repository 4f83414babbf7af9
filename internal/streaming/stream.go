// Package streaming implements the Streaming Engine (§4.E): bi-directional
// message queues between entries, heartbeat/stale detection, and optional
// payload encryption via the Crypto Layer.
package streaming

import (
	"time"
)

// Direction is the topology of a stream.
type Direction string

const (
	DirectionUni       Direction = "UNI"
	DirectionBi        Direction = "BI"
	DirectionMulticast Direction = "MULTICAST"
	DirectionBroadcast Direction = "BROADCAST"
)

// Status is a stream's connection lifecycle state.
type Status string

const (
	StatusConnected Status = "CONNECTED"
	StatusStale     Status = "STALE"
	StatusClosed    Status = "CLOSED"
)

// Metrics tracks per-stream message counters.
type Metrics struct {
	MessagesSent     int64 `json:"messages_sent"`
	MessagesReceived int64 `json:"messages_received"`
}

// Stream is a registered bi-directional (or uni/multicast/broadcast) channel
// between a source entry and a target entry.
type Stream struct {
	ID              string    `json:"stream_id"`
	SourceID        string    `json:"source_id"`
	TargetID        string    `json:"target_id"`
	Protocol        string    `json:"protocol"`
	Direction       Direction `json:"direction"`
	EncryptionKeyRef int      `json:"encryption_key_ref"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivity    time.Time `json:"last_activity"`
	Metrics         Metrics   `json:"metrics"`

	forward chan []byte // source -> target
	reverse chan []byte // target -> source (BI only)
}

// Forward returns the source-to-target queue.
func (s *Stream) Forward() chan []byte { return s.forward }

// Reverse returns the target-to-source queue; nil for non-BI streams.
func (s *Stream) Reverse() chan []byte { return s.reverse }
