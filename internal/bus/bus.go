// Package bus implements the Subscription Bus (§4.D): per-entry and
// per-category fan-out of registry Change events with bounded inboxes,
// at-least-once redelivery, and drop-oldest backpressure.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/universal-registry/infrastructure/logging"
	"github.com/R3E-Network/universal-registry/infrastructure/metrics"
	"github.com/R3E-Network/universal-registry/infrastructure/resilience"
	"github.com/R3E-Network/universal-registry/internal/registry"
)

// Filter expresses a subscriber's interest.
type Filter struct {
	Category registry.Category
	EntryID  string
	Facets   map[string][]string
}

func (f Filter) matches(c registry.Change) bool {
	if f.EntryID != "" && c.Entry.ID != f.EntryID {
		return false
	}
	if f.Category != "" && c.Entry.Category != f.Category {
		return false
	}
	if len(f.Facets) == 0 {
		return true
	}
	facetMap, _ := c.Entry.Config["facets"].(map[string]interface{})
	for key, wanted := range f.Facets {
		raw, ok := facetMap[key]
		if !ok {
			return false
		}
		vals, _ := raw.([]interface{})
		found := false
		for _, v := range vals {
			for _, w := range wanted {
				if v == w {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Delivery wraps a Change with the subscriber-local sequence id, letting
// subscribers deduplicate retried redeliveries that carry the same id.
type Delivery struct {
	SequenceID int64
	Change     registry.Change
}

// Subscriber receives deliveries through Inbox() and can be closed via
// Unsubscribe.
type Subscriber struct {
	ID     string
	filter Filter
	inbox  chan Delivery
	bus    *Bus
	seq    int64
	mu     sync.Mutex
}

// Inbox returns the channel deliveries arrive on.
func (s *Subscriber) Inbox() <-chan Delivery { return s.inbox }

func (s *Subscriber) nextSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// Bus is the in-process Subscription Bus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	maxInbox    int
	retry       resilience.RetryConfig
	log         *logging.Logger
}

// New returns a Bus with the given per-subscriber inbox bound (§5 resource
// bounds: default 1024).
func New(maxInbox int) *Bus {
	if maxInbox <= 0 {
		maxInbox = 1024
	}
	return &Bus{
		subscribers: make(map[string]*Subscriber),
		maxInbox:    maxInbox,
		retry:       inboxRetryConfig(),
		log:         logging.NewFromEnv("subscription-bus"),
	}
}

// inboxRetryConfig governs a handful of fast, local in-process attempts to
// place a delivery before giving up and falling back to drop-oldest. This is
// deliberately much tighter than resilience.DefaultRetryConfig(), which is
// sized for out-of-process dependencies rather than draining a channel.
func inboxRetryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2.0,
	}
}

// Subscribe registers a new subscriber matching filter.
func (b *Bus) Subscribe(filter Filter) *Subscriber {
	sub := &Subscriber{
		ID:     uuid.NewString(),
		filter: filter,
		inbox:  make(chan Delivery, b.maxInbox),
		bus:    b,
	}
	b.mu.Lock()
	b.subscribers[sub.ID] = sub
	count := len(b.subscribers)
	b.mu.Unlock()
	metrics.Global().SetSubscribersActive(count)
	return sub
}

// Unsubscribe removes sub from the bus and closes its inbox.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	_, ok := b.subscribers[sub.ID]
	if ok {
		delete(b.subscribers, sub.ID)
		close(sub.inbox)
	}
	count := len(b.subscribers)
	b.mu.Unlock()
	metrics.Global().SetSubscribersActive(count)
}

// Publish implements registry.Publisher: it fans change out to every
// matching subscriber, redelivering via the resilience layer's retry
// envelope on a full inbox before falling back to drop-oldest.
func (b *Bus) Publish(ctx context.Context, change registry.Change) {
	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		if s.filter.matches(change) {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		delivery := Delivery{SequenceID: sub.nextSeq(), Change: change}
		b.deliverWithRetry(ctx, sub, delivery)
	}
	metrics.Global().RecordSubscriptionEvent("subscription-bus", string(change.Kind))
}

func (b *Bus) deliverWithRetry(ctx context.Context, sub *Subscriber, d Delivery) {
	err := resilience.Retry(ctx, b.retry, func() error {
		select {
		case sub.inbox <- d:
			return nil
		default:
			return errFullInbox
		}
	})
	if err != nil {
		b.dropOldestAndDeliver(sub, d)
		metrics.Global().RecordSubscriptionDrop("subscription-bus")
	}
}

func (b *Bus) dropOldestAndDeliver(sub *Subscriber, d Delivery) {
	select {
	case <-sub.inbox:
	default:
	}
	select {
	case sub.inbox <- d:
	default:
		b.log.Warn(context.Background(), "subscriber inbox still full after drop-oldest", map[string]interface{}{"subscriber": sub.ID})
	}
}

var errFullInbox = &fullInboxError{}

type fullInboxError struct{}

func (e *fullInboxError) Error() string { return "subscriber inbox full" }

// SubscriberCount returns the number of currently active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// WaitForDelivery blocks until sub receives a delivery or the deadline
// elapses; used by tests and by synchronous CONSENSUS-mode acknowledgment
// collection.
func WaitForDelivery(ctx context.Context, sub *Subscriber, deadline time.Duration) (Delivery, bool) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case d, ok := <-sub.inbox:
		return d, ok
	case <-timer.C:
		return Delivery{}, false
	case <-ctx.Done():
		return Delivery{}, false
	}
}
