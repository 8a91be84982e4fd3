// Package broadcast fans a job's state-change events out to live
// subscribers and keeps the latest snapshot for late joiners. Streams
// are keyed by job or batch identifier.
package broadcast

import (
	"sync"
	"time"

	"github.com/timmy/prospect/internal/domain"
	"github.com/timmy/prospect/internal/logger"
)

// subscriberBuffer is the per-subscription channel depth. A consumer
// that falls further behind has its oldest frames evicted; every frame
// carries a full snapshot, so a later frame supersedes dropped ones.
const subscriberBuffer = 32

// Subscription is one observer's live feed. The channel is closed when
// the subscription is closed or the stream is evicted.
type Subscription struct {
	C chan domain.Event

	streamID string
	b        *Broadcaster

	mu     sync.Mutex
	closed bool
}

// Close detaches the subscription from its stream and closes the feed.
func (s *Subscription) Close() {
	s.b.unsubscribe(s)
	s.closeChan()
}

// push enqueues without blocking, evicting the oldest buffered frame if
// the consumer has stalled. No-op once the subscription is closed.
func (s *Subscription) push(evt domain.Event) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for {
		select {
		case s.C <- evt:
			return dropped
		default:
		}
		select {
		case <-s.C:
			dropped = true
		default:
		}
	}
}

func (s *Subscription) closeChan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.C)
	}
}

// Broadcaster owns all streams and their subscriptions.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	latest map[string]domain.Event
	log    *logger.Logger
}

// New creates an empty broadcaster.
func New(log *logger.Logger) *Broadcaster {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Broadcaster{
		subs:   make(map[string]map[*Subscription]struct{}),
		latest: make(map[string]domain.Event),
		log:    log.WithField(logger.FieldComponent, "broadcast"),
	}
}

// Subscribe attaches a live feed to a stream. It returns the latest
// event (so a mid-phase joiner sees current state immediately, closing
// the missed-update race) plus the subscription; ok is false when the
// stream has produced nothing yet.
func (b *Broadcaster) Subscribe(streamID string) (domain.Event, bool, *Subscription) {
	sub := &Subscription{
		C:        make(chan domain.Event, subscriberBuffer),
		streamID: streamID,
		b:        b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[streamID] == nil {
		b.subs[streamID] = make(map[*Subscription]struct{})
	}
	b.subs[streamID][sub] = struct{}{}
	last, ok := b.latest[streamID]
	return last, ok, sub
}

// Latest returns the most recent event of a stream for polling access.
func (b *Broadcaster) Latest(streamID string) (domain.Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	evt, ok := b.latest[streamID]
	return evt, ok
}

// Publish delivers an event to every subscriber of its stream, in
// publish order, and records it as the stream's latest snapshot.
// Delivery never blocks the publisher: a stalled subscriber has its
// oldest frame evicted, which coalesces the backlog into the newer
// snapshots while keeping the terminal frame deliverable.
func (b *Broadcaster) Publish(evt domain.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	b.latest[evt.StreamID] = evt
	targets := make([]*Subscription, 0, len(b.subs[evt.StreamID]))
	for sub := range b.subs[evt.StreamID] {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		if sub.push(evt) {
			b.log.WithField(logger.FieldJobID, evt.StreamID).Debug("Slow subscriber, coalescing into next snapshot")
		}
	}
}

// Evict ends a stream: subscribers receive a final eviction event, all
// feeds are closed, and the snapshot is dropped. Used by the registry
// when a retained job is removed.
func (b *Broadcaster) Evict(streamID string, reason string) {
	evt := domain.Event{
		StreamID:  streamID,
		Type:      domain.EventEvicted,
		Message:   reason,
		Timestamp: time.Now().UTC(),
	}

	b.mu.Lock()
	targets := b.subs[streamID]
	delete(b.subs, streamID)
	delete(b.latest, streamID)
	b.mu.Unlock()

	for sub := range targets {
		sub.push(evt)
		sub.closeChan()
	}
	if len(targets) > 0 {
		b.log.WithFields(logger.Fields{
			logger.FieldJobID: streamID,
			logger.FieldCount: len(targets),
		}).Info("Stream evicted, subscribers notified")
	}
}

// SubscriberCount reports the number of live subscriptions on a stream.
func (b *Broadcaster) SubscriberCount(streamID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[streamID])
}

func (b *Broadcaster) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if set, ok := b.subs[sub.streamID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.streamID)
		}
	}
	b.mu.Unlock()
}
