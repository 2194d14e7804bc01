package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/triveda-health/platform/internal/shared/config"
	"github.com/triveda-health/platform/internal/shared/metrics"
	"github.com/triveda-health/platform/internal/shared/types"
)

// Subscription is one subscriber's attachment to a diagnosis topic.
// Events arrive over the bounded inbox channel; when the inbox is full
// the oldest undelivered event is dropped and counted.
type Subscription struct {
	ID          types.ID
	DiagnosisID types.ID

	inbox   chan Event
	dropped atomic.Int64

	fabric *Fabric

	// sendMu serializes sends with the close on detach so a publish can
	// never hit a closed inbox
	sendMu sync.Mutex
	closed bool
}

// Events is the subscriber's receive channel. Closed on unsubscribe or
// disconnect.
func (s *Subscription) Events() <-chan Event {
	return s.inbox
}

// Dropped reports how many events were evicted from this subscription's
// inbox
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close detaches the subscription from its topic and closes the inbox
func (s *Subscription) Close() {
	s.fabric.unsubscribe(s)
}

// Fabric routes diagnosis-scoped events to live subscribers. Topics are
// created on demand, one per diagnosis; fan-outs to a topic are
// serialized so every subscriber observes the same order, but the
// sends themselves run against a roster snapshot with no topic lock
// held. Events published to a topic with no subscribers are held in a
// bounded replay queue and flushed to the first subscriber.
type Fabric struct {
	inboxCapacity int
	sendTimeout   time.Duration
	replaySize    int
	replayTTL     time.Duration
	now           func() time.Time

	mu          sync.RWMutex
	topics      map[types.ID]*topic
	subscribers int
}

type topic struct {
	// pubMu serializes fan-outs; mu guards the roster and replay queue
	// and is never held during a send
	pubMu sync.Mutex

	mu     sync.Mutex
	subs   map[types.ID]*Subscription
	replay []queuedEvent
}

type queuedEvent struct {
	event    Event
	queuedAt time.Time
}

// FabricOption configures the fabric
type FabricOption func(*Fabric)

// WithSendTimeout overrides the slow-subscriber disconnect timeout
func WithSendTimeout(d time.Duration) FabricOption {
	return func(f *Fabric) {
		if d > 0 {
			f.sendTimeout = d
		}
	}
}

// WithFabricClock overrides the time source; tests use this
func WithFabricClock(now func() time.Time) FabricOption {
	return func(f *Fabric) { f.now = now }
}

// NewFabric creates a broadcast fabric from the engine configuration
func NewFabric(cfg config.EngineConfig, opts ...FabricOption) *Fabric {
	f := &Fabric{
		inboxCapacity: cfg.InboxCapacity,
		sendTimeout:   time.Duration(cfg.SubscriberSendTimeoutSeconds) * time.Second,
		replaySize:    cfg.ReplayQueueSize,
		replayTTL:     time.Duration(cfg.ReplayTTLHours) * time.Hour,
		now:           time.Now,
		topics:        make(map[types.ID]*topic),
	}
	if f.inboxCapacity <= 0 {
		f.inboxCapacity = 64
	}
	if f.sendTimeout <= 0 {
		f.sendTimeout = 5 * time.Second
	}
	if f.replaySize <= 0 {
		f.replaySize = 100
	}
	if f.replayTTL <= 0 {
		f.replayTTL = 24 * time.Hour
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Subscribe attaches a new subscriber to the diagnosis topic. If the
// topic was idle, its replay queue is flushed to this subscriber in
// publish order and then cleared; later subscribers start from live
// traffic only. The flush is lossless: an inbox smaller than the
// surviving queue is sized up to hold all of it.
func (f *Fabric) Subscribe(diagnosisID types.ID) *Subscription {
	t := f.topic(diagnosisID)

	t.mu.Lock()
	replay := t.replay
	t.replay = nil

	cutoff := f.now().Add(-f.replayTTL)
	flush := replay[:0]
	for _, q := range replay {
		if q.queuedAt.Before(cutoff) {
			metrics.RecordBroadcastDrop("replay_expired")
			continue
		}
		flush = append(flush, q)
	}

	capacity := f.inboxCapacity
	if len(flush) > capacity {
		capacity = len(flush)
	}
	sub := &Subscription{
		ID:          types.NewID(),
		DiagnosisID: diagnosisID,
		inbox:       make(chan Event, capacity),
		fabric:      f,
	}
	for _, q := range flush {
		sub.inbox <- q.event
	}
	t.subs[sub.ID] = sub
	t.mu.Unlock()

	f.mu.Lock()
	f.subscribers++
	metrics.SetBroadcastSubscribers(f.subscribers)
	f.mu.Unlock()

	return sub
}

// Publish fans an event out to every current subscriber of its topic.
// With no subscribers the event is queued for replay instead, evicting
// the oldest entry when the queue is full.
func (f *Fabric) Publish(event Event) {
	metrics.RecordBroadcastPublish()

	t := f.topic(event.DiagnosisID)
	t.pubMu.Lock()
	defer t.pubMu.Unlock()

	t.mu.Lock()
	if len(t.subs) == 0 {
		f.enqueueReplay(t, event)
		t.mu.Unlock()
		return
	}
	// Roster snapshot: subscribers joining mid-publish see the next event
	roster := make([]*Subscription, 0, len(t.subs))
	for _, sub := range t.subs {
		roster = append(roster, sub)
	}
	t.mu.Unlock()

	for _, sub := range roster {
		f.deliver(t, sub, event)
	}
}

// PurgeExpiredReplays drops replay entries past their TTL across all
// topics. Publishes and subscriptions purge lazily; the scheduler calls
// this so idle topics do not hold expired events for a full day.
func (f *Fabric) PurgeExpiredReplays() {
	f.mu.RLock()
	topics := make([]*topic, 0, len(f.topics))
	for _, t := range f.topics {
		topics = append(topics, t)
	}
	f.mu.RUnlock()

	cutoff := f.now().Add(-f.replayTTL)
	for _, t := range topics {
		t.mu.Lock()
		kept := t.replay[:0]
		for _, q := range t.replay {
			if q.queuedAt.Before(cutoff) {
				metrics.RecordBroadcastDrop("replay_expired")
				continue
			}
			kept = append(kept, q)
		}
		t.replay = kept
		t.mu.Unlock()
	}
}

// SubscriberCount reports the live subscribers of one topic
func (f *Fabric) SubscriberCount(diagnosisID types.ID) int {
	t := f.topic(diagnosisID)
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func (f *Fabric) topic(diagnosisID types.ID) *topic {
	f.mu.RLock()
	t, ok := f.topics[diagnosisID]
	f.mu.RUnlock()
	if ok {
		return t
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok = f.topics[diagnosisID]; ok {
		return t
	}
	t = &topic{subs: make(map[types.ID]*Subscription)}
	f.topics[diagnosisID] = t
	return t
}

// deliver places an event into one subscriber's inbox. A full inbox
// sheds its oldest event first; a subscriber that still cannot accept
// within the send timeout is disconnected. Only the slow subscriber is
// affected either way.
func (f *Fabric) deliver(t *topic, sub *Subscription, event Event) {
	sub.sendMu.Lock()
	if sub.closed {
		sub.sendMu.Unlock()
		return
	}

	select {
	case sub.inbox <- event:
		sub.sendMu.Unlock()
		return
	default:
	}

	select {
	case <-sub.inbox:
		sub.dropped.Add(1)
		metrics.RecordBroadcastDrop("inbox_full")
	default:
	}

	ok := f.timedSend(sub, event)
	sub.sendMu.Unlock()
	if !ok {
		metrics.RecordBroadcastDrop("slow_subscriber")
		f.detach(t, sub)
	}
}

// timedSend blocks until the subscriber accepts the event or the send
// timeout elapses. Callers hold sub.sendMu.
func (f *Fabric) timedSend(sub *Subscription, event Event) bool {
	timer := time.NewTimer(f.sendTimeout)
	defer timer.Stop()
	select {
	case sub.inbox <- event:
		return true
	case <-timer.C:
		return false
	}
}

// enqueueReplay appends to the topic's replay queue, dropping expired
// entries and evicting the oldest when the queue is full
func (f *Fabric) enqueueReplay(t *topic, event Event) {
	cutoff := f.now().Add(-f.replayTTL)
	kept := t.replay[:0]
	for _, q := range t.replay {
		if q.queuedAt.Before(cutoff) {
			metrics.RecordBroadcastDrop("replay_expired")
			continue
		}
		kept = append(kept, q)
	}
	t.replay = kept

	if len(t.replay) >= f.replaySize {
		t.replay = t.replay[1:]
		metrics.RecordBroadcastDrop("replay_evicted")
	}
	t.replay = append(t.replay, queuedEvent{event: event, queuedAt: f.now()})
}

func (f *Fabric) unsubscribe(sub *Subscription) {
	f.detach(f.topic(sub.DiagnosisID), sub)
}

// detach removes the subscription from the topic roster and closes its
// inbox. The roster delete picks the single winner when two detaches
// race; the send lock keeps publishers off the inbox while it closes.
func (f *Fabric) detach(t *topic, sub *Subscription) {
	t.mu.Lock()
	_, attached := t.subs[sub.ID]
	delete(t.subs, sub.ID)
	t.mu.Unlock()
	if !attached {
		return
	}

	sub.sendMu.Lock()
	sub.closed = true
	close(sub.inbox)
	sub.sendMu.Unlock()

	f.mu.Lock()
	f.subscribers--
	metrics.SetBroadcastSubscribers(f.subscribers)
	f.mu.Unlock()
}
