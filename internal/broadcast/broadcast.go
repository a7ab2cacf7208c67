// Package broadcast is the same-origin notification channel between
// concurrently open sessions of the site: one session's queue write is
// observed by the others without a server round trip.
package broadcast

import (
	"context"
	"sync"
	"time"
)

const (
	// TopicQueueChanged fires whenever the persisted mutation queue is
	// rewritten; subscribers re-read the queue and recompute overlay state.
	TopicQueueChanged = "queue-changed"
	// TopicInteractions carries explicit per-interaction payloads so a
	// subscriber can skip events for entities it is not rendering.
	TopicInteractions = "interactions"
)

// Event is one broadcast payload. CoupletID, UserID, Op and Language are
// only populated on TopicInteractions.
type Event struct {
	Topic     string
	CoupletID string
	UserID    string
	Op        string
	Language  string
	Timestamp time.Time
}

// Dispatcher fans events out to in-process subscribers. Delivery is
// best-effort: a subscriber whose buffer is full misses the event and
// converges on its next queue read.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Event
}

// NewDispatcher constructs a Dispatcher with a small per-subscriber buffer.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe registers interest in a topic until the context is cancelled or
// the returned cleanup runs.
func (d *Dispatcher) Subscribe(ctx context.Context, topic string) (<-chan Event, func()) {
	if topic == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Event, d.bufferSize),
	}
	d.register(topic, sub)
	cleanup := func() {
		d.unregister(topic, sub.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers the event to every current subscriber of its topic
// without blocking the publisher.
func (d *Dispatcher) Publish(event Event) {
	if event.Topic == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[event.Topic]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(topic string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[topic]; !ok {
		d.subscribers[topic] = make(map[int64]*subscriber)
	}
	d.subscribers[topic][sub.id] = sub
}

func (d *Dispatcher) unregister(topic string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[topic]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, topic)
		}
	}
	d.mu.Unlock()
}
