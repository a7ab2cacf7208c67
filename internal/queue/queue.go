// Package queue implements the client-side sync engine: a durable ordered
// queue of interaction mutations and the background flusher that drains it
// to the batch-apply endpoint.
package queue

import (
	"errors"
	"sync"
	"time"

	"github.com/risalo/backend/internal/broadcast"
	"github.com/risalo/backend/internal/interactions"
	"github.com/risalo/backend/internal/metrics"
	"go.uber.org/zap"
)

var (
	errMissingStore = errors.New("queue: store is required")
	noOpLogger      = zap.NewNop()
)

// Config describes the dependencies for a MutationQueue. One queue is
// constructed per session and passed by reference to its consumers.
type Config struct {
	Store      Store
	Clock      func() time.Time
	IDProvider interactions.IDProvider
	Logger     *zap.Logger
	Dispatcher *broadcast.Dispatcher
	Language   string
	Metrics    *metrics.Metrics
}

// MutationQueue is the ordered list of pending interaction mutations. The
// in-memory list is authoritative for the session; the store write is
// best-effort durability plus the broadcast that other sessions observe.
type MutationQueue struct {
	mu         sync.Mutex
	store      Store
	clock      func() time.Time
	ids        interactions.IDProvider
	logger     *zap.Logger
	dispatcher *broadcast.Dispatcher
	language   string
	metrics    *metrics.Metrics
	pending    []interactions.Mutation
	degraded   bool
}

// NewMutationQueue validates the configuration, loads any persisted queue,
// and returns the queue. A store that fails to load yields an empty queue
// rather than a constructor error.
func NewMutationQueue(cfg Config) (*MutationQueue, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = interactions.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	metricSet := cfg.Metrics
	if metricSet == nil {
		metricSet = metrics.New(nil)
	}

	q := &MutationQueue{
		store:      cfg.Store,
		clock:      clock,
		ids:        ids,
		logger:     logger,
		dispatcher: cfg.Dispatcher,
		language:   cfg.Language,
		metrics:    metricSet,
	}

	pending, err := cfg.Store.Load()
	if err != nil {
		logger.Warn("queue load failed, starting empty",
			zap.String("operation", "queue.load"),
			zap.Error(err))
	} else {
		q.pending = pending
	}
	metricSet.QueueDepth.Set(float64(len(q.pending)))

	return q, nil
}

// Enqueue records a user intent. Persistence failure degrades to
// memory-only durability for this session and is never surfaced to the
// caller; only identifier generation can fail.
func (q *MutationQueue) Enqueue(op interactions.Op, key interactions.EntityKey) (interactions.Mutation, error) {
	id, err := q.ids.NewID()
	if err != nil {
		return interactions.Mutation{}, err
	}

	now := q.clock()
	mutation := interactions.Mutation{
		ID:         id,
		Op:         op,
		EntityID:   key.String(),
		EntityType: interactions.EntityTypeCouplet,
		TsMillis:   now.UnixMilli(),
	}

	q.mu.Lock()
	q.pending = append(q.pending, mutation)
	q.persistLocked()
	q.mu.Unlock()

	q.metrics.EnqueuedTotal.Inc()
	q.publishChange()
	if q.dispatcher != nil {
		q.dispatcher.Publish(broadcast.Event{
			Topic:     broadcast.TopicInteractions,
			CoupletID: key.CoupletID(),
			UserID:    key.UserID(),
			Op:        string(op),
			Language:  q.language,
			Timestamp: now,
		})
	}

	return mutation, nil
}

// LatestForEntity returns the most recently enqueued mutation for the
// entity, or false when none is pending. Timestamp ties resolve to the
// later queue position, so a rapid toggle always reflects the last click.
func (q *MutationQueue) LatestForEntity(key interactions.EntityKey, entityType interactions.EntityType) (interactions.Mutation, bool) {
	entityID := key.String()

	q.mu.Lock()
	defer q.mu.Unlock()

	var latest interactions.Mutation
	found := false
	for _, mutation := range q.pending {
		if mutation.EntityID != entityID || mutation.EntityType != entityType {
			continue
		}
		if !found || mutation.TsMillis >= latest.TsMillis {
			latest = mutation
			found = true
		}
	}
	return latest, found
}

// Dequeue removes mutations confirmed by the server.
func (q *MutationQueue) Dequeue(ids []string) {
	if len(ids) == 0 {
		return
	}
	removable := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		removable[id] = struct{}{}
	}

	q.mu.Lock()
	kept := q.pending[:0]
	for _, mutation := range q.pending {
		if _, ok := removable[mutation.ID]; !ok {
			kept = append(kept, mutation)
		}
	}
	q.pending = kept
	q.persistLocked()
	q.mu.Unlock()

	q.publishChange()
}

// RecordFailure increments the attempt counter for the identified mutations
// and removes the ones that have exhausted maxAttempts, returning them so
// the caller can surface the permanent failure.
func (q *MutationQueue) RecordFailure(ids []string, maxAttempts int) []interactions.Mutation {
	if len(ids) == 0 {
		return nil
	}
	failing := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		failing[id] = struct{}{}
	}

	var dropped []interactions.Mutation
	q.mu.Lock()
	kept := q.pending[:0]
	for _, mutation := range q.pending {
		if _, ok := failing[mutation.ID]; !ok {
			kept = append(kept, mutation)
			continue
		}
		mutation.Attempts++
		if maxAttempts > 0 && mutation.Attempts >= maxAttempts {
			dropped = append(dropped, mutation)
			continue
		}
		kept = append(kept, mutation)
	}
	q.pending = kept
	q.persistLocked()
	q.mu.Unlock()

	q.publishChange()
	return dropped
}

// All returns a copy of the pending queue in enqueue order.
func (q *MutationQueue) All() []interactions.Mutation {
	q.mu.Lock()
	defer q.mu.Unlock()
	copied := make([]interactions.Mutation, len(q.pending))
	copy(copied, q.pending)
	return copied
}

// Stats summarizes queue occupancy for the flusher status surface.
type Stats struct {
	Total   int
	Pending int
	Failed  int
}

// Stats returns current queue occupancy. Failed counts mutations that have
// at least one unsuccessful flush attempt behind them.
func (q *MutationQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{Total: len(q.pending)}
	for _, mutation := range q.pending {
		if mutation.Attempts > 0 {
			stats.Failed++
		} else {
			stats.Pending++
		}
	}
	return stats
}

// Reload replaces the in-memory queue with the store contents. Sessions
// sharing a store call this when they observe a queue-changed broadcast.
func (q *MutationQueue) Reload() error {
	pending, err := q.store.Load()
	if err != nil {
		q.logger.Warn("queue reload failed",
			zap.String("operation", "queue.reload"),
			zap.Error(err))
		return err
	}

	q.mu.Lock()
	q.pending = pending
	depth := len(q.pending)
	q.mu.Unlock()

	q.metrics.QueueDepth.Set(float64(depth))
	return nil
}

// Degraded reports whether the last persist attempt failed, leaving this
// session on memory-only durability.
func (q *MutationQueue) Degraded() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.degraded
}

func (q *MutationQueue) persistLocked() {
	snapshot := make([]interactions.Mutation, len(q.pending))
	copy(snapshot, q.pending)
	if err := q.store.Save(snapshot); err != nil {
		q.degraded = true
		q.metrics.PersistErrorsTotal.Inc()
		q.logger.Warn("queue persist failed, continuing memory-only",
			zap.String("operation", "queue.persist"),
			zap.Error(err))
	} else {
		q.degraded = false
	}
	q.metrics.QueueDepth.Set(float64(len(q.pending)))
}

func (q *MutationQueue) publishChange() {
	if q.dispatcher == nil {
		return
	}
	q.dispatcher.Publish(broadcast.Event{
		Topic:     broadcast.TopicQueueChanged,
		Timestamp: q.clock(),
	})
}
