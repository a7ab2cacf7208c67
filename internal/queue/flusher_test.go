package queue

import (
	"errors"
	"testing"

	"github.com/risalo/backend/internal/interactions"
)

func newTestFlusher(t *testing.T, q *MutationQueue, applier Applier, maxAttempts int, onDrop DropHandler) *Flusher {
	t.Helper()
	f, err := NewFlusher(FlusherConfig{
		Queue:       q,
		Applier:     applier,
		MaxAttempts: maxAttempts,
		OnDrop:      onDrop,
	})
	if err != nil {
		t.Fatalf("failed to construct flusher: %v", err)
	}
	return f
}

func TestFlushRoundTripEmptiesQueue(t *testing.T) {
	q := newTestQueue(t, nil)
	applier := &fakeApplier{}
	f := newTestFlusher(t, q, applier, 5, nil)

	mustEnqueue(t, q, interactions.OpLike, mustEntityKey(t, "couplet-1:user-1"))
	f.runFlushCycle()

	if stats := q.Stats(); stats.Total != 0 {
		t.Fatalf("confirmed mutation must leave the queue, stats %+v", stats)
	}
	if applier.callCount() != 1 {
		t.Fatalf("expected exactly one request, got %d", applier.callCount())
	}

	// A second cycle with an empty queue must not issue a request.
	f.runFlushCycle()
	if applier.callCount() != 1 {
		t.Fatalf("empty queue must not produce a request, got %d calls", applier.callCount())
	}
}

func TestFlushTransportFailureRetriesUpToCap(t *testing.T) {
	q := newTestQueue(t, nil)
	applier := &fakeApplier{err: errors.New("connection refused")}
	var droppedIDs []string
	var droppedReason string
	f := newTestFlusher(t, q, applier, 3, func(mutation interactions.Mutation, reason string) {
		droppedIDs = append(droppedIDs, mutation.ID)
		droppedReason = reason
	})

	mutation := mustEnqueue(t, q, interactions.OpLike, mustEntityKey(t, "couplet-1:user-1"))

	for cycle := 0; cycle < 3; cycle++ {
		f.runFlushCycle()
	}

	if stats := q.Stats(); stats.Total != 0 {
		t.Fatalf("mutation must be dropped after the retry cap, stats %+v", stats)
	}
	if applier.callCount() != 3 {
		t.Fatalf("expected 3 attempts, got %d", applier.callCount())
	}
	if len(droppedIDs) != 1 || droppedIDs[0] != mutation.ID {
		t.Fatalf("drop handler must see the abandoned mutation, got %v", droppedIDs)
	}
	if droppedReason != DropReasonExhausted {
		t.Fatalf("unexpected drop reason %q", droppedReason)
	}

	// Nothing left: further cycles are silent.
	f.runFlushCycle()
	if applier.callCount() != 3 {
		t.Fatalf("no further requests expected, got %d", applier.callCount())
	}
}

func TestFlushPermanentRejectionIsDroppedImmediately(t *testing.T) {
	q := newTestQueue(t, nil)
	applier := &fakeApplier{
		results: func(batch []interactions.Mutation) []interactions.MutationResult {
			results := make([]interactions.MutationResult, 0, len(batch))
			for _, mutation := range batch {
				results = append(results, interactions.MutationResult{
					ID:    mutation.ID,
					Error: interactions.FailureNotFound,
				})
			}
			return results
		},
	}
	var dropped []string
	var reasons []string
	f := newTestFlusher(t, q, applier, 5, func(mutation interactions.Mutation, reason string) {
		dropped = append(dropped, mutation.ID)
		reasons = append(reasons, reason)
	})

	mutation := mustEnqueue(t, q, interactions.OpLike, mustEntityKey(t, "couplet-gone:user-1"))
	f.runFlushCycle()

	if stats := q.Stats(); stats.Total != 0 {
		t.Fatalf("rejected mutation must not be retried, stats %+v", stats)
	}
	if applier.callCount() != 1 {
		t.Fatalf("expected a single attempt, got %d", applier.callCount())
	}
	if len(dropped) != 1 || dropped[0] != mutation.ID || reasons[0] != interactions.FailureNotFound {
		t.Fatalf("drop handler must carry the rejection reason, got %v %v", dropped, reasons)
	}
}

func TestFlushRetryableFailureStaysQueued(t *testing.T) {
	q := newTestQueue(t, nil)
	applier := &fakeApplier{
		results: func(batch []interactions.Mutation) []interactions.MutationResult {
			results := make([]interactions.MutationResult, 0, len(batch))
			for _, mutation := range batch {
				results = append(results, interactions.MutationResult{
					ID:    mutation.ID,
					Error: interactions.FailureStorage,
				})
			}
			return results
		},
	}
	f := newTestFlusher(t, q, applier, 5, nil)

	mustEnqueue(t, q, interactions.OpLike, mustEntityKey(t, "couplet-1:user-1"))
	f.runFlushCycle()

	stats := q.Stats()
	if stats.Total != 1 || stats.Failed != 1 {
		t.Fatalf("retryable failure must stay queued with an attempt recorded, stats %+v", stats)
	}
}

func TestFlushPartialBatchSettlement(t *testing.T) {
	q := newTestQueue(t, nil)
	applier := &fakeApplier{
		results: func(batch []interactions.Mutation) []interactions.MutationResult {
			results := make([]interactions.MutationResult, 0, len(batch))
			for index, mutation := range batch {
				if index == 0 {
					results = append(results, interactions.MutationResult{ID: mutation.ID, Success: true})
				} else {
					results = append(results, interactions.MutationResult{ID: mutation.ID, Error: interactions.FailureStorage})
				}
			}
			return results
		},
	}
	f := newTestFlusher(t, q, applier, 5, nil)

	confirmed := mustEnqueue(t, q, interactions.OpLike, mustEntityKey(t, "couplet-1:user-1"))
	retried := mustEnqueue(t, q, interactions.OpBookmark, mustEntityKey(t, "couplet-2:user-1"))

	f.runFlushCycle()

	pending := q.All()
	if len(pending) != 1 || pending[0].ID != retried.ID {
		t.Fatalf("only the failed mutation may remain, got %v", pending)
	}
	if pending[0].Attempts != 1 {
		t.Fatalf("expected one recorded attempt, got %d", pending[0].Attempts)
	}
	_ = confirmed
}

func TestFlushRespectsBatchLimit(t *testing.T) {
	q := newTestQueue(t, nil)
	applier := &fakeApplier{}
	f, err := NewFlusher(FlusherConfig{Queue: q, Applier: applier, BatchLimit: 2})
	if err != nil {
		t.Fatalf("failed to construct flusher: %v", err)
	}

	for i := 0; i < 5; i++ {
		mustEnqueue(t, q, interactions.OpLike, mustEntityKey(t, "couplet-1:user-1"))
	}
	f.runFlushCycle()

	if got := len(applier.calls[0]); got != 2 {
		t.Fatalf("expected batch of 2, got %d", got)
	}
	if stats := q.Stats(); stats.Total != 3 {
		t.Fatalf("remaining mutations must wait for the next cycle, stats %+v", stats)
	}
}

func TestFlushSkippedWhileOffline(t *testing.T) {
	q := newTestQueue(t, nil)
	applier := &fakeApplier{}
	f := newTestFlusher(t, q, applier, 5, nil)

	mustEnqueue(t, q, interactions.OpLike, mustEntityKey(t, "couplet-1:user-1"))
	f.SetOnline(false)
	f.runFlushCycle()

	if applier.callCount() != 0 {
		t.Fatalf("offline flusher must not issue requests")
	}
	if stats := q.Stats(); stats.Total != 1 {
		t.Fatalf("queue must keep accumulating offline, stats %+v", stats)
	}
}

func TestSetOnlineTransitionSignalsFlush(t *testing.T) {
	q := newTestQueue(t, nil)
	f := newTestFlusher(t, q, &fakeApplier{}, 5, nil)

	f.SetOnline(false)
	f.SetOnline(true)

	select {
	case <-f.kick:
	default:
		t.Fatalf("coming back online must request an immediate flush")
	}
}

func TestStatusReflectsQueueAndConnectivity(t *testing.T) {
	q := newTestQueue(t, nil)
	f := newTestFlusher(t, q, &fakeApplier{}, 5, nil)

	mustEnqueue(t, q, interactions.OpLike, mustEntityKey(t, "couplet-1:user-1"))
	status := f.Status()
	if !status.Online || status.Flushing {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.Queue.Total != 1 || status.Queue.Pending != 1 {
		t.Fatalf("unexpected queue stats %+v", status.Queue)
	}

	f.SetOnline(false)
	if f.Status().Online {
		t.Fatalf("status must reflect offline state")
	}
}

func TestEnqueueDuringFlushIsNotLost(t *testing.T) {
	q := newTestQueue(t, nil)
	key := mustEntityKey(t, "couplet-1:user-1")

	var enqueuedDuringFlush interactions.Mutation
	applier := &fakeApplier{}
	applier.results = func(batch []interactions.Mutation) []interactions.MutationResult {
		// Simulate a user click landing while the request is in flight.
		var err error
		enqueuedDuringFlush, err = q.Enqueue(interactions.OpUnlike, key)
		if err != nil {
			panic(err)
		}
		results := make([]interactions.MutationResult, 0, len(batch))
		for _, mutation := range batch {
			results = append(results, interactions.MutationResult{ID: mutation.ID, Success: true})
		}
		return results
	}
	f := newTestFlusher(t, q, applier, 5, nil)

	mustEnqueue(t, q, interactions.OpLike, key)
	f.runFlushCycle()

	pending := q.All()
	if len(pending) != 1 || pending[0].ID != enqueuedDuringFlush.ID {
		t.Fatalf("mutation enqueued mid-flight must survive the settlement, got %v", pending)
	}
}
