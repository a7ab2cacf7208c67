package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/risalo/backend/internal/interactions"
)

type sequenceIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("mutation-%d", p.next), nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1700000000000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type fakeApplier struct {
	mu      sync.Mutex
	calls   [][]interactions.Mutation
	err     error
	results func(batch []interactions.Mutation) []interactions.MutationResult
}

func (a *fakeApplier) Apply(_ context.Context, batch []interactions.Mutation) ([]interactions.MutationResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	copied := make([]interactions.Mutation, len(batch))
	copy(copied, batch)
	a.calls = append(a.calls, copied)
	if a.err != nil {
		return nil, a.err
	}
	if a.results != nil {
		return a.results(batch), nil
	}
	results := make([]interactions.MutationResult, 0, len(batch))
	for _, mutation := range batch {
		results = append(results, interactions.MutationResult{ID: mutation.ID, Success: true})
	}
	return results, nil
}

func (a *fakeApplier) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func newTestQueue(t *testing.T, store Store) *MutationQueue {
	t.Helper()
	if store == nil {
		store = NewMemoryStore()
	}
	q, err := NewMutationQueue(Config{
		Store:      store,
		Clock:      newFakeClock().Now,
		IDProvider: &sequenceIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to construct queue: %v", err)
	}
	return q
}

func mustEntityKey(t *testing.T, raw string) interactions.EntityKey {
	t.Helper()
	key, err := interactions.NewEntityKey(raw)
	if err != nil {
		t.Fatalf("unexpected entity key error: %v", err)
	}
	return key
}

func mustEnqueue(t *testing.T, q *MutationQueue, op interactions.Op, key interactions.EntityKey) interactions.Mutation {
	t.Helper()
	mutation, err := q.Enqueue(op, key)
	if err != nil {
		t.Fatalf("unexpected enqueue error: %v", err)
	}
	return mutation
}
