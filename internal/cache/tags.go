// Package cache tracks invalidation versions for render caches keyed by
// couplet slug. Renderers remember the version a page was built against and
// rebuild when the tag has moved on.
package cache

import "sync"

// TagStore is a monotonic version counter per cache tag.
type TagStore struct {
	mu       sync.RWMutex
	versions map[string]uint64
}

// NewTagStore constructs an empty TagStore.
func NewTagStore() *TagStore {
	return &TagStore{versions: make(map[string]uint64)}
}

// Invalidate bumps the version of every given tag.
func (s *TagStore) Invalidate(tags ...string) {
	if len(tags) == 0 {
		return
	}
	s.mu.Lock()
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		s.versions[tag]++
	}
	s.mu.Unlock()
}

// Version returns the current version of a tag; an untouched tag is 0.
func (s *TagStore) Version(tag string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versions[tag]
}

// Fresh reports whether content rendered at the observed version is still
// current for the tag.
func (s *TagStore) Fresh(tag string, observed uint64) bool {
	return s.Version(tag) == observed
}
