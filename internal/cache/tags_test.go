package cache

import "testing"

func TestInvalidateBumpsVersion(t *testing.T) {
	store := NewTagStore()
	if store.Version("shah-latif-1") != 0 {
		t.Fatalf("untouched tag must start at version 0")
	}

	store.Invalidate("shah-latif-1")
	if store.Version("shah-latif-1") != 1 {
		t.Fatalf("expected version 1, got %d", store.Version("shah-latif-1"))
	}

	store.Invalidate("shah-latif-1", "shah-latif-2")
	if store.Version("shah-latif-1") != 2 || store.Version("shah-latif-2") != 1 {
		t.Fatalf("unexpected versions %d %d", store.Version("shah-latif-1"), store.Version("shah-latif-2"))
	}
}

func TestFreshTracksObservedVersion(t *testing.T) {
	store := NewTagStore()
	observed := store.Version("shah-latif-1")
	if !store.Fresh("shah-latif-1", observed) {
		t.Fatalf("expected fresh before invalidation")
	}

	store.Invalidate("shah-latif-1")
	if store.Fresh("shah-latif-1", observed) {
		t.Fatalf("expected stale after invalidation")
	}
}

func TestInvalidateIgnoresEmptyTags(t *testing.T) {
	store := NewTagStore()
	store.Invalidate("")
	store.Invalidate()
	if store.Version("") != 0 {
		t.Fatalf("empty tag must never be tracked")
	}
}
