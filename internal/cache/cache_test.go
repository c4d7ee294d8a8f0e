package cache

import (
	"testing"
	"time"
)

func TestGetReturnsStoredValue(t *testing.T) {
	c := NewLRUCache[string](10, time.Minute)
	c.Set("currency", "EUR")

	got, found := c.Get("currency")
	if !found || got != "EUR" {
		t.Fatalf("got (%q, %v), want (\"EUR\", true)", got, found)
	}
}

func TestGetExpiredEntryMisses(t *testing.T) {
	c := NewLRUCache[string](10, 10*time.Millisecond)
	c.Set("currency", "EUR")
	time.Sleep(20 * time.Millisecond)

	if _, found := c.Get("currency"); found {
		t.Fatal("expected expired entry to miss")
	}
	if c.Size() != 0 {
		t.Fatalf("size = %d, want 0 after lazy eviction", c.Size())
	}
}

func TestSetEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // refresh a, leaving b as the eviction candidate
	c.Set("c", 3)

	if _, found := c.Get("b"); found {
		t.Fatal("expected b to be evicted")
	}
	if _, found := c.Get("a"); !found {
		t.Fatal("expected a to survive")
	}
	if c.Size() != 2 {
		t.Fatalf("size = %d, want 2", c.Size())
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)
	c.Set("a", 1)
	c.Delete("a")

	if _, found := c.Get("a"); found {
		t.Fatal("expected deleted entry to miss")
	}
}

func TestCleanExpiredReportsRemovedCount(t *testing.T) {
	c := NewLRUCache[int](10, 10*time.Millisecond)
	c.Set("a", 1)
	c.Set("b", 2)
	time.Sleep(20 * time.Millisecond)
	c.Set("fresh", 3)
	// fresh entry has the same short TTL, so clean before it expires

	if removed := c.CleanExpired(); removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if c.Size() != 1 {
		t.Fatalf("size = %d, want 1", c.Size())
	}
}

func TestManagerCleansRegisteredCaches(t *testing.T) {
	c := NewLRUCache[int](10, 5*time.Millisecond)
	c.Set("a", 1)

	m := NewManager()
	m.Register(c)
	m.StartCleanup(10 * time.Millisecond)
	defer m.Stop()

	deadline := time.After(500 * time.Millisecond)
	for c.Size() != 0 {
		select {
		case <-deadline:
			t.Fatal("cleanup never removed the expired entry")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
