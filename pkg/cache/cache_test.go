package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestCache(opts Options) (*ResultCache, func(d time.Duration)) {
	var mu sync.Mutex
	now := time.Unix(1700000000, 0)
	opts.Clock = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}
	return New(opts), advance
}

func TestResultCache_SetGet(t *testing.T) {
	c, _ := newTestCache(Options{TTL: time.Minute})

	c.Set("search:abc", []string{"doc-1", "doc-2"})

	v, ok := c.Get("search:abc")
	if !ok {
		t.Fatalf("expected a hit")
	}
	docs, ok := v.([]string)
	if !ok || len(docs) != 2 || docs[0] != "doc-1" {
		t.Errorf("unexpected cached value: %#v", v)
	}

	if _, ok := c.Get("search:other"); ok {
		t.Errorf("expected a miss for an unknown key")
	}
}

func TestResultCache_ExpiryDeletesOnRead(t *testing.T) {
	c, advance := newTestCache(Options{TTL: 45 * time.Second})

	c.Set("query:k", "v")

	advance(44 * time.Second)
	if _, ok := c.Get("query:k"); !ok {
		t.Fatalf("expected a hit just before expiry")
	}

	advance(time.Second)
	if _, ok := c.Get("query:k"); ok {
		t.Fatalf("expected a miss at expiry")
	}
	if c.Len() != 0 {
		t.Errorf("expected the expired entry to be deleted on read, len=%d", c.Len())
	}
}

func TestResultCache_EvictsOldestInsertion(t *testing.T) {
	c, _ := newTestCache(Options{TTL: time.Minute, MaxEntries: 3})

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// Overwriting keeps the original insertion position.
	c.Set("b", 20)
	if c.Len() != 3 {
		t.Fatalf("expected overwrite not to grow the cache, len=%d", c.Len())
	}

	// Overflow evicts exactly one entry, the oldest inserted.
	c.Set("d", 4)
	if c.Len() != 3 {
		t.Fatalf("expected exactly one eviction, len=%d", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Errorf("expected the oldest entry to be evicted")
	}
	for _, key := range []string{"b", "c", "d"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("expected %q to survive the eviction", key)
		}
	}

	// After the first overwrite, "b" is still older than "c".
	c.Set("e", 5)
	if _, ok := c.Get("b"); ok {
		t.Errorf("expected overwritten entry to keep its insertion position")
	}
	if _, ok := c.Get("c"); !ok {
		t.Errorf("expected a younger entry to survive")
	}
}

func TestResultCache_Disabled(t *testing.T) {
	c, _ := newTestCache(Options{Disabled: true})

	c.Set("k", "v")
	if _, ok := c.Get("k"); ok {
		t.Errorf("expected disabled cache to always miss")
	}
	if c.Len() != 0 {
		t.Errorf("expected disabled cache to store nothing, len=%d", c.Len())
	}
	if c.Enabled() {
		t.Errorf("expected Enabled to report false")
	}
}

func TestResultCache_EmptyKeyBypasses(t *testing.T) {
	c, _ := newTestCache(Options{})

	c.Set("", "v")
	if c.Len() != 0 {
		t.Errorf("expected empty key not to be stored")
	}
	if _, ok := c.Get(""); ok {
		t.Errorf("expected empty key to miss")
	}
}

func TestResultCache_Clear(t *testing.T) {
	c, _ := newTestCache(Options{})

	c.Set("a", 1)
	c.Set("b", 2)
	c.Clear()

	if c.Len() != 0 {
		t.Errorf("expected an empty cache after Clear, len=%d", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Errorf("expected a miss after Clear")
	}

	// The cache keeps working after Clear.
	c.Set("c", 3)
	if _, ok := c.Get("c"); !ok {
		t.Errorf("expected the cache to accept entries after Clear")
	}
}

func TestResultCache_Stats(t *testing.T) {
	c, _ := newTestCache(Options{})

	c.Set("k", "v")
	c.Get("k")
	c.Get("k")
	c.Get("absent")

	stats := c.Stats()
	if stats.Hits != 2 {
		t.Errorf("expected 2 hits, got %d", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", stats.Misses)
	}
	if stats.Entries != 1 {
		t.Errorf("expected 1 entry, got %d", stats.Entries)
	}
}

func TestFetch_ComputesOnceAndCaches(t *testing.T) {
	c, _ := newTestCache(Options{})
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) ([]int, error) {
		calls++
		return []int{1, 2, 3}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := Fetch(ctx, c, "op:k", compute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("unexpected value: %v", got)
		}
	}
	if calls != 1 {
		t.Errorf("expected a single compute call, got %d", calls)
	}
}

func TestFetch_ErrorNotCached(t *testing.T) {
	c, _ := newTestCache(Options{})
	ctx := context.Background()

	boom := errors.New("upstream down")
	calls := 0
	compute := func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", boom
		}
		return "ok", nil
	}

	if _, err := Fetch(ctx, c, "op:k", compute); !errors.Is(err, boom) {
		t.Fatalf("expected the compute error to propagate, got %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("expected nothing cached after a failed compute")
	}

	got, err := Fetch(ctx, c, "op:k", compute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("expected the retry to compute a fresh value, got %q", got)
	}
	if calls != 2 {
		t.Errorf("expected 2 compute calls, got %d", calls)
	}
}

func TestFetch_WrongTypeTreatedAsMiss(t *testing.T) {
	c, _ := newTestCache(Options{})
	ctx := context.Background()

	c.Set("op:k", "a string")

	got, err := Fetch(ctx, c, "op:k", func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("expected a recompute on type mismatch, got %d", got)
	}
}
