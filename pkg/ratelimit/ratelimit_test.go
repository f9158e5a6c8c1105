package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aidekit/aide/pkg/kv"
)

// testClock returns a deterministic time source and a function to advance it.
func testClock(start time.Time) (func() time.Time, func(d time.Duration)) {
	var mu sync.Mutex
	now := start
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}
	return clock, advance
}

func newTestLimiter(t *testing.T) (*Limiter, func(d time.Duration)) {
	t.Helper()
	clock, advance := testClock(time.Unix(1700000000, 0))
	limiter := New(kv.NewMemoryStore(0), WithClock(clock))
	return limiter, advance
}

func TestLimiter_AllowsUpToLimit(t *testing.T) {
	limiter, advance := newTestLimiter(t)
	ctx := context.Background()
	policy := Policy{Limit: 2, Window: time.Second}

	// First two consumptions fit the quota.
	d, err := limiter.Consume(ctx, "chat:room-1", policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Errorf("expected first consumption to be allowed")
	}
	if d.Remaining != 1 {
		t.Errorf("expected remaining to be 1, got %d", d.Remaining)
	}

	d, err = limiter.Consume(ctx, "chat:room-1", policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Errorf("expected second consumption to be allowed")
	}
	if d.Remaining != 0 {
		t.Errorf("expected remaining to be 0, got %d", d.Remaining)
	}

	// Third overflows.
	d, err = limiter.Consume(ctx, "chat:room-1", policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Errorf("expected third consumption to be denied")
	}
	if !d.Blocked {
		t.Errorf("expected denial to report a block")
	}
	if d.RetryAfter <= 0 {
		t.Errorf("expected a retry hint, got %s", d.RetryAfter)
	}

	// After the window rolls over the quota is fresh.
	advance(time.Second)
	d, err = limiter.Consume(ctx, "chat:room-1", policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Errorf("expected consumption in the new window to be allowed")
	}
	if d.Remaining != 1 {
		t.Errorf("expected remaining to be 1 in the new window, got %d", d.Remaining)
	}
}

func TestLimiter_ExplicitBlockDuration(t *testing.T) {
	limiter, advance := newTestLimiter(t)
	ctx := context.Background()
	policy := Policy{Limit: 1, Window: time.Second, Block: 5 * time.Second}

	d, err := limiter.Consume(ctx, "seed:user-7", policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Errorf("expected first consumption to be allowed")
	}

	// Overflow places the explicit 5s block.
	d, err = limiter.Consume(ctx, "seed:user-7", policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Errorf("expected overflow to be denied")
	}
	if got := d.RetryAfterSeconds(); got != 5 {
		t.Errorf("expected retry after 5s, got %d", got)
	}

	// Still blocked after 2s even though the window itself rolled over.
	advance(2 * time.Second)
	d, err = limiter.Consume(ctx, "seed:user-7", policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Errorf("expected consumption during the block to be denied")
	}
	if !d.Blocked {
		t.Errorf("expected denial during the block to report Blocked")
	}
	if got := d.RetryAfterSeconds(); got != 3 {
		t.Errorf("expected retry after 3s, got %d", got)
	}

	// Once the block lifts the identifier starts a fresh window.
	advance(4 * time.Second)
	d, err = limiter.Consume(ctx, "seed:user-7", policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Errorf("expected consumption after the block to be allowed")
	}
}

func TestLimiter_DefaultBlockIsHalfWindow(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	policy := Policy{Limit: 1, Window: time.Minute}

	if _, err := limiter.Consume(ctx, "search:1.2.3.4", policy); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d, err := limiter.Consume(ctx, "search:1.2.3.4", policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Errorf("expected overflow to be denied")
	}
	if got := d.RetryAfterSeconds(); got != 30 {
		t.Errorf("expected default block of half the window (30s), got %ds", got)
	}
}

func TestLimiter_BlockedConsumptionsDoNotIncrement(t *testing.T) {
	limiter, advance := newTestLimiter(t)
	ctx := context.Background()
	policy := Policy{Limit: 2, Window: 20 * time.Second, Block: 5 * time.Second}

	for i := 0; i < 2; i++ {
		if _, err := limiter.Consume(ctx, "crawl:site-a", policy); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// Overflow at t=0 blocks until t=5s.
	d, err := limiter.Consume(ctx, "crawl:site-a", policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed || !d.Blocked {
		t.Fatalf("expected a blocking denial, got %+v", d)
	}

	// Hammering during the block only shrinks the retry hint.
	advance(time.Second)
	for i := 0; i < 5; i++ {
		d, err = limiter.Consume(ctx, "crawl:site-a", policy)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d.Allowed {
			t.Fatalf("expected consumption %d during the block to be denied", i)
		}
		if got := d.RetryAfterSeconds(); got != 4 {
			t.Errorf("expected retry after 4s, got %d", got)
		}
	}
}

func TestLimiter_ReblocksWhenWindowStillSpent(t *testing.T) {
	limiter, advance := newTestLimiter(t)
	ctx := context.Background()
	policy := Policy{Limit: 2, Window: 20 * time.Second, Block: 5 * time.Second}

	for i := 0; i < 3; i++ {
		if _, err := limiter.Consume(ctx, "crawl:site-b", policy); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// The block lifted but the window (and its spent quota) has not rolled
	// over, so the next consumption overflows again and re-blocks.
	advance(6 * time.Second)
	d, err := limiter.Consume(ctx, "crawl:site-b", policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Errorf("expected re-denial inside the spent window")
	}
	if got := d.RetryAfterSeconds(); got != 5 {
		t.Errorf("expected a fresh 5s block, got %ds", got)
	}
}

func TestLimiter_SeparateIdentifiers(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	policy := Policy{Limit: 2, Window: time.Minute}

	for i := 0; i < 3; i++ {
		if _, err := limiter.Consume(ctx, "chat:room-1", policy); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// A different identifier keeps its own quota.
	d, err := limiter.Consume(ctx, "chat:room-2", policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Errorf("expected second identifier to have a fresh quota")
	}
	if d.Remaining != 1 {
		t.Errorf("expected remaining to be 1, got %d", d.Remaining)
	}
}

func TestLimiter_Reset(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	policy := Policy{Limit: 1, Window: time.Hour, Block: time.Hour}

	for i := 0; i < 2; i++ {
		if _, err := limiter.Consume(ctx, "seed:user-1", policy); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	d, err := limiter.Consume(ctx, "seed:user-1", policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatalf("expected identifier to be blocked before reset")
	}

	if err := limiter.Reset(ctx, "seed:user-1"); err != nil {
		t.Fatalf("failed to reset: %v", err)
	}

	d, err = limiter.Consume(ctx, "seed:user-1", policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Errorf("expected consumption after reset to be allowed")
	}
}

func TestLimiter_CheckDoesNotConsume(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	policy := Policy{Limit: 2, Window: time.Minute}

	// Checking repeatedly never spends quota.
	for i := 0; i < 5; i++ {
		d, err := limiter.Check(ctx, "calendar:user-3", policy)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !d.Allowed || d.Remaining != 2 {
			t.Fatalf("expected untouched quota, got %+v", d)
		}
	}

	for i := 0; i < 2; i++ {
		if _, err := limiter.Consume(ctx, "calendar:user-3", policy); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// A denied check reports the window roll-over but places no block.
	d, err := limiter.Check(ctx, "calendar:user-3", policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Errorf("expected check on a spent window to be denied")
	}
	if d.Blocked {
		t.Errorf("expected check not to report a block")
	}
	if d.Remaining != 0 {
		t.Errorf("expected remaining to be 0, got %d", d.Remaining)
	}
}

func TestLimiter_EmptyIdentifier(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	policy := Policy{Limit: 1, Window: time.Second}

	if _, err := limiter.Consume(ctx, "", policy); !errors.Is(err, ErrEmptyIdentifier) {
		t.Errorf("expected ErrEmptyIdentifier from Consume, got %v", err)
	}
	if _, err := limiter.Check(ctx, "", policy); !errors.Is(err, ErrEmptyIdentifier) {
		t.Errorf("expected ErrEmptyIdentifier from Check, got %v", err)
	}
	if err := limiter.Reset(ctx, ""); !errors.Is(err, ErrEmptyIdentifier) {
		t.Errorf("expected ErrEmptyIdentifier from Reset, got %v", err)
	}
}

func TestLimiter_InvalidPolicy(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	if _, err := limiter.Consume(ctx, "chat:room-1", Policy{Limit: 0, Window: time.Second}); err == nil {
		t.Errorf("expected zero limit to be rejected")
	}
	if _, err := limiter.Consume(ctx, "chat:room-1", Policy{Limit: 1}); err == nil {
		t.Errorf("expected zero window to be rejected")
	}
	if _, err := limiter.Consume(ctx, "chat:room-1", Policy{Limit: 1, Window: time.Second, Block: -time.Second}); err == nil {
		t.Errorf("expected negative block to be rejected")
	}
}

// faultStore fails every operation, standing in for an unreachable backend.
type faultStore struct{}

var errStoreDown = errors.New("store down")

func (faultStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, errStoreDown
}

func (faultStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errStoreDown
}

func (faultStore) Delete(ctx context.Context, key string) error { return errStoreDown }
func (faultStore) Clear(ctx context.Context) error              { return errStoreDown }
func (faultStore) Close() error                                 { return nil }

func TestLimiter_StoreFaultPropagates(t *testing.T) {
	limiter := New(faultStore{})
	ctx := context.Background()
	policy := Policy{Limit: 1, Window: time.Second}

	if _, err := limiter.Consume(ctx, "chat:room-1", policy); !errors.Is(err, errStoreDown) {
		t.Errorf("expected the store fault to propagate, got %v", err)
	}
}

func TestLimiter_ConcurrentConsume(t *testing.T) {
	limiter := New(kv.NewMemoryStore(0))
	ctx := context.Background()
	policy := Policy{Limit: 50, Window: time.Hour}

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := limiter.Consume(ctx, "chat:busy-room", policy)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("expected exactly 50 allowed consumptions, got %d", allowed)
	}
}

func TestDecision_RetryAfterSeconds(t *testing.T) {
	tests := []struct {
		name  string
		after time.Duration
		want  int
	}{
		{"zero", 0, 0},
		{"sub-second rounds up", 749 * time.Millisecond, 1},
		{"exact second", time.Second, 1},
		{"just over rounds up", 1001 * time.Millisecond, 2},
		{"multi-second", 2500 * time.Millisecond, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decision{RetryAfter: tt.after}
			if got := d.RetryAfterSeconds(); got != tt.want {
				t.Errorf("RetryAfterSeconds() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLimitError(t *testing.T) {
	decision := Decision{Allowed: false, RetryAfter: 12 * time.Second, Blocked: true}
	err := NewLimitError("chat", decision)

	if !IsLimitError(err) {
		t.Errorf("expected IsLimitError to match")
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected errors.Is(err, ErrRateLimited) to match")
	}

	got, ok := GetLimitDecision(err)
	if !ok {
		t.Fatalf("expected to extract the decision")
	}
	if got.RetryAfterSeconds() != 12 {
		t.Errorf("expected retry after 12s, got %d", got.RetryAfterSeconds())
	}

	if IsLimitError(errors.New("boom")) {
		t.Errorf("expected unrelated errors not to match")
	}
}
