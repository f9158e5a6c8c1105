package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aidekit/aide/pkg/kv"
)

// keyPrefix namespaces limiter state inside a shared store so counters never
// collide with other users of the same partition.
const keyPrefix = "ratelimit:"

// Limiter counts consumptions per identifier in fixed windows and blocks
// identifiers that overflow their limit. It implements Consumer.
type Limiter struct {
	store kv.Store
	now   func() time.Time
	mu    sync.RWMutex
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the limiter's time source. Tests use this to advance
// time deterministically.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter backed by the given store. The store carries all
// counter state, so limiters sharing a store share quotas.
func New(store kv.Store, opts ...Option) *Limiter {
	l := &Limiter{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Consume spends one unit of quota for identifier under policy and returns
// the resulting decision. Denial is part of the decision, never an error; an
// error means the backing store failed and nothing can be said about the
// quota. Quota spent here is not refunded if the guarded work later fails.
func (l *Limiter) Consume(ctx context.Context, identifier string, policy Policy) (Decision, error) {
	if identifier == "" {
		return Decision{}, ErrEmptyIdentifier
	}
	if err := policy.Validate(); err != nil {
		return Decision{}, fmt.Errorf("invalid policy: %w", err)
	}

	// Serialize read-modify-write cycles so concurrent consumptions in this
	// process cannot lose increments.
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	nowMs := now.UnixMilli()
	key := keyPrefix + identifier

	e, found, err := l.load(ctx, key)
	if err != nil {
		return Decision{}, err
	}

	// An active block denies without touching the counter, so hammering a
	// blocked identifier never extends its state.
	if found && e.BlockUntil > nowMs {
		return Decision{
			Allowed:     false,
			Limit:       policy.Limit,
			Remaining:   0,
			WindowReset: time.UnixMilli(e.WindowReset),
			RetryAfter:  time.Duration(e.BlockUntil-nowMs) * time.Millisecond,
			Blocked:     true,
		}, nil
	}

	// First use, or the previous window elapsed: start a fresh one.
	if !found || e.WindowReset <= nowMs {
		e = entry{WindowReset: now.Add(policy.Window).UnixMilli()}
	}

	e.Count++

	if e.Count > policy.Limit {
		// Overflow: clamp the counter at the limit and block the
		// identifier. The clamp keeps the stored count meaningful as
		// "window fully spent" rather than an unbounded tally.
		e.Count = policy.Limit
		block := policy.blockDuration()
		e.BlockUntil = now.Add(block).UnixMilli()

		if err := l.save(ctx, key, e, now); err != nil {
			return Decision{}, err
		}
		return Decision{
			Allowed:     false,
			Limit:       policy.Limit,
			Remaining:   0,
			WindowReset: time.UnixMilli(e.WindowReset),
			RetryAfter:  block,
			Blocked:     true,
		}, nil
	}

	if err := l.save(ctx, key, e, now); err != nil {
		return Decision{}, err
	}

	remaining := policy.Limit - e.Count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:     true,
		Limit:       policy.Limit,
		Remaining:   remaining,
		WindowReset: time.UnixMilli(e.WindowReset),
	}, nil
}

// Check reports what Consume would decide without spending any quota. A
// denied Check never places a block.
func (l *Limiter) Check(ctx context.Context, identifier string, policy Policy) (Decision, error) {
	if identifier == "" {
		return Decision{}, ErrEmptyIdentifier
	}
	if err := policy.Validate(); err != nil {
		return Decision{}, fmt.Errorf("invalid policy: %w", err)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	now := l.now()
	nowMs := now.UnixMilli()

	e, found, err := l.load(ctx, keyPrefix+identifier)
	if err != nil {
		return Decision{}, err
	}

	if found && e.BlockUntil > nowMs {
		return Decision{
			Allowed:     false,
			Limit:       policy.Limit,
			Remaining:   0,
			WindowReset: time.UnixMilli(e.WindowReset),
			RetryAfter:  time.Duration(e.BlockUntil-nowMs) * time.Millisecond,
			Blocked:     true,
		}, nil
	}

	if !found || e.WindowReset <= nowMs {
		return Decision{
			Allowed:     true,
			Limit:       policy.Limit,
			Remaining:   policy.Limit,
			WindowReset: now.Add(policy.Window),
		}, nil
	}

	remaining := policy.Limit - e.Count
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:     remaining > 0,
		Limit:       policy.Limit,
		Remaining:   remaining,
		WindowReset: time.UnixMilli(e.WindowReset),
	}
	if !d.Allowed {
		d.RetryAfter = time.Duration(e.WindowReset-nowMs) * time.Millisecond
	}
	return d, nil
}

// Reset clears all limiter state for an identifier. Intended for tests and
// operator intervention.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	if identifier == "" {
		return ErrEmptyIdentifier
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.Delete(ctx, keyPrefix+identifier); err != nil {
		return fmt.Errorf("failed to reset limiter state for %q: %w", identifier, err)
	}
	return nil
}

// load reads and decodes the stored entry for key. Corrupt state is treated
// as absent so the identifier starts a fresh window instead of wedging.
func (l *Limiter) load(ctx context.Context, key string) (entry, bool, error) {
	raw, found, err := l.store.Get(ctx, key)
	if err != nil {
		return entry{}, false, fmt.Errorf("failed to load limiter state: %w", err)
	}
	if !found {
		return entry{}, false, nil
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return entry{}, false, nil
	}
	return e, true, nil
}

// save encodes and persists the entry with a TTL reaching to the later of
// the window end and the block end, so stores can expire stale counters on
// their own.
func (l *Limiter) save(ctx context.Context, key string, e entry, now time.Time) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode limiter state: %w", err)
	}

	last := e.WindowReset
	if e.BlockUntil > last {
		last = e.BlockUntil
	}
	ttl := time.Duration(last-now.UnixMilli()) * time.Millisecond

	if err := l.store.Put(ctx, key, raw, ttl); err != nil {
		return fmt.Errorf("failed to persist limiter state: %w", err)
	}
	return nil
}
