// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 The Aide Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache provides a size-bounded TTL result cache and the canonical
// key derivation that keeps equivalent queries colliding on the same entry.
//
// The cache deduplicates bursts of identical queries within a short TTL; it
// is not a long-lived hot-set cache, so eviction is insertion-ordered rather
// than LRU. Caching here is a pure optimization: no cache operation returns
// an error, and a key that cannot be built simply bypasses the cache.
package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Defaults applied by New when the corresponding option is zero.
const (
	DefaultTTL        = 60 * time.Second
	DefaultMaxEntries = 512
)

// Options configures a ResultCache. The zero value yields an enabled cache
// with defaults.
type Options struct {
	// TTL is how long entries stay fresh. Zero means DefaultTTL.
	TTL time.Duration

	// MaxEntries bounds the cache size. Zero means DefaultMaxEntries.
	MaxEntries int

	// Disabled turns the cache into a pass-through: Get always misses and
	// Set is a no-op.
	Disabled bool

	// Clock overrides the time source. Nil means time.Now.
	Clock func() time.Time
}

// cacheEntry is one stored value plus its expiry.
type cacheEntry struct {
	key       string
	value     any
	expiresAt time.Time
}

// ResultCache memoizes query results under caller-built keys. When inserting
// past MaxEntries it evicts exactly one entry, the oldest by insertion order.
// Overwriting an existing key refreshes the value and expiry but keeps the
// original insertion position.
//
// Safe for concurrent use.
type ResultCache struct {
	mu         sync.Mutex
	enabled    bool
	ttl        time.Duration
	maxEntries int
	entries    map[string]*list.Element
	order      *list.List
	now        func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates a ResultCache with the given options.
func New(opts Options) *ResultCache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &ResultCache{
		enabled:    !opts.Disabled,
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		entries:    make(map[string]*list.Element, opts.MaxEntries),
		order:      list.New(),
		now:        opts.Clock,
	}
}

// Get returns the unexpired value stored under key. An expired entry is
// deleted on the way out and reported as a miss.
func (c *ResultCache) Get(key string) (any, bool) {
	if !c.enabled || key == "" {
		c.misses.Add(1)
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	e := elem.Value.(*cacheEntry)
	if !c.now().Before(e.expiresAt) {
		c.removeLocked(elem)
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key with expiry now+TTL. Empty keys are ignored so
// failed key derivation degrades to a cache bypass.
func (c *ResultCache) Set(key string, value any) {
	if !c.enabled || key == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)

	if elem, ok := c.entries[key]; ok {
		e := elem.Value.(*cacheEntry)
		e.value = value
		e.expiresAt = expiresAt
		return
	}

	elem := c.order.PushBack(&cacheEntry{key: key, value: value, expiresAt: expiresAt})
	c.entries[key] = elem

	if len(c.entries) > c.maxEntries {
		if oldest := c.order.Front(); oldest != nil {
			c.removeLocked(oldest)
		}
	}
}

// Delete removes the entry under key, if any.
func (c *ResultCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}
}

// Clear empties the cache. Tests and config reloads use this.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element, c.maxEntries)
	c.order.Init()
}

// Len returns the number of stored entries, including any not yet swept
// expired ones.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Enabled reports whether the cache stores anything at all.
func (c *ResultCache) Enabled() bool {
	return c.enabled
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
}

// Stats returns hit/miss counters and the current entry count.
func (c *ResultCache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.Len(),
	}
}

func (c *ResultCache) removeLocked(elem *list.Element) {
	e := elem.Value.(*cacheEntry)
	c.order.Remove(elem)
	delete(c.entries, e.key)
}

// Fetch returns the value under key, computing and caching it on a miss. A
// compute error is returned as-is and nothing is cached, so failures never
// pollute the cache. A stored value of the wrong type is treated as a miss.
func Fetch[T any](ctx context.Context, c *ResultCache, key string, compute func(context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}

	value, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(key, value)
	return value, nil
}
