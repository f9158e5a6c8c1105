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

// Package traffic shapes the load reaching expensive backends.
//
// The Shaper composes the rate limiter and the result cache behind the
// per-bucket policy table from configuration. Every externally triggerable
// expensive operation consumes from a named bucket ("chat", "search",
// "crawl", ...) before doing work; unknown buckets fall back to the default
// policy so new call sites are throttled from day one.
package traffic

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aidekit/aide/pkg/cache"
	"github.com/aidekit/aide/pkg/config"
	"github.com/aidekit/aide/pkg/kv"
	"github.com/aidekit/aide/pkg/observability"
	"github.com/aidekit/aide/pkg/ratelimit"
)

// storePartition scopes traffic counters inside shared backends.
const storePartition = "traffic"

// bucketPolicy is one bucket's resolved policy plus its fault behavior.
type bucketPolicy struct {
	policy   ratelimit.Policy
	failOpen bool
}

// Shaper applies per-bucket rate limiting and owns the shared result cache.
//
// Safe for concurrent use.
type Shaper struct {
	limiter  ratelimit.Consumer
	cache    *cache.ResultCache
	buckets  map[string]bucketPolicy
	fallback bucketPolicy

	store    kv.Store // owned when built via NewFromConfig
	recorder observability.Recorder
	logger   *slog.Logger
}

// Option configures a Shaper.
type Option func(*Shaper)

// WithRecorder sets the metrics recorder for limit decisions.
func WithRecorder(r observability.Recorder) Option {
	return func(s *Shaper) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithLogger sets the logger used for store fault reporting.
func WithLogger(l *slog.Logger) Option {
	return func(s *Shaper) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Shaper over an existing limiter and result cache.
// cfg must have had its defaults applied.
func New(limiter ratelimit.Consumer, resultCache *cache.ResultCache, cfg *config.TrafficConfig, opts ...Option) *Shaper {
	s := &Shaper{
		limiter:  limiter,
		cache:    resultCache,
		buckets:  make(map[string]bucketPolicy),
		recorder: observability.NoopMetrics{},
		logger:   slog.Default(),
	}

	if cfg != nil {
		for name, bucket := range cfg.Buckets {
			s.buckets[name] = toBucketPolicy(bucket)
		}
		if cfg.Default != nil {
			s.fallback = toBucketPolicy(cfg.Default)
		}
	}
	if s.fallback.policy.Limit == 0 {
		s.fallback = bucketPolicy{policy: ratelimit.Policy{Limit: 30, Window: time.Minute}}
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// NewFromConfig builds the full traffic stack from configuration: the
// counter store (memory, sql, or redis), the limiter over it, and the
// result cache. The returned Shaper owns the store; Close releases it.
func NewFromConfig(cfg *config.Config, pool *config.DBPool, opts ...Option) (*Shaper, error) {
	store, err := kv.NewStoreFromConfig(cfg, pool, storePartition)
	if err != nil {
		return nil, fmt.Errorf("traffic store: %w", err)
	}

	resultCache := cache.New(cache.Options{
		TTL:        cfg.Traffic.Cache.TTL.Duration(),
		MaxEntries: cfg.Traffic.Cache.MaxEntries,
		Disabled:   cfg.Traffic.Cache.Disabled,
	})

	s := New(ratelimit.New(store), resultCache, &cfg.Traffic, opts...)
	s.store = store
	return s, nil
}

func toBucketPolicy(cfg *config.BucketConfig) bucketPolicy {
	return bucketPolicy{
		policy: ratelimit.Policy{
			Limit:  cfg.Limit,
			Window: cfg.Window.Duration(),
			Block:  cfg.Block.Duration(),
		},
		failOpen: config.BoolValue(cfg.FailOpen, false),
	}
}

// policyFor resolves the policy for a bucket, falling back to the default.
func (s *Shaper) policyFor(bucket string) bucketPolicy {
	if p, ok := s.buckets[bucket]; ok {
		return p
	}
	return s.fallback
}

// Allow spends one unit of quota for identifier in bucket and returns the
// decision. The limiter key is "bucket:identifier" so the same client gets
// independent budgets per bucket.
//
// Storage faults honor the bucket's fail mode: fail-open buckets log the
// fault and return an allowed decision shaped like the first consumption of
// a fresh window (the real counts are unreachable); fail-closed buckets
// return the fault to the caller.
func (s *Shaper) Allow(ctx context.Context, bucket, identifier string) (ratelimit.Decision, error) {
	p := s.policyFor(bucket)

	decision, err := s.limiter.Consume(ctx, bucket+":"+identifier, p.policy)
	if err != nil {
		s.recorder.RecordRateLimitDecision(bucket, "error")
		if p.failOpen {
			s.logger.Error("Rate limit store fault, allowing request",
				"bucket", bucket, "identifier", identifier, "error", err)
			return s.openDecision(p), nil
		}
		return ratelimit.Decision{}, fmt.Errorf("bucket %s: %w", bucket, err)
	}

	if decision.Allowed {
		s.recorder.RecordRateLimitDecision(bucket, "allowed")
	} else {
		s.recorder.RecordRateLimitDecision(bucket, "denied")
	}

	return decision, nil
}

// Check reports what Allow would decide without spending quota.
// Store faults follow the same per-bucket fail mode as Allow.
func (s *Shaper) Check(ctx context.Context, bucket, identifier string) (ratelimit.Decision, error) {
	p := s.policyFor(bucket)

	decision, err := s.limiter.Check(ctx, bucket+":"+identifier, p.policy)
	if err != nil {
		if p.failOpen {
			return s.openDecision(p), nil
		}
		return ratelimit.Decision{}, fmt.Errorf("bucket %s: %w", bucket, err)
	}

	return decision, nil
}

// Reset clears one identifier's counter in one bucket.
func (s *Shaper) Reset(ctx context.Context, bucket, identifier string) error {
	return s.limiter.Reset(ctx, bucket+":"+identifier)
}

// openDecision is the synthetic allow handed out when a fail-open bucket
// cannot reach its store.
func (s *Shaper) openDecision(p bucketPolicy) ratelimit.Decision {
	return ratelimit.Decision{
		Allowed:     true,
		Limit:       p.policy.Limit,
		Remaining:   p.policy.Limit - 1,
		WindowReset: time.Now().Add(p.policy.Window),
	}
}

// Cache returns the shared result cache for expensive lookups
// (vector queries, cross-index context). Callers build keys with cache.Key
// and wrap loaders with cache.Fetch.
func (s *Shaper) Cache() *cache.ResultCache {
	return s.cache
}

// Buckets returns the configured bucket names, sorted.
func (s *Shaper) Buckets() []string {
	names := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases the counter store when the Shaper owns one.
func (s *Shaper) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}
