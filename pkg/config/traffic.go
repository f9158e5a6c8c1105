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

package config

import (
	"fmt"
	"time"
)

// TrafficConfig configures request throttling and result caching.
//
// Every externally triggerable expensive operation runs through a named
// bucket. Buckets not listed here use the default policy.
//
// Example:
//
//	traffic:
//	  store:
//	    backend: redis
//	    redis:
//	      addr: localhost:6379
//	  buckets:
//	    chat:
//	      window: 60s
//	      limit: 20
//	  cache:
//	    ttl: 45s
type TrafficConfig struct {
	// Store selects where counters live. Memory is per-process, sql is
	// durable per-partition, redis is shared across processes.
	Store TrafficStoreConfig `yaml:"store,omitempty" json:"store,omitempty" jsonschema:"title=Store,description=Counter storage backend"`

	// Buckets maps bucket names to their policies. Built-in buckets
	// (chat, calendar, search, crawl, seed) get defaults when omitted.
	Buckets map[string]*BucketConfig `yaml:"buckets,omitempty" json:"buckets,omitempty" jsonschema:"title=Buckets,description=Per-bucket throttling policies"`

	// Default applies to buckets not listed in Buckets.
	Default *BucketConfig `yaml:"default,omitempty" json:"default,omitempty" jsonschema:"title=Default,description=Policy for unlisted buckets"`

	// Cache configures the shared result cache for vector queries and
	// other repeated expensive lookups.
	Cache ResultCacheConfig `yaml:"cache,omitempty" json:"cache,omitempty" jsonschema:"title=Cache,description=Result cache settings"`
}

// TrafficStoreConfig selects the counter storage backend.
type TrafficStoreConfig struct {
	// Backend: "inmemory", "sql", or "redis".
	Backend StorageBackend `yaml:"backend,omitempty" json:"backend,omitempty" jsonschema:"title=Backend,description=Counter storage backend,enum=inmemory,enum=sql,enum=redis,default=inmemory"`

	// Database references a named database (sql backend).
	Database string `yaml:"database,omitempty" json:"database,omitempty" jsonschema:"title=Database,description=Named database reference (sql backend)"`

	// Redis connection settings (redis backend).
	Redis RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty" jsonschema:"title=Redis,description=Redis connection (redis backend)"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `yaml:"addr,omitempty" json:"addr,omitempty" jsonschema:"title=Address,description=Redis host:port,default=localhost:6379"`

	// Password for AUTH. Supports ${VAR} expansion.
	Password string `yaml:"password,omitempty" json:"password,omitempty" jsonschema:"title=Password,description=Redis password (use ${ENV_VAR})"`

	// DB is the logical database number.
	DB int `yaml:"db,omitempty" json:"db,omitempty" jsonschema:"title=DB,description=Logical database number,default=0"`

	// Prefix namespaces all keys written by this process.
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty" jsonschema:"title=Prefix,description=Key namespace prefix,default=aide"`
}

// BucketConfig is one bucket's throttling policy.
type BucketConfig struct {
	// Window is the counting interval.
	Window Duration `yaml:"window,omitempty" json:"window,omitempty" jsonschema:"title=Window,description=Counting interval,default=60s"`

	// Limit is the number of consumptions allowed per window.
	Limit int `yaml:"limit,omitempty" json:"limit,omitempty" jsonschema:"title=Limit,description=Consumptions allowed per window,minimum=1"`

	// Block is the penalty applied when the limit tips over.
	// Zero means half the window.
	Block Duration `yaml:"block,omitempty" json:"block,omitempty" jsonschema:"title=Block,description=Penalty duration on overflow (default window/2)"`

	// FailOpen allows the request when the counter store is
	// unreachable. Default false: store faults deny.
	FailOpen *bool `yaml:"fail_open,omitempty" json:"fail_open,omitempty" jsonschema:"title=Fail Open,description=Allow requests when the counter store is unreachable,default=false"`
}

// ResultCacheConfig configures the shared result cache.
type ResultCacheConfig struct {
	// Disabled turns caching off; every lookup recomputes.
	Disabled bool `yaml:"disabled,omitempty" json:"disabled,omitempty" jsonschema:"title=Disabled,description=Disable result caching"`

	// TTL is how long entries stay valid.
	TTL Duration `yaml:"ttl,omitempty" json:"ttl,omitempty" jsonschema:"title=TTL,description=Entry lifetime,default=45s"`

	// MaxEntries bounds the cache; the oldest entry is evicted first.
	MaxEntries int `yaml:"max_entries,omitempty" json:"max_entries,omitempty" jsonschema:"title=Max Entries,description=Entry cap,default=512"`
}

// builtinBuckets returns the default policy table. Chat counts per
// room, calendar mutations per user, search covers recommendations
// too, seeding is deliberately scarce.
func builtinBuckets() map[string]*BucketConfig {
	return map[string]*BucketConfig{
		"chat": {
			Window: Duration(time.Minute),
			Limit:  20,
		},
		"calendar": {
			Window: Duration(time.Minute),
			Limit:  60,
			Block:  Duration(10 * time.Second),
		},
		"search": {
			Window:   Duration(time.Minute),
			Limit:    45,
			FailOpen: BoolPtr(true),
		},
		"crawl": {
			Window: Duration(time.Minute),
			Limit:  10,
		},
		"seed": {
			Window: Duration(time.Hour),
			Limit:  2,
			Block:  Duration(time.Hour),
		},
	}
}

// SetDefaults applies default values to TrafficConfig.
func (c *TrafficConfig) SetDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = StorageBackendMemory
	}
	if c.Store.Backend == StorageBackendRedis {
		if c.Store.Redis.Addr == "" {
			c.Store.Redis.Addr = "localhost:6379"
		}
		if c.Store.Redis.Prefix == "" {
			c.Store.Redis.Prefix = "aide"
		}
	}

	if c.Buckets == nil {
		c.Buckets = make(map[string]*BucketConfig)
	}
	for name, builtin := range builtinBuckets() {
		if existing, ok := c.Buckets[name]; ok {
			existing.fillFrom(builtin)
		} else {
			c.Buckets[name] = builtin
		}
	}
	for _, bucket := range c.Buckets {
		bucket.SetDefaults()
	}

	if c.Default == nil {
		c.Default = &BucketConfig{
			Window: Duration(time.Minute),
			Limit:  30,
		}
	}
	c.Default.SetDefaults()

	if c.Cache.TTL.Duration() == 0 {
		c.Cache.TTL = Duration(45 * time.Second)
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 512
	}
}

// SetDefaults applies default values to a bucket policy.
func (c *BucketConfig) SetDefaults() {
	if c.Window.Duration() == 0 {
		c.Window = Duration(time.Minute)
	}
	if c.FailOpen == nil {
		c.FailOpen = BoolPtr(false)
	}
}

// fillFrom copies unset fields from a fallback policy. User-provided
// partial bucket overrides keep the built-in values they did not touch.
func (c *BucketConfig) fillFrom(fallback *BucketConfig) {
	if c.Window.Duration() == 0 {
		c.Window = fallback.Window
	}
	if c.Limit == 0 {
		c.Limit = fallback.Limit
	}
	if c.Block.Duration() == 0 {
		c.Block = fallback.Block
	}
	if c.FailOpen == nil {
		c.FailOpen = fallback.FailOpen
	}
}

// Validate checks the traffic configuration.
func (c *TrafficConfig) Validate() error {
	switch c.Store.Backend {
	case StorageBackendMemory, StorageBackendSQL, StorageBackendRedis:
	default:
		return fmt.Errorf("invalid traffic store backend %q (valid: inmemory, sql, redis)", c.Store.Backend)
	}

	if c.Store.Backend == StorageBackendSQL && c.Store.Database == "" {
		return fmt.Errorf("traffic store backend \"sql\" requires a database reference")
	}
	if c.Store.Backend == StorageBackendRedis && c.Store.Redis.Addr == "" {
		return fmt.Errorf("traffic store backend \"redis\" requires redis.addr")
	}

	for name, bucket := range c.Buckets {
		if err := bucket.Validate(); err != nil {
			return fmt.Errorf("bucket %q: %w", name, err)
		}
	}
	if c.Default != nil {
		if err := c.Default.Validate(); err != nil {
			return fmt.Errorf("default bucket: %w", err)
		}
	}

	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache max_entries must not be negative")
	}

	return nil
}

// Validate checks one bucket policy.
func (c *BucketConfig) Validate() error {
	if c.Limit < 1 {
		return fmt.Errorf("limit must be at least 1")
	}
	if c.Window.Duration() <= 0 {
		return fmt.Errorf("window must be positive")
	}
	if c.Block.Duration() < 0 {
		return fmt.Errorf("block must not be negative")
	}
	return nil
}
