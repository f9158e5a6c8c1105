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

// Package kv provides the keyed stores behind the traffic-shaping layer.
//
// A Store is a small get/put capability. Which implementation a component
// receives is a constructor-injection decision, never a runtime type check:
// the durable SQL store gives each logical partition (one chat room, one
// user session) isolated state that survives restarts, the memory store is
// the best-effort in-process fallback for stateless handlers, and the Redis
// store shares state across processes.
package kv

import (
	"context"
	"time"
)

// Store is the capability interface consumed by the rate limiter and other
// per-key state holders. Values are opaque; callers own serialization.
//
// Put takes an optional ttl (0 = no expiry) as an eviction hint: stores may
// drop expired entries opportunistically, and Get never returns a value
// past its expiry.
type Store interface {
	// Get returns the value for key, reporting absence via the bool.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores value under key. ttl of 0 means the entry does not expire.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every entry owned by this store instance.
	// Exposed so tests can reset state without restarting the process.
	Clear(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
