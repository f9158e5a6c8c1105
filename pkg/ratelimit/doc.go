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

// Package ratelimit implements a fixed-window rate limiter with penalty
// blocks.
//
// Features:
//   - Fixed counting windows with a configurable limit per identifier
//   - Overflow clamps the counter and places a block on the identifier
//   - Active blocks deny without touching the counter
//   - Pluggable storage (in-memory, per-partition SQL, Redis) via pkg/kv
//   - Injectable clock for deterministic tests
//
// # Basic Usage
//
//	// Create a store (memory, SQL, or Redis)
//	store := kv.NewMemoryStore(0)
//
//	// Create the limiter
//	limiter := ratelimit.New(store)
//
//	// Consume one unit of quota
//	decision, err := limiter.Consume(ctx, "search:203.0.113.7", ratelimit.Policy{
//	    Limit:  45,
//	    Window: time.Minute,
//	})
//	if err != nil {
//	    // storage fault; the caller decides fail-open vs fail-closed
//	}
//	if !decision.Allowed {
//	    // retry after decision.RetryAfterSeconds()
//	}
//
// # Semantics
//
// Each identifier owns a counter that starts a fresh window on first use and
// whenever the previous window has elapsed. A consumption that would push the
// counter past the limit is denied, the counter is clamped at the limit, and
// a block is recorded for the policy's block duration (half the window when
// unset). While the block is active every consumption is denied without
// incrementing anything, so hammering a blocked identifier never extends the
// window state.
//
// Denial is a value, never an error: Consume returns a Decision with
// Allowed=false and a retry hint. Only storage faults surface as errors, and
// the caller decides whether those fail open or closed.
//
// Quota is not refunded when the guarded work later fails or times out;
// failed work still counts against the caller's budget.
package ratelimit
