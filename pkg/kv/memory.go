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

package kv

import (
	"context"
	"sync"
	"time"
)

// memoryEntry stores a value with its optional expiry.
type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero = no expiry
}

// MemoryStore is the in-process implementation of Store.
// It is thread-safe and intended for stateless handlers that have no
// durable partition identity, and for tests. The size cap is approximate:
// when the map grows past maxEntries, expired entries are swept first and
// arbitrary entries are dropped only if the sweep was not enough.
type MemoryStore struct {
	data       map[string]memoryEntry
	maxEntries int
	mu         sync.RWMutex

	now func() time.Time
}

// NewMemoryStore creates an in-process store. maxEntries <= 0 disables the
// size cap.
func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]memoryEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the value for key if present and unexpired.
// Expired entries are deleted on read.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	entry, exists := s.data[key]
	s.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}

	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		s.mu.Lock()
		// Re-check under the write lock; another goroutine may have replaced it
		if cur, ok := s.data[key]; ok && !cur.expiresAt.IsZero() && !s.now().Before(cur.expiresAt) {
			delete(s.data, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}

	return entry.value, true, nil
}

// Put stores value under key with an optional ttl.
func (s *MemoryStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}

	s.data[key] = memoryEntry{value: value, expiresAt: expiresAt}

	if s.maxEntries > 0 && len(s.data) > s.maxEntries {
		s.evictLocked()
	}

	return nil
}

// evictLocked sweeps expired entries, then drops arbitrary entries until
// the store is back at its cap. Callers must hold the write lock.
func (s *MemoryStore) evictLocked() {
	now := s.now()
	for k, e := range s.data {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(s.data, k)
		}
	}

	for k := range s.data {
		if len(s.data) <= s.maxEntries {
			break
		}
		delete(s.data, k)
	}
}

// Delete removes key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Clear removes all entries.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]memoryEntry)
	return nil
}

// Close clears the store.
func (s *MemoryStore) Close() error {
	return s.Clear(context.Background())
}

// Len returns the number of entries in the store (for testing).
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

var _ Store = (*MemoryStore)(nil)
