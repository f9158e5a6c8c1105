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
	"database/sql"
	"fmt"
	"time"
)

const (
	// SQL schema for the kv_entries table.
	createKVTableSQL = `
CREATE TABLE IF NOT EXISTS kv_entries (
    partition_id VARCHAR(255) NOT NULL,
    k VARCHAR(512) NOT NULL,
    v TEXT NOT NULL,
    expires_at TIMESTAMP NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (partition_id, k)
);

CREATE INDEX IF NOT EXISTS idx_kv_entries_expires_at ON kv_entries(expires_at);
`
)

// SQLStore is the durable implementation of Store.
// Rows are keyed (partition, key); the partition string is fixed at
// construction so each chat room or user session gets isolated state that
// survives process restarts. Supports Postgres, MySQL, and SQLite.
type SQLStore struct {
	db        *sql.DB
	dialect   string
	partition string
}

// NewSQLStore creates a durable store bound to one partition.
// Supported dialects: "postgres", "mysql", "sqlite".
func NewSQLStore(db *sql.DB, dialect, partition string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if partition == "" {
		return nil, fmt.Errorf("partition is required")
	}

	switch dialect {
	case "postgres", "mysql", "sqlite":
		// Valid dialects
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{
		db:        db,
		dialect:   dialect,
		partition: partition,
	}

	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates the kv_entries table.
func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, createKVTableSQL); err != nil {
		return fmt.Errorf("failed to create kv_entries table: %w", err)
	}

	return nil
}

// Get returns the value for key within this store's partition.
// Entries past their expiry are treated as absent and deleted.
func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	query := `SELECT v, expires_at FROM kv_entries WHERE partition_id = ? AND k = ?`
	if s.dialect == "postgres" {
		query = `SELECT v, expires_at FROM kv_entries WHERE partition_id = $1 AND k = $2`
	}

	var value string
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, s.partition, key).Scan(&value, &expiresAt)

	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query entry: %w", err)
	}

	if expiresAt.Valid && !time.Now().Before(expiresAt.Time) {
		// Lazy expiry; a failed delete is harmless, the row stays invisible
		_ = s.Delete(ctx, key)
		return nil, false, nil
	}

	return []byte(value), true, nil
}

// Put upserts the value for key within this store's partition.
func (s *SQLStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := time.Now()

	var expiresAt any
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	var query string
	switch s.dialect {
	case "postgres":
		query = `
			INSERT INTO kv_entries (partition_id, k, v, expires_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (partition_id, k)
			DO UPDATE SET v = EXCLUDED.v, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at
		`
	case "mysql":
		query = `
			INSERT INTO kv_entries (partition_id, k, v, expires_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE v = VALUES(v), expires_at = VALUES(expires_at), updated_at = VALUES(updated_at)
		`
	default:
		// SQLite
		query = `
			INSERT OR REPLACE INTO kv_entries (partition_id, k, v, expires_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`
	}

	_, err := s.db.ExecContext(ctx, query, s.partition, key, string(value), expiresAt, now, now)
	if err != nil {
		return fmt.Errorf("failed to put entry: %w", err)
	}

	return nil
}

// Delete removes key from this store's partition.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM kv_entries WHERE partition_id = ? AND k = ?`
	if s.dialect == "postgres" {
		query = `DELETE FROM kv_entries WHERE partition_id = $1 AND k = $2`
	}

	_, err := s.db.ExecContext(ctx, query, s.partition, key)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}

	return nil
}

// Clear removes every entry in this store's partition.
func (s *SQLStore) Clear(ctx context.Context) error {
	query := `DELETE FROM kv_entries WHERE partition_id = ?`
	if s.dialect == "postgres" {
		query = `DELETE FROM kv_entries WHERE partition_id = $1`
	}

	_, err := s.db.ExecContext(ctx, query, s.partition)
	if err != nil {
		return fmt.Errorf("failed to clear partition: %w", err)
	}

	return nil
}

// DeleteExpired removes expired entries across all partitions.
// Intended for periodic maintenance.
func (s *SQLStore) DeleteExpired(ctx context.Context, before time.Time) error {
	query := `DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at < ?`
	if s.dialect == "postgres" {
		query = `DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at < $1`
	}

	_, err := s.db.ExecContext(ctx, query, before)
	if err != nil {
		return fmt.Errorf("failed to delete expired entries: %w", err)
	}

	return nil
}

// Close closes the store.
// Note: This does NOT close the underlying database connection,
// as that connection may be shared with other components.
func (s *SQLStore) Close() error {
	return nil
}

// Partition returns the partition this store is bound to (for testing).
func (s *SQLStore) Partition() string {
	return s.partition
}

var _ Store = (*SQLStore)(nil)
