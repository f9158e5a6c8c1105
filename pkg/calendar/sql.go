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

package calendar

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const createEventsSchemaSQL = `
CREATE TABLE IF NOT EXISTS calendar_events (
    id VARCHAR(255) PRIMARY KEY,
    title VARCHAR(512) NOT NULL,
    description TEXT NOT NULL,
    location VARCHAR(512) NOT NULL,
    starts_at TIMESTAMP NOT NULL,
    ends_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const createEventsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_calendar_events_starts ON calendar_events(starts_at)`

const eventColumns = `id, title, description, location, starts_at, ends_at, created_at, updated_at`

// SQLService is the durable implementation of Service.
type SQLService struct {
	db        *sql.DB
	dialect   string
	listLimit int
}

// NewSQLService creates an event store over db. Supported dialects:
// "postgres", "mysql", "sqlite". listLimit caps how many events one
// List call returns; 0 applies no cap.
func NewSQLService(db *sql.DB, dialect string, listLimit int) (*SQLService, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	switch dialect {
	case "postgres", "mysql", "sqlite", "sqlite3":
		if dialect == "sqlite3" {
			dialect = "sqlite"
		}
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLService{
		db:        db,
		dialect:   dialect,
		listLimit: listLimit,
	}

	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates the tables if they don't exist. Statements run
// one at a time for SQLite compatibility.
func (s *SQLService) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	statements := []string{
		createEventsSchemaSQL,
		createEventsIndexSQL,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *SQLService) Create(ctx context.Context, event Event) (*Event, error) {
	if err := validate(&event); err != nil {
		return nil, err
	}

	now := time.Now()
	stored := Event{
		ID:          uuid.NewString(),
		Title:       event.Title,
		Description: event.Description,
		Location:    event.Location,
		StartsAt:    event.StartsAt,
		EndsAt:      event.EndsAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	query := s.placeholders(`INSERT INTO calendar_events (` + eventColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		stored.ID, stored.Title, stored.Description, stored.Location,
		stored.StartsAt, stored.EndsAt, stored.CreatedAt, stored.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	return &stored, nil
}

func (s *SQLService) Get(ctx context.Context, id string) (*Event, error) {
	query := s.placeholders(`SELECT ` + eventColumns + ` FROM calendar_events WHERE id = ?`)

	var event Event
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&event.ID, &event.Title, &event.Description, &event.Location,
		&event.StartsAt, &event.EndsAt, &event.CreatedAt, &event.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	return &event, nil
}

func (s *SQLService) List(ctx context.Context, opts ListOptions) ([]*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM calendar_events`
	var conds []string
	var args []any

	if !opts.From.IsZero() {
		conds = append(conds, `starts_at >= ?`)
		args = append(args, opts.From)
	}
	if !opts.To.IsZero() {
		conds = append(conds, `starts_at < ?`)
		args = append(args, opts.To)
	}
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	query += ` ORDER BY starts_at ASC, id ASC`

	if limit := s.effectiveLimit(opts.Limit); limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	query = s.placeholders(query)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var list []*Event
	for rows.Next() {
		var event Event
		if err := rows.Scan(
			&event.ID, &event.Title, &event.Description, &event.Location,
			&event.StartsAt, &event.EndsAt, &event.CreatedAt, &event.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		list = append(list, &event)
	}
	return list, rows.Err()
}

func (s *SQLService) Update(ctx context.Context, id string, event Event) (*Event, error) {
	if err := validate(&event); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Existence check up front keeps not-found detection independent
	// of how the driver counts no-op updates.
	var createdAt time.Time
	check := s.placeholders(`SELECT created_at FROM calendar_events WHERE id = ?`)
	err = tx.QueryRowContext(ctx, check, id).Scan(&createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check event: %w", err)
	}

	stored := Event{
		ID:          id,
		Title:       event.Title,
		Description: event.Description,
		Location:    event.Location,
		StartsAt:    event.StartsAt,
		EndsAt:      event.EndsAt,
		CreatedAt:   createdAt,
		UpdatedAt:   time.Now(),
	}

	update := s.placeholders(`UPDATE calendar_events
        SET title = ?, description = ?, location = ?, starts_at = ?, ends_at = ?, updated_at = ?
        WHERE id = ?`)
	_, err = tx.ExecContext(ctx, update,
		stored.Title, stored.Description, stored.Location,
		stored.StartsAt, stored.EndsAt, stored.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &stored, nil
}

func (s *SQLService) Delete(ctx context.Context, id string) error {
	query := s.placeholders(`DELETE FROM calendar_events WHERE id = ?`)
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrEventNotFound
	}
	return nil
}

// Close releases the service. The database handle is shared through
// the pool and stays open.
func (s *SQLService) Close() error {
	return nil
}

// effectiveLimit bounds a caller limit by the configured cap.
func (s *SQLService) effectiveLimit(requested int) int {
	if requested <= 0 {
		return s.listLimit
	}
	if s.listLimit > 0 && requested > s.listLimit {
		return s.listLimit
	}
	return requested
}

// placeholders converts ? markers to $1, $2, ... for postgres.
func (s *SQLService) placeholders(query string) string {
	if s.dialect != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 1
	for _, c := range query {
		if c == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}

var _ Service = (*SQLService)(nil)
