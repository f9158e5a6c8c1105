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

// Package calendar stores schedulable events in SQL.
//
// Events are plain rows: the package validates and persists them, and
// the server decides who may mutate them. Reads are unthrottled; the
// traffic layer meters mutations upstream.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aidekit/aide/pkg/config"
)

// ErrEventNotFound is returned when the referenced event does not exist.
var ErrEventNotFound = errors.New("event not found")

// ErrInvalidEvent wraps every validation failure so callers can tell
// bad input apart from storage faults.
var ErrInvalidEvent = errors.New("invalid event")

// Event is one calendar entry.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListOptions narrows a List call. Zero times leave that bound open;
// Limit <= 0 falls back to the configured list limit.
type ListOptions struct {
	// From keeps events starting at or after this instant.
	From time.Time
	// To keeps events starting before this instant.
	To    time.Time
	Limit int
}

// Service stores calendar events.
//
// Implementations are safe for concurrent use.
type Service interface {
	// Create validates and stores the event, assigning a UUID id.
	Create(ctx context.Context, event Event) (*Event, error)

	// Get returns the event or ErrEventNotFound.
	Get(ctx context.Context, id string) (*Event, error)

	// List returns events ordered by start time ascending.
	List(ctx context.Context, opts ListOptions) ([]*Event, error)

	// Update replaces the event's mutable fields, or returns
	// ErrEventNotFound.
	Update(ctx context.Context, id string, event Event) (*Event, error)

	// Delete removes the event, or returns ErrEventNotFound.
	Delete(ctx context.Context, id string) error

	// Close releases resources. Shared database handles stay open.
	Close() error
}

// New creates a Service from configuration, resolving the database
// handle through the shared pool.
func New(cfg *config.Config, pool *config.DBPool) (Service, error) {
	calCfg := cfg.Calendar

	if pool == nil {
		return nil, fmt.Errorf("DBPool is required for the calendar service")
	}
	if calCfg.Database == "" {
		return nil, fmt.Errorf("calendar.database is required")
	}

	dbCfg, ok := cfg.GetDatabase(calCfg.Database)
	if !ok {
		return nil, fmt.Errorf("database %q not found", calCfg.Database)
	}

	db, err := pool.Get(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	return NewSQLService(db, dbCfg.Dialect(), calCfg.ListLimit)
}

// validate enforces the event contract shared by Create and Update.
func validate(event *Event) error {
	if strings.TrimSpace(event.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidEvent)
	}
	if event.StartsAt.IsZero() {
		return fmt.Errorf("%w: start time is required", ErrInvalidEvent)
	}
	if event.EndsAt.IsZero() {
		return fmt.Errorf("%w: end time is required", ErrInvalidEvent)
	}
	if !event.EndsAt.After(event.StartsAt) {
		return fmt.Errorf("%w: end time must be after its start time", ErrInvalidEvent)
	}
	return nil
}
