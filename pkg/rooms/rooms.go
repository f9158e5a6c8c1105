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

// Package rooms manages durable chat partitions.
//
// A room holds an ordered message history and is the unit the traffic
// layer partitions by: each room carries its own rate-limit state, and
// the Guard serializes chat turns within a room so decisions apply in
// arrival order. Histories survive restarts on the SQL backend; the
// in-memory backend serves tests and zero-config runs.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aidekit/aide/pkg/config"
)

// ErrRoomNotFound is returned when the referenced room does not exist.
var ErrRoomNotFound = errors.New("room not found")

// Room is one durable chat partition.
type Room struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one entry in a room's history.
type Message struct {
	ID      string `json:"id"`
	RoomID  string `json:"room_id"`
	Role    string `json:"role"`
	Content string `json:"content"`

	CreatedAt time.Time `json:"created_at"`
}

// Service stores rooms and their message histories.
//
// Implementations are safe for concurrent use.
type Service interface {
	// CreateRoom creates a room with a generated UUID id.
	CreateRoom(ctx context.Context, title string) (*Room, error)

	// GetRoom returns the room or ErrRoomNotFound.
	GetRoom(ctx context.Context, id string) (*Room, error)

	// ListRooms returns all rooms, most recently active first.
	ListRooms(ctx context.Context) ([]*Room, error)

	// DeleteRoom removes the room and its history, or returns
	// ErrRoomNotFound.
	DeleteRoom(ctx context.Context, id string) error

	// AppendMessage stores msg at the end of the room's history,
	// assigning a UUID message id. Histories past the configured
	// limit lose their oldest entries.
	AppendMessage(ctx context.Context, roomID string, msg Message) (*Message, error)

	// Messages returns the most recent limit messages in
	// chronological order; limit <= 0 returns the full history.
	Messages(ctx context.Context, roomID string, limit int) ([]Message, error)

	// Close releases resources. Shared database handles stay open.
	Close() error
}

// New creates a Service from configuration. The sql backend resolves
// its handle through the shared pool; anything else runs in memory.
func New(cfg *config.Config, pool *config.DBPool) (Service, error) {
	roomsCfg := cfg.Rooms

	switch roomsCfg.Backend {
	case config.StorageBackendSQL:
		if pool == nil {
			return nil, fmt.Errorf("DBPool is required for SQL rooms backend")
		}
		if roomsCfg.Database == "" {
			return nil, fmt.Errorf("rooms.database is required when backend is sql")
		}

		dbCfg, ok := cfg.GetDatabase(roomsCfg.Database)
		if !ok {
			return nil, fmt.Errorf("database %q not found", roomsCfg.Database)
		}

		db, err := pool.Get(dbCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to get database connection: %w", err)
		}

		return NewSQLService(db, dbCfg.Dialect(), roomsCfg.HistoryLimit)

	case config.StorageBackendMemory, "":
		return NewMemoryService(roomsCfg.HistoryLimit), nil

	default:
		return nil, fmt.Errorf("unsupported rooms backend: %s", roomsCfg.Backend)
	}
}
