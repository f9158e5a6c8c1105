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

package rooms

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const createRoomsSchemaSQL = `
CREATE TABLE IF NOT EXISTS rooms (
    id VARCHAR(255) PRIMARY KEY,
    title VARCHAR(512) NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const createMessagesSchemaSQL = `
CREATE TABLE IF NOT EXISTS room_messages (
    id VARCHAR(255) NOT NULL,
    room_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    sequence_num INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (room_id, id)
)`

const createMessagesIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_room_messages_seq ON room_messages(room_id, sequence_num)`

// SQLService is the durable implementation of Service. Concurrent
// appends are serialized by database transactions, so histories stay
// consistent even across processes sharing one database.
type SQLService struct {
	db           *sql.DB
	dialect      string
	historyLimit int
}

// NewSQLService creates a room service over db. Supported dialects:
// "postgres", "mysql", "sqlite". historyLimit caps messages retained
// per room; 0 means unlimited.
func NewSQLService(db *sql.DB, dialect string, historyLimit int) (*SQLService, error) {
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
		db:           db,
		dialect:      dialect,
		historyLimit: historyLimit,
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
		createRoomsSchemaSQL,
		createMessagesSchemaSQL,
		createMessagesIndexSQL,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *SQLService) CreateRoom(ctx context.Context, title string) (*Room, error) {
	now := time.Now()
	room := Room{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := s.placeholders(`INSERT INTO rooms (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, room.ID, room.Title, room.CreatedAt, room.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	return &room, nil
}

func (s *SQLService) GetRoom(ctx context.Context, id string) (*Room, error) {
	query := s.placeholders(`SELECT id, title, created_at, updated_at FROM rooms WHERE id = ?`)

	var room Room
	err := s.db.QueryRowContext(ctx, query, id).Scan(&room.ID, &room.Title, &room.CreatedAt, &room.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	return &room, nil
}

func (s *SQLService) ListRooms(ctx context.Context) ([]*Room, error) {
	query := `SELECT id, title, created_at, updated_at FROM rooms ORDER BY updated_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	var list []*Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.Title, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		list = append(list, &room)
	}
	return list, rows.Err()
}

func (s *SQLService) DeleteRoom(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	msgQuery := s.placeholders(`DELETE FROM room_messages WHERE room_id = ?`)
	if _, err := tx.ExecContext(ctx, msgQuery, id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}

	roomQuery := s.placeholders(`DELETE FROM rooms WHERE id = ?`)
	result, err := tx.ExecContext(ctx, roomQuery, id)
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrRoomNotFound
	}

	return tx.Commit()
}

func (s *SQLService) AppendMessage(ctx context.Context, roomID string, msg Message) (*Message, error) {
	now := time.Now()
	stored := Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Role:      msg.Role,
		Content:   msg.Content,
		CreatedAt: now,
	}
	if !msg.CreatedAt.IsZero() {
		stored.CreatedAt = msg.CreatedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.roomExistsTx(ctx, tx, roomID); err != nil {
		return nil, err
	}

	seq, err := s.nextSequenceNumTx(ctx, tx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sequence number: %w", err)
	}

	insert := s.placeholders(`INSERT INTO room_messages (id, room_id, role, content, sequence_num, created_at)
              VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, insert, stored.ID, stored.RoomID, stored.Role, stored.Content, seq, stored.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	if s.historyLimit > 0 && seq > s.historyLimit {
		prune := s.placeholders(`DELETE FROM room_messages WHERE room_id = ? AND sequence_num <= ?`)
		if _, err := tx.ExecContext(ctx, prune, roomID, seq-s.historyLimit); err != nil {
			return nil, fmt.Errorf("failed to prune history: %w", err)
		}
	}

	touch := s.placeholders(`UPDATE rooms SET updated_at = ? WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, touch, now, roomID); err != nil {
		return nil, fmt.Errorf("failed to update room: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &stored, nil
}

func (s *SQLService) Messages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if err := s.roomExists(ctx, roomID); err != nil {
		return nil, err
	}

	const cols = `id, room_id, role, content, created_at`

	var query string
	var args []any
	if limit > 0 {
		// Subquery picks the N most recent rows, the outer select
		// restores chronological order.
		query = `SELECT ` + cols + ` FROM (
            SELECT ` + cols + `, sequence_num FROM room_messages
            WHERE room_id = ? ORDER BY sequence_num DESC LIMIT ?
        ) sub ORDER BY sequence_num ASC`
		args = []any{roomID, limit}
	} else {
		query = `SELECT ` + cols + ` FROM room_messages WHERE room_id = ? ORDER BY sequence_num ASC`
		args = []any{roomID}
	}
	query = s.placeholders(query)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Close releases the service. The database handle is shared through
// the pool and stays open.
func (s *SQLService) Close() error {
	return nil
}

func (s *SQLService) roomExists(ctx context.Context, roomID string) error {
	query := s.placeholders(`SELECT id FROM rooms WHERE id = ?`)
	var id string
	err := s.db.QueryRowContext(ctx, query, roomID).Scan(&id)
	if err == sql.ErrNoRows {
		return ErrRoomNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check room: %w", err)
	}
	return nil
}

func (s *SQLService) roomExistsTx(ctx context.Context, tx *sql.Tx, roomID string) error {
	query := s.placeholders(`SELECT id FROM rooms WHERE id = ?`)
	var id string
	err := tx.QueryRowContext(ctx, query, roomID).Scan(&id)
	if err == sql.ErrNoRows {
		return ErrRoomNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check room: %w", err)
	}
	return nil
}

func (s *SQLService) nextSequenceNumTx(ctx context.Context, tx *sql.Tx, roomID string) (int, error) {
	query := s.placeholders(`SELECT COALESCE(MAX(sequence_num), 0) + 1 FROM room_messages WHERE room_id = ?`)
	var seq int
	if err := tx.QueryRowContext(ctx, query, roomID).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
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
