package rooms

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryService is the in-memory implementation of Service. Rooms and
// histories are lost on restart.
type MemoryService struct {
	mu           sync.RWMutex
	rooms        map[string]*memoryRoom
	historyLimit int
}

type memoryRoom struct {
	room     Room
	messages []Message
}

// NewMemoryService creates an in-memory room service. historyLimit
// caps messages retained per room; 0 means unlimited.
func NewMemoryService(historyLimit int) *MemoryService {
	return &MemoryService{
		rooms:        make(map[string]*memoryRoom),
		historyLimit: historyLimit,
	}
}

func (s *MemoryService) CreateRoom(ctx context.Context, title string) (*Room, error) {
	now := time.Now()
	room := Room{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.rooms[room.ID] = &memoryRoom{room: room}
	s.mu.Unlock()

	return &room, nil
}

func (s *MemoryService) GetRoom(ctx context.Context, id string) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	room := entry.room
	return &room, nil
}

func (s *MemoryService) ListRooms(ctx context.Context) ([]*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Room, 0, len(s.rooms))
	for _, entry := range s.rooms {
		room := entry.room
		list = append(list, &room)
	}

	sort.Slice(list, func(i, j int) bool {
		if !list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].UpdatedAt.After(list[j].UpdatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

func (s *MemoryService) DeleteRoom(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[id]; !ok {
		return ErrRoomNotFound
	}
	delete(s.rooms, id)
	return nil
}

func (s *MemoryService) AppendMessage(ctx context.Context, roomID string, msg Message) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}

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

	entry.messages = append(entry.messages, stored)
	if s.historyLimit > 0 && len(entry.messages) > s.historyLimit {
		// Reallocate so the dropped prefix can be collected.
		trimmed := make([]Message, s.historyLimit)
		copy(trimmed, entry.messages[len(entry.messages)-s.historyLimit:])
		entry.messages = trimmed
	}
	entry.room.UpdatedAt = now

	return &stored, nil
}

func (s *MemoryService) Messages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}

	messages := entry.messages
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	out := make([]Message, len(messages))
	copy(out, messages)
	return out, nil
}

func (s *MemoryService) Close() error {
	return nil
}

var _ Service = (*MemoryService)(nil)
