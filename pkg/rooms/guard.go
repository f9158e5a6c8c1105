package rooms

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Guard serializes chat turns within a room. Waiters are woken in
// FIFO order, so turns in one room apply in arrival order while
// different rooms proceed independently.
type Guard struct {
	mu    sync.Mutex
	rooms map[string]*guardEntry
}

type guardEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// NewGuard creates a Guard.
func NewGuard() *Guard {
	return &Guard{rooms: make(map[string]*guardEntry)}
}

// Acquire blocks until the room is free or ctx is done. On success
// the returned release func must be called exactly once.
func (g *Guard) Acquire(ctx context.Context, roomID string) (release func(), err error) {
	g.mu.Lock()
	entry, ok := g.rooms[roomID]
	if !ok {
		entry = &guardEntry{sem: semaphore.NewWeighted(1)}
		g.rooms[roomID] = entry
	}
	entry.refs++
	g.mu.Unlock()

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		g.release(roomID, entry, false)
		return nil, err
	}
	return func() { g.release(roomID, entry, true) }, nil
}

// release drops one reference; the entry is removed once the last
// holder or waiter is gone so idle rooms cost nothing.
func (g *Guard) release(roomID string, entry *guardEntry, held bool) {
	if held {
		entry.sem.Release(1)
	}

	g.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(g.rooms, roomID)
	}
	g.mu.Unlock()
}
