// Package room holds the in-memory room registry and the bounded per-room
// chat history.
//
// Rooms live for the lifetime of the process; there is no deletion path. All
// state is process memory, so a restart drops every room. The history bound
// exists purely to cap memory growth for long-lived rooms.
package room

import (
	"errors"
	"fmt"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ErrNotFound is returned for operations on a room id that was never created.
var ErrNotFound = errors.New("room not found")

// DefaultHistoryLimit is the fallback bound on per-room history length.
const DefaultHistoryLimit = 100

// Registry owns the mapping from room id to that room's chat history.
//
// All methods are safe for concurrent use. Append-then-trim is atomic per
// room, and History returns a snapshot rather than a live view.
type Registry struct {
	limit int

	mu    sync.Mutex
	rooms map[string][]Event
}

// NewRegistry returns an empty registry whose per-room history is bounded to
// historyLimit events. historyLimit <= 0 selects DefaultHistoryLimit.
func NewRegistry(historyLimit int) *Registry {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Registry{
		limit: historyLimit,
		rooms: make(map[string][]Event),
	}
}

// CreateRoom allocates a fresh room with an empty history and returns its id.
//
// Ids are URL-safe nanoids; collisions are treated as negligible, matching
// the id generator's design.
func (r *Registry) CreateRoom() (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate room id: %w", err)
	}

	r.mu.Lock()
	r.rooms[id] = []Event{}
	r.mu.Unlock()
	return id, nil
}

// Exists reports whether id names a known room.
func (r *Registry) Exists(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[id]
	return ok
}

// History returns a copy of the room's current events in insertion order.
func (r *Registry) History(id string) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events, ok := r.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]Event, len(events))
	copy(out, events)
	return out, nil
}

// Append adds ev to the room's history and drops the oldest events until the
// history bound holds again.
func (r *Registry) Append(id string, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	events, ok := r.rooms[id]
	if !ok {
		return ErrNotFound
	}

	events = append(events, ev)
	if excess := len(events) - r.limit; excess > 0 {
		events = append(events[:0:0], events[excess:]...)
	}
	r.rooms[id] = events
	return nil
}

// Len returns the current history length, or 0 for unknown rooms.
func (r *Registry) Len(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[id])
}
