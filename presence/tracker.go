// Package presence tracks which identities are typing in which room.
// State is process-local and never persisted.
package presence

import (
	"sort"
	"sync"
)

// Tracker maps a room to the set of identities currently typing there.
// A room with no typers has no entry.
type Tracker struct {
	mu    sync.Mutex
	rooms map[string]map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{rooms: make(map[string]map[string]struct{})}
}

// SetTyping records or clears a typing signal. It reports whether the set changed.
func (t *Tracker) SetTyping(room, identity string, isTyping bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	typers := t.rooms[room]
	if isTyping {
		if typers == nil {
			typers = make(map[string]struct{})
			t.rooms[room] = typers
		}
		if _, ok := typers[identity]; ok {
			return false
		}
		typers[identity] = struct{}{}
		return true
	}

	if _, ok := typers[identity]; !ok {
		return false
	}
	delete(typers, identity)
	if len(typers) == 0 {
		delete(t.rooms, room)
	}
	return true
}

// CurrentTypers returns the typers of room in sorted order.
func (t *Tracker) CurrentTypers(room string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	typers := t.rooms[room]
	out := make([]string, 0, len(typers))
	for identity := range typers {
		out = append(out, identity)
	}
	sort.Strings(out)
	return out
}

// RoomCount returns the number of rooms with at least one typer.
func (t *Tracker) RoomCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms)
}
