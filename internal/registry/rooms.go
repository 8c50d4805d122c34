// Package registry tracks which live connections belong to which session
// room. It is consulted only at broadcast time; membership changes are
// linearized relative to broadcast snapshots by the internal lock.
package registry

import "sync"

// Rooms maps session ids to the set of members currently joined. A member
// belongs to at most one room at a time; joining a new room leaves the
// previous one.
type Rooms[M comparable] struct {
	mu       sync.RWMutex
	rooms    map[string]map[M]struct{}
	byMember map[M]string
}

func NewRooms[M comparable]() *Rooms[M] {
	return &Rooms[M]{
		rooms:    make(map[string]map[M]struct{}),
		byMember: make(map[M]string),
	}
}

// Join adds the member to the session's room, leaving any previous room.
func (r *Rooms[M]) Join(member M, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.remove(member)
	if r.rooms[sessionID] == nil {
		r.rooms[sessionID] = make(map[M]struct{})
	}
	r.rooms[sessionID][member] = struct{}{}
	r.byMember[member] = sessionID
}

// Leave removes the member from its room, if any. Safe to call twice.
func (r *Rooms[M]) Leave(member M) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.remove(member)
}

// Snapshot returns the members of a room at this instant. The returned slice
// is owned by the caller, so broadcast delivery never holds the lock.
func (r *Rooms[M]) Snapshot(sessionID string) []M {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[sessionID]
	if !ok {
		return nil
	}
	members := make([]M, 0, len(room))
	for m := range room {
		members = append(members, m)
	}
	return members
}

// Count returns the number of members in a room.
func (r *Rooms[M]) Count(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms[sessionID])
}

// Counts returns member counts for all non-empty rooms.
func (r *Rooms[M]) Counts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int, len(r.rooms))
	for id, room := range r.rooms {
		counts[id] = len(room)
	}
	return counts
}

// remove must be called with the write lock held.
func (r *Rooms[M]) remove(member M) {
	sessionID, ok := r.byMember[member]
	if !ok {
		return
	}
	delete(r.byMember, member)

	room := r.rooms[sessionID]
	delete(room, member)
	if len(room) == 0 {
		delete(r.rooms, sessionID)
	}
}
