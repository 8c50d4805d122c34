package command

import (
	"sync"

	"github.com/google/uuid"
)

// lockTable hands out one mutex per timer id so commands on the same timer
// serialize while commands on different timers never contend. Entries are
// refcounted and dropped once the last holder releases, keeping the table
// proportional to in-flight commands rather than total timers.
type lockTable struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[uuid.UUID]*lockEntry)}
}

// lock acquires the per-timer mutex and returns its release func.
func (t *lockTable) lock(id uuid.UUID) func() {
	t.mu.Lock()
	entry, ok := t.locks[id]
	if !ok {
		entry = &lockEntry{}
		t.locks[id] = entry
	}
	entry.refs++
	t.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		t.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(t.locks, id)
		}
		t.mu.Unlock()
	}
}
