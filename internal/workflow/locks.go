package workflow

import (
	"sync"

	"github.com/google/uuid"
)

// draftLocks serializes workflow execution per draft. Two goroutines may
// process different drafts concurrently but never the same one.
type draftLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newDraftLocks() *draftLocks {
	return &draftLocks{locks: make(map[uuid.UUID]*lockEntry)}
}

// acquire blocks until the draft lock is held and returns the release func.
func (d *draftLocks) acquire(id uuid.UUID) func() {
	d.mu.Lock()
	entry, ok := d.locks[id]
	if !ok {
		entry = &lockEntry{}
		d.locks[id] = entry
	}
	entry.refs++
	d.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		d.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(d.locks, id)
		}
		d.mu.Unlock()
	}
}
