package coordinator

import (
	"sync"

	"repriceflow/models"
)

// keyLocks is the per-listing mutual exclusion for in-flight decision cycles.
// Acquisition never blocks: a contended key means a cycle is already running
// for it from either trigger path, and the caller skips or drops instead of
// queuing.
type keyLocks struct {
	mu   sync.Mutex
	held map[models.ListingKey]struct{}
}

func newKeyLocks() *keyLocks {
	return &keyLocks{held: make(map[models.ListingKey]struct{})}
}

// TryAcquire takes the lock for key if it is free.
func (l *keyLocks) TryAcquire(key models.ListingKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[key]; taken {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

// Release frees the lock for key.
func (l *keyLocks) Release(key models.ListingKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}
