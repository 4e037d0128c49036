package memory

import (
	"sync"

	"github.com/google/uuid"
)

// keyedMutex provides one advisory lock per node so history and summary
// mutations for a node are serialized within this process. Locks are
// created on first use and never reclaimed; the node population of a
// single worker is small enough that this does not matter.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uuid.UUID]*sync.Mutex)}
}

// Lock acquires the lock for key, creating it if needed.
func (k *keyedMutex) Lock(key uuid.UUID) {
	k.mu.Lock()
	lock, exists := k.locks[key]
	if !exists {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()

	lock.Lock()
}

// Unlock releases the lock for key. The key must have been locked.
func (k *keyedMutex) Unlock(key uuid.UUID) {
	k.mu.Lock()
	lock := k.locks[key]
	k.mu.Unlock()

	lock.Unlock()
}
