/*
locks.go - Non-blocking per-key mutual exclusion

PURPOSE:
  Serializes conflicting operations on the same entity (a user's ledger
  or a group's config) without queuing. A second operation on a busy
  key is rejected immediately; the caller reports "try again".

PROPERTIES:
  - No queuing, no fairness, no timeout
  - Operations on distinct keys never block each other
  - Memory-only: a process restart clears all locks

The registry is an explicit object handed to the engine rather than
process-global state, so it can be tested in isolation.
*/
package donor

import "sync"

// LockRegistry tracks entity keys with a mutating operation in flight.
// The zero value is not usable; call NewLockRegistry.
type LockRegistry struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

func NewLockRegistry() *LockRegistry {
	return &LockRegistry{busy: make(map[string]struct{})}
}

// TryAcquire marks key busy and returns true iff it was not already.
// On false, nothing changed and the caller must not proceed.
func (l *LockRegistry) TryAcquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.busy[key]; held {
		return false
	}
	l.busy[key] = struct{}{}
	return true
}

// Release removes key from the busy set. Idempotent: releasing a key
// that is not held is a no-op. Owners must release on every exit path.
func (l *LockRegistry) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.busy, key)
}

// Held reports whether key is currently busy. For tests and diagnostics.
func (l *LockRegistry) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, held := l.busy[key]
	return held
}
