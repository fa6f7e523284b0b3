// Package symlock provides a non-reentrant mutex keyed by instrument symbol.
// At most one grid-mutating operation may be in flight per symbol; operations
// on different symbols proceed in parallel. Entries are created lazily and
// never evicted: the symbol set is small and static for the life of the
// process, a deliberate simplification.
package symlock

import "sync"

// KeyedMutex is a set of per-key mutexes behind one guard mutex.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch chan struct{}
}

// New constructs an empty KeyedMutex.
func New() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*entry)}
}

func (k *KeyedMutex) get(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	return e
}

// Lock blocks until the key's mutex is acquired.
func (k *KeyedMutex) Lock(key string) {
	k.get(key).ch <- struct{}{}
}

// TryLock acquires the key's mutex without blocking. It returns false when
// the key is already held, which lets periodic watchdogs skip a symbol whose
// rebuild is still in flight instead of queueing behind it.
func (k *KeyedMutex) TryLock(key string) bool {
	select {
	case k.get(key).ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock releases the key's mutex. Unlocking a key that is not held panics,
// matching sync.Mutex semantics.
func (k *KeyedMutex) Unlock(key string) {
	select {
	case <-k.get(key).ch:
	default:
		panic("symlock: unlock of unlocked key " + key)
	}
}
