package services

import "sync"

// keyedMutex serializes work per key without contention across keys. Entries
// are reference counted and removed once the last holder releases, so the map
// never grows beyond the set of keys currently in flight.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

// Lock acquires the mutex for key, blocking until any other holder of the
// same key releases it.
func (km *keyedMutex) Lock(key string) {
	km.mu.Lock()
	kl, ok := km.locks[key]
	if !ok {
		kl = &keyLock{}
		km.locks[key] = kl
	}
	kl.refs++
	km.mu.Unlock()

	kl.mu.Lock()
}

// Unlock releases the mutex for key.
func (km *keyedMutex) Unlock(key string) {
	km.mu.Lock()
	kl := km.locks[key]
	kl.refs--
	if kl.refs == 0 {
		delete(km.locks, key)
	}
	km.mu.Unlock()

	kl.mu.Unlock()
}
