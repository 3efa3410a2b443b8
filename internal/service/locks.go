package service

import (
	"sync"

	"netinventory/internal/domain"
)

// KeyLocks hands out one mutex per device key. Distinct keys never share a
// mutex, and an entry lives only while someone holds or waits for it.
type KeyLocks struct {
	mu    sync.Mutex
	locks map[domain.DeviceKey]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyLocks creates an empty lock table
func NewKeyLocks() *KeyLocks {
	return &KeyLocks{locks: make(map[domain.DeviceKey]*keyLock)}
}

// Lock blocks until key is held and returns the matching unlock func
func (k *KeyLocks) Lock(key domain.DeviceKey) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			k.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}

// Len returns the number of live entries
func (k *KeyLocks) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
