package governance

import (
	"context"
	"sync"
)

// keyedMutex serializes mutating operations per skill id. Entries are
// created on demand and reclaimed once the last waiter releases, so the
// map does not grow with the number of skills ever touched.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*lockEntry)}
}

// Acquire blocks until the key's lock is held or ctx is done. On success
// it returns a release function that must be called exactly once.
func (k *keyedMutex) Acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		k.release(key, entry, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			k.release(key, entry, true)
		})
	}, nil
}

func (k *keyedMutex) release(key string, entry *lockEntry, held bool) {
	if held {
		<-entry.sem
	}

	k.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()
}
