package reconcile

import "sync"

// keyLock serializes writes per natural key so two records for the same
// key never interleave their read-classify-write sequence.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLock() *keyLock {
	return &keyLock{locks: map[string]*sync.Mutex{}}
}

// get returns the mutex for key, creating it on first use. Mutexes are
// never released; key cardinality is bounded by the catalog size.
func (k *keyLock) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}
