package custody

import "sync"

// hashLocks serializes work on one content hash. Uploads wait for the lock;
// releases and sweeps skip a hash that is busy, since a concurrent upload is
// about to reference it.
type hashLocks struct {
	mu   sync.Mutex
	held map[string]*hashLock
}

type hashLock struct {
	mu   sync.Mutex
	refs int
}

func newHashLocks() *hashLocks {
	return &hashLocks{held: make(map[string]*hashLock)}
}

// lock blocks until hash is free and returns its unlock func.
func (l *hashLocks) lock(hash string) func() {
	l.mu.Lock()
	entry, ok := l.held[hash]
	if !ok {
		entry = &hashLock{}
		l.held[hash] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() { l.unlock(hash, entry) }
}

// tryLock takes hash only when nobody holds or waits for it.
func (l *hashLocks) tryLock(hash string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[hash]; busy {
		return nil, false
	}
	entry := &hashLock{refs: 1}
	entry.mu.Lock()
	l.held[hash] = entry
	return func() { l.unlock(hash, entry) }, true
}

func (l *hashLocks) unlock(hash string, entry *hashLock) {
	entry.mu.Unlock()
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.held, hash)
	}
	l.mu.Unlock()
}
