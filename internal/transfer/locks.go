package transfer

import "sync"

// fileLocks hands out one RWMutex per file id so operations on different
// files never contend. Entries are reference-counted and dropped when the
// last holder releases, keeping the map bounded by in-flight operations.
//
// Chunk writes take the lock shared: puts on different indexes may run
// concurrently, and a retransmission of the same index is resolved by the
// chunk store's atomic rename. Finalize and delete take it exclusive so
// their scan-then-transition sequences see a quiescent chunk set.
type fileLocks struct {
	mu    sync.Mutex
	locks map[string]*fileLock
}

type fileLock struct {
	mu   sync.RWMutex
	refs int
}

func newFileLocks() *fileLocks {
	return &fileLocks{locks: make(map[string]*fileLock)}
}

func (l *fileLocks) get(id string) *fileLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	fl := l.locks[id]
	if fl == nil {
		fl = &fileLock{}
		l.locks[id] = fl
	}
	fl.refs++
	return fl
}

func (l *fileLocks) put(id string, fl *fileLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fl.refs--
	if fl.refs == 0 {
		delete(l.locks, id)
	}
}

// Lock acquires the file's lock exclusively and returns the release func.
func (l *fileLocks) Lock(id string) func() {
	fl := l.get(id)
	fl.mu.Lock()
	return func() {
		fl.mu.Unlock()
		l.put(id, fl)
	}
}

// RLock acquires the file's lock shared and returns the release func.
func (l *fileLocks) RLock(id string) func() {
	fl := l.get(id)
	fl.mu.RLock()
	return func() {
		fl.mu.RUnlock()
		l.put(id, fl)
	}
}
