package transfer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFileLocks_ExclusiveBlocksExclusive(t *testing.T) {
	l := newFileLocks()

	unlock := l.Lock("f1")

	acquired := make(chan struct{})
	go func() {
		u := l.Lock("f1")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second exclusive lock acquired while first was held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second exclusive lock never acquired after release")
	}
}

func TestFileLocks_SharedDoNotBlockEachOther(t *testing.T) {
	l := newFileLocks()

	u1 := l.RLock("f1")
	done := make(chan struct{})
	go func() {
		u2 := l.RLock("f1")
		u2()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("concurrent shared locks on the same file blocked")
	}
	u1()
}

func TestFileLocks_DifferentFilesIndependent(t *testing.T) {
	l := newFileLocks()

	u1 := l.Lock("f1")
	done := make(chan struct{})
	go func() {
		u2 := l.Lock("f2")
		u2()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on one file blocked a different file")
	}
	u1()
}

func TestFileLocks_EntriesReclaimed(t *testing.T) {
	l := newFileLocks()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u := l.Lock("f1")
			time.Sleep(time.Millisecond)
			u()
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			u := l.RLock("f2")
			u()
		}()
	}
	wg.Wait()

	// Once every holder has released, the map carries no entries.
	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.locks)
}
