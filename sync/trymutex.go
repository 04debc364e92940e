package sync

import (
	"sync"
	"time"
)

// TryMutex is a mutex that additionally supports non-blocking and
// timed-blocking lock attempts. The chunkserver connection FSM uses it to
// probe the per-chunk disk job lock rather than stall a network goroutine
// behind a slow disk operation.
type TryMutex struct {
	once sync.Once
	c    chan struct{}
}

func (tm *TryMutex) init() {
	tm.once.Do(func() {
		tm.c = make(chan struct{}, 1)
		tm.c <- struct{}{}
	})
}

// Lock blocks until the lock is acquired.
func (tm *TryMutex) Lock() {
	tm.init()
	<-tm.c
}

// Unlock releases the lock. Unlocking an already-unlocked TryMutex panics,
// the same as the standard library's sync.Mutex.
func (tm *TryMutex) Unlock() {
	tm.init()
	select {
	case tm.c <- struct{}{}:
	default:
		panic("sync: unlock of unlocked TryMutex")
	}
}

// TryLock grabs the lock without blocking, returning false if the lock is
// already held.
func (tm *TryMutex) TryLock() bool {
	tm.init()
	select {
	case <-tm.c:
		return true
	default:
		return false
	}
}

// TryLockTimed attempts to grab the lock, giving up after timeout elapses.
func (tm *TryMutex) TryLockTimed(timeout time.Duration) bool {
	tm.init()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-tm.c:
		return true
	case <-timer.C:
		return false
	}
}
