package sync

import "sync"

// TryRWMutex is a readers-writer lock that additionally supports
// non-blocking lock attempts on both the write and read side. It backs the
// same disk-job gating as TryMutex, for code paths that want to allow
// concurrent reads of chunk metadata while a repair or truncate is pending.
type TryRWMutex struct {
	once sync.Once
	mu   sync.Mutex
	cond *sync.Cond

	readers int
	writer  bool
}

func (tm *TryRWMutex) init() {
	tm.once.Do(func() {
		tm.cond = sync.NewCond(&tm.mu)
	})
}

// Lock blocks until a full write lock can be acquired.
func (tm *TryRWMutex) Lock() {
	tm.init()
	tm.mu.Lock()
	for tm.writer || tm.readers > 0 {
		tm.cond.Wait()
	}
	tm.writer = true
	tm.mu.Unlock()
}

// TryLock grabs a write lock without blocking.
func (tm *TryRWMutex) TryLock() bool {
	tm.init()
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.writer || tm.readers > 0 {
		return false
	}
	tm.writer = true
	return true
}

// Unlock releases a write lock acquired via Lock or TryLock.
func (tm *TryRWMutex) Unlock() {
	tm.init()
	tm.mu.Lock()
	tm.writer = false
	tm.mu.Unlock()
	tm.cond.Broadcast()
}

// TryRLock grabs a read lock without blocking, failing only if a writer
// currently holds the lock.
func (tm *TryRWMutex) TryRLock() bool {
	tm.init()
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.writer {
		return false
	}
	tm.readers++
	return true
}

// RUnlock releases a read lock acquired via TryRLock.
func (tm *TryRWMutex) RUnlock() {
	tm.init()
	tm.mu.Lock()
	tm.readers--
	tm.mu.Unlock()
	tm.cond.Broadcast()
}
