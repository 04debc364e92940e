// Package sync supplements the standard sync package with the primitives
// the master and chunkserver daemons lean on for cooperative shutdown and
// best-effort mutual exclusion: ThreadGroup (goroutine lifecycle plus
// ordered stop/after-stop callbacks), TryMutex/TryRWMutex (non-blocking
// lock attempts, used by the connection FSM's disk-job gating) and an
// RWMutex whose lock calls return an id and whose timeout is not enforced.
package sync

import (
	"errors"
	"sync"
)

// ErrStopped is returned by Add, Flush and a repeated Stop once the group
// has begun stopping; callers must not start new work after seeing it.
var ErrStopped = errors.New("sync: thread group already stopped")

// ThreadGroup tracks a set of goroutines the way the master and chunkserver
// track their background loops (chunk worker, replicator, acceptor):
// goroutines call Add/Done around their lifetime, and Stop blocks until
// every one of them has called Done, running OnStop callbacks first (to
// unblock anything waiting on StopChan) and AfterStop callbacks once all
// goroutines have actually exited.
type ThreadGroup struct {
	stopChan chan struct{}

	onStopFns    []func()
	afterStopFns []func()

	mu sync.Mutex // protects onStopFns/afterStopFns/stopChan init
	wg sync.WaitGroup
}

func (tg *ThreadGroup) init() {
	if tg.stopChan == nil {
		tg.stopChan = make(chan struct{})
	}
}

// StopChan returns a channel that is closed when Stop is called.
func (tg *ThreadGroup) StopChan() <-chan struct{} {
	tg.mu.Lock()
	tg.init()
	c := tg.stopChan
	tg.mu.Unlock()
	return c
}

func (tg *ThreadGroup) isStopped() bool {
	tg.mu.Lock()
	tg.init()
	defer tg.mu.Unlock()
	select {
	case <-tg.stopChan:
		return true
	default:
		return false
	}
}

// Add increments the group's goroutine count. It returns ErrStopped if Stop
// has already been called, so callers must bail out rather than start new
// background work during shutdown.
func (tg *ThreadGroup) Add() error {
	tg.mu.Lock()
	tg.init()
	defer tg.mu.Unlock()
	select {
	case <-tg.stopChan:
		return ErrStopped
	default:
	}
	tg.wg.Add(1)
	return nil
}

// Done marks one goroutine added via Add as finished.
func (tg *ThreadGroup) Done() {
	tg.wg.Done()
}

// OnStop registers a function that runs as soon as Stop is called, before
// waiting for outstanding goroutines — typically used to close a channel or
// connection a worker is blocked reading from, so it can observe StopChan
// and call Done. If Stop has already closed the group (e.g. this is called
// from inside another OnStop, or from a goroutine that was already running
// when Stop began), fn runs immediately instead of being queued, since the
// batch Stop collected has already been dispatched.
func (tg *ThreadGroup) OnStop(fn func()) {
	tg.mu.Lock()
	tg.init()
	select {
	case <-tg.stopChan:
		tg.mu.Unlock()
		fn()
		return
	default:
	}
	tg.onStopFns = append(tg.onStopFns, fn)
	tg.mu.Unlock()
}

// AfterStop registers a function that runs only after every goroutine
// added via Add has called Done — typically used to close resources those
// goroutines might still be using. If Stop has already been called, fn
// runs immediately instead of being queued.
func (tg *ThreadGroup) AfterStop(fn func()) {
	tg.mu.Lock()
	tg.init()
	select {
	case <-tg.stopChan:
		tg.mu.Unlock()
		fn()
		return
	default:
	}
	tg.afterStopFns = append(tg.afterStopFns, fn)
	tg.mu.Unlock()
}

// Stop closes StopChan, runs the OnStop callbacks in reverse registration
// order, waits for every outstanding Add to be matched by a Done, then runs
// the AfterStop callbacks in reverse registration order. Only the first
// call stops the group; subsequent calls return ErrStopped immediately.
func (tg *ThreadGroup) Stop() error {
	tg.mu.Lock()
	tg.init()
	select {
	case <-tg.stopChan:
		tg.mu.Unlock()
		return ErrStopped
	default:
	}
	close(tg.stopChan)
	onStop := tg.onStopFns
	tg.mu.Unlock()

	for i := len(onStop) - 1; i >= 0; i-- {
		onStop[i]()
	}
	tg.wg.Wait()

	tg.mu.Lock()
	afterStop := tg.afterStopFns
	tg.mu.Unlock()
	for i := len(afterStop) - 1; i >= 0; i-- {
		afterStop[i]()
	}
	return nil
}

// Flush waits for every currently-outstanding Add/Done pair to settle
// without closing StopChan or running any stop callback — used to drain
// in-flight work (e.g. before a config reload) while still accepting new
// Adds afterward.
func (tg *ThreadGroup) Flush() error {
	tg.mu.Lock()
	tg.init()
	select {
	case <-tg.stopChan:
		tg.mu.Unlock()
		return ErrStopped
	default:
	}
	tg.mu.Unlock()
	tg.wg.Wait()
	return nil
}
