package chunkworker

import (
	"time"

	"github.com/lizardfs/lizardfs-sub006/build"
)

// defaultBudget is the per-tick wall-clock allowance for the chunk worker's
// coroutine, selected per build.Release the same way the teacher picks
// release-dependent tunables via build.Var: the testing build gets a much
// shorter budget so tests exercise the yield path without waiting on a
// realistic tick length.
var defaultBudget = build.Select(build.Var{
	Standard: 50 * time.Millisecond,
	Dev:      50 * time.Millisecond,
	Testing:  time.Millisecond,
}).(time.Duration)

// ActiveLoopWatchdog bounds one tick of the chunk worker's cooperative
// coroutine. The worker calls Expired between iteration boundaries (chunk
// and bucket boundaries) and yields by returning as soon as it trips,
// re-entering on the next tick via the step machine (spec §4.2/§5).
type ActiveLoopWatchdog struct {
	deadline time.Time
}

// NewActiveLoopWatchdog starts a watchdog with the given budget. A
// non-positive budget falls back to defaultBudget.
func NewActiveLoopWatchdog(budget time.Duration) *ActiveLoopWatchdog {
	if budget <= 0 {
		budget = defaultBudget
	}
	return &ActiveLoopWatchdog{deadline: time.Now().Add(budget)}
}

// Expired reports whether the watchdog's budget has been used up.
func (w *ActiveLoopWatchdog) Expired() bool {
	return !time.Now().Before(w.deadline)
}
