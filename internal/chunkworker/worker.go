// Package chunkworker implements the master's background reconciliation
// loop: the cooperative coroutine that walks the chunk table bucket by
// bucket, reconciling disconnected servers, garbage-collecting invalid and
// unreferenced parts, driving replication and over-goal deletion, and
// rebalancing load across chunkservers (spec.md §4.2).
package chunkworker

import (
	"time"

	"github.com/lizardfs/lizardfs-sub006/build"
	"github.com/lizardfs/lizardfs-sub006/internal/chunk"
	"github.com/lizardfs/lizardfs-sub006/persist"
	lfsync "github.com/lizardfs/lizardfs-sub006/sync"
	"github.com/lizardfs/lizardfs-sub006/types"
)

// workStep is the chunk worker's reentrant state machine status, the
// explicit replacement for the original Duff's-device coroutine (design
// note: "Coroutine-as-macros ... express as an explicit enum of work-states
// with a step() method").
type workStep int

const (
	stepInProgress workStep = iota
	stepYield
	stepDone
)

// Replicator reconstructs and copies missing chunk parts onto newly chosen
// destination servers (step (d)). It is satisfied by internal/replicator;
// kept as an interface here so the worker can be driven and tested without
// a live chunkserver connection.
type Replicator interface {
	Replicate(chunkID types.ChunkId, recover []chunk.ChunkPart) error
}

// Rebalancer implements the worker's move-for-a-reason steps: retiring-disk
// evacuation (f), same-IP spreading (g), and disk-usage leveling (h). It
// reports whether it performed a move.
type Rebalancer interface {
	RebalanceTodel(chunkID types.ChunkId) (bool, error)
	RebalanceSameIP(chunkID types.ChunkId) (bool, error)
	RebalanceUsage(chunkID types.ChunkId, acceptableDifference float64) (bool, error)
}

// Worker drives the chunk table's background reconciliation loop.
type Worker struct {
	table      *chunk.Table
	cfg        Config
	logger     *persist.Logger
	replicator Replicator
	rebalancer Rebalancer

	pausedUntil time.Time

	numBuckets int
	bucketIdx  int
	tickCount  int

	deleteBudget int

	failures  map[types.ChunkId]int
	stuck     map[types.ChunkId]bool
	stuckList []types.ChunkId
}

// NewWorker creates a Worker. replicator/rebalancer may be nil, in which
// case steps (d)/(f)/(g)/(h) are skipped (useful in tests that only
// exercise GC and bookkeeping steps).
func NewWorker(table *chunk.Table, cfg Config, logger *persist.Logger, replicator Replicator, rebalancer Rebalancer) *Worker {
	if cfg.HashSteps <= 0 {
		cfg = DefaultConfig()
	}
	return &Worker{
		table:        table,
		cfg:          cfg,
		logger:       logger,
		replicator:   replicator,
		rebalancer:   rebalancer,
		numBuckets:   cfg.HashSteps,
		deleteBudget: cfg.DeleteBudgetSoft,
		pausedUntil:  time.Now().Add(cfg.OperationsDelayInit),
		failures:     make(map[types.ChunkId]int),
		stuck:        make(map[types.ChunkId]bool),
	}
}

// NotifyDisconnect restarts the post-disconnect inactivity delay, per
// spec.md's "work is paused for OPERATIONS_DELAY_DISCONNECT seconds to
// avoid thrashing when servers return."
func (w *Worker) NotifyDisconnect() {
	w.pausedUntil = time.Now().Add(w.cfg.OperationsDelayDisconnect)
}

func (w *Worker) logf(format string, args ...interface{}) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}

// Run drives Tick on a ticker paced by ChunksLoopPeriod/HashSteps until tg
// is stopped, the idiomatic translation of the master's single-threaded
// ≤50ms poll loop into a goroutine the rest of the process can shut down
// cooperatively.
func (w *Worker) Run(tg *lfsync.ThreadGroup) error {
	if err := tg.Add(); err != nil {
		return err
	}
	defer tg.Done()

	period := w.cfg.ChunksLoopPeriod / time.Duration(max(w.numBuckets, 1))
	if period <= 0 {
		period = 10 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-tg.StopChan():
			return nil
		case <-ticker.C:
			w.Tick()
		}
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Tick executes one bounded work slice: draining the endangered queue, then
// sweeping chunks from the current bucket, stopping either when the
// HashCPS/watchdog budget is exhausted (Yield) or a full bucket pass
// completes (Done). Suspension points are exactly the between-chunk and
// between-bucket boundaries named in spec.md §5.
func (w *Worker) Tick() workStep {
	if time.Now().Before(w.pausedUntil) {
		return stepDone
	}
	watchdog := NewActiveLoopWatchdog(w.cfg.ChunksLoopPeriod / time.Duration(max(w.numBuckets, 1)))
	w.tickCount++

	endangeredBudget := w.cfg.EndangeredChunksPriority * w.cfg.HashSteps
	if endangeredBudget > 0 {
		for _, id := range w.table.DrainEndangered(endangeredBudget) {
			w.processChunk(id)
			if watchdog.Expired() {
				return stepYield
			}
		}
	}

	w.table.ReconcileDisconnected()

	for _, id := range w.table.UnreferencedChunks() {
		if err := w.table.MarkPartsDeleting(id); err != nil {
			w.logf("chunkworker: mark-deleting chunk=%d: %v", id, err)
		}
		if watchdog.Expired() {
			return stepYield
		}
	}

	// Steps (d)-(h) run per chunk while its Invalid-state parts (if any)
	// still carry the "needs replacement" signal GetPartsToModify reads;
	// the bulk Invalid-part sweep (step b) runs last so a part isn't
	// reaped before this tick's replication attempt has seen it.
	buckets := w.table.Buckets(w.numBuckets)
	processed := 0
	for ; w.bucketIdx < len(buckets); w.bucketIdx++ {
		for _, id := range buckets[w.bucketIdx] {
			w.processChunk(id)
			processed++
			if processed >= w.cfg.HashCPS || watchdog.Expired() {
				return stepYield
			}
		}
	}
	w.bucketIdx = 0

	deleted := w.table.DeleteInvalidParts(w.deleteBudget)
	if deleted >= w.deleteBudget && w.deleteBudget < w.cfg.DeleteBudgetHard {
		w.deleteBudget *= 2
		if w.deleteBudget > w.cfg.DeleteBudgetHard {
			w.deleteBudget = w.cfg.DeleteBudgetHard
		}
	} else if deleted < w.deleteBudget/2 && w.deleteBudget > w.cfg.DeleteBudgetSoft {
		w.deleteBudget = w.cfg.DeleteBudgetSoft
	}

	if w.tickCount%w.cfg.StuckRetryEvery == 0 {
		w.retryStuck()
	}

	return stepDone
}

// processChunk runs steps (d) through (h) against one chunk, tracking
// repeated repair failures so a permanently broken chunk is moved to the
// low-frequency stuck queue instead of monopolizing every tick (the
// stuck/unstuck split recovered from the corpus's upload-heap idiom).
func (w *Worker) processChunk(id types.ChunkId) {
	if w.stuck[id] {
		return
	}

	recover, remove, err := w.table.GetPartsToModify(id)
	if err != nil {
		delete(w.failures, id)
		return
	}

	ok := true
	if len(recover) > 0 && w.replicator != nil {
		if err := w.replicator.Replicate(id, recover); err != nil {
			ok = false
			w.logf("chunkworker: replicate chunk=%d: %v", id, err)
		}
	}

	for _, p := range remove {
		if err := w.table.DeletePart(id, p.ServerID, p.PartType); err != nil {
			w.logf("chunkworker: remove part chunk=%d server=%d: %v", id, p.ServerID, err)
		}
	}

	if w.rebalancer != nil {
		_, todelErr := w.rebalancer.RebalanceTodel(id)
		_, sameIPErr := w.rebalancer.RebalanceSameIP(id)
		_, usageErr := w.rebalancer.RebalanceUsage(id, w.cfg.AcceptableDifference)
		// The three rebalance reasons are independent (a chunk can be
		// evacuating, IP-spreading, and usage-leveling all at once), so
		// their errors are composed rather than reported separately --
		// one log line per chunk instead of up to three.
		if err := build.ComposeErrors(todelErr, sameIPErr, usageErr); err != nil {
			w.logf("chunkworker: rebalance chunk=%d: %v", id, err)
		}
	}

	if ok {
		delete(w.failures, id)
		return
	}
	w.failures[id]++
	if w.failures[id] >= w.cfg.StuckFailureThreshold {
		w.stuck[id] = true
		w.stuckList = append(w.stuckList, id)
		delete(w.failures, id)
		w.logf("chunkworker: chunk=%d marked stuck after %d failed repair attempts", id, w.cfg.StuckFailureThreshold)
	}
}

// retryStuck gives every stuck chunk one more attempt, unmarking it on
// success so it rejoins the normal rotation.
func (w *Worker) retryStuck() {
	remaining := w.stuckList[:0]
	for _, id := range w.stuckList {
		delete(w.stuck, id)
		recover, _, err := w.table.GetPartsToModify(id)
		if err == nil && len(recover) > 0 && w.replicator != nil {
			if rerr := w.replicator.Replicate(id, recover); rerr != nil {
				w.stuck[id] = true
				remaining = append(remaining, id)
				continue
			}
		}
	}
	w.stuckList = remaining
}

// StuckChunks returns the ids currently parked in the stuck-retry queue.
func (w *Worker) StuckChunks() []types.ChunkId {
	out := make([]types.ChunkId, len(w.stuckList))
	copy(out, w.stuckList)
	return out
}
