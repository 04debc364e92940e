package chunkworker

import "time"

// Config holds the chunk worker's tunables, named to match spec.md's
// tick-budget and delay-window vocabulary directly.
type Config struct {
	// HashSteps is the number of hash buckets swept per tick, one of the
	// two per-tick budget limits ("HashSteps hash buckets or HashCPS
	// chunks, whichever hits first").
	HashSteps int
	// HashCPS is the maximum number of chunks processed per tick.
	HashCPS int
	// EndangeredChunksPriority scales HashSteps into the endangered-queue
	// drain budget: up to EndangeredChunksPriority*HashSteps chunks are
	// drained from the endangered queue before the main bucket sweep.
	EndangeredChunksPriority int
	// ChunksLoopPeriod is the target wall-clock period of one full sweep
	// across every bucket, used to size each tick's watchdog budget.
	ChunksLoopPeriod time.Duration
	// OperationsDelayInit pauses all worker activity for this long after
	// master startup, avoiding thrashing while chunkservers reconnect.
	OperationsDelayInit time.Duration
	// OperationsDelayDisconnect pauses worker activity after a
	// chunkserver disconnect for the same reason.
	OperationsDelayDisconnect time.Duration
	// DeleteBudgetSoft/DeleteBudgetHard bound step (b)'s per-tick Invalid
	// part deletions; the soft limit grows toward the hard limit when a
	// backlog builds (tracked by the worker across ticks).
	DeleteBudgetSoft int
	DeleteBudgetHard int
	// MaxWriteRepl caps replication destinations chosen per chunk in one
	// tick (step (d)).
	MaxWriteRepl int
	// AcceptableDifference is the disk-usage delta (0..1 fraction) above
	// which step (h) triggers a rebalance copy.
	AcceptableDifference float64
	// StuckFailureThreshold is how many consecutive failed repair
	// attempts move a chunk from the normal rotation into the low
	// frequency stuck-retry queue.
	StuckFailureThreshold int
	// StuckRetryEvery is how many ticks pass between stuck-queue retries.
	StuckRetryEvery int
}

// DefaultConfig returns tunables matching the reference values named in the
// design notes; callers override via config.Config at startup.
func DefaultConfig() Config {
	return Config{
		HashSteps:                 4096,
		HashCPS:                   1000,
		EndangeredChunksPriority:  10,
		ChunksLoopPeriod:          5 * time.Minute,
		OperationsDelayInit:       5 * time.Minute,
		OperationsDelayDisconnect: 5 * time.Minute,
		DeleteBudgetSoft:          100,
		DeleteBudgetHard:          1000,
		MaxWriteRepl:              5,
		AcceptableDifference:      0.01,
		StuckFailureThreshold:     5,
		StuckRetryEvery:           60,
	}
}
