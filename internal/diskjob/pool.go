// Package diskjob implements the chunkserver's bounded per-worker disk job
// pool: a dedicated goroutine that drains a high-priority queue (client
// reads/writes) ahead of a low-priority one (background replication and
// scrub jobs), modeled on the two-priority-channel jogger pattern used for
// per-mountpath disk workers in the retrieval pack's erasure-coding corpus,
// adapted to the teacher's sync.ThreadGroup shutdown idiom in place of a
// bare stop channel (spec.md §4.3/§5, "each worker owns a background
// disk-job pool").
package diskjob

import (
	"github.com/NebulousLabs/errors"
	lfsync "github.com/lizardfs/lizardfs-sub006/sync"
)

// ErrQueueFull is returned by Submit once the pool's queue occupancy has
// reached the reject threshold (RejectFraction of its combined capacity),
// or when the chosen priority channel has no room left.
var ErrQueueFull = errors.New("diskjob: queue is full, job rejected")

// RejectFraction is the queue-occupancy fraction at or above which Submit
// starts rejecting new jobs.
const RejectFraction = 0.9

// Job is one unit of disk work: reading a block, writing a block, an hdd
// test, or a chunk-file rename/delete. Run is executed on the pool's worker
// goroutine, never on the caller's.
type Job interface {
	Run()
}

// JobFunc adapts a plain function to Job.
type JobFunc func()

// Run implements Job.
func (f JobFunc) Run() { f() }

// Pool is one network worker's bounded disk job queue: a high-priority
// channel for client-facing read/write jobs and a low-priority channel for
// background (replication, scrub) jobs, both bounded to capacity.
type Pool struct {
	capacity int
	high     chan Job
	low      chan Job
}

// NewPool creates a Pool whose high- and low-priority channels each hold up
// to capacity jobs, for a combined capacity of 2*capacity.
func NewPool(capacity int) *Pool {
	if capacity <= 0 {
		capacity = 1
	}
	return &Pool{
		capacity: capacity,
		high:     make(chan Job, capacity),
		low:      make(chan Job, capacity),
	}
}

// occupancy returns the pool's combined queue depth as a fraction of its
// combined capacity.
func (p *Pool) occupancy() float64 {
	depth := len(p.high) + len(p.low)
	return float64(depth) / float64(2*p.capacity)
}

// Full reports whether the pool has reached its reject threshold.
func (p *Pool) Full() bool {
	return p.occupancy() >= RejectFraction
}

// Submit enqueues job at the given priority, rejecting it with
// ErrQueueFull if the pool is already at its reject threshold. A full
// high-priority submission still checks combined occupancy: a worker
// swamped with background jobs also throttles client requests, since both
// queues share the same backing disk.
func (p *Pool) Submit(job Job, highPriority bool) error {
	if p.Full() {
		return ErrQueueFull
	}
	ch := p.low
	if highPriority {
		ch = p.high
	}
	select {
	case ch <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run drains the pool until tg is stopped, always preferring the
// high-priority channel: client reads/writes must not wait behind a batch
// of background replication jobs.
func (p *Pool) Run(tg *lfsync.ThreadGroup) error {
	if err := tg.Add(); err != nil {
		return err
	}
	defer tg.Done()

	for {
		select {
		case job := <-p.high:
			job.Run()
			continue
		default:
		}

		select {
		case job := <-p.high:
			job.Run()
		case job := <-p.low:
			job.Run()
		case <-tg.StopChan():
			return nil
		}
	}
}
