// Package chunkserver implements the chunkserver-side connection state
// machine (spec.md §4.3): the per-connection entry that drives read,
// write-chain, write-forward and close handling, plus the network worker
// pool and acceptor that own connections and their bounded disk-job queues.
package chunkserver

// State is one state in the connection state table of spec.md §4.3.
type State int

const (
	// StateIdle: no op in flight. Accepts read-init, prefetch, write-init,
	// get-chunk-blocks, list-disks, chart, test-chunk, ping.
	StateIdle State = iota
	// StateRead: read streamed to client; leaves to Idle after the final
	// READ_STATUS.
	StateRead
	// StateGetBlock: GET_CHUNK_BLOCKS listing in flight.
	StateGetBlock
	// StateWriteLast: tail of a chain, or the only server in the goal.
	StateWriteLast
	// StateConnecting: outbound TCP to the next hop in a write chain.
	StateConnecting
	// StateWriteInit: sending the forward WRITE_INIT to the next hop.
	StateWriteInit
	// StateWriteFwd: middle of a chain, forwarding writes and statuses.
	StateWriteFwd
	// StateWriteFinish: unrecoverable write error, draining the output
	// queue before closing.
	StateWriteFinish
	// StateClose: shutdown requested; disables outstanding background jobs.
	StateClose
	// StateCloseWait: waiting for disk jobs to settle.
	StateCloseWait
	// StateClosed: ready to be reaped from the worker's connection set.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRead:
		return "Read"
	case StateGetBlock:
		return "GetBlock"
	case StateWriteLast:
		return "WriteLast"
	case StateConnecting:
		return "Connecting"
	case StateWriteInit:
		return "WriteInit"
	case StateWriteFwd:
		return "WriteFwd"
	case StateWriteFinish:
		return "WriteFinish"
	case StateClose:
		return "Close"
	case StateCloseWait:
		return "CloseWait"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}
