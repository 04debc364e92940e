package readplan

import (
	"hash/crc32"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NebulousLabs/errors"
	"github.com/lizardfs/lizardfs-sub006/internal/erasure"
	"github.com/lizardfs/lizardfs-sub006/protocol"
)

func crc32Checksum(b []byte) uint32 { return crc32.ChecksumIEEE(b) }

// ErrCRCMismatch is raised when a READ_DATA block's payload doesn't match
// the CRC-32 the header announced.
var ErrCRCMismatch = errors.New("readplan: CRC_MISMATCH")

// ErrPlanExhausted is raised when every wave for some required part has
// failed and the plan's remaining available parts can't satisfy the
// slice's recovery requirement.
var ErrPlanExhausted = errors.New("readplan: remaining available parts are insufficient to finish the read")

// SourceConn is one open connection to a candidate source, already past
// connection setup. Recv returns exactly one of data/status per call and
// is called repeatedly until status is non-nil or an error occurs,
// modeling the per-source SendingRequest -> ReceivingHeader ->
// {ReceivingReadData -> ReceivingDataBlock} | ReceivingReadStatus ->
// Finished state table at the packet-framing level (header/body framing
// itself is handled by the protocol package's own decoder).
type SourceConn interface {
	Send(req protocol.Read) error
	Recv() (data *protocol.ReadData, status *protocol.ReadStatus, err error)
	Close() error
}

// Dialer opens a SourceConn to the given candidate source.
type Dialer func(WaveSource) (SourceConn, error)

// Executor runs read plans and tracks the wave-rescue counters named in
// spec.md §4.5 ("total executions, executions that needed more than wave
// 0, executions rescued by later waves").
type Executor struct {
	executions   uint64
	beyondWave0  uint64
	rescuedLater uint64
}

// Counters snapshots the executor's published counters.
type Counters struct {
	Executions            uint64
	ExecutionsBeyondWave0 uint64
	ExecutionsRescued     uint64
}

// Counters returns a snapshot of the executor's published counters.
func (e *Executor) Counters() Counters {
	return Counters{
		Executions:            atomic.LoadUint64(&e.executions),
		ExecutionsBeyondWave0: atomic.LoadUint64(&e.beyondWave0),
		ExecutionsRescued:     atomic.LoadUint64(&e.rescuedLater),
	}
}

// partResult is one part's outcome: the block data received, in request
// order, or the error that ended this attempt.
type partResult struct {
	idx    int
	blocks [][]byte
	err    error
}

// Execute runs plan to completion: opens wave-0 sources, fails a part over
// to its next wave on timeout or error, and once isReadingPossible holds
// for the parts that succeeded, reconstructs the logical block range and
// returns it.
func (e *Executor) Execute(plan Plan, dial Dialer, waveTimeout, totalTimeout time.Duration) ([]byte, error) {
	atomic.AddUint64(&e.executions, 1)
	deadline := time.Now().Add(totalTimeout)

	codec, err := erasure.New(plan.Slice)
	if err != nil {
		return nil, err
	}

	attempt := make(map[int]int) // part idx -> next wave index to try
	succeeded := make(map[int][][]byte)
	usedWave1Plus := false

	maxWave := plan.maxWave()
	for wave := 0; wave <= maxWave; wave++ {
		pending := e.launchWave(plan, dial, attempt, succeeded, wave)
		if len(pending) == 0 {
			continue
		}
		if wave > 0 {
			usedWave1Plus = true
		}

		remaining := time.Until(deadline)
		if remaining > waveTimeout {
			remaining = waveTimeout
		}
		results := e.collectWave(pending, remaining)
		for _, r := range results {
			if r.err == nil {
				succeeded[r.idx] = r.blocks
			}
			attempt[r.idx]++
		}

		if e.planSatisfied(plan, succeeded) {
			break
		}
		if time.Now().After(deadline) {
			break
		}
	}

	if usedWave1Plus {
		atomic.AddUint64(&e.beyondWave0, 1)
		if e.planSatisfied(plan, succeeded) {
			atomic.AddUint64(&e.rescuedLater, 1)
		}
	}

	available := make([]int, 0, len(succeeded))
	for idx := range succeeded {
		available = append(available, idx)
	}
	planner := erasure.NewSliceRecoveryPlanner(plan.Slice, available)
	if !planner.IsReadingPossible() {
		return nil, ErrPlanExhausted
	}

	numBlocks := 0
	for _, blocks := range succeeded {
		if len(blocks) > numBlocks {
			numBlocks = len(blocks)
		}
	}

	// Each part block carries one DataParts-th of a logical block; a plain
	// copy (DataParts 0) carries the whole block.
	dataParts := plan.Slice.DataParts
	if dataParts < 1 {
		dataParts = 1
	}
	out := make([]byte, 0, int(plan.RequestSize))
	for b := 0; b < numBlocks; b++ {
		parts := make(map[int][]byte, len(succeeded))
		blockSize := 0
		for idx, blocks := range succeeded {
			if b < len(blocks) {
				parts[idx] = blocks[b]
				if len(blocks[b]) > blockSize {
					blockSize = len(blocks[b])
				}
			}
		}
		logical, err := codec.Reconstruct(plan.Slice, parts, blockSize*dataParts)
		if err != nil {
			return nil, err
		}
		out = append(out, logical...)
	}
	if want := int(plan.RequestSize) * dataParts; want < len(out) {
		out = out[:want]
	}
	return out, nil
}

// launchWave starts one goroutine per part whose next untried source is at
// this wave, returning the channels the results will arrive on.
func (e *Executor) launchWave(plan Plan, dial Dialer, attempt map[int]int, succeeded map[int][][]byte, wave int) []<-chan partResult {
	var pending []<-chan partResult
	for idx, candidates := range plan.Sources {
		if _, done := succeeded[idx]; done {
			continue
		}
		next := attempt[idx]
		if next >= len(candidates) || candidates[next].Wave != wave {
			continue
		}
		source := candidates[next]
		ch := make(chan partResult, 1)
		pending = append(pending, ch)
		go func(idx int, source WaveSource) {
			blocks, err := readPart(plan, dial, idx, source)
			ch <- partResult{idx: idx, blocks: blocks, err: err}
		}(idx, source)
	}
	return pending
}

// collectWave waits up to timeout for every launched goroutine to report,
// treating a still-missing result as a timeout failure for that part.
func (e *Executor) collectWave(pending []<-chan partResult, timeout time.Duration) []partResult {
	results := make([]partResult, 0, len(pending))
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var mu sync.Mutex
	remaining := len(pending)
	done := make(chan struct{})
	for _, ch := range pending {
		go func(ch <-chan partResult) {
			r := <-ch
			mu.Lock()
			results = append(results, r)
			remaining--
			if remaining == 0 {
				close(done)
			}
			mu.Unlock()
		}(ch)
	}

	select {
	case <-done:
	case <-timer.C:
	}
	mu.Lock()
	defer mu.Unlock()
	return append([]partResult(nil), results...)
}

func (e *Executor) planSatisfied(plan Plan, succeeded map[int][][]byte) bool {
	available := make([]int, 0, len(succeeded))
	for idx := range succeeded {
		available = append(available, idx)
	}
	return erasure.NewSliceRecoveryPlanner(plan.Slice, available).IsReadingPossible()
}

// readPart drives one source's connection to completion, validating each
// READ_DATA block's offset and CRC-32 against what the plan expects.
func readPart(plan Plan, dial Dialer, idx int, source WaveSource) ([][]byte, error) {
	conn, err := dial(source)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.Send(plan.requestFor(idx)); err != nil {
		return nil, err
	}

	var blocks [][]byte
	expectedOffset := plan.RequestOffset
	received := uint32(0)
	for {
		data, status, err := conn.Recv()
		if err != nil {
			return nil, err
		}
		if status != nil {
			if !status.Status.OK() {
				return nil, errors.New("readplan: source reported a non-OK read status")
			}
			if received < plan.RequestSize {
				return nil, errors.New("readplan: READ_STATUS arrived before all requested bytes")
			}
			return blocks, nil
		}
		if data == nil {
			continue
		}
		if data.ChunkId != plan.ChunkId {
			return nil, errors.New("readplan: READ_DATA chunk id mismatch")
		}
		if data.Offset != expectedOffset {
			return nil, errors.New("readplan: READ_DATA offset out of sequence")
		}
		if crc32Checksum(data.Data) != data.CRC {
			return nil, ErrCRCMismatch
		}
		blocks = append(blocks, data.Data)
		expectedOffset += data.Size
		received += data.Size
	}
}
