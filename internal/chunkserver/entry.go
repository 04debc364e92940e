package chunkserver

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/lizardfs/lizardfs-sub006/internal/diskjob"
	"github.com/lizardfs/lizardfs-sub006/protocol"
	"github.com/lizardfs/lizardfs-sub006/types"
)

// MaxConnectRetries bounds how many times Connecting redials the next hop
// of a write chain before giving up and falling to WriteFinish.
const MaxConnectRetries = 10

// connectBackoff returns the delay before the attempt'th redial (1-based),
// starting at 200ms and growing by 1.5x per attempt, matching spec.md
// §4.3's "exponential 200/300 ms backoff."
func connectBackoff(attempt int) time.Duration {
	d := 200 * time.Millisecond
	for i := 1; i < attempt; i++ {
		d = d * 3 / 2
	}
	return d
}

// FwdConn is the outbound half of a write chain's next hop: enough surface
// to forward a packet and to close the connection on teardown or error.
type FwdConn interface {
	WritePacket(t protocol.PacketType, payload []byte) error
	Close() error
}

type netFwdConn struct{ c net.Conn }

func (f netFwdConn) WritePacket(t protocol.PacketType, payload []byte) error {
	return protocol.WritePacket(f.c, t, payload)
}
func (f netFwdConn) Close() error { return f.c.Close() }

// Dialer opens the next hop of a write chain.
type Dialer interface {
	Dial(addr protocol.Addr) (FwdConn, error)
}

// TCPDialer is the production Dialer, each attempt bounded by Timeout.
type TCPDialer struct{ Timeout time.Duration }

func (d TCPDialer) Dial(addr protocol.Addr) (FwdConn, error) {
	ip := net.IP(addr.IP[:])
	c, err := net.DialTimeout("tcp", net.JoinHostPort(ip.String(), strconv.Itoa(int(addr.Port))), d.Timeout)
	if err != nil {
		return nil, err
	}
	return netFwdConn{c}, nil
}

// OutPacket is one framed reply an Entry has queued for its owning
// connection's writer to send.
type OutPacket struct {
	Type    protocol.PacketType
	Payload []byte
}

// Entry is one connection's state: the "cse" of spec.md §4.3. All mutation
// happens under mu, since both the network worker's read loop and the
// disk-job pool's callback goroutines drive it concurrently.
type Entry struct {
	mu sync.Mutex

	Dialect protocol.Dialect
	state   State

	store Store
	pool  *diskjob.Pool
	dial  Dialer

	ChunkId  types.ChunkId
	Version  types.Version
	PartType types.ChunkPartType

	readOffset    uint32
	readRemaining uint32

	wjobInFlight       int
	partiallyCompleted map[uint32]bool

	chain        []protocol.Addr
	fwd          FwdConn
	connRetryCnt int
	backoff      func(attempt int) time.Duration

	Out chan OutPacket
}

// NewEntry creates an idle connection entry.
func NewEntry(store Store, pool *diskjob.Pool, dial Dialer, dialect protocol.Dialect) *Entry {
	return &Entry{
		state:              StateIdle,
		store:              store,
		pool:               pool,
		dial:               dial,
		Dialect:            dialect,
		partiallyCompleted: make(map[uint32]bool),
		Out:                make(chan OutPacket, 64),
		backoff:            connectBackoff,
	}
}

// State returns the entry's current state under lock.
func (e *Entry) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Entry) emit(t protocol.PacketType, payload []byte) {
	select {
	case e.Out <- OutPacket{Type: t, Payload: payload}:
	default:
		// The output queue is bounded; when it is full the reply is
		// dropped rather than blocking the whole worker. No idle timeout
		// is set on the connection, so it is not closed for this.
	}
}

func (e *Entry) emitReadStatus(status protocol.Status) {
	e.emit(protocol.PacketReadStatus, protocol.ReadStatus{ChunkId: e.ChunkId, Status: status}.Marshal(e.Dialect))
}

func (e *Entry) emitWriteStatus(writeId uint32, status protocol.Status) {
	e.emit(protocol.PacketWriteStatus, protocol.WriteStatus{ChunkId: e.ChunkId, WriteId: writeId, Status: status}.Marshal(e.Dialect))
}

// ---- Read pipeline ----

// HandleReadInit starts a read. Only valid from Idle.
func (e *Entry) HandleReadInit(req protocol.Read) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		e.emitReadStatus(protocol.StatusNotPossible)
		return
	}
	if req.Size > types.MaxChunkSize || uint64(req.Offset)+uint64(req.Size) > types.MaxChunkSize {
		e.emitReadStatus(protocol.StatusWrongSize)
		return
	}
	e.ChunkId = req.ChunkId
	e.Version = req.ChunkVersion
	e.PartType = req.PartType
	e.readOffset = req.Offset
	e.readRemaining = req.Size

	if err := e.store.Open(req.ChunkId, req.PartType, req.ChunkVersion); err != nil {
		e.emitReadStatus(protocol.StatusENOENT)
		return
	}

	if req.Size == 0 {
		e.emitReadStatus(protocol.StatusOK)
		return
	}
	e.state = StateRead
	e.readContinue()
}

// readContinue schedules the next block's read job, or finishes the read
// if every requested byte has already been delivered. Called with mu held.
func (e *Entry) readContinue() {
	if e.readRemaining == 0 {
		e.emitReadStatus(protocol.StatusOK)
		e.state = StateIdle
		return
	}
	block := int(e.readOffset / types.Block)
	blockOffset := e.readOffset % types.Block
	want := types.Block - blockOffset
	if want > e.readRemaining {
		want = e.readRemaining
	}
	chunkId, partType := e.ChunkId, e.PartType
	offset := e.readOffset

	job := diskjob.JobFunc(func() {
		data, crc, err := e.store.ReadBlock(chunkId, partType, block, blockOffset, want)
		e.onReadBlock(offset, data, crc, err)
	})
	if err := e.pool.Submit(job, true); err != nil {
		e.emitReadStatus(protocol.StatusNotPossible)
		e.state = StateIdle
	}
}

// onReadBlock is the disk job's completion callback.
func (e *Entry) onReadBlock(offset uint32, data []byte, crc uint32, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRead {
		return
	}
	if err != nil {
		e.emitReadStatus(protocol.StatusENOENT)
		e.state = StateIdle
		return
	}
	e.emit(protocol.PacketReadData, protocol.ReadData{ChunkId: e.ChunkId, Offset: offset, Size: uint32(len(data)), CRC: crc, Data: data}.Marshal(e.Dialect))
	e.readOffset += uint32(len(data))
	if uint32(len(data)) >= e.readRemaining {
		e.readRemaining = 0
	} else {
		e.readRemaining -= uint32(len(data))
	}
	e.readContinue()
}

// ---- Write pipeline ----

// HandleWriteInit opens a write chain. Only valid from Idle.
func (e *Entry) HandleWriteInit(req protocol.WriteInit) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return
	}
	e.ChunkId = req.ChunkId
	e.Version = req.ChunkVersion
	e.PartType = req.PartType

	if err := e.store.Open(req.ChunkId, req.PartType, req.ChunkVersion); err != nil {
		if err := e.store.Create(req.ChunkId, req.PartType, req.ChunkVersion); err != nil {
			return
		}
	}

	if len(req.Chain) == 0 {
		e.state = StateWriteLast
		return
	}
	next := req.Chain[0]
	e.chain = req.Chain[1:]
	e.connRetryCnt = 0
	e.state = StateConnecting
	go e.connectChain(next)
}

// connectChain dials next, retrying with backoff, then forwards the
// remaining chain's WRITE_INIT once connected.
func (e *Entry) connectChain(next protocol.Addr) {
	for {
		conn, err := e.dial.Dial(next)
		e.mu.Lock()
		if e.state != StateConnecting {
			e.mu.Unlock()
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err == nil {
			e.fwd = conn
			e.state = StateWriteInit
			payload := protocol.WriteInit{ChunkId: e.ChunkId, ChunkVersion: e.Version, PartType: e.PartType, Chain: e.chain}.Marshal(e.Dialect)
			if werr := e.fwd.WritePacket(protocol.PacketWriteInit, payload); werr != nil {
				e.state = StateWriteFinish
			} else {
				e.state = StateWriteFwd
			}
			e.mu.Unlock()
			return
		}
		e.connRetryCnt++
		if e.connRetryCnt >= MaxConnectRetries {
			e.state = StateWriteFinish
			e.mu.Unlock()
			return
		}
		backoff := e.backoff(e.connRetryCnt)
		e.mu.Unlock()
		time.Sleep(backoff)
	}
}

// HandleWriteData processes one WRITE_DATA, forwarding it to the next hop
// (if any) and scheduling the local disk write. raw is the undecoded
// payload, reused verbatim for forwarding so the body is read into one
// buffer shared by both destinations.
func (e *Entry) HandleWriteData(req protocol.WriteData, raw []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if (e.state != StateWriteLast && e.state != StateWriteFwd) || req.ChunkId != e.ChunkId {
		e.emitWriteStatus(req.WriteId, protocol.StatusNotPossible)
		e.state = StateWriteFinish
		return
	}

	if e.state == StateWriteFwd {
		if err := e.fwd.WritePacket(protocol.PacketWriteData, raw); err != nil {
			e.emitWriteStatus(req.WriteId, protocol.StatusCantConnect)
			e.state = StateWriteFinish
			return
		}
	}

	e.wjobInFlight++
	chunkId, partType, writeId := e.ChunkId, e.PartType, req.WriteId
	offset, data, crc := req.Offset, req.Data, req.CRC
	job := diskjob.JobFunc(func() {
		err := e.store.WriteBlock(chunkId, partType, offset, data, crc)
		e.onWriteFinished(writeId, err)
	})
	if err := e.pool.Submit(job, true); err != nil {
		e.wjobInFlight--
		e.emitWriteStatus(writeId, protocol.StatusNotPossible)
		e.state = StateWriteFinish
	}
}

// onWriteFinished is the local disk job's completion callback.
func (e *Entry) onWriteFinished(writeId uint32, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wjobInFlight--

	if err != nil {
		e.emitWriteStatus(writeId, statusForWriteErr(err))
		if e.state != StateCloseWait && e.state != StateClosed {
			e.state = StateWriteFinish
		}
		e.maybeSettleClose()
		return
	}

	switch e.state {
	case StateWriteLast:
		e.emitWriteStatus(writeId, protocol.StatusOK)
	case StateWriteFwd:
		if e.partiallyCompleted[writeId] {
			delete(e.partiallyCompleted, writeId)
			e.emitWriteStatus(writeId, protocol.StatusOK)
		} else {
			e.partiallyCompleted[writeId] = true
		}
	}
	e.maybeSettleClose()
}

// HandleWriteStatus processes a WRITE_STATUS ack arriving from the next
// hop of a chain. Only meaningful in WriteFwd.
func (e *Entry) HandleWriteStatus(resp protocol.WriteStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateWriteFwd {
		return
	}
	if !resp.Status.OK() {
		e.emitWriteStatus(resp.WriteId, resp.Status)
		e.state = StateWriteFinish
		e.maybeSettleClose()
		return
	}
	if e.partiallyCompleted[resp.WriteId] {
		delete(e.partiallyCompleted, resp.WriteId)
		e.emitWriteStatus(resp.WriteId, protocol.StatusOK)
	} else {
		e.partiallyCompleted[resp.WriteId] = true
	}
	e.maybeSettleClose()
}

// HandleWriteEnd closes out the write. A WRITE_END is only valid once
// local disk work has drained, every expected remote ack has joined, and
// the output queue is empty; one arriving any earlier is a protocol
// violation rather than something to wait out, and forces the connection
// to WriteFinish instead (spec.md §5).
func (e *Entry) HandleWriteEnd(req protocol.WriteEnd) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateWriteLast && e.state != StateWriteFwd {
		return
	}
	if e.writeEndReady() {
		e.finishWrite()
		return
	}
	e.state = StateWriteFinish
}

func (e *Entry) writeEndReady() bool {
	return e.wjobInFlight == 0 && len(e.partiallyCompleted) == 0 && len(e.Out) == 0
}

func (e *Entry) finishWrite() {
	e.store.Commit(e.ChunkId, e.PartType)
	e.store.Close(e.ChunkId, e.PartType)
	if e.fwd != nil {
		e.fwd.Close()
		e.fwd = nil
	}
	e.state = StateIdle
}

// maybeSettleClose re-checks a pending Close once state that gated it
// (wjobInFlight) has changed.
func (e *Entry) maybeSettleClose() {
	if e.state == StateCloseWait && e.wjobInFlight == 0 {
		e.state = StateClosed
	}
}

func statusForWriteErr(err error) protocol.Status {
	if err == ErrCRCMismatch {
		return protocol.StatusCRCMismatch
	}
	return protocol.StatusEINVAL
}

// ---- Close ----

// RequestClose begins shutdown: background jobs already scheduled are left
// to finish (their callbacks become no-ops once State is Closed/CloseWait
// for read, or settle the close for write), but no new ones are started.
func (e *Entry) RequestClose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fwd != nil {
		e.fwd.Close()
		e.fwd = nil
	}
	if e.wjobInFlight == 0 {
		e.state = StateClosed
	} else {
		e.state = StateCloseWait
	}
}
