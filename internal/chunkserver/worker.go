package chunkserver

import (
	"net"
	"sync"

	"github.com/lizardfs/lizardfs-sub006/internal/diskjob"
	"github.com/lizardfs/lizardfs-sub006/protocol"
	lfsync "github.com/lizardfs/lizardfs-sub006/sync"
)

// NetworkWorker is one of the chunkserver's N network worker goroutines
// (SPEC_FULL.md §4.3/§5): it owns a connection set (locked only on
// add/remove) and a bounded disk-job pool shared by every connection the
// acceptor has handed it.
type NetworkWorker struct {
	id    int
	pool  *diskjob.Pool
	store Store
	dial  Dialer

	mu    sync.Mutex
	conns map[*Entry]struct{}
}

// NewNetworkWorker creates a worker with its own disk-job pool of the
// given capacity.
func NewNetworkWorker(id int, poolCapacity int, store Store, dial Dialer) *NetworkWorker {
	return &NetworkWorker{
		id:    id,
		pool:  diskjob.NewPool(poolCapacity),
		store: store,
		dial:  dial,
		conns: make(map[*Entry]struct{}),
	}
}

// Full reports whether the worker's disk-job pool has reached its reject
// threshold; the acceptor refuses new connections to a full worker.
func (w *NetworkWorker) Full() bool { return w.pool.Full() }

// ConnCount returns the worker's current live connection count.
func (w *NetworkWorker) ConnCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.conns)
}

// Run drains the worker's disk-job pool until tg stops.
func (w *NetworkWorker) Run(tg *lfsync.ThreadGroup) error {
	return w.pool.Run(tg)
}

// Serve takes ownership of an accepted connection: it registers the
// connection's Entry, starts the goroutine draining replies back to the
// socket, and reads packets off conn until it errors, closes, or the
// entry reaches Closed.
func (w *NetworkWorker) Serve(tg *lfsync.ThreadGroup, conn net.Conn) error {
	if err := tg.Add(); err != nil {
		conn.Close()
		return err
	}
	defer tg.Done()
	defer conn.Close()

	entry := NewEntry(w.store, w.pool, w.dial, protocol.LizardFS)
	w.mu.Lock()
	w.conns[entry] = struct{}{}
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.conns, entry)
		w.mu.Unlock()
	}()

	stop := make(chan struct{})
	defer close(stop)
	go writeLoop(conn, entry, stop)

	for {
		ptype, payload, err := protocol.ReadPacket(conn)
		if err != nil {
			entry.RequestClose()
			return nil
		}
		dispatch(entry, ptype, payload)
		if entry.State() == StateClosed {
			return nil
		}
	}
}

// writeLoop drains entry's outbound packet queue to conn until the
// connection's read loop signals stop, or a write fails.
func writeLoop(conn net.Conn, entry *Entry, stop <-chan struct{}) {
	for {
		select {
		case pkt := <-entry.Out:
			if err := protocol.WritePacket(conn, pkt.Type, pkt.Payload); err != nil {
				entry.RequestClose()
				return
			}
		case <-stop:
			return
		}
	}
}

// dispatch decodes one inbound frame and routes it to the matching Entry
// handler. A malformed payload is dropped silently and the connection stays
// open; no idle timeout or read deadline is set on the connection.
func dispatch(entry *Entry, ptype protocol.PacketType, payload []byte) {
	switch ptype {
	case protocol.PacketRead:
		if req, err := protocol.UnmarshalRead(entry.Dialect, payload); err == nil {
			entry.HandleReadInit(req)
		}
	case protocol.PacketWriteInit:
		if req, err := protocol.UnmarshalWriteInit(entry.Dialect, payload); err == nil {
			entry.HandleWriteInit(req)
		}
	case protocol.PacketWriteData:
		if req, err := protocol.UnmarshalWriteData(entry.Dialect, payload); err == nil {
			entry.HandleWriteData(req, payload)
		}
	case protocol.PacketWriteStatus:
		if req, err := protocol.UnmarshalWriteStatus(entry.Dialect, payload); err == nil {
			entry.HandleWriteStatus(req)
		}
	case protocol.PacketWriteEnd:
		if req, err := protocol.UnmarshalWriteEnd(entry.Dialect, payload); err == nil {
			entry.HandleWriteEnd(req)
		}
	}
}
