package chunkserver

import (
	"net"

	"github.com/lizardfs/lizardfs-sub006/persist"
	lfsync "github.com/lizardfs/lizardfs-sub006/sync"
)

// Server is the chunkserver's acceptor: one goroutine handing off accepted
// sockets round-robin to a fixed pool of network workers, refusing a
// connection outright when the chosen worker's disk-job queue is already
// at its reject threshold (spec.md §5, "refuses if the worker's job pool
// is >= 90% full").
type Server struct {
	listener net.Listener
	workers  []*NetworkWorker
	logger   *persist.Logger
}

// NewServer wires a listener to a fixed set of workers.
func NewServer(listener net.Listener, workers []*NetworkWorker, logger *persist.Logger) *Server {
	return &Server{listener: listener, workers: workers, logger: logger}
}

// Accept runs the acceptor loop until tg is stopped or the listener
// errors.
func (s *Server) Accept(tg *lfsync.ThreadGroup) error {
	if err := tg.Add(); err != nil {
		return err
	}
	defer tg.Done()
	tg.OnStop(func() { s.listener.Close() })

	var idx uint64
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-tg.StopChan():
				return nil
			default:
				return err
			}
		}
		w := s.workers[idx%uint64(len(s.workers))]
		idx++
		if w.Full() {
			conn.Close()
			continue
		}
		go func(w *NetworkWorker, c net.Conn) {
			if err := w.Serve(tg, c); err != nil && s.logger != nil {
				s.logger.Printf("chunkserver: worker %d connection ended: %v", w.id, err)
			}
		}(w, conn)
	}
}
