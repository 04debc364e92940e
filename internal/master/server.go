// Package master wires the chunk table, placement chooser, background
// chunk worker, session manager and chunkserver directory into the master
// daemon described by SPEC_FULL.md §2's wiring diagram, and exposes a
// small HTTP control surface for cmd/lfsctl (goal reload, availability
// dump, chunkserver registration) in the teacher's cmd/siad daemon shape:
// a listener-owning Server with a loadModules-style constructor and a
// cooperative Close.
package master

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/NebulousLabs/errors"
	"github.com/julienschmidt/httprouter"
	"github.com/lizardfs/lizardfs-sub006/internal/chunk"
	"github.com/lizardfs/lizardfs-sub006/internal/chunkworker"
	"github.com/lizardfs/lizardfs-sub006/internal/csdb"
	"github.com/lizardfs/lizardfs-sub006/internal/placement"
	"github.com/lizardfs/lizardfs-sub006/internal/session"
	"github.com/lizardfs/lizardfs-sub006/persist"
	lfsync "github.com/lizardfs/lizardfs-sub006/sync"
	"github.com/lizardfs/lizardfs-sub006/types"
	"github.com/prometheus/client_golang/prometheus"
)

var ErrUnknownGoal = errors.New("master: no goal registered with that name")

// ErrNoChunkForInode is returned by the truncate path when a client
// truncates an inode the master has never opened a chunk for.
var ErrNoChunkForInode = errors.New("master: no chunk recorded for this inode")

// Server is the master daemon's top-level object.
type Server struct {
	Table      *chunk.Table
	Directory  *csdb.Database
	Chooser    *placement.Chooser
	Worker     *chunkworker.Worker
	Sessions   *session.Manager
	Metrics    *chunk.Metrics
	logger     *persist.Logger

	mu    sync.Mutex
	goals map[string]*chunk.Goal

	// imu guards chunksByInode, the lightweight inode -> (index -> chunk)
	// index the client protocol loop keeps so FUSE_TRUNCATE (which only
	// names an inode) can resolve the chunk MultiTruncate needs; this
	// module has no metadata tree of its own to consult instead.
	imu           sync.Mutex
	chunksByInode map[types.Inode]map[uint32]types.ChunkId

	listener   net.Listener
	httpServer *http.Server
}

// New wires every component from cfg. replicator/rebalancer may be nil (see
// chunkworker.NewWorker). internal/replicator provides a
// chunkworker.Replicator; this module has no chunkworker.Rebalancer
// implementation.
func New(cfg Config, logger *persist.Logger, reg prometheus.Registerer, replicator chunkworker.Replicator, rebalancer chunkworker.Rebalancer) *Server {
	dir := csdb.NewDatabase()
	dir.SetDeadAfter(cfg.CSDeadAfter)
	chooser := placement.NewChooser(dir)
	metrics := chunk.NewMetrics(reg)
	table := chunk.NewTable(dir, chooser, logger, metrics)
	if cfg.LockTimeout > 0 {
		table.LockTimeout = cfg.LockTimeout
	}
	worker := chunkworker.NewWorker(table, cfg.Worker, logger, replicator, rebalancer)
	sessions := session.NewManager(cfg.SessionsPath, cfg.CredCap)

	goals := make(map[string]*chunk.Goal, len(cfg.Goals))
	for name, g := range cfg.Goals {
		goals[name] = g
	}

	return &Server{
		Table:         table,
		Directory:     dir,
		Chooser:       chooser,
		Worker:        worker,
		Sessions:      sessions,
		Metrics:       metrics,
		logger:        logger,
		goals:         goals,
		chunksByInode: make(map[types.Inode]map[uint32]types.ChunkId),
	}
}

// Goal looks up a named replication goal.
func (s *Server) Goal(name string) (*chunk.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.goals[name]
	if !ok {
		return nil, ErrUnknownGoal
	}
	return g, nil
}

// ReloadGoals atomically replaces the named goal set, e.g. after an
// lfsctl-driven config change.
func (s *Server) ReloadGoals(goals map[string]*chunk.Goal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goals = goals
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// ListenAndServe binds the control API's listener and registers its
// shutdown with tg; it returns once the listener is bound. It starts
// neither the HTTP loop nor the worker: the caller runs Serve and Run for
// the daemon's lifetime.
func (s *Server) ListenAndServe(tg *lfsync.ThreadGroup, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = l
	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadTimeout:       time.Minute,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       5 * time.Minute,
	}
	tg.OnStop(func() {
		s.listener.Close()
		s.httpServer.Close()
	})
	return nil
}

// Serve runs the control API until the listener closes.
func (s *Server) Serve() error {
	err := s.httpServer.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Run drives the background chunk worker loop until tg stops.
func (s *Server) Run(tg *lfsync.ThreadGroup) error {
	return s.Worker.Run(tg)
}

func (s *Server) routes() http.Handler {
	r := httprouter.New()
	r.GET("/availability", s.handleAvailability)
	r.GET("/replication", s.handleReplication)
	r.GET("/chunkservers", s.handleChunkservers)
	r.POST("/chunkservers/register", s.handleRegisterChunkserver)
	r.POST("/chunkservers/:id/heartbeat", s.handleHeartbeat)
	r.GET("/stuck", s.handleStuck)
	r.POST("/goals/reload", s.handleReloadGoals)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"message": err.Error()})
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.Table.GetAvailabilityState())
}

func (s *Server) handleReplication(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.Table.GetReplicationState())
}

func (s *Server) handleChunkservers(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.Directory.Candidates())
}

type registerChunkserverRequest struct {
	IP      [4]byte `json:"ip"`
	Port    uint16  `json:"port"`
	Label   string  `json:"label"`
	Version uint32  `json:"version"`
	Weight  int     `json:"weight"`
}

func (s *Server) handleRegisterChunkserver(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req registerChunkserverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.Directory.Register(addrFromRequest(req), req.Label, versionFromUint32(req.Version), req.Weight)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"csid": id})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := csidFromParam(ps.ByName("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Load float64 `json:"load"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Directory.Heartbeat(id, req.Load); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStuck(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.Worker.StuckChunks())
}

func (s *Server) handleReloadGoals(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req map[string]struct {
		Copies int `json:"copies"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	goals := make(map[string]*chunk.Goal, len(req))
	for name, def := range req {
		goals[name] = chunk.StandardGoal(name, def.Copies)
	}
	s.ReloadGoals(goals)
	w.WriteHeader(http.StatusOK)
}
