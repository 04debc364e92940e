// Package csdb is the master's chunkserver directory (spec.md §3's
// "Chunkserver DB entry"): the (ip,port) -> CSID assignment, per-server
// metadata (label, version, declared weight, last reported load), and the
// liveness bookkeeping that turns a missed heartbeat into removal from
// placement consideration. It backs both chunk.ServerDirectory (existence
// and label lookups for the chunk table) and placement.Directory (the
// candidate list placement.Chooser sorts and fills from).
package csdb

import (
	"net"
	"sync"
	"time"

	"github.com/NebulousLabs/errors"
	"github.com/lizardfs/lizardfs-sub006/internal/placement"
	"github.com/lizardfs/lizardfs-sub006/protocol"
	"github.com/lizardfs/lizardfs-sub006/types"
)

// DefaultDeadAfter is how long a registered chunkserver may go without a
// heartbeat before Candidates stops offering it to placement.
const DefaultDeadAfter = 30 * time.Second

var ErrFull = errors.New("csdb: all CSIDs in use")
var ErrUnknownServer = errors.New("csdb: no chunkserver registered with that id")

// entry is one registered chunkserver.
type entry struct {
	id       types.CSID
	addr     protocol.Addr
	label    string
	version  types.Version
	weight   int
	load     float64
	lastBeat time.Time
}

// Database is the concrete chunk.ServerDirectory/placement.Directory
// implementation wired into the master.
type Database struct {
	mu        sync.Mutex
	byID      map[types.CSID]*entry
	byAddr    map[protocol.Addr]types.CSID
	deadAfter time.Duration
	nextID    types.CSID
}

// NewDatabase creates an empty directory.
func NewDatabase() *Database {
	return &Database{
		byID:      make(map[types.CSID]*entry),
		byAddr:    make(map[protocol.Addr]types.CSID),
		deadAfter: DefaultDeadAfter,
	}
}

// SetDeadAfter overrides the liveness window Candidates uses; intended for
// startup config wiring and tests, not runtime tuning.
func (d *Database) SetDeadAfter(d2 time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d2 > 0 {
		d.deadAfter = d2
	}
}

// Register assigns (or reuses) a CSID for addr, recording its declared
// label/version/weight and an initial heartbeat. A chunkserver that
// reconnects from the same address keeps its existing CSID, since I1 (chunk
// part server ids are unique per chunk) and every persisted chunk table
// entry reference a CSID by value — a reconnect must not orphan them.
func (d *Database) Register(addr protocol.Addr, label string, version types.Version, weight int) (types.CSID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.byAddr[addr]; ok {
		e := d.byID[id]
		e.label = label
		e.version = version
		e.weight = weight
		e.lastBeat = time.Now()
		return id, nil
	}

	id, ok := d.nextFreeID()
	if !ok {
		return 0, ErrFull
	}
	d.byID[id] = &entry{
		id: id, addr: addr, label: label, version: version,
		weight: weight, lastBeat: time.Now(),
	}
	d.byAddr[addr] = id
	d.nextID = id + 1
	return id, nil
}

// nextFreeID returns the lowest unused CSID starting from d.nextID,
// wrapping once to cover ids freed by Unregister. Called with mu held.
func (d *Database) nextFreeID() (types.CSID, bool) {
	span := int(types.MaxCSID) + 1
	for i := 0; i < span; i++ {
		candidate := types.CSID((int(d.nextID) + i) % span)
		if _, taken := d.byID[candidate]; !taken {
			return candidate, true
		}
	}
	return 0, false
}

// Unregister removes a chunkserver from the directory entirely, e.g. on
// administrative decommission. A chunkserver that merely stops
// heartbeating is left in place (so its label/CSID survive a restart) and
// is simply excluded from Candidates once deadAfter has elapsed.
func (d *Database) Unregister(id types.CSID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.byID[id]
	if !ok {
		return ErrUnknownServer
	}
	delete(d.byID, id)
	delete(d.byAddr, e.addr)
	return nil
}

// Heartbeat records a chunkserver's current reported load, refreshing its
// liveness deadline.
func (d *Database) Heartbeat(id types.CSID, load float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.byID[id]
	if !ok {
		return ErrUnknownServer
	}
	e.load = load
	e.lastBeat = time.Now()
	return nil
}

// Exists implements chunk.ServerDirectory.
func (d *Database) Exists(id types.CSID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.byID[id]
	return ok
}

// Label implements chunk.ServerDirectory.
func (d *Database) Label(id types.CSID) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.byID[id]; ok {
		return e.label
	}
	return ""
}

// Addr returns the registered (ip,port) for id, or the zero Addr if unknown.
func (d *Database) Addr(id types.CSID) protocol.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.byID[id]; ok {
		return e.addr
	}
	return protocol.Addr{}
}

// ConnectionInfo returns the registered address and declared chunkserver
// software version for id, the shape FuseWriteChunkReply's locations vector
// needs to hand a client a dialable chain.
func (d *Database) ConnectionInfo(id types.CSID) (protocol.Addr, types.Version, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.byID[id]
	if !ok {
		return protocol.Addr{}, 0, false
	}
	return e.addr, e.version, true
}

// Candidates implements placement.Directory: every chunkserver whose
// heartbeat is still within deadAfter, in arbitrary map order (placement
// sorts its own copy).
func (d *Database) Candidates() []placement.ServerInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	out := make([]placement.ServerInfo, 0, len(d.byID))
	for _, e := range d.byID {
		if now.Sub(e.lastBeat) > d.deadAfter {
			continue
		}
		out = append(out, placement.ServerInfo{
			ID:      e.id,
			IP:      e.addr.IP,
			Label:   e.label,
			Weight:  e.weight,
			Version: e.version,
			Load:    e.load,
		})
	}
	return out
}

// AddrFromTCP is a convenience wrapper so callers handling a net.Conn can
// build the protocol.Addr key Register expects without importing protocol
// themselves for the common case.
func AddrFromTCP(conn net.Conn) protocol.Addr {
	if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return protocol.AddrFromTCP(tcp)
	}
	return protocol.Addr{}
}
