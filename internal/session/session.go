// Package session implements the master's per-mount client session state:
// sessionid, flags, open files, delayed chunk ops, and the credential
// cache, persisted across restarts via persist.SaveJSON/LoadJSON
// (SPEC_FULL.md §3, "Session (master side)").
package session

import (
	"net"
	"time"

	"github.com/lizardfs/lizardfs-sub006/types"
)

// Flags are the per-session mount options.
type Flags uint8

const (
	FlagReadOnly Flags = 1 << iota
	FlagMapAllUID
	FlagDynamicIP
	FlagMetaOnly
)

// NumOpCounters is the width of the op-counter arrays: one slot per
// tracked operation kind, doubled for current+previous hour.
const NumOpCounters = 16

// OpCounters holds the current and previous hour's per-operation-kind
// counters, rotated by Manager.RotateHour.
type OpCounters struct {
	Current  [NumOpCounters]uint32
	Previous [NumOpCounters]uint32
}

// DelayedChunkOp is a master-side {chunkid, messageid, ...} record queued
// on a session when a client request's answer must wait on a chunkserver
// ack. Exactly one reply is produced per queued op, keyed by ChunkId.
type DelayedChunkOp struct {
	ChunkId     types.ChunkId
	MessageId   uint32
	Inode       types.Inode
	FileLength  uint64
	LockId      types.LockId
	OpKind      string
	LegacyPeer  bool
}

// CredentialCacheEntry is one entry of the secondary-groups LRU cache. Key
// is a 31-bit id; the high bit of the key space is reserved to flag "this
// id is a cache id, look up the real group list" at the wire layer (the
// struct itself just stores the resolved groups).
type CredentialCacheEntry struct {
	Key    uint32
	Groups []uint32
	Used   time.Time
}

// Session is the master's per-mount session record.
type Session struct {
	ID       types.SessionId
	PeerIP   net.IP
	Flags    Flags
	RootIno  types.Inode
	MinGoal  uint8
	MaxGoal  uint8
	MinTrash time.Duration
	MaxTrash time.Duration

	OpenFiles map[types.Inode]int // inode -> open count

	DelayedOps []DelayedChunkOp

	Counters OpCounters

	credentials []CredentialCacheEntry
	credCap     int

	LastSeen time.Time
	InfoStr  string
}

func newSession(id types.SessionId, ip net.IP, credCap int) *Session {
	return &Session{
		ID:        id,
		PeerIP:    ip,
		OpenFiles: make(map[types.Inode]int),
		credCap:   credCap,
		LastSeen:  time.Now(),
	}
}

// OpenFile records one additional open handle on inode.
func (s *Session) OpenFile(inode types.Inode) {
	s.OpenFiles[inode]++
}

// CloseFile releases one open handle on inode, removing the entry once the
// count reaches zero.
func (s *Session) CloseFile(inode types.Inode) {
	if s.OpenFiles[inode] <= 1 {
		delete(s.OpenFiles, inode)
		return
	}
	s.OpenFiles[inode]--
}

// QueueDelayedOp appends a delayed chunk op awaiting a chunkserver ack.
func (s *Session) QueueDelayedOp(op DelayedChunkOp) {
	s.DelayedOps = append(s.DelayedOps, op)
}

// TakeDelayedOp removes and returns the first queued delayed op for
// chunkID, the match key used when a chunkserver ack arrives.
func (s *Session) TakeDelayedOp(chunkID types.ChunkId) (DelayedChunkOp, bool) {
	for i, op := range s.DelayedOps {
		if op.ChunkId == chunkID {
			s.DelayedOps = append(s.DelayedOps[:i], s.DelayedOps[i+1:]...)
			return op, true
		}
	}
	return DelayedChunkOp{}, false
}

// CacheCredentials stores groups under a cache key, evicting the
// least-recently-used entry once credCap is exceeded.
func (s *Session) CacheCredentials(key uint32, groups []uint32) {
	for i, e := range s.credentials {
		if e.Key == key {
			s.credentials[i].Groups = groups
			s.credentials[i].Used = time.Now()
			return
		}
	}
	if s.credCap > 0 && len(s.credentials) >= s.credCap {
		oldest := 0
		for i, e := range s.credentials {
			if e.Used.Before(s.credentials[oldest].Used) {
				oldest = i
			}
		}
		s.credentials = append(s.credentials[:oldest], s.credentials[oldest+1:]...)
	}
	s.credentials = append(s.credentials, CredentialCacheEntry{Key: key, Groups: groups, Used: time.Now()})
}

// LookupCredentials returns the cached groups for key, if present.
func (s *Session) LookupCredentials(key uint32) ([]uint32, bool) {
	for i, e := range s.credentials {
		if e.Key == key {
			s.credentials[i].Used = time.Now()
			return e.Groups, true
		}
	}
	return nil, false
}
