// Client<->master write/read coordination (SPEC_FULL.md §5): accepts the
// FUSE_WRITE_CHUNK/FUSE_WRITE_CHUNK_END/FUSE_TRUNCATE/FUSE_TRUNCATE_END
// family on its own listener (distinct from the admin HTTP surface in
// server.go), opens/extends chunks through the chunk table, hands back the
// chain a client writes through, and completes the session's delayed op
// once the client reports the chunkserver side done.
package master

import (
	"net"

	"github.com/google/uuid"
	"github.com/lizardfs/lizardfs-sub006/internal/chunk"
	"github.com/lizardfs/lizardfs-sub006/internal/session"
	"github.com/lizardfs/lizardfs-sub006/protocol"
	lfsync "github.com/lizardfs/lizardfs-sub006/sync"
	"github.com/lizardfs/lizardfs-sub006/types"
)

// defaultGoalName is the goal every open-for-write uses. This module's
// scope is the chunk lifecycle, not the metadata tree that would normally
// map an inode to its file's goal (out of scope per spec.md's own
// Non-goals); FuseWriteChunk/FuseTruncate requests are therefore always
// opened against the "default" named goal.
const defaultGoalName = "default"

// ClientCapabilities resolves the protocol capabilities a client
// connection gets treated with. The pack's protocol package has no live
// capability-negotiation handshake packet, so this is a pluggable hook
// (config/test seam) rather than a wire-derived value; it defaults to full
// capabilities. Set it to return protocol.LegacyCapabilities for a
// connection to exercise I-M's refusal path end to end.
type ClientCapabilities func(net.Conn) protocol.Capabilities

func fullCapabilities(net.Conn) protocol.Capabilities {
	return protocol.Capabilities{SupportsXOR: true, SupportsEC: true, SupportsEC2: true, SupportsLockIds: true}
}

// ClientListenAndServe binds the client-facing listener and starts
// accepting connections under tg; mirrors ListenAndServe's synchronous
// bind / background accept-loop split.
func (s *Server) ClientListenAndServe(tg *lfsync.ThreadGroup, addr string, caps ClientCapabilities) error {
	if caps == nil {
		caps = fullCapabilities
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if err := tg.Add(); err != nil {
		l.Close()
		return err
	}
	tg.OnStop(func() { l.Close() })

	go func() {
		defer tg.Done()
		for {
			conn, err := l.Accept()
			if err != nil {
				select {
				case <-tg.StopChan():
					return
				default:
					s.logf("master: client accept error: %v", err)
					return
				}
			}
			go s.serveClient(tg, conn, caps(conn))
		}
	}()
	return nil
}

func (s *Server) serveClient(tg *lfsync.ThreadGroup, conn net.Conn, caps protocol.Capabilities) {
	if err := tg.Add(); err != nil {
		conn.Close()
		return
	}
	defer tg.Done()
	defer conn.Close()

	sess := s.Sessions.Open(peerIP(conn))
	connID := uuid.New()

	for {
		ptype, payload, err := protocol.ReadPacket(conn)
		if err != nil {
			return
		}
		s.Sessions.Touch(sess.ID)

		switch ptype {
		case protocol.PacketFuseWriteChunk:
			req, err := protocol.UnmarshalFuseWriteChunk(protocol.LizardFS, payload)
			if err != nil {
				s.logf("master: conn=%s malformed fuse_write_chunk: %v", connID, err)
				continue
			}
			reply, err := s.handleFuseWriteChunk(sess, req, caps)
			if err != nil {
				s.logf("master: conn=%s fuse_write_chunk inode=%d: %v", connID, req.Inode, err)
				continue
			}
			if err := protocol.WritePacket(conn, protocol.PacketFuseWriteChunkReply, reply.Marshal(protocol.LizardFS)); err != nil {
				return
			}

		case protocol.PacketFuseWriteChunkEnd:
			req, err := protocol.UnmarshalFuseWriteChunkEnd(protocol.LizardFS, payload)
			if err != nil {
				s.logf("master: malformed fuse_write_chunk_end: %v", err)
				continue
			}
			s.handleFuseWriteChunkEnd(sess, req)

		case protocol.PacketFuseTruncate:
			req, err := protocol.UnmarshalFuseTruncate(protocol.LizardFS, payload)
			if err != nil {
				s.logf("master: malformed fuse_truncate: %v", err)
				continue
			}
			reply, err := s.handleFuseTruncate(sess, req)
			if err != nil {
				s.logf("master: fuse_truncate inode=%d: %v", req.Inode, err)
				continue
			}
			if err := protocol.WritePacket(conn, protocol.PacketFuseWriteChunkReply, reply.Marshal(protocol.LizardFS)); err != nil {
				return
			}

		case protocol.PacketFuseTruncateEnd:
			req, err := protocol.UnmarshalFuseTruncateEnd(protocol.LizardFS, payload)
			if err != nil {
				s.logf("master: malformed fuse_truncate_end: %v", err)
				continue
			}
			// handleFuseTruncate queued its delayed op under the inode's
			// (possibly replaced) last chunk id.
			chunkID, _ := s.lastChunk(req.Inode)
			s.handleFuseWriteChunkEnd(sess, protocol.FuseWriteChunkEnd{
				ChunkId: chunkID, LockId: req.LockId, Inode: req.Inode, FileLength: req.NewLength,
			})
		}
	}
}

func peerIP(conn net.Conn) net.IP {
	if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return tcp.IP
	}
	return nil
}

// handleFuseWriteChunk implements the write half of SPEC_FULL.md §5:
// open (or extend) a chunk for writing, resolve its parts to dialable
// chunkserver addresses, queue the session's delayed op awaiting the
// client's end-of-write confirmation, and hand back the chain.
func (s *Server) handleFuseWriteChunk(sess *session.Session, req protocol.FuseWriteChunk, caps protocol.Capabilities) (protocol.FuseWriteChunkReply, error) {
	goal, err := s.Goal(defaultGoalName)
	if err != nil {
		return protocol.FuseWriteChunkReply{}, err
	}

	var chunkID types.ChunkId
	var lockID types.LockId
	if req.ChunkIdHint == 0 {
		chunkID, lockID, err = s.Table.Create(goal, false, 0, caps)
	} else {
		lockIn := types.NoLock
		if req.HasLockId {
			lockIn = req.LockId
		}
		chunkID, lockID, _, err = s.Table.MultiModify(req.ChunkIdHint, lockIn, goal, !req.HasLockId, false, caps)
	}
	if err != nil {
		return protocol.FuseWriteChunkReply{}, err
	}

	c, err := s.Table.Get(chunkID)
	if err != nil {
		return protocol.FuseWriteChunkReply{}, err
	}

	reply := protocol.FuseWriteChunkReply{
		ChunkId:      chunkID,
		ChunkVersion: c.Version,
		LockId:       lockID,
		Locations:    s.locationsFor(c),
	}

	sess.QueueDelayedOp(session.DelayedChunkOp{
		ChunkId:    chunkID,
		MessageId:  req.Index,
		Inode:      req.Inode,
		LockId:     lockID,
		OpKind:     "write",
		LegacyPeer: !caps.SupportsLockIds,
	})
	s.recordChunk(req.Inode, req.Index, chunkID)
	return reply, nil
}

// handleFuseTruncate mirrors handleFuseWriteChunk for MultiTruncate. The
// wire request only names an inode (no chunk id), so it resolves the
// target chunk from the index handleFuseWriteChunk maintains rather than
// from a metadata tree this module doesn't have.
func (s *Server) handleFuseTruncate(sess *session.Session, req protocol.FuseTruncate) (protocol.FuseWriteChunkReply, error) {
	chunkID, ok := s.lastChunk(req.Inode)
	if !ok {
		return protocol.FuseWriteChunkReply{}, ErrNoChunkForInode
	}

	goal, err := s.Goal(defaultGoalName)
	if err != nil {
		return protocol.FuseWriteChunkReply{}, err
	}

	// denyParityTruncation is unconditional: this listener has no way to
	// confirm the truncating peer can itself recompute parity, so it
	// always takes the safe (deny) path for a parity part type.
	newChunkID, err := s.Table.MultiTruncate(chunkID, req.LockId, req.NewLength, goal, true, false)
	if err != nil {
		return protocol.FuseWriteChunkReply{}, err
	}

	c, err := s.Table.Get(newChunkID)
	if err != nil {
		return protocol.FuseWriteChunkReply{}, err
	}

	reply := protocol.FuseWriteChunkReply{
		ChunkId:      newChunkID,
		ChunkVersion: c.Version,
		LockId:       req.LockId,
		Locations:    s.locationsFor(c),
	}
	sess.QueueDelayedOp(session.DelayedChunkOp{
		ChunkId:    newChunkID,
		Inode:      req.Inode,
		FileLength: req.NewLength,
		LockId:     req.LockId,
		OpKind:     "truncate",
	})
	s.replaceChunk(req.Inode, chunkID, newChunkID)
	return reply, nil
}

// recordChunk remembers which chunk a (inode, chunk-index) pair resolved
// to, so a later truncate on the same inode can find it.
func (s *Server) recordChunk(inode types.Inode, index uint32, chunkID types.ChunkId) {
	s.imu.Lock()
	defer s.imu.Unlock()
	m, ok := s.chunksByInode[inode]
	if !ok {
		m = make(map[uint32]types.ChunkId)
		s.chunksByInode[inode] = m
	}
	m[index] = chunkID
}

// lastChunk returns the highest-index chunk recorded for inode, the one a
// truncate-to-shorter-length targets in the common case.
func (s *Server) lastChunk(inode types.Inode) (types.ChunkId, bool) {
	s.imu.Lock()
	defer s.imu.Unlock()
	m, ok := s.chunksByInode[inode]
	if !ok || len(m) == 0 {
		return 0, false
	}
	var maxIdx uint32
	found := false
	for idx := range m {
		if !found || idx > maxIdx {
			maxIdx, found = idx, true
		}
	}
	return m[maxIdx], true
}

// replaceChunk updates the inode index after MultiTruncate allocates a
// new chunk id for a duplicated (snapshot-shared) chunk.
func (s *Server) replaceChunk(inode types.Inode, oldID, newID types.ChunkId) {
	if oldID == newID {
		return
	}
	s.imu.Lock()
	defer s.imu.Unlock()
	for idx, id := range s.chunksByInode[inode] {
		if id == oldID {
			s.chunksByInode[inode][idx] = newID
		}
	}
}

// handleFuseWriteChunkEnd completes the delayed op queued by
// handleFuseWriteChunk/handleFuseTruncate: SPEC_FULL.md §5's ordering
// guarantee is that the client's end-of-write confirmation is what
// releases the chunk's lock, not the write itself.
func (s *Server) handleFuseWriteChunkEnd(sess *session.Session, req protocol.FuseWriteChunkEnd) {
	if _, ok := sess.TakeDelayedOp(req.ChunkId); !ok {
		s.logf("master: fuse_write_chunk_end chunk=%d: no queued delayed op", req.ChunkId)
	}
	if err := s.Table.Unlock(req.ChunkId); err != nil {
		s.logf("master: unlock chunk=%d: %v", req.ChunkId, err)
	}
}

func (s *Server) locationsFor(c chunk.Chunk) []protocol.Location {
	locs := make([]protocol.Location, 0, len(c.Parts))
	for _, p := range c.Parts {
		addr, ver, ok := s.Directory.ConnectionInfo(p.ServerID)
		if !ok {
			continue
		}
		locs = append(locs, protocol.Location{Addr: addr, PartType: p.PartType, CSVer: uint32(ver)})
	}
	return locs
}
