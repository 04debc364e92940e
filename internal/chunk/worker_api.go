package chunk

import (
	"sort"

	"github.com/lizardfs/lizardfs-sub006/types"
)

// DrainEndangered pops up to limit chunk ids from the endangered queue (a
// chunk enters the queue when it transitions into Endangered; the
// in_endangered_queue bit prevents double-queuing). Chunks that have since
// recovered to Safe are silently dropped rather than handed to the caller,
// since the queue is only a priority hint, not a worklist needing a revisit
// guarantee.
func (t *Table) DrainEndangered(limit int) []types.ChunkId {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []types.ChunkId
	i := 0
	for ; i < len(t.endangeredQueue) && len(out) < limit; i++ {
		id := t.endangeredQueue[i]
		c, ok := t.chunks[id]
		if !ok {
			continue
		}
		c.InEndangeredQueue = false
		if c.Availability.State == Endangered {
			out = append(out, id)
		}
	}
	t.endangeredQueue = t.endangeredQueue[i:]
	return out
}

// Buckets partitions every tracked chunk id into n stable hash buckets,
// mirroring the worker's per-hash-bucket sweep (§4.2's "HashSteps hash
// buckets"). Bucketing by id%n keeps a chunk in the same bucket across
// calls as long as the table's chunk set doesn't change underneath it,
// which is enough for HashSteps/HashCPS budgeting to make even progress.
func (t *Table) Buckets(n int) [][]types.ChunkId {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n <= 0 {
		n = 1
	}
	buckets := make([][]types.ChunkId, n)
	for id := range t.chunks {
		b := int(uint64(id) % uint64(n))
		buckets[b] = append(buckets[b], id)
	}
	for _, b := range buckets {
		sort.Slice(b, func(i, j int) bool { return b[i] < b[j] })
	}
	return buckets
}

// ReconcileDisconnected drops parts whose server is no longer present in
// the server directory, bumps NeedsVersionIncrease, and marks the chunk
// interrupted if an operation was in flight — step (a) of the worker tick.
// It returns the ids of chunks it touched.
func (t *Table) ReconcileDisconnected() []types.ChunkId {
	t.mu.Lock()
	defer t.mu.Unlock()
	var touched []types.ChunkId
	for id, c := range t.chunks {
		kept := c.Parts[:0]
		changed := false
		for _, p := range c.Parts {
			if t.dir != nil && !t.dir.Exists(p.ServerID) {
				changed = true
				continue
			}
			kept = append(kept, p)
		}
		if !changed {
			continue
		}
		c.Parts = kept
		c.NeedsVersionIncrease = true
		if c.Operation != OpNone {
			c.Interrupted = true
		}
		t.recomputeAvailability(c)
		touched = append(touched, id)
	}
	return touched
}

// DeleteInvalidParts removes up to budget Invalid-state parts across the
// table (step (b)'s deletion budget; the budget is table-wide, not counted
// per server). It returns how many it removed.
func (t *Table) DeleteInvalidParts(budget int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for _, c := range t.chunks {
		if removed >= budget {
			break
		}
		kept := c.Parts[:0]
		changedAny := false
		for _, p := range c.Parts {
			if p.State == PartInvalid && removed < budget {
				removed++
				changedAny = true
				continue
			}
			kept = append(kept, p)
		}
		c.Parts = kept
		if changedAny {
			t.recomputeAvailability(c)
		}
	}
	return removed
}

// UnreferencedChunks returns the ids of chunks with FileCount()==0 (I4):
// candidates for the worker's unused-chunk GC, step (c).
func (t *Table) UnreferencedChunks() []types.ChunkId {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []types.ChunkId
	for id, c := range t.chunks {
		if c.FileCount() == 0 {
			out = append(out, id)
		}
	}
	return out
}

// MarkPartsDeleting transitions every part of chunkID, whatever its state,
// to PartDel,
// awaiting the chunkserver's delete acknowledgement (GotStatus will drop
// them on ack, step (c)'s "delete all remaining parts").
func (t *Table) MarkPartsDeleting(chunkID types.ChunkId) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, err := t.get(chunkID)
	if err != nil {
		return err
	}
	for i := range c.Parts {
		c.Parts[i].State = PartDel
	}
	return nil
}

// DeletePart transitions one specific part of chunkID to PartDel, awaiting
// the chunkserver's delete acknowledgement. Used by the worker's over-goal
// deletion (step e) and rebalance steps (f/g/h), which each pick one exact
// (server, part type) to retire rather than a bulk GC.
func (t *Table) DeletePart(chunkID types.ChunkId, serverID types.CSID, partType types.ChunkPartType) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, err := t.get(chunkID)
	if err != nil {
		return err
	}
	for i := range c.Parts {
		if c.Parts[i].ServerID == serverID && c.Parts[i].PartType == partType {
			c.Parts[i].State = PartDel
			t.recomputeAvailability(c)
			return nil
		}
	}
	return ErrUnknownServer
}

// RecalcChecksums walks every chunk, re-verifies its cached checksum and
// adopts the recomputed value on mismatch, returning how many chunks were
// found stale. Mirrors the background metadata-checksum recalculator.
func (t *Table) RecalcChecksums() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	stale := 0
	for _, c := range t.chunks {
		match, recomputed := recalcChecksum(c)
		if !match {
			stale++
			t.logf("checksum mismatch chunk=%d, adopting recomputed value", c.ID)
			c.Checksum = recomputed
		}
	}
	return stale
}
