package chunkworker

import (
	"testing"
	"time"

	"github.com/lizardfs/lizardfs-sub006/internal/chunk"
	"github.com/lizardfs/lizardfs-sub006/protocol"
	"github.com/lizardfs/lizardfs-sub006/types"
)

func pastTime() time.Time { return time.Now().Add(-time.Hour) }

type fakeDirectory struct {
	servers map[types.CSID]string
}

func newFakeDirectory(ids ...types.CSID) *fakeDirectory {
	d := &fakeDirectory{servers: make(map[types.CSID]string)}
	for _, id := range ids {
		d.servers[id] = ""
	}
	return d
}

func (d *fakeDirectory) Exists(id types.CSID) bool  { _, ok := d.servers[id]; return ok }
func (d *fakeDirectory) Label(id types.CSID) string { return d.servers[id] }

// alwaysFailReplicator simulates a chunk that can never be repaired, to
// exercise the stuck-chunk split.
type alwaysFailReplicator struct{ calls int }

func (r *alwaysFailReplicator) Replicate(types.ChunkId, []chunk.ChunkPart) error {
	r.calls++
	return errBoom
}

var errBoom = &stringError{"replicate failed"}

type stringError struct{ s string }

func (e *stringError) Error() string { return e.s }

func TestTickCompletesOverAckedChunk(t *testing.T) {
	dir := newFakeDirectory(1, 2)
	tbl := chunk.NewTable(dir, fakePlacement{dir}, nil, nil)
	id, _, err := tbl.Create(chunk.StandardGoal("2x", 2), false, 0, protocol.Capabilities{})
	if err != nil {
		t.Fatal(err)
	}
	c, _ := tbl.Get(id)
	for _, p := range c.Parts {
		if err := tbl.GotStatus(p.ServerID, id, p.PartType, true); err != nil {
			t.Fatal(err)
		}
	}

	cfg := DefaultConfig()
	cfg.HashSteps = 4
	cfg.HashCPS = 100
	w := NewWorker(tbl, cfg, nil, nil, nil)
	w.pausedUntil = pastTime()

	if step := w.Tick(); step != stepDone && step != stepYield {
		t.Fatalf("unexpected step result: %v", step)
	}
}

func TestWorkerMarksChunkStuckAfterRepeatedFailures(t *testing.T) {
	dir := newFakeDirectory(1, 2, 3)
	tbl := chunk.NewTable(dir, fakePlacement{dir}, nil, nil)
	id, _, err := tbl.Create(chunk.StandardGoal("3x", 3), false, 0, protocol.Capabilities{})
	if err != nil {
		t.Fatal(err)
	}
	// Fail one part's pending operation so GetPartsToModify reports it as
	// needing recovery, then force every repair attempt to fail.
	c, _ := tbl.Get(id)
	if err := tbl.GotStatus(c.Parts[0].ServerID, id, c.Parts[0].PartType, false); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.HashSteps = 1
	cfg.HashCPS = 100
	cfg.StuckFailureThreshold = 2
	rep := &alwaysFailReplicator{}
	w := NewWorker(tbl, cfg, nil, rep, nil)
	w.pausedUntil = pastTime()

	// Drive processChunk directly (bypassing Tick's whole-table Invalid
	// part sweep) so the same Invalid part keeps signalling "needs
	// recovery" across attempts, the way a real scenario would if the
	// chunkserver kept re-advertising the same bad version.
	for i := 0; i < cfg.StuckFailureThreshold+1; i++ {
		w.processChunk(id)
	}

	stuck := w.StuckChunks()
	found := false
	for _, sid := range stuck {
		if sid == id {
			found = true
		}
	}
	if !found {
		t.Errorf("expected chunk %d to be marked stuck after %d failed replicate attempts, stuck=%v", id, cfg.StuckFailureThreshold, stuck)
	}
}

type fakePlacement struct{ dir *fakeDirectory }

func (p fakePlacement) ChooseServersForNewChunk(goal *chunk.Goal, _ types.Version) (map[types.ChunkPartType]types.CSID, error) {
	out := make(map[types.ChunkPartType]types.CSID)
	ids := make([]types.CSID, 0, len(p.dir.servers))
	for id := range p.dir.servers {
		ids = append(ids, id)
	}
	i := 0
	for slice, lc := range goal.Slices {
		for part := 0; part < lc.Total() && i < len(ids); part++ {
			out[types.ChunkPartType{Slice: slice, PartIndex: part}] = ids[i]
			i++
		}
	}
	if len(out) == 0 {
		return nil, chunk.ErrNoChunkServers
	}
	return out, nil
}
