package replicator

import (
	"bytes"
	"hash/crc32"
	"testing"

	"github.com/lizardfs/lizardfs-sub006/internal/chunk"
	"github.com/lizardfs/lizardfs-sub006/types"
)

type fakeReader struct {
	blocks map[types.ChunkPartType][]byte
}

func (f fakeReader) ReadBlock(_ types.CSID, partType types.ChunkPartType, _ int) ([]byte, error) {
	return f.blocks[partType], nil
}

type fakeCreator struct {
	written         []byte
	crc             uint32
	corruptNextRead bool
}

func (f *fakeCreator) WriteBlock(_ types.CSID, _ types.ChunkId, _ types.ChunkPartType, _ int, data []byte, crc uint32) error {
	f.written = append([]byte(nil), data...)
	f.crc = crc
	return nil
}

func (f *fakeCreator) ReadBlock(_ types.CSID, _ types.ChunkId, _ types.ChunkPartType, _ int) ([]byte, error) {
	if f.corruptNextRead {
		corrupted := append([]byte(nil), f.written...)
		corrupted[0] ^= 0xFF
		return corrupted, nil
	}
	return f.written, nil
}

func TestReplicatePartXORRecoversMissingMember(t *testing.T) {
	slice := types.XOR(2)
	data0 := []byte("AAAAAAAA")
	data1 := []byte("BBBBBBBB")
	parity := make([]byte, len(data0))
	for i := range parity {
		parity[i] = data0[i] ^ data1[i]
	}

	blocks := map[types.ChunkPartType][]byte{
		{Slice: slice, PartIndex: 0}: data0,
		{Slice: slice, PartIndex: 2}: parity,
	}

	sources := func(types.ChunkId) map[int]types.CSID {
		return map[int]types.CSID{0: 10, 2: 12}
	}
	blocksPerChunk := func(types.ChunkId) int { return 1 }

	creator := &fakeCreator{}
	cfg := DefaultConfig()
	rep := New(cfg, fakeReader{blocks: blocks}, creator, sources, blocksPerChunk)

	missing := chunk.ChunkPart{
		ServerID: 11,
		PartType: types.ChunkPartType{Slice: slice, PartIndex: 1},
	}

	if err := rep.Replicate(1, []chunk.ChunkPart{missing}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(creator.written, data1) {
		t.Errorf("expected recovered part 1 to equal %q, got %q", data1, creator.written)
	}
	if creator.crc != crc32.ChecksumIEEE(data1) {
		t.Error("written CRC does not match the recovered block")
	}
}

func TestReplicateDetectsTransitCorruption(t *testing.T) {
	slice := types.XOR(2)
	data0 := []byte("AAAAAAAA")
	data1 := []byte("BBBBBBBB")
	parity := make([]byte, len(data0))
	for i := range parity {
		parity[i] = data0[i] ^ data1[i]
	}

	blocks := map[types.ChunkPartType][]byte{
		{Slice: slice, PartIndex: 0}: data0,
		{Slice: slice, PartIndex: 2}: parity,
	}
	sources := func(types.ChunkId) map[int]types.CSID {
		return map[int]types.CSID{0: 10, 2: 12}
	}
	blocksPerChunk := func(types.ChunkId) int { return 1 }

	creator := &fakeCreator{corruptNextRead: true}
	rep := New(DefaultConfig(), fakeReader{blocks: blocks}, creator, sources, blocksPerChunk)

	missing := chunk.ChunkPart{
		ServerID: 11,
		PartType: types.ChunkPartType{Slice: slice, PartIndex: 1},
	}
	if err := rep.Replicate(1, []chunk.ChunkPart{missing}); err != ErrChecksumMismatch {
		t.Errorf("expected ErrChecksumMismatch when the read-back block differs from what was written, got %v", err)
	}
}

func TestReplicatePartFailsWithoutEnoughSources(t *testing.T) {
	slice := types.XOR(3)
	sources := func(types.ChunkId) map[int]types.CSID { return map[int]types.CSID{0: 10} }
	blocksPerChunk := func(types.ChunkId) int { return 1 }
	rep := New(DefaultConfig(), fakeReader{}, &fakeCreator{}, sources, blocksPerChunk)

	missing := chunk.ChunkPart{ServerID: 11, PartType: types.ChunkPartType{Slice: slice, PartIndex: 1}}
	if err := rep.Replicate(1, []chunk.ChunkPart{missing}); err != ErrNoSource {
		t.Errorf("expected ErrNoSource, got %v", err)
	}
}

func TestRoundBatchAlignsToStripe(t *testing.T) {
	if got := roundBatch(8, 4); got != 8 {
		t.Errorf("roundBatch(8,4) = %d, want 8", got)
	}
	if got := roundBatch(5, 4); got != 8 {
		t.Errorf("roundBatch(5,4) = %d, want 8", got)
	}
	if got := roundBatch(8, 0); got != 8 {
		t.Errorf("roundBatch(8,0) = %d, want 8", got)
	}
}
