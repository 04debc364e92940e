// Package replicator implements the chunkserver-side half of chunk
// replication: reading surviving source blocks, reconstructing a missing
// part through internal/erasure, and writing it to a newly chosen
// destination server, all gated through a shared bandwidth limiter
// (spec.md §4.4, §4.6).
package replicator

import (
	"context"
	"hash/crc32"

	"github.com/NebulousLabs/errors"
	"github.com/lizardfs/lizardfs-sub006/bwlimit"
	"github.com/lizardfs/lizardfs-sub006/internal/chunk"
	"github.com/lizardfs/lizardfs-sub006/internal/erasure"
	"github.com/lizardfs/lizardfs-sub006/types"
)

// ErrNoSource is returned when no surviving source can supply a block a
// reconstruction needs.
var ErrNoSource = errors.New("replicator: no source available for a required block")

// ErrChecksumMismatch is returned when a reconstructed block's CRC-32
// doesn't match the value recomputed after writing it to the destination.
var ErrChecksumMismatch = errors.New("replicator: reconstructed block failed its checksum")

// SourceReader reads one block of a given part from wherever it currently
// lives. blockIndex addresses the chunk's fixed-size block sequence;
// callers reconstruct whole chunks block by block to bound memory use.
type SourceReader interface {
	ReadBlock(server types.CSID, partType types.ChunkPartType, blockIndex int) ([]byte, error)
}

// ChunkFileCreator is the abstract sink a reconstructed block is written
// to: the destination chunkserver's local chunk file, reached over
// whatever transport internal/chunkserver provides. Kept as an interface so
// the replicator's batching/reconstruction logic is unit-testable without
// a live connection.
type ChunkFileCreator interface {
	WriteBlock(dest types.CSID, chunkID types.ChunkId, partType types.ChunkPartType, blockIndex int, data []byte, crc uint32) error
	// ReadBlock reads back a block just written to dest, so the caller can
	// checksum what the destination actually has on disk rather than what
	// was handed to WriteBlock -- the only way to catch corruption
	// introduced in transit (a flipped bit on the wire or a torn write).
	ReadBlock(dest types.CSID, chunkID types.ChunkId, partType types.ChunkPartType, blockIndex int) ([]byte, error)
}

// Config tunes the replicator's batching and block size.
type Config struct {
	// BlockSize is the fixed block size blocks are read/written in.
	BlockSize int
	// BatchSize is the number of blocks grouped into one batch; rounded up
	// to a multiple of the slice's data-part count so every batch ends on
	// a stripe boundary. Replicate runs every batch of a part in the same
	// call; it does not return to the worker tick between batches.
	BatchSize int
	// BandwidthLimiter gates every block transferred, shared across all
	// concurrent replication jobs (spec.md §4.6).
	BandwidthLimiter *bwlimit.Limiter
}

// DefaultConfig returns reasonable defaults: a 64KiB block and an 8-block
// batch, unlimited bandwidth.
func DefaultConfig() Config {
	return Config{BlockSize: 64 * 1024, BatchSize: 8, BandwidthLimiter: &bwlimit.Limiter{}}
}

// Replicator reconstructs missing chunk parts and writes them to newly
// chosen destinations. It satisfies chunkworker.Replicator.
type Replicator struct {
	cfg     Config
	reader  SourceReader
	creator ChunkFileCreator
	// sources maps a chunk id to the (server, part index) pairs currently
	// known to hold usable data for it, supplied by the caller per chunk
	// since the chunk table doesn't track block-level availability.
	sources func(types.ChunkId) map[int]types.CSID
	// blocksPerChunk returns how many fixed-size blocks a chunk's length
	// implies, so Replicate knows how far to iterate.
	blocksPerChunk func(types.ChunkId) int
}

// New creates a Replicator. sources and blocksPerChunk are supplied by the
// caller (the master/chunkserver wiring) since they depend on state the
// chunk table doesn't itself track.
func New(cfg Config, reader SourceReader, creator ChunkFileCreator, sources func(types.ChunkId) map[int]types.CSID, blocksPerChunk func(types.ChunkId) int) *Replicator {
	if cfg.BlockSize <= 0 || cfg.BatchSize <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.BandwidthLimiter == nil {
		cfg.BandwidthLimiter = &bwlimit.Limiter{}
	}
	return &Replicator{cfg: cfg, reader: reader, creator: creator, sources: sources, blocksPerChunk: blocksPerChunk}
}

// roundBatch rounds the configured batch size up to a multiple of
// dataParts, so a batch never stops mid-stripe.
func roundBatch(batch, dataParts int) int {
	if dataParts <= 1 {
		return batch
	}
	if batch%dataParts == 0 {
		return batch
	}
	return (batch/dataParts + 1) * dataParts
}

// Replicate reconstructs every part in recover and writes each to a newly
// chosen destination server, one block at a time, covering every block of
// the chunk in batches of the configured size. It satisfies
// chunkworker.Replicator.
func (r *Replicator) Replicate(chunkID types.ChunkId, recover []chunk.ChunkPart) error {
	for _, part := range recover {
		if err := r.replicatePart(chunkID, part); err != nil {
			return err
		}
	}
	return nil
}

func (r *Replicator) replicatePart(chunkID types.ChunkId, part chunk.ChunkPart) error {
	slice := part.PartType.Slice
	codec, err := erasure.New(slice)
	if err != nil {
		return err
	}

	available := r.sources(chunkID)
	indices := make([]int, 0, len(available))
	for idx := range available {
		indices = append(indices, idx)
	}
	planner := erasure.NewSliceRecoveryPlanner(slice, indices)
	if !planner.IsReadingPossible() {
		return ErrNoSource
	}

	total := r.blocksPerChunk(chunkID)
	batch := roundBatch(r.cfg.BatchSize, slice.DataParts)

	for start := 0; start < total; start += batch {
		end := start + batch
		if end > total {
			end = total
		}
		for blockIdx := start; blockIdx < end; blockIdx++ {
			if err := r.replicateBlock(chunkID, part, codec, planner, available, blockIdx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Replicator) replicateBlock(chunkID types.ChunkId, part chunk.ChunkPart, codec erasure.Codec, planner *erasure.SliceRecoveryPlanner, available map[int]types.CSID, blockIdx int) error {
	need := planner.RequiredParts()
	sourceBlocks := make(map[int][]byte, len(need))
	var blockSize int
	for _, idx := range need {
		server, ok := available[idx]
		if !ok {
			return ErrNoSource
		}
		srcType := types.ChunkPartType{Slice: part.PartType.Slice, PartIndex: idx}
		data, err := r.reader.ReadBlock(server, srcType, blockIdx)
		if err != nil {
			return err
		}
		if err := r.cfg.BandwidthLimiter.Wait(context.Background(), len(data)); err != nil {
			return err
		}
		sourceBlocks[idx] = data
		if len(data) > blockSize {
			blockSize = len(data)
		}
	}

	// blockSize is one part's block length; the logical block spans
	// DataParts of them (a plain copy has DataParts 0 and is the block).
	dataParts := part.PartType.Slice.DataParts
	if dataParts < 1 {
		dataParts = 1
	}
	logical, err := codec.Reconstruct(part.PartType.Slice, sourceBlocks, blockSize*dataParts)
	if err != nil {
		return err
	}

	parts, err := codec.Encode(part.PartType.Slice, logical)
	if err != nil {
		return err
	}
	if part.PartType.PartIndex >= len(parts) {
		return ErrNoSource
	}
	out := parts[part.PartType.PartIndex]
	crc := crc32.ChecksumIEEE(out)

	if err := r.cfg.BandwidthLimiter.Wait(context.Background(), len(out)); err != nil {
		return err
	}
	if err := r.creator.WriteBlock(part.ServerID, chunkID, part.PartType, blockIdx, out, crc); err != nil {
		return err
	}

	written, err := r.creator.ReadBlock(part.ServerID, chunkID, part.PartType, blockIdx)
	if err != nil {
		return err
	}
	if crc32.ChecksumIEEE(written) != crc {
		return ErrChecksumMismatch
	}
	return nil
}
