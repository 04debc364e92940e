// Package readplan implements the client-side wave-based read plan
// executor (spec.md §4.5): for a chunk part type that isn't available from
// a single source, open connections to several candidate sources in
// ascending wave order, read and validate each block, fail over to the
// next wave on timeout or error, and reconstruct the logical block once
// enough parts have arrived.
package readplan

import (
	"github.com/lizardfs/lizardfs-sub006/protocol"
	"github.com/lizardfs/lizardfs-sub006/types"
)

// BlockSize is the fixed block size read requests and READ_DATA packets
// are chunked into (MFSBLOCKSIZE in the wire protocol).
const BlockSize = 64 * 1024

// WaveSource is one candidate server for a part index, tried in ascending
// Wave order: wave 0 sources are contacted immediately, wave 1 only after
// a wave-0 source fails or times out, and so on.
type WaveSource struct {
	Server types.CSID
	Wave   int
}

// Plan is a read plan: for each part index needed to reconstruct the
// target block range, the ordered candidate sources and the byte range to
// request from each.
type Plan struct {
	Slice         types.SliceType
	ChunkId       types.ChunkId
	ChunkVersion  types.Version
	RequestOffset uint32
	RequestSize   uint32
	Sources       map[int][]WaveSource
}

// maxWave returns the highest wave number present in the plan.
func (p Plan) maxWave() int {
	max := 0
	for _, candidates := range p.Sources {
		for _, c := range candidates {
			if c.Wave > max {
				max = c.Wave
			}
		}
	}
	return max
}

// requestFor builds the READ packet sent to the source for part idx.
func (p Plan) requestFor(idx int) protocol.Read {
	return protocol.Read{
		ChunkId:      p.ChunkId,
		ChunkVersion: p.ChunkVersion,
		PartType:     types.ChunkPartType{Slice: p.Slice, PartIndex: idx},
		Offset:       p.RequestOffset,
		Size:         p.RequestSize,
	}
}
