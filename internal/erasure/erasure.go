// Package erasure implements the XOR and Reed-Solomon EC codecs a chunk's
// non-standard slice types are reconstructed through, plus the
// SliceRecoveryPlanner the replicator and read-plan executor consult to
// decide whether a chunk part type is reconstructible from a given set of
// surviving parts (SPEC_FULL.md §4.4/§4.5).
package erasure

import (
	"github.com/NebulousLabs/errors"
	"github.com/klauspost/reedsolomon"
	"github.com/lizardfs/lizardfs-sub006/types"
)

// ErrInsufficientParts is returned when fewer surviving parts are available
// than the slice type needs to reconstruct.
var ErrInsufficientParts = errors.New("erasure: not enough surviving parts to reconstruct this slice")

// Codec reconstructs one logical block from a set of physical part blocks,
// or produces the part blocks from one logical block (encode direction).
type Codec interface {
	// Encode splits one logical block into Slice.TotalParts() part
	// blocks, in part-index order.
	Encode(slice types.SliceType, block []byte) ([][]byte, error)
	// Reconstruct rebuilds the logical block given the part blocks it has,
	// keyed by part index; missing indices are absent from the map.
	Reconstruct(slice types.SliceType, parts map[int][]byte, blockSize int) ([]byte, error)
}

// New returns the Codec appropriate for slice.Kind.
func New(slice types.SliceType) (Codec, error) {
	switch slice.Kind {
	case types.SliceStandard:
		return standardCodec{}, nil
	case types.SliceXOR:
		return xorCodec{}, nil
	case types.SliceEC, types.SliceEC2:
		enc, err := reedsolomon.New(slice.DataParts, slice.ParityParts)
		if err != nil {
			return nil, err
		}
		return ecCodec{enc: enc}, nil
	default:
		return nil, errors.New("erasure: unknown slice kind")
	}
}

type standardCodec struct{}

func (standardCodec) Encode(_ types.SliceType, block []byte) ([][]byte, error) {
	return [][]byte{block}, nil
}

func (standardCodec) Reconstruct(_ types.SliceType, parts map[int][]byte, _ int) ([]byte, error) {
	b, ok := parts[0]
	if !ok {
		return nil, ErrInsufficientParts
	}
	return b, nil
}

// xorCodec implements an XOR(level) group: `level` data members plus one
// parity member holding the byte-wise XOR of all of them. Any single
// missing member (data or parity) is recoverable by XORing the rest.
type xorCodec struct{}

func (xorCodec) Encode(slice types.SliceType, block []byte) ([][]byte, error) {
	level := slice.DataParts
	size := len(block) / level
	if size*level != len(block) {
		size = len(block)/level + 1
	}
	parts := make([][]byte, level+1)
	parity := make([]byte, size)
	for i := 0; i < level; i++ {
		start := i * size
		end := start + size
		if end > len(block) {
			end = len(block)
		}
		piece := make([]byte, size)
		if start < len(block) {
			copy(piece, block[start:end])
		}
		parts[i] = piece
		for j, b := range piece {
			parity[j] ^= b
		}
	}
	parts[level] = parity
	return parts, nil
}

func (xorCodec) Reconstruct(slice types.SliceType, parts map[int][]byte, blockSize int) ([]byte, error) {
	level := slice.DataParts
	total := level + 1
	missing := -1
	var size int
	for _, p := range parts {
		size = len(p)
	}
	present := 0
	for i := 0; i < total; i++ {
		if _, ok := parts[i]; ok {
			present++
		} else if missing == -1 {
			missing = i
		} else {
			return nil, ErrInsufficientParts
		}
	}
	if present < total-1 {
		return nil, ErrInsufficientParts
	}

	if missing >= 0 {
		recovered := make([]byte, size)
		for i := 0; i < total; i++ {
			if i == missing {
				continue
			}
			for j, b := range parts[i] {
				recovered[j] ^= b
			}
		}
		full := make(map[int][]byte, total)
		for k, v := range parts {
			full[k] = v
		}
		full[missing] = recovered
		parts = full
	}

	out := make([]byte, 0, size*level)
	for i := 0; i < level; i++ {
		out = append(out, parts[i]...)
	}
	if blockSize > 0 && len(out) > blockSize {
		out = out[:blockSize]
	}
	return out, nil
}

// ecCodec wraps klauspost/reedsolomon for EC(k,m) groups.
type ecCodec struct {
	enc reedsolomon.Encoder
}

func (c ecCodec) Encode(slice types.SliceType, block []byte) ([][]byte, error) {
	total := slice.DataParts + slice.ParityParts
	shards, err := c.enc.Split(block)
	if err != nil {
		return nil, err
	}
	if err := c.enc.Encode(shards); err != nil {
		return nil, err
	}
	if len(shards) != total {
		return nil, errors.New("erasure: reedsolomon returned an unexpected shard count")
	}
	return shards, nil
}

func (c ecCodec) Reconstruct(slice types.SliceType, parts map[int][]byte, blockSize int) ([]byte, error) {
	total := slice.DataParts + slice.ParityParts
	shards := make([][]byte, total)
	present := 0
	for i := 0; i < total; i++ {
		if p, ok := parts[i]; ok {
			shards[i] = p
			present++
		}
	}
	if present < slice.DataParts {
		return nil, ErrInsufficientParts
	}
	if err := c.enc.ReconstructData(shards); err != nil {
		return nil, err
	}
	out := make([]byte, 0, blockSize)
	for i := 0; i < slice.DataParts; i++ {
		out = append(out, shards[i]...)
	}
	if blockSize > 0 && len(out) > blockSize {
		out = out[:blockSize]
	}
	return out, nil
}
