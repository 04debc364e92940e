package erasure

import "github.com/lizardfs/lizardfs-sub006/types"

// SliceRecoveryPlanner decides, for a target part type and a set of
// available source parts, whether the logical chunk can be reconstructed
// and which source part indices are required.
type SliceRecoveryPlanner struct {
	slice     types.SliceType
	available map[int]bool
}

// NewSliceRecoveryPlanner builds a planner for slice given the part indices
// currently available across the replicator's source set.
func NewSliceRecoveryPlanner(slice types.SliceType, availableParts []int) *SliceRecoveryPlanner {
	p := &SliceRecoveryPlanner{slice: slice, available: make(map[int]bool)}
	for _, idx := range availableParts {
		p.available[idx] = true
	}
	return p
}

// IsReadingPossible reports whether enough parts are available to
// reconstruct every logical block of this slice family.
func (p *SliceRecoveryPlanner) IsReadingPossible() bool {
	switch p.slice.Kind {
	case types.SliceStandard:
		return p.available[0]
	case types.SliceXOR:
		return len(p.available) >= p.slice.DataParts
	case types.SliceEC, types.SliceEC2:
		return len(p.available) >= p.slice.DataParts
	default:
		return false
	}
}

// RequiredParts returns the minimal set of part indices the planner will
// read from to reconstruct, in ascending order.
func (p *SliceRecoveryPlanner) RequiredParts() []int {
	need := p.slice.DataParts
	if p.slice.Kind == types.SliceStandard {
		need = 1
	}
	var out []int
	for idx := 0; idx < p.slice.TotalParts() && len(out) < need; idx++ {
		if p.available[idx] {
			out = append(out, idx)
		}
	}
	return out
}
