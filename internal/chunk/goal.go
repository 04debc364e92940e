package chunk

import "github.com/lizardfs/lizardfs-sub006/types"

// LabelCounts maps a label ("" is the wildcard, any server satisfies it) to
// the number of parts of a slice that must carry that label.
type LabelCounts map[string]int

// Total is the sum of every labelled requirement, i.e. TotalParts for this
// slice under this goal.
func (lc LabelCounts) Total() int {
	var n int
	for _, c := range lc {
		n += c
	}
	return n
}

// Goal is a named multiset of (slice type, labelled part counts)
// constraints a chunk placed under it must satisfy.
type Goal struct {
	Name   string
	Slices map[types.SliceType]LabelCounts
}

// RequiredParts returns the total number of physical parts this goal
// requires across all of its slices.
func (g *Goal) RequiredParts() int {
	var n int
	for _, lc := range g.Slices {
		n += lc.Total()
	}
	return n
}

// MergeGoals merges a set of file-goal definitions referenced by a chunk's
// goal_counters multiset (I5: replication evaluation uses the merge of all
// referenced goals) by taking, for every (slice, label) pair, the maximum
// requirement across the input goals. A chunk shared by a 2-copy file and a
// 3-copy file (via a snapshot) is thus evaluated against "needs 3 copies"
// rather than under- or double-counting.
func MergeGoals(goals []*Goal) *Goal {
	merged := &Goal{Name: "merged", Slices: make(map[types.SliceType]LabelCounts)}
	for _, g := range goals {
		if g == nil {
			continue
		}
		for slice, lc := range g.Slices {
			dst, ok := merged.Slices[slice]
			if !ok {
				dst = make(LabelCounts)
				merged.Slices[slice] = dst
			}
			for label, count := range lc {
				if count > dst[label] {
					dst[label] = count
				}
			}
		}
	}
	return merged
}

// StandardGoal builds a simple N-plain-copy goal with no label constraints,
// the common case exercised by the scenario tests.
func StandardGoal(name string, copies int) *Goal {
	return &Goal{
		Name: name,
		Slices: map[types.SliceType]LabelCounts{
			types.Standard: {"": copies},
		},
	}
}

// XORGoal builds a goal requiring one XOR(level) group (level data members
// plus its one parity member).
func XORGoal(name string, level int) *Goal {
	return &Goal{
		Name: name,
		Slices: map[types.SliceType]LabelCounts{
			types.XOR(level): {"": level + 1},
		},
	}
}

// NonStandardKinds reports whether this goal has any non-zero requirement
// on an XOR and/or EC/EC2 slice, the check I-M gates a legacy (or
// otherwise under-capable) peer's open-for-write against.
func (g *Goal) NonStandardKinds() (xor, ec bool) {
	for slice, lc := range g.Slices {
		if lc.Total() == 0 {
			continue
		}
		switch slice.Kind {
		case types.SliceXOR:
			xor = true
		case types.SliceEC, types.SliceEC2:
			ec = true
		}
	}
	return xor, ec
}

// ECGoal builds a goal requiring one EC(k,m) group.
func ECGoal(name string, k, m int) *Goal {
	return &Goal{
		Name: name,
		Slices: map[types.SliceType]LabelCounts{
			types.EC(k, m): {"": k + m},
		},
	}
}
