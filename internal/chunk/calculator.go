package chunk

import "github.com/lizardfs/lizardfs-sub006/types"

// ChunkCopiesCalculator evaluates a chunk's valid parts against a (merged)
// goal and produces the cached AvailabilitySummary, plus the over-goal
// deletion candidates consulted by the chunk worker's step (e).
type ChunkCopiesCalculator struct {
	goal *Goal

	// have groups the valid parts by slice type, then by server label; the
	// required counts per label come from goal.
	have map[types.SliceType]map[string][]ChunkPart

	// degenerate mirrors Chunk.Degenerate(): two or more parts sharing a
	// server. RemovableParts refuses to suggest any deletion in this case
	// (open question #2) since the usual "keep one per server" invariant
	// the calculator's held-count already leans on is violated.
	degenerate bool
}

// NewChunkCopiesCalculator builds a calculator from a chunk's valid parts
// (part_type, label) pairs against the merged goal. dir resolves a part's
// server to its label; degenerate should be the owning chunk's
// Degenerate() result.
func NewChunkCopiesCalculator(goal *Goal, parts []ChunkPart, dir ServerDirectory, degenerate bool) *ChunkCopiesCalculator {
	c := &ChunkCopiesCalculator{
		goal:       goal,
		have:       make(map[types.SliceType]map[string][]ChunkPart),
		degenerate: degenerate,
	}
	for _, p := range parts {
		slice := p.PartType.Slice
		byLabel, ok := c.have[slice]
		if !ok {
			byLabel = make(map[string][]ChunkPart)
			c.have[slice] = byLabel
		}
		label := ""
		if dir != nil {
			label = dir.Label(p.ServerID)
		}
		byLabel[label] = append(byLabel[label], p)
	}
	return c
}

// Summarize computes the AvailabilitySummary. MissingCount sums, over every
// (slice,label) requirement, the shortfall between required and held
// copies; RedundantCount sums the surplus; FullCopies is the number of valid
// standard parts, capped at the standard requirement (0 when the goal has
// no standard slice; XOR/EC groups are not counted).
func (c *ChunkCopiesCalculator) Summarize() AvailabilitySummary {
	var summary AvailabilitySummary
	anyRequirementMet := false
	allRequirementsZero := true

	for slice, labelCounts := range c.goal.Slices {
		have := c.have[slice]
		for label, required := range labelCounts {
			if required == 0 {
				continue
			}
			allRequirementsZero = false
			held := len(have[label])
			if label == "" {
				// Wildcard requirement draws from all labels seen for this
				// slice, not just the unlabeled bucket.
				held = 0
				for _, parts := range have {
					held += len(parts)
				}
			}
			if held >= required {
				summary.RedundantCount += held - required
				anyRequirementMet = true
			} else {
				summary.MissingCount += required - held
			}
		}
	}

	// FullCopies: for the plain-standard slice (the common case), the
	// number of valid standard parts capped at the requirement.
	if lc, ok := c.goal.Slices[types.Standard]; ok {
		held := 0
		for _, parts := range c.have[types.Standard] {
			held += len(parts)
		}
		required := lc.Total()
		if held > required {
			summary.FullCopies = required
		} else {
			summary.FullCopies = held
		}
	}

	switch {
	case allRequirementsZero:
		summary.State = Safe
	case summary.MissingCount == 0:
		summary.State = Safe
	case anyRequirementMet || summary.MissingCount < c.goal.RequiredParts():
		summary.State = Endangered
	default:
		summary.State = Lost
	}
	return summary
}

// RemovableParts returns, among the held valid parts, those that can be
// deleted without the chunk dropping below its goal — candidates for step
// (e)'s over-goal deletion. The caller sorts these by
// (is_todel, same-ip-occurrence, disk_usage) and deletes the worst first.
// A degenerate chunk (two parts sharing a server) refuses every deletion:
// the calculator cannot tell which of the colocated parts is safe to drop
// without risking the chunk's only remaining copy on that server.
func (c *ChunkCopiesCalculator) RemovableParts() []ChunkPart {
	if c.degenerate {
		return nil
	}
	var out []ChunkPart
	for slice, labelCounts := range c.goal.Slices {
		for label, parts := range c.have[slice] {
			required := labelCounts[label]
			if required == 0 {
				required = labelCounts[""]
			}
			if len(parts) > required {
				out = append(out, parts[required:]...)
			}
		}
	}
	return out
}
