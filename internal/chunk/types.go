package chunk

import (
	"time"

	"github.com/lizardfs/lizardfs-sub006/types"
)

// PartState is a ChunkPart's lifecycle state. Busy/TdBusy gate mutation: the
// placement loop must never pick a part in either state.
type PartState uint8

const (
	PartInvalid PartState = iota
	PartDel
	PartBusy
	PartValid
	PartTdBusy
	PartTdValid
)

func (s PartState) String() string {
	switch s {
	case PartInvalid:
		return "invalid"
	case PartDel:
		return "del"
	case PartBusy:
		return "busy"
	case PartValid:
		return "valid"
	case PartTdBusy:
		return "td_busy"
	case PartTdValid:
		return "td_valid"
	default:
		return "unknown"
	}
}

// Todel reports whether this state belongs to the "to delete" (retiring
// disk) family.
func (s PartState) Todel() bool {
	return s == PartTdBusy || s == PartTdValid
}

// Busy reports whether this state must not be observed by the placement
// loop (a master-to-chunkserver op is in flight against this part).
func (s PartState) Busy() bool {
	return s == PartBusy || s == PartTdBusy
}

// Operation names the single in-flight master<->chunkserver op a chunk may
// have outstanding. A chunk has at most one, which is what gives delayed
// chunk ops their per-chunk sequential ordering guarantee.
type Operation uint8

const (
	OpNone Operation = iota
	OpCreate
	OpSetVersion
	OpDuplicate
	OpTruncate
	OpDupTrunc
)

func (o Operation) String() string {
	switch o {
	case OpNone:
		return "none"
	case OpCreate:
		return "create"
	case OpSetVersion:
		return "set_version"
	case OpDuplicate:
		return "duplicate"
	case OpTruncate:
		return "truncate"
	case OpDupTrunc:
		return "duptrunc"
	default:
		return "unknown"
	}
}

// Availability is the cached summary state of a chunk's redundancy.
type Availability uint8

const (
	Safe Availability = iota
	Endangered
	Lost
)

func (a Availability) String() string {
	switch a {
	case Safe:
		return "safe"
	case Endangered:
		return "endangered"
	case Lost:
		return "lost"
	default:
		return "unknown"
	}
}

// ChunkPart is one physical copy/slice of a chunk living on one chunkserver.
type ChunkPart struct {
	ServerID types.CSID
	PartType types.ChunkPartType
	Version  types.Version
	State    PartState
}

// AvailabilitySummary is the cached per-chunk redundancy assessment
// recomputed after every table mutation.
type AvailabilitySummary struct {
	State          Availability
	MissingCount   int
	RedundantCount int
	FullCopies     int
}

// Chunk is the master's in-memory record for one chunk across its entire
// lifetime (including across duplication, which allocates a new Chunk under
// a new ChunkId rather than mutating this one).
type Chunk struct {
	ID      types.ChunkId
	Version types.Version

	LockId   types.LockId
	LockedTo time.Time

	// GoalCounters: file-goal name -> number of files currently referencing
	// this chunk under that goal. Supports goal.RequiredParts-merge across
	// snapshots per I5.
	GoalCounters map[string]int

	Parts []ChunkPart

	Availability AvailabilitySummary

	Operation            Operation
	Interrupted          bool
	NeedsVersionIncrease bool
	InEndangeredQueue    bool

	// Checksum is this chunk's contribution to the table-wide incremental
	// metadata checksum; it depends only on (id, version, lockedto,
	// highest_goal, file_count).
	Checksum uint32
}

// FileCount is the number of files currently referencing this chunk (the
// sum of GoalCounters). FileCount()==0 marks the chunk a deletion candidate
// (I4).
func (c *Chunk) FileCount() int {
	var n int
	for _, count := range c.GoalCounters {
		n += count
	}
	return n
}

// ValidParts returns the parts in a state the placement loop is allowed to
// read from (Valid or TdValid).
func (c *Chunk) ValidParts() []ChunkPart {
	var out []ChunkPart
	for _, p := range c.Parts {
		if p.State == PartValid || p.State == PartTdValid {
			out = append(out, p)
		}
	}
	return out
}

// BusyCount returns the number of parts currently in a Busy/TdBusy state.
func (c *Chunk) BusyCount() int {
	var n int
	for _, p := range c.Parts {
		if p.State.Busy() {
			n++
		}
	}
	return n
}

// Degenerate reports whether two or more of this chunk's parts live on the
// same server (open question #2: the legacy worker's over-goal deletion
// step refuses to touch these).
func (c *Chunk) Degenerate() bool {
	seen := make(map[types.CSID]int)
	for _, p := range c.Parts {
		seen[p.ServerID]++
		if seen[p.ServerID] > 1 {
			return true
		}
	}
	return false
}

// ServerDirectory is the subset of the chunkserver database the chunk table
// needs: existence checks for I1 and label lookups for availability
// calculation. Implemented by the master's csdb package; kept as an
// interface here so the chunk package has no dependency on connection
// handling.
type ServerDirectory interface {
	Exists(id types.CSID) bool
	Label(id types.CSID) string
}
