package chunk

import (
	"encoding/binary"
	"hash/crc32"
)

// chunkChecksum recomputes the per-chunk contribution to the table-wide
// metadata checksum from the fields the recalculator cares about: (id,
// version, lockedto, highest_goal, file_count). It is cheap enough to call
// on every mutating operation so the checksum stays incrementally correct
// without a full table walk.
func chunkChecksum(c *Chunk) uint32 {
	var buf [20]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(c.ID))
	binary.BigEndian.PutUint32(buf[8:12], uint32(c.Version))
	binary.BigEndian.PutUint32(buf[12:16], uint32(c.LockedTo.Unix()))
	binary.BigEndian.PutUint32(buf[16:20], uint32(highestGoal(c)<<16|uint16ClampFileCount(c.FileCount())))
	return crc32.ChecksumIEEE(buf[:])
}

// highestGoal fills the highest_goal field of the checksum record. Chunks
// reference goals by name only, so it returns the largest per-goal file
// count in GoalCounters rather than a goal level.
func highestGoal(c *Chunk) uint16 {
	var max int
	for _, count := range c.GoalCounters {
		if count > max {
			max = count
		}
	}
	return uint16(max)
}

func uint16ClampFileCount(n int) uint16 {
	if n > 0xFFFF {
		return 0xFFFF
	}
	return uint16(n)
}

// recalcChecksum recomputes a chunk's checksum and compares it to the
// stored value, mirroring the background bucket-by-bucket recalculator:
// on mismatch it warns (via the caller's logger) and adopts the recomputed
// value rather than trusting the stale one.
func recalcChecksum(c *Chunk) (match bool, recomputed uint32) {
	recomputed = chunkChecksum(c)
	return recomputed == c.Checksum, recomputed
}
