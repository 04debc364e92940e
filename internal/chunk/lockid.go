package chunk

import (
	"encoding/binary"

	"github.com/NebulousLabs/fastrand"
	"github.com/lizardfs/lizardfs-sub006/types"
)

// randomLockId draws a LockId >= 2 (0 and 1 are the reserved
// force/legacy sentinels), matching "values >= 2 are random and must
// round-trip between master and client."
func randomLockId() types.LockId {
	for {
		id := types.LockId(binary.BigEndian.Uint32(fastrand.Bytes(4)))
		if id != types.NoLock && id != types.LegacyLockId {
			return id
		}
	}
}
