package chunk

import "github.com/NebulousLabs/errors"

// Errors returned by Table operations. Named so callers can map them
// directly onto protocol.Status without a lossy string comparison.
var (
	ErrNoSpace         = errors.New("chunk: no space on any chunkserver")
	ErrNoChunkServers  = errors.New("chunk: not enough chunkservers for the requested goal")
	ErrQuota           = errors.New("chunk: quota exceeded")
	ErrWrongLockId     = errors.New("chunk: wrong lock id")
	ErrLocked          = errors.New("chunk: chunk is locked by another client")
	ErrNotPossible     = errors.New("chunk: operation not possible on this part type")
	ErrNotLocked       = errors.New("chunk: chunk is not locked")
	ErrUnknownChunk    = errors.New("chunk: no such chunk")
	ErrWrongVersion    = errors.New("chunk: wrong chunk version")
	ErrUnknownServer   = errors.New("chunk: chunk part names an unregistered chunkserver")
	ErrOperationActive = errors.New("chunk: another operation is already in flight on this chunk")
)
