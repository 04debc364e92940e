package master

import (
	"time"

	"github.com/lizardfs/lizardfs-sub006/internal/chunk"
	"github.com/lizardfs/lizardfs-sub006/internal/chunkworker"
	"github.com/lizardfs/lizardfs-sub006/internal/csdb"
)

// Config holds the master daemon's tunables, named after spec.md §6's
// vocabulary so config.Config (the viper-backed loader) can populate it
// field-for-field.
type Config struct {
	// ListenAddr is the control API's bind address.
	ListenAddr string
	// ClientListenAddr is the FUSE_WRITE_CHUNK/FUSE_TRUNCATE protocol
	// loop's bind address, distinct from the control API above.
	ClientListenAddr string
	// SessionsPath is the sidecar file session.Manager persists to; empty
	// disables persistence.
	SessionsPath string
	// CredCap bounds a session's cached-credential set size.
	CredCap int
	// CSDeadAfter is how long a chunkserver may go without a heartbeat
	// before csdb.Database drops it from placement candidates.
	CSDeadAfter time.Duration
	// LockTimeout overrides chunk.Table's default lock expiry.
	LockTimeout time.Duration
	Worker      chunkworker.Config
	// Goals are the named replication-goal definitions available to
	// clients creating chunks, e.g. "default" -> StandardGoal(2).
	Goals map[string]*chunk.Goal
}

// DefaultConfig returns the reference tunables; config.Config overrides
// individual fields from the config file or LFS_ environment variables at
// startup.
func DefaultConfig() Config {
	return Config{
		ListenAddr:       ":9421",
		ClientListenAddr: ":9420",
		CredCap:          16,
		CSDeadAfter: csdb.DefaultDeadAfter,
		LockTimeout: chunk.DefaultLockTimeout,
		Worker:      chunkworker.DefaultConfig(),
		Goals: map[string]*chunk.Goal{
			"default": chunk.StandardGoal("default", 2),
		},
	}
}
