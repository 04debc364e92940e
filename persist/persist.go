// Package persist provides the disk-persistence primitives shared by the
// master and chunkserver daemons: a crash-safe atomic-rename file writer, a
// checksummed JSON save/load pair for small metadata snapshots (the chunks
// table header and sessions file), and a STARTUP/SHUTDOWN-framed logger.
package persist

import (
	"errors"

	"github.com/NebulousLabs/fastrand"
)

// persistDir is the subdirectory under build.TempDir used by this
// package's own tests.
const persistDir = "persist"

// tempSuffix is appended to the final filename while a SafeFile's contents
// are not yet committed.
const tempSuffix = "_temp"

// ErrBadFilenameSuffix is returned by LoadJSON when asked to load a file
// that is itself a temp file (callers should pass the final filename; the
// temp file is internal bookkeeping).
var ErrBadFilenameSuffix = errors.New("persist: cannot load a file with the temp-file suffix")

// Metadata identifies the logical type and version of a persisted file. It
// is written into both SaveJSON's checksum envelope and compared on load so
// that loading the wrong file (or an old format) fails loudly instead of
// silently misinterpreting bytes.
type Metadata struct {
	Header  string
	Version string
}

// RandomSuffix returns a short random hex string, used to disambiguate
// concurrently-created temp files and test directories.
func RandomSuffix() string {
	return hexEncode(fastrand.Bytes(6))
}

const hexDigits = "0123456789abcdef"

func hexEncode(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[2*i] = hexDigits[v>>4]
		out[2*i+1] = hexDigits[v&0xf]
	}
	return string(out)
}
