package persist

import (
	"os"
	"path/filepath"
)

// SafeFile writes to a temp file alongside the final destination and only
// renames it into place on Commit, so a crash mid-write never corrupts the
// previous contents of finalName.
type SafeFile struct {
	file      *os.File
	finalName string
}

// NewSafeFile opens a temp file for finalName. finalName may be relative;
// it is resolved to an absolute path immediately so a later os.Chdir (e.g.
// in a caller's test) does not change where Commit renames to.
func NewSafeFile(finalName string) (*SafeFile, error) {
	abs, err := filepath.Abs(finalName)
	if err != nil {
		return nil, err
	}
	tempName := abs + tempSuffix + RandomSuffix()
	f, err := os.OpenFile(tempName, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, err
	}
	return &SafeFile{file: f, finalName: abs}, nil
}

// Name returns the temp file's path, which is never equal to the final
// destination until after Commit has renamed it.
func (sf *SafeFile) Name() string { return sf.file.Name() }

// Write implements io.Writer against the temp file.
func (sf *SafeFile) Write(p []byte) (int, error) { return sf.file.Write(p) }

// Commit flushes, syncs and atomically renames the temp file onto
// finalName.
func (sf *SafeFile) Commit() error {
	if err := sf.file.Sync(); err != nil {
		return err
	}
	tempName := sf.file.Name()
	if err := sf.file.Close(); err != nil {
		return err
	}
	return os.Rename(tempName, sf.finalName)
}

// Close discards the temp file without committing it. Safe to call after a
// successful Commit (the temp file is already gone, Close is then a no-op
// error that callers should ignore, matching the teacher's defer sf.Close()
// idiom).
func (sf *SafeFile) Close() error {
	err := sf.file.Close()
	os.Remove(sf.file.Name())
	return err
}
