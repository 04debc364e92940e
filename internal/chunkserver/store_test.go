package chunkserver

import (
	"bytes"
	"hash/crc32"
	"os"
	"testing"

	"github.com/lizardfs/lizardfs-sub006/types"
)

func TestDirStoreCreateWriteCommitReadBack(t *testing.T) {
	dir := t.TempDir()
	store := NewDirStore(dir)

	chunkID := types.ChunkId(1)
	pt := types.ChunkPartType{Slice: types.Standard, PartIndex: 0}

	if err := store.Create(chunkID, pt, 1); err != nil {
		t.Fatal(err)
	}

	payload := bytes.Repeat([]byte{0xAB}, 100)
	crc := crc32.ChecksumIEEE(payload)
	if err := store.WriteBlock(chunkID, pt, 0, payload, crc); err != nil {
		t.Fatal(err)
	}

	// Before commit, the final filename must not exist yet.
	final := store.finalName(partKey{chunkID, pt})
	if _, err := os.Stat(final); err == nil {
		t.Fatal("final chunk file exists before Commit")
	}

	if err := store.Commit(chunkID, pt); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(final); err != nil {
		t.Fatalf("final chunk file missing after Commit: %v", err)
	}

	data, _, err := store.ReadBlock(chunkID, pt, 0, 0, uint32(len(payload)))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("read back %q, want %q", data, payload)
	}

	if err := store.Close(chunkID, pt); err != nil {
		t.Fatal(err)
	}

	// A fresh store instance can reopen the committed file.
	store2 := NewDirStore(dir)
	if err := store2.Open(chunkID, pt, 1); err != nil {
		t.Fatal(err)
	}
	data2, _, err := store2.ReadBlock(chunkID, pt, 0, 0, uint32(len(payload)))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data2, payload) {
		t.Errorf("reopened read got %q, want %q", data2, payload)
	}
}

func TestDirStoreWriteBlockRejectsBadCRC(t *testing.T) {
	dir := t.TempDir()
	store := NewDirStore(dir)
	chunkID := types.ChunkId(2)
	pt := types.ChunkPartType{Slice: types.Standard, PartIndex: 0}
	if err := store.Create(chunkID, pt, 1); err != nil {
		t.Fatal(err)
	}
	if err := store.WriteBlock(chunkID, pt, 0, []byte("hello"), 0xdeadbeef); err != ErrCRCMismatch {
		t.Errorf("expected ErrCRCMismatch, got %v", err)
	}
}

func TestDirStoreDeleteRemovesUncommittedTempFile(t *testing.T) {
	dir := t.TempDir()
	store := NewDirStore(dir)
	chunkID := types.ChunkId(3)
	pt := types.ChunkPartType{Slice: types.Standard, PartIndex: 0}
	if err := store.Create(chunkID, pt, 1); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(chunkID, pt); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no files left after deleting an uncommitted part, found %v", entries)
	}
}
