package erasure

import (
	"bytes"
	"testing"

	"github.com/NebulousLabs/fastrand"
	"github.com/lizardfs/lizardfs-sub006/types"
)

func TestXORRoundTripMissingData(t *testing.T) {
	slice := types.XOR(3)
	codec, err := New(slice)
	if err != nil {
		t.Fatal(err)
	}
	block := fastrand.Bytes(300)
	parts, err := codec.Encode(slice, block)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 4 {
		t.Fatalf("expected 4 parts, got %d", len(parts))
	}

	present := map[int][]byte{1: parts[1], 2: parts[2], 3: parts[3]}
	recovered, err := codec.Reconstruct(slice, present, len(block))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(recovered, block) {
		t.Error("recovered block does not match original")
	}
}

func TestXORRoundTripMissingParity(t *testing.T) {
	slice := types.XOR(2)
	codec, _ := New(slice)
	block := fastrand.Bytes(128)
	parts, _ := codec.Encode(slice, block)

	present := map[int][]byte{0: parts[0], 1: parts[1]}
	recovered, err := codec.Reconstruct(slice, present, len(block))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(recovered, block) {
		t.Error("recovered block does not match original")
	}
}

func TestECRoundTripWithLosses(t *testing.T) {
	slice := types.EC(4, 2)
	codec, err := New(slice)
	if err != nil {
		t.Fatal(err)
	}
	block := fastrand.Bytes(4096)
	parts, err := codec.Encode(slice, block)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 6 {
		t.Fatalf("expected 6 shards, got %d", len(parts))
	}

	// Drop two shards (within EC(4,2)'s tolerance).
	present := map[int][]byte{0: parts[0], 2: parts[2], 3: parts[3], 4: parts[4], 5: parts[5]}
	recovered, err := codec.Reconstruct(slice, present, len(block))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(recovered, block) {
		t.Error("recovered block does not match original")
	}
}

func TestSliceRecoveryPlannerInsufficientParts(t *testing.T) {
	planner := NewSliceRecoveryPlanner(types.EC(4, 2), []int{0, 1})
	if planner.IsReadingPossible() {
		t.Error("2 of 4 required data parts should not be enough")
	}
	planner = NewSliceRecoveryPlanner(types.EC(4, 2), []int{0, 1, 2, 5})
	if !planner.IsReadingPossible() {
		t.Error("4 available parts (incl. one parity) should be enough for EC(4,2)")
	}
}
