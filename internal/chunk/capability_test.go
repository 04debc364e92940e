package chunk

import (
	"testing"

	"github.com/lizardfs/lizardfs-sub006/protocol"
)

// TestCapabilitiesGateNonStandardGoals is the I-M property test: a peer
// must never be handed a chain for a goal whose slice kind it hasn't
// advertised support for.
func TestCapabilitiesGateNonStandardGoals(t *testing.T) {
	cases := []struct {
		name    string
		goal    *Goal
		caps    protocol.Capabilities
		wantErr error
	}{
		{"standard goal, legacy peer", StandardGoal("2x", 2), protocol.LegacyCapabilities, nil},
		{"xor goal, legacy peer", XORGoal("xor2", 2), protocol.LegacyCapabilities, ErrNotPossible},
		{"xor goal, xor-capable peer", XORGoal("xor2", 2), protocol.Capabilities{SupportsXOR: true}, nil},
		{"ec goal, legacy peer", ECGoal("ec32", 3, 2), protocol.LegacyCapabilities, ErrNotPossible},
		{"ec goal, ec-capable peer", ECGoal("ec32", 3, 2), protocol.Capabilities{SupportsEC: true}, nil},
		{"ec goal, ec2-capable peer", ECGoal("ec32", 3, 2), protocol.Capabilities{SupportsEC2: true}, nil},
		{"ec goal, xor-only peer", ECGoal("ec32", 3, 2), protocol.Capabilities{SupportsXOR: true}, ErrNotPossible},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := checkCapabilities(tc.goal, tc.caps); err != tc.wantErr {
				t.Errorf("checkCapabilities() = %v, want %v", err, tc.wantErr)
			}

			dir := newFakeDirectory(1, 2, 3, 4, 5)
			tbl := NewTable(dir, dir, nil, nil)
			_, _, err := tbl.Create(tc.goal, false, 0, tc.caps)
			if err != tc.wantErr {
				t.Errorf("Create() = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

// TestMultiModifyRefusesNonStandardGoalForLegacyPeer exercises the
// MultiModify path directly (Create succeeds for an XOR-capable peer and
// its parts are acked, then a legacy peer tries to reopen the same chunk
// under its XOR goal).
func TestMultiModifyRefusesNonStandardGoalForLegacyPeer(t *testing.T) {
	dir := newFakeDirectory(1, 2, 3)
	tbl := NewTable(dir, dir, nil, nil)

	goal := XORGoal("xor2", 2)
	id, lockID, err := tbl.Create(goal, false, 0, protocol.Capabilities{SupportsXOR: true})
	if err != nil {
		t.Fatal(err)
	}

	// Ack the create so no operation is still in flight on the chunk.
	c, _ := tbl.Get(id)
	for _, p := range c.Parts {
		if err := tbl.GotStatus(p.ServerID, id, p.PartType, true); err != nil {
			t.Fatal(err)
		}
	}

	if _, _, _, err := tbl.MultiModify(id, lockID, goal, false, false, protocol.LegacyCapabilities); err != ErrNotPossible {
		t.Errorf("expected ErrNotPossible for a legacy peer reopening an XOR chunk, got %v", err)
	}

	if _, _, _, err := tbl.MultiModify(id, lockID, goal, false, false, protocol.Capabilities{SupportsXOR: true}); err != nil {
		t.Errorf("expected an XOR-capable peer to reopen the chunk fine, got %v", err)
	}
}
