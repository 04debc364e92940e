package csdb

import (
	"testing"
	"time"

	"github.com/lizardfs/lizardfs-sub006/protocol"
	"github.com/lizardfs/lizardfs-sub006/types"
)

func addr(b byte, port uint16) protocol.Addr {
	return protocol.Addr{IP: [4]byte{10, 0, 0, b}, Port: port}
}

func TestRegisterAssignsDistinctIDs(t *testing.T) {
	d := NewDatabase()
	id1, err := d.Register(addr(1, 9422), "cs1", 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := d.Register(addr(2, 9422), "cs2", 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	if id1 == id2 {
		t.Fatalf("expected distinct CSIDs, got %v twice", id1)
	}
	if !d.Exists(id1) || !d.Exists(id2) {
		t.Fatal("expected both registered servers to exist")
	}
}

func TestRegisterSameAddrReusesID(t *testing.T) {
	d := NewDatabase()
	a := addr(1, 9422)
	id1, err := d.Register(a, "cs1", 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := d.Register(a, "cs1-restarted", 2, 100)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("reconnect from the same address should keep its CSID: got %v then %v", id1, id2)
	}
	if d.Label(id1) != "cs1-restarted" {
		t.Errorf("expected label refreshed on reconnect, got %q", d.Label(id1))
	}
}

func TestUnregisterFreesID(t *testing.T) {
	d := NewDatabase()
	id, err := d.Register(addr(1, 9422), "cs1", 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Unregister(id); err != nil {
		t.Fatal(err)
	}
	if d.Exists(id) {
		t.Error("expected server to be gone after Unregister")
	}
	if err := d.Unregister(id); err != ErrUnknownServer {
		t.Errorf("expected ErrUnknownServer on double unregister, got %v", err)
	}
}

func TestCandidatesExcludesDeadServers(t *testing.T) {
	d := NewDatabase()
	d.deadAfter = time.Millisecond
	id, err := d.Register(addr(1, 9422), "cs1", 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Candidates()) != 1 {
		t.Fatal("expected the freshly-registered server to be a candidate")
	}
	time.Sleep(5 * time.Millisecond)
	if got := d.Candidates(); len(got) != 0 {
		t.Errorf("expected no candidates once the heartbeat deadline passed, got %v", got)
	}
	if err := d.Heartbeat(id, 0.5); err != nil {
		t.Fatal(err)
	}
	if len(d.Candidates()) != 1 {
		t.Error("expected a fresh heartbeat to restore candidacy")
	}
}

func TestHeartbeatUnknownServer(t *testing.T) {
	d := NewDatabase()
	if err := d.Heartbeat(types.CSID(7), 0.1); err != ErrUnknownServer {
		t.Errorf("expected ErrUnknownServer, got %v", err)
	}
}
