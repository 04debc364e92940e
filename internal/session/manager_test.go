package session

import (
	"net"
	"os"
	"testing"
	"time"
)

func TestManagerOpenAndGet(t *testing.T) {
	m := NewManager("", 4)
	s := m.Open(net.ParseIP("10.0.0.1"))
	if s.ID == 0 {
		t.Fatal("expected a non-zero session id")
	}
	got, ok := m.Get(s.ID)
	if !ok || got != s {
		t.Fatal("Get did not return the session just opened")
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 tracked session, got %d", m.Len())
	}
}

func TestManagerExpireIdle(t *testing.T) {
	m := NewManager("", 4)
	m.SustainWindow = 10 * time.Millisecond
	s := m.Open(net.ParseIP("10.0.0.2"))
	s.LastSeen = time.Now().Add(-time.Hour)

	expired := m.ExpireIdle()
	if len(expired) != 1 || expired[0] != s.ID {
		t.Fatalf("expected session %d to expire, got %v", s.ID, expired)
	}
	if _, ok := m.Get(s.ID); ok {
		t.Error("expired session should no longer be trackable")
	}
}

func TestManagerTouchPreventsExpiry(t *testing.T) {
	m := NewManager("", 4)
	m.SustainWindow = time.Hour
	s := m.Open(net.ParseIP("10.0.0.3"))
	s.LastSeen = time.Now().Add(-time.Minute)
	m.Touch(s.ID)

	if expired := m.ExpireIdle(); len(expired) != 0 {
		t.Errorf("touched session should not have expired, got %v", expired)
	}
}

func TestManagerRotateHour(t *testing.T) {
	m := NewManager("", 4)
	s := m.Open(net.ParseIP("10.0.0.4"))
	s.Counters.Current[0] = 5
	m.RotateHour()
	if s.Counters.Previous[0] != 5 {
		t.Error("expected current counters to roll into previous")
	}
	if s.Counters.Current[0] != 0 {
		t.Error("expected current counters to reset after rotation")
	}
}

func TestManagerSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/sessions.json"

	m := NewManager(path, 4)
	s := m.Open(net.ParseIP("10.0.0.5"))
	s.OpenFile(42)
	s.CacheCredentials(7, []uint32{100, 200})
	if err := m.Save(); err != nil {
		t.Fatal(err)
	}

	m2 := NewManager(path, 4)
	if err := m2.Load(); err != nil {
		t.Fatal(err)
	}
	restored, ok := m2.Get(s.ID)
	if !ok {
		t.Fatal("expected restored session to be present after Load")
	}
	if restored.OpenFiles[42] != 1 {
		t.Error("expected open file count to survive a save/load round trip")
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected sessions file to exist at %s: %v", path, err)
	}
}

func TestManagerLoadMissingFileReturnsError(t *testing.T) {
	m := NewManager("/nonexistent/path/sessions.json", 4)
	if err := m.Load(); err == nil {
		t.Error("expected Load against a missing file to return an error the caller can ignore on first boot")
	}
}
