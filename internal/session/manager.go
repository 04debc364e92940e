package session

import (
	"net"
	"sync"
	"time"

	"github.com/lizardfs/lizardfs-sub006/persist"
	"github.com/lizardfs/lizardfs-sub006/types"
)

// DefaultSustainWindow is how long an idle session's state (open files,
// open chunks, credential cache) is preserved across a disconnect before
// the session expires, tolerating short client reconnects.
const DefaultSustainWindow = 5 * time.Minute

const sessionMetaHeader = "LizardFS Sessions"
const sessionMetaVersion = "1.0"

// persistedSessions is the on-disk shape saved/loaded via
// persist.SaveJSON/LoadJSON, matching §6's "sessions file: versioned".
type persistedSessions struct {
	NextID   uint32
	Sessions []*Session
}

// Manager owns every active Session, keyed by SessionId, and persists them
// to a sidecar file across master restarts.
type Manager struct {
	mu       sync.Mutex
	sessions map[types.SessionId]*Session
	nextID   uint32

	credCap        int
	SustainWindow  time.Duration
	persistPath    string
}

// NewManager creates an empty Manager. persistPath may be empty, in which
// case Save/Load are no-ops.
func NewManager(persistPath string, credCap int) *Manager {
	return &Manager{
		sessions:      make(map[types.SessionId]*Session),
		credCap:       credCap,
		SustainWindow: DefaultSustainWindow,
		persistPath:   persistPath,
	}
}

// Open creates a new session for a connecting client.
func (m *Manager) Open(ip net.IP) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s := newSession(types.SessionId(m.nextID), ip, m.credCap)
	m.sessions[s.ID] = s
	return s
}

// Get returns the session for id, if still tracked.
func (m *Manager) Get(id types.SessionId) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Touch refreshes a session's LastSeen, preserving it across a reconnect
// within the sustain window.
func (m *Manager) Touch(id types.SessionId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.LastSeen = time.Now()
	}
}

// ExpireIdle removes every session whose LastSeen is older than
// SustainWindow, returning the ids it removed.
func (m *Manager) ExpireIdle() []types.SessionId {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []types.SessionId
	cutoff := time.Now().Add(-m.SustainWindow)
	for id, s := range m.sessions {
		if s.LastSeen.Before(cutoff) {
			expired = append(expired, id)
			delete(m.sessions, id)
		}
	}
	return expired
}

// RotateHour rotates every session's op-counter window (Current becomes
// Previous, Current is reset), called once per hour by the master's main
// loop.
func (m *Manager) RotateHour() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		s.Counters.Previous = s.Counters.Current
		s.Counters.Current = [NumOpCounters]uint32{}
	}
}

// Len returns the number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Save persists every session to the manager's sidecar file.
func (m *Manager) Save() error {
	if m.persistPath == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := persistedSessions{NextID: m.nextID}
	for _, s := range m.sessions {
		snapshot.Sessions = append(snapshot.Sessions, s)
	}
	meta := persist.Metadata{Header: sessionMetaHeader, Version: sessionMetaVersion}
	return persist.SaveJSON(meta, snapshot, m.persistPath)
}

// Load restores sessions from the manager's sidecar file, replacing any
// in-memory state. A missing file is returned as an error, like a corrupt
// one; a fresh master that has never saved may ignore it and start with no
// sessions.
func (m *Manager) Load() error {
	if m.persistPath == "" {
		return nil
	}
	var snapshot persistedSessions
	meta := persist.Metadata{Header: sessionMetaHeader, Version: sessionMetaVersion}
	if err := persist.LoadJSON(meta, &snapshot, m.persistPath); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID = snapshot.NextID
	m.sessions = make(map[types.SessionId]*Session, len(snapshot.Sessions))
	for _, s := range snapshot.Sessions {
		m.sessions[s.ID] = s
	}
	return nil
}
