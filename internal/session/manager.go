package session

import (
	"sync"
	"time"

	"github.com/source-build/ojp/internal/ojperr"
)

func clientKey(clientID, connHash string) string {
	return clientID + "\x00" + connHash
}

// Manager is the Session manager component (spec.md §4.1): session
// lifecycle (create, look up, expire, evict). Sessions are keyed by
// sessionId; a secondary index (clientId, connHash) -> sessionId lets a
// reconnecting client reuse its existing session within the idle window
// (SPEC_FULL.md §6 supplement).
//
// get and close are linearizable per sessionId: close removes the primary
// map entry under the same lock get reads under, so a concurrent get either
// observes the live session or SessionNotFound, never a half-closed one.
type Manager struct {
	mu        sync.RWMutex
	bySession map[string]*Session
	byClient  map[string]string // clientKey -> sessionId

	idleTimeout time.Duration
}

func NewManager(idleTimeout time.Duration) *Manager {
	return &Manager{
		bySession:   make(map[string]*Session),
		byClient:    make(map[string]string),
		idleTimeout: idleTimeout,
	}
}

// Open implements spec.md §4.1's open(clientId, connDetails) -> Session: if
// an existing, still-live session is registered for (clientId, connHash) it
// is returned unchanged; otherwise a new Session is created and indexed.
// The caller is responsible for binding the returned Session's connection
// when created==true.
func (m *Manager) Open(clientID, connHash string, isXA bool) (sess *Session, created bool) {
	key := clientKey(clientID, connHash)

	m.mu.Lock()
	defer m.mu.Unlock()

	if sid, ok := m.byClient[key]; ok {
		if existing, ok := m.bySession[sid]; ok && !existing.IsClosed() {
			return existing, false
		}
		delete(m.byClient, key)
	}

	s := newSession(clientID, connHash, isXA)
	m.bySession[s.SessionID] = s
	m.byClient[key] = s.SessionID
	return s, true
}

// Get implements spec.md §4.1's get(sessionId) -> Session | SessionNotFound.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.bySession[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ojperr.New(ojperr.SessionNotFound, "session "+sessionID+" not found")
	}
	return s, nil
}

// Close implements spec.md §4.1's close(sessionId): removes the session
// from both indexes atomically with respect to Get, then terminates it.
// Idempotent — closing an already-absent sessionId is a no-op.
func (m *Manager) Close(sessionID string, releaseConn func(*Session)) {
	m.mu.Lock()
	s, ok := m.bySession[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.bySession, sessionID)
	delete(m.byClient, clientKey(s.ClientID, s.ConnectionHash))
	m.mu.Unlock()

	if releaseConn != nil {
		releaseConn(s)
	}
}

// Reap implements spec.md §4.1's reap(now): sweeps sessions idle longer
// than the configured timeout, closing each one the same way Close does.
func (m *Manager) Reap(now time.Time, releaseConn func(*Session)) []string {
	m.mu.RLock()
	var expired []*Session
	for _, s := range m.bySession {
		if now.Sub(s.lastActiveSnapshot()) >= m.idleTimeout {
			expired = append(expired, s)
		}
	}
	m.mu.RUnlock()

	var reaped []string
	for _, s := range expired {
		m.Close(s.SessionID, releaseConn)
		reaped = append(reaped, s.SessionID)
	}
	return reaped
}

// Count reports the number of live sessions, for tests and diagnostics.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySession)
}

func (s *Session) lastActiveSnapshot() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}
