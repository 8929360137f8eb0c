// Package session implements the Session and Session manager components
// (spec.md §3/§4.1): each Session owns exactly one backend connection (or
// an XA physical/logical pair) plus every cursor, statement, and LOB handle
// derived from it, with bounded idle lifetime.
//
// Resource-ownership shape is grounded on the neo4j driver's
// SessionWithContext (other_examples: neo4j-session_with_context.go) —
// one logical session owning a pool-borrowed connection, released back to
// the pool on Close, never shared across sessions.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/source-build/ojp/internal/backend"
	"github.com/source-build/ojp/internal/ojperr"
	"github.com/source-build/ojp/internal/xa"
)

// CursorKind tags which handle-table a cursor id belongs to — the "tagged
// variant cursor handle table" SPEC_FULL.md §9 calls for in place of the
// polymorphic cursor storage a dynamically-typed client library would use.
type CursorKind int

const (
	CursorResultSet CursorKind = iota
	CursorPlainStatement
	CursorPreparedStatement
	CursorCallableStatement
	CursorLOB
)

// Cursor is one entry in a Session's handle table: an opaque server-issued
// id, a kind tag, and whatever the backend driver handle actually is —
// stored as interface{} since the owning package (transport/backend) knows
// each kind's concrete type, the session only has to track lifecycle.
type Cursor struct {
	ID     string
	Kind   CursorKind
	Handle interface{}
	Close  func() error // best-effort close, nil if the handle needs none
}

// Session owns one backend connection (or XA pair) plus derived cursors.
type Session struct {
	mu sync.Mutex

	SessionID      string
	ClientID       string
	ConnectionHash string
	IsXA           bool

	conn         *backend.Conn // non-XA: the one owned connection
	xaPhysical   *backend.Conn // XA: physical connection, closed on terminate
	xaLogical    *backend.Conn // XA: logical connection, never closed directly by Session
	xaResourceID string

	cursors map[string]*Cursor
	attrs   map[string]interface{}

	transactionTimeout time.Duration // seconds-granularity per spec.md §3; stored as Duration internally

	closed     bool
	lastActive time.Time

	// serializes operations arrived for this session: spec.md §5 requires
	// a session not admit two concurrent statement executions on its
	// connection; callers acquire this before touching conn/cursors for an
	// operation and release when done.
	opMu sync.Mutex
}

func newSession(clientID, connHash string, isXA bool) *Session {
	return &Session{
		SessionID:      uuid.NewString(),
		ClientID:       clientID,
		ConnectionHash: connHash,
		IsXA:           isXA,
		cursors:        make(map[string]*Cursor),
		attrs:          make(map[string]interface{}),
		lastActive:     time.Now(),
	}
}

// BindConnection attaches the one owned (non-XA) backend connection. Called
// once, right after session creation.
func (s *Session) BindConnection(c *backend.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = c
}

// BindXA attaches the physical/logical connection pair and XA resource id
// for an XA session.
func (s *Session) BindXA(physical, logical *backend.Conn, resourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.xaPhysical = physical
	s.xaLogical = logical
	s.xaResourceID = resourceID
}

// Lock serializes operations on this session's connection (spec.md §5:
// "a session does not admit two concurrent statement executions"). Callers
// must call Unlock via the returned func exactly once.
func (s *Session) Lock() (unlock func(), err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ojperr.New(ojperr.SessionClosed, "session "+s.SessionID+" is closed")
	}
	s.mu.Unlock()

	s.opMu.Lock()
	return func() { s.opMu.Unlock() }, nil
}

// RawConn returns the backend connection this session owns for statement
// execution: the logical connection for XA sessions (physical connections
// never see client SQL directly, per invariant ii), the one owned
// connection otherwise. Returns nil if no connection has been bound yet.
func (s *Session) RawConn() *backend.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.IsXA {
		return s.xaLogical
	}
	return s.conn
}

// XAResource returns the XA resource this session was bound with, for the
// dispatcher to drive the six 2PC verbs (spec.md §6) against. Returns nil
// for a non-XA session or one whose BindXA hasn't run yet.
func (s *Session) XAResource() *xa.Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.IsXA || s.xaPhysical == nil {
		return nil
	}
	return &xa.Resource{ID: s.xaResourceID, Physical: s.xaPhysical, Logical: s.xaLogical}
}

func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
}

func (s *Session) IdleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActive)
}

func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SetAttr/GetAttr expose the one attribute bag spec.md §3 describes.
func (s *Session) SetAttr(key string, v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs[key] = v
}

func (s *Session) GetAttr(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[key]
	return v, ok
}

// AddCursor registers a new cursor under a fresh server-issued id, unique
// within this Session (spec.md §3 invariant iv).
func (s *Session) AddCursor(kind CursorKind, handle interface{}, closeFn func() error) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ojperr.New(ojperr.SessionClosed, "session "+s.SessionID+" is closed")
	}
	id := uuid.NewString()
	s.cursors[id] = &Cursor{ID: id, Kind: kind, Handle: handle, Close: closeFn}
	return id, nil
}

func (s *Session) GetCursor(id string) (*Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ojperr.New(ojperr.SessionClosed, "session "+s.SessionID+" is closed")
	}
	c, ok := s.cursors[id]
	if !ok {
		return nil, ojperr.New(ojperr.SessionNotFound, "cursor "+id+" not found")
	}
	return c, nil
}

func (s *Session) CloseCursor(id string) error {
	s.mu.Lock()
	c, ok := s.cursors[id]
	if ok {
		delete(s.cursors, id)
	}
	s.mu.Unlock()
	if !ok || c.Close == nil {
		return nil
	}
	return c.Close()
}

// Terminate implements spec.md §3/§4.1's terminate: idempotent, clears
// every cursor map (closing each entry best-effort), and closes the
// connection per invariant (ii) — a non-XA session closes its connection
// directly; an XA session closes only the physical XA connection, never
// the logical connection it does not own the autocommit state of.
func (s *Session) Terminate(pool *backend.Pool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cursors := s.cursors
	s.cursors = make(map[string]*Cursor)
	conn := s.conn
	xaPhysical := s.xaPhysical
	isXA := s.IsXA
	s.mu.Unlock()

	for _, c := range cursors {
		if c.Close != nil {
			_ = c.Close()
		}
	}

	if pool == nil {
		return
	}
	if isXA {
		if xaPhysical != nil {
			_ = pool.Release(xaPhysical, false)
		}
		// xaLogical is intentionally never closed here (invariant ii).
		return
	}
	if conn != nil {
		_ = pool.Release(conn, false)
	}
}
