package session

import (
	"errors"
	"testing"
	"time"

	"github.com/source-build/ojp/internal/ojperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario A (spec.md §8): open -> execute -> close; second call with same
// sessionId succeeds; after close, a third call returns SessionNotFound
// (mapped by the dispatcher to FailedPrecondition).
func TestManager_ScenarioA(t *testing.T) {
	m := NewManager(time.Minute)

	s, created := m.Open("client-1", "conn-a", false)
	require.True(t, created)

	got, err := m.Get(s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, s.SessionID, got.SessionID)

	m.Close(s.SessionID, func(*Session) {})

	_, err = m.Get(s.SessionID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ojperr.SessionNotFound))
}

func TestManager_OpenReusesLiveSessionWithinIdleWindow(t *testing.T) {
	m := NewManager(time.Minute)

	s1, created1 := m.Open("client-1", "conn-a", false)
	require.True(t, created1)

	s2, created2 := m.Open("client-1", "conn-a", false)
	assert.False(t, created2)
	assert.Equal(t, s1.SessionID, s2.SessionID)
}

func TestManager_OpenAfterCloseCreatesFreshSession(t *testing.T) {
	m := NewManager(time.Minute)
	s1, _ := m.Open("client-1", "conn-a", false)
	m.Close(s1.SessionID, func(*Session) {})

	s2, created := m.Open("client-1", "conn-a", false)
	require.True(t, created)
	assert.NotEqual(t, s1.SessionID, s2.SessionID)
}

// Invariant 3 (spec.md §8): Terminate is idempotent; after it every
// accessor fails with SessionClosed.
func TestSession_TerminateIdempotent(t *testing.T) {
	m := NewManager(time.Minute)
	s, _ := m.Open("client-1", "conn-a", false)

	s.Terminate(nil)
	s.Terminate(nil)
	s.Terminate(nil)

	assert.True(t, s.IsClosed())

	_, err := s.AddCursor(CursorResultSet, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ojperr.SessionClosed))

	_, err = s.Lock()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ojperr.SessionClosed))
}

func TestSession_TerminateClearsCursorsAndClosesThemBestEffort(t *testing.T) {
	s := newSession("c1", "conn-a", false)
	closed := 0
	id, err := s.AddCursor(CursorPreparedStatement, "stmt-handle", func() error {
		closed++
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	s.Terminate(nil)
	assert.Equal(t, 1, closed)

	_, err = s.GetCursor(id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ojperr.SessionClosed))
}

// XA terminate with no bound connections and no pool: the session is marked
// closed and stays an XA session. Which connection gets released is not
// observable here (both are nil).
func TestSession_XATerminateWithNilConnectionsMarksClosed(t *testing.T) {
	s := newSession("c1", "conn-a", true)
	s.BindXA(nil, nil, "xares-1")

	// Nothing to assert on the nil connections directly, but Terminate
	// must not panic attempting to release the logical connection, and
	// must mark the session closed exactly once regardless of XA-ness.
	s.Terminate(nil)
	assert.True(t, s.IsClosed())
	assert.True(t, s.IsXA)
}

func TestManager_ReapSweepsIdleSessions(t *testing.T) {
	m := NewManager(10 * time.Millisecond)
	s, _ := m.Open("client-1", "conn-a", false)

	time.Sleep(20 * time.Millisecond)

	reaped := m.Reap(time.Now(), func(*Session) {})
	require.Len(t, reaped, 1)
	assert.Equal(t, s.SessionID, reaped[0])
	assert.Equal(t, 0, m.Count())
}

func TestManager_ReapSparesActiveSessions(t *testing.T) {
	m := NewManager(time.Minute)
	m.Open("client-1", "conn-a", false)

	reaped := m.Reap(time.Now(), func(*Session) {})
	assert.Empty(t, reaped)
	assert.Equal(t, 1, m.Count())
}

func TestSession_CursorIDsUniqueWithinSession(t *testing.T) {
	s := newSession("c1", "conn-a", false)
	id1, err := s.AddCursor(CursorResultSet, nil, nil)
	require.NoError(t, err)
	id2, err := s.AddCursor(CursorResultSet, nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}
