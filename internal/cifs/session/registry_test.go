package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSessionAssignsIncreasingUIDs(t *testing.T) {
	r := NewRegistry()
	s1, err := r.CreateSession("10.0.0.1:1", false, "alice", "WORKGROUP")
	require.NoError(t, err)
	s2, err := r.CreateSession("10.0.0.2:1", true, "guest", "")
	require.NoError(t, err)

	assert.NotEqual(t, s1.UID, s2.UID)
	assert.Equal(t, uint16(1), s1.UID)
	assert.Equal(t, uint16(2), s2.UID)
}

func TestGetSessionRoundTrip(t *testing.T) {
	r := NewRegistry()
	s, _ := r.CreateSession("addr", false, "bob", "")

	got, ok := r.GetSession(s.UID)
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = r.GetSession(9999)
	assert.False(t, ok)
}

func TestConnectAndDisconnectTree(t *testing.T) {
	r := NewRegistry()
	s, _ := r.CreateSession("addr", false, "bob", "")

	tree := r.ConnectTree(s, "public", true)
	assert.NotZero(t, tree.TID)

	got, ok := LookupTree(s, tree.TID)
	require.True(t, ok)
	assert.Equal(t, "public", got.ShareName)

	DisconnectTree(s, tree.TID)
	_, ok = LookupTree(s, tree.TID)
	assert.False(t, ok)
}

func TestTreeIDsAreMonotonicAcrossSessions(t *testing.T) {
	r := NewRegistry()
	s1, _ := r.CreateSession("a", false, "u1", "")
	s2, _ := r.CreateSession("b", false, "u2", "")

	t1 := r.ConnectTree(s1, "share1", true)
	t2 := r.ConnectTree(s2, "share2", true)
	assert.Greater(t, t2.TID, t1.TID)
}

func TestLogoffWaitsForInFlightDrain(t *testing.T) {
	r := NewRegistry()
	s, _ := r.CreateSession("addr", false, "bob", "")

	s.BeginRequest() // the LOGOFF request itself
	s.BeginRequest() // a concurrent in-flight request

	closed := false
	done := make(chan error, 1)
	go func() {
		done <- r.Logoff(s, func(*Session) { closed = true })
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("Logoff returned before the concurrent request finished")
	default:
	}

	s.EndRequest() // the concurrent request finishes, leaving just LOGOFF

	require.NoError(t, <-done)
	assert.True(t, closed)
	assert.True(t, s.NeedReconnect())

	_, ok := r.GetSession(s.UID)
	assert.False(t, ok)
}

func TestLogoffWithNoConcurrentRequests(t *testing.T) {
	r := NewRegistry()
	s, _ := r.CreateSession("addr", false, "bob", "")
	s.BeginRequest()

	require.NoError(t, r.Logoff(s, func(*Session) {}))
	_, ok := r.GetSession(s.UID)
	assert.False(t, ok)
}
