// Package session implements the SMB1 session and tree-connection
// registry: 16-bit UID/TID allocation, per-connection session lists,
// and the LOGOFF draining contract.
package session

import (
	"sync"
	"time"

	"github.com/opencifsd/cifsd/internal/cifserr"
)

// Session is one authenticated SMB1 session, identified by a 16-bit
// UID echoed in every subsequent request header on its connection.
type Session struct {
	UID        uint16
	ClientAddr string
	IsGuest    bool
	Username   string
	Domain     string
	CreatedAt  time.Time

	mu             sync.Mutex
	needReconnect  bool
	inFlight       int
	inFlightZero   chan struct{}
	Trees          map[uint16]*Tree
}

// Tree is one TREE_CONNECT_ANDX's worth of state: a share binding plus
// its TID.
type Tree struct {
	TID       uint16
	ShareName string
	Writable  bool
}

// BeginRequest increments the session's in-flight request counter. Every
// dispatched command on this session must call it, including LOGOFF
// itself.
func (s *Session) BeginRequest() {
	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()
}

// EndRequest decrements the in-flight counter and signals any LOGOFF
// waiting for drain.
func (s *Session) EndRequest() {
	s.mu.Lock()
	s.inFlight--
	n := s.inFlight
	ch := s.inFlightZero
	s.mu.Unlock()
	if ch != nil && n == 1 {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// beginLogoff marks the session NeedReconnect and returns a channel
// that receives once in-flight drops to exactly 1 (the LOGOFF request
// itself).
func (s *Session) beginLogoff() chan struct{} {
	s.mu.Lock()
	s.needReconnect = true
	ch := make(chan struct{}, 1)
	s.inFlightZero = ch
	already := s.inFlight <= 1
	s.mu.Unlock()
	if already {
		ch <- struct{}{}
	}
	return ch
}

// NeedReconnect reports whether this session has been signaled to drop.
func (s *Session) NeedReconnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needReconnect
}

// Registry is the process-wide session/tree allocator.
type Registry struct {
	mu       sync.Mutex
	sessions map[uint16]*Session
	nextUID  uint16
	nextTID  uint16
}

// NewRegistry creates an empty registry. UID/TID 0 is never assigned by
// CreateSession/ConnectTree; callers reserve it for "no session"/"no
// tree" sentinel values per spec.md's session-setup contract.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[uint16]*Session),
		nextUID:  1,
		nextTID:  1,
	}
}

// CreateSession allocates a new session with the next UID.
func (r *Registry) CreateSession(clientAddr string, isGuest bool, username, domain string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nextUID == 0 {
		return nil, cifserr.Resource("session uid space exhausted", nil)
	}

	s := &Session{
		UID:        r.nextUID,
		ClientAddr: clientAddr,
		IsGuest:    isGuest,
		Username:   username,
		Domain:     domain,
		CreatedAt:  time.Now(),
		Trees:      make(map[uint16]*Tree),
	}
	r.sessions[s.UID] = s
	r.nextUID++
	return s, nil
}

// GetSession looks up a session by UID.
func (r *Registry) GetSession(uid uint16) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[uid]
	return s, ok
}

// ConnectTree allocates a new TID on s for the given share.
func (r *Registry) ConnectTree(s *Session, shareName string, writable bool) *Tree {
	r.mu.Lock()
	tid := r.nextTID
	r.nextTID++
	if r.nextTID == 0 {
		r.nextTID = 1
	}
	r.mu.Unlock()

	t := &Tree{TID: tid, ShareName: shareName, Writable: writable}

	s.mu.Lock()
	s.Trees[tid] = t
	s.mu.Unlock()

	return t
}

// DisconnectTree removes a tree from its session.
func DisconnectTree(s *Session, tid uint16) {
	s.mu.Lock()
	delete(s.Trees, tid)
	s.mu.Unlock()
}

// LookupTree returns the tree for tid on s.
func LookupTree(s *Session, tid uint16) (*Tree, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.Trees[tid]
	return t, ok
}

// Summary is a read-only snapshot of one session, for the admin API.
type Summary struct {
	UID        uint16
	ClientAddr string
	IsGuest    bool
	Username   string
	Domain     string
	CreatedAt  time.Time
	TreeCount  int
}

// Snapshot returns a point-in-time summary of every session currently
// registered, for the admin API's read-only /v1/sessions listing.
func (r *Registry) Snapshot() []Summary {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		out = append(out, Summary{
			UID:        s.UID,
			ClientAddr: s.ClientAddr,
			IsGuest:    s.IsGuest,
			Username:   s.Username,
			Domain:     s.Domain,
			CreatedAt:  s.CreatedAt,
			TreeCount:  len(s.Trees),
		})
		s.mu.Unlock()
	}
	return out
}

// logoffDrainTimeout bounds how long Logoff waits for in-flight
// requests on the session to drain to just itself.
const logoffDrainTimeout = 30 * time.Second

// Logoff implements the LOGOFF_ANDX contract: mark the session
// NeedReconnect, wait for every other in-flight request to finish,
// invoke closeAllHandles to tear down every tree and open handle, then
// remove the session from the registry.
func (r *Registry) Logoff(s *Session, closeAllHandles func(*Session)) error {
	ch := s.beginLogoff()

	select {
	case <-ch:
	case <-time.After(logoffDrainTimeout):
		return cifserr.Resource("logoff timed out waiting for in-flight requests to drain", nil).With("uid", s.UID)
	}

	closeAllHandles(s)

	r.mu.Lock()
	delete(r.sessions, s.UID)
	r.mu.Unlock()

	return nil
}
