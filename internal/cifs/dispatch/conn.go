// Package dispatch implements the SMB1/CIFS request dispatcher: framing,
// AndX chaining, signing, and per-command routing over the connection
// state it owns (FID table, master-file table, session/tree registry,
// oplock manager, durable handle table).
package dispatch

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opencifsd/cifsd/internal/cifs/durable"
	"github.com/opencifsd/cifsd/internal/cifs/fidtable"
	"github.com/opencifsd/cifsd/internal/cifs/mft"
	"github.com/opencifsd/cifsd/internal/cifs/oplock"
	"github.com/opencifsd/cifsd/internal/cifs/pipesvc"
	"github.com/opencifsd/cifsd/internal/cifs/secdesc"
	"github.com/opencifsd/cifsd/internal/cifs/session"
	"github.com/opencifsd/cifsd/internal/cifs/share"
	"github.com/opencifsd/cifsd/internal/cifs/vfs"
	"github.com/opencifsd/cifsd/internal/config"
	"github.com/opencifsd/cifsd/internal/logger"
	"github.com/opencifsd/cifsd/internal/ntlm"
)

// openFile is the payload bound into the FID table for every open
// handle: the wire-visible FID plus the everything a command needs to
// act on it again without re-resolving state.
type openFile struct {
	fid        uint16
	tid        uint16
	master     *mft.MasterFile
	vfsFile    *vfs.File
	adapter    *vfs.Adapter
	isDir      bool
	oplockPath string
	persistent uint64 // 0 if not durable
	searchEnd  bool
}

// Server holds everything shared across every connection: the share
// catalog, the durable handle table, and the process-wide oplock
// manager every VFS adapter reports breaks through.
type Server struct {
	Config  *config.Config
	Shares  *share.Resolver
	Oplocks *oplock.Manager
	Durable *durable.Table
	IDMap   secdesc.IDMapOracle
	Pipes   *pipesvc.Service

	// adapters caches one vfs.Adapter per share root, since adapters own
	// the per-share byte-range lock table and must be shared across
	// connections touching the same share.
	mu       sync.Mutex
	adapters map[string]*vfs.Adapter

	// conns tracks every live connection, for the admin API's read-only
	// session listing. A Conn registers itself in NewConn and removes
	// itself in teardown.
	connsMu sync.Mutex
	conns   map[string]*Conn

	seq uint64 // connection id generator
}

// NewServer builds the process-wide dispatcher state from cfg.
func NewServer(cfg *config.Config, idmap secdesc.IDMapOracle, durableTable *durable.Table) *Server {
	s := &Server{
		Config:   cfg,
		Shares:   share.NewResolver(cfg.Shares),
		Oplocks:  oplock.New(),
		Durable:  durableTable,
		IDMap:    idmap,
		Pipes:    pipesvc.New(shareInfosFrom(cfg.Shares)),
		adapters: make(map[string]*vfs.Adapter),
		conns:    make(map[string]*Conn),
	}
	return s
}

// ConnSnapshot is a read-only view of one live connection, for the
// admin API's /v1/sessions listing.
type ConnSnapshot struct {
	ID       string
	Peer     string
	Sessions []session.Summary
}

// Snapshot returns a point-in-time view of every connection the server
// is currently serving.
func (srv *Server) Snapshot() []ConnSnapshot {
	srv.connsMu.Lock()
	conns := make([]*Conn, 0, len(srv.conns))
	for _, c := range srv.conns {
		conns = append(conns, c)
	}
	srv.connsMu.Unlock()

	out := make([]ConnSnapshot, 0, len(conns))
	for _, c := range conns {
		out = append(out, ConnSnapshot{
			ID:       c.id,
			Peer:     c.peer,
			Sessions: c.Sessions.Snapshot(),
		})
	}
	return out
}

func (srv *Server) registerConn(c *Conn) {
	srv.connsMu.Lock()
	srv.conns[c.id] = c
	srv.connsMu.Unlock()
}

func (srv *Server) unregisterConn(c *Conn) {
	srv.connsMu.Lock()
	delete(srv.conns, c.id)
	srv.connsMu.Unlock()
}

// shareInfosFrom projects the configured share list into the subset
// NetrShareEnum advertises over \PIPE\srvsvc.
func shareInfosFrom(shares []config.ShareConfig) []pipesvc.ShareInfo {
	out := make([]pipesvc.ShareInfo, 0, len(shares))
	for _, sc := range shares {
		if !sc.Available {
			continue
		}
		out = append(out, pipesvc.ShareInfo{Name: sc.Name, Comment: sc.Comment})
	}
	return out
}

// adapterFor returns the shared vfs.Adapter for a share root, creating
// it on first use.
func (srv *Server) adapterFor(sc *config.ShareConfig) *vfs.Adapter {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	a, ok := srv.adapters[sc.Path]
	if !ok {
		a = vfs.NewAdapter(sc.Path, srv.Oplocks)
		srv.adapters[sc.Path] = a
	}
	return a
}

// nextConnID returns a short, process-unique connection identifier for
// log correlation.
func (srv *Server) nextConnID() string {
	n := atomic.AddUint64(&srv.seq, 1)
	return "c" + time.Now().UTC().Format("150405") + "-" + itoa(n)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Conn is one accepted TCP connection's dispatcher state: its session
// registry, FID table, sequence counter for NTLM signing, and the
// bookkeeping NT_CANCEL needs to find an in-flight request by MID.
type Conn struct {
	srv  *Server
	raw  net.Conn
	ctx  context.Context
	id   string
	peer string

	Sessions *session.Registry
	FIDs     *fidtable.Table
	MFT      *mft.Table

	oracle *ntlm.Oracle

	signingEnabled bool
	seqMu          sync.Mutex
	sendSeq        uint32
	recvSeq        uint32

	inflightMu sync.Mutex
	inflight   map[uint16]*inflightRequest // keyed by MID

	handlesMu sync.Mutex
	byUID     map[uint16]map[uint16]struct{} // session UID -> set of owned FIDs
}

type inflightRequest struct {
	cancel     context.CancelFunc
	suppressed bool
}

// NewConn builds per-connection dispatcher state for a freshly accepted
// socket. lookup resolves a username/domain pair to its NT hash for
// NTLM authentication.
func NewConn(ctx context.Context, srv *Server, raw net.Conn, lookup ntlm.CredentialLookup) *Conn {
	c := &Conn{
		srv:      srv,
		raw:      raw,
		ctx:      ctx,
		id:       srv.nextConnID(),
		peer:     raw.RemoteAddr().String(),
		Sessions: session.NewRegistry(),
		FIDs:     fidtable.New(),
		MFT:      mft.New(),
		oracle:   ntlm.NewOracle(srv.Config.Global.NetBIOSName, srv.Config.Global.Workgroup, lookup),
		inflight: make(map[uint16]*inflightRequest),
		byUID:    make(map[uint16]map[uint16]struct{}),
	}
	c.ctx = logger.WithContext(ctx, logger.NewLogContext(c.id, c.peer))
	srv.registerConn(c)
	return c
}

// peerHost strips the port from the connection's remote address, the
// form the share resolver's host allow/deny lists expect.
func (c *Conn) peerHost() string {
	host, _, err := net.SplitHostPort(c.peer)
	if err != nil {
		return c.peer
	}
	return host
}

// trackInflight registers mid as in-flight for the duration of a
// handler call, returning a context NT_CANCEL can cancel and a
// completion func to deregister it.
func (c *Conn) trackInflight(mid uint16) (context.Context, func() (suppressed bool)) {
	ctx, cancel := context.WithCancel(c.ctx)
	req := &inflightRequest{cancel: cancel}

	c.inflightMu.Lock()
	c.inflight[mid] = req
	c.inflightMu.Unlock()

	done := func() bool {
		c.inflightMu.Lock()
		defer c.inflightMu.Unlock()
		suppressed := req.suppressed
		delete(c.inflight, mid)
		return suppressed
	}
	return ctx, done
}

// Cancel implements NT_CANCEL: best-effort, since the SMB1 wire gives
// no way to wait for the cancelled handler to actually unwind. A
// cancel against an unknown MID is a silent no-op, matching the
// testable property that late or bogus cancels never produce a
// response of their own.
func (c *Conn) Cancel(mid uint16) {
	c.inflightMu.Lock()
	req, ok := c.inflight[mid]
	if ok {
		req.suppressed = true
	}
	c.inflightMu.Unlock()

	if ok {
		req.cancel()
	}
}

// trackHandle records fid as owned by session uid, so LOGOFF can find
// and close every handle the session still has open.
func (c *Conn) trackHandle(uid, fid uint16) {
	c.handlesMu.Lock()
	defer c.handlesMu.Unlock()
	set, ok := c.byUID[uid]
	if !ok {
		set = make(map[uint16]struct{})
		c.byUID[uid] = set
	}
	set[fid] = struct{}{}
}

// untrackHandle removes fid from its owning session's handle set,
// called on an explicit CLOSE.
func (c *Conn) untrackHandle(uid, fid uint16) {
	c.handlesMu.Lock()
	defer c.handlesMu.Unlock()
	if set, ok := c.byUID[uid]; ok {
		delete(set, fid)
	}
}

// closeAllHandles closes every FID session s still owns, in the shape
// session.Registry.Logoff expects its drain callback to take.
func (c *Conn) closeAllHandles(uid uint16) {
	c.handlesMu.Lock()
	fids := make([]uint16, 0, len(c.byUID[uid]))
	for fid := range c.byUID[uid] {
		fids = append(fids, fid)
	}
	delete(c.byUID, uid)
	c.handlesMu.Unlock()

	for _, fid := range fids {
		closeOpenFile(c, fid)
	}
}
