package dispatch

import (
	"os"
	"strings"
	"syscall"

	"github.com/opencifsd/cifsd/internal/cifs/fidtable"
	"github.com/opencifsd/cifsd/internal/cifs/mft"
	"github.com/opencifsd/cifsd/internal/cifs/session"
	"github.com/opencifsd/cifsd/internal/cifs/vfs"
	"github.com/opencifsd/cifsd/internal/cifs/wire"
	"github.com/opencifsd/cifsd/internal/cifserr"
)

// NT_CREATE_ANDX disposition values. [CIFS] 2.2.4.64.1.
const (
	dispositionSupersede   = 0
	dispositionOpen        = 1
	dispositionCreate      = 2
	dispositionOpenIf      = 3
	dispositionOverwrite   = 4
	dispositionOverwriteIf = 5
)

func init() {
	register(CmdNTCreateAndX, &command{name: "NT_CREATE_ANDX", handler: handleNTCreateAndX, needsUID: true, needsTID: true})
	register(CmdOpenAndX, &command{name: "OPEN_ANDX", handler: handleOpenAndX, needsUID: true, needsTID: true})
	register(CmdReadAndX, &command{name: "READ_ANDX", handler: handleReadAndX, needsUID: true, needsTID: true})
	register(CmdWriteAndX, &command{name: "WRITE_ANDX", handler: handleWriteAndX, needsUID: true, needsTID: true})
	register(CmdClose, &command{name: "CLOSE", handler: handleClose, needsUID: true, needsTID: true})
	register(CmdFlush, &command{name: "FLUSH", handler: handleFlush, needsUID: true, needsTID: true})
}

// shareAndAdapter resolves the tree bound to req's TID into its
// config.ShareConfig-backed vfs.Adapter, shared process-wide per share
// root.
func (c *Conn) shareAndAdapter(uid, tid uint16) (*session.Tree, *vfs.Adapter, error) {
	sess, ok := c.Sessions.GetSession(uid)
	if !ok {
		return nil, nil, cifserr.NotFound("unknown session", nil)
	}
	tree, ok := session.LookupTree(sess, tid)
	if !ok {
		return nil, nil, cifserr.NotFound("unknown tree", nil)
	}
	for i := range c.srv.Config.Shares {
		if strings.EqualFold(c.srv.Config.Shares[i].Name, tree.ShareName) {
			return tree, c.srv.adapterFor(&c.srv.Config.Shares[i]), nil
		}
	}
	return nil, nil, cifserr.NotFound("share no longer exists", nil).With("share", tree.ShareName)
}

// handleNTCreateAndX implements the disposition matrix against the
// resolved host path: SUPERSEDE/OVERWRITE[_IF] truncate-or-create,
// CREATE fails if present, OPEN opens an existing file and OPEN_IF
// opens-or-creates. Directory
// creation is routed through Mkdir when CreateOptions requests a
// directory.
func handleNTCreateAndX(c *Conn, req *request) (*wire.Body, error) {
	if len(req.body.Words) < 24 {
		return nil, cifserr.Protocol("NT_CREATE_ANDX word count too short", nil)
	}
	nameLen := int(req.body.Words[2]) | int(req.body.Words[3])<<16
	_ = nameLen
	createOptions := uint32(req.body.Words[16]) | uint32(req.body.Words[17])<<16
	disposition := uint32(req.body.Words[14]) | uint32(req.body.Words[15])<<16

	unicode := req.hdr.IsUnicode()
	nameBytes := req.body.Bytes
	if unicode && len(nameBytes) > 0 {
		nameBytes = nameBytes[1:] // leading alignment pad before a Unicode name
	}
	wirePath, _ := wire.DecodeString(nameBytes, unicode)

	tree, adapter, err := c.shareAndAdapter(req.hdr.UID, req.hdr.TID)
	if err != nil {
		return nil, err
	}

	resolved, err := adapter.ResolvePath(wirePath)
	if err != nil {
		return nil, err
	}

	wantsDir := createOptions&0x00000001 != 0 // FILE_DIRECTORY_FILE

	write := disposition != dispositionOpen
	if write && !tree.Writable {
		return nil, cifserr.Permission("write requested on read-only tree", nil).With("path", resolved)
	}

	var f *vfs.File
	var isDir bool

	switch {
	case wantsDir && disposition == dispositionCreate:
		if err := adapter.Mkdir(resolved, 0o755); err != nil {
			return nil, err
		}
		f, err = adapter.OpenDir(resolved)
		isDir = true
	case wantsDir:
		f, err = adapter.OpenDir(resolved)
		isDir = true
	case disposition == dispositionCreate:
		f, err = adapter.Create(resolved, 0o644, true)
	case disposition == dispositionSupersede || disposition == dispositionOverwrite || disposition == dispositionOverwriteIf:
		f, err = adapter.Create(resolved, 0o644, false)
		if err == nil {
			if err = adapter.Setattr(resolved, vfs.Attrs{HasSize: true, Size: 0}); err != nil {
				_ = f.Close()
			}
		}
	case disposition == dispositionOpenIf:
		f, err = adapter.Open(resolved, "")
		if err != nil && cifserr.Is(err, cifserr.KindNotFound) {
			f, err = adapter.Create(resolved, 0o644, true)
		}
	default: // dispositionOpen
		f, err = adapter.Open(resolved, "")
	}
	if err != nil {
		return nil, err
	}

	return c.bindOpenFile(req, adapter, f, isDir, resolved)
}

// handleOpenAndX is the legacy, non-NT open: per the writeability-gating
// fix this redesign requires, it applies the same share-writeability
// check NT_CREATE_ANDX does rather than the upstream omission that let
// a legacy client write-open a read-only share.
func handleOpenAndX(c *Conn, req *request) (*wire.Body, error) {
	if len(req.body.Words) < 3 {
		return nil, cifserr.Protocol("OPEN_ANDX word count too short", nil)
	}
	accessMode := req.body.Words[2]
	wantsWrite := accessMode&0x7 != 1 // GENERIC_READ is mode 1; anything else may write

	unicode := req.hdr.IsUnicode()
	wirePath, _ := wire.DecodeString(req.body.Bytes, unicode)

	tree, adapter, err := c.shareAndAdapter(req.hdr.UID, req.hdr.TID)
	if err != nil {
		return nil, err
	}
	if wantsWrite && !tree.Writable {
		return nil, cifserr.Permission("write open requested on read-only tree", nil).With("path", wirePath)
	}

	resolved, err := adapter.ResolvePath(wirePath)
	if err != nil {
		return nil, err
	}
	f, err := adapter.Open(resolved, "")
	if err != nil {
		return nil, err
	}
	return c.bindOpenFile(req, adapter, f, false, resolved)
}

// bindOpenFile allocates a FID, binds the opened vfs.File plus its MFT
// entry into it, and tracks the FID against the session for LOGOFF
// cleanup.
func (c *Conn) bindOpenFile(req *request, adapter *vfs.Adapter, f *vfs.File, isDir bool, resolved string) (*wire.Body, error) {
	st, err := adapter.Stat(resolved)
	if err != nil {
		return nil, err
	}
	key := mft.Key{Device: deviceOf(st), Inode: inodeOf(st)}
	master := c.MFT.Insert(key, resolved)
	master.AddOpen(f)

	fid, err := c.FIDs.Allocate()
	if err != nil {
		return nil, cifserr.Resource("FID table exhausted", err)
	}
	of := &openFile{fid: fid, tid: req.hdr.TID, master: master, vfsFile: f, adapter: adapter, isDir: isDir, oplockPath: resolved}
	if err := c.FIDs.Bind(fid, fidtable.NewEntry(of)); err != nil {
		return nil, cifserr.Resource("failed to bind FID", err)
	}
	c.trackHandle(req.hdr.UID, fid)

	words := make([]uint16, 26)
	words[0] = CmdAndXNone
	words[2] = fid
	words[5] = boolWord(isDir)
	return &wire.Body{Words: words, Bytes: nil}, nil
}

// deviceOf and inodeOf extract the MFT's identity key from a host
// os.FileInfo, matching the Stat_t field layout every *nix target Go
// supports here uses.
func deviceOf(fi os.FileInfo) uint64 {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return uint64(st.Dev)
	}
	return 0
}

func inodeOf(fi os.FileInfo) uint64 {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	return 0
}

// handleReadAndX serves a pread at the client-supplied offset through
// the open FID's adapter.
func handleReadAndX(c *Conn, req *request) (*wire.Body, error) {
	if len(req.body.Words) < 6 {
		return nil, cifserr.Protocol("READ_ANDX word count too short", nil)
	}
	fid := req.body.Words[2]
	offset := int64(req.body.Words[3]) | int64(req.body.Words[4])<<16
	count := int(req.body.Words[5])

	of, entry, err := c.lookupOpenFile(fid)
	if err != nil {
		return nil, err
	}
	defer c.FIDs.Put(entry)

	data, err := of.adapter.Read(of.vfsFile, offset, count)
	if err != nil {
		return nil, err
	}

	words := make([]uint16, 12)
	words[0] = CmdAndXNone
	words[5] = uint16(len(data))
	return &wire.Body{Words: words, Bytes: data}, nil
}

// handleWriteAndX writes the client's data at the supplied offset,
// rejecting the write outright if the owning tree is read-only.
func handleWriteAndX(c *Conn, req *request) (*wire.Body, error) {
	if len(req.body.Words) < 12 {
		return nil, cifserr.Protocol("WRITE_ANDX word count too short", nil)
	}
	fid := req.body.Words[2]
	offset := int64(req.body.Words[3]) | int64(req.body.Words[4])<<16
	dataLen := int(req.body.Words[10])

	of, entry, err := c.lookupOpenFile(fid)
	if err != nil {
		return nil, err
	}
	defer c.FIDs.Put(entry)

	tree, ok := session.LookupTree(mustSession(c, req.hdr.UID), of.tid)
	if !ok || !tree.Writable {
		return nil, cifserr.Permission("write to read-only tree", nil)
	}

	if dataLen > len(req.body.Bytes) {
		return nil, cifserr.Protocol("WRITE_ANDX data length exceeds buffer", nil)
	}
	data := req.body.Bytes[len(req.body.Bytes)-dataLen:]

	n, err := of.adapter.Write(of.vfsFile, offset, data)
	if err != nil {
		return nil, err
	}

	words := make([]uint16, 6)
	words[0] = CmdAndXNone
	words[2] = uint16(n)
	return &wire.Body{Words: words, Bytes: nil}, nil
}

func mustSession(c *Conn, uid uint16) *session.Session {
	s, _ := c.Sessions.GetSession(uid)
	return s
}

// handleClose releases the FID and, if this was the last open on its
// MasterFile and DeleteOnClose was set, unlinks the underlying file.
func handleClose(c *Conn, req *request) (*wire.Body, error) {
	if len(req.body.Words) < 1 {
		return nil, cifserr.Protocol("CLOSE word count too short", nil)
	}
	fid := req.body.Words[0]
	if err := closeOpenFile(c, fid); err != nil {
		return nil, err
	}
	c.untrackHandle(req.hdr.UID, fid)
	return &wire.Body{}, nil
}

// closeOpenFile is the shared close path used by both the protocol
// CLOSE handler and LOGOFF's forced cleanup of abandoned handles.
func closeOpenFile(c *Conn, fid uint16) error {
	payload, err := c.FIDs.Unbind(fid)
	if err != nil {
		return err
	}
	of, ok := payload.(*openFile)
	if !ok || of == nil {
		return nil
	}

	of.adapter.UnlockAll(of.vfsFile)
	c.srv.Oplocks.Release(of.oplockPath)
	of.master.RemoveOpen(of.vfsFile)
	_ = of.vfsFile.Close()
	return c.MFT.Release(of.master)
}

func handleFlush(c *Conn, req *request) (*wire.Body, error) {
	// Every write already lands synchronously via WriteAt; FLUSH is a
	// no-op acknowledgment.
	return &wire.Body{}, nil
}

// lookupOpenFile resolves fid to its openFile payload, returning the
// fidtable.Entry too so the caller can release the reference Lookup
// took once it is done using the handle.
func (c *Conn) lookupOpenFile(fid uint16) (*openFile, *fidtable.Entry, error) {
	entry := c.FIDs.Lookup(fid)
	if entry == nil {
		return nil, nil, cifserr.NotFound("unknown FID", nil).With("fid", fid)
	}
	of, ok := entry.Payload.(*openFile)
	if !ok {
		c.FIDs.Put(entry)
		return nil, nil, cifserr.Protocol("FID payload type mismatch", nil)
	}
	return of, entry, nil
}
