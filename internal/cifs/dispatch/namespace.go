package dispatch

import (
	"github.com/opencifsd/cifsd/internal/cifs/mft"
	"github.com/opencifsd/cifsd/internal/cifs/vfs"
	"github.com/opencifsd/cifsd/internal/cifs/wire"
	"github.com/opencifsd/cifsd/internal/cifserr"
)

func init() {
	register(CmdCreateDirectory, &command{name: "MKDIR", handler: handleMkdir, needsUID: true, needsTID: true})
	register(CmdDeleteDirectory, &command{name: "RMDIR", handler: handleRmdir, needsUID: true, needsTID: true})
	register(CmdDelete, &command{name: "UNLINK", handler: handleUnlink, needsUID: true, needsTID: true})
	register(CmdRename, &command{name: "RENAME", handler: handleRename, needsUID: true, needsTID: true})
	register(CmdNTRename, &command{name: "NT_RENAME", handler: handleRename, needsUID: true, needsTID: true})
	register(CmdCheckDirectory, &command{name: "CHECKDIR", handler: handleCheckDirectory, needsUID: true, needsTID: true})
	register(CmdSetInformation, &command{name: "SETATTR", handler: handleSetInformation, needsUID: true, needsTID: true})
	register(CmdQueryInformation, &command{name: "QUERY_INFORMATION", handler: handleQueryInformation, needsUID: true, needsTID: true})
}

func (c *Conn) writableAdapter(uid, tid uint16) (*vfs.Adapter, error) {
	tree, adapter, err := c.shareAndAdapter(uid, tid)
	if err != nil {
		return nil, err
	}
	if !tree.Writable {
		return nil, cifserr.Permission("write operation on read-only tree", nil)
	}
	return adapter, nil
}

func decodePathParam(body *wire.Body, unicode bool) string {
	data := body.Bytes
	if len(data) == 0 {
		return ""
	}
	if data[0] == 0x04 { // ASCII-string buffer-format marker
		data = data[1:]
	}
	if unicode && len(data) > 0 && data[0] == 0 {
		data = data[1:]
	}
	path, _ := wire.DecodeString(data, unicode)
	return path
}

func handleMkdir(c *Conn, req *request) (*wire.Body, error) {
	adapter, err := c.writableAdapter(req.hdr.UID, req.hdr.TID)
	if err != nil {
		return nil, err
	}
	wirePath := decodePathParam(req.body, req.hdr.IsUnicode())
	resolved, err := adapter.ResolvePath(wirePath)
	if err != nil {
		return nil, err
	}
	if err := adapter.Mkdir(resolved, 0o755); err != nil {
		return nil, err
	}
	return &wire.Body{}, nil
}

func handleRmdir(c *Conn, req *request) (*wire.Body, error) {
	adapter, err := c.writableAdapter(req.hdr.UID, req.hdr.TID)
	if err != nil {
		return nil, err
	}
	wirePath := decodePathParam(req.body, req.hdr.IsUnicode())
	resolved, err := adapter.ResolvePath(wirePath)
	if err != nil {
		return nil, err
	}
	if err := adapter.Rmdir(resolved); err != nil {
		return nil, err
	}
	return &wire.Body{}, nil
}

func handleUnlink(c *Conn, req *request) (*wire.Body, error) {
	adapter, err := c.writableAdapter(req.hdr.UID, req.hdr.TID)
	if err != nil {
		return nil, err
	}
	wirePath := decodePathParam(req.body, req.hdr.IsUnicode())
	resolved, err := adapter.ResolvePath(wirePath)
	if err != nil {
		return nil, err
	}

	if err := unlinkOrMarkDeleteOnClose(c, adapter, resolved); err != nil {
		return nil, err
	}
	return &wire.Body{}, nil
}

// unlinkOrMarkDeleteOnClose removes a path outright, unless it is
// already open through the master file table, in which case the
// removal is deferred to the last close by marking delete-on-close on
// the shared MasterFile instead. Shared by UNLINK, SET_PATH_INFORMATION
// DISPOSITION_INFO, and SMB_SET_POSIX_UNLINK, which all resolve the
// same "delete a path that may or may not be open elsewhere" case.
func unlinkOrMarkDeleteOnClose(c *Conn, adapter *vfs.Adapter, resolved string) error {
	key, kerr := mftKeyForPath(adapter, resolved)
	if kerr == nil {
		if master := c.MFT.LookupOrNil(key); master != nil {
			master.SetDeleteOnClose(true)
			return c.MFT.Release(master)
		}
	}
	return adapter.Remove(resolved)
}

func mftKeyForPath(adapter *vfs.Adapter, resolved string) (mft.Key, error) {
	st, err := adapter.Stat(resolved)
	if err != nil {
		return mft.Key{}, err
	}
	return mft.Key{Device: deviceOf(st), Inode: inodeOf(st)}, nil
}

func handleRename(c *Conn, req *request) (*wire.Body, error) {
	adapter, err := c.writableAdapter(req.hdr.UID, req.hdr.TID)
	if err != nil {
		return nil, err
	}
	unicode := req.hdr.IsUnicode()
	data := req.body.Bytes
	if len(data) == 0 || data[0] != 0x04 {
		return nil, cifserr.Protocol("RENAME missing OldName buffer format", nil)
	}
	data = data[1:]
	oldWire, consumed := wire.DecodeString(data, unicode)
	data = data[consumed:]
	if len(data) == 0 || data[0] != 0x04 {
		return nil, cifserr.Protocol("RENAME missing NewName buffer format", nil)
	}
	data = data[1:]
	if unicode && len(data) > 0 && data[0] == 0 {
		data = data[1:]
	}
	newWire, _ := wire.DecodeString(data, unicode)

	oldResolved, err := adapter.ResolvePath(oldWire)
	if err != nil {
		return nil, err
	}
	newResolved, err := adapter.ResolvePath(newWire)
	if err != nil {
		return nil, err
	}

	if err := adapter.Rename(oldResolved, newResolved, nil); err != nil {
		return nil, err
	}
	return &wire.Body{}, nil
}

func handleCheckDirectory(c *Conn, req *request) (*wire.Body, error) {
	_, adapter, err := c.shareAndAdapter(req.hdr.UID, req.hdr.TID)
	if err != nil {
		return nil, err
	}
	wirePath := decodePathParam(req.body, req.hdr.IsUnicode())
	resolved, err := adapter.ResolvePath(wirePath)
	if err != nil {
		return nil, err
	}
	st, err := adapter.Stat(resolved)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, cifserr.Protocol("path is not a directory", nil).With("path", resolved)
	}
	return &wire.Body{}, nil
}

func handleSetInformation(c *Conn, req *request) (*wire.Body, error) {
	adapter, err := c.writableAdapter(req.hdr.UID, req.hdr.TID)
	if err != nil {
		return nil, err
	}
	if len(req.body.Words) < 1 {
		return nil, cifserr.Protocol("SETATTR word count too short", nil)
	}
	attrWord := req.body.Words[0]

	data := req.body.Bytes
	// 10 reserved bytes follow the attribute words, then the path.
	if len(data) < 10 {
		return nil, cifserr.Protocol("SETATTR parameter block too short", nil)
	}
	wirePath := decodePathParam(&wire.Body{Bytes: data[10:]}, req.hdr.IsUnicode())
	resolved, err := adapter.ResolvePath(wirePath)
	if err != nil {
		return nil, err
	}

	mode := uint32(0o644)
	if attrWord&uint16(0x01) != 0 { // ATTR_READONLY
		mode = 0o444
	}
	if err := adapter.Setattr(resolved, vfs.Attrs{HasMode: true, Mode: mode}); err != nil {
		return nil, err
	}
	return &wire.Body{}, nil
}

func handleQueryInformation(c *Conn, req *request) (*wire.Body, error) {
	_, adapter, err := c.shareAndAdapter(req.hdr.UID, req.hdr.TID)
	if err != nil {
		return nil, err
	}
	wirePath := decodePathParam(req.body, req.hdr.IsUnicode())
	resolved, err := adapter.ResolvePath(wirePath)
	if err != nil {
		return nil, err
	}
	st, err := adapter.Stat(resolved)
	if err != nil {
		return nil, err
	}

	attrs := uint16(0)
	if st.IsDir() {
		attrs |= 0x10
	}
	if st.Mode().Perm()&0o200 == 0 {
		attrs |= 0x01
	}

	words := make([]uint16, 10)
	words[0] = attrs
	ft := wire.ToFILETIME(st.ModTime())
	words[1] = uint16(ft)
	words[2] = uint16(ft >> 16)
	size := st.Size()
	words[3] = uint16(size)
	words[4] = uint16(size >> 16)
	return &wire.Body{Words: words, Bytes: nil}, nil
}
