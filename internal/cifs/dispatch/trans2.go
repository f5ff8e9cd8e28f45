package dispatch

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/opencifsd/cifsd/internal/cifs/dirent"
	"github.com/opencifsd/cifsd/internal/cifs/fidtable"
	"github.com/opencifsd/cifsd/internal/cifs/vfs"
	"github.com/opencifsd/cifsd/internal/cifs/wire"
	"github.com/opencifsd/cifsd/internal/cifserr"
	"github.com/opencifsd/cifsd/internal/metrics"
)

func init() {
	register(CmdTransaction2, &command{name: "TRANSACTION2", handler: handleTransaction2, needsUID: true, needsTID: true})
	register(CmdFindClose2, &command{name: "FIND_CLOSE2", handler: handleFindClose2, needsUID: true, needsTID: true})
}

// handleTransaction2 decodes the TRANSACTION2 envelope's setup word to
// find the subcommand and routes it to its handler. GET_DFS_REFERRAL is
// the one subcommand this deployment deliberately declines, since it
// serves a single filesystem with no DFS namespace above it.
func handleTransaction2(c *Conn, req *request) (*wire.Body, error) {
	if len(req.body.Words) < 14 {
		return nil, cifserr.Protocol("TRANSACTION2 word count too short", nil)
	}
	setupCount := int(req.body.Words[9])
	if setupCount < 1 || len(req.body.Words) < 14+setupCount {
		return nil, cifserr.Protocol("TRANSACTION2 missing subcommand setup word", nil)
	}
	subcommand := req.body.Words[14]

	switch subcommand {
	case Trans2FindFirst2:
		return handleFindFirst2(c, req)
	case Trans2FindNext2:
		return handleFindNext2(c, req)
	case Trans2QueryFSInformation:
		return handleQueryFSInformation(c, req)
	case Trans2SetFSInformation:
		return handleSetFSInformation(c, req)
	case Trans2QueryPathInfo:
		return handleQueryPathInfo(c, req)
	case Trans2SetPathInfo:
		return handleSetPathInfo(c, req)
	case Trans2QueryFileInfo:
		return handleQueryFileInfo(c, req)
	case Trans2SetFileInfo:
		return handleSetFileInfo(c, req)
	case Trans2CreateDirectory:
		return handleTrans2CreateDirectory(c, req)
	case Trans2GetDFSReferral:
		return nil, cifserr.Protocol("DFS referrals are not served", nil)
	default:
		return nil, cifserr.Protocol("unsupported TRANSACTION2 subcommand", nil).With("subcommand", subcommand)
	}
}

// handleTrans2CreateDirectory mirrors the legacy CREATE_DIRECTORY
// command (commands.go's CmdCreateDirectory) but decodes its
// unprefixed TRANS2 parameter block: Reserved(4) then the path string,
// with any extended-attribute list in the data block ignored.
func handleTrans2CreateDirectory(c *Conn, req *request) (*wire.Body, error) {
	adapter, err := c.writableAdapter(req.hdr.UID, req.hdr.TID)
	if err != nil {
		return nil, err
	}
	data := req.body.Bytes
	if len(data) < 4 {
		return nil, cifserr.Protocol("TRANS2_CREATE_DIRECTORY parameter block too short", nil)
	}
	wirePath, _ := wire.DecodeString(data[4:], req.hdr.IsUnicode())
	resolved, err := adapter.ResolvePath(wirePath)
	if err != nil {
		return nil, err
	}
	if err := adapter.Mkdir(resolved, 0o755); err != nil {
		return nil, err
	}
	return trans2Response(make([]byte, 2), nil), nil
}

// trans2Response packs a TRANS2 reply's parameter and data blocks into
// the wire.Body shape the dispatcher's generic AndX writer expects,
// following the same simplified length-only convention emitSearchPage
// uses rather than computing real ParameterOffset/DataOffset fields.
func trans2Response(params, data []byte) *wire.Body {
	words := []uint16{CmdAndXNone, 0, 0, 10, 0, uint16(len(data)), uint16(len(params)), 0, 0, 0}
	body := append(append([]byte{}, params...), data...)
	return &wire.Body{Words: words, Bytes: body}
}

// findSearch is the FID-table payload a FIND_FIRST2 allocates and every
// subsequent FIND_NEXT2 resumes from.
type findSearch struct {
	dir     *dirent.DirFile
	adapter *vfs.Adapter
	root    string
	pattern string
	level   dirent.InfoLevel
	names   []string // host directory listing, paged lazily via filler
	next    int
}

func (s *findSearch) filler() dirent.Filler {
	return func() ([]dirent.RawEntry, error) {
		const batch = 256
		if s.next >= len(s.names) {
			return nil, nil
		}
		end := s.next + batch
		if end > len(s.names) {
			end = len(s.names)
		}
		out := make([]dirent.RawEntry, 0, end-s.next)
		for _, n := range s.names[s.next:end] {
			out = append(out, dirent.RawEntry{Name: n})
		}
		s.next = end
		return out, nil
	}
}

func (s *findSearch) statFunc() dirent.StatFunc {
	return func(name string) (*dirent.Stat, error) {
		fi, err := os.Lstat(filepath.Join(s.root, name))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, cifserr.NotFound("entry vanished", err)
			}
			return nil, cifserr.Resource("stat failed", err)
		}
		return statToDirent(name, fi), nil
	}
}

func statToDirent(name string, fi os.FileInfo) *dirent.Stat {
	st := &dirent.Stat{
		Name:         name,
		IsDir:        fi.IsDir(),
		Hidden:       len(name) > 0 && name[0] == '.',
		Size:         fi.Size(),
		CreationTime: fi.ModTime(),
		AccessTime:   fi.ModTime(),
		WriteTime:    fi.ModTime(),
		ChangeTime:   fi.ModTime(),
	}
	if sys, ok := fi.Sys().(*syscall.Stat_t); ok {
		st.UniqueID = sys.Ino
		st.UID = sys.Uid
		st.GID = sys.Gid
		st.Mode = uint32(sys.Mode)
		st.Nlink = uint32(sys.Nlink)
	}
	return st
}

// handleFindFirst2 opens the search directory, lists it once, and
// serves the first page through dirent.EmitNextBatch, leaving the
// cursor parked in a findSearch bound into the FID table (a "search
// handle", reusing the same 16-bit FID namespace open files use).
func handleFindFirst2(c *Conn, req *request) (*wire.Body, error) {
	data := req.body.Bytes
	// Parameter block: SearchAttributes(2) SearchCount(2) Flags(2)
	// InfoLevel(2) SearchStorageType(4) then the search pattern string.
	if len(data) < 12 {
		return nil, cifserr.Protocol("FIND_FIRST2 parameter block too short", nil)
	}
	searchCount := int(le16(data, 2))
	infoLevel := le16(data, 6)
	unicode := req.hdr.IsUnicode()
	patternBytes := data[12:]
	if unicode && len(patternBytes)%2 == 1 {
		patternBytes = patternBytes[1:]
	}
	pattern, _ := wire.DecodeString(patternBytes, unicode)

	_, adapter, err := c.shareAndAdapter(req.hdr.UID, req.hdr.TID)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(pattern)
	if dir == "." {
		dir = "\\"
	}
	resolvedDir, err := adapter.ResolvePath(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolvedDir)
	if err != nil {
		return nil, cifserr.NotFound("search directory not found", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	search := &findSearch{dir: &dirent.DirFile{}, adapter: adapter, root: resolvedDir, pattern: filepath.Base(pattern), level: levelFromWire(infoLevel)}
	search.names = names

	fid, err := c.FIDs.Allocate()
	if err != nil {
		return nil, cifserr.Resource("search handle table exhausted", err)
	}
	if err := c.FIDs.Bind(fid, fidtable.NewEntry(search)); err != nil {
		return nil, cifserr.Resource("failed to bind search handle", err)
	}

	return emitSearchPage(search, fid, searchCount, true)
}

func handleFindNext2(c *Conn, req *request) (*wire.Body, error) {
	data := req.body.Bytes
	if len(data) < 8 {
		return nil, cifserr.Protocol("FIND_NEXT2 parameter block too short", nil)
	}
	sid := le16(data, 0)
	searchCount := int(le16(data, 2))

	entry := c.FIDs.Lookup(sid)
	if entry == nil {
		return nil, cifserr.NotFound("unknown search handle", nil).With("sid", sid)
	}
	defer c.FIDs.Put(entry)
	search, ok := entry.Payload.(*findSearch)
	if !ok {
		return nil, cifserr.Protocol("FID is not a search handle", nil)
	}

	return emitSearchPage(search, sid, searchCount, false)
}

func emitSearchPage(search *findSearch, sid uint16, searchCount int, first bool) (*wire.Body, error) {
	const maxBytes = 32 * 1024
	data, n, ended, err := dirent.EmitNextBatch(search.dir, search.filler(), search.statFunc(), search.level, search.pattern, maxBytes)
	if err != nil {
		return nil, err
	}
	if metrics.IsEnabled() {
		metrics.RecordDirEnumPage(infoLevelLabel(search.level))
	}

	params := make([]byte, 10)
	if first {
		putLE16(params, 0, sid)
		putLE16(params, 2, uint16(n))
	} else {
		putLE16(params, 0, uint16(n))
	}
	endFlag := uint16(0)
	if ended {
		endFlag = 1
	}
	putLE16(params, 4, endFlag)

	words := []uint16{CmdAndXNone, 0, 0, 10, 0, uint16(len(data)), uint16(len(params)), 0, 0, 0}
	body := append(append([]byte{}, params...), data...)
	return &wire.Body{Words: words, Bytes: body}, nil
}

func handleFindClose2(c *Conn, req *request) (*wire.Body, error) {
	if len(req.body.Words) < 1 {
		return nil, cifserr.Protocol("FIND_CLOSE2 word count too short", nil)
	}
	sid := req.body.Words[0]
	if _, err := c.FIDs.Unbind(sid); err != nil {
		return nil, err
	}
	return &wire.Body{}, nil
}

func levelFromWire(v uint16) dirent.InfoLevel {
	switch v {
	case 0x0101:
		return dirent.LevelFullDirectoryInfo
	case 0x0102:
		return dirent.LevelBothDirectoryInfo
	case 0x0105:
		return dirent.LevelIDFullDirInfo
	case 0x0202:
		return dirent.LevelUnixInfo
	default:
		return dirent.LevelDirectoryInfo
	}
}

func infoLevelLabel(l dirent.InfoLevel) string {
	switch l {
	case dirent.LevelFullDirectoryInfo:
		return "full"
	case dirent.LevelBothDirectoryInfo:
		return "both"
	case dirent.LevelIDFullDirInfo:
		return "id_full"
	case dirent.LevelUnixInfo:
		return "unix"
	default:
		return "standard"
	}
}

func le16(b []byte, off int) uint16 {
	return uint16(b[off]) | uint16(b[off+1])<<8
}

func putLE16(b []byte, off int, v uint16) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
}
