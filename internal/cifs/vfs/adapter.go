// Package vfs implements the path-safe host-filesystem boundary: stream
// (xattr) redirected I/O, byte-range lock conflict checks, sanitized
// setattr/rename, and a page-buffered readdir filler.
package vfs

import (
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/opencifsd/cifsd/internal/cifserr"
)

// Extended-attribute names used for out-of-band metadata storage.
const (
	StreamPrefix      = "user.stream:"
	DOSAttrXattr      = "user.dos_attr"
	CreationTimeXattr = "user.creation_time"
)

// OplockBreaker is the collaborator every write consults before
// touching file data, so cached readers elsewhere lose their oplock
// before they can observe a stale read.
type OplockBreaker interface {
	BreakAllLevel2(path string)
}

// File is an open VFS handle: either a normal file or a named
// alternate-data-stream redirected to an xattr slot, plus the owned
// directory page buffer used by readdir.
type File struct {
	mu sync.Mutex

	Path       string
	IsStream   bool
	StreamName string

	fd *os.File

	DirBuffer []byte
	DirUsed   int
	DirOffset int
}

// Close releases the file's underlying descriptor, if any.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fd == nil {
		return nil
	}
	err := f.fd.Close()
	f.fd = nil
	return err
}

// Adapter is the host-filesystem boundary for a single share root.
type Adapter struct {
	root    string
	breaker OplockBreaker
	locks   *lockTable
}

// NewAdapter builds an Adapter rooted at root, breaking level-2 oplocks
// through breaker before every write.
func NewAdapter(root string, breaker OplockBreaker) *Adapter {
	return &Adapter{root: root, breaker: breaker, locks: newLockTable()}
}

// Root returns the share root this adapter is bound to, for components
// that need a starting point for a raw statfs rather than a single
// file's resolved path.
func (a *Adapter) Root() string {
	return a.root
}

// ResolvePath maps a wire path (backslash-separated, possibly carrying
// a trailing wildcard from a directory argument) onto a path-safe
// absolute path under the adapter's root.
func (a *Adapter) ResolvePath(wirePath string) (string, error) {
	clean := strings.ReplaceAll(wirePath, `\`, "/")
	clean = strings.TrimSuffix(clean, "/*")
	clean = strings.TrimPrefix(clean, "/")

	joined := path.Join(a.root, clean)
	if joined != a.root && !strings.HasPrefix(joined, a.root+"/") {
		return "", cifserr.Permission("path escapes share root", nil).With("path", wirePath)
	}
	return joined, nil
}

// Open opens path for data I/O, marking it as a named stream when
// streamName is non-empty so Read/Write redirect to the xattr slot
// instead of the file body.
func (a *Adapter) Open(resolvedPath, streamName string) (*File, error) {
	f := &File{Path: resolvedPath, IsStream: streamName != "", StreamName: streamName}
	if f.IsStream {
		return f, nil
	}

	fd, err := os.OpenFile(resolvedPath, os.O_RDWR, 0)
	if err != nil {
		return nil, translateOSError(err)
	}
	f.fd = fd
	return f, nil
}

// Read returns up to count bytes from f at pos. For a stream file this
// is served from its xattr slot; for a normal file it is a pread at
// the caller-supplied offset.
func (a *Adapter) Read(f *File, pos int64, count int) ([]byte, error) {
	if a.locks.conflicts(f.Path, pos, int64(count), false, f) {
		return nil, cifserr.Transient("byte-range lock conflict", nil).With("path", f.Path)
	}

	if f.IsStream {
		data, err := GetXattr(f.Path, StreamPrefix+f.StreamName)
		if err != nil {
			return nil, err
		}
		if pos >= int64(len(data)) {
			return nil, nil
		}
		end := pos + int64(count)
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		return data[pos:end], nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, count)
	n, err := f.fd.ReadAt(buf, pos)
	if err != nil && err != io.EOF {
		return nil, translateOSError(err)
	}
	return buf[:n], nil
}

// Write writes data to f at pos, breaking every level-2 oplock on the
// file beforehand. A stream file's data is stored wholesale in its
// xattr slot; Write replaces the byte range [pos, pos+len(data)) in
// that stored value.
func (a *Adapter) Write(f *File, pos int64, data []byte) (int, error) {
	if a.locks.conflicts(f.Path, pos, int64(len(data)), true, f) {
		return 0, cifserr.Transient("byte-range lock conflict", nil).With("path", f.Path)
	}

	a.breaker.BreakAllLevel2(f.Path)

	if f.IsStream {
		existing, err := GetXattr(f.Path, StreamPrefix+f.StreamName)
		if err != nil && !cifserr.Is(err, cifserr.KindNotFound) {
			return 0, err
		}
		needed := int(pos) + len(data)
		if needed > len(existing) {
			grown := make([]byte, needed)
			copy(grown, existing)
			existing = grown
		}
		copy(existing[pos:], data)
		if err := SetXattr(f.Path, StreamPrefix+f.StreamName, existing); err != nil {
			return 0, err
		}
		return len(data), nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.fd.WriteAt(data, pos)
	if err != nil {
		return n, translateOSError(err)
	}
	return n, nil
}

// Create opens path for data I/O, creating it if absent. exclusive
// rejects an existing file outright (NT_CREATE_ANDX's
// FILE_CREATE/FILE_OVERWRITE disposition split is the caller's job;
// Create only distinguishes "must not already exist" from "create or
// reuse").
func (a *Adapter) Create(resolvedPath string, mode uint32, exclusive bool) (*File, error) {
	flags := os.O_RDWR | os.O_CREATE
	if exclusive {
		flags |= os.O_EXCL
	}
	fd, err := os.OpenFile(resolvedPath, flags, os.FileMode(mode&0o7777))
	if err != nil {
		return nil, translateOSError(err)
	}
	return &File{Path: resolvedPath, fd: fd}, nil
}

// Mkdir creates a directory at resolvedPath.
func (a *Adapter) Mkdir(resolvedPath string, mode uint32) error {
	if err := os.Mkdir(resolvedPath, os.FileMode(mode&0o7777)); err != nil {
		return translateOSError(err)
	}
	return nil
}

// OpenDir opens an existing directory for enumeration.
func (a *Adapter) OpenDir(resolvedPath string) (*File, error) {
	fi, err := os.Stat(resolvedPath)
	if err != nil {
		return nil, translateOSError(err)
	}
	if !fi.IsDir() {
		return nil, cifserr.Protocol("not a directory", nil).With("path", resolvedPath)
	}
	return &File{Path: resolvedPath}, nil
}

// Remove deletes a non-directory file at resolvedPath.
func (a *Adapter) Remove(resolvedPath string) error {
	if err := os.Remove(resolvedPath); err != nil {
		return translateOSError(err)
	}
	return nil
}

// Rmdir deletes an empty directory at resolvedPath.
func (a *Adapter) Rmdir(resolvedPath string) error {
	if err := os.Remove(resolvedPath); err != nil {
		return translateOSError(err)
	}
	return nil
}

// Stat returns the host os.FileInfo for resolvedPath, used wherever a
// handler needs a fresh stat without going through an open handle
// (QUERY_PATH_INFORMATION, CHECKDIR, the durable-reconnect snapshot).
func (a *Adapter) Stat(resolvedPath string) (os.FileInfo, error) {
	fi, err := os.Lstat(resolvedPath)
	if err != nil {
		return nil, translateOSError(err)
	}
	return fi, nil
}

// Attrs is the subset of settable attributes setattr sanitizes before
// applying.
type Attrs struct {
	HasMode      bool
	Mode         uint32
	HasSize      bool
	Size         int64
	HasOwner     bool
	UID          uint32
	GID          uint32
	OwnerChanged bool
}

const (
	modeSuid = 0o4000
	modeSgid = 0o2000

	// noChangeID is the CIFS-Unix-Extensions sentinel meaning "leave this
	// field alone", carried by SMB_SET_FILE_UNIX_BASIC's Uid/Gid/Mode.
	noChangeID = 0xFFFFFFFF
)

// Setattr sanitizes ATTR_MODE (preserving non-permission bits, and
// stripping suid/sgid when the owner or group is changing in the same
// request) and enforces the truncate lock-conflict check before
// applying attrs to path.
func (a *Adapter) Setattr(path string, attrs Attrs) error {
	if attrs.HasSize {
		if a.locks.conflicts(path, attrs.Size, 1<<62, true, nil) {
			return cifserr.Transient("byte-range lock conflict on truncate", nil).With("path", path)
		}
		if err := os.Truncate(path, attrs.Size); err != nil {
			return translateOSError(err)
		}
	}

	if attrs.HasOwner {
		if err := os.Lchown(path, int(attrs.UID), int(attrs.GID)); err != nil {
			return translateOSError(err)
		}
	}

	if attrs.HasMode {
		mode := attrs.Mode
		if attrs.OwnerChanged || attrs.HasOwner {
			mode &^= modeSuid | modeSgid
		}
		if err := os.Chmod(path, os.FileMode(mode&0o7777)); err != nil {
			return translateOSError(err)
		}
	}

	return nil
}

// Symlink creates a symlink at resolvedPath pointing at target, for
// SMB_SET_FILE_UNIX_LINK.
func (a *Adapter) Symlink(target, resolvedPath string) error {
	if err := os.Symlink(target, resolvedPath); err != nil {
		return translateOSError(err)
	}
	return nil
}

// Readlink returns the raw target stored at resolvedPath, for
// SMB_QUERY_FILE_UNIX_LINK.
func (a *Adapter) Readlink(resolvedPath string) (string, error) {
	target, err := os.Readlink(resolvedPath)
	if err != nil {
		return "", translateOSError(err)
	}
	return target, nil
}

// Link creates a hard link at newPath pointing at oldPath, for
// SMB_SET_FILE_UNIX_HLINK.
func (a *Adapter) Link(oldPath, newPath string) error {
	if err := os.Link(oldPath, newPath); err != nil {
		return translateOSError(err)
	}
	return nil
}

// Rename moves oldPath to newPath. Both must resolve under the same
// adapter root (same mount); hasOpenChild reports whether oldPath (a
// directory) currently has any open descendant, in which case the
// rename is refused.
func (a *Adapter) Rename(oldPath, newPath string, hasOpenChild func(string) bool) error {
	if hasOpenChild != nil && hasOpenChild(oldPath) {
		return cifserr.Permission("directory has an open child", nil).With("path", oldPath)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return translateOSError(err)
	}
	return nil
}

// DirFiller packs directory entries into buf, returning the number of
// bytes used; a zero return means end-of-directory.
type DirFiller func(buf []byte) (used int)

const dirPageSize = 64 * 1024

// Readdir refills f.DirBuffer via fill when the caller has consumed
// every previously buffered byte. An empty refill marks end-of-directory
// by leaving DirUsed at zero.
func (a *Adapter) Readdir(f *File, fill DirFiller) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.DirOffset < f.DirUsed {
		return nil
	}

	if f.DirBuffer == nil {
		f.DirBuffer = make([]byte, dirPageSize)
	}
	f.DirUsed = fill(f.DirBuffer)
	f.DirOffset = 0
	return nil
}

// Lock records an advisory byte-range lock for f over
// [start, start+length), failing with Transient if it conflicts with
// an existing lock held by another File.
func (a *Adapter) Lock(f *File, start, length int64, exclusive bool) error {
	if a.locks.conflicts(f.Path, start, length, exclusive, f) {
		return cifserr.Transient("byte-range lock conflict", nil).With("path", f.Path)
	}
	a.locks.Lock(f.Path, start, length, exclusive, f)
	return nil
}

// Unlock releases a previously held lock over [start, start+length).
func (a *Adapter) Unlock(f *File, start, length int64) error {
	if !a.locks.Unlock(f.Path, start, length, f) {
		return cifserr.NotFound("no matching lock range", nil).With("path", f.Path)
	}
	return nil
}

// UnlockAll releases every lock held by f, called on handle close.
func (a *Adapter) UnlockAll(f *File) {
	a.locks.UnlockAll(f)
}

func translateOSError(err error) error {
	if os.IsNotExist(err) {
		return cifserr.NotFound("path does not exist", err)
	}
	if os.IsExist(err) {
		return cifserr.Exists("path already exists", err)
	}
	if os.IsPermission(err) {
		return cifserr.Permission("permission denied", err)
	}
	return cifserr.Resource("filesystem operation failed", err)
}
