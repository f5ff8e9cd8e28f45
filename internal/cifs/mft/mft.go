// Package mft implements the process-wide master-file table: a
// (device, inode)-keyed index of every file currently open by any
// connection, so cross-handle semantics like delete-on-close and share
// mode checks see a single shared record instead of one per open.
package mft

import (
	"sync"
)

// bucketCount is the fixed bucket count the table hashes into.
const bucketCount = 16384

// Key identifies a file by host device and inode, stable across
// renames and independent of path.
type Key struct {
	Device uint64
	Inode  uint64
}

func (k Key) hash() uint32 {
	h := k.Device ^ (k.Inode * 0x9E3779B97F4A7C15)
	h ^= h >> 33
	return uint32(h % bucketCount)
}

// MasterFile is the per-(device,inode) record shared by every File
// handle open on that file.
type MasterFile struct {
	Key Key

	mu             sync.Mutex
	refcount       int
	deleteOnClose  bool
	Opens          []any // back-pointers to the component's own File type

	// Path is the last path this file was opened or renamed through,
	// kept only for logging; correctness never depends on it.
	Path string
}

// SetDeleteOnClose marks master for unlink once its refcount reaches
// zero.
func (m *MasterFile) SetDeleteOnClose(v bool) {
	m.mu.Lock()
	m.deleteOnClose = v
	m.mu.Unlock()
}

// AddOpen appends a File handle to this master's open list.
func (m *MasterFile) AddOpen(handle any) {
	m.mu.Lock()
	m.Opens = append(m.Opens, handle)
	m.mu.Unlock()
}

// RemoveOpen removes a File handle from this master's open list.
func (m *MasterFile) RemoveOpen(handle any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, h := range m.Opens {
		if h == handle {
			m.Opens = append(m.Opens[:i], m.Opens[i+1:]...)
			return
		}
	}
}

type bucket struct {
	mu      sync.Mutex
	entries map[Key]*MasterFile
}

// Table is the process-wide master-file table.
type Table struct {
	buckets [bucketCount]*bucket

	// UnlinkFunc is called synchronously when a master file's refcount
	// drops to zero with DeleteOnClose set. The VFS adapter installs its
	// real unlink here; tests may stub it.
	UnlinkFunc func(Key, string) error
}

// New creates an empty table.
func New() *Table {
	t := &Table{}
	for i := range t.buckets {
		t.buckets[i] = &bucket{entries: make(map[Key]*MasterFile)}
	}
	return t
}

func (t *Table) bucketFor(key Key) *bucket {
	return t.buckets[key.hash()]
}

// LookupOrNil returns the existing MasterFile for key with its
// refcount incremented, or nil if none exists.
func (t *Table) LookupOrNil(key Key) *MasterFile {
	b := t.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.entries[key]
	if !ok {
		return nil
	}
	m.mu.Lock()
	m.refcount++
	m.mu.Unlock()
	return m
}

// Insert publishes a new MasterFile with refcount 1. Callers must have
// already confirmed via LookupOrNil that no entry exists; Insert
// overwrites any existing entry for key (a caller race would indicate a
// bug above this layer, not something this table should paper over).
func (t *Table) Insert(key Key, path string) *MasterFile {
	m := &MasterFile{Key: key, Path: path, refcount: 1}

	b := t.bucketFor(key)
	b.mu.Lock()
	b.entries[key] = m
	b.mu.Unlock()

	return m
}

// Release decrements m's refcount. At zero, it removes m from the
// table and, if DeleteOnClose was set, invokes UnlinkFunc before
// destroying the entry.
func (t *Table) Release(m *MasterFile) error {
	b := t.bucketFor(m.Key)
	b.mu.Lock()
	defer b.mu.Unlock()

	m.mu.Lock()
	m.refcount--
	remaining := m.refcount
	deleteOnClose := m.deleteOnClose
	path := m.Path
	m.mu.Unlock()

	if remaining > 0 {
		return nil
	}

	delete(b.entries, m.Key)

	if deleteOnClose && t.UnlinkFunc != nil {
		return t.UnlinkFunc(m.Key, path)
	}
	return nil
}

// Size returns the number of tracked master files, for metrics.
func (t *Table) Size() int {
	total := 0
	for _, b := range t.buckets {
		b.mu.Lock()
		total += len(b.entries)
		b.mu.Unlock()
	}
	return total
}
