// Package durable implements the persistent-handle table: a global
// index parallel to the FID table (internal/cifs/fidtable) keyed by a
// 64-bit persistent id instead of a 16-bit volatile one. Entries survive
// the FID table teardown that follows a client disconnect and are
// validated against a fresh stat on reconnect.
package durable

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/opencifsd/cifsd/internal/cifserr"
)

const keyPrefix = "d:"

func key(id uint64) []byte {
	b := make([]byte, len(keyPrefix)+8)
	copy(b, keyPrefix)
	binary.BigEndian.PutUint64(b[len(keyPrefix):], id)
	return b
}

// StatSnapshot is the subset of a file's stat this package compares
// across a disconnect/reconnect cycle. Any field mismatch invalidates
// the durable record.
type StatSnapshot struct {
	Inode  uint64 `json:"inode"`
	Device uint64 `json:"device"`
	UID    uint32 `json:"uid"`
	GID    uint32 `json:"gid"`
	Mode   uint32 `json:"mode"`
	Size   int64  `json:"size"`
	Mtime  int64  `json:"mtime"`
	Ctime  int64  `json:"ctime"`
	Atime  int64  `json:"atime"`
	Blocks int64  `json:"blocks"`
}

// Equal reports whether two snapshots match in every field the
// reconnect-validation rule considers.
func (s StatSnapshot) Equal(o StatSnapshot) bool {
	return s == o
}

// record is the value stored under a persistent id.
type record struct {
	Path       string       `json:"path"`
	ShareName  string       `json:"share"`
	Stat       StatSnapshot `json:"stat"`
	SessionUID uint16       `json:"session_uid"`
	OpenedAt   time.Time    `json:"opened_at"`
}

func encodeRecord(r *record) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode durable record: %w", err)
	}
	return b, nil
}

func decodeRecord(b []byte) (*record, error) {
	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode durable record: %w", err)
	}
	return &r, nil
}

// Handle is the caller-facing view of a durable entry: enough to
// reopen the underlying file and to re-bind it into a fresh FID table
// slot after reconnect validation succeeds.
type Handle struct {
	ID        uint64
	Path      string
	ShareName string
	Stat      StatSnapshot
}

// Table is the badger-backed durable handle index. One instance is
// shared process-wide; unlike the per-session fidtable.Table, it
// outlives any single connection.
type Table struct {
	db       *badger.DB
	nextID   uint64
	entryTTL time.Duration
}

// Open opens (or creates) a durable handle table backed by a badger
// database rooted at dir. Per-process lifetime scoping, as opposed to
// cross-restart persistence, is the caller's responsibility: a clean
// start removes dir before calling Open, a resumed process does not.
func Open(dir string) (*Table, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, cifserr.Resource("failed to open durable handle store", err).With("dir", dir)
	}
	return &Table{db: db, entryTTL: 2 * time.Minute}, nil
}

// Close releases the underlying database.
func (t *Table) Close() error {
	return t.db.Close()
}

// SetEntryTTL overrides the default bounded-persistence window a
// durable record survives for after its owning connection drops.
func (t *Table) SetEntryTTL(d time.Duration) {
	t.entryTTL = d
}

// Allocate reserves a fresh persistent id and stores its record,
// keyed with a bounded TTL so an abandoned durable-open does not
// linger forever if the client never reconnects.
func (t *Table) Allocate(path, shareName string, stat StatSnapshot, sessionUID uint16) (uint64, error) {
	id := atomic.AddUint64(&t.nextID, 1)

	r := &record{
		Path:       path,
		ShareName:  shareName,
		Stat:       stat,
		SessionUID: sessionUID,
		OpenedAt:   time.Now(),
	}
	data, err := encodeRecord(r)
	if err != nil {
		return 0, cifserr.Protocol("failed to encode durable record", err)
	}

	err = t.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key(id), data).WithTTL(t.entryTTL)
		return txn.SetEntry(e)
	})
	if err != nil {
		return 0, cifserr.Resource("failed to persist durable record", err).With("persistent_id", id)
	}
	return id, nil
}

// Touch refreshes a durable record's TTL, called whenever its owning
// connection is alive and well (not disconnected) so the bounded
// window only starts counting down after teardown.
func (t *Table) Touch(id uint64) error {
	return t.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err == badger.ErrKeyNotFound {
			return cifserr.NotFound("durable record not found", nil).With("persistent_id", id)
		}
		if err != nil {
			return cifserr.Resource("failed to read durable record", err)
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return cifserr.Resource("failed to read durable record value", err)
		}
		e := badger.NewEntry(key(id), data).WithTTL(t.entryTTL)
		return txn.SetEntry(e)
	})
}

// Reconnect looks up the durable record for id and validates its stat
// snapshot against current. On any mismatch the record is destroyed
// and NOT_FOUND is returned, matching the policy that a stale durable
// handle does not get silently reattached to different file content.
func (t *Table) Reconnect(id uint64, current StatSnapshot) (*Handle, error) {
	var h *Handle
	var mismatch error

	err := t.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err == badger.ErrKeyNotFound {
			return cifserr.NotFound("durable record not found", nil).With("persistent_id", id)
		}
		if err != nil {
			return cifserr.Resource("failed to read durable record", err)
		}

		data, err := item.ValueCopy(nil)
		if err != nil {
			return cifserr.Resource("failed to read durable record value", err)
		}
		r, err := decodeRecord(data)
		if err != nil {
			return cifserr.Protocol("failed to decode durable record", err)
		}

		if !r.Stat.Equal(current) {
			mismatch = cifserr.NotFound("durable record stat mismatch on reconnect", nil).
				With("persistent_id", id).
				With("expected", r.Stat).
				With("actual", current)
			return txn.Delete(key(id))
		}

		h = &Handle{ID: id, Path: r.Path, ShareName: r.ShareName, Stat: r.Stat}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if mismatch != nil {
		return nil, mismatch
	}
	return h, nil
}

// Release deletes the durable record for id outright, used on a
// normal CLOSE of a durable handle (as opposed to a disconnect, which
// leaves the record to expire via TTL or be consumed by Reconnect).
func (t *Table) Release(id uint64) error {
	err := t.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(key(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		return cifserr.Resource("failed to release durable record", err).With("persistent_id", id)
	}
	return nil
}
