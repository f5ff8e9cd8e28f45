// Package fidtable implements the bitmap-indexed handle table that maps
// a dense 16-bit FID to an owned *File payload. Every open handle for
// every connection lives in one of these tables; the dispatcher creates
// one per connection.
package fidtable

import (
	"sync"
	"time"

	"github.com/opencifsd/cifsd/internal/cifserr"
)

// StartFID is the first allocatable id; 0 is reserved as "invalid" so a
// zero-valued FID field can never be mistaken for a live handle.
const StartFID = 1

// DefaultSize is the initial table capacity.
const DefaultSize = 1024

// MaxSize is the absolute ceiling growth never exceeds.
const MaxSize = 1 << 16

// releaseWaitTimeout bounds how long unbind waits for a payload's
// refcount to drain before treating the stall as a programming error.
const releaseWaitTimeout = 30 * time.Second

// State tags a slot's payload through its teardown lifecycle.
type State int

const (
	StateNew State = iota
	StateReady
	StateFreeing
)

// Entry is what a table slot holds. Callers store their own handle
// value (internal/cifs/dispatch's open-file struct) in Payload so the
// table can manage State/refcount without knowing the payload's shape.
type Entry struct {
	mu       sync.Mutex
	state    State
	refcount int
	drained  chan struct{}

	Payload any
}

// NewEntry wraps payload for insertion into a Table.
func NewEntry(payload any) *Entry {
	return &Entry{state: StateNew, Payload: payload, drained: make(chan struct{})}
}

func (e *Entry) acquire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateFreeing {
		return false
	}
	e.refcount++
	return true
}

func (e *Entry) release() {
	e.mu.Lock()
	e.refcount--
	n := e.refcount
	draining := e.state == StateFreeing
	e.mu.Unlock()
	if draining && n == 0 {
		close(e.drained)
	}
}

// markFreeing transitions the entry to FREEING and returns its current
// refcount; the caller must wait on waitDrained() if it is nonzero.
func (e *Entry) markFreeing() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateFreeing
	if e.refcount == 0 {
		close(e.drained)
	}
	return e.refcount
}

func (e *Entry) waitDrained(timeout time.Duration) error {
	select {
	case <-e.drained:
		return nil
	case <-time.After(timeout):
		return cifserr.Resource("fid table entry did not drain before timeout", nil)
	}
}

// Table is a bitmap-indexed dense-id allocation table. All operations
// serialize on a single guard; callers needing higher throughput should
// shard across multiple connections, not within one.
type Table struct {
	mu       sync.Mutex
	bitmap   []byte
	slots    []*Entry
	startPos int
	maxFids  int
}

// New creates a table with the default initial capacity.
func New() *Table {
	return &Table{
		bitmap:   make([]byte, DefaultSize/8),
		slots:    make([]*Entry, DefaultSize),
		startPos: StartFID,
		maxFids:  DefaultSize,
	}
}

func (t *Table) bitSet(id int) bool {
	return t.bitmap[id/8]&(1<<uint(id%8)) != 0
}

func (t *Table) bitMark(id int) {
	t.bitmap[id/8] |= 1 << uint(id%8)
}

func (t *Table) bitClear(id int) {
	t.bitmap[id/8] &^= 1 << uint(id%8)
}

// grow doubles capacity, rounded up to MaxSize, or returns false if
// already at the ceiling.
func (t *Table) grow() bool {
	if t.maxFids >= MaxSize {
		return false
	}
	newSize := t.maxFids * 2
	if newSize > MaxSize {
		newSize = MaxSize
	}

	newBitmap := make([]byte, newSize/8)
	copy(newBitmap, t.bitmap)
	newSlots := make([]*Entry, newSize)
	copy(newSlots, t.slots)

	t.bitmap = newBitmap
	t.slots = newSlots
	t.maxFids = newSize
	return true
}

// Allocate reserves the first free id at or after the hint, growing the
// table if necessary, and returns it. The slot is empty until Bind is
// called.
func (t *Table) Allocate() (uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		for id := t.startPos; id < t.maxFids; id++ {
			if !t.bitSet(id) {
				t.bitMark(id)
				t.startPos = id + 1
				return uint16(id), nil
			}
		}
		if !t.grow() {
			return 0, cifserr.Resource("fid table exhausted", nil)
		}
	}
}

// Bind publishes payload under id. id must have come from Allocate and
// must not already hold a payload.
func (t *Table) Bind(id uint16, entry *Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := int(id)
	if i < StartFID || i >= t.maxFids {
		return cifserr.Protocol("fid out of range", nil).With("fid", id)
	}
	if t.slots[i] != nil {
		return cifserr.Protocol("fid already bound", nil).With("fid", id)
	}
	entry.state = StateReady
	t.slots[i] = entry
	return nil
}

// Lookup returns the entry bound to id with its refcount incremented,
// or nil if id is out of range, unbound, or FREEING. Callers must call
// Put when done.
func (t *Table) Lookup(id uint16) *Entry {
	t.mu.Lock()
	i := int(id)
	if i < StartFID || i >= t.maxFids {
		t.mu.Unlock()
		return nil
	}
	entry := t.slots[i]
	t.mu.Unlock()

	if entry == nil || !entry.acquire() {
		return nil
	}
	return entry
}

// Put releases a reference obtained from Lookup.
func (t *Table) Put(entry *Entry) {
	entry.release()
}

// Release clears the allocation bit for id, without touching any bound
// payload. Used to give back an id allocated but never bound (e.g. the
// open failed before Bind).
func (t *Table) Release(id uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := int(id)
	if i < StartFID || i >= t.maxFids || !t.bitSet(i) {
		return
	}
	t.bitClear(i)
	if i < t.startPos {
		t.startPos = i
	}
}

// Unbind detaches id's payload, waits for in-flight Lookup holders to
// drain, and clears the allocation bit. It returns the payload for the
// caller to close.
func (t *Table) Unbind(id uint16) (any, error) {
	t.mu.Lock()
	i := int(id)
	if i < StartFID || i >= t.maxFids {
		t.mu.Unlock()
		return nil, cifserr.NotFound("fid not found", nil).With("fid", id)
	}
	entry := t.slots[i]
	if entry == nil {
		t.mu.Unlock()
		return nil, cifserr.NotFound("fid not found", nil).With("fid", id)
	}
	t.slots[i] = nil
	t.mu.Unlock()

	if n := entry.markFreeing(); n > 0 {
		if err := entry.waitDrained(releaseWaitTimeout); err != nil {
			return nil, err
		}
	}

	t.Release(id)
	return entry.Payload, nil
}
