package dispatch

import (
	"github.com/opencifsd/cifsd/internal/cifs/oplock"
	"github.com/opencifsd/cifsd/internal/cifs/wire"
	"github.com/opencifsd/cifsd/internal/cifserr"
)

func init() {
	register(CmdLockingAndX, &command{name: "LOCKING_ANDX", handler: handleLockingAndX, needsUID: true, needsTID: true})
}

// lockingAndXLockType bits. [CIFS] 2.2.4.32.1.
const lockTypeOplockBreakAck = 0x02

// handleLockingAndX implements byte-range lock/unlock and the oplock
// break-acknowledgment path: a client sets LOCK_OPLOCK_RELEASE in
// LockType instead of carrying real lock ranges when it is
// acknowledging a break rather than requesting a lock.
func handleLockingAndX(c *Conn, req *request) (*wire.Body, error) {
	if len(req.body.Words) < 8 {
		return nil, cifserr.Protocol("LOCKING_ANDX word count too short", nil)
	}
	fid := req.body.Words[2]
	lockType := req.body.Words[3]
	numUnlocks := int(req.body.Words[6])
	numLocks := int(req.body.Words[7])

	of, entry, err := c.lookupOpenFile(fid)
	if err != nil {
		return nil, err
	}
	defer c.FIDs.Put(entry)

	if lockType&lockTypeOplockBreakAck != 0 {
		// OplockLevel, the byte the client reports it downgraded to,
		// lives in the low byte of word[4]; only None/II are meaningful
		// acknowledgments (Exclusive/Batch never survive a break).
		level := oplock.LevelNone
		if uint8(req.body.Words[4]) == 1 {
			level = oplock.LevelII
		}
		c.srv.Oplocks.Acknowledge(of.oplockPath, level)
		return &wire.Body{Words: []uint16{CmdAndXNone, 0}, Bytes: nil}, nil
	}

	data := req.body.Bytes
	const rangeSize = 10 // 32-bit lock ranges: PID(2) Offset(4) Length(4)
	off := numUnlocks * rangeSize
	for i := 0; i < numUnlocks && i*rangeSize+rangeSize <= len(data); i++ {
		start, length := decodeLockRange(data[i*rangeSize:])
		_ = of.adapter.Unlock(of.vfsFile, start, length)
	}
	for i := 0; i < numLocks && off+i*rangeSize+rangeSize <= len(data); i++ {
		start, length := decodeLockRange(data[off+i*rangeSize:])
		if err := of.adapter.Lock(of.vfsFile, start, length, true); err != nil {
			return nil, err
		}
	}

	return &wire.Body{Words: []uint16{CmdAndXNone, 0}, Bytes: nil}, nil
}

func decodeLockRange(b []byte) (start, length int64) {
	offset := uint32(b[2]) | uint32(b[3])<<8 | uint32(b[4])<<16 | uint32(b[5])<<24
	length32 := uint32(b[6]) | uint32(b[7])<<8 | uint32(b[8])<<16 | uint32(b[9])<<24
	return int64(offset), int64(length32)
}

