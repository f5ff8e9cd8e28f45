package secdesc

import (
	"bytes"
	"encoding/binary"

	"github.com/opencifsd/cifsd/internal/cifserr"
)

// ACE types per MS-DTYP 2.4.4.1.
const (
	AccessAllowedACEType uint8 = 0x00
	AccessDeniedACEType  uint8 = 0x01
)

// Wire access-mask right bits this codec understands. These are a
// deliberate subset of the full NT access mask: the three rwx-shaped
// bits a POSIX mode can express, plus the fixed minimum every produced
// ACE carries regardless of mode.
const (
	RightRead    uint32 = 0x00000001 << 0 // FILE_READ_DATA / FILE_LIST_DIRECTORY
	RightWrite   uint32 = 0x00000001 << 1 // FILE_WRITE_DATA / FILE_ADD_FILE
	RightExecute uint32 = 0x00000001 << 5 // FILE_EXECUTE / FILE_TRAVERSE

	// SetMinimumRights is OR'd into every produced ACE's mask regardless
	// of the POSIX mode bit: READ_CONTROL and SYNCHRONIZE, the minimum
	// a Windows client expects to be able to do on any object it can
	// see at all.
	SetMinimumRights uint32 = 0x00020000 | 0x00100000
)

const (
	modeRead    = 0x4
	modeWrite   = 0x2
	modeExecute = 0x1
)

// ACE is a single DACL entry: an access-allowed or access-denied ACE
// carrying a SID, per MS-DTYP 2.4.4/2.4.5. AceFlags is preserved
// byte-for-byte across decode/encode but never inspected by the mode
// codec.
type ACE struct {
	Type       uint8
	Flags      uint8
	AccessMask uint32
	SID        *SID
}

// size returns the wire size of the ACE: 1+1+2+4 header plus the SID.
func (a *ACE) size() int {
	return 8 + a.SID.Size()
}

func (a *ACE) encode(buf *bytes.Buffer) {
	buf.WriteByte(a.Type)
	buf.WriteByte(a.Flags)
	var sizeBuf [2]byte
	binary.LittleEndian.PutUint16(sizeBuf[:], uint16(a.size()))
	buf.Write(sizeBuf[:])
	var maskBuf [4]byte
	binary.LittleEndian.PutUint32(maskBuf[:], a.AccessMask)
	buf.Write(maskBuf[:])
	a.SID.Encode(buf)
}

// decodeACE parses a single ACE from data, validating its declared
// size against the buffer before touching any SID bytes, and returns
// the number of bytes consumed.
func decodeACE(data []byte) (*ACE, int, error) {
	if len(data) < 8 {
		return nil, 0, cifserr.Protocol("ace shorter than fixed header", nil)
	}
	aceSize := int(binary.LittleEndian.Uint16(data[2:4]))
	if aceSize < 8 || len(data) < aceSize {
		return nil, 0, cifserr.Protocol("ace size exceeds buffer", nil).With("size", aceSize)
	}

	sid, sidLen, err := DecodeSID(data[8:aceSize])
	if err != nil {
		return nil, 0, err
	}
	if 8+sidLen > aceSize {
		return nil, 0, cifserr.Protocol("ace sid overruns declared ace size", nil)
	}

	return &ACE{
		Type:       data[0],
		Flags:      data[1],
		AccessMask: binary.LittleEndian.Uint32(data[4:8]),
		SID:        sid,
	}, aceSize, nil
}

// DACL is a discretionary access control list: an ordered sequence of
// ACEs evaluated deny-before-allow in wire order.
type DACL struct {
	ACEs []ACE
}

const daclHeaderSize = 8

// Encode serializes the DACL: a fixed ACL header (revision, size,
// count) followed by each ACE in order.
func (d *DACL) Encode() []byte {
	var body bytes.Buffer
	for i := range d.ACEs {
		d.ACEs[i].encode(&body)
	}

	var buf bytes.Buffer
	buf.WriteByte(2) // ACL revision
	buf.WriteByte(0) // padding
	var sizeBuf [2]byte
	binary.LittleEndian.PutUint16(sizeBuf[:], uint16(daclHeaderSize+body.Len()))
	buf.Write(sizeBuf[:])
	var countBuf [2]byte
	binary.LittleEndian.PutUint16(countBuf[:], uint16(len(d.ACEs)))
	buf.Write(countBuf[:])
	buf.Write([]byte{0, 0}) // padding
	buf.Write(body.Bytes())
	return buf.Bytes()
}

// DecodeDACL parses a DACL, validating every ACE's declared offset
// against the header's declared ACL size before reading it.
func DecodeDACL(data []byte) (*DACL, error) {
	if len(data) < daclHeaderSize {
		return nil, cifserr.Protocol("dacl shorter than fixed header", nil)
	}
	aclSize := int(binary.LittleEndian.Uint16(data[2:4]))
	count := int(binary.LittleEndian.Uint16(data[4:6]))
	if aclSize < daclHeaderSize || len(data) < aclSize {
		return nil, cifserr.Protocol("dacl size exceeds buffer", nil).With("size", aclSize)
	}

	aces := make([]ACE, 0, count)
	offset := daclHeaderSize
	for i := 0; i < count; i++ {
		if offset >= aclSize {
			return nil, cifserr.Protocol("dacl ace count exceeds declared acl end", nil).With("index", i)
		}
		ace, n, err := decodeACE(data[offset:aclSize])
		if err != nil {
			return nil, err
		}
		aces = append(aces, *ace)
		offset += n
	}
	return &DACL{ACEs: aces}, nil
}

// EncodeDACLFromMode produces exactly three ALLOWED ACEs, for owner,
// group, and everyone, with access masks derived from the
// corresponding 3-bit slice of a POSIX mode. Every ACE carries at
// least SetMinimumRights regardless of the mode bits.
func EncodeDACLFromMode(mode uint32, ownerSID, groupSID, everyoneSID *SID) *DACL {
	return &DACL{ACEs: []ACE{
		{Type: AccessAllowedACEType, AccessMask: rwxToMask((mode>>6)&0x7) | SetMinimumRights, SID: ownerSID},
		{Type: AccessAllowedACEType, AccessMask: rwxToMask((mode>>3)&0x7) | SetMinimumRights, SID: groupSID},
		{Type: AccessAllowedACEType, AccessMask: rwxToMask(mode&0x7) | SetMinimumRights, SID: everyoneSID},
	}}
}

// DecodeModeFromDACL derives a 9-bit POSIX mode from a DACL by
// processing its ACEs in wire order: DENY ACEs mask off bits from the
// matching triplet, ALLOW ACEs set them. A nil DACL (absent DACL)
// yields full permission (0777); an empty DACL (0 ACEs, non-nil) yields
// no permission (0).
func DecodeModeFromDACL(d *DACL, ownerSID, groupSID, everyoneSID *SID, authenticatedUsersSID *SID) uint32 {
	if d == nil {
		return 0777
	}

	var ownerBits, groupBits, otherBits uint32
	for i := range d.ACEs {
		ace := &d.ACEs[i]
		rwx := maskToRWX(ace.AccessMask)

		var target *uint32
		switch {
		case sidEqual(ace.SID, ownerSID):
			target = &ownerBits
		case sidEqual(ace.SID, groupSID):
			target = &groupBits
		case sidEqual(ace.SID, everyoneSID), authenticatedUsersSID != nil && sidEqual(ace.SID, authenticatedUsersSID):
			target = &otherBits
		default:
			continue
		}

		switch ace.Type {
		case AccessDeniedACEType:
			*target &^= rwx
		case AccessAllowedACEType:
			*target |= rwx
		}
	}

	return (ownerBits << 6) | (groupBits << 3) | otherBits
}

func sidEqual(a, b *SID) bool {
	if a == nil || b == nil {
		return false
	}
	if a.Revision != b.Revision || a.IdentifierAuthority != b.IdentifierAuthority {
		return false
	}
	if len(a.SubAuthorities) != len(b.SubAuthorities) {
		return false
	}
	for i := range a.SubAuthorities {
		if a.SubAuthorities[i] != b.SubAuthorities[i] {
			return false
		}
	}
	return true
}

func maskToRWX(mask uint32) uint32 {
	var rwx uint32
	if mask&RightRead != 0 {
		rwx |= modeRead
	}
	if mask&RightWrite != 0 {
		rwx |= modeWrite
	}
	if mask&RightExecute != 0 {
		rwx |= modeExecute
	}
	return rwx
}

func rwxToMask(rwx uint32) uint32 {
	var mask uint32
	if rwx&modeRead != 0 {
		mask |= RightRead
	}
	if rwx&modeWrite != 0 {
		mask |= RightWrite
	}
	if rwx&modeExecute != 0 {
		mask |= RightExecute
	}
	return mask
}
