// Package secdesc implements the SID<->local-id mapping and the
// DACL<->POSIX-mode codec that together form an SMB1 security
// descriptor.
package secdesc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/opencifsd/cifsd/internal/cifserr"
)

// SID is a Windows Security Identifier per MS-DTYP 2.4.2: Revision(1) +
// SubAuthorityCount(1) + IdentifierAuthority(6, big-endian) +
// SubAuthorities(4*N, little-endian).
type SID struct {
	Revision            uint8
	IdentifierAuthority [6]byte
	SubAuthorities      []uint32
}

// Size returns the binary size of the SID in bytes.
func (s *SID) Size() int {
	return 8 + 4*len(s.SubAuthorities)
}

// Encode writes the binary SID to buf.
func (s *SID) Encode(buf *bytes.Buffer) {
	buf.WriteByte(s.Revision)
	buf.WriteByte(uint8(len(s.SubAuthorities)))
	buf.Write(s.IdentifierAuthority[:])
	for _, sa := range s.SubAuthorities {
		_ = binary.Write(buf, binary.LittleEndian, sa)
	}
}

// DecodeSID parses a binary SID from data, validating every field
// against the declared length before reading it, and returns the
// number of bytes consumed.
func DecodeSID(data []byte) (*SID, int, error) {
	if len(data) < 8 {
		return nil, 0, cifserr.Protocol("sid shorter than fixed header", nil)
	}
	count := int(data[1])
	size := 8 + 4*count
	if len(data) < size {
		return nil, 0, cifserr.Protocol("sid sub-authority count exceeds buffer", nil).With("count", count)
	}

	sid := &SID{Revision: data[0], SubAuthorities: make([]uint32, count)}
	copy(sid.IdentifierAuthority[:], data[2:8])
	for i := 0; i < count; i++ {
		off := 8 + i*4
		sid.SubAuthorities[i] = binary.LittleEndian.Uint32(data[off : off+4])
	}
	return sid, size, nil
}

// String renders the SID as "S-{rev}-{authority}-{sub...}".
func (s *SID) String() string {
	authority := uint64(0)
	for _, b := range s.IdentifierAuthority {
		authority = authority<<8 | uint64(b)
	}

	parts := make([]string, 0, len(s.SubAuthorities)+2)
	parts = append(parts, "S", strconv.FormatUint(uint64(s.Revision), 10), strconv.FormatUint(authority, 10))
	for _, sa := range s.SubAuthorities {
		parts = append(parts, strconv.FormatUint(uint64(sa), 10))
	}
	return strings.Join(parts, "-")
}

// ParseSIDString parses "S-{rev}-{authority}-{sub...}" into a SID.
func ParseSIDString(s string) (*SID, error) {
	parts := strings.Split(s, "-")
	if len(parts) < 3 || parts[0] != "S" {
		return nil, cifserr.Protocol("malformed sid string", nil).With("sid", s)
	}

	revision, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return nil, cifserr.Protocol("malformed sid revision", err).With("sid", s)
	}

	var authority uint64
	if strings.HasPrefix(parts[2], "0x") {
		authority, err = strconv.ParseUint(parts[2][2:], 16, 48)
	} else {
		authority, err = strconv.ParseUint(parts[2], 10, 48)
	}
	if err != nil {
		return nil, cifserr.Protocol("malformed sid authority", err).With("sid", s)
	}

	sid := &SID{Revision: uint8(revision)}
	for i := 5; i >= 0; i-- {
		sid.IdentifierAuthority[i] = byte(authority)
		authority >>= 8
	}

	for _, p := range parts[3:] {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, cifserr.Protocol("malformed sid sub-authority", err).With("sid", s)
		}
		sid.SubAuthorities = append(sid.SubAuthorities, uint32(v))
	}
	return sid, nil
}

// IDKind distinguishes a uid from a gid for the idmap oracle's
// descriptor-string encoding.
type IDKind int

const (
	KindUser IDKind = iota
	KindGroup
)

func (k IDKind) letter() string {
	if k == KindGroup {
		return "g"
	}
	return "o"
}

// IDToDescriptor renders the "<o|g>i:<decimal-id>" descriptor string
// id_to_sid presents to the idmap oracle.
func IDToDescriptor(id uint32, kind IDKind) string {
	return fmt.Sprintf("%si:%d", kind.letter(), id)
}

// SIDToDescriptor renders the "<o|g>s:S-<rev>-<authority>-<sub...>"
// descriptor string sid_to_id presents to the idmap oracle. Authority
// is rendered decimal when it fits in 32 bits, hex otherwise.
func SIDToDescriptor(sid *SID, kind IDKind) string {
	authority := uint64(0)
	for _, b := range sid.IdentifierAuthority {
		authority = authority<<8 | uint64(b)
	}

	authorityStr := strconv.FormatUint(authority, 10)
	if authority > 1<<32-1 {
		authorityStr = "0x" + strconv.FormatUint(authority, 16)
	}

	parts := make([]string, 0, len(sid.SubAuthorities)+2)
	parts = append(parts, strconv.FormatUint(uint64(sid.Revision), 10), authorityStr)
	for _, sa := range sid.SubAuthorities {
		parts = append(parts, strconv.FormatUint(uint64(sa), 10))
	}
	return fmt.Sprintf("%ss:S-%s", kind.letter(), strings.Join(parts, "-"))
}
