package secdesc

import "github.com/opencifsd/cifsd/internal/cifserr"

// IDMapOracle is the opaque blocking lookup spec.md §6 describes: a
// local id and its kind go in and a SID comes back, or a SID goes in
// and a local id comes back. The dispatcher never talks to a concrete
// mapping implementation directly.
type IDMapOracle interface {
	// IDToSID resolves a local id to its SID. The dispatcher falls back
	// to the Everyone SID when this fails.
	IDToSID(id uint32, kind IDKind) (*SID, error)

	// SIDToID resolves a SID to a local id. Failure here is non-fatal;
	// callers fall back to mount defaults.
	SIDToID(sid *SID, kind IDKind) (uint32, error)
}

// LocalIDMap is the in-process IDMapOracle using Samba-style RID
// arithmetic against a fixed machine SID: user RID = uid*2+1000, group
// RID = gid*2+1001, guaranteeing UserSID(n) != GroupSID(n) for all n.
type LocalIDMap struct {
	machineAuthority [6]byte
	machineSubAuth   []uint32 // domain sub-authorities, e.g. [21, a, b, c]
}

// NewLocalIDMap builds a LocalIDMap over the S-1-5-21-{a}-{b}-{c}
// machine SID formed from a, b, c.
func NewLocalIDMap(a, b, c uint32) *LocalIDMap {
	return &LocalIDMap{
		machineAuthority: [6]byte{0, 0, 0, 0, 0, 5},
		machineSubAuth:   []uint32{21, a, b, c},
	}
}

const (
	ridUserOffset  = 1000
	ridGroupOffset = 1001
)

// IDToSID implements IDMapOracle.
func (m *LocalIDMap) IDToSID(id uint32, kind IDKind) (*SID, error) {
	var rid uint32
	if kind == KindGroup {
		rid = id*2 + ridGroupOffset
	} else {
		rid = id*2 + ridUserOffset
	}

	sub := append(append([]uint32{}, m.machineSubAuth...), rid)
	return &SID{Revision: 1, IdentifierAuthority: m.machineAuthority, SubAuthorities: sub}, nil
}

// SIDToID implements IDMapOracle.
func (m *LocalIDMap) SIDToID(sid *SID, kind IDKind) (uint32, error) {
	if !m.isMachineSID(sid) {
		return 0, cifserr.NotFound("sid is outside this server's machine domain", nil).With("sid", sid.String())
	}

	rid := sid.SubAuthorities[len(sid.SubAuthorities)-1]
	if kind == KindGroup {
		if rid < ridGroupOffset || (rid-ridGroupOffset)%2 != 0 {
			return 0, cifserr.NotFound("rid is not a group rid", nil).With("sid", sid.String())
		}
		return (rid - ridGroupOffset) / 2, nil
	}
	if rid < ridUserOffset || (rid-ridUserOffset)%2 != 0 {
		return 0, cifserr.NotFound("rid is not a user rid", nil).With("sid", sid.String())
	}
	return (rid - ridUserOffset) / 2, nil
}

func (m *LocalIDMap) isMachineSID(sid *SID) bool {
	if sid.IdentifierAuthority != m.machineAuthority {
		return false
	}
	if len(sid.SubAuthorities) != len(m.machineSubAuth)+1 {
		return false
	}
	for i, v := range m.machineSubAuth {
		if sid.SubAuthorities[i] != v {
			return false
		}
	}
	return true
}
