package secdesc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSID() *SID {
	return &SID{
		Revision:            1,
		IdentifierAuthority: [6]byte{0, 0, 0, 0, 0, 5},
		SubAuthorities:      []uint32{21, 111, 222, 333, 2001},
	}
}

func TestSIDEncodeDecodeRoundTrip(t *testing.T) {
	sid := sampleSID()
	var buf bytes.Buffer
	sid.Encode(&buf)

	got, n, err := DecodeSID(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, buf.Len(), n)
	assert.Equal(t, sid.Revision, got.Revision)
	assert.Equal(t, sid.IdentifierAuthority, got.IdentifierAuthority)
	assert.Equal(t, sid.SubAuthorities, got.SubAuthorities)
}

func TestDecodeSIDRejectsTruncatedBuffer(t *testing.T) {
	sid := sampleSID()
	var buf bytes.Buffer
	sid.Encode(&buf)

	_, _, err := DecodeSID(buf.Bytes()[:buf.Len()-1])
	assert.Error(t, err)
}

func TestSIDStringRoundTrip(t *testing.T) {
	sid := sampleSID()
	s := sid.String()
	assert.Equal(t, "S-1-5-21-111-222-333-2001", s)

	got, err := ParseSIDString(s)
	require.NoError(t, err)
	assert.Equal(t, sid.SubAuthorities, got.SubAuthorities)
}

func TestSIDStringHexAuthority(t *testing.T) {
	sid := &SID{Revision: 1, IdentifierAuthority: [6]byte{0xFF, 0, 0, 0, 0, 0}, SubAuthorities: []uint32{1}}
	s := sid.String()

	got, err := ParseSIDString(s)
	require.NoError(t, err)
	assert.Equal(t, sid.IdentifierAuthority, got.IdentifierAuthority)
}

func TestIDToDescriptorFormat(t *testing.T) {
	assert.Equal(t, "oi:1000", IDToDescriptor(1000, KindUser))
	assert.Equal(t, "gi:1001", IDToDescriptor(1001, KindGroup))
}

func TestSIDToDescriptorDecimalAuthority(t *testing.T) {
	sid := sampleSID()
	got := SIDToDescriptor(sid, KindUser)
	assert.Equal(t, "os:S-1-5-21-111-222-333-2001", got)
}

func TestSIDToDescriptorHexAuthority(t *testing.T) {
	sid := &SID{Revision: 1, IdentifierAuthority: [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, SubAuthorities: []uint32{5}}
	got := SIDToDescriptor(sid, KindGroup)
	assert.Contains(t, got, "gs:S-1-0x")
}

func TestLocalIDMapRoundTrip(t *testing.T) {
	m := NewLocalIDMap(1, 2, 3)

	userSID, err := m.IDToSID(500, KindUser)
	require.NoError(t, err)
	assert.Equal(t, "S-1-5-21-1-2-3-2000", userSID.String())

	gotUID, err := m.SIDToID(userSID, KindUser)
	require.NoError(t, err)
	assert.Equal(t, uint32(500), gotUID)

	groupSID, err := m.IDToSID(500, KindGroup)
	require.NoError(t, err)
	assert.NotEqual(t, userSID.String(), groupSID.String())

	gotGID, err := m.SIDToID(groupSID, KindGroup)
	require.NoError(t, err)
	assert.Equal(t, uint32(500), gotGID)
}

func TestLocalIDMapRejectsForeignSID(t *testing.T) {
	m := NewLocalIDMap(1, 2, 3)
	foreign := &SID{Revision: 1, IdentifierAuthority: [6]byte{0, 0, 0, 0, 0, 5}, SubAuthorities: []uint32{21, 9, 9, 9, 2000}}

	_, err := m.SIDToID(foreign, KindUser)
	assert.Error(t, err)
}

func TestLocalIDMapRejectsWrongKindRID(t *testing.T) {
	m := NewLocalIDMap(1, 2, 3)
	userSID, _ := m.IDToSID(500, KindUser)

	_, err := m.SIDToID(userSID, KindGroup)
	assert.Error(t, err)
}

func TestDACLEncodeFromModeThreeACEs(t *testing.T) {
	owner := sampleSID()
	group := &SID{Revision: 1, IdentifierAuthority: [6]byte{0, 0, 0, 0, 0, 5}, SubAuthorities: []uint32{21, 1, 2, 3, 2001}}
	everyone := &SID{Revision: 1, IdentifierAuthority: [6]byte{0, 0, 0, 0, 0, 1}, SubAuthorities: []uint32{0}}

	dacl := EncodeDACLFromMode(0750, owner, group, everyone)
	require.Len(t, dacl.ACEs, 3)
	for i := range dacl.ACEs {
		assert.Equal(t, AccessAllowedACEType, dacl.ACEs[i].Type)
		assert.NotZero(t, dacl.ACEs[i].AccessMask&SetMinimumRights)
	}
}

func TestDACLEncodeDecodeRoundTrip(t *testing.T) {
	owner := sampleSID()
	group := &SID{Revision: 1, IdentifierAuthority: [6]byte{0, 0, 0, 0, 0, 5}, SubAuthorities: []uint32{21, 1, 2, 3, 2001}}
	everyone := &SID{Revision: 1, IdentifierAuthority: [6]byte{0, 0, 0, 0, 0, 1}, SubAuthorities: []uint32{0}}

	dacl := EncodeDACLFromMode(0750, owner, group, everyone)
	wire := dacl.Encode()

	decoded, err := DecodeDACL(wire)
	require.NoError(t, err)
	require.Len(t, decoded.ACEs, 3)

	mode := DecodeModeFromDACL(decoded, owner, group, everyone, nil)
	assert.Equal(t, uint32(0750), mode)
}

func TestDecodeDACLRejectsOffsetPastDeclaredEnd(t *testing.T) {
	owner := sampleSID()
	group := &SID{Revision: 1, IdentifierAuthority: [6]byte{0, 0, 0, 0, 0, 5}, SubAuthorities: []uint32{21, 1, 2, 3, 2001}}
	everyone := &SID{Revision: 1, IdentifierAuthority: [6]byte{0, 0, 0, 0, 0, 1}, SubAuthorities: []uint32{0}}
	dacl := EncodeDACLFromMode(0750, owner, group, everyone)
	wire := dacl.Encode()

	_, err := DecodeDACL(wire[:len(wire)-4])
	assert.Error(t, err)
}

func TestDecodeModeFromNilDACLIsFullPermission(t *testing.T) {
	mode := DecodeModeFromDACL(nil, nil, nil, nil, nil)
	assert.Equal(t, uint32(0777), mode)
}

func TestDecodeModeFromEmptyDACLIsNoPermission(t *testing.T) {
	mode := DecodeModeFromDACL(&DACL{}, sampleSID(), nil, nil, nil)
	assert.Equal(t, uint32(0), mode)
}

func TestDecodeModeFromDACLDenyBeforeAllow(t *testing.T) {
	owner := sampleSID()
	dacl := &DACL{ACEs: []ACE{
		{Type: AccessAllowedACEType, AccessMask: RightRead | RightWrite | RightExecute, SID: owner},
		{Type: AccessDeniedACEType, AccessMask: RightWrite, SID: owner},
	}}

	mode := DecodeModeFromDACL(dacl, owner, nil, nil, nil)
	assert.Equal(t, uint32(0500), mode)
}

func TestCheckAccessNilDACLGrantsEverything(t *testing.T) {
	err := CheckAccess(nil, Identity{SIDs: []*SID{sampleSID()}}, RightRead|RightWrite)
	assert.NoError(t, err)
}

func TestCheckAccessEmptyDACLDeniesEverything(t *testing.T) {
	err := CheckAccess(&DACL{}, Identity{SIDs: []*SID{sampleSID()}}, RightRead)
	assert.Error(t, err)
}

func TestCheckAccessGrantsMatchingAllowACE(t *testing.T) {
	sid := sampleSID()
	dacl := &DACL{ACEs: []ACE{{Type: AccessAllowedACEType, AccessMask: RightRead | RightWrite, SID: sid}}}

	err := CheckAccess(dacl, Identity{SIDs: []*SID{sid}}, RightRead)
	assert.NoError(t, err)

	err = CheckAccess(dacl, Identity{SIDs: []*SID{sid}}, RightExecute)
	assert.Error(t, err)
}

func TestCheckAccessExplicitDenyWins(t *testing.T) {
	sid := sampleSID()
	dacl := &DACL{ACEs: []ACE{
		{Type: AccessDeniedACEType, AccessMask: RightWrite, SID: sid},
		{Type: AccessAllowedACEType, AccessMask: RightRead | RightWrite, SID: sid},
	}}

	err := CheckAccess(dacl, Identity{SIDs: []*SID{sid}}, RightWrite)
	assert.Error(t, err)
}
