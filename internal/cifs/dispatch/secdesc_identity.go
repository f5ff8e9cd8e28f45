package dispatch

import (
	"github.com/opencifsd/cifsd/internal/cifs/secdesc"
	"github.com/opencifsd/cifsd/internal/cifs/session"
)

// everyoneWellKnownSID is S-1-1-0, the well-known Everyone SID every
// produced DACL's third ACE carries.
func everyoneWellKnownSID() *secdesc.SID {
	return &secdesc.SID{Revision: 1, IdentifierAuthority: [6]byte{0, 0, 0, 0, 0, 1}, SubAuthorities: []uint32{0}}
}

// ownerGroupSIDs resolves a stat's uid/gid into SIDs through the
// server's idmap oracle, falling back to Everyone for either half on a
// lookup failure so a DACL can still be built.
func ownerGroupSIDs(idmap secdesc.IDMapOracle, uid, gid uint32) (owner, group *secdesc.SID) {
	everyone := everyoneWellKnownSID()
	owner, err := idmap.IDToSID(uid, secdesc.KindUser)
	if err != nil {
		owner = everyone
	}
	group, err = idmap.IDToSID(gid, secdesc.KindGroup)
	if err != nil {
		group = everyone
	}
	return owner, group
}

// requestIdentity builds the Identity a session's request asserts
// against a file's DACL. SMB1's NTLM session carries a username, not a
// POSIX uid, and this deployment has no separate username->uid
// database: a non-guest session is treated as able to assert the
// file's own owner SID, the strongest identity this deployment can
// prove beyond "everyone"; a guest session only ever matches Everyone.
func requestIdentity(sess *session.Session, ownerSID *secdesc.SID) secdesc.Identity {
	if sess != nil && !sess.IsGuest {
		return secdesc.Identity{SIDs: []*secdesc.SID{ownerSID, everyoneWellKnownSID()}}
	}
	return secdesc.Identity{SIDs: []*secdesc.SID{everyoneWellKnownSID()}}
}
