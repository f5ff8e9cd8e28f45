package secdesc

import "github.com/opencifsd/cifsd/internal/cifserr"

// Identity is the set of SIDs a requesting principal matches: their
// own user SID plus whichever well-known SIDs apply (their primary
// group, Everyone, Authenticated Users). CheckAccess grants the union
// of rights any matching ACE confers.
type Identity struct {
	SIDs []*SID
}

// CheckAccess walks dacl in wire order and reports whether requested
// (a subset of RightRead|RightWrite|RightExecute) is granted to
// identity. A nil dacl (absent DACL) grants everything; an empty,
// non-nil dacl denies everything.
//
// rc starts initialized to a Permission error so there is no
// uninitialized-success path if the loop body is never reached with a
// matching ACE; this mirrors the source routine's ACCESS_ALLOWED
// branch bug, fixed by explicit initialization rather than reproduced.
func CheckAccess(dacl *DACL, identity Identity, requested uint32) error {
	if dacl == nil {
		return nil
	}

	rc := cifserr.Permission("access denied: no matching allow ace", nil)
	granted := uint32(0)
	denied := uint32(0)

	for i := range dacl.ACEs {
		ace := &dacl.ACEs[i]
		if !aceMatchesIdentity(ace, identity) {
			continue
		}

		switch ace.Type {
		case AccessDeniedACEType:
			denied |= ace.AccessMask
		case AccessAllowedACEType:
			granted |= ace.AccessMask
		}
	}

	if requested&denied != 0 {
		return cifserr.Permission("access denied by explicit deny ace", nil).With("requested", requested).With("denied", denied)
	}
	if requested&^granted != 0 {
		return rc.With("requested", requested).With("granted", granted)
	}
	return nil
}

func aceMatchesIdentity(ace *ACE, identity Identity) bool {
	for _, sid := range identity.SIDs {
		if sidEqual(ace.SID, sid) {
			return true
		}
	}
	return false
}
