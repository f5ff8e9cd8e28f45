package dispatch

import "github.com/opencifsd/cifsd/internal/cifserr"

// NT_STATUS codes this dispatcher hands back on the wire. [MS-ERREF] 2.3.
const (
	StatusSuccess             uint32 = 0x00000000
	StatusInvalidParameter    uint32 = 0xC000000D
	StatusNoSuchFile          uint32 = 0xC000000F
	StatusEndOfFile           uint32 = 0xC0000011
	StatusAccessDenied        uint32 = 0xC0000022
	StatusObjectNameInvalid   uint32 = 0xC0000033
	StatusObjectNameNotFound  uint32 = 0xC0000034
	StatusObjectNameCollision uint32 = 0xC0000035
	StatusObjectPathNotFound  uint32 = 0xC000003A
	StatusSharingViolation    uint32 = 0xC0000043
	StatusInvalidHandle       uint32 = 0xC0000008
	StatusNotSupported        uint32 = 0xC00000BB
	StatusDirectoryNotEmpty   uint32 = 0xC0000101
	StatusNotADirectory       uint32 = 0xC0000103
	StatusFileIsADirectory    uint32 = 0xC00000BA
	StatusNoMemory            uint32 = 0xC0000017
	StatusTooManyOpenedFiles  uint32 = 0xC000011F
	StatusFileLockConflict    uint32 = 0xC0000054
	StatusCancelled           uint32 = 0xC0000120
	StatusLogonFailure        uint32 = 0xC000006D
	StatusInternalError       uint32 = 0xC00000E5
)

// StatusFromError maps a *cifserr.Error to the NTSTATUS value the wire
// response carries, per the six-kind table. A bare error (one that
// didn't cross an internal/cifs package boundary as *cifserr.Error) is
// a programming mistake upstream; it still degrades to an internal
// error rather than panicking the connection loop.
func StatusFromError(err error) uint32 {
	if err == nil {
		return StatusSuccess
	}

	e, ok := err.(*cifserr.Error)
	if !ok {
		return StatusInternalError
	}

	switch e.Kind {
	case cifserr.KindNotFound:
		return StatusObjectNameNotFound
	case cifserr.KindExists:
		return StatusObjectNameCollision
	case cifserr.KindPermission:
		return StatusAccessDenied
	case cifserr.KindResource:
		return StatusTooManyOpenedFiles
	case cifserr.KindProtocol:
		return StatusInvalidParameter
	case cifserr.KindTransient:
		return StatusFileLockConflict
	default:
		return StatusInternalError
	}
}

// notFoundStatusForCreate refines StatusFromError for NT_CREATE_ANDX and
// OPEN_ANDX, where a missing intermediate directory component reports
// OBJECT_PATH_NOT_FOUND rather than OBJECT_NAME_NOT_FOUND.
func notFoundStatusForCreate(pathNotFound bool) uint32 {
	if pathNotFound {
		return StatusObjectPathNotFound
	}
	return StatusObjectNameNotFound
}
