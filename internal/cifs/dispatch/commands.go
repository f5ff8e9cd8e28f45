package dispatch

import "github.com/opencifsd/cifsd/internal/cifs/wire"

// SMB1 command codes this dispatcher recognizes. [CIFS] 2.2.2.1.
const (
	CmdCreateDirectory   uint8 = 0x00
	CmdDeleteDirectory   uint8 = 0x01
	CmdClose             uint8 = 0x04
	CmdFlush             uint8 = 0x05
	CmdDelete            uint8 = 0x06
	CmdRename            uint8 = 0x07
	CmdQueryInformation  uint8 = 0x08
	CmdSetInformation    uint8 = 0x09
	CmdCheckDirectory    uint8 = 0x10
	CmdOpenAndX          uint8 = 0x2D
	CmdReadAndX          uint8 = 0x2E
	CmdWriteAndX         uint8 = 0x2F
	CmdTransaction       uint8 = 0x25
	CmdTransaction2      uint8 = 0x32
	CmdFindClose2        uint8 = 0x34
	CmdNTTransact        uint8 = 0xA0
	CmdNTCreateAndX      uint8 = 0xA2
	CmdNTCancel          uint8 = 0xA4
	CmdNTRename          uint8 = 0xA5
	CmdLockingAndX       uint8 = 0x24
	CmdTreeConnectAndX   uint8 = 0x75
	CmdNegotiate         uint8 = 0x72
	CmdSessionSetupAndX  uint8 = 0x73
	CmdLogoffAndX        uint8 = 0x74
	CmdTreeDisconnect    uint8 = 0x71
	CmdEcho              uint8 = 0x2B
	CmdProcessExit       uint8 = 0x11
	CmdAndXNone          uint8 = 0xFF
)

// TRANSACTION2 subcommand codes, carried in the first setup word.
// [CIFS] 2.2.6.
const (
	Trans2FindFirst2          uint16 = 0x0001
	Trans2FindNext2           uint16 = 0x0002
	Trans2QueryFSInformation  uint16 = 0x0003
	Trans2SetFSInformation    uint16 = 0x0004
	Trans2QueryPathInfo       uint16 = 0x0005
	Trans2SetPathInfo         uint16 = 0x0006
	Trans2QueryFileInfo       uint16 = 0x0007
	Trans2SetFileInfo         uint16 = 0x0008
	Trans2CreateDirectory     uint16 = 0x000D
	Trans2GetDFSReferral      uint16 = 0x0010
)

// commandName is used only for logging/metrics labels.
func commandName(cmd uint8) string {
	switch cmd {
	case CmdCreateDirectory:
		return "MKDIR"
	case CmdDeleteDirectory:
		return "RMDIR"
	case CmdClose:
		return "CLOSE"
	case CmdFlush:
		return "FLUSH"
	case CmdDelete:
		return "UNLINK"
	case CmdRename:
		return "RENAME"
	case CmdQueryInformation:
		return "QUERY_INFORMATION"
	case CmdSetInformation:
		return "SETATTR"
	case CmdCheckDirectory:
		return "CHECKDIR"
	case CmdOpenAndX:
		return "OPEN_ANDX"
	case CmdReadAndX:
		return "READ_ANDX"
	case CmdWriteAndX:
		return "WRITE_ANDX"
	case CmdTransaction:
		return "TRANSACTION"
	case CmdTransaction2:
		return "TRANSACTION2"
	case CmdFindClose2:
		return "FIND_CLOSE2"
	case CmdNTTransact:
		return "NT_TRANSACT"
	case CmdNTCreateAndX:
		return "NT_CREATE_ANDX"
	case CmdNTCancel:
		return "NT_CANCEL"
	case CmdNTRename:
		return "NT_RENAME"
	case CmdLockingAndX:
		return "LOCKING_ANDX"
	case CmdTreeConnectAndX:
		return "TREE_CONNECT_ANDX"
	case CmdNegotiate:
		return "NEGOTIATE"
	case CmdSessionSetupAndX:
		return "SESSION_SETUP_ANDX"
	case CmdLogoffAndX:
		return "LOGOFF_ANDX"
	case CmdTreeDisconnect:
		return "TREE_DISCONNECT"
	case CmdEcho:
		return "ECHO"
	case CmdProcessExit:
		return "PROCESS_EXIT"
	default:
		return "UNKNOWN"
	}
}

// handlerFunc processes one command within an AndX chain and returns
// the response body to splice into the chain, or an error mapped to an
// NTSTATUS by StatusFromError.
//
// A command's needsUID/needsTID fields gate whether the dispatcher
// rejects the request before the handler runs, mirroring the
// per-command session/tree requirements of the lifecycle.
type handlerFunc func(c *Conn, req *request) (*wire.Body, error)

// command describes one SMB1 command's dispatch requirements.
type command struct {
	name        string
	handler     handlerFunc
	needsUID    bool
	needsTID    bool
}

// dispatchTable is populated by register calls in each command's own
// file's init(), following the teacher's one-table-one-init-per-file
// convention rather than a single monolithic switch.
var dispatchTable = make(map[uint8]*command)

func register(cmd uint8, c *command) {
	dispatchTable[cmd] = c
}
