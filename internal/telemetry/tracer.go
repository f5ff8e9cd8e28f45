package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for span annotations. These follow OpenTelemetry semantic
// convention naming where applicable; SMB1-specific keys use an "smb." prefix.
const (
	// ========================================================================
	// Client attributes
	// ========================================================================
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"
	AttrClientPort = "client.port"
	AttrClientHost = "client.host"

	// ========================================================================
	// Protocol-agnostic filesystem attributes
	// ========================================================================
	AttrProtocol   = "protocol.name"
	AttrOperation  = "fs.operation"
	AttrHandle     = "fs.handle"
	AttrShare      = "fs.share"
	AttrPath       = "fs.path"
	AttrFilename   = "fs.filename"
	AttrOffset     = "fs.offset"
	AttrCount      = "fs.count"
	AttrSize       = "fs.size"
	AttrType       = "fs.type"
	AttrMode       = "fs.mode"
	AttrStatus     = "fs.status"
	AttrStatusMsg  = "fs.status_msg"
	AttrEOF        = "fs.eof"
	AttrBytesRead  = "fs.bytes_read"
	AttrBytesWrite = "fs.bytes_written"

	// ========================================================================
	// SMB1/CIFS attributes
	// ========================================================================
	AttrSMBCommand      = "smb.command"
	AttrSMBMessageID    = "smb.message_id"
	AttrSMBProcessID    = "smb.process_id"
	AttrSMBSessionID    = "smb.session_id" // SMB1 UID
	AttrSMBTreeID       = "smb.tree_id"    // SMB1 TID
	AttrSMBFileID       = "smb.file_id"    // SMB1 FID
	AttrSMBPersistentID = "smb.persistent_id"
	AttrSMBAndXDepth    = "smb.andx_depth"
	AttrSMBDialect      = "smb.dialect"
	AttrSMBInfoLevel    = "smb.info_level"
	AttrSMBPattern      = "smb.pattern"
	AttrSMBLockStart    = "smb.lock_start"
	AttrSMBLockEnd      = "smb.lock_end"
	AttrSMBWriteable    = "smb.writeable"

	// ========================================================================
	// User/auth attributes
	// ========================================================================
	AttrUID      = "user.uid"
	AttrGID      = "user.gid"
	AttrUsername = "user.name"
	AttrDomain   = "user.domain"
	AttrAuth     = "auth.method"
)

// Span names for operations.
// Format: smb.<COMMAND> for dispatcher spans, <component>.<operation> for
// internal component spans.
const (
	// ========================================================================
	// SMB1 protocol spans
	// ========================================================================
	SpanSMBRequest     = "smb.request"
	SpanSMBNegotiate   = "smb.NEGOTIATE"
	SpanSMBSessionSet  = "smb.SESSION_SETUP_ANDX"
	SpanSMBTreeConn    = "smb.TREE_CONNECT_ANDX"
	SpanSMBTreeDisconn = "smb.TREE_DISCONNECT"
	SpanSMBLogoff      = "smb.LOGOFF_ANDX"
	SpanSMBCreate      = "smb.NT_CREATE_ANDX"
	SpanSMBOpen        = "smb.OPEN_ANDX"
	SpanSMBClose       = "smb.CLOSE"
	SpanSMBRead        = "smb.READ_ANDX"
	SpanSMBWrite       = "smb.WRITE_ANDX"
	SpanSMBLockingX    = "smb.LOCKING_ANDX"
	SpanSMBTrans2      = "smb.TRANSACTION2"
	SpanSMBFindFirst2  = "smb.FIND_FIRST2"
	SpanSMBFindNext2   = "smb.FIND_NEXT2"
	SpanSMBQueryPath   = "smb.QUERY_PATH_INFO"
	SpanSMBSetPath     = "smb.SET_PATH_INFO"
	SpanSMBDelete      = "smb.DELETE"
	SpanSMBRename      = "smb.RENAME"
	SpanSMBMkdir       = "smb.CREATE_DIRECTORY"
	SpanSMBRmdir       = "smb.DELETE_DIRECTORY"

	// ========================================================================
	// Internal component spans (protocol-agnostic)
	// ========================================================================
	SpanFIDTableAlloc   = "fidtable.allocate"
	SpanFIDTableRelease = "fidtable.release"
	SpanMFTLookup       = "mft.lookup"
	SpanMFTOpen         = "mft.open"
	SpanMFTClose        = "mft.close"
	SpanVFSRead         = "vfs.read"
	SpanVFSWrite        = "vfs.write"
	SpanSecDescEncode   = "secdesc.encode"
	SpanSecDescDecode   = "secdesc.decode"
	SpanDurableRestore  = "durable.restore"
	SpanDurablePersist  = "durable.persist"
)

// ClientIP returns an attribute for client IP address.
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// ClientAddr returns an attribute for full client address (ip:port).
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// SMBCommand returns an attribute for an SMB1 command name.
func SMBCommand(name string) attribute.KeyValue {
	return attribute.String(AttrSMBCommand, name)
}

// SMBMessageID returns an attribute for the SMB1 MID.
func SMBMessageID(mid uint16) attribute.KeyValue {
	return attribute.Int64(AttrSMBMessageID, int64(mid))
}

// SMBProcessID returns an attribute for the SMB1 PID (PidHigh<<16|PidLow).
func SMBProcessID(pid uint32) attribute.KeyValue {
	return attribute.Int64(AttrSMBProcessID, int64(pid))
}

// SMBSessionID returns an attribute for the SMB1 UID.
func SMBSessionID(uid uint16) attribute.KeyValue {
	return attribute.Int64(AttrSMBSessionID, int64(uid))
}

// SMBTreeID returns an attribute for the SMB1 TID.
func SMBTreeID(tid uint16) attribute.KeyValue {
	return attribute.Int64(AttrSMBTreeID, int64(tid))
}

// SMBFileID returns an attribute for a volatile SMB1 FID.
func SMBFileID(fid uint16) attribute.KeyValue {
	return attribute.Int64(AttrSMBFileID, int64(fid))
}

// SMBPersistentID returns an attribute for a durable-handle persistent ID.
func SMBPersistentID(id uint64) attribute.KeyValue {
	return attribute.Int64(AttrSMBPersistentID, int64(id))
}

// SMBAndXDepth returns an attribute marking position within an AndX chain.
func SMBAndXDepth(depth int) attribute.KeyValue {
	return attribute.Int(AttrSMBAndXDepth, depth)
}

// SMBDialect returns an attribute for the negotiated dialect string.
func SMBDialect(dialect string) attribute.KeyValue {
	return attribute.String(AttrSMBDialect, dialect)
}

// SMBInfoLevel returns an attribute for a TRANS2 information level name.
func SMBInfoLevel(level string) attribute.KeyValue {
	return attribute.String(AttrSMBInfoLevel, level)
}

// SMBPattern returns an attribute for a FIND_FIRST2 wildcard pattern.
func SMBPattern(pattern string) attribute.KeyValue {
	return attribute.String(AttrSMBPattern, pattern)
}

// SMBLockRange returns attributes describing a byte-range lock.
func SMBLockRange(start, end int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(AttrSMBLockStart, start),
		attribute.Int64(AttrSMBLockEnd, end),
	}
}

// SMBWriteable returns an attribute for a tree connection's writeable flag.
func SMBWriteable(w bool) attribute.KeyValue {
	return attribute.Bool(AttrSMBWriteable, w)
}

// UID returns an attribute for a mapped POSIX user ID.
func UID(uid uint32) attribute.KeyValue {
	return attribute.Int64(AttrUID, int64(uid))
}

// GID returns an attribute for a mapped POSIX group ID.
func GID(gid uint32) attribute.KeyValue {
	return attribute.Int64(AttrGID, int64(gid))
}

// Username returns an attribute for an authenticated username.
func Username(name string) attribute.KeyValue {
	return attribute.String(AttrUsername, name)
}

// Domain returns an attribute for an NTLM domain/workgroup name.
func Domain(name string) attribute.KeyValue {
	return attribute.String(AttrDomain, name)
}

// AuthMethod returns an attribute for the negotiated authentication method.
func AuthMethod(method string) attribute.KeyValue {
	return attribute.String(AttrAuth, method)
}

// StartSMBSpan starts a span for an SMB1 command, setting common attributes.
func StartSMBSpan(ctx context.Context, command string, mid uint16, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		SMBCommand(command),
		SMBMessageID(mid),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "smb."+command, trace.WithAttributes(allAttrs...))
}

// ============================================================================
// Protocol-agnostic attribute helpers
// ============================================================================

// Protocol returns an attribute for protocol name.
func Protocol(name string) attribute.KeyValue {
	return attribute.String(AttrProtocol, name)
}

// FSOperation returns an attribute for filesystem operation name.
func FSOperation(op string) attribute.KeyValue {
	return attribute.String(AttrOperation, op)
}

// FSHandle returns an attribute for a file handle (generic, binary).
func FSHandle(handle []byte) attribute.KeyValue {
	return attribute.String(AttrHandle, fmt.Sprintf("%x", handle))
}

// FSHandleHex returns an attribute for a file handle already in hex format.
func FSHandleHex(handle string) attribute.KeyValue {
	return attribute.String(AttrHandle, handle)
}

// FSShare returns an attribute for a share name (generic).
func FSShare(share string) attribute.KeyValue {
	return attribute.String(AttrShare, share)
}

// FSPath returns an attribute for a file path (generic).
func FSPath(path string) attribute.KeyValue {
	return attribute.String(AttrPath, path)
}

// FSFilename returns an attribute for a filename (generic).
func FSFilename(name string) attribute.KeyValue {
	return attribute.String(AttrFilename, name)
}

// FSOffset returns an attribute for an I/O offset (generic).
func FSOffset(offset int64) attribute.KeyValue {
	return attribute.Int64(AttrOffset, offset)
}

// FSCount returns an attribute for a requested byte count (generic).
func FSCount(count int) attribute.KeyValue {
	return attribute.Int64(AttrCount, int64(count))
}

// FSSize returns an attribute for a file size (generic).
func FSSize(size int64) attribute.KeyValue {
	return attribute.Int64(AttrSize, size)
}

// FSStatus returns an attribute for an operation status code (generic).
func FSStatus(status int) attribute.KeyValue {
	return attribute.Int(AttrStatus, status)
}

// FSStatusMsg returns an attribute for a human-readable status message.
func FSStatusMsg(msg string) attribute.KeyValue {
	return attribute.String(AttrStatusMsg, msg)
}

// FSEOF returns an attribute for an end-of-file indicator (generic).
func FSEOF(eof bool) attribute.KeyValue {
	return attribute.Bool(AttrEOF, eof)
}

// StartProtocolSpan starts a span for a generic protocol-level operation.
func StartProtocolSpan(ctx context.Context, protocol, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Protocol(protocol),
		FSOperation(operation),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, protocol+"."+operation, trace.WithAttributes(allAttrs...))
}

// StartComponentSpan starts a span for an internal component operation,
// e.g. StartComponentSpan(ctx, "mft", "lookup", ...).
func StartComponentSpan(ctx context.Context, component, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, component+"."+operation, trace.WithAttributes(attrs...))
}
