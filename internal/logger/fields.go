package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging across the connection,
// session, and dispatch layers. Use these consistently so log lines can be
// filtered/aggregated by key rather than by message text.
const (
	// Distributed tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Connection / session / tree identity
	KeyConnID    = "conn_id"
	KeyClientIP  = "client_ip"
	KeySessionID = "session_id"
	KeyTreeID    = "tree_id"
	KeyShare     = "share"
	KeyUsername  = "username"
	KeyDomain    = "domain"
	KeyUID       = "uid"
	KeyGID       = "gid"

	// Request / command
	KeyMID     = "mid"
	KeyPID     = "pid"
	KeyCommand = "command"
	KeyAndX    = "andx"
	KeyDialect = "dialect"
	KeyStatus  = "status"

	// File / handle operations
	KeyFID         = "fid"
	KeyPersistent  = "persistent_id"
	KeyPath        = "path"
	KeyOldPath     = "old_path"
	KeyNewPath     = "new_path"
	KeyStreamName  = "stream_name"
	KeyOffset      = "offset"
	KeyCount       = "count"
	KeyBytesMoved  = "bytes_moved"
	KeyInfoLevel   = "info_level"
	KeyPattern     = "pattern"
	KeyEntries     = "entries"
	KeyEndOfSearch = "end_of_search"

	// Locking
	KeyLockStart = "lock_start"
	KeyLockEnd   = "lock_end"
	KeyLockType  = "lock_type"

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyWriteable  = "writeable"
)

// TraceID returns a slog.Attr for an OpenTelemetry trace ID.
func TraceID(id string) slog.Attr { return slog.String(KeyTraceID, id) }

// SpanID returns a slog.Attr for an OpenTelemetry span ID.
func SpanID(id string) slog.Attr { return slog.String(KeySpanID, id) }

// ConnID returns a slog.Attr for the server-assigned connection identifier.
func ConnID(id string) slog.Attr { return slog.String(KeyConnID, id) }

// ClientIP returns a slog.Attr for the remote peer address.
func ClientIP(addr string) slog.Attr { return slog.String(KeyClientIP, addr) }

// SessionID returns a slog.Attr for the 16-bit SMB1 UID.
func SessionID(uid uint16) slog.Attr { return slog.Int(KeySessionID, int(uid)) }

// TreeID returns a slog.Attr for the 16-bit SMB1 TID.
func TreeID(tid uint16) slog.Attr { return slog.Int(KeyTreeID, int(tid)) }

// Share returns a slog.Attr for a share name.
func Share(name string) slog.Attr { return slog.String(KeyShare, name) }

// Username returns a slog.Attr for an authenticated username.
func Username(name string) slog.Attr { return slog.String(KeyUsername, name) }

// Domain returns a slog.Attr for an NTLM domain/workgroup name.
func Domain(name string) slog.Attr { return slog.String(KeyDomain, name) }

// UID returns a slog.Attr for a mapped POSIX uid.
func UID(uid uint32) slog.Attr { return slog.Uint64(KeyUID, uint64(uid)) }

// GID returns a slog.Attr for a mapped POSIX gid.
func GID(gid uint32) slog.Attr { return slog.Uint64(KeyGID, uint64(gid)) }

// MID returns a slog.Attr for the SMB1 multiplex identifier.
func MID(mid uint16) slog.Attr { return slog.Int(KeyMID, int(mid)) }

// PID returns a slog.Attr for the SMB1 process identifier (PidHigh<<16|PidLow).
func PID(pid uint32) slog.Attr { return slog.Uint64(KeyPID, uint64(pid)) }

// Command returns a slog.Attr for the SMB1 command name.
func Command(name string) slog.Attr { return slog.String(KeyCommand, name) }

// AndX returns a slog.Attr marking a position within an AndX chain.
func AndX(depth int) slog.Attr { return slog.Int(KeyAndX, depth) }

// Dialect returns a slog.Attr for the negotiated dialect string.
func Dialect(d string) slog.Attr { return slog.String(KeyDialect, d) }

// Status returns a slog.Attr for the NTSTATUS value of a response.
func Status(code uint32) slog.Attr { return slog.String(KeyStatus, fmt.Sprintf("0x%08x", code)) }

// FID returns a slog.Attr for a volatile 16-bit file identifier.
func FID(fid uint16) slog.Attr { return slog.Int(KeyFID, int(fid)) }

// PersistentID returns a slog.Attr for a durable-handle persistent identifier.
func PersistentID(id uint64) slog.Attr { return slog.Uint64(KeyPersistent, id) }

// Path returns a slog.Attr for a host filesystem path.
func Path(p string) slog.Attr { return slog.String(KeyPath, p) }

// OldPath returns a slog.Attr for the source path of a rename.
func OldPath(p string) slog.Attr { return slog.String(KeyOldPath, p) }

// NewPath returns a slog.Attr for the destination path of a rename.
func NewPath(p string) slog.Attr { return slog.String(KeyNewPath, p) }

// StreamName returns a slog.Attr for an alternate-data-stream name.
func StreamName(name string) slog.Attr { return slog.String(KeyStreamName, name) }

// Offset returns a slog.Attr for a read/write/lock byte offset.
func Offset(off int64) slog.Attr { return slog.Int64(KeyOffset, off) }

// Count returns a slog.Attr for a requested byte count.
func Count(c int) slog.Attr { return slog.Int(KeyCount, c) }

// BytesMoved returns a slog.Attr for bytes actually read or written.
func BytesMoved(n int) slog.Attr { return slog.Int(KeyBytesMoved, n) }

// InfoLevel returns a slog.Attr for a TRANS2 information level name.
func InfoLevel(level string) slog.Attr { return slog.String(KeyInfoLevel, level) }

// Pattern returns a slog.Attr for a FIND_FIRST wildcard pattern.
func Pattern(p string) slog.Attr { return slog.String(KeyPattern, p) }

// Entries returns a slog.Attr for a directory-enumeration batch size.
func Entries(n int) slog.Attr { return slog.Int(KeyEntries, n) }

// EndOfSearch returns a slog.Attr for the FIND_NEXT end-of-search flag.
func EndOfSearch(end bool) slog.Attr { return slog.Bool(KeyEndOfSearch, end) }

// LockRange returns slog.Attrs describing a byte-range lock.
func LockRange(start, end int64, lockType string) []any {
	return []any{
		slog.Int64(KeyLockStart, start),
		slog.Int64(KeyLockEnd, end),
		slog.String(KeyLockType, lockType),
	}
}

// DurationMs returns a slog.Attr for an operation duration in milliseconds.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns a slog.Attr for an error, or a no-op attr if err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Writeable returns a slog.Attr for a tree connection's writeable flag.
func Writeable(w bool) slog.Attr { return slog.Bool(KeyWriteable, w) }
