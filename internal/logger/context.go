package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds request-scoped logging context threaded from a
// Connection down through a Session, a TreeConnection, and an individual
// SMB1 request so every log line in that call tree carries consistent
// identity fields without each call site re-specifying them.
type LogContext struct {
	TraceID   string
	SpanID    string
	ConnID    string
	ClientIP  string
	SessionID uint16
	TreeID    uint16
	MID       uint16
	Share     string
	Username  string
	Domain    string
	UID       uint32
	GID       uint32
	Command   string
	StartTime time.Time
}

// WithContext returns a new context carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from ctx, or nil if absent.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for a freshly accepted connection.
func NewLogContext(connID, clientIP string) *LogContext {
	return &LogContext{
		ConnID:    connID,
		ClientIP:  clientIP,
		StartTime: time.Now(),
	}
}

// Clone returns a shallow copy of lc.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithSession returns a copy with session identity set (post SESSION_SETUP).
func (lc *LogContext) WithSession(sessionID uint16, username, domain string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.SessionID = sessionID
		c.Username = username
		c.Domain = domain
	}
	return c
}

// WithTree returns a copy with tree identity set (post TREE_CONNECT).
func (lc *LogContext) WithTree(treeID uint16, share string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.TreeID = treeID
		c.Share = share
	}
	return c
}

// WithRequest returns a copy scoped to one request's MID and command name.
func (lc *LogContext) WithRequest(mid uint16, command string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.MID = mid
		c.Command = command
	}
	return c
}

// WithTrace returns a copy with trace correlation fields set.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.TraceID = traceID
		c.SpanID = spanID
	}
	return c
}

// DurationMs returns the elapsed time since StartTime in milliseconds.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
