// Package cifserr is the shared error type for internal/cifs components.
// Every component returns a *cifserr.Error at its package boundary, never a
// bare error, so the dispatcher (C8) can map it to an NTSTATUS value at a
// single point instead of guessing at each call site.
package cifserr

import "fmt"

// Kind classifies an error into one of the six outcomes spec.md §7
// recognizes, each mapping to a distinct NTSTATUS family.
type Kind int

const (
	// KindNotFound covers path lookup misses and FID misses.
	// Maps to OBJECT_NAME_NOT_FOUND / INVALID_HANDLE.
	KindNotFound Kind = iota + 1

	// KindExists covers create-on-present and rename collisions.
	// Maps to OBJECT_NAME_COLLISION.
	KindExists

	// KindPermission covers writes to read-only shares/files and ACL/share-ACL denials.
	// Maps to ACCESS_DENIED.
	KindPermission

	// KindResource covers allocation failures and bitmap exhaustion.
	// Maps to NO_MEMORY / TOO_MANY_OPENED_FILES.
	KindResource

	// KindProtocol covers malformed requests: bad WordCount, malformed SID,
	// unsupported info level.
	// Maps to INVALID_PARAMETER / NOT_SUPPORTED.
	KindProtocol

	// KindTransient covers lock conflicts and pending oplock breaks, where a
	// retry may succeed.
	// Maps to FILE_LOCK_CONFLICT / retry.
	KindTransient
)

// String returns a human-readable name for the error kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindExists:
		return "Exists"
	case KindPermission:
		return "Permission"
	case KindResource:
		return "Resource"
	case KindProtocol:
		return "Protocol"
	case KindTransient:
		return "Transient"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Error is the error type returned across internal/cifs/* package
// boundaries. Context carries structured fields useful for logging
// (e.g. "path", "fid") without forcing callers to parse the message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// With attaches a structured context field and returns e for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

// NotFound creates a KindNotFound error.
func NotFound(message string, cause error) *Error {
	return &Error{Kind: KindNotFound, Message: message, Cause: cause}
}

// Exists creates a KindExists error.
func Exists(message string, cause error) *Error {
	return &Error{Kind: KindExists, Message: message, Cause: cause}
}

// Permission creates a KindPermission error.
func Permission(message string, cause error) *Error {
	return &Error{Kind: KindPermission, Message: message, Cause: cause}
}

// Resource creates a KindResource error.
func Resource(message string, cause error) *Error {
	return &Error{Kind: KindResource, Message: message, Cause: cause}
}

// Protocol creates a KindProtocol error.
func Protocol(message string, cause error) *Error {
	return &Error{Kind: KindProtocol, Message: message, Cause: cause}
}

// Transient creates a KindTransient error.
func Transient(message string, cause error) *Error {
	return &Error{Kind: KindTransient, Message: message, Cause: cause}
}
