package model

import (
	"errors"
	"fmt"
)

// Stable error kind strings. Every error surfaced to a tool caller carries
// one of these.
const (
	KindNotFound           = "NOT_FOUND"
	KindDuplicateID        = "DUPLICATE_ID"
	KindInvalidTransition  = "INVALID_TRANSITION"
	KindUnsupportedType    = "UNSUPPORTED_TYPE"
	KindUnsupportedContent = "UNSUPPORTED_CONTENT_TYPE"
	KindExtraction         = "EXTRACTION_FAILED"
	KindInvalidMode        = "INVALID_MODE"
	KindInvalidArgument    = "INVALID_ARGUMENT"
	KindQueryTimeout       = "QUERY_TIMEOUT"
	KindEngine             = "ENGINE_ERROR"
)

// Store-level sentinels. The registry translates these into kinded errors
// before they reach a caller.
var (
	ErrNotFound   = errors.New("not found")
	ErrStaleState = errors.New("stale state")
	ErrDuplicate  = errors.New("duplicate id")
)

// Error is the structured error type used across the core. Cause, when set,
// is preserved for logging and unwrapping; it is never silently swallowed.
type Error struct {
	Kind    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return e.Kind + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Kind + ": " + e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewError builds an *Error with a formatted message.
func NewError(kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds an *Error preserving cause.
func WrapError(kind string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ErrKind returns the stable kind string of err, or empty when err is not a
// *Error (directly or wrapped).
func ErrKind(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind string) bool {
	return ErrKind(err) == kind
}
