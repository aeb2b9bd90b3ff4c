// Package qerr defines the discriminated error kinds used across the
// retrieval engine (§7 of the error handling design). Every component that
// talks to an external collaborator (embedding provider, vector store)
// converts raw backend errors into one of these kinds at its boundary;
// higher components branch on Kind, never on the underlying error type.
package qerr

import "fmt"

// Kind discriminates error categories. See the table in §7.
type Kind int

// Kind values.
const (
	// KindInternal is an unexpected, redacted failure.
	KindInternal Kind = iota
	// KindInvalidInput means the input failed schema/whitelist validation.
	KindInvalidInput
	// KindNotFound means no matching entity exists.
	KindNotFound
	// KindConflict means the request is ambiguous (e.g. a non-unique lookup).
	KindConflict
	// KindTransient means a retryable provider/store error occurred.
	KindTransient
	// KindRateLimited means a configured rate cap was exceeded.
	KindRateLimited
	// KindPartialResult means one of several fan-out branches failed.
	KindPartialResult
	// KindFatalConfig means a non-recoverable configuration error
	// (dimension mismatch, auth failure) occurred; callers must not retry.
	KindFatalConfig
)

// String returns the kind's stable discriminator name.
func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "InvalidInput"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindTransient:
		return "Transient"
	case KindRateLimited:
		return "RateLimited"
	case KindPartialResult:
		return "PartialResult"
	case KindFatalConfig:
		return "FatalConfig"
	default:
		return "Internal"
	}
}

// Error is the carrier type for all discriminated failures.
type Error struct {
	Kind       Kind
	Message    string
	Fields     map[string]string
	RetryAfter int // seconds; only meaningful for KindRateLimited
	cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind, wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithField attaches a field-path error detail and returns the receiver.
func (e *Error) WithField(path, reason string) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[path] = reason
	return e
}

// InvalidInput constructs a KindInvalidInput error.
func InvalidInput(message string) *Error { return New(KindInvalidInput, message) }

// NotFound constructs a KindNotFound error.
func NotFound(message string) *Error { return New(KindNotFound, message) }

// Conflict constructs a KindConflict error.
func Conflict(message string) *Error { return New(KindConflict, message) }

// Transient wraps cause as a KindTransient error.
func Transient(message string, cause error) *Error { return Wrap(KindTransient, message, cause) }

// RateLimited constructs a KindRateLimited error with a retry-after hint.
func RateLimited(message string, retryAfterSeconds int) *Error {
	return &Error{Kind: KindRateLimited, Message: message, RetryAfter: retryAfterSeconds}
}

// PartialResult wraps cause as a KindPartialResult soft-warning.
func PartialResult(message string, cause error) *Error {
	return Wrap(KindPartialResult, message, cause)
}

// FatalConfig wraps cause as a KindFatalConfig error.
func FatalConfig(message string, cause error) *Error { return Wrap(KindFatalConfig, message, cause) }

// Internal wraps cause as a KindInternal error, redacting details from the
// message by convention (callers should not include cause details in
// user-visible Message text).
func Internal(message string, cause error) *Error { return Wrap(KindInternal, message, cause) }

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return false
	}
	return e.Kind == kind
}
