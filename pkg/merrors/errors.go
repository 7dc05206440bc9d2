// Package merrors carries the messenger's error taxonomy: a stable Kind
// per spec.md §7, an HTTP-status / retryable pairing for each, and the
// HandlerError type used by the registry/middleware/retry-manager chain.
// Modeled on the teacher's pkg/errors (codes.go registry + handler.go
// envelope), narrowed to the kinds the messenger core actually raises.
package merrors

import (
	"errors"
	"fmt"
)

// Kind is a stable error classification. Unlike an HTTP status it never
// changes meaning once published.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindConfiguration Kind = "configuration"
	KindSerialization Kind = "serialization"
	KindTransport     Kind = "transport"
	KindHandler       Kind = "handler"
	KindScheduler     Kind = "scheduler"
	KindLock          Kind = "lock"
)

// meta mirrors the {http_status, retryable} pairing the teacher's
// pkg/errors.CodeMeta carries per code; here it's per Kind.
var meta = map[Kind]struct {
	httpStatus int
	retryable  bool
}{
	KindValidation:    {400, false},
	KindConfiguration: {500, false},
	KindSerialization: {400, false},
	KindTransport:     {503, true},
	KindHandler:       {500, true}, // handler errors default retryable; may be overridden per-instance
	KindScheduler:     {500, false},
	KindLock:          {409, true},
}

// MessengerError is the concrete error type for every Kind below Handler.
// Handler failures use the richer HandlerError type instead.
type MessengerError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *MessengerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *MessengerError) Unwrap() error { return e.Cause }

// HTTPStatus returns the status code conventionally associated with e's Kind.
func (e *MessengerError) HTTPStatus() int { return meta[e.Kind].httpStatus }

// Retryable reports whether errors of this Kind are retryable by policy.
func (e *MessengerError) Retryable() bool { return meta[e.Kind].retryable }

func newf(kind Kind, format string, args ...any) *MessengerError {
	return &MessengerError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation builds a non-retryable validation error (dispatch-time, §7).
func Validation(format string, args ...any) *MessengerError { return newf(KindValidation, format, args...) }

// Configuration builds a non-retryable configuration error.
func Configuration(format string, args ...any) *MessengerError {
	return newf(KindConfiguration, format, args...)
}

// Serialization builds a non-retryable serialization error.
func Serialization(format string, args ...any) *MessengerError {
	return newf(KindSerialization, format, args...)
}

// Transport builds a transport-layer error; retryable depends on pattern
// matching performed by pkg/retry, but the taxonomy default is retryable.
func Transport(format string, args ...any) *MessengerError { return newf(KindTransport, format, args...) }

// Scheduler builds a non-retryable scheduler error (a bad schedule row).
func Scheduler(format string, args ...any) *MessengerError { return newf(KindScheduler, format, args...) }

// Lock builds a retryable lease-acquisition error.
func Lock(format string, args ...any) *MessengerError { return newf(KindLock, format, args...) }

// Wrap attaches a Kind + message to an underlying cause, preserving it for
// errors.Is/As via Unwrap.
func Wrap(kind Kind, cause error, format string, args ...any) *MessengerError {
	return &MessengerError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *MessengerError or *HandlerError; ok is false otherwise.
func KindOf(err error) (Kind, bool) {
	var me *MessengerError
	if errors.As(err, &me) {
		return me.Kind, true
	}
	var he *HandlerError
	if errors.As(err, &he) {
		return KindHandler, true
	}
	return "", false
}

// HandlerError is the error type business handlers (and the ErrorHandling
// middleware) raise. Retryable is a pointer so "unset" is distinguishable
// from "explicitly false": an unset Retryable defers classification to
// pkg/retry's pattern set (spec.md §4.5/§4.6).
type HandlerError struct {
	Message    string
	ErrorClass string
	Retryable  *bool
	Cause      error
}

func (e *HandlerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("handler: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("handler: %s", e.Message)
}

func (e *HandlerError) Unwrap() error { return e.Cause }

// NewHandlerError builds a HandlerError with retry classification deferred
// to the pattern set (spec.md §4.5).
func NewHandlerError(message string, cause error) *HandlerError {
	return &HandlerError{Message: message, Cause: cause}
}

// NonRetryable builds a HandlerError explicitly marked permanent.
func NonRetryable(message, errorClass string, cause error) *HandlerError {
	f := false
	return &HandlerError{Message: message, ErrorClass: errorClass, Retryable: &f, Cause: cause}
}

// Retryable builds a HandlerError explicitly marked transient.
func Retryable(message, errorClass string, cause error) *HandlerError {
	t := true
	return &HandlerError{Message: message, ErrorClass: errorClass, Retryable: &t, Cause: cause}
}

// AsHandlerError unwraps err to a *HandlerError if possible.
func AsHandlerError(err error) (*HandlerError, bool) {
	var he *HandlerError
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}
