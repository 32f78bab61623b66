// Package apperr defines the error classification shared by the
// orchestration core. Handlers map a Kind to an HTTP status once, at the
// boundary, instead of branching per endpoint.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and for HTTP mapping.
type Kind int

const (
	KindUnknown Kind = iota
	// KindForbidden means a role or ownership guard failed.
	KindForbidden
	// KindNotFound means the referenced order or job does not exist.
	KindNotFound
	// KindInvalidState means the requested transition is not legal from
	// the entity's current status.
	KindInvalidState
	// KindValidation means the request payload is malformed.
	KindValidation
	// KindUpstreamUnavailable means the dispatch target was unreachable
	// or timed out.
	KindUpstreamUnavailable
	// KindUpstreamRejected means the dispatch target answered with an
	// error status.
	KindUpstreamRejected
	// KindUntrustedSource means a callback arrived from an address
	// outside the allow-list.
	KindUntrustedSource
)

// Error carries a Kind alongside a message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Forbidden builds a KindForbidden error.
func Forbidden(format string, args ...interface{}) *Error {
	return newf(KindForbidden, format, args...)
}

// NotFound builds a KindNotFound error.
func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, format, args...)
}

// InvalidState builds a KindInvalidState error.
func InvalidState(format string, args ...interface{}) *Error {
	return newf(KindInvalidState, format, args...)
}

// Validation builds a KindValidation error.
func Validation(format string, args ...interface{}) *Error {
	return newf(KindValidation, format, args...)
}

// UpstreamUnavailable wraps err as a KindUpstreamUnavailable error.
func UpstreamUnavailable(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Msg: fmt.Sprintf(format, args...), Err: err}
}

// UpstreamRejected builds a KindUpstreamRejected error.
func UpstreamRejected(format string, args ...interface{}) *Error {
	return newf(KindUpstreamRejected, format, args...)
}

// UntrustedSource builds a KindUntrustedSource error.
func UntrustedSource(format string, args ...interface{}) *Error {
	return newf(KindUntrustedSource, format, args...)
}

// KindOf returns the classification of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error classification to an HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindForbidden, KindUntrustedSource:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindUpstreamRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
