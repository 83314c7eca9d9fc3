// Package apperr defines the closed set of error kinds surfaced by the HTTP
// layer and the single mapping from kind to status code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindNotFound
	KindInvalidRequest
	KindUpstreamUnavailable
)

// String returns the wire name used in error envelopes.
func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindNotFound:
		return "not_found"
	case KindInvalidRequest:
		return "invalid_request"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	default:
		return "internal_error"
	}
}

// Status maps a kind to its HTTP status code. Unknown kinds are 500.
func Status(k Kind) int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a kinded error. Message is safe to show to callers; Err is the
// underlying cause and is only logged.
type Error struct {
	kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Kind reports the error kind.
func (e *Error) Kind() Kind { return e.kind }

// New returns a kinded error with a caller-visible message.
func New(k Kind, format string, args ...any) *Error {
	return &Error{kind: k, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and caller-visible message to err.
func Wrap(k Kind, err error, message string) *Error {
	return &Error{kind: k, Message: message, Err: err}
}

func Unauthenticated(format string, args ...any) *Error {
	return New(KindUnauthenticated, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Invalid(format string, args ...any) *Error {
	return New(KindInvalidRequest, format, args...)
}

func Unavailable(format string, args ...any) *Error {
	return New(KindUpstreamUnavailable, format, args...)
}

// KindOf returns the kind of the first error in err's chain that reports
// one. Errors without a kind are internal.
func KindOf(err error) Kind {
	var k interface{ Kind() Kind }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}

// PublicMessage returns the text that may be shown to a caller. Internal
// errors never expose their cause.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.kind != KindInternal {
		return e.Message
	}
	var m interface {
		Kind() Kind
		PublicMessage() string
	}
	if errors.As(err, &m) {
		return m.PublicMessage()
	}
	return "internal error"
}
