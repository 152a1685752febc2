// Package apperror defines the error taxonomy shared across the access-control core.
package apperror

import (
	"errors"
	"net/http"
)

// Kind classifies an error by what the client should do about it.
type Kind string

// Error kinds.
const (
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindRateLimited  Kind = "rate_limited"
	KindNotFound     Kind = "not_found"
	KindValidation   Kind = "validation"
	KindConflict     Kind = "conflict"
	KindInternal     Kind = "internal"
)

// Sentinel errors, one per kind. Use errors.Is against these.
var (
	ErrUnauthorized = &Error{Kind: KindUnauthorized, Code: "UNAUTHORIZED", Message: "Invalid or missing credentials"}
	ErrForbidden    = &Error{Kind: KindForbidden, Code: "FORBIDDEN", Message: "Insufficient permissions"}
	ErrRateLimited  = &Error{Kind: KindRateLimited, Code: "RATE_LIMITED", Message: "Rate limit exceeded"}
	ErrNotFound     = &Error{Kind: KindNotFound, Code: "NOT_FOUND", Message: "Resource not found"}
	ErrValidation   = &Error{Kind: KindValidation, Code: "VALIDATION_ERROR", Message: "Invalid request"}
	ErrConflict     = &Error{Kind: KindConflict, Code: "CONFLICT", Message: "Resource already exists"}
	ErrInternal     = &Error{Kind: KindInternal, Code: "INTERNAL_ERROR", Message: "Internal server error"}
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so wrapped variants satisfy
// errors.Is(err, ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if isSentinel(t) {
		return t.Kind == e.Kind
	}
	return t.Kind == e.Kind && t.Code == e.Code
}

func isSentinel(e *Error) bool {
	switch e {
	case ErrUnauthorized, ErrForbidden, ErrRateLimited, ErrNotFound, ErrValidation, ErrConflict, ErrInternal:
		return true
	}
	return false
}

// New creates an error of the given kind with a client-safe message.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a cause to a new error of the given kind.
// The cause is never shown to clients.
func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Internal wraps err as an internal error.
func Internal(err error) *Error {
	return Wrap(KindInternal, ErrInternal.Code, ErrInternal.Message, err)
}

// KindOf returns the kind of err, or KindInternal if err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Public returns the client-facing code and message for err.
// Internal causes are replaced with the generic internal message.
func Public(err error) (code, message string) {
	var e *Error
	if !errors.As(err, &e) || e.Kind == KindInternal {
		return ErrInternal.Code, ErrInternal.Message
	}
	return e.Code, e.Message
}
