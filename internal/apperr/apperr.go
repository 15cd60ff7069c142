// Package apperr defines the application error taxonomy shared by the
// session manager, processor and payment ledger. Errors carry a Kind so
// HTTP handlers can map them to status codes without string matching.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindNotFound      Kind = "NOT_FOUND"
	KindAuthorization Kind = "AUTHORIZATION"
	KindConflict      Kind = "CONFLICT"
	KindDuplicate     Kind = "DUPLICATE"
	KindAssembly      Kind = "ASSEMBLY"
	KindExtraction    Kind = "EXTRACTION"
	KindInvalidState  Kind = "INVALID_STATE"
	KindInternal      Kind = "INTERNAL"
)

// Error is the application error type. Cause may be nil.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

func newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return newf(KindValidation, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newf(KindNotFound, format, args...)
}

func Authorization(format string, args ...any) *Error {
	return newf(KindAuthorization, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return newf(KindConflict, format, args...)
}

func Duplicate(format string, args ...any) *Error {
	return newf(KindDuplicate, format, args...)
}

func Assembly(msg string, cause error) *Error {
	return &Error{Kind: KindAssembly, Msg: msg, Cause: cause}
}

func Extraction(msg string, cause error) *Error {
	return &Error{Kind: KindExtraction, Msg: msg, Cause: cause}
}

func InvalidState(format string, args ...any) *Error {
	return newf(KindInvalidState, format, args...)
}

func Internal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Msg: msg, Cause: cause}
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given Kind.
func Is(err error, k Kind) bool { return KindOf(err) == k }

// HTTPStatus maps an error to the status code the HTTP functions return.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAuthorization:
		return http.StatusForbidden
	case KindConflict, KindDuplicate, KindInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
