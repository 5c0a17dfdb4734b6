// Package errors provides the error taxonomy shared by the core and the API.
package errors

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable category of a failure.
type Kind string

const (
	KindValidation   Kind = "validation_error"
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
	KindForbidden    Kind = "forbidden"
	KindUnauthorized Kind = "unauthorized"
	KindInternal     Kind = "internal_error"
)

// Sentinel errors for errors.Is checks.
var (
	ErrValidation   = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("resource not found")
	ErrForbidden    = errors.New("access denied")
	ErrUnauthorized = errors.New("authentication failed")
	ErrTimeout      = errors.New("operation timed out")
	ErrUnavailable  = errors.New("service unavailable")
)

var sentinels = map[Kind]error{
	KindValidation:   ErrValidation,
	KindConflict:     ErrConflict,
	KindNotFound:     ErrNotFound,
	KindForbidden:    ErrForbidden,
	KindUnauthorized: ErrUnauthorized,
}

// Error is a categorised failure with a human message.
type Error struct {
	Kind    Kind
	Message string
	// Details carries optional structured context (e.g. the conflicting record id).
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// WithDetail returns e with an extra detail key set.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation reports malformed input.
func Validation(format string, args ...any) *Error { return newf(KindValidation, format, args...) }

// Conflict reports a violated exclusivity invariant.
func Conflict(format string, args ...any) *Error { return newf(KindConflict, format, args...) }

// NotFound reports an absent or invisible resource.
func NotFound(format string, args ...any) *Error { return newf(KindNotFound, format, args...) }

// Forbidden reports an authorization denial on a visible resource.
func Forbidden(format string, args ...any) *Error { return newf(KindForbidden, format, args...) }

// Unauthorized reports a missing or invalid identity.
func Unauthorized(format string, args ...any) *Error { return newf(KindUnauthorized, format, args...) }

// Internal wraps an infrastructure failure.
func Internal(err error, format string, args ...any) *Error {
	e := newf(KindInternal, format, args...)
	e.Err = err
	return e
}

// KindOf returns the kind of err, or KindInternal for uncategorised errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, s := range sentinels {
		if errors.Is(err, s) {
			return kind
		}
	}
	return KindInternal
}

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable)
}
