// Package billingerr carries the error taxonomy shared by the billing and
// invoice services. Each error has a kind, a stable snake_case code and a
// message that is safe to show to the caller.
package billingerr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation       Kind = "validation_error"
	KindForbidden        Kind = "forbidden"
	KindStateConflict    Kind = "state_conflict"
	KindExternalProvider Kind = "external_provider_error"
	KindNotFound         Kind = "not_found"
)

type Error struct {
	Kind    Kind
	Code    string
	Field   string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code, so a sentinel still matches after
// its message was specialised.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func Validation(code, field, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Field: field, Message: message}
}

func Forbidden(code, message string) *Error {
	return &Error{Kind: KindForbidden, Code: code, Message: message}
}

func Conflict(code, message string) *Error {
	return &Error{Kind: KindStateConflict, Code: code, Message: message}
}

func NotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func Provider(code, message string) *Error {
	return &Error{Kind: KindExternalProvider, Code: code, Message: message}
}

// WithMessage copies e with a more specific message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Wrap copies e and attaches cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}
