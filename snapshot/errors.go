package snapshot

import (
	"context"
	"errors"

	errorslib "github.com/goliatone/go-errors"
)

// ErrorKind defines snapshot error kinds.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindAuthz      ErrorKind = "authz"
	KindNotFound   ErrorKind = "not_found"
	KindTimeout    ErrorKind = "timeout"
	KindCanceled   ErrorKind = "canceled"
	KindInternal   ErrorKind = "internal"
	KindExternal   ErrorKind = "external"
	KindNotImpl    ErrorKind = "not_implemented"
)

// Error wraps errors with a kind.
type Error struct {
	Kind   ErrorKind
	Msg    string
	Err    error
	Fields map[string]string
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new snapshot error.
func NewError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// NewValidationError creates a validation error with per-field messages.
func NewValidationError(msg string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Msg: msg, Fields: fields}
}

// AsGoError maps an error into a go-errors error.
func AsGoError(err error) *errorslib.Error {
	if err == nil {
		return nil
	}

	var ge *errorslib.Error
	if errors.As(err, &ge) {
		return ge
	}

	kind := KindInternal
	msg := err.Error()

	var snapErr *Error
	if errors.As(err, &snapErr) {
		kind = snapErr.Kind
		if snapErr.Msg != "" {
			msg = snapErr.Msg
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		kind = KindCanceled
	}

	switch kind {
	case KindValidation:
		return errorslib.New(msg, errorslib.CategoryValidation).WithTextCode("validation")
	case KindAuthz:
		return errorslib.New(msg, errorslib.CategoryAuthz).WithTextCode("authz")
	case KindNotFound:
		return errorslib.New(msg, errorslib.CategoryNotFound).WithTextCode("not_found")
	case KindTimeout:
		return errorslib.New(msg, errorslib.CategoryOperation).WithTextCode("timeout")
	case KindCanceled:
		return errorslib.New(msg, errorslib.CategoryOperation).WithTextCode("canceled")
	case KindExternal:
		return errorslib.New(msg, errorslib.CategoryExternal).WithTextCode("external")
	case KindNotImpl:
		return errorslib.New(msg, errorslib.CategoryOperation).WithTextCode("not_implemented")
	default:
		return errorslib.New(msg, errorslib.CategoryInternal).WithTextCode("internal")
	}
}

// FieldErrors returns per-field validation messages, if any.
func FieldErrors(err error) map[string]string {
	var snapErr *Error
	if errors.As(err, &snapErr) {
		return snapErr.Fields
	}
	return nil
}

// KindFromError maps an error to its snapshot error kind.
func KindFromError(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var snapErr *Error
	if errors.As(err, &snapErr) {
		return snapErr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}

	return KindInternal
}
