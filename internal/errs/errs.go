package errs

import (
	"errors"
)

// Code is an application error code.
type Code string

const (
	InvalidArgument  Code = "invalid_argument"
	NotFound         Code = "not_found"
	PermissionDenied Code = "permission_denied"
	Unauthorized     Code = "unauthorized"
	Unavailable      Code = "unavailable"
	TooManyAttempts  Code = "too_many_attempts"
	Internal         Code = "internal"
)

// Error is a coded application error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a coded error with message.
func New(code Code, message string) error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a coded error with message and cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// CodeOf returns the error code, defaulting to internal.
func CodeOf(err error) Code {
	if err == nil {
		return Internal
	}
	var coded *Error
	if errors.As(err, &coded) {
		if coded.Code == "" {
			return Internal
		}
		return coded.Code
	}
	return Internal
}

// MessageOf returns a user-facing error message.
// If the error has no typed wrapper, returns "internal error" to prevent
// leaking raw store errors or file paths into UI-facing messages.
func MessageOf(err error) string {
	if err == nil {
		return string(Internal)
	}
	var coded *Error
	if errors.As(err, &coded) && coded.Message != "" {
		return coded.Message
	}
	return "internal error"
}

// IsTransient reports whether the error indicates a remote source that may
// recover on its own (network, timeout, unavailable). Callers fall back to
// the local store silently for these.
func IsTransient(err error) bool {
	return CodeOf(err) == Unavailable
}

// IsPermissionDenied reports whether the remote source rejected the request
// outright. Treated as "this source has nothing for me" rather than a fault.
func IsPermissionDenied(err error) bool {
	return CodeOf(err) == PermissionDenied
}

// IsNotFound reports whether the error is a not-found rejection.
func IsNotFound(err error) bool {
	return CodeOf(err) == NotFound
}
