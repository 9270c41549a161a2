package errors

import (
	"errors"
	"fmt"
)

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a code and message. It returns nil when err is nil.
//
//	body, err := io.ReadAll(resp.Body)
//	if err != nil {
//	    return errors.Wrap(err, errors.CodeUnavailableDependency, "auth: failed to read key set")
//	}
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf wraps err with a code and formatted message. It returns nil when err
// is nil.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// Unauthorized creates a general authentication error.
func Unauthorized(message string) *Error {
	return New(CodeAuthentication, message)
}

// Internal creates a general internal error.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// FromError returns err as an *Error. Errors that are not already *Error are
// wrapped as CodeInternal with a generic message, so an unclassified failure
// can never be mistaken for a token rejection.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, CodeInternal, "an unexpected error occurred")
}
