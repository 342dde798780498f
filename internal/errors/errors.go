// Package errors defines the error kinds surfaced by the checkpoint service.
// Every failure that reaches a client carries one of these kinds so callers
// can branch on it instead of on message text.
package errors

import (
	stderrors "errors"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeNotFound      ErrorType = "NOT_FOUND"
	ErrorTypeAlreadyExists ErrorType = "ALREADY_EXISTS"
	ErrorTypeIntegrity     ErrorType = "INTEGRITY"
	ErrorTypeIO            ErrorType = "IO"
	ErrorTypeValidation    ErrorType = "VALIDATION"
	ErrorTypeUnavailable   ErrorType = "SERVICE_UNAVAILABLE"
	ErrorTypeInternal      ErrorType = "INTERNAL"
)

type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Details any       `json:"details,omitempty"`

	err error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.Message + ": " + e.err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Is matches another *Error of the same type, so errors.Is(err, NotFound(""))
// holds for any not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// Wrap attaches a cause and returns the receiver.
func (e *Error) Wrap(err error) *Error {
	e.err = err
	return e
}

func newError(t ErrorType, code int, message string) *Error {
	return &Error{Type: t, Message: message, Code: code}
}

func NotFound(message string) *Error {
	return newError(ErrorTypeNotFound, http.StatusNotFound, message)
}

func AlreadyExists(message string) *Error {
	return newError(ErrorTypeAlreadyExists, http.StatusConflict, message)
}

func Integrity(message string) *Error {
	return newError(ErrorTypeIntegrity, http.StatusConflict, message)
}

func IO(message string, err error) *Error {
	return newError(ErrorTypeIO, http.StatusInternalServerError, message).Wrap(err)
}

func ValidationError(message string, details any) *Error {
	e := newError(ErrorTypeValidation, http.StatusBadRequest, message)
	e.Details = details
	return e
}

func Unavailable(message string, err error) *Error {
	return newError(ErrorTypeUnavailable, http.StatusServiceUnavailable, message).Wrap(err)
}

func Internal(message string, err error) *Error {
	return newError(ErrorTypeInternal, http.StatusInternalServerError, message).Wrap(err)
}

// TypeOf reports the kind of the first *Error in err's chain, or
// ErrorTypeInternal when there is none.
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// Is reports whether err carries the given kind.
func Is(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// As finds the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := stderrors.As(err, &e)
	return e, ok
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	if e, ok := As(err); ok && e.Code != 0 {
		return e.Code
	}
	return http.StatusInternalServerError
}
