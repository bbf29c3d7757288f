// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-rt.

package api

import "fmt"

// Common errors used across the library.
var (
	ErrConfiguration     = fmt.Errorf("configuration error")
	ErrInvalidArgument   = fmt.Errorf("invalid argument")
	ErrTaskFailed        = fmt.Errorf("task failed")
	ErrOperationTimeout  = fmt.Errorf("operation timeout")
	ErrNotSupported      = fmt.Errorf("operation not supported")
	ErrExecutorClosed    = fmt.Errorf("executor is closed")
	ErrResourceExhausted = fmt.Errorf("resource exhausted")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeConfiguration
	ErrCodeInvalidArgument
	ErrCodeTaskFailed
	ErrCodeTimeout
	ErrCodeNotSupported
	ErrCodeResourceExhausted
	ErrCodeInternal
)

var sentinelByCode = map[ErrorCode]error{
	ErrCodeConfiguration:     ErrConfiguration,
	ErrCodeInvalidArgument:   ErrInvalidArgument,
	ErrCodeTaskFailed:        ErrTaskFailed,
	ErrCodeTimeout:           ErrOperationTimeout,
	ErrCodeNotSupported:      ErrNotSupported,
	ErrCodeResourceExhausted: ErrResourceExhausted,
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Is matches the sentinel error associated with the code.
func (e *Error) Is(target error) bool {
	s, ok := sentinelByCode[e.Code]
	return ok && s == target
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Errorf creates a structured error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}
