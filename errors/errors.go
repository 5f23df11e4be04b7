package errors

import (
	"errors"
	"fmt"
)

// Error is the structured error type used throughout the release pipeline.
// It carries an ErrorCode for classification, a human-readable message,
// an optional context map, and an optional wrapped cause.
type Error struct {
	// Code classifies the error condition.
	Code ErrorCode

	// Message is the human-readable description of the failure.
	Message string

	// Context carries additional key-value details about the failure.
	// May be nil.
	Context map[string]interface{}

	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target carries the same error code. This makes
// errors.Is(err, &Error{Code: CodeNotFound}) work for code-level matching.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with the given code and a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with a code and message. Returns nil when
// err is nil so call sites can wrap unconditionally.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WrapWithContext wraps an existing error with a code, message, and a
// context map of additional details. Returns nil when err is nil.
func WrapWithContext(err error, code ErrorCode, message string, context map[string]interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Context: context,
		Err:     err,
	}
}

// GetCode extracts the ErrorCode from an error chain. Returns CodeUnknown
// when the chain contains no *Error.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsCode reports whether the error chain contains an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
