// Package errors provides structured error types for diagramzoom.
//
// Errors carry a machine-readable [Code] next to a human message and an
// optional cause, so the CLI and the preview server can tell a bad config
// value from a failed render without string matching.
//
//	err := errors.New(errors.ErrCodeInvalidFormat, "unknown export format %q", f)
//	if errors.Is(err, errors.ErrCodeInvalidFormat) {
//	    // ...
//	}
//
//	err = errors.Wrap(errors.ErrCodeRenderFailed, cause, "render diagram %d", i)
package errors

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code.
type Code string

const (
	// Input validation
	ErrCodeInvalidInput  Code = "INVALID_INPUT"
	ErrCodeInvalidConfig Code = "INVALID_CONFIG"
	ErrCodeInvalidFormat Code = "INVALID_FORMAT"
	ErrCodeInvalidPath   Code = "INVALID_PATH"

	// Lookup
	ErrCodeNotFound     Code = "NOT_FOUND"
	ErrCodeFileNotFound Code = "FILE_NOT_FOUND"

	// Diagram lifecycle
	ErrCodeRenderFailed   Code = "RENDER_FAILED"
	ErrCodeRestoreFailed  Code = "RESTORE_FAILED"
	ErrCodeTeardownFailed Code = "TEARDOWN_FAILED"
	ErrCodeSaveFailed     Code = "SAVE_FAILED"
	ErrCodeExportFailed   Code = "EXPORT_FAILED"

	// Runtime
	ErrCodeTimeout     Code = "TIMEOUT"
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether the outermost *Error in err's chain has code.
func Is(err error, code Code) bool {
	return GetCode(err) == code && code != ""
}

// GetCode returns the code of the outermost *Error in err's chain, or "".
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns the message without the code prefix for *Error
// values, and err.Error() otherwise.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
