// Package errors provides the structured error type shared by the watch,
// render and serve paths. Errors carry a category, a short machine code and
// whether the failing operation can be skipped without stopping the service.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeRender   ErrorType = "render"
	ErrorTypeTemplate ErrorType = "template"
	ErrorTypeWatch    ErrorType = "watch"
	ErrorTypeIO       ErrorType = "io"
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeInternal ErrorType = "internal"
)

// Error is a structured error type with context.
type Error struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Path        string
	Recoverable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.Path != "" {
		parts = append(parts, e.Path)
	}
	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on type and code so sentinel-style comparisons work.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithPath attaches the file the error is about.
func (e *Error) WithPath(path string) *Error {
	e.Path = path

	return e
}

// NewRenderError creates a renderer invocation error.
func NewRenderError(code, message string, cause error) *Error {
	return &Error{
		Type:        ErrorTypeRender,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewTemplateError creates a wrapper-page template error.
func NewTemplateError(code, message string, cause error) *Error {
	return &Error{
		Type:        ErrorTypeTemplate,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewWatchError creates a file system watch error. Watch errors abort startup.
func NewWatchError(code, message string, cause error) *Error {
	return &Error{
		Type:        ErrorTypeWatch,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *Error {
	return &Error{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *Error {
	return &Error{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *Error {
	return &Error{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Recoverable
	}

	return false
}

// TypeOf returns the category of err, or ErrorTypeInternal for foreign errors.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}

	return ErrorTypeInternal
}

// Common errors

// ErrCommandNotAllowed reports a renderer command outside the allowlist.
func ErrCommandNotAllowed(command string) *Error {
	return &Error{
		Type:    ErrorTypeConfig,
		Code:    "ERR_COMMAND_NOT_ALLOWED",
		Message: fmt.Sprintf("renderer command not allowed: %s", command),
	}
}

// ErrPlaceholderMissing reports a wrapper template without the substitution token.
func ErrPlaceholderMissing(token string) *Error {
	return NewTemplateError(
		"ERR_PLACEHOLDER_MISSING",
		fmt.Sprintf("template does not contain placeholder %q", token),
		nil,
	)
}
