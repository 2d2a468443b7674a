// Package errors provides error handling utilities.
package errors

import (
	"fmt"
	"strings"
)

// Type identifies the category of error
type Type string

const (
	// TypeValidation indicates bad user input (dates, project names, budgets).
	// Always fatal to the single operation, never retried.
	TypeValidation Type = "VALIDATION_ERROR"

	// TypeProviderAPI indicates a failure reported by a billing provider API
	TypeProviderAPI Type = "PROVIDER_API_ERROR"

	// TypeNotFound indicates a missing record or mapping
	TypeNotFound Type = "NOT_FOUND"

	// TypeConfig indicates a configuration error
	TypeConfig Type = "CONFIG_ERROR"

	// TypeInternal indicates an internal error
	TypeInternal Type = "INTERNAL_ERROR"
)

// Error represents a domain error with context
type Error struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
	Cause   error  `json:"-"`

	// Retryable marks provider errors caused by timeout/gateway conditions.
	// Only meaningful for TypeProviderAPI.
	Retryable bool `json:"retryable,omitempty"`

	// Diagnostics accumulates one human-readable entry per retry attempt
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	if e.Cause != nil {
		fmt.Fprintf(&b, "[%s] %s: %v", e.Type, e.Message, e.Cause)
	} else {
		fmt.Fprintf(&b, "[%s] %s", e.Type, e.Message)
	}
	for _, d := range e.Diagnostics {
		b.WriteString("\n")
		b.WriteString(d)
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *Error) Is(t Type) bool {
	return e.Type == t
}

// WithDiagnostic appends a diagnostic entry to the error trail
func (e *Error) WithDiagnostic(entry string) *Error {
	e.Diagnostics = append(e.Diagnostics, entry)
	return e
}

// New creates a new error
func New(errType Type, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new formatted error
func Newf(errType Type, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with context
func Wrap(errType Type, message string, cause error) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   cause,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, t Type) bool {
	if e, ok := err.(*Error); ok {
		return e.Type == t
	}
	return false
}

// IsRetryable reports whether err is a provider error flagged as retryable
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Type == TypeProviderAPI && e.Retryable
	}
	return false
}

// Validation creates a validation error
func Validation(message string) *Error {
	return New(TypeValidation, message)
}

// Validationf creates a formatted validation error
func Validationf(format string, args ...interface{}) *Error {
	return Newf(TypeValidation, format, args...)
}

// ProviderAPI creates a provider API error. Retryable should be true only
// for provider-reported timeout and gateway conditions.
func ProviderAPI(message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      TypeProviderAPI,
		Message:   message,
		Cause:     cause,
		Retryable: retryable,
	}
}

// NotFound creates a not found error
func NotFound(resourceType, identifier string) *Error {
	return Newf(TypeNotFound, "%s not found: %s", resourceType, identifier)
}

// Config creates a configuration error
func Config(message string, cause error) *Error {
	return Wrap(TypeConfig, message, cause)
}

// Internal creates an internal error
func Internal(message string, cause error) *Error {
	return Wrap(TypeInternal, message, cause)
}
