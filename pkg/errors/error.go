// Package errors provides coded errors for TrackHub
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// Code represents an error code for categorization
type Code string

// TrackError is an error with a code, message and context
type TrackError struct {
	Code        Code           `json:"code"`
	Message     string         `json:"message"`
	Details     string         `json:"details,omitempty"`
	Integration string         `json:"integration,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Cause       error          `json:"-"`
}

// Error implements the error interface
func (e *TrackError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Integration != "" {
		msg += " (integration: " + e.Integration + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error
func (e *TrackError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a TrackError with the same code
func (e *TrackError) Is(target error) bool {
	if t, ok := target.(*TrackError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context information to the error
func (e *TrackError) WithContext(key string, value any) *TrackError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithDetails adds details to the error
func (e *TrackError) WithDetails(details string) *TrackError {
	e.Details = details
	return e
}

// WithIntegration records the integration the error belongs to
func (e *TrackError) WithIntegration(name string) *TrackError {
	e.Integration = name
	return e
}

// WithCause sets the underlying cause error
func (e *TrackError) WithCause(cause error) *TrackError {
	e.Cause = cause
	return e
}

// New creates a new TrackError
func New(code Code, message string) *TrackError {
	return &TrackError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Newf creates a new TrackError with a formatted message
func Newf(code Code, format string, args ...any) *TrackError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with a TrackError
func Wrap(cause error, code Code, message string) *TrackError {
	e := New(code, message)
	e.Cause = cause
	return e
}

// Wrapf wraps an existing error with a formatted message
func Wrapf(cause error, code Code, format string, args ...any) *TrackError {
	return Wrap(cause, code, fmt.Sprintf(format, args...))
}

// FromPanic converts a recovered panic value into a TrackError
func FromPanic(recovered any, code Code, message string) *TrackError {
	if err, ok := recovered.(error); ok {
		return Wrap(err, code, message)
	}
	return New(code, message).WithDetails(fmt.Sprint(recovered))
}

// GetCode extracts the code of the first TrackError in err's chain
func GetCode(err error) (Code, bool) {
	var te *TrackError
	if stderrors.As(err, &te) {
		return te.Code, true
	}
	return "", false
}

// IsCode reports whether err carries the given code
func IsCode(err error, code Code) bool {
	c, ok := GetCode(err)
	return ok && c == code
}
