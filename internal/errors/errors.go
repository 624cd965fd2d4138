// Package errors holds the sentinel errors shared across fleetring.
//
// Core data structures only ever surface two kinds of failure:
// ErrInvalidCapacity from buffer construction and ErrInvalidInput from
// aggregation of an empty batch. Everything else belongs to the surrounding
// persistence and ingestion layers.
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Core
	ErrInvalidCapacity = errors.New("invalid capacity")
	ErrInvalidInput    = errors.New("invalid input")

	// Reading validation
	ErrInvalidReading = errors.New("invalid reading")
	ErrMixedKeys      = errors.New("batch contains mixed keys")

	// Lookup
	ErrNotFound = errors.New("not found")

	// Lifecycle
	ErrNotRunning     = errors.New("service not running")
	ErrAlreadyRunning = errors.New("service already running")
	ErrWriterClosed   = errors.New("writer is closed")

	// Persistence
	ErrCorruptRecord = errors.New("corrupt record")

	// Configuration
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// New is a convenience wrapper for errors.New
var New = errors.New

// IsValidation returns true if err is a caller precondition violation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidCapacity) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidReading) ||
		errors.Is(err, ErrMixedKeys) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps err with a message. Returns nil if err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf wraps err with a formatted message. Returns nil if err is nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// FieldError describes a single invalid field.
type FieldError struct {
	Field   string
	Value   any
	Message string
	Err     error
}

// Error implements error.
func (e *FieldError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap returns the sentinel the field error belongs to.
func (e *FieldError) Unwrap() error {
	return e.Err
}

// ValidationErrors collects multiple field errors.
type ValidationErrors struct {
	Errors []*FieldError
}

// Add appends a field error attributed to sentinel.
func (v *ValidationErrors) Add(sentinel error, field string, value any, message string) {
	v.Errors = append(v.Errors, &FieldError{
		Field:   field,
		Value:   value,
		Message: message,
		Err:     sentinel,
	})
}

// Error implements error.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return "no validation errors"
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors: ", len(v.Errors))
	for i, e := range v.Errors {
		if i > 0 {
			msg += "; "
		}
		msg += e.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the first error for errors.Is/As support.
func (v *ValidationErrors) Unwrap() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v.Errors[0]
}
