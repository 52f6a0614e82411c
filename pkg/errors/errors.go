package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Generic error types

var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates invalid input parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates missing or wrong credentials
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal error")

	// ErrUnavailable indicates a service is unavailable
	ErrUnavailable = errors.New("service unavailable")
)

// Encoding errors

var (
	// ErrMalformedField indicates a compound field could not be decomposed
	ErrMalformedField = errors.New("malformed field")

	// ErrValidation indicates a record does not satisfy the artifact contract
	ErrValidation = errors.New("validation failed")

	// ErrUnknownCode indicates a code outside of a field's vocabulary
	ErrUnknownCode = errors.New("unknown code")

	// ErrUnknownField indicates a field the registry has no vocabulary for
	ErrUnknownField = errors.New("unknown field")
)

// Artifact and model lifecycle errors

var (
	// ErrArtifactLoad indicates the trained artifact could not be loaded or validated
	ErrArtifactLoad = errors.New("artifact load failed")

	// ErrCorruptArtifact indicates the artifact was fetched but its content is unreadable
	ErrCorruptArtifact = errors.New("corrupt artifact")

	// ErrModelUnavailable is returned for every prediction while no model is ready
	ErrModelUnavailable = fmt.Errorf("model not loaded: %w", ErrUnavailable)

	// ErrReloadInProgress indicates another load is already running
	ErrReloadInProgress = errors.New("artifact load already in progress")

	// ErrCorpusRead indicates the training corpus could not be read
	ErrCorpusRead = errors.New("training corpus unreadable")
)

// DomainError wraps an error with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error with field-specific details
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

// Unwrap lets errors.Is match ErrValidation
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// SchemaError reports fields the contract requires but the record lacks,
// and fields the record carries that no contract knows
type SchemaError struct {
	Missing    []string
	Unexpected []string
}

// Error implements the error interface
func (e *SchemaError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, "unexpected fields: "+strings.Join(e.Unexpected, ", "))
	}
	return "validation error: " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is match ErrValidation
func (e *SchemaError) Unwrap() error {
	return ErrValidation
}

// FormatError is raised when a compound field does not have the expected shape.
// It is always returned to the caller and never replaced by a default.
type FormatError struct {
	Field  string
	Value  string
	Reason string
}

// Error implements the error interface
func (e *FormatError) Error() string {
	return fmt.Sprintf("format error: field '%s': %s (value: %q)", e.Field, e.Reason, e.Value)
}

// Unwrap lets errors.Is match ErrMalformedField
func (e *FormatError) Unwrap() error {
	return ErrMalformedField
}

// NewFormatError creates a new format error
func NewFormatError(field, value, reason string) *FormatError {
	return &FormatError{Field: field, Value: value, Reason: reason}
}

// ArtifactLoadError describes which load stage failed
type ArtifactLoadError struct {
	Stage string // fetch|decode|validate|model
	Err   error
}

// Error implements the error interface
func (e *ArtifactLoadError) Error() string {
	return fmt.Sprintf("artifact load failed at %s: %v", e.Stage, e.Err)
}

// Unwrap exposes both the cause and ErrArtifactLoad
func (e *ArtifactLoadError) Unwrap() []error {
	return []error{ErrArtifactLoad, e.Err}
}

// NewArtifactLoadError creates a new artifact load error
func NewArtifactLoadError(stage string, err error) *ArtifactLoadError {
	return &ArtifactLoadError{Stage: stage, Err: err}
}

// MultiError wraps multiple errors
type MultiError struct {
	Errors []error
}

// Error implements the error interface
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("multiple errors (%d): %v", len(m.Errors), m.Errors[0])
}

// Unwrap exposes all collected errors
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Add adds an error to the list
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if there are any errors
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// ToError returns the MultiError as an error, or nil if no errors
func (m *MultiError) ToError() error {
	if !m.HasErrors() {
		return nil
	}
	return m
}

// Helper functions

// Is checks if err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func New(message string) error {
	return errors.New(message)
}

func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
