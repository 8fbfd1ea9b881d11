// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType classifies an engine error
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation_error"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeConfiguration ErrorType = "configuration_error"
	ErrorTypeDirective     ErrorType = "directive_error"
	ErrorTypePersistence   ErrorType = "persistence_error"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeError         ErrorType = "processing_error"
)

// AppError is the error shape shared by services and the API layer
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string // stable code surfaced to clients
}

// Error implements error
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap implements error chaining
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewValidationError creates a validation error
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError creates a not-found error
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewDirectiveError creates an error for a malformed consequence directive
func NewDirectiveError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeDirective, message, originalError)
}

// NewPersistenceError creates an error for save/load failures
func NewPersistenceError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypePersistence, message, originalError)
}

// NewConflictError creates a conflict error
func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

// NewProcessingError creates a generic processing error
func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

// IsValidationError reports whether err is a validation error
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsNotFoundError reports whether err is a not-found error
func IsNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsConfigurationError reports whether err is a content/configuration error
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return true
	}
	return hasType(err, ErrorTypeConfiguration)
}

// IsDirectiveError reports whether err is a directive error
func IsDirectiveError(err error) bool {
	return hasType(err, ErrorTypeDirective)
}

// IsPersistenceError reports whether err is a persistence error
func IsPersistenceError(err error) bool {
	return hasType(err, ErrorTypePersistence)
}

// IsConflictError reports whether err is a conflict error
func IsConflictError(err error) bool {
	return hasType(err, ErrorTypeConflict)
}

func hasType(err error, errType ErrorType) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == errType
	}
	return false
}

// generateErrorCode maps an error type to its client code
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeConfiguration:
		return "CONFIGURATION_ERROR"
	case ErrorTypeDirective:
		return "DIRECTIVE_ERROR"
	case ErrorTypePersistence:
		return "PERSISTENCE_ERROR"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError wraps err with message, keeping the type of an existing AppError
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	return NewAppError(errType, message, err)
}

// Problem is a single content defect found while loading a catalog
type Problem struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// ConfigurationError aggregates every problem found in one load pass.
// It is fatal at startup: nothing is partially loaded.
type ConfigurationError struct {
	Source   string
	Problems []Problem
}

// Error lists every offending id, one per line
func (e *ConfigurationError) Error() string {
	var b strings.Builder
	if e.Source != "" {
		fmt.Fprintf(&b, "invalid content %s: %d problem(s)", e.Source, len(e.Problems))
	} else {
		fmt.Fprintf(&b, "invalid content: %d problem(s)", len(e.Problems))
	}
	for _, p := range e.Problems {
		fmt.Fprintf(&b, "\n  - %s: %s", p.ID, p.Reason)
	}
	return b.String()
}

// IDs returns the sorted, de-duplicated offending ids
func (e *ConfigurationError) IDs() []string {
	seen := make(map[string]bool, len(e.Problems))
	ids := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		if !seen[p.ID] {
			seen[p.ID] = true
			ids = append(ids, p.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Add records a problem
func (e *ConfigurationError) Add(id, format string, args ...interface{}) {
	e.Problems = append(e.Problems, Problem{ID: id, Reason: fmt.Sprintf(format, args...)})
}

// OrNil returns nil when no problem was recorded
func (e *ConfigurationError) OrNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}
