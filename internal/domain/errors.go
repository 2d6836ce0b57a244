package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when no verified identity is attached.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the caller does not own the attempt.
	ErrForbidden = errors.New("forbidden")
	// ErrAssessmentNotFound indicates the catalog has no such assessment.
	ErrAssessmentNotFound = errors.New("assessment not found")
	// ErrAssessmentUnavailable indicates an inactive or closed assessment.
	ErrAssessmentUnavailable = errors.New("assessment not available")
	// ErrAttemptNotFound indicates an unknown attempt id.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrAttemptLimitExceeded is returned when no attempt slots remain.
	ErrAttemptLimitExceeded = errors.New("maximum attempts reached")
	// ErrAlreadySubmitted is returned when writing to a submitted attempt.
	ErrAlreadySubmitted = errors.New("attempt already submitted")
	// ErrAttemptInProgress is a store conflict: the pair already has an open attempt.
	ErrAttemptInProgress = errors.New("attempt already in progress")
	// ErrNotEditable is returned when an editable view is requested for an
	// attempt that cannot accept input.
	ErrNotEditable = errors.New("attempt is not editable")
	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation = errors.New("validation failed")
)

// FieldError describes one rejected field of a payload.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports a malformed answer payload.
type ValidationError struct {
	Fields []FieldError
}

// NewValidationError builds a single-field validation error.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: fmt.Sprintf(format, args...)}}}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	f := e.Fields[0]
	if len(e.Fields) == 1 {
		return fmt.Sprintf("%s: %s: %s", ErrValidation, f.Field, f.Message)
	}
	return fmt.Sprintf("%s: %s: %s (and %d more)", ErrValidation, f.Field, f.Message, len(e.Fields)-1)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
