package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match them with errors.Is; the HTTP layer maps
// each to a distinct status code.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrIndexUnavailable  = errors.New("index unavailable")
	ErrUpstream          = errors.New("upstream service error")
	ErrMalformedOutput   = errors.New("malformed model output")
	ErrEvaluationFailed  = errors.New("compliance evaluation failed")
	ErrRowOutOfRange     = errors.New("row index out of range")
	ErrDatasetNotFound   = errors.New("dataset not found")

	ErrQueryTooShort = errors.New("query too short")
	ErrQueryTooLong  = errors.New("query too long")
	ErrEmptyTable    = errors.New("no sensor rows supplied")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

// Unwrap exposes both the specific sentinel and ErrInvalidInput.
func (e *ValidationError) Unwrap() []error { return []error{e.Wrapped, ErrInvalidInput} }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// Upstream marks err as an embedding, model or network failure.
func Upstream(op string, err error) error {
	if err == nil || errors.Is(err, ErrUpstream) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUpstream, err)
}
