package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error taxonomy. Lower layers wrap these with fmt.Errorf("...: %w", ...) so
// callers can classify failures with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrEmptyPatch        = errors.New("no fields to update")
	ErrMalformedRequest  = errors.New("malformed request body")
	ErrMethodNotAllowed  = errors.New("method not allowed")
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrUpstream          = errors.New("upstream failure")
	ErrConstraint        = errors.New("constraint violation")
	ErrConflict          = errors.New("conflict")
)

// FieldProblem describes one invalid input attribute.
type FieldProblem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every problem found in one input.
type ValidationError struct {
	Problems []FieldProblem
}

// NewValidationError returns a ValidationError for the given problems.
func NewValidationError(problems ...FieldProblem) *ValidationError {
	return &ValidationError{Problems: problems}
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.Field + ": " + p.Message
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// StatusCode maps an error to the HTTP status that surfaces it.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, ErrEmptyPatch), errors.Is(err, ErrMalformedRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrConflict), errors.Is(err, ErrConstraint):
		return http.StatusConflict
	case errors.Is(err, ErrTooManyGenerations):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
