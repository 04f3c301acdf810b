package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotFound is matched by every NotFoundError via errors.Is.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidStatusTransition is returned when a policy leaves a terminal status.
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	// ErrNoLinkedUser is returned when a policy carries no user reference.
	ErrNoLinkedUser = errors.New("policy has no linked user")
)

// FieldError describes one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned when a required field is missing, mistyped or
// holds a value outside its allowed set.
type ValidationError struct {
	Fields []FieldError
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// Add appends a field error.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// HasErrors reports whether any field was rejected.
func (e *ValidationError) HasErrors() bool {
	return e != nil && len(e.Fields) > 0
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// UniqueConstraintViolation is returned when a write collides with an existing
// record on a unique field.
type UniqueConstraintViolation struct {
	Field string
}

func (e *UniqueConstraintViolation) Error() string {
	if e.Field == "" {
		return "unique constraint violation"
	}
	return fmt.Sprintf("unique constraint violation on %s", e.Field)
}

// NotFoundError is returned when a lookup by id matches nothing.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// Is makes errors.Is(err, ErrNotFound) hold for any NotFoundError.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ErrorResponse represents a standardized error response.
type ErrorResponse struct {
	Error  string       `json:"error"`
	Code   string       `json:"code"`
	Fields []FieldError `json:"fields,omitempty"`
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
	Code       string
	Fields     []FieldError
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates a new HTTP error.
func NewHTTPError(statusCode int, message, code string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Message:    message,
		Code:       code,
	}
}

// ToErrorResponse converts an HTTPError to ErrorResponse.
func (e *HTTPError) ToErrorResponse() ErrorResponse {
	return ErrorResponse{
		Error:  e.Message,
		Code:   e.Code,
		Fields: e.Fields,
	}
}

// MapErrorToHTTP maps domain errors to HTTP errors.
func MapErrorToHTTP(err error) *HTTPError {
	var validationErr *ValidationError
	var uniqueErr *UniqueConstraintViolation
	var notFoundErr *NotFoundError

	switch {
	case errors.As(err, &validationErr):
		httpErr := NewHTTPError(http.StatusBadRequest, "validation failed", "VALIDATION_ERROR")
		httpErr.Fields = validationErr.Fields
		return httpErr
	case errors.As(err, &uniqueErr):
		httpErr := NewHTTPError(http.StatusConflict, uniqueErr.Error(), "UNIQUE_CONSTRAINT_VIOLATION")
		if uniqueErr.Field != "" {
			httpErr.Fields = []FieldError{{Field: uniqueErr.Field, Message: "already exists"}}
		}
		return httpErr
	case errors.As(err, &notFoundErr):
		return NewHTTPError(http.StatusNotFound, notFoundErr.Error(), "NOT_FOUND")
	case errors.Is(err, ErrInvalidStatusTransition):
		return NewHTTPError(http.StatusConflict, err.Error(), "INVALID_STATUS_TRANSITION")
	case errors.Is(err, ErrNoLinkedUser):
		return NewHTTPError(http.StatusNotFound, ErrNoLinkedUser.Error(), "NO_LINKED_USER")
	default:
		return NewHTTPError(http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}
