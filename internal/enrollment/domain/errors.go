package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors surfaced by repositories and the orchestrator.
var (
	// ErrInstanceInactive marks an instance that exists but is not a live
	// offering; admin-facing messages distinguish it from ErrInstanceNotFound.
	ErrInstanceInactive = errors.New("form instance is inactive")
	ErrInstanceNotFound = errors.New("form instance not found")
	// ErrInvalidToken covers wrong-instance, expired and used resume tokens
	// alike; callers must not learn which case applied.
	ErrInvalidToken = errors.New("resume token is invalid or expired")
)

// APIError is a transport or protocol failure talking to the upstream
// enrollment API. Its detail is logged, never shown to end users.
type APIError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("enrollment api %s failed with status %d: %v", e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("enrollment api %s failed: %v", e.Operation, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError wraps a transport failure for an operation.
func NewAPIError(operation string, statusCode int, err error) *APIError {
	return &APIError{Operation: operation, StatusCode: statusCode, Err: err}
}

// FieldMappingError reports required fields missing before an upstream
// submission. It carries the raw field keys; callers render human labels.
type FieldMappingError struct {
	Operation     string
	MissingFields []string
}

func (e *FieldMappingError) Error() string {
	return fmt.Sprintf("missing required fields for %s: %s", e.Operation, strings.Join(e.MissingFields, ", "))
}

// ValidationErrors is the field-scoped error map accumulated by step
// validators. Messages are inherently user-facing.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for field, msg := range v {
		parts = append(parts, field+": "+msg)
	}
	return strings.Join(parts, "; ")
}

// BusinessRejection is an upstream "no" that is not a transport failure, such
// as an invalid account. Its message is shown to the user as provided.
type BusinessRejection struct {
	Message string
}

func (e *BusinessRejection) Error() string { return e.Message }
