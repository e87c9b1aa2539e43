// Package apperrors defines the error taxonomy shared by the pipeline and the
// HTTP layer. Handlers map these types onto status codes; stages wrap provider
// failures into ExternalServiceError so nothing escapes unclassified.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when an invoice, job or tenant does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned for duplicate active jobs and repeat submissions
	ErrConflict = errors.New("conflict")

	// ErrValidation is returned for malformed requests
	ErrValidation = errors.New("validation failed")

	// ErrQuotaExceeded is returned when admission is blocked by the tier ceiling
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// ValidationError describes a malformed request. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a validation error for a specific field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError describes a missing resource
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError creates a not-found error
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ConflictError describes a state conflict: a non-terminal job already exists
// for the invoice, or the invoice already holds a KSeF number.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NewConflictError creates a conflict error
func NewConflictError(message string) *ConflictError {
	return &ConflictError{Message: message}
}

// QuotaExceededError is returned when the tenant's monthly invoice ceiling
// blocks admission.
type QuotaExceededError struct {
	TenantID string
	Current  int64
	Limit    int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("tenant %s reached invoice quota (%d/%d)", e.TenantID, e.Current, e.Limit)
}

func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }

// RateLimitedError is returned when a fixed-window request ceiling is hit.
// RetryAfter is the time until the window resets.
type RateLimitedError struct {
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit of %d requests exceeded, retry after %s", e.Limit, e.RetryAfter)
}

// ExternalServiceError wraps a failure from an outbound dependency (OCR engine,
// AI model, business registry, KSeF gateway). Provider and latency are kept for
// the audit trail; the wrapped error is scrubbed before logging.
type ExternalServiceError struct {
	Provider string
	Latency  time.Duration
	Err      error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s request failed after %s: %v", e.Provider, e.Latency, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// NewExternalServiceError creates an external service error
func NewExternalServiceError(provider string, latency time.Duration, err error) *ExternalServiceError {
	return &ExternalServiceError{Provider: provider, Latency: latency, Err: err}
}

// StructuralValidationError describes a financial or tax-ID inconsistency found
// by the validation stage. Soft failures route the invoice into manual review;
// hard failures terminate the job.
type StructuralValidationError struct {
	Reason string
	Hard   bool
}

func (e *StructuralValidationError) Error() string { return e.Reason }

// IsHard reports whether the failure terminates the job instead of routing the
// invoice into review.
func (e *StructuralValidationError) IsHard() bool { return e.Hard }

// NewHardValidationError creates a terminal structural validation error
func NewHardValidationError(reason string) *StructuralValidationError {
	return &StructuralValidationError{Reason: reason, Hard: true}
}

// NewSoftValidationError creates a review-routing structural validation error
func NewSoftValidationError(reason string) *StructuralValidationError {
	return &StructuralValidationError{Reason: reason, Hard: false}
}
