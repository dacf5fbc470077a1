package crawler

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed or out-of-range input field.
// It is never retried automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a field-level validation failure.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ConflictError reports a uniqueness or state conflict (duplicate
// settings name, trigger against a disabled crawler).
type ConflictError struct {
	Detail string
}

func (e *ConflictError) Error() string {
	return e.Detail
}

// NewConflictError builds a ConflictError.
func NewConflictError(format string, args ...any) *ConflictError {
	return &ConflictError{Detail: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown id or name.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Key)
}

// NewNotFoundError builds a NotFoundError.
func NewNotFoundError(resource, key string) *NotFoundError {
	return &NotFoundError{Resource: resource, Key: key}
}

// EngineDispatchError reports a failed hand-off to the run queue.
// It is distinct from per-item crawl failures, which stay inside the
// engine and never surface through the trigger contract.
type EngineDispatchError struct {
	Err error
}

func (e *EngineDispatchError) Error() string {
	return fmt.Sprintf("engine dispatch failed: %v", e.Err)
}

func (e *EngineDispatchError) Unwrap() error {
	return e.Err
}

// HTTPStatusError reports a non-success response from a source host.
// It carries the status code so callers can separate server-side
// failures from requests that will never succeed.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// IsEngineDispatch reports whether err is an EngineDispatchError.
func IsEngineDispatch(err error) bool {
	var de *EngineDispatchError
	return errors.As(err, &de)
}
