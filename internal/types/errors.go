package types

import (
	"errors"
	"fmt"
)

// ValidationError rejects malformed input before any side effect happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// PersistenceError wraps any datastore read/write failure with the operation
// that produced it. The underlying cause is always preserved.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

// ProviderError wraps an embedding or generation call failure. Retryable
// failures (timeouts, rate limits, 5xx, connection resets) may be attempted
// again with backoff; non-retryable ones escalate immediately.
type ProviderError struct {
	Provider  string
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func NewProviderError(provider string, retryable bool, err error) *ProviderError {
	return &ProviderError{Provider: provider, Retryable: retryable, Err: err}
}

// NotFoundError reports a referenced entity that does not exist or does not
// belong to the caller. Surfaced as a normal negative result, not a crash.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsRetryableProvider(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
