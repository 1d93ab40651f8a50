package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is the root of every lookup miss
	ErrNotFound = errors.New("not found")

	// ErrJobNotFound is returned when a job id does not exist in the store
	ErrJobNotFound = fmt.Errorf("job %w", ErrNotFound)

	// ErrQueueNotFound is returned for operations on an unregistered queue
	ErrQueueNotFound = fmt.Errorf("queue %w", ErrNotFound)

	// ErrScheduleNotFound is returned when a scheduled job config is missing
	ErrScheduleNotFound = fmt.Errorf("scheduled job %w", ErrNotFound)

	// ErrTaskNotFound is returned when a scheduled job name has no in-process task
	ErrTaskNotFound = fmt.Errorf("task %w", ErrNotFound)

	// ErrDuplicate is returned by stores on unique key conflicts
	ErrDuplicate = errors.New("already exists")
)

// ConfigurationError reports an invalid registration or configuration
type ConfigurationError struct {
	Op  string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %v", e.Op, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(op string, err error) error {
	return &ConfigurationError{Op: op, Err: err}
}

// ValidationError aggregates input problems for a single request
type ValidationError struct {
	Problems []string
}

// Add records a problem
func (e *ValidationError) Add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// HasErrors reports whether any problem was recorded
func (e *ValidationError) HasErrors() bool {
	return len(e.Problems) > 0
}

// Err returns nil when no problem was recorded
func (e *ValidationError) Err() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

// NewValidationError creates a validation error with a single problem
func NewValidationError(format string, args ...any) error {
	v := &ValidationError{}
	v.Add(format, args...)
	return v
}

// TransientHandlerError marks a handler failure that will be retried
type TransientHandlerError struct {
	Attempt int
	Err     error
}

func (e *TransientHandlerError) Error() string {
	return fmt.Sprintf("attempt %d failed, will retry: %v", e.Attempt, e.Err)
}

func (e *TransientHandlerError) Unwrap() error {
	return e.Err
}

// PermanentHandlerError marks a handler failure after the last allowed attempt
type PermanentHandlerError struct {
	Attempt int
	Err     error
}

func (e *PermanentHandlerError) Error() string {
	return fmt.Sprintf("attempt %d failed, giving up: %v", e.Attempt, e.Err)
}

func (e *PermanentHandlerError) Unwrap() error {
	return e.Err
}

// ClassifyHandlerError wraps a handler failure as transient or permanent
func ClassifyHandlerError(attempt, maxAttempts int, err error) error {
	if attempt < maxAttempts {
		return &TransientHandlerError{Attempt: attempt, Err: err}
	}
	return &PermanentHandlerError{Attempt: attempt, Err: err}
}

// StoreError wraps a persistence failure
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError wraps err unless it is already a lookup miss or nil
func NewStoreError(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsNotFound reports whether err is any lookup miss
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether err is caused by bad input or configuration
func IsValidation(err error) bool {
	var v *ValidationError
	var c *ConfigurationError
	return errors.As(err, &v) || errors.As(err, &c)
}
