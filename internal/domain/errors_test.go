package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotFoundErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "job", err: ErrJobNotFound},
		{name: "queue", err: ErrQueueNotFound},
		{name: "schedule", err: ErrScheduleNotFound},
		{name: "task", err: ErrTaskNotFound},
		{name: "wrapped", err: fmt.Errorf("get job abc: %w", ErrJobNotFound)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, IsNotFound(tt.err))
			assert.False(t, IsValidation(tt.err))
		})
	}
}

func TestValidationError(t *testing.T) {
	v := &ValidationError{}
	assert.NoError(t, v.Err())

	v.Add("cron expression %q is invalid", "bad")
	v.Add("max attempts must be positive")
	require.Error(t, v.Err())
	assert.Contains(t, v.Error(), "cron expression \"bad\" is invalid")
	assert.Contains(t, v.Error(), "; max attempts must be positive")

	wrapped := NewConfigurationError("register job", v)
	assert.True(t, IsValidation(wrapped))

	var target *ValidationError
	require.True(t, errors.As(wrapped, &target))
	assert.Len(t, target.Problems, 2)
}

func TestClassifyHandlerError(t *testing.T) {
	cause := errors.New("smtp timeout")

	err := ClassifyHandlerError(1, 3, cause)
	var transient *TransientHandlerError
	require.True(t, errors.As(err, &transient))
	assert.Equal(t, 1, transient.Attempt)
	assert.ErrorIs(t, err, cause)

	err = ClassifyHandlerError(3, 3, cause)
	var permanent *PermanentHandlerError
	require.True(t, errors.As(err, &permanent))
	assert.ErrorIs(t, err, cause)
}

func TestNewStoreError(t *testing.T) {
	assert.NoError(t, NewStoreError("get", nil))
	assert.Same(t, ErrJobNotFound, NewStoreError("get", ErrJobNotFound))

	err := NewStoreError("find ready jobs", errors.New("connection refused"))
	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "find ready jobs", se.Op)
}
