package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNotFoundError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "generic error", err: errors.New("some error"), expected: false},
		{name: "ErrNotFound", err: ErrNotFound, expected: true},
		{name: "wrapped ErrNotFound", err: fmt.Errorf("get: %w", ErrNotFound), expected: true},
		{name: "ErrJobNotFound", err: ErrJobNotFound, expected: true},
		{name: "wrapped ErrJobNotFound", err: fmt.Errorf("claim: %w", ErrJobNotFound), expected: true},
		{name: "ErrInvalidTransition", err: ErrInvalidTransition, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsNotFoundError(tt.err))
		})
	}
}

func TestStoreError(t *testing.T) {
	t.Run("with wrapped error", func(t *testing.T) {
		err := NewStoreError("job", "claim", "guarded update rejected", ErrInvalidTransition)
		assert.Equal(t, "claim operation on job failed: guarded update rejected: invalid state transition", err.Error())
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("without wrapped error", func(t *testing.T) {
		err := NewStoreError("job", "create", "missing id", nil)
		assert.Equal(t, "create operation on job failed: missing id", err.Error())
		assert.Nil(t, errors.Unwrap(err))
	})
}
