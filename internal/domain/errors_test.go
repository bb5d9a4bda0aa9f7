package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	err := NewDomainError(ErrCodeValidation, "bad input")
	assert.Equal(t, "[VALIDATION_ERROR] bad input", err.Error())

	cause := errors.New("boom")
	wrapped := NewDomainErrorWithCause(ErrCodeProvider, "call failed", cause)
	assert.Equal(t, "[PROVIDER_ERROR] call failed: boom", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestWrap_MatchesSentinel(t *testing.T) {
	cause := errors.New("overflow by 1200 tokens")
	err := fmt.Errorf("dispatch: %w", Wrap(ErrContextTooLarge, cause))

	assert.ErrorIs(t, err, ErrContextTooLarge)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrMalformedOutput)
}
