package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngineError_Format(t *testing.T) {
	err := NewError(ErrCodeNotFound, "workflow missing")
	assert.Equal(t, "[NOT_FOUND] workflow missing", err.Error())

	err = NewErrorf(ErrCodeUnresolvedInput, "input %q not produced", "Html").WithPhase(3)
	assert.Equal(t, `[UNRESOLVED_INPUT] phase 3: input "Html" not produced`, err.Error())
}

func TestEngineError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewError(ErrCodeStore, "persist phase").WithCause(cause)
	assert.ErrorIs(t, err, cause)
}

func TestIsCode_Wrapped(t *testing.T) {
	inner := NewError(ErrCodeInsufficientCredits, "balance too low")
	wrapped := fmt.Errorf("run: %w", inner)

	assert.True(t, IsCode(wrapped, ErrCodeInsufficientCredits))
	assert.False(t, IsCode(wrapped, ErrCodeNotFound))
	assert.False(t, IsCode(errors.New("plain"), ErrCodeNotFound))
	assert.Equal(t, ErrCodeInsufficientCredits, CodeOf(wrapped))
	assert.Equal(t, "", CodeOf(nil))
}
