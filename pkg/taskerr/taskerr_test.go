package taskerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := New(LowSimilarity, "boom")
	assert.Equal(t, LowSimilarity, KindOf(err))

	wrapped := Wrap(IO, "outer", err)
	assert.Equal(t, IO, KindOf(wrapped))

	assert.Equal(t, Unknown, KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(LLMTransient, ""), true))
	assert.True(t, Retryable(New(LLMTransient, ""), false))

	assert.True(t, Retryable(New(LowSimilarity, ""), true))
	assert.False(t, Retryable(New(LowSimilarity, ""), false))

	assert.True(t, Retryable(New(IO, ""), false))
	assert.False(t, Retryable(New(EmptyOutput, ""), true))
	assert.False(t, Retryable(New(OutOfRoots, ""), true))
}

func TestErrorMessage(t *testing.T) {
	plain := New(ParseError, "bad input")
	assert.Equal(t, "ParseError: bad input", plain.Error())

	cause := errors.New("disk full")
	wrapped := Wrap(IO, "write failed", cause)
	assert.Contains(t, wrapped.Error(), "disk full")
	assert.Equal(t, cause, errors.Unwrap(wrapped))
}
