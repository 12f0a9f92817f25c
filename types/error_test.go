package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	err := NewError(ErrTaskNotFound, "task missing")
	assert.Equal(t, "[TASK_NOT_FOUND] task missing", err.Error())

	cause := errors.New("record not found")
	err = NewError(ErrContentNotFound, "content missing").WithCause(cause)
	assert.Contains(t, err.Error(), "record not found")
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestError_Builders(t *testing.T) {
	err := NewError(ErrRateLimited, "slow down").
		WithHTTPStatus(429).
		WithRetryable(true).
		WithProvider("qwen")

	assert.Equal(t, 429, err.HTTPStatus)
	assert.True(t, err.Retryable)
	assert.Equal(t, "qwen", err.Provider)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, ErrRateLimited, GetErrorCode(err))
}

func TestIsRetryable_NonStructured(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("plain error")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain error")))
}

func TestContentStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from    ContentStatus
		to      ContentStatus
		allowed bool
	}{
		{ContentDraft, ContentReviewing, true},
		{ContentDraft, ContentScheduled, true},
		{ContentDraft, ContentPublished, false},
		{ContentReviewing, ContentScheduled, true},
		{ContentReviewing, ContentDraft, true},
		{ContentScheduled, ContentPublished, true},
		{ContentPublished, ContentDraft, false},
		{ContentFailed, ContentDraft, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	require.True(t, TaskSucceeded.Terminal())
	require.True(t, TaskDead.Terminal())
	require.True(t, TaskCanceled.Terminal())
	require.False(t, TaskPending.Terminal())
	require.False(t, TaskRunning.Terminal())
	require.False(t, TaskRetrying.Terminal())
}
