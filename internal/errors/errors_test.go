package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoreErrorIs(t *testing.T) {
	err := NewConfigError("bad preset")
	assert.True(t, errors.Is(err, &CoreError{Kind: KindConfig}))
	assert.False(t, errors.Is(err, &CoreError{Kind: KindValidation}))
}

func TestProcessExitErrorUnwrap(t *testing.T) {
	err := NewProcessExitError("ffmpeg", 187, "No streams found")

	var exitErr *ProcessExitError
	assert.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 187, exitErr.ExitCode)
	assert.Equal(t, "ffmpeg", exitErr.Tool)
	assert.Contains(t, exitErr.Tail, "No streams found")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"retryable encode", NewRetryableEncodeError("scorer returned NaN", nil), true},
		{"process exit", NewProcessExitError("ffmpeg", 1, ""), true},
		{"process launch", NewProcessLaunchError("ffmpeg", nil), false},
		{"config", NewConfigError("bad"), false},
		{"validation", NewValidationError("wrong codec"), false},
		{"cancelled", NewCancelledError(), false},
		{"context cancelled", context.Canceled, false},
		{"wrapped retryable", fmt.Errorf("segment 3: %w", NewRetryableEncodeError("io", nil)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"config", NewConfigError("bad"), 1},
		{"no files", NewNoFilesFoundError("/tmp"), 1},
		{"input", NewInputValidationError("no audio"), 2},
		{"validation", NewValidationError("duration mismatch"), 2},
		{"encode", NewRetryableEncodeError("exhausted", nil), 3},
		{"cancelled", NewCancelledError(), 130},
		{"context cancelled", context.Canceled, 130},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestIsCancelledWrapped(t *testing.T) {
	err := fmt.Errorf("worker 2: %w", NewCancelledError())
	assert.True(t, IsCancelled(err))
}

func TestSuggestion(t *testing.T) {
	assert.NotEmpty(t, Suggestion(NewProcessLaunchError("mediainfo", nil)))
	assert.Empty(t, Suggestion(errors.New("plain")))
}
