package common

import (
	"context"
	"errors"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmoriya/tradegate/internal/service"
)

func fastOpts() service.RetryOptions {
	return service.RetryOptions{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, fastOpts())

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), func() error {
		attempts++
		return errors.New("always down")
	}, fastOpts())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.Equal(t, 3, attempts)
}

func TestWithRetry_NonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	cause := errors.New("rejected")
	err := WithRetry(context.Background(), func() error {
		attempts++
		return &RetryableError{Err: cause, Retryable: false}
	}, fastOpts())

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, attempts)
}

func TestWithRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	opts := fastOpts()
	opts.InitialDelay = time.Minute

	done := make(chan error, 1)
	go func() {
		done <- WithRetry(ctx, func() error {
			return errors.New("transient")
		}, opts)
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestWithRetry_DelayCappedByMaxDelay(t *testing.T) {
	opts := service.RetryOptions{
		MaxAttempts:  4,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   100.0,
	}

	start := time.Now()
	err := WithRetry(context.Background(), func() error {
		return errors.New("transient")
	}, opts)

	require.ErrorIs(t, err, ErrMaxRetries)
	// Three waits, each capped at 2ms; far below the uncapped schedule.
	assert.Less(t, time.Since(start), time.Second)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(&RetryableError{Err: errors.New("x"), Retryable: true}))
	assert.False(t, IsRetryable(&RetryableError{Err: errors.New("x"), Retryable: false}))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestUserError(t *testing.T) {
	err := NewUserError("run the pipeline first", ErrNoMatchRun)

	var userErr *UserError
	require.ErrorAs(t, err, &userErr)
	assert.ErrorIs(t, err, ErrNoMatchRun)
	assert.Contains(t, err.Error(), "run the pipeline first")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "ab", Truncate("abcdef", 2))

	// Multibyte text is cut between characters, never inside one.
	assert.Equal(t, "露光装", Truncate("露光装置", 3))
	assert.True(t, utf8.ValidString(Truncate("露光装置の仕様", 4)))
}
