package netretry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(error) Classification {
		return Classification{Retryable: false}
	}, func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesRetryableErrors(t *testing.T) {
	calls := 0
	fail := errors.New("transient")
	err := Do(context.Background(), func(error) Classification {
		return Classification{Retryable: true, RetryAfter: time.Millisecond}
	}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fail
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	permanentFailure := errors.New("bad request")
	err := Do(context.Background(), func(error) Classification {
		return Classification{Retryable: false}
	}, func(ctx context.Context) error {
		calls++
		return permanentFailure
	})
	assert.ErrorIs(t, err, permanentFailure)
	assert.Equal(t, 1, calls)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	fail := errors.New("always fails")
	err := Do(context.Background(), func(error) Classification {
		return Classification{Retryable: true, RetryAfter: time.Millisecond}
	}, func(ctx context.Context) error {
		calls++
		return fail
	})
	assert.Error(t, err)
	assert.Equal(t, MaxAttempts, calls)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, func(error) Classification {
		return Classification{Retryable: true, RetryAfter: 50 * time.Millisecond}
	}, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			cancel()
		}
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPermanentRoundTrips(t *testing.T) {
	inner := errors.New("status 404")
	wrapped := Permanent(inner)

	assert.True(t, IsPermanent(wrapped))
	assert.False(t, IsPermanent(inner))
	assert.Equal(t, inner, Unwrap(wrapped))
	assert.Equal(t, inner, Unwrap(inner))
}
