package ipfs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumfs/quantumfs/internal/qfserrors"
)

func TestRetryerSucceedsWithoutRetryingOnFirstSuccess(t *testing.T) {
	r := New(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond})
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryerDoesNotRetryPermanentErrors(t *testing.T) {
	r := New(RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond})
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return qfserrors.New(qfserrors.CodeNotFound, "gone")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryerGivesUpAfterMaxAttempts(t *testing.T) {
	r := New(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond})
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return qfserrors.New(qfserrors.CodeStoreUnreachable, "down")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryerRespectsContextCancellation(t *testing.T) {
	r := New(RetryConfig{MaxAttempts: 10, InitialDelay: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := r.Do(ctx, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			cancel()
		}
		return qfserrors.New(qfserrors.CodeStoreUnreachable, "down")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
