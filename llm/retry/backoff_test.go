package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy(maxRetries int) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

func TestBackoffRetryer_Success(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func(int) error {
		callCount++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount, "应该只调用一次")
}

func TestBackoffRetryer_RetryAndSuccess(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(3), zap.NewNop())

	var attempts []int
	err := retryer.Do(context.Background(), func(attempt int) error {
		attempts = append(attempts, attempt)
		if attempt < 2 {
			return errors.New("temporary error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, attempts)
}

func TestBackoffRetryer_MaxRetriesExceeded(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(2), zap.NewNop())

	callCount := 0
	testErr := errors.New("persistent error")

	err := retryer.Do(context.Background(), func(int) error {
		callCount++
		return testErr
	})

	assert.ErrorIs(t, err, testErr)
	assert.Equal(t, 3, callCount, "应该调用三次（初始+2次重试）")
}

func TestBackoffRetryer_ContextCanceled(t *testing.T) {
	retryer := NewBackoffRetryer(&RetryPolicy{
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	callCount := 0
	testErr := errors.New("error")

	err := retryer.Do(ctx, func(int) error {
		callCount++
		return testErr
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, testErr)
	assert.Equal(t, 1, callCount)
}

func TestBackoffRetryer_ShouldRetry(t *testing.T) {
	retryableErr := errors.New("retryable error")
	nonRetryableErr := errors.New("non-retryable error")

	policy := fastPolicy(3)
	policy.ShouldRetry = func(err error) bool { return errors.Is(err, retryableErr) }
	retryer := NewBackoffRetryer(policy, zap.NewNop())

	t.Run("retryable error", func(t *testing.T) {
		callCount := 0
		err := retryer.Do(context.Background(), func(int) error {
			callCount++
			if callCount < 3 {
				return retryableErr
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 3, callCount)
	})

	t.Run("non-retryable error", func(t *testing.T) {
		callCount := 0
		err := retryer.Do(context.Background(), func(int) error {
			callCount++
			return nonRetryableErr
		})

		assert.ErrorIs(t, err, nonRetryableErr)
		assert.Equal(t, 1, callCount, "不应该重试")
	})
}

func TestBackoffRetryer_PermanentStopsImmediately(t *testing.T) {
	retryer := NewBackoffRetryer(fastPolicy(5), zap.NewNop())

	root := errors.New("tokens already streamed")
	callCount := 0
	err := retryer.Do(context.Background(), func(int) error {
		callCount++
		return Permanent(root)
	})

	assert.Equal(t, 1, callCount)
	assert.Same(t, root, err)
	assert.False(t, IsPermanent(err))
	assert.Nil(t, Permanent(nil))
}

func TestBackoffRetryer_DelayCalculation(t *testing.T) {
	retryer := NewBackoffRetryer(&RetryPolicy{
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
	}, zap.NewNop()).(*backoffRetryer)

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, retryer.calculateDelay(tt.attempt))
	}
}

func TestBackoffRetryer_JitterStaysInBounds(t *testing.T) {
	retryer := NewBackoffRetryer(&RetryPolicy{
		MaxRetries:   5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}, zap.NewNop()).(*backoffRetryer)

	for i := 0; i < 50; i++ {
		d := retryer.calculateDelay(3)
		assert.GreaterOrEqual(t, d, 300*time.Millisecond)
		assert.LessOrEqual(t, d, 500*time.Millisecond)
	}
}

func TestBackoffRetryer_OnRetryCallback(t *testing.T) {
	callbackCount := 0
	var lastAttempt int
	var lastErr error

	policy := fastPolicy(2)
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		callbackCount++
		lastAttempt = attempt
		lastErr = err
		assert.Greater(t, delay, time.Duration(0))
	}

	retryer := NewBackoffRetryer(policy, zap.NewNop())
	testErr := errors.New("test error")

	_ = retryer.Do(context.Background(), func(attempt int) error {
		if attempt < 2 {
			return testErr
		}
		return nil
	})

	assert.Equal(t, 2, callbackCount, "回调应该被调用两次")
	assert.Equal(t, 2, lastAttempt)
	assert.Equal(t, testErr, lastErr)
}

func TestNewBackoffRetryer_NormalisesPolicy(t *testing.T) {
	in := &RetryPolicy{MaxRetries: -1, Multiplier: 0.5}
	r := NewBackoffRetryer(in, nil).(*backoffRetryer)

	assert.Equal(t, 0, r.policy.MaxRetries)
	assert.Equal(t, time.Second, r.policy.InitialDelay)
	assert.Equal(t, 2.0, r.policy.Multiplier)
	// 调用方的策略不应被修改
	assert.Equal(t, -1, in.MaxRetries)
}
