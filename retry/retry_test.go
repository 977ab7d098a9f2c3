package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestDoSucceedsImmediately(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), Config{MaxRetries: 3}, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestMaxRetriesZeroInvokesOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), Config{MaxRetries: 0}, func(context.Context) error {
		calls++
		return errBoom
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 1, exhausted.Attempts)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	cfg := Config{MaxRetries: 5, Strategy: Constant, InitialDelay: time.Millisecond}
	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	t.Parallel()

	calls := 0
	cfg := Config{
		MaxRetries: 5,
		Retryable:  func(error) bool { return false },
	}
	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 1, calls)
}

func TestDoHonorsNonRetryableOverride(t *testing.T) {
	t.Parallel()

	cfg := Config{
		MaxRetries:   5,
		Retryable:    func(error) bool { return true },
		NonRetryable: func(err error) bool { return errors.Is(err, errBoom) },
	}
	calls := 0
	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 1, calls)
}

func TestDoHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxRetries: 5, Strategy: Constant, InitialDelay: time.Hour}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, cfg, func(context.Context) error {
		return errBoom
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDoInvokesHookOnEachRetry(t *testing.T) {
	t.Parallel()

	var attempts []int
	cfg := Config{
		MaxRetries:   2,
		Strategy:     Constant,
		InitialDelay: time.Millisecond,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			attempts = append(attempts, attempt)
		},
	}
	calls := 0
	_ = Do(context.Background(), cfg, func(context.Context) error {
		calls++
		return errBoom
	})
	require.Equal(t, []int{1, 2}, attempts)
}

func TestDelayConstant(t *testing.T) {
	t.Parallel()

	cfg := Config{Strategy: Constant, InitialDelay: 100 * time.Millisecond}
	require.Equal(t, 100*time.Millisecond, cfg.Delay(1))
	require.Equal(t, 100*time.Millisecond, cfg.Delay(5))
}

func TestDelayLinear(t *testing.T) {
	t.Parallel()

	cfg := Config{Strategy: Linear, InitialDelay: 100 * time.Millisecond}
	require.Equal(t, 100*time.Millisecond, cfg.Delay(1))
	require.Equal(t, 300*time.Millisecond, cfg.Delay(3))
}

func TestDelayExponential(t *testing.T) {
	t.Parallel()

	cfg := Config{Strategy: Exponential, InitialDelay: 100 * time.Millisecond, BackoffFactor: 2}
	require.Equal(t, 100*time.Millisecond, cfg.Delay(1))
	require.Equal(t, 400*time.Millisecond, cfg.Delay(3))
}

func TestDelayClampedToMax(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Strategy: Exponential, InitialDelay: 100 * time.Millisecond,
		BackoffFactor: 10, MaxDelay: time.Second,
	}
	require.Equal(t, time.Second, cfg.Delay(10))
}

func TestDelayJitterBounded(t *testing.T) {
	t.Parallel()

	cfg := Config{Strategy: Jitter, InitialDelay: 100 * time.Millisecond, BackoffFactor: 1}
	for i := 0; i < 100; i++ {
		d := cfg.Delay(1)
		require.GreaterOrEqual(t, d, 50*time.Millisecond)
		require.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
