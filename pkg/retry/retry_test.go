package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy(), func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	p := Policy{
		MaxRetries:    3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		BackoffFactor: 2.0,
	}

	calls := 0
	err := Do(context.Background(), p, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient blip")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsRetries(t *testing.T) {
	p := Policy{
		MaxRetries:    2,
		InitialDelay:  time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		BackoffFactor: 2.0,
	}

	base := errors.New("always failing")
	calls := 0
	err := Do(context.Background(), p, func() error {
		calls++
		return base
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls) // 1 initial + 2 retries
	assert.True(t, errors.Is(err, base))
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestDoNonRetryableFailsFast(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy(), func() error {
		calls++
		return NonRetryable(errors.New("bad input"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsNonRetryable(err))
}

func TestDoContextCancellationDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := Policy{
		MaxRetries:    5,
		InitialDelay:  time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Do(ctx, p, func() error {
		return errors.New("fail")
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDelaySchedule(t *testing.T) {
	p := Policy{
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}

	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, 800*time.Millisecond, p.Delay(3))
}

func TestDelayCappedAtMax(t *testing.T) {
	p := Policy{
		InitialDelay:  time.Second,
		MaxDelay:      3 * time.Second,
		BackoffFactor: 2.0,
	}

	assert.Equal(t, 3*time.Second, p.Delay(5))
}

func TestDoMeasuredBackoffDurations(t *testing.T) {
	p := Policy{
		MaxRetries:    2,
		InitialDelay:  40 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
	}

	calls := 0
	start := time.Now()
	err := Do(context.Background(), p, func() error {
		calls++
		if calls < 3 {
			return errors.New("fail")
		}
		return nil
	})

	elapsed := time.Since(start)
	require.NoError(t, err)
	// Two sleeps: 40ms + 80ms = 120ms minimum.
	assert.GreaterOrEqual(t, elapsed, 120*time.Millisecond)
}

func TestDoInvalidPolicy(t *testing.T) {
	err := Do(context.Background(), Policy{InitialDelay: -1}, func() error { return nil })
	require.Error(t, err)

	err = Do(context.Background(), Policy{InitialDelay: time.Second, MaxDelay: time.Millisecond}, func() error { return nil })
	require.Error(t, err)
}

func TestDoWithResult(t *testing.T) {
	p := Policy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1.0}

	calls := 0
	result, err := DoWithResult(context.Background(), p, func() (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("not yet")
		}
		return "done", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "done", result)
}
