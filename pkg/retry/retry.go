// Package retry provides bounded exponential backoff retry for fallible
// asynchronous calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	// Thread-safe random source for jitter
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NonRetryableError wraps errors that should not be retried
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps an error to indicate it should not be retried
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Policy configures retry behavior. A call is attempted once plus up to
// MaxRetries additional times; the sleep before retry k (0-based) is
// InitialDelay × BackoffFactor^k, capped at MaxDelay.
type Policy struct {
	MaxRetries    int           // Additional attempts beyond the first (0 = run once)
	InitialDelay  time.Duration // Delay before the first retry
	MaxDelay      time.Duration // Upper bound on any single delay
	BackoffFactor float64       // Backoff multiplier (typically 2.0)
	AddJitter     bool          // Add up to 25% randomness to prevent thundering herd
}

// DefaultPolicy returns sensible defaults for transport operations
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Quick returns a policy for fast retries (useful during startup)
func Quick() Policy {
	return Policy{
		MaxRetries:    10,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 1.5,
		AddJitter:     true,
	}
}

// Delay returns the sleep duration preceding retry attempt k (0-based),
// without jitter.
func (p Policy) Delay(attempt int) time.Duration {
	delay := float64(p.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= p.BackoffFactor
		if delay >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

func (p Policy) validate() error {
	if p.InitialDelay < 0 {
		return errors.New("retry: InitialDelay cannot be negative")
	}
	if p.MaxDelay < 0 {
		return errors.New("retry: MaxDelay cannot be negative")
	}
	if p.BackoffFactor < 0 {
		return errors.New("retry: BackoffFactor cannot be negative")
	}
	if p.MaxDelay > 0 && p.InitialDelay > 0 && p.MaxDelay < p.InitialDelay {
		return errors.New("retry: MaxDelay must be >= InitialDelay")
	}
	return nil
}

func (p Policy) withDefaults() Policy {
	if p.InitialDelay == 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.BackoffFactor == 0 {
		p.BackoffFactor = 2.0
	}
	// Prevent overflow with extremely large multipliers
	if p.BackoffFactor > 1000 {
		p.BackoffFactor = 1000
	}
	return p
}

// Do executes fn with exponential backoff retry. The final failure is
// returned wrapped with the attempt count.
func Do(ctx context.Context, p Policy, fn func() error) error {
	if err := p.validate(); err != nil {
		return err
	}
	p = p.withDefaults()

	var lastErr error
	attempts := p.MaxRetries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		// Non-retryable errors fail immediately.
		if IsNonRetryable(err) {
			return err
		}

		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt+1, ctx.Err())
		}

		// Don't sleep after the last attempt
		if attempt == attempts-1 {
			break
		}

		sleep := p.Delay(attempt)
		if p.AddJitter && sleep > 0 {
			randMu.Lock()
			jitter := time.Duration(randSource.Int63n(int64(sleep/4) + 1))
			randMu.Unlock()
			sleep += jitter
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+2, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("retry failed after %d attempts: %w", attempts, lastErr)
}

// DoWithResult executes fn with retry and returns both result and error
func DoWithResult[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}
