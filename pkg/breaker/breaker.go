// Package breaker implements a circuit breaker over fallible asynchronous
// calls. After FailureThreshold consecutive failures the breaker opens and
// rejects every call immediately until RecoveryTimeout elapses; the next call
// is then admitted as a single half-open trial. A successful trial closes the
// breaker, a failed one reopens it.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/c360/agentmesh/errors"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed admits all calls, counting consecutive failures.
	StateClosed State = iota
	// StateOpen rejects all calls until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen admits exactly one trial call.
	StateHalfOpen
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config configures the circuit breaker thresholds
type Config struct {
	FailureThreshold int           // Consecutive failures before opening
	RecoveryTimeout  time.Duration // Cooldown before admitting a trial call
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  5 * time.Minute,
	}
}

// Breaker is a failure-threshold circuit breaker. The zero value is not
// usable; construct with New.
type Breaker struct {
	mu               sync.Mutex
	state            State
	failureCount     int
	lastFailureTime  time.Time
	failureThreshold int
	recoveryTimeout  time.Duration

	// clock is swappable for tests
	now func() time.Time
}

// New creates a circuit breaker in the closed state
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 5 * time.Minute
	}
	return &Breaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		recoveryTimeout:  cfg.RecoveryTimeout,
		now:              time.Now,
	}
}

// State returns the current breaker state, accounting for recovery-timeout
// expiry (an open breaker past its cooldown reports half-open).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// currentState must be called with the mutex held.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && b.now().Sub(b.lastFailureTime) >= b.recoveryTimeout {
		b.state = StateHalfOpen
	}
	return b.state
}

// FailureCount returns the current consecutive failure count
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// Do executes fn under the breaker's admission policy. While open it returns
// errors.ErrCircuitOpen without invoking fn; otherwise the call's outcome
// updates the breaker state.
func (b *Breaker) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	switch b.currentState() {
	case StateOpen:
		b.mu.Unlock()
		return errors.WrapTransient(errors.ErrCircuitOpen, "Breaker", "Do", "call rejected")
	case StateHalfOpen:
		// Admit this call as the single trial; concurrent callers see OPEN
		// until the trial resolves.
		b.state = StateOpen
		b.lastFailureTime = b.now()
		b.mu.Unlock()

		err := fn()

		b.mu.Lock()
		if err != nil {
			b.state = StateOpen
			b.lastFailureTime = b.now()
			b.mu.Unlock()
			return err
		}
		b.state = StateClosed
		b.failureCount = 0
		b.mu.Unlock()
		return nil
	default: // StateClosed
		b.mu.Unlock()
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failureCount++
		b.lastFailureTime = b.now()
		if b.failureCount >= b.failureThreshold {
			b.state = StateOpen
		}
		return err
	}
	b.failureCount = 0
	return nil
}

// DoWithResult executes fn under the breaker and returns its result
func DoWithResult[T any](ctx context.Context, b *Breaker, fn func() (T, error)) (T, error) {
	var result T
	err := b.Do(ctx, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}

// Reset returns the breaker to the closed state with a zero failure count
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
	b.lastFailureTime = time.Time{}
}

// setClock overrides the time source. Test hook.
func (b *Breaker) setClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}
