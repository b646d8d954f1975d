// Package circuitbreaker provides a three-state circuit breaker used around
// the embedder and graph store write paths.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening
	FailureThreshold int
	// SuccessThreshold is the number of successes in half-open state before closing
	SuccessThreshold int
	// Cooldown is how long the circuit stays open before allowing a probe
	Cooldown time.Duration
	// MaxConcurrentProbes limits concurrent requests in half-open state
	MaxConcurrentProbes int
	// OnStateChange is called when the circuit state changes
	OnStateChange func(from, to State)
}

// DefaultConfig returns the default configuration: five consecutive failures
// open the circuit, one probe after a sixty second cooldown.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold:    5,
		SuccessThreshold:    1,
		Cooldown:            60 * time.Second,
		MaxConcurrentProbes: 1,
	}
}

// CircuitBreaker fails fast once a dependency has failed repeatedly, giving
// it the cooldown to recover before probing again. All state is atomic; the
// breaker is safe for concurrent use without locks.
type CircuitBreaker struct {
	config *Config

	state           int32 // atomic State
	lastFailureTime int64 // atomic, unix nanos

	consecutiveFailures  int32
	consecutiveSuccesses int32
	halfOpenProbes       int32

	totalRequests   int64
	totalFailures   int64
	totalSuccesses  int64
	totalRejections int64
}

// Errors
var (
	ErrCircuitOpen   = errors.New("circuit breaker is open")
	ErrTooManyProbes = errors.New("too many concurrent probes in half-open state")
)

// New creates a new circuit breaker
func New(config *Config) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.MaxConcurrentProbes <= 0 {
		config.MaxConcurrentProbes = 1
	}
	return &CircuitBreaker{
		config: config,
		state:  int32(StateClosed),
	}
}

// Execute runs the given function with circuit breaker protection
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	return cb.ExecuteWithFallback(ctx, fn, nil)
}

// ExecuteWithFallback runs the function with circuit breaker protection; when
// the call is rejected or fails, the fallback (if any) produces the result.
func (cb *CircuitBreaker) ExecuteWithFallback(ctx context.Context, fn func(context.Context) error, fallback func(context.Context, error) error) error {
	if err := cb.canExecute(); err != nil {
		atomic.AddInt64(&cb.totalRejections, 1)
		if fallback != nil {
			return fallback(ctx, err)
		}
		return err
	}

	atomic.AddInt64(&cb.totalRequests, 1)

	err := fn(ctx)
	cb.recordResult(err)

	if err != nil && fallback != nil {
		return fallback(ctx, err)
	}
	return err
}

// canExecute checks whether a request may proceed in the current state.
func (cb *CircuitBreaker) canExecute() error {
	switch cb.getState() {
	case StateClosed:
		return nil

	case StateOpen:
		if cb.cooldownElapsed() {
			cb.transitionTo(StateHalfOpen)
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		current := atomic.AddInt32(&cb.halfOpenProbes, 1)
		if current > int32(cb.config.MaxConcurrentProbes) {
			atomic.AddInt32(&cb.halfOpenProbes, -1)
			return ErrTooManyProbes
		}
		return nil

	default:
		return fmt.Errorf("unknown circuit breaker state: %v", cb.getState())
	}
}

// recordResult records the outcome of an executed request.
func (cb *CircuitBreaker) recordResult(err error) {
	state := cb.getState()

	if err != nil {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}

	if state == StateHalfOpen {
		atomic.AddInt32(&cb.halfOpenProbes, -1)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	atomic.AddInt64(&cb.totalSuccesses, 1)

	switch cb.getState() {
	case StateClosed:
		atomic.StoreInt32(&cb.consecutiveFailures, 0)

	case StateHalfOpen:
		successes := atomic.AddInt32(&cb.consecutiveSuccesses, 1)
		if successes >= int32(cb.config.SuccessThreshold) {
			cb.transitionTo(StateClosed)
		}

	case StateOpen:
		// The cooldown timer drives open -> half-open, not successes.
	}
}

func (cb *CircuitBreaker) recordFailure() {
	atomic.AddInt64(&cb.totalFailures, 1)
	atomic.StoreInt64(&cb.lastFailureTime, time.Now().UnixNano())

	switch cb.getState() {
	case StateClosed:
		failures := atomic.AddInt32(&cb.consecutiveFailures, 1)
		if failures >= int32(cb.config.FailureThreshold) {
			cb.transitionTo(StateOpen)
		}

	case StateOpen:
		// Already open.

	case StateHalfOpen:
		// A failed probe reopens the circuit for another cooldown.
		cb.transitionTo(StateOpen)
	}
}

func (cb *CircuitBreaker) cooldownElapsed() bool {
	lastFailure := atomic.LoadInt64(&cb.lastFailureTime)
	if lastFailure == 0 {
		return true
	}
	return time.Since(time.Unix(0, lastFailure)) >= cb.config.Cooldown
}

func (cb *CircuitBreaker) transitionTo(newState State) {
	oldState := State(atomic.SwapInt32(&cb.state, int32(newState)))
	if oldState == newState {
		return
	}

	switch newState {
	case StateClosed:
		atomic.StoreInt32(&cb.consecutiveFailures, 0)
		atomic.StoreInt32(&cb.consecutiveSuccesses, 0)
	case StateOpen:
		atomic.StoreInt32(&cb.consecutiveSuccesses, 0)
	case StateHalfOpen:
		atomic.StoreInt32(&cb.consecutiveSuccesses, 0)
		atomic.StoreInt32(&cb.halfOpenProbes, 0)
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(oldState, newState)
	}
}

func (cb *CircuitBreaker) getState() State {
	return State(atomic.LoadInt32(&cb.state))
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() State {
	return cb.getState()
}

// Stats holds circuit breaker statistics
type Stats struct {
	State             State
	TotalRequests     int64
	TotalFailures     int64
	TotalSuccesses    int64
	TotalRejections   int64
	FailureRate       float64
	LastFailureTime   time.Time
	ConsecutiveErrors int32
}

// GetStats returns current statistics
func (cb *CircuitBreaker) GetStats() Stats {
	requests := atomic.LoadInt64(&cb.totalRequests)
	failures := atomic.LoadInt64(&cb.totalFailures)

	var failureRate float64
	if requests > 0 {
		failureRate = float64(failures) / float64(requests)
	}

	lastFailureNano := atomic.LoadInt64(&cb.lastFailureTime)
	var lastFailureTime time.Time
	if lastFailureNano > 0 {
		lastFailureTime = time.Unix(0, lastFailureNano)
	}

	return Stats{
		State:             cb.getState(),
		TotalRequests:     requests,
		TotalFailures:     failures,
		TotalSuccesses:    atomic.LoadInt64(&cb.totalSuccesses),
		TotalRejections:   atomic.LoadInt64(&cb.totalRejections),
		FailureRate:       failureRate,
		LastFailureTime:   lastFailureTime,
		ConsecutiveErrors: atomic.LoadInt32(&cb.consecutiveFailures),
	}
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	atomic.StoreInt32(&cb.state, int32(StateClosed))
	atomic.StoreInt32(&cb.consecutiveFailures, 0)
	atomic.StoreInt32(&cb.consecutiveSuccesses, 0)
	atomic.StoreInt32(&cb.halfOpenProbes, 0)
	atomic.StoreInt64(&cb.lastFailureTime, 0)
}
