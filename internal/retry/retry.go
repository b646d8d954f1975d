// Package retry provides retry mechanisms with exponential backoff
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts     int              // Maximum number of attempts (0 = unlimited)
	InitialDelay    time.Duration    // Initial delay between retries
	MaxDelay        time.Duration    // Maximum delay between retries
	Multiplier      float64          // Backoff multiplier
	RandomizeFactor float64          // Jitter factor (0-1)
	RetryIf         func(error) bool // Function to determine if error is retryable
}

// DefaultConfig returns a default retry configuration
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:     3,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.1,
		RetryIf:         DefaultRetryIf,
	}
}

// Operation represents a retryable operation
type Operation func(ctx context.Context) error

// Result contains the result of a retry operation
type Result struct {
	Attempts int           // Number of attempts made
	Duration time.Duration // Total duration of all attempts
	Err      error         // Final error (nil if successful)
}

// Retrier provides retry functionality
type Retrier struct {
	config *Config
}

// New creates a new retrier with the given configuration
func New(config *Config) *Retrier {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	if config.RandomizeFactor < 0 {
		config.RandomizeFactor = 0
	} else if config.RandomizeFactor > 1 {
		config.RandomizeFactor = 1
	}
	if config.RetryIf == nil {
		config.RetryIf = DefaultRetryIf
	}
	return &Retrier{config: config}
}

// Do executes the operation with retries
func (r *Retrier) Do(ctx context.Context, op Operation) *Result {
	start := time.Now()
	result := &Result{}

	var lastErr error
	delay := r.config.InitialDelay

retryLoop:
	for attempt := 1; r.config.MaxAttempts == 0 || attempt <= r.config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			lastErr = fmt.Errorf("context cancelled: %w", err)
			break
		}

		err := op(ctx)
		if err == nil {
			result.Duration = time.Since(start)
			return result
		}

		lastErr = err

		if !r.config.RetryIf(err) {
			break
		}
		if r.config.MaxAttempts > 0 && attempt >= r.config.MaxAttempts {
			break
		}

		// A server-directed wait (Retry-After) overrides the computed
		// backoff for this round; the progression continues from where
		// it was.
		wait := r.calculateDelay(delay)
		var ra *RetryAfterError
		if errors.As(err, &ra) && ra.After > 0 {
			wait = ra.After
		}

		select {
		case <-time.After(wait):
			delay = r.nextDelay(delay)
		case <-ctx.Done():
			lastErr = fmt.Errorf("context cancelled during retry delay: %w", ctx.Err())
			break retryLoop
		}
	}

	result.Duration = time.Since(start)
	result.Err = lastErr
	return result
}

// calculateDelay adds jitter to the delay
func (r *Retrier) calculateDelay(delay time.Duration) time.Duration {
	if r.config.RandomizeFactor == 0 {
		return delay
	}

	delta := float64(delay) * r.config.RandomizeFactor
	lower := float64(delay) - delta
	upper := float64(delay) + delta
	return time.Duration(lower + rand.Float64()*(upper-lower)) // #nosec G404 -- jitter, not crypto
}

// nextDelay calculates the next delay with exponential backoff
func (r *Retrier) nextDelay(currentDelay time.Duration) time.Duration {
	next := time.Duration(float64(currentDelay) * r.config.Multiplier)
	if next > r.config.MaxDelay {
		return r.config.MaxDelay
	}
	return next
}

// TemporaryError represents a temporary error that should be retried
type TemporaryError struct {
	Err error
}

func (e *TemporaryError) Error() string {
	return fmt.Sprintf("temporary error: %v", e.Err)
}

func (e *TemporaryError) Unwrap() error {
	return e.Err
}

func (e *TemporaryError) Temporary() bool {
	return true
}

// PermanentError represents a permanent error that should not be retried
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// RetryAfterError is a temporary error carrying a server-directed wait,
// typically from an HTTP 429 Retry-After header.
type RetryAfterError struct {
	Err   error
	After time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("rate limited (retry after %s): %v", e.After, e.Err)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

func (e *RetryAfterError) Temporary() bool {
	return true
}

// DefaultRetryIf is the default retry predicate
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}

	type temporary interface {
		Temporary() bool
	}
	var te temporary
	if errors.As(err, &te) {
		return te.Temporary()
	}

	var permErr *PermanentError
	if errors.As(err, &permErr) {
		return false
	}

	// By default, retry on any error
	return true
}

// Retry executes the operation with default configuration
func Retry(ctx context.Context, op Operation) error {
	result := New(DefaultConfig()).Do(ctx, op)
	return result.Err
}

// RetryWithConfig executes the operation with custom configuration
func RetryWithConfig(ctx context.Context, config *Config, op Operation) error {
	result := New(config).Do(ctx, op)
	return result.Err
}

// ExponentialBackoff creates a config with exponential backoff
func ExponentialBackoff(maxAttempts int) *Config {
	return &Config{
		MaxAttempts:     maxAttempts,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        1 * time.Minute,
		Multiplier:      2.0,
		RandomizeFactor: 0.1,
		RetryIf:         DefaultRetryIf,
	}
}

// LinearBackoff creates a config with linear backoff
func LinearBackoff(maxAttempts int, delay time.Duration) *Config {
	return &Config{
		MaxAttempts:     maxAttempts,
		InitialDelay:    delay,
		MaxDelay:        delay * 10,
		Multiplier:      1.0,
		RandomizeFactor: 0,
		RetryIf:         DefaultRetryIf,
	}
}

// WikiBackoff is the retry profile for wiki API calls: exponential from
// two seconds up to a minute, bounded attempts, honoring Retry-After.
func WikiBackoff(maxAttempts int) *Config {
	return &Config{
		MaxAttempts:     maxAttempts,
		InitialDelay:    2 * time.Second,
		MaxDelay:        60 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.1,
		RetryIf:         DefaultRetryIf,
	}
}
