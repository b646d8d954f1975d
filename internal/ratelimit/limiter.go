// Package ratelimit provides request rate limiting for outbound API calls.
// The local limiter is a token bucket; the Redis variant coordinates a shared
// budget across replicas.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter gates outbound requests. Wait blocks until a request may proceed
// or the context is cancelled.
type Limiter interface {
	Wait(ctx context.Context) error
}

// LocalLimiter is an in-process token bucket.
type LocalLimiter struct {
	limiter *rate.Limiter
}

// NewLocalLimiter creates a token bucket that refills at reqsPerSec with a
// burst of the same size (minimum one).
func NewLocalLimiter(reqsPerSec float64) *LocalLimiter {
	burst := int(reqsPerSec)
	if burst < 1 {
		burst = 1
	}
	return &LocalLimiter{limiter: rate.NewLimiter(rate.Limit(reqsPerSec), burst)}
}

// Wait blocks until a token is available.
func (l *LocalLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Allow reports whether a request may proceed without waiting.
func (l *LocalLimiter) Allow() bool {
	return l.limiter.Allow()
}
