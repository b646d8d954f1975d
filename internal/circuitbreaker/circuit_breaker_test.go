package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTest = errors.New("test error")

func TestClosedStateAbsorbsFailuresBelowThreshold(t *testing.T) {
	cb := New(&Config{FailureThreshold: 3, SuccessThreshold: 1, Cooldown: time.Second})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, cb.Execute(ctx, func(context.Context) error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.GetState())

	// Two failures, below threshold
	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, func(context.Context) error { return errTest })
	}
	assert.Equal(t, StateClosed, cb.GetState())

	// A success resets the consecutive failure count
	require.NoError(t, cb.Execute(ctx, func(context.Context) error { return nil }))
	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, func(context.Context) error { return errTest })
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	var transitions []string
	var mu sync.Mutex
	cb := New(&Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Cooldown:         time.Hour,
		OnStateChange: func(from, to State) {
			mu.Lock()
			transitions = append(transitions, from.String()+"->"+to.String())
			mu.Unlock()
		},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func(context.Context) error { return errTest })
	}
	assert.Equal(t, StateOpen, cb.GetState())

	// While open, calls are rejected without invoking the function
	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	mu.Lock()
	assert.Contains(t, transitions, "closed->open")
	mu.Unlock()

	stats := cb.GetStats()
	assert.Equal(t, int64(1), stats.TotalRejections)
	assert.Equal(t, int64(3), stats.TotalFailures)
}

func TestHalfOpenProbeClosesOnSuccess(t *testing.T) {
	cb := New(&Config{FailureThreshold: 1, SuccessThreshold: 1, Cooldown: 10 * time.Millisecond})
	ctx := context.Background()

	_ = cb.Execute(ctx, func(context.Context) error { return errTest })
	require.Equal(t, StateOpen, cb.GetState())

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.Execute(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestHalfOpenProbeReopensOnFailure(t *testing.T) {
	cb := New(&Config{FailureThreshold: 1, SuccessThreshold: 1, Cooldown: 10 * time.Millisecond})
	ctx := context.Background()

	_ = cb.Execute(ctx, func(context.Context) error { return errTest })
	time.Sleep(20 * time.Millisecond)

	_ = cb.Execute(ctx, func(context.Context) error { return errTest })
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestFallbackOnRejection(t *testing.T) {
	cb := New(&Config{FailureThreshold: 1, SuccessThreshold: 1, Cooldown: time.Hour})
	ctx := context.Background()

	_ = cb.Execute(ctx, func(context.Context) error { return errTest })

	fellBack := false
	err := cb.ExecuteWithFallback(ctx,
		func(context.Context) error { return nil },
		func(_ context.Context, cbErr error) error {
			fellBack = true
			assert.ErrorIs(t, cbErr, ErrCircuitOpen)
			return nil
		},
	)
	require.NoError(t, err)
	assert.True(t, fellBack)
}

func TestReset(t *testing.T) {
	cb := New(&Config{FailureThreshold: 1, SuccessThreshold: 1, Cooldown: time.Hour})
	_ = cb.Execute(context.Background(), func(context.Context) error { return errTest })
	require.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	require.NoError(t, cb.Execute(context.Background(), func(context.Context) error { return nil }))
}
