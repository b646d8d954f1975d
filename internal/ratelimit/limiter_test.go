package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiterAllowsBurst(t *testing.T) {
	l := NewLocalLimiter(5)

	allowed := 0
	for i := 0; i < 10; i++ {
		if l.Allow() {
			allowed++
		}
	}
	assert.Equal(t, 5, allowed)
}

func TestLocalLimiterWaitHonorsContext(t *testing.T) {
	l := NewLocalLimiter(1)
	require.NoError(t, l.Wait(context.Background()))

	// Bucket drained; a cancelled context must not block
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	assert.Error(t, err)
}

func TestLocalLimiterRefills(t *testing.T) {
	l := NewLocalLimiter(50)
	for l.Allow() {
	}

	time.Sleep(50 * time.Millisecond)
	assert.True(t, l.Allow())
}

func TestLocalLimiterMinimumBurst(t *testing.T) {
	l := NewLocalLimiter(0.5)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}
