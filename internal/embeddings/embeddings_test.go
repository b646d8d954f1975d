package embeddings

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder counts calls and returns a deterministic vector per text.
type fakeEmbedder struct {
	mu         sync.Mutex
	embedCalls int
	batchCalls int
	batchTexts [][]string
	err        error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.embedCalls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text))}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batchCalls++
	f.batchTexts = append(f.batchTexts, append([]string(nil), texts...))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 1 }

func (f *fakeEmbedder) Model() string { return "fake-model" }

func (f *fakeEmbedder) HealthCheck(ctx context.Context) error { return f.err }

func TestCachedEmbedderServesRepeatsFromCache(t *testing.T) {
	fake := &fakeEmbedder{}
	cached := NewCachedEmbedder(fake, 16)

	ctx := context.Background()
	first, err := cached.Embed(ctx, "hello")
	require.NoError(t, err)

	second, err := cached.Embed(ctx, "hello")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.embedCalls)
}

func TestCachedEmbedderBatchForwardsOnlyMisses(t *testing.T) {
	fake := &fakeEmbedder{}
	cached := NewCachedEmbedder(fake, 16)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "alpha")
	require.NoError(t, err)

	vecs, err := cached.EmbedBatch(ctx, []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	assert.Equal(t, []float32{5}, vecs[0])
	assert.Equal(t, []float32{4}, vecs[1])
	assert.Equal(t, []float32{5}, vecs[2])

	require.Equal(t, 1, fake.batchCalls)
	assert.Equal(t, []string{"beta", "gamma"}, fake.batchTexts[0])
}

func TestCachedEmbedderBatchAllHitsSkipsProvider(t *testing.T) {
	fake := &fakeEmbedder{}
	cached := NewCachedEmbedder(fake, 16)
	ctx := context.Background()

	_, err := cached.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)

	_, err = cached.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)

	assert.Equal(t, 1, fake.batchCalls)
}

func TestCachedEmbedderEvictsOldestEntry(t *testing.T) {
	fake := &fakeEmbedder{}
	cached := NewCachedEmbedder(fake, 2)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "one")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "two")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "three")
	require.NoError(t, err)

	assert.Equal(t, 2, cached.Len())

	// "one" was evicted and must hit the provider again.
	_, err = cached.Embed(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, 4, fake.embedCalls)
}

func TestCachedEmbedderDoesNotCacheErrors(t *testing.T) {
	fake := &fakeEmbedder{err: errors.New("provider down")}
	cached := NewCachedEmbedder(fake, 16)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "hello")
	require.Error(t, err)
	assert.Equal(t, 0, cached.Len())

	fake.err = nil
	vec, err := cached.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5}, vec)
}

func TestGuardedEmbedderHonorsContextCancellation(t *testing.T) {
	fake := &fakeEmbedder{}
	guarded := NewGuardedEmbedder(fake, 1)

	// Hold the only slot.
	ctx := context.Background()
	require.NoError(t, guarded.sem.Acquire(ctx, 1))
	defer guarded.sem.Release(1)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	_, err := guarded.Embed(cancelled, "blocked")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fake.embedCalls)
}

func TestGuardedEmbedderPassesThrough(t *testing.T) {
	fake := &fakeEmbedder{}
	guarded := NewGuardedEmbedder(fake, 4)

	vec, err := guarded.Embed(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, []float32{2}, vec)
	assert.Equal(t, 1, fake.Dimension())
	assert.Equal(t, "fake-model", guarded.Model())
}

func TestBreakerEmbedderOpensAfterRepeatedFailures(t *testing.T) {
	fake := &fakeEmbedder{err: errors.New("provider down")}
	breaker := NewBreakerEmbedder(fake)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := breaker.Embed(ctx, "x")
		require.Error(t, err)
	}

	before := fake.embedCalls
	_, err := breaker.Embed(ctx, "x")
	require.Error(t, err)
	assert.Equal(t, before, fake.embedCalls, "open breaker must fail fast without calling the provider")
}

func TestBreakerEmbedderPassesThroughWhenHealthy(t *testing.T) {
	fake := &fakeEmbedder{}
	breaker := NewBreakerEmbedder(fake)

	vec, err := breaker.Embed(context.Background(), "hey")
	require.NoError(t, err)
	assert.Equal(t, []float32{3}, vec)
	assert.Equal(t, "fake-model", breaker.Model())
}
