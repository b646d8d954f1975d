package embeddings

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// CachedEmbedder wraps an Embedder with a bounded LRU cache keyed by
// sha256(model|text). Re-ingesting unchanged pages re-embeds nothing.
type CachedEmbedder struct {
	inner    Embedder
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

type cacheEntry struct {
	key    string
	vector []float32
}

// NewCachedEmbedder wraps inner with an LRU of the given capacity.
func NewCachedEmbedder(inner Embedder, capacity int) *CachedEmbedder {
	if capacity <= 0 {
		capacity = 2048
	}
	return &CachedEmbedder{
		inner:    inner,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Embed returns the cached vector when present.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.put(key, vec)
	return vec, nil
}

// EmbedBatch serves cached entries and forwards only the misses, stitching
// the results back in input order.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		if vec, ok := c.get(c.cacheKey(text)); ok {
			vectors[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) > 0 {
		fetched, err := c.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, vec := range fetched {
			i := missIdx[j]
			vectors[i] = vec
			c.put(c.cacheKey(texts[i]), vec)
		}
	}
	return vectors, nil
}

// Dimension delegates to the wrapped embedder.
func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }

// Model delegates to the wrapped embedder.
func (c *CachedEmbedder) Model() string { return c.inner.Model() }

// HealthCheck delegates to the wrapped embedder.
func (c *CachedEmbedder) HealthCheck(ctx context.Context) error {
	return c.inner.HealthCheck(ctx)
}

// Len reports the number of cached vectors.
func (c *CachedEmbedder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.inner.Model() + "|" + text))
	return hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).vector, true
}

func (c *CachedEmbedder) put(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*cacheEntry).vector = vector
		return
	}

	elem := c.order.PushFront(&cacheEntry{key: key, vector: vector})
	c.entries[key] = elem

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}
}
