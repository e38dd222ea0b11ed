package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of vectors kept by NewCached when size <= 0.
const DefaultCacheSize = 1000

// Cached memoises an Embedder. Pages that share a title or description
// across a site hit the cache instead of being re-embedded.
type Cached struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// NewCached wraps inner with an LRU cache of size entries.
func NewCached(inner Embedder, size int) (*Cached, error) {
	if inner == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

// Embed returns a cached vector when available. Callers must not modify it.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	key := hex.EncodeToString(sum[:])
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// Dimensions returns the inner embedder's width.
func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

// Len reports the number of cached vectors.
func (c *Cached) Len() int { return c.cache.Len() }
