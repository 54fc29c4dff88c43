package ai

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachingEmbedder memoizes embeddings by exact text in a bounded LRU cache.
// Only texts missing from the cache are sent to the wrapped embedder.
type CachingEmbedder struct {
	next  Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachingEmbedder wraps next with a cache holding up to size vectors.
func NewCachingEmbedder(next Embedder, size int) (*CachingEmbedder, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("%w: cache size %d: %w", ErrInvalidConfig, size, err)
	}
	return &CachingEmbedder{next: next, cache: cache}, nil
}

// EmbedText returns the cached vector for text or embeds it.
func (c *CachingEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.next.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, v)
	return v, nil
}

// EmbedTexts embeds the uncached texts in one call and preserves input order.
func (c *CachingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var positions [][]int
	seen := make(map[string]int)
	for i, text := range texts {
		if v, ok := c.cache.Get(text); ok {
			out[i] = v
			continue
		}
		if j, ok := seen[text]; ok {
			positions[j] = append(positions[j], i)
			continue
		}
		seen[text] = len(missing)
		missing = append(missing, text)
		positions = append(positions, []int{i})
	}
	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.next.EmbedTexts(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingCount, len(vectors), len(missing))
	}
	for j, v := range vectors {
		c.cache.Add(missing[j], v)
		for _, i := range positions[j] {
			out[i] = v
		}
	}
	return out, nil
}

// Dimension reports the wrapped embedder's dimension.
func (c *CachingEmbedder) Dimension() int {
	return c.next.Dimension()
}

// Len returns the number of cached vectors.
func (c *CachingEmbedder) Len() int {
	return c.cache.Len()
}

// Purge empties the cache, e.g. after switching models.
func (c *CachingEmbedder) Purge() {
	c.cache.Purge()
}
