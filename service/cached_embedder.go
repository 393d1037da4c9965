package service

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEmbedder remembers query embeddings so a repeated question skips
// the embedding call. Document embeddings pass through.
type CachedEmbedder struct {
	Embedder
	queries *lru.Cache[string, []float32]
}

func NewCachedEmbedder(e Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		return nil, fmt.Errorf("embedding cache size must be greater than zero")
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedEmbedder{Embedder: e, queries: cache}, nil
}

func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.queries.Get(text); ok {
		return append([]float32(nil), v...), nil
	}
	v, err := c.Embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.queries.Add(text, append([]float32(nil), v...))
	return v, nil
}
