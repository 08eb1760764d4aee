package embedder

import (
	"context"
	"fmt"

	"github.com/dshills/deltaindex/pkg/types"
)

// Cached serves repeated texts from an LRU cache and forwards only misses
// to the wrapped embedder
type Cached struct {
	inner Embedder
	cache *Cache
}

// NewCached wraps inner with cache
func NewCached(inner Embedder, cache *Cache) *Cached {
	if cache == nil {
		cache = NewCache(0)
	}
	return &Cached{inner: inner, cache: cache}
}

// Cache returns the underlying cache
func (c *Cached) Cache() *Cache {
	return c.cache
}

func (c *Cached) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return single(ctx, c, req)
}

// GenerateBatch skips the backend entirely when every text is cached
func (c *Cached) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req, 0); err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = c.inner.Model()
	}

	out := make([]*Embedding, len(req.Texts))
	var missTexts []string
	var missIdx []int
	for i, text := range req.Texts {
		key := Key(model, text)
		if vec, ok := c.cache.Get(key); ok {
			out[i] = &Embedding{
				Vector:    vec,
				Dimension: len(vec),
				Provider:  c.inner.Provider(),
				Model:     model,
				Digest:    key,
			}
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	resp := &BatchEmbeddingResponse{
		Embeddings: out,
		Provider:   c.inner.Provider(),
		Model:      model,
		CacheHits:  len(req.Texts) - len(missTexts),
	}
	if len(missTexts) == 0 {
		return resp, nil
	}

	fresh, err := c.inner.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: missTexts, Model: req.Model})
	if err != nil {
		return nil, err
	}
	if len(fresh.Embeddings) != len(missTexts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", types.ErrChunkProcessing, len(missTexts), len(fresh.Embeddings))
	}
	for j, emb := range fresh.Embeddings {
		emb.Digest = Key(model, missTexts[j])
		c.cache.Put(emb.Digest, emb.Vector)
		out[missIdx[j]] = emb
	}
	return resp, nil
}

func (c *Cached) Dimension() int                   { return c.inner.Dimension() }
func (c *Cached) Provider() string                 { return c.inner.Provider() }
func (c *Cached) Model() string                    { return c.inner.Model() }
func (c *Cached) Health(ctx context.Context) error { return c.inner.Health(ctx) }
func (c *Cached) Close() error                     { return c.inner.Close() }
