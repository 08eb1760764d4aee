package embedder

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/deltaindex/pkg/types"
)

// Common errors. Input errors are chunk processing errors; missing
// credentials and unknown providers are configuration errors.
var (
	ErrInvalidInput      = fmt.Errorf("%w: invalid input", types.ErrChunkProcessing)
	ErrEmptyText         = fmt.Errorf("%w: text cannot be empty", types.ErrChunkProcessing)
	ErrBatchTooLarge     = fmt.Errorf("%w: batch size exceeds limit", types.ErrChunkProcessing)
	ErrUnsupportedModel  = fmt.Errorf("%w: unsupported model", types.ErrAuthOrConfig)
	ErrNoProviderEnabled = fmt.Errorf("%w: no embedding provider configured", types.ErrAuthOrConfig)
)

// Embedding is one vector and the backend that produced it
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Digest    types.Digest // Cache key, set by Cached
}

// EmbeddingRequest represents a request to generate embeddings
type EmbeddingRequest struct {
	Text  string
	Model string // Optional: override default model
}

// BatchEmbeddingRequest represents a batch request
type BatchEmbeddingRequest struct {
	Texts []string
	Model string // Optional: override default model
}

// BatchEmbeddingResponse holds one embedding per requested text, in
// request order. CacheHits counts texts that never reached the backend.
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
	CacheHits  int
}

// Embedder is an embedding backend. Errors are classified with the
// types error taxonomy: throttling and 5xx are transient, rejected
// credentials are auth/config, a bad input is a chunk processing error.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)
	// GenerateBatch makes at most one backend call for the whole batch
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	Dimension() int
	Provider() string
	Model() string

	// Health reports whether the backend is reachable
	Health(ctx context.Context) error
	Close() error
}

// DefaultCacheSize bounds a cache created with a non-positive size
const DefaultCacheSize = 10000

// Cache is an LRU of vectors keyed by Key(model, text). Vectors are copied
// in and out, so neither side can mutate a cached entry.
type Cache struct {
	lru    *lru.Cache[types.Digest, []float32]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache creates a cache holding up to size vectors
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	l, _ := lru.New[types.Digest, []float32](size) // only fails for size <= 0
	return &Cache{lru: l}
}

// Get returns a copy of the cached vector
func (c *Cache) Get(key types.Digest) ([]float32, bool) {
	vec, ok := c.lru.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return slices.Clone(vec), true
}

// Put stores a copy of vec, evicting the least recently used entry when full
func (c *Cache) Put(key types.Digest, vec []float32) {
	c.lru.Add(key, slices.Clone(vec))
}

// Len returns the number of cached vectors
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge empties the cache. Counters are kept.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Stats returns lookup counters since creation
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Key is the cache key of text. The model is part of the key so switching
// models never serves stale vectors.
func Key(model, text string) types.Digest {
	return types.ComputeDigest([]byte(model + "\x00" + text))
}

// ValidateRequest validates an embedding request
func ValidateRequest(req EmbeddingRequest) error {
	if req.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// ValidateBatchRequest validates a batch embedding request
func ValidateBatchRequest(req BatchEmbeddingRequest, maxBatch int) error {
	if len(req.Texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	if maxBatch > 0 && len(req.Texts) > maxBatch {
		return fmt.Errorf("%w: %d texts, max %d", ErrBatchTooLarge, len(req.Texts), maxBatch)
	}
	for i, text := range req.Texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}
	return nil
}

// single adapts GenerateBatch to a single request
func single(ctx context.Context, e Embedder, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	resp, err := e.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}, Model: req.Model})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", types.ErrChunkProcessing)
	}
	return resp.Embeddings[0], nil
}
