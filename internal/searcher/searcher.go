// Package searcher answers queries against the vector store. With dual
// embedding on, each chunk's content and summary similarities are blended
// into one relevance score.
package searcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/deltaindex/internal/embedder"
	"github.com/dshills/deltaindex/internal/storage"
	"github.com/dshills/deltaindex/pkg/types"
)

const (
	// DefaultLimit is used when a request sets no limit
	DefaultLimit = 10
	// MaxLimit caps a single request
	MaxLimit = 100
	// DefaultCacheSize is the number of cached responses
	DefaultCacheSize = 1000
	// DefaultCacheTTL bounds the age of a cached response
	DefaultCacheTTL = time.Hour

	// candidateFactor widens the vector search so both kinds of a chunk
	// usually land in the candidate pool
	candidateFactor = 4
)

// Weights blend the two similarities of a chunk
type Weights struct {
	Content float64
	Summary float64
}

// DefaultWeights favour the raw content
var DefaultWeights = Weights{Content: 0.6, Summary: 0.4}

// Validate rejects negative weights and an all-zero blend
func (w Weights) Validate() error {
	if w.Content < 0 || w.Summary < 0 {
		return fmt.Errorf("weights must not be negative")
	}
	if w.Content+w.Summary == 0 {
		return fmt.Errorf("weights must not both be zero")
	}
	return nil
}

// Index is the part of the vector store a searcher needs
type Index interface {
	Search(ctx context.Context, query []float32, limit int, filters *storage.SearchFilters) ([]storage.Match, error)
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query    string
	Limit    int
	Filters  *storage.SearchFilters
	UseCache bool // Whether to use query cache
	CacheTTL time.Duration
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results      []types.SearchResult
	TotalResults int
	Candidates   int // Vectors returned by the store before grouping
	Duration     time.Duration
	CacheHit     bool
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher embeds queries and ranks chunks
type Searcher struct {
	index    Index
	embedder embedder.Embedder
	weights  Weights
	dual     bool
	cache    *lru.Cache[[32]byte, *cacheEntry]
	cacheMu  sync.Mutex
}

// NewSearcher creates a searcher. dual selects blended scoring; weights
// are normalized to sum to one.
func NewSearcher(index Index, emb embedder.Embedder, weights Weights, dual bool) (*Searcher, error) {
	if index == nil || emb == nil {
		return nil, fmt.Errorf("searcher requires an index and an embedder")
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	total := weights.Content + weights.Summary
	weights = Weights{Content: weights.Content / total, Summary: weights.Summary / total}

	cache, err := lru.New[[32]byte, *cacheEntry](DefaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &Searcher{index: index, embedder: emb, weights: weights, dual: dual, cache: cache}, nil
}

// Search performs a search based on the request parameters
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if err := validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	key := computeQueryHash(req)
	if req.UseCache {
		if cached := s.checkCache(key); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(startTime)
			return cached, nil
		}
	}

	emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: req.Query})
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	matches, err := s.index.Search(ctx, emb.Vector, req.Limit*candidateFactor, s.filters(req.Filters))
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results := s.rank(matches, req.Limit)
	response := &SearchResponse{
		Results:      results,
		TotalResults: len(results),
		Candidates:   len(matches),
		Duration:     time.Since(startTime),
	}

	if req.UseCache && len(results) > 0 {
		s.storeInCache(key, req.CacheTTL, response)
	}
	return response, nil
}

// filters restricts single-embedding searches to content vectors, so
// summary vectors left by an earlier dual run do not leak into scores
func (s *Searcher) filters(f *storage.SearchFilters) *storage.SearchFilters {
	if s.dual || (f != nil && len(f.Kinds) > 0) {
		return f
	}
	out := storage.SearchFilters{}
	if f != nil {
		out = *f
	}
	out.Kinds = []types.EmbeddingKind{types.EmbeddingContent}
	return &out
}

// rank groups matches by parent chunk and blends their scores
func (s *Searcher) rank(matches []storage.Match, limit int) []types.SearchResult {
	byChunk := make(map[string]*types.SearchResult)
	order := make([]string, 0, len(matches))

	for _, m := range matches {
		r, ok := byChunk[m.Record.ChunkID]
		if !ok {
			r = &types.SearchResult{
				ChunkID:   m.Record.ChunkID,
				FilePath:  m.Record.FilePath,
				StartLine: m.Record.StartLine,
				EndLine:   m.Record.EndLine,
				Name:      m.Record.Name,
				Summary:   m.Record.Summary,
			}
			byChunk[m.Record.ChunkID] = r
			order = append(order, m.Record.ChunkID)
		}
		score := clamp(m.Score)
		switch m.Record.Kind {
		case types.EmbeddingSummary:
			r.SummaryScore = max(r.SummaryScore, score)
		default:
			r.ContentScore = max(r.ContentScore, score)
		}
	}

	results := make([]types.SearchResult, 0, len(order))
	for _, id := range order {
		r := byChunk[id]
		if s.dual {
			r.RelevanceScore = s.weights.Content*r.ContentScore + s.weights.Summary*r.SummaryScore
		} else {
			r.RelevanceScore = max(r.ContentScore, r.SummaryScore)
		}
		results = append(results, *r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].RelevanceScore != results[j].RelevanceScore {
			return results[i].RelevanceScore > results[j].RelevanceScore
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

// clamp maps cosine similarity onto [0,1]; opposed vectors score zero
func clamp(score float64) float64 {
	return min(max(score, 0), 1)
}

func validateRequest(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		return fmt.Errorf("limit %d exceeds maximum %d", req.Limit, MaxLimit)
	}
	if req.CacheTTL == 0 {
		req.CacheTTL = DefaultCacheTTL
	}
	return nil
}

// checkCache returns a copy of a live cached response, or nil
func (s *Searcher) checkCache(key [32]byte) *SearchResponse {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	entry, found := s.cache.Get(key)
	if !found {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		s.cache.Remove(key)
		return nil
	}
	return copySearchResponse(entry.response)
}

func (s *Searcher) storeInCache(key [32]byte, ttl time.Duration, response *SearchResponse) {
	s.cacheMu.Lock()
	s.cache.Add(key, &cacheEntry{response: copySearchResponse(response), expiresAt: time.Now().Add(ttl)})
	s.cacheMu.Unlock()
}

func copySearchResponse(src *SearchResponse) *SearchResponse {
	dst := *src
	dst.Results = append([]types.SearchResult(nil), src.Results...)
	return &dst
}

// InvalidateCache drops every cached response. Call it after the index changes.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen returns the number of cached responses
func (s *Searcher) CacheLen() int {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.cache.Len()
}

// computeQueryHash computes a unique hash for a search request
func computeQueryHash(req SearchRequest) [32]byte {
	var data strings.Builder
	data.WriteString(req.Query)
	fmt.Fprintf(&data, "|%d", req.Limit)

	if req.Filters != nil {
		data.WriteString("|filters:")
		for _, k := range req.Filters.Kinds {
			data.WriteString(string(k))
			data.WriteString(",")
		}
		data.WriteString("|")
		data.WriteString(req.Filters.FilePattern)
		fmt.Fprintf(&data, "|%.4f", req.Filters.MinScore)
	}

	return sha256.Sum256([]byte(data.String()))
}
