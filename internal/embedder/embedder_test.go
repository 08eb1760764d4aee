package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/deltaindex/pkg/types"
)

// countingEmbedder records how many texts reach the backend
type countingEmbedder struct {
	LocalProvider
	mu    sync.Mutex
	calls int
	texts int
}

func (c *countingEmbedder) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	c.mu.Lock()
	c.calls++
	c.texts += len(req.Texts)
	c.mu.Unlock()
	return c.LocalProvider.GenerateBatch(ctx, req)
}

func TestKey(t *testing.T) {
	a := Key("m1", "hello")
	assert.Equal(t, a, Key("m1", "hello"))
	assert.NotEqual(t, a, Key("m2", "hello"), "model is part of the key")
	assert.Len(t, string(a), 64)
}

func TestValidateBatchRequest(t *testing.T) {
	assert.NoError(t, ValidateBatchRequest(BatchEmbeddingRequest{Texts: []string{"a"}}, 1))
	assert.ErrorIs(t, ValidateBatchRequest(BatchEmbeddingRequest{}, 0), ErrInvalidInput)
	assert.ErrorIs(t, ValidateBatchRequest(BatchEmbeddingRequest{Texts: []string{"a", ""}}, 0), types.ErrChunkProcessing)
	assert.ErrorIs(t, ValidateBatchRequest(BatchEmbeddingRequest{Texts: []string{"a", "b"}}, 1), ErrBatchTooLarge)
	assert.ErrorIs(t, ValidateRequest(EmbeddingRequest{}), ErrEmptyText)
}

func TestCache_CopiesAndEvicts(t *testing.T) {
	c := NewCache(2)
	in := []float32{1, 2}
	c.Put("h", in)
	in[1] = 42

	got, ok := c.Get("h")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, got)
	got[0] = 99

	again, _ := c.Get("h")
	assert.Equal(t, float32(1), again[0])

	c.Put("h2", nil)
	c.Put("h3", nil)
	assert.Equal(t, 2, c.Len())
	_, ok = c.Get("h")
	assert.False(t, ok, "least recently used entry evicted")

	hits, misses := c.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestCached_SkipsBackendForHits(t *testing.T) {
	inner := &countingEmbedder{LocalProvider: *NewLocalProvider()}
	emb := NewCached(inner, NewCache(100))
	ctx := context.Background()

	first, err := emb.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"alpha", "beta"}})
	require.NoError(t, err)
	assert.Equal(t, 0, first.CacheHits)
	assert.Equal(t, 1, inner.calls)

	second, err := emb.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"beta", "gamma", "alpha"}})
	require.NoError(t, err)
	assert.Equal(t, 2, second.CacheHits)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 3, inner.texts, "only gamma reached the backend")
	assert.Equal(t, first.Embeddings[1].Vector, second.Embeddings[0].Vector)
	assert.Equal(t, first.Embeddings[0].Vector, second.Embeddings[2].Vector)

	third, err := emb.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"gamma"}})
	require.NoError(t, err)
	assert.Equal(t, 1, third.CacheHits)
	assert.Equal(t, 2, inner.calls, "all-hit batch makes no call")
	assert.Equal(t, Key(inner.Model(), "gamma"), third.Embeddings[0].Digest)
}

func TestLocalVector(t *testing.T) {
	a := LocalVector("parse the config file")
	b := LocalVector("parse the config file")
	c := LocalVector("render html template")
	assert.Equal(t, a, b)
	assert.Len(t, a, LocalDimension)

	dot := func(x, y []float32) float32 {
		var s float32
		for i := range x {
			s += x[i] * y[i]
		}
		return s
	}
	assert.InDelta(t, 1.0, dot(a, a), 1e-5)
	assert.Greater(t, dot(a, LocalVector("parse config")), dot(a, c))
}

func TestNormalizeVector(t *testing.T) {
	assert.Equal(t, []float32{0.6, 0.8}, NormalizeVector([]float32{3, 4}))
	assert.Equal(t, []float32{0, 0}, NormalizeVector([]float32{0, 0}))
}

func TestOpenAIProvider_GenerateBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var body struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, DefaultOpenAIModel, body.Model)
		// out of order on purpose
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0,1],"index":1},{"embedding":[1,0],"index":0}],"model":"text-embedding-3-small"}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider("sk-test", srv.URL)
	require.NoError(t, err)
	resp, err := p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a", "b"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 2)
	assert.Equal(t, []float32{1, 0}, resp.Embeddings[0].Vector)
	assert.Equal(t, []float32{0, 1}, resp.Embeddings[1].Vector)
}

func TestOpenAIProvider_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1],"index":0}]}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider("k", srv.URL)
	require.NoError(t, err)
	_, err = p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a", "b"}})
	assert.ErrorIs(t, err, types.ErrChunkProcessing)
}

func TestJinaProvider_Throttled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := NewJinaProvider("jina-key", srv.URL)
	require.NoError(t, err)
	_, err = p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "x"})
	require.Error(t, err)
	assert.True(t, types.IsThrottled(err))
	assert.Equal(t, float64(7), types.RetryAfter(err).Seconds())
}

func TestOllamaProvider_GenerateBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		out := ollamaEmbedResponse{}
		for range req.Input {
			out.Embeddings = append(out.Embeddings, []float32{0.5, 0.5, 0.5})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "", 3)
	resp, err := p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a", "b", "c"}})
	require.NoError(t, err)
	assert.Len(t, resp.Embeddings, 3)
	assert.Equal(t, DefaultOllamaModel, resp.Model)
	assert.Equal(t, 3, p.Dimension())
}

func TestNew(t *testing.T) {
	t.Setenv(EnvJinaAPIKey, "")
	t.Setenv(EnvOpenAIAPIKey, "")

	emb, err := New(Config{Provider: "local"})
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, emb.Provider())

	emb, err = New(Config{Provider: "local", CacheSize: 10})
	require.NoError(t, err)
	assert.IsType(t, &Cached{}, emb)

	emb, err = New(Config{Provider: "ollama", Model: "mxbai-embed-large", Dimension: 1024})
	require.NoError(t, err)
	assert.Equal(t, "mxbai-embed-large", emb.Model())
	assert.Equal(t, 1024, emb.Dimension())

	_, err = New(Config{Provider: "openai"})
	assert.ErrorIs(t, err, ErrNoProviderEnabled)
	assert.True(t, types.IsFatal(err))

	_, err = New(Config{Provider: "nope"})
	assert.ErrorIs(t, err, ErrUnsupportedModel)

	assert.Equal(t, ProviderOllama, DetectProvider())
	t.Setenv(EnvOpenAIAPIKey, "sk")
	assert.Equal(t, ProviderOpenAI, DetectProvider())
	t.Setenv(EnvJinaAPIKey, "jk")
	assert.Equal(t, ProviderJina, DetectProvider())
}
