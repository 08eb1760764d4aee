package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dshills/deltaindex/internal/backend"
	"github.com/dshills/deltaindex/pkg/types"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderLocal  = "local"

	// Default endpoints
	DefaultJinaURL   = "https://api.jina.ai/v1"
	DefaultOpenAIURL = "https://api.openai.com/v1"
	DefaultOllamaURL = "http://localhost:11434"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultOllamaModel = "nomic-embed-text"

	// Dimensions
	JinaDimension   = 1024
	OpenAIDimension = 1536
	OllamaDimension = 768
	LocalDimension  = 384

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100

	// Environment variables holding provider keys
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// openAIEmbeddingResponse is shared by the OpenAI-compatible APIs (OpenAI, Jina)
type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// httpProvider implements Embedder for OpenAI-compatible /embeddings APIs
type httpProvider struct {
	name       string
	apiKey     string
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client
}

// JinaProvider implements Embedder using Jina AI API
type JinaProvider struct{ httpProvider }

// NewJinaProvider creates a new Jina AI embedder
func NewJinaProvider(apiKey, baseURL string) (*JinaProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvJinaAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvJinaAPIKey)
	}
	if baseURL == "" {
		baseURL = DefaultJinaURL
	}
	return &JinaProvider{httpProvider{
		name:       ProviderJina,
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      DefaultJinaModel,
		dimension:  JinaDimension,
		httpClient: backend.NewHTTPClient(30 * time.Second),
	}}, nil
}

// OpenAIProvider implements Embedder using OpenAI API
type OpenAIProvider struct{ httpProvider }

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(apiKey, baseURL string) (*OpenAIProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIURL
	}
	return &OpenAIProvider{httpProvider{
		name:       ProviderOpenAI,
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      DefaultOpenAIModel,
		dimension:  OpenAIDimension,
		httpClient: backend.NewHTTPClient(30 * time.Second),
	}}, nil
}

func (p *httpProvider) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + p.apiKey}
}

func (p *httpProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return single(ctx, p, req)
}

// GenerateBatch makes exactly one API call; retries are the caller's concern
func (p *httpProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req, MaxBatchSize); err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = p.model
	}

	var apiResp openAIEmbeddingResponse
	err := backend.PostJSON(ctx, p.httpClient, p.name, p.baseURL+"/embeddings", p.headers(),
		map[string]interface{}{"input": req.Texts, "model": model}, &apiResp)
	if err != nil {
		return nil, err
	}
	if len(apiResp.Data) != len(req.Texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", types.ErrChunkProcessing, len(req.Texts), len(apiResp.Data))
	}

	sort.Slice(apiResp.Data, func(i, j int) bool { return apiResp.Data[i].Index < apiResp.Data[j].Index })
	embeddings := make([]*Embedding, len(apiResp.Data))
	for i, data := range apiResp.Data {
		embeddings[i] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  p.name,
			Model:     model,
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   p.name,
		Model:      model,
	}, nil
}

func (p *httpProvider) Dimension() int {
	return p.dimension
}

func (p *httpProvider) Provider() string {
	return p.name
}

func (p *httpProvider) Model() string {
	return p.model
}

// Health probes GET /models, which also validates the key
func (p *httpProvider) Health(ctx context.Context) error {
	return backend.Ping(ctx, p.httpClient, p.name, p.baseURL+"/models", p.headers())
}

func (p *httpProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider derives deterministic pseudo-embeddings from text hashes.
// It needs no backend and is meant for offline use and tests.
type LocalProvider struct {
	model string
}

// NewLocalProvider creates a new local embedder
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{model: "local-embeddings"}
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return single(ctx, l, req)
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req, 0); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		embeddings[i] = &Embedding{
			Vector:    LocalVector(text),
			Dimension: LocalDimension,
			Provider:  ProviderLocal,
			Model:     l.model,
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      l.model,
	}, nil
}

// LocalVector hashes each lowercased word into a bucket of a unit vector,
// so texts sharing words have positive cosine similarity
func LocalVector(text string) []float32 {
	vector := make([]float32, LocalDimension)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := sha256.Sum256([]byte(word))
		idx := binary.BigEndian.Uint32(h[:4]) % LocalDimension
		vector[idx]++
	}
	return NormalizeVector(vector)
}

func (l *LocalProvider) Dimension() int {
	return LocalDimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Health(ctx context.Context) error {
	return nil
}

func (l *LocalProvider) Close() error {
	return nil
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
