package embedder

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dshills/deltaindex/internal/backend"
	"github.com/dshills/deltaindex/pkg/types"
)

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// OllamaProvider calls the Ollama /api/embed endpoint
type OllamaProvider struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
}

// NewOllamaProvider creates an embedder targeting the given Ollama instance.
// dimension is the model's output size; zero means OllamaDimension.
func NewOllamaProvider(baseURL, model string, dimension int) *OllamaProvider {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	if dimension <= 0 {
		dimension = OllamaDimension
	}
	return &OllamaProvider{
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     model,
		dimension: dimension,
		client:    backend.NewHTTPClient(120 * time.Second),
	}
}

func (o *OllamaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return single(ctx, o, req)
}

// GenerateBatch sends the batch in one request; the returned slice has the
// same length and order as the input
func (o *OllamaProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req, MaxBatchSize); err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = o.model
	}

	var result ollamaEmbedResponse
	if err := backend.PostJSON(ctx, o.client, ProviderOllama, o.baseURL+"/api/embed", nil,
		ollamaEmbedRequest{Model: model, Input: req.Texts}, &result); err != nil {
		return nil, err
	}
	if len(result.Embeddings) != len(req.Texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", types.ErrChunkProcessing, len(req.Texts), len(result.Embeddings))
	}

	embeddings := make([]*Embedding, len(result.Embeddings))
	for i, vec := range result.Embeddings {
		embeddings[i] = &Embedding{
			Vector:    vec,
			Dimension: len(vec),
			Provider:  ProviderOllama,
			Model:     model,
		}
	}
	return &BatchEmbeddingResponse{Embeddings: embeddings, Provider: ProviderOllama, Model: model}, nil
}

func (o *OllamaProvider) Dimension() int   { return o.dimension }
func (o *OllamaProvider) Provider() string { return ProviderOllama }
func (o *OllamaProvider) Model() string    { return o.model }

// Health probes GET /api/tags
func (o *OllamaProvider) Health(ctx context.Context) error {
	return backend.Ping(ctx, o.client, ProviderOllama, o.baseURL+"/api/tags", nil)
}

func (o *OllamaProvider) Close() error {
	o.client.CloseIdleConnections()
	return nil
}
