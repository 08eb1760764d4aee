package summarizer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dshills/deltaindex/internal/backend"
	"github.com/dshills/deltaindex/pkg/types"
)

// Message represents a single chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatResponse struct {
	Message Message `json:"message"`
}

// OllamaSummarizer calls the Ollama /api/chat endpoint, one request per item
type OllamaSummarizer struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a summarizer targeting the given Ollama instance and model
func NewOllama(baseURL, model string) *OllamaSummarizer {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	return &OllamaSummarizer{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  backend.NewHTTPClient(5 * time.Minute),
	}
}

func (o *OllamaSummarizer) Summarize(ctx context.Context, items []Request) ([]string, error) {
	if err := validate(items); err != nil {
		return nil, err
	}
	out := make([]string, len(items))
	for i, it := range items {
		var resp ollamaChatResponse
		err := backend.PostJSON(ctx, o.client, ProviderOllama, o.baseURL+"/api/chat", nil, ollamaChatRequest{
			Model:    o.model,
			Messages: []Message{{Role: "user", Content: buildPrompt(it)}},
		}, &resp)
		if err != nil {
			return nil, fmt.Errorf("summarize item %d: %w", i, err)
		}
		out[i] = cleanSummary(resp.Message.Content)
		if out[i] == "" {
			return nil, fmt.Errorf("summarize item %d: %w: empty response", i, types.ErrChunkProcessing)
		}
	}
	return out, nil
}

func (o *OllamaSummarizer) Provider() string { return ProviderOllama }
func (o *OllamaSummarizer) Model() string    { return o.model }

// Health probes GET /api/tags
func (o *OllamaSummarizer) Health(ctx context.Context) error {
	return backend.Ping(ctx, o.client, ProviderOllama, o.baseURL+"/api/tags", nil)
}

func (o *OllamaSummarizer) Close() error {
	o.client.CloseIdleConnections()
	return nil
}
