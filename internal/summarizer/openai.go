package summarizer

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dshills/deltaindex/internal/backend"
	"github.com/dshills/deltaindex/pkg/types"
)

// EnvOpenAIAPIKey is read when no key is configured
const EnvOpenAIAPIKey = "OPENAI_API_KEY"

type openAIChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// OpenAISummarizer calls the chat completions API, one request per item
type OpenAISummarizer struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewOpenAI creates an OpenAI summarizer. The key falls back to OPENAI_API_KEY.
func NewOpenAI(apiKey, baseURL, model string) (*OpenAISummarizer, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProvider, EnvOpenAIAPIKey)
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIURL
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAISummarizer{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  backend.NewHTTPClient(60 * time.Second),
	}, nil
}

func (o *OpenAISummarizer) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + o.apiKey}
}

func (o *OpenAISummarizer) Summarize(ctx context.Context, items []Request) ([]string, error) {
	if err := validate(items); err != nil {
		return nil, err
	}
	out := make([]string, len(items))
	for i, it := range items {
		var resp openAIChatResponse
		err := backend.PostJSON(ctx, o.client, ProviderOpenAI, o.baseURL+"/chat/completions", o.headers(), openAIChatRequest{
			Model:       o.model,
			Messages:    []Message{{Role: "user", Content: buildPrompt(it)}},
			Temperature: 0.2,
			MaxTokens:   200,
		}, &resp)
		if err != nil {
			return nil, fmt.Errorf("summarize item %d: %w", i, err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("summarize item %d: %w: no choices returned", i, types.ErrChunkProcessing)
		}
		out[i] = cleanSummary(resp.Choices[0].Message.Content)
		if out[i] == "" {
			return nil, fmt.Errorf("summarize item %d: %w: empty response", i, types.ErrChunkProcessing)
		}
	}
	return out, nil
}

func (o *OpenAISummarizer) Provider() string { return ProviderOpenAI }
func (o *OpenAISummarizer) Model() string    { return o.model }

// Health probes GET /models, which also validates the key
func (o *OpenAISummarizer) Health(ctx context.Context) error {
	return backend.Ping(ctx, o.client, ProviderOpenAI, o.baseURL+"/models", o.headers())
}

func (o *OpenAISummarizer) Close() error {
	o.client.CloseIdleConnections()
	return nil
}
