package summarizer

import (
	"fmt"
	"os"
	"strings"
)

// Config holds summarizer configuration
type Config struct {
	Provider string
	BaseURL  string
	Model    string
	APIKey   string
}

// New creates a summarizer with explicit configuration. An empty provider
// is resolved with DetectProvider.
func New(cfg Config) (Summarizer, error) {
	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = DetectProvider()
	}
	switch provider {
	case ProviderOllama:
		return NewOllama(cfg.BaseURL, cfg.Model), nil
	case ProviderOpenAI:
		return NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case ProviderLocal:
		return NewLocal(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
}

// DetectProvider returns the provider that would be used based on the environment:
// OpenAI when a key is present, otherwise Ollama
func DetectProvider() string {
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	return ProviderOllama
}
