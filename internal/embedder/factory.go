package embedder

import (
	"fmt"
	"os"
	"strings"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int // Only used by Ollama, whose models vary
	CacheSize int // Zero disables the cache wrapper
}

// New creates an embedder with explicit configuration. An empty provider is
// resolved with DetectProvider.
func New(cfg Config) (Embedder, error) {
	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = DetectProvider()
	}

	var emb Embedder
	switch provider {
	case ProviderJina:
		p, err := NewJinaProvider(cfg.APIKey, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.Model != "" {
			p.model = cfg.Model
		}
		emb = p
	case ProviderOpenAI:
		p, err := NewOpenAIProvider(cfg.APIKey, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.Model != "" {
			p.model = cfg.Model
		}
		emb = p
	case ProviderOllama:
		emb = NewOllamaProvider(cfg.BaseURL, cfg.Model, cfg.Dimension)
	case ProviderLocal:
		emb = NewLocalProvider()
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}

	if cfg.CacheSize > 0 {
		return NewCached(emb, NewCache(cfg.CacheSize)), nil
	}
	return emb, nil
}

// DetectProvider returns the provider that would be used based on current environment
// Priority:
// 1. JINA_API_KEY
// 2. OPENAI_API_KEY
// 3. Ollama on localhost
func DetectProvider() string {
	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	return ProviderOllama
}
