// Package summarizer generates natural-language summaries of chunks for
// the first pipeline phase.
package summarizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/deltaindex/pkg/types"
)

// Provider names
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "llama3.2"
	DefaultOpenAIURL   = "https://api.openai.com/v1"
	DefaultOpenAIModel = "gpt-4o-mini"

	// MaxInputChars truncates very large chunks before prompting
	MaxInputChars = 12000
)

var (
	// ErrNoProvider is returned when a provider lacks credentials
	ErrNoProvider = fmt.Errorf("%w: no summarization provider configured", types.ErrAuthOrConfig)
	// ErrEmptyText is returned for an item without text
	ErrEmptyText = fmt.Errorf("%w: text cannot be empty", types.ErrChunkProcessing)
	// ErrUnknownProvider is returned by New for an unrecognized provider name
	ErrUnknownProvider = fmt.Errorf("%w: unknown summarization provider", types.ErrAuthOrConfig)
)

// Request is one chunk to summarize
type Request struct {
	Text     string
	Path     string
	Language string
	Name     string
}

// Summarizer produces one summary per request, in order
type Summarizer interface {
	Summarize(ctx context.Context, items []Request) ([]string, error)
	Provider() string
	Model() string
	// Health reports whether the backend is reachable
	Health(ctx context.Context) error
	Close() error
}

const chunkSummaryPrompt = `Summarize this code in 1-2 sentences for a search index. Name what it defines and what it does. Be specific about the types, functions, or interfaces involved. Do not speculate about code not shown.

File: %s
Language: %s

%s`

func buildPrompt(r Request) string {
	text := r.Text
	if len(text) > MaxInputChars {
		text = text[:MaxInputChars]
	}
	lang := r.Language
	if lang == "" {
		lang = "unknown"
	}
	return fmt.Sprintf(chunkSummaryPrompt, r.Path, lang, text)
}

func validate(items []Request) error {
	for i, it := range items {
		if strings.TrimSpace(it.Text) == "" {
			return fmt.Errorf("item %d: %w", i, ErrEmptyText)
		}
	}
	return nil
}

// cleanSummary normalizes model output to a single paragraph
func cleanSummary(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
