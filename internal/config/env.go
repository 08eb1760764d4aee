package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/deltaindex/internal/embedder"
	"github.com/dshills/deltaindex/internal/summarizer"
)

// EnvPrefix prefixes every configuration environment variable
const EnvPrefix = "DELTAINDEX_"

type kind int

const (
	kString kind = iota
	kInt
	kBool
	kFloat
	kDuration
)

// envSpec maps one environment variable onto a config field
type envSpec struct {
	name  string
	typ   kind
	apply func(c *Config, v any)
}

var envSpecs = []envSpec{
	{"DATA_DIR", kString, func(c *Config, v any) { c.DataDir = v.(string) }},
	{"DATABASE", kString, func(c *Config, v any) { c.Database = v.(string) }},
	{"COLLECTION", kString, func(c *Config, v any) { c.Collection = v.(string) }},
	{"PARALLELISM", kInt, func(c *Config, v any) { c.Parallelism = v.(int) }},
	{"MAX_RETRIES", kInt, func(c *Config, v any) { c.MaxRetries = v.(int) }},
	{"MAX_TRANSIENT_RETRIES", kInt, func(c *Config, v any) { c.MaxTransientRetries = v.(int) }},
	{"DUAL_EMBEDDING", kBool, func(c *Config, v any) { c.DualEmbedding = v.(bool) }},
	{"FAN_IN_THRESHOLD", kInt, func(c *Config, v any) { c.FanInThreshold = v.(int) }},
	{"SUMMARIZER_PROVIDER", kString, func(c *Config, v any) { c.Summarizer.Provider = v.(string) }},
	{"SUMMARIZER_MODEL", kString, func(c *Config, v any) { c.Summarizer.Model = v.(string) }},
	{"SUMMARIZER_URL", kString, func(c *Config, v any) { c.Summarizer.BaseURL = v.(string) }},
	{"EMBEDDER_PROVIDER", kString, func(c *Config, v any) { c.Embedder.Provider = v.(string) }},
	{"EMBEDDER_MODEL", kString, func(c *Config, v any) { c.Embedder.Model = v.(string) }},
	{"EMBEDDER_URL", kString, func(c *Config, v any) { c.Embedder.BaseURL = v.(string) }},
	{"EMBEDDER_DIMENSION", kInt, func(c *Config, v any) { c.Embedder.Dimension = v.(int) }},
	{"SUMMARIZE_MAX_BATCH", kInt, func(c *Config, v any) { c.Quotas.Summarize.MaxBatch = v.(int) }},
	{"EMBED_MAX_BATCH", kInt, func(c *Config, v any) { c.Quotas.Embed.MaxBatch = v.(int) }},
	{"SUMMARIZE_MAX_DELAY", kDuration, func(c *Config, v any) { c.Quotas.Summarize.MaxDelay = Duration(v.(time.Duration)) }},
	{"EMBED_MAX_DELAY", kDuration, func(c *Config, v any) { c.Quotas.Embed.MaxDelay = Duration(v.(time.Duration)) }},
	{"CONTENT_WEIGHT", kFloat, func(c *Config, v any) { c.Search.ContentWeight = v.(float64) }},
	{"SUMMARY_WEIGHT", kFloat, func(c *Config, v any) { c.Search.SummaryWeight = v.(float64) }},
	{"WATCH_DEBOUNCE", kDuration, func(c *Config, v any) { c.Watch.Debounce = Duration(v.(time.Duration)) }},
}

// applyEnv overlays DELTAINDEX_* variables and provider API keys
func applyEnv(c *Config, env map[string]string) error {
	for _, s := range envSpecs {
		name := EnvPrefix + s.name
		raw, ok := env[name]
		if !ok || raw == "" {
			continue
		}
		v, err := parse(s.typ, raw)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrConfigInvalid, name, raw, err)
		}
		s.apply(c, v)
	}

	// Keys are only taken from the environment, never from the project file
	if strings.EqualFold(c.Summarizer.Provider, summarizer.ProviderOpenAI) || c.Summarizer.Provider == "" {
		c.Summarizer.APIKey = env[summarizer.EnvOpenAIAPIKey]
	}
	switch strings.ToLower(c.Embedder.Provider) {
	case embedder.ProviderJina:
		c.Embedder.APIKey = env[embedder.EnvJinaAPIKey]
	case embedder.ProviderOpenAI:
		c.Embedder.APIKey = env[embedder.EnvOpenAIAPIKey]
	}
	return nil
}

func parse(typ kind, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

// Environ returns the process environment as a map
func Environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
