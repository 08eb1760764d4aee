package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/deltaindex/internal/pipeline"
	"github.com/dshills/deltaindex/pkg/types"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	root := t.TempDir()
	cfg, err := Load(LoadInput{Root: root})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, root, cfg.Root)
	assert.Equal(t, filepath.Join(root, ".deltaindex"), cfg.DataDir)
	assert.Equal(t, filepath.Join(root, ".deltaindex", DatabaseFile), cfg.Database)
	assert.Empty(t, cfg.Source)
	assert.Equal(t, 4, cfg.Parallelism)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.Debounce.Std())
	assert.InDelta(t, 0.6, cfg.Search.ContentWeight, 1e-9)

	q := cfg.Scheduler(pipeline.PhaseEmbed)
	assert.Equal(t, pipeline.PhaseEmbed, q.Quota)
	assert.Equal(t, 1, q.MinBatch)
	assert.Equal(t, 16, q.MaxBatch)
	assert.Equal(t, time.Second, q.InitialDelay)
	assert.Equal(t, 30*time.Second, q.MaxDelay)
}

func TestLoad_ProjectFileWithComments(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `{
		// local models only
		"dual_embedding": true,
		"parallelism": 2,
		"summarizer": {"provider": "ollama", "model": "phi3.5"},
		"quotas": {
			"embed": {"max_batch": 32, "max_delay": "1m"},
		},
		"walk": {"exclude": ["*.gen.go"]},
	}`)

	cfg, err := Load(LoadInput{Root: root})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, filepath.Join(root, FileName), cfg.Source)
	assert.True(t, cfg.DualEmbedding)
	assert.Equal(t, 2, cfg.Parallelism)
	assert.Equal(t, "phi3.5", cfg.Summarizer.Model)
	assert.Equal(t, 32, cfg.Quotas.Embed.MaxBatch)
	assert.Equal(t, time.Minute, cfg.Quotas.Embed.MaxDelay.Std())
	// Keys absent from the file keep their defaults
	assert.Equal(t, 1, cfg.Quotas.Embed.MinBatch)
	assert.Equal(t, 16, cfg.Quotas.Summarize.MaxBatch)

	ic := cfg.Indexer()
	assert.True(t, ic.Pipeline.DualEmbedding)
	assert.Equal(t, []string{"*.gen.go"}, ic.Walk.ExcludeGlobs)
	assert.Equal(t, 32, ic.Embed.MaxBatch)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `{"parallelism": 2, "embedder": {"provider": "jina"}}`)

	cfg, err := Load(LoadInput{Root: root, Env: map[string]string{
		"DELTAINDEX_PARALLELISM":     "8",
		"DELTAINDEX_DUAL_EMBEDDING":  "true",
		"DELTAINDEX_EMBED_MAX_DELAY": "45s",
		"DELTAINDEX_DATA_DIR":        "state",
		"JINA_API_KEY":               "jina-key",
		"OPENAI_API_KEY":             "openai-key",
	}})
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Parallelism)
	assert.True(t, cfg.DualEmbedding)
	assert.Equal(t, 45*time.Second, cfg.Quotas.Embed.MaxDelay.Std())
	assert.Equal(t, filepath.Join(root, "state"), cfg.DataDir)
	assert.Equal(t, "jina-key", cfg.EmbedderConfig().APIKey)
	assert.Equal(t, "openai-key", cfg.SummarizerConfig().APIKey)
}

func TestLoad_BadEnvValue(t *testing.T) {
	_, err := Load(LoadInput{Root: t.TempDir(), Env: map[string]string{"DELTAINDEX_PARALLELISM": "many"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigInvalid)
	assert.ErrorIs(t, err, types.ErrAuthOrConfig)
}

func TestLoad_InvalidFile(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `{"parallelism": }`)
	_, err := Load(LoadInput{Root: root})
	assert.ErrorIs(t, err, ErrConfigInvalid)

	writeConfig(t, root, `{"watch": {"debounce": 5}}`)
	_, err = Load(LoadInput{Root: root})
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	_, err := Load(LoadInput{Root: t.TempDir(), ConfigPath: "missing.json"})
	assert.ErrorIs(t, err, ErrConfigFileNotFound)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"min batch above max", func(c *Config) { c.Quotas.Embed.MinBatch = 32 }},
		{"initial delay above max", func(c *Config) { c.Quotas.Summarize.InitialDelay = Duration(time.Hour) }},
		{"zero initial delay", func(c *Config) { c.Quotas.Embed.InitialDelay = 0 }},
		{"zero parallelism", func(c *Config) { c.Parallelism = 0 }},
		{"no retries", func(c *Config) { c.MaxRetries = 0 }},
		{"zero weights", func(c *Config) { c.Search.ContentWeight, c.Search.SummaryWeight = 0, 0 }},
		{"empty collection", func(c *Config) { c.Collection = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrAuthOrConfig)
		})
	}

	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestDuration_JSON(t *testing.T) {
	d := Duration(1500 * time.Millisecond)
	b, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1.5s"`, string(b))

	var back Duration
	require.NoError(t, back.UnmarshalJSON(b))
	assert.Equal(t, d, back)
}
