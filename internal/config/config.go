// Package config loads layered configuration: defaults, then the JSONC
// project file, then DELTAINDEX_* environment variables. CLI flags are
// applied by the caller before Validate.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/hujson"

	"github.com/dshills/deltaindex/internal/deadletter"
	"github.com/dshills/deltaindex/internal/embedder"
	"github.com/dshills/deltaindex/internal/indexer"
	"github.com/dshills/deltaindex/internal/pipeline"
	"github.com/dshills/deltaindex/internal/scheduler"
	"github.com/dshills/deltaindex/internal/searcher"
	"github.com/dshills/deltaindex/internal/storage"
	"github.com/dshills/deltaindex/internal/summarizer"
	"github.com/dshills/deltaindex/internal/walker"
	"github.com/dshills/deltaindex/pkg/types"
)

// FileName is the project config file looked up in the indexed root
const FileName = ".deltaindex.json"

// DatabaseFile is the default vector store file inside the data directory
const DatabaseFile = "vectors.db"

var (
	ErrConfigInvalid      = fmt.Errorf("%w: invalid configuration", types.ErrAuthOrConfig)
	ErrConfigFileNotFound = fmt.Errorf("%w: config file not found", types.ErrAuthOrConfig)
)

// Duration is a time.Duration written as a Go duration string in JSON
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"1s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all configuration options
type Config struct {
	DataDir    string `json:"data_dir,omitempty"`
	Database   string `json:"database,omitempty"`
	Collection string `json:"collection,omitempty"`

	Walk           WalkConfig `json:"walk"`
	FanInThreshold int        `json:"fan_in_threshold,omitempty"`

	Parallelism         int  `json:"parallelism"`
	MaxRetries          int  `json:"max_retries"`
	MaxTransientRetries int  `json:"max_transient_retries"`
	DualEmbedding       bool `json:"dual_embedding"`
	EmbeddingCacheSize  int  `json:"embedding_cache_size,omitempty"`

	Summarizer ProviderConfig `json:"summarizer"`
	Embedder   ProviderConfig `json:"embedder"`

	Quotas QuotasConfig `json:"quotas"`
	Search SearchConfig `json:"search"`
	Watch  WatchConfig  `json:"watch"`

	// Resolved, not serialized
	Root   string `json:"-"`
	Source string `json:"-"` // Config file that was loaded, if any
}

// WalkConfig controls file discovery
type WalkConfig struct {
	IncludeVendor bool     `json:"include_vendor,omitempty"`
	ScanAll       bool     `json:"scan_all,omitempty"`
	MaxFileBytes  int64    `json:"max_file_bytes,omitempty"`
	Exclude       []string `json:"exclude,omitempty"`
}

// ProviderConfig selects a summarization or embedding backend
type ProviderConfig struct {
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	BaseURL   string `json:"base_url,omitempty"`
	Dimension int    `json:"dimension,omitempty"` // Embedders with model-dependent dimensions only
	APIKey    string `json:"-"`                   // Environment only
}

// QuotaConfig bounds one scheduler
type QuotaConfig struct {
	MinBatch     int      `json:"min_batch"`
	MaxBatch     int      `json:"max_batch"`
	InitialDelay Duration `json:"initial_delay"`
	MaxDelay     Duration `json:"max_delay"`
	Window       Duration `json:"window"`
	MaxRequests  int      `json:"max_requests_per_window,omitempty"`
	MaxTokens    int      `json:"max_tokens_per_window,omitempty"`
	Jitter       float64  `json:"jitter"`
}

// QuotasConfig holds one quota per backend
type QuotasConfig struct {
	Summarize QuotaConfig `json:"summarize"`
	Embed     QuotaConfig `json:"embed"`
}

// SearchConfig controls query-side scoring
type SearchConfig struct {
	ContentWeight float64  `json:"content_weight"`
	SummaryWeight float64  `json:"summary_weight"`
	CacheTTL      Duration `json:"cache_ttl"`
}

// WatchConfig controls watch mode
type WatchConfig struct {
	Debounce Duration `json:"debounce"`
}

func defaultQuota(quota string) QuotaConfig {
	d := scheduler.DefaultConfig(quota)
	return QuotaConfig{
		MinBatch:     d.MinBatch,
		MaxBatch:     d.MaxBatch,
		InitialDelay: Duration(d.InitialDelay),
		MaxDelay:     Duration(d.MaxDelay),
		Window:       Duration(d.Window),
		Jitter:       d.Jitter,
	}
}

// Default returns the default configuration
func Default() Config {
	return Config{
		Collection:          storage.DefaultCollection,
		Parallelism:         pipeline.DefaultParallelism,
		MaxRetries:          deadletter.DefaultMaxRetries,
		MaxTransientRetries: pipeline.DefaultMaxTransientRetries,
		EmbeddingCacheSize:  indexer.DefaultEmbeddingCacheSize,
		Quotas: QuotasConfig{
			Summarize: defaultQuota(pipeline.PhaseSummarize),
			Embed:     defaultQuota(pipeline.PhaseEmbed),
		},
		Search: SearchConfig{
			ContentWeight: searcher.DefaultWeights.Content,
			SummaryWeight: searcher.DefaultWeights.Summary,
			CacheTTL:      Duration(searcher.DefaultCacheTTL),
		},
		Watch: WatchConfig{Debounce: Duration(500 * time.Millisecond)},
	}
}

// LoadInput holds the inputs for Load
type LoadInput struct {
	Root       string            // Indexed tree; defaults to the working directory
	ConfigPath string            // Explicit config file; must exist when set
	Env        map[string]string // Environment variables
}

// Load resolves configuration with the following precedence (highest wins):
// defaults, the project file (<root>/.deltaindex.json or ConfigPath), then
// the environment. The result is not validated.
func Load(in LoadInput) (Config, error) {
	root := in.Root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return Config{}, fmt.Errorf("resolve root: %w", err)
	}

	cfg := Default()
	cfg.Root = root

	path, mustExist := filepath.Join(root, FileName), false
	if in.ConfigPath != "" {
		path, mustExist = in.ConfigPath, true
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
	}
	loaded, err := loadFile(&cfg, path, mustExist)
	if err != nil {
		return Config{}, err
	}
	if loaded {
		cfg.Source = path
	}

	if err := applyEnv(&cfg, in.Env); err != nil {
		return Config{}, err
	}
	cfg.resolvePaths()
	return cfg, nil
}

// loadFile overlays a JSONC file onto cfg. Absent keys keep their values.
func loadFile(cfg *Config, path string, mustExist bool) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !mustExist {
			return false, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		return false, fmt.Errorf("read config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return false, fmt.Errorf("%w %s: invalid JSONC: %v", ErrConfigInvalid, path, err)
	}
	if err := json.Unmarshal(standardized, cfg); err != nil {
		return false, fmt.Errorf("%w %s: %v", ErrConfigInvalid, path, err)
	}
	return true, nil
}

func (c *Config) resolvePaths() {
	if c.DataDir == "" {
		c.DataDir = filepath.Join(c.Root, indexer.DataDirName)
	} else if !filepath.IsAbs(c.DataDir) {
		c.DataDir = filepath.Join(c.Root, c.DataDir)
	}
	if c.Database == "" {
		c.Database = filepath.Join(c.DataDir, DatabaseFile)
	} else if c.Database != ":memory:" && !filepath.IsAbs(c.Database) {
		c.Database = filepath.Join(c.Root, c.Database)
	}
}

// Validate rejects inconsistent settings
func (c *Config) Validate() error {
	var errs []error
	if c.Parallelism <= 0 {
		errs = append(errs, fmt.Errorf("parallelism must be positive, got %d", c.Parallelism))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries))
	}
	if c.MaxTransientRetries < 1 {
		errs = append(errs, fmt.Errorf("max_transient_retries must be at least 1, got %d", c.MaxTransientRetries))
	}
	if c.Collection == "" {
		errs = append(errs, errors.New("collection must not be empty"))
	}
	for _, q := range []string{pipeline.PhaseSummarize, pipeline.PhaseEmbed} {
		if err := c.Scheduler(q).Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.Weights().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Watch.Debounce < 0 {
		errs = append(errs, errors.New("watch debounce must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, errors.Join(errs...))
	}
	return nil
}

// Scheduler returns the scheduler settings of a quota
func (c *Config) Scheduler(quota string) scheduler.Config {
	q := c.Quotas.Embed
	if quota == pipeline.PhaseSummarize {
		q = c.Quotas.Summarize
	}
	cfg := scheduler.DefaultConfig(quota)
	cfg.MinBatch = q.MinBatch
	cfg.MaxBatch = q.MaxBatch
	cfg.InitialDelay = q.InitialDelay.Std()
	cfg.MaxDelay = q.MaxDelay.Std()
	cfg.Window = q.Window.Std()
	cfg.MaxRequestsPerWindow = q.MaxRequests
	cfg.MaxTokensPerWindow = q.MaxTokens
	cfg.Jitter = q.Jitter
	return cfg
}

// Indexer returns the indexer settings
func (c *Config) Indexer() indexer.Config {
	return indexer.Config{
		Root:     c.Root,
		DataDir:  c.DataDir,
		Database: c.Database,
		Walk: walker.Options{
			IncludeVendor: c.Walk.IncludeVendor,
			ScanAll:       c.Walk.ScanAll,
			MaxFileBytes:  c.Walk.MaxFileBytes,
			ExcludeGlobs:  c.Walk.Exclude,
		},
		FanInThreshold: c.FanInThreshold,
		Pipeline: pipeline.Config{
			Parallelism:         c.Parallelism,
			MaxRetries:          c.MaxRetries,
			MaxTransientRetries: c.MaxTransientRetries,
			DualEmbedding:       c.DualEmbedding,
		},
		Summarize:          c.Scheduler(pipeline.PhaseSummarize),
		Embed:              c.Scheduler(pipeline.PhaseEmbed),
		EmbeddingCacheSize: c.EmbeddingCacheSize,
	}
}

// SummarizerConfig returns the summarization backend settings
func (c *Config) SummarizerConfig() summarizer.Config {
	return summarizer.Config{
		Provider: c.Summarizer.Provider,
		BaseURL:  c.Summarizer.BaseURL,
		Model:    c.Summarizer.Model,
		APIKey:   c.Summarizer.APIKey,
	}
}

// EmbedderConfig returns the embedding backend settings. The indexer adds
// its own cache, so none is requested here.
func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:  c.Embedder.Provider,
		APIKey:    c.Embedder.APIKey,
		BaseURL:   c.Embedder.BaseURL,
		Model:     c.Embedder.Model,
		Dimension: c.Embedder.Dimension,
	}
}

// Weights returns the search blend
func (c *Config) Weights() searcher.Weights {
	return searcher.Weights{Content: c.Search.ContentWeight, Summary: c.Search.SummaryWeight}
}
