package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/deltaindex/internal/config"
	"github.com/dshills/deltaindex/internal/embedder"
	"github.com/dshills/deltaindex/internal/indexer"
	"github.com/dshills/deltaindex/internal/searcher"
	"github.com/dshills/deltaindex/internal/storage"
	"github.com/dshills/deltaindex/internal/summarizer"
)

// rootOptions are the persistent flags shared by every command
type rootOptions struct {
	root       string
	configPath string
	logLevel   string
	noColor    bool
	jsonOut    bool

	parallelism int
	dual        bool
	summarizer  string
	embedder    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "deltaindex",
		Short: "Incrementally summarize and embed a source tree",
		Long: `deltaindex keeps a vector index of a source tree current. Each run
detects changed files, summarizes and embeds only what changed under
adaptive rate limits, and commits progress even when interrupted.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				noColor = true
			}
		},
	}
	cmd.SetVersionTemplate(fmt.Sprintf("%s\nstorage: %s (%s)\n", versionString(), storage.BuildMode, storage.DriverName))

	f := cmd.PersistentFlags()
	f.StringVar(&opts.root, "root", "", "source tree to index (default: working directory)")
	f.StringVar(&opts.configPath, "config", "", "config file (default: <root>/"+config.FileName+")")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	f.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	f.BoolVar(&opts.jsonOut, "json", false, "print machine-readable JSON")
	f.IntVar(&opts.parallelism, "parallelism", 0, "override the in-flight batch bound")
	f.BoolVar(&opts.dual, "dual-embedding", false, "embed summaries as well as content")
	f.StringVar(&opts.summarizer, "summarizer", "", "override the summarization provider (ollama, openai, local)")
	f.StringVar(&opts.embedder, "embedder", "", "override the embedding provider (jina, openai, ollama, local)")

	cmd.AddCommand(
		newDiffCmd(opts),
		newRunCmd(opts),
		newStatsCmd(opts),
		newHealthCmd(opts),
		newDeleteCollectionCmd(opts),
		newSearchCmd(opts),
		newWatchCmd(opts),
		newMCPCmd(opts),
	)
	return cmd
}

// newLogger builds the stderr text logger for --log-level
func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("%w: invalid --log-level %q", config.ErrConfigInvalid, level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// loadConfig resolves configuration and applies flag overrides, which win
// over the file and the environment
func (o *rootOptions) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(config.LoadInput{
		Root:       o.root,
		ConfigPath: o.configPath,
		Env:        config.Environ(),
	})
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("parallelism") {
		cfg.Parallelism = o.parallelism
	}
	if flags.Changed("dual-embedding") {
		cfg.DualEmbedding = o.dual
	}
	if flags.Changed("summarizer") {
		cfg.Summarizer.Provider = o.summarizer
	}
	if flags.Changed("embedder") {
		cfg.Embedder.Provider = o.embedder
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// app holds the components one command works with
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
	json     bool
}

// open wires storage, backends, indexer and searcher. The indexer and
// searcher share one cached embedder.
func (o *rootOptions) open(cmd *cobra.Command) (*app, error) {
	logger, err := newLogger(o.logLevel, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Source != "" {
		logger.Debug("loaded config", "path", cfg.Source)
	}

	if cfg.Database != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := storage.NewSQLiteStore(cfg.Database, cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	sum, err := summarizer.New(cfg.SummarizerConfig())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize summarizer: %w", err)
	}
	emb, err := embedder.New(cfg.EmbedderConfig())
	if err != nil {
		_ = errors.Join(sum.Close(), store.Close())
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	idx, err := indexer.New(cfg.Indexer(), indexer.Deps{
		Summarizer: sum,
		Embedder:   emb,
		Store:      store,
		Logger:     logger,
	})
	if err != nil {
		_ = errors.Join(sum.Close(), emb.Close(), store.Close())
		return nil, err
	}

	srch, err := searcher.NewSearcher(store, idx.Embedder(), cfg.Weights(), cfg.DualEmbedding)
	if err != nil {
		_ = idx.Close()
		return nil, err
	}

	logger.Debug("components ready",
		"root", cfg.Root,
		"database", cfg.Database,
		"summarizer", sum.Provider()+"/"+sum.Model(),
		"embedder", emb.Provider()+"/"+emb.Model(),
		"storage", storage.BuildMode)

	return &app{cfg: cfg, logger: logger, indexer: idx, searcher: srch, json: o.jsonOut}, nil
}

func (a *app) Close() error {
	return a.indexer.Close()
}
