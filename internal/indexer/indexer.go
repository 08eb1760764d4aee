// Package indexer coordinates incremental runs over one source tree.
//
// A run takes the index lock, loads the last committed manifest, walks and
// diffs the tree, plans dispatch order, chunks what changed, drives the
// chunks through the summarize/embed pipeline and commits the manifest.
// The manifest is committed after a successful, cancelled or transiently
// interrupted run; a fatal error leaves the previous manifest in place.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/deltaindex/internal/chunker"
	"github.com/dshills/deltaindex/internal/deadletter"
	"github.com/dshills/deltaindex/internal/embedder"
	"github.com/dshills/deltaindex/internal/pipeline"
	"github.com/dshills/deltaindex/internal/planner"
	"github.com/dshills/deltaindex/internal/scheduler"
	"github.com/dshills/deltaindex/internal/state"
	"github.com/dshills/deltaindex/internal/storage"
	"github.com/dshills/deltaindex/internal/structure"
	"github.com/dshills/deltaindex/internal/summarizer"
	"github.com/dshills/deltaindex/internal/walker"
	"github.com/dshills/deltaindex/pkg/types"
)

// DataDirName is the default data directory inside the indexed root
const DataDirName = ".deltaindex"

// DefaultEmbeddingCacheSize is the number of embeddings kept in memory
const DefaultEmbeddingCacheSize = 10000

// Config contains configuration for the indexer
type Config struct {
	Root    string // Source tree to index
	DataDir string // Manifest, ledger and lock directory (default: <Root>/.deltaindex)
	// Database is the vector store file, left out of the walk when it lives
	// under Root
	Database string

	Walk           walker.Options
	FanInThreshold int // Zero means planner.DefaultFanInThreshold
	Pipeline       pipeline.Config

	Summarize scheduler.Config
	Embed     scheduler.Config

	EmbeddingCacheSize int // Zero means DefaultEmbeddingCacheSize
}

// Deps are the external collaborators of an indexer
type Deps struct {
	Summarizer summarizer.Summarizer
	Embedder   embedder.Embedder
	Store      storage.VectorStore
	Logger     *slog.Logger
}

// RunOptions control a single run
type RunOptions struct {
	// Force drops every cached summary and embedding before the run
	Force bool
}

// Report is the outcome of a run. It is returned alongside non-fatal errors.
type Report struct {
	Stats       types.RunStats
	DeadLetters []types.DeadLetterEntry
	Quotas      []types.QuotaState
	ByClass     map[types.PriorityClass]int
	Deleted     []string // Deleted file paths
	Skipped     []walker.Skip
	Committed   bool
}

// Indexer owns one index: a source root, its data directory and its sink
type Indexer struct {
	cfg      Config
	sum      summarizer.Summarizer
	emb      embedder.Embedder
	store    storage.VectorStore
	state    *state.Store
	chunker  *chunker.Source
	analyzer *structure.Analyzer
	planner  *planner.Planner
	pipeline *pipeline.Pipeline
	logger   *slog.Logger

	// Schedulers outlive runs so quota windows carry over in watch mode
	sumQuota *scheduler.Scheduler
	embQuota *scheduler.Scheduler

	lock IndexLock
}

// New creates an indexer. Backends and the store are owned by the caller
// until Close.
func New(cfg Config, deps Deps) (*Indexer, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("%w: root path is required", types.ErrAuthOrConfig)
	}
	if deps.Summarizer == nil || deps.Embedder == nil || deps.Store == nil {
		return nil, fmt.Errorf("%w: indexer requires a summarizer, an embedder and a vector store", types.ErrAuthOrConfig)
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	cfg.Root = root
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(root, DataDirName)
	}
	cfg.Walk.ExcludePaths = slices.Concat(cfg.Walk.ExcludePaths, ownPaths(root, cfg.DataDir, cfg.Database))
	if cfg.EmbeddingCacheSize <= 0 {
		cfg.EmbeddingCacheSize = DefaultEmbeddingCacheSize
	}
	if cfg.Summarize.Quota == "" {
		cfg.Summarize = scheduler.DefaultConfig(pipeline.PhaseSummarize)
	}
	if cfg.Embed.Quota == "" {
		cfg.Embed = scheduler.DefaultConfig(pipeline.PhaseEmbed)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sumQuota, err := scheduler.New(cfg.Summarize, scheduler.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("%w: summarize scheduler: %v", types.ErrAuthOrConfig, err)
	}
	embQuota, err := scheduler.New(cfg.Embed, scheduler.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("%w: embed scheduler: %v", types.ErrAuthOrConfig, err)
	}

	emb := deps.Embedder
	if _, ok := emb.(*embedder.Cached); !ok {
		emb = embedder.NewCached(emb, embedder.NewCache(cfg.EmbeddingCacheSize))
	}

	p, err := pipeline.New(cfg.Pipeline, pipeline.Deps{
		Summarizer:     deps.Summarizer,
		Embedder:       emb,
		Sink:           deps.Store,
		SummarizeQuota: sumQuota,
		EmbedQuota:     embQuota,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	cfg.Pipeline = p.Config()

	return &Indexer{
		cfg:      cfg,
		sum:      deps.Summarizer,
		emb:      emb,
		store:    deps.Store,
		state:    state.New(cfg.DataDir, logger),
		chunker:  chunker.New(),
		analyzer: structure.New(logger),
		planner:  planner.New(cfg.FanInThreshold),
		pipeline: p,
		logger:   logger,
		sumQuota: sumQuota,
		embQuota: embQuota,
	}, nil
}

// ownPaths returns the root-relative paths of the index's own files so a
// run never indexes its manifest, ledger or vector store
func ownPaths(root, dataDir, database string) []string {
	var out []string
	add := func(p string) {
		abs, err := filepath.Abs(p)
		if err != nil {
			return
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return
		}
		out = append(out, filepath.ToSlash(rel))
	}
	add(dataDir)
	if database != "" && database != ":memory:" {
		for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
			add(database + suffix)
		}
	}
	return out
}

// Config returns the effective configuration
func (idx *Indexer) Config() Config {
	return idx.cfg
}

// Embedder returns the cached embedder used for runs. Searches should share it.
func (idx *Indexer) Embedder() embedder.Embedder {
	return idx.emb
}

// Close releases the backends and the store
func (idx *Indexer) Close() error {
	return errors.Join(idx.sum.Close(), idx.emb.Close(), idx.store.Close())
}

// acquire takes the in-process and cross-process run locks
func (idx *Indexer) acquire() (release func(), err error) {
	if !idx.lock.TryAcquire() {
		return nil, state.ErrIndexLocked
	}
	fl, err := state.AcquireRunLock(idx.cfg.DataDir)
	if err != nil {
		idx.lock.Release()
		return nil, err
	}
	return func() {
		if err := fl.Release(); err != nil {
			idx.logger.Warn("failed to release run lock", "error", err)
		}
		idx.lock.Release()
	}, nil
}

// Run performs one incremental run. A cancelled or transiently interrupted
// run still commits its progress and returns its error with the report.
func (idx *Indexer) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	release, err := idx.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	started := time.Now()
	runID := uuid.NewString()
	logger := idx.logger.With("run_id", runID)

	if err := idx.store.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("%w: vector store unavailable: %v", types.ErrPersistence, err)
	}

	prev, err := idx.state.Load()
	if err != nil {
		return nil, err
	}
	m := prev.Clone()

	if err := idx.invalidate(ctx, m, opts.Force, logger); err != nil {
		return nil, err
	}

	sc, err := idx.scan(ctx, prev)
	if err != nil {
		return nil, err
	}

	b := newBuilder(m, idx.cfg.Pipeline.DualEmbedding)
	for _, path := range sc.plan.Deleted {
		b.removeFile(path)
	}
	for _, pf := range sc.plan.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if pf.Status == types.FileUnchanged && b.fileComplete(pf.Path) {
			b.touch(sc.files[pf.Path], pf.Status)
			continue
		}
		if err := b.addFile(idx.chunker, sc, pf); err != nil {
			if !errors.Is(err, types.ErrParse) {
				return nil, err
			}
			logger.Warn("skipping unparseable file", "path", pf.Path, "error", err)
			b.skipped++
		}
	}

	logger.Info("run planned",
		"files", len(sc.plan.Files),
		"deleted", len(sc.plan.Deleted),
		"items", len(b.items),
		"stale_chunks", len(b.stale),
		"by_class", sc.plan.CountByClass())

	res, runErr := idx.pipeline.Run(ctx, pipeline.Input{
		RunID:     runID,
		Items:     b.items,
		Summaries: m.SummaryIndex(),
	})

	report := &Report{
		ByClass: sc.plan.CountByClass(),
		Deleted: sc.plan.Deleted,
		Skipped: sc.skipped,
	}
	if res != nil {
		report.Stats = res.Stats
		report.DeadLetters = res.DeadLetters
		report.Quotas = res.Quotas
	}
	report.Stats.RunID = runID
	report.Stats.StartedAt = started.UTC()
	report.Stats.FilesPlanned = len(sc.plan.Files)
	report.Stats.FilesSkipped = b.skipped
	report.Stats.FilesDeleted = len(sc.plan.Deleted)

	if runErr != nil && !committable(runErr) {
		logger.Error("run aborted, manifest left unchanged", "error", runErr)
		return report, runErr
	}

	// Cancellation must not stop the commit of finished work
	cctx := context.WithoutCancel(ctx)

	if len(b.stale) > 0 {
		n, err := idx.store.DeleteChunks(cctx, b.stale)
		if err != nil {
			return report, fmt.Errorf("%w: delete stale vectors: %v", types.ErrPersistence, err)
		}
		logger.Debug("stale vectors deleted", "chunks", len(b.stale), "vectors", n)
	}

	settle(m)
	report.Stats.Duration = time.Since(started)
	stats := report.Stats
	m.RunID = runID
	m.LastRun = &stats
	m.SummarizerModel = idx.sum.Model()
	m.EmbedderModel = idx.emb.Model()
	m.DualEmbedding = idx.cfg.Pipeline.DualEmbedding

	if err := idx.state.Commit(cctx, m); err != nil {
		logger.Error("manifest commit failed", "error", err)
		return report, err
	}
	report.Committed = true

	if err := idx.saveLedger(cctx, m, report.DeadLetters); err != nil {
		logger.Warn("dead-letter ledger not saved", "error", err)
	}

	logger.Info("run committed",
		"processed", stats.Processed,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"success_rate", stats.SuccessRate(),
		"duration", stats.Duration)
	return report, runErr
}

// committable reports whether a run that ended with err may commit
func committable(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		(types.IsTransient(err) && !types.IsFatal(err))
}

// invalidate drops cached results that no longer hold: everything when
// forced, summaries after a summarizer model change, embeddings after an
// embedder model change or when the sink lost its vectors
func (idx *Indexer) invalidate(ctx context.Context, m *types.Manifest, force bool, logger *slog.Logger) error {
	reset, err := idx.store.EnsureCollection(ctx, idx.emb.Model(), idx.emb.Dimension())
	if err != nil {
		return fmt.Errorf("%w: prepare collection: %v", types.ErrPersistence, err)
	}

	dropSummaries := force
	if m.SummarizerModel != "" && m.SummarizerModel != idx.sum.Model() {
		logger.Info("summarizer model changed, summaries invalidated",
			"previous", m.SummarizerModel, "current", idx.sum.Model())
		dropSummaries = true
	}

	dropEmbeddings := force || reset
	if m.EmbedderModel != "" && m.EmbedderModel != idx.emb.Model() {
		logger.Info("embedder model changed, embeddings invalidated",
			"previous", m.EmbedderModel, "current", idx.emb.Model())
		dropEmbeddings = true
	}
	if !dropEmbeddings && hasEmbeddings(m) {
		st, err := idx.store.Stats(ctx)
		if err != nil {
			return fmt.Errorf("%w: read collection stats: %v", types.ErrPersistence, err)
		}
		if st.Vectors == 0 {
			logger.Warn("vector store is empty, embeddings invalidated")
			dropEmbeddings = true
		}
	}

	if !dropSummaries && !dropEmbeddings {
		return nil
	}
	for _, c := range m.Chunks {
		if dropSummaries {
			c.Summary = ""
			c.Embeddings = nil
		}
		if dropEmbeddings {
			c.Embeddings = nil
		}
		resetRecord(c)
	}
	return nil
}

func hasEmbeddings(m *types.Manifest) bool {
	for _, c := range m.Chunks {
		if len(c.Embeddings) > 0 {
			return true
		}
	}
	return false
}

func (idx *Indexer) saveLedger(ctx context.Context, m *types.Manifest, entries []types.DeadLetterEntry) error {
	ledger, err := deadletter.LoadLedger(idx.cfg.DataDir, idx.logger)
	if err != nil {
		return err
	}
	ledger.Append(entries...)
	ledger.Reconcile(m)
	return ledger.Save(ctx, idx.state)
}
