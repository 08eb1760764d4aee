// Package pipeline is the two-phase orchestrator. Each chunk is summarized,
// then embedded, then written to the vector sink. Each phase has its own
// priority queue, in-flight bound and Scheduler, so throttling on one
// backend never shrinks the other's batches.
//
// Chunk states move pending -> summarizing -> summarized -> embedding ->
// completed, or to failed once the dead-letter handler gives up on a chunk.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dshills/deltaindex/internal/deadletter"
	"github.com/dshills/deltaindex/internal/embedder"
	"github.com/dshills/deltaindex/internal/scheduler"
	"github.com/dshills/deltaindex/internal/storage"
	"github.com/dshills/deltaindex/internal/summarizer"
	"github.com/dshills/deltaindex/pkg/types"
)

const (
	// DefaultParallelism is the number of in-flight batches per stage
	DefaultParallelism = 4
	// DefaultMaxTransientRetries bounds transient failures per chunk per run
	DefaultMaxTransientRetries = 10

	PhaseSummarize = "summarize"
	PhaseEmbed     = "embed"
)

var (
	// ErrRetryBudgetExhausted ends a run whose backend stayed unavailable.
	// It is transient: the partial progress is safe to commit.
	ErrRetryBudgetExhausted = fmt.Errorf("%w: transient retry budget exhausted", types.ErrTransient)
	// ErrEmptySummary is a per-chunk failure for a blank summary
	ErrEmptySummary = fmt.Errorf("%w: backend returned an empty summary", types.ErrChunkProcessing)
)

// Item is one chunk to drive to completion. Items are dispatched in slice
// order within a priority class.
type Item struct {
	Record   *types.ChunkRecord
	Content  string
	Language string
	Class    types.PriorityClass
}

// Sink receives finalized vectors
type Sink interface {
	Upsert(ctx context.Context, records []storage.VectorRecord) (int, error)
}

// Config controls a pipeline
type Config struct {
	Parallelism         int  // In-flight batches per stage
	MaxRetries          int  // Chunk failures before dead-lettering
	MaxTransientRetries int  // Transient failures per chunk before the run stops
	DualEmbedding       bool // Embed the summary as well as the content
}

// Deps are the collaborators of a pipeline
type Deps struct {
	Summarizer     summarizer.Summarizer
	Embedder       embedder.Embedder
	Sink           Sink
	SummarizeQuota *scheduler.Scheduler
	EmbedQuota     *scheduler.Scheduler
	Logger         *slog.Logger
}

// Pipeline drives chunks through summarize then embed
type Pipeline struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

// New validates deps and applies config defaults
func New(cfg Config, deps Deps) (*Pipeline, error) {
	switch {
	case deps.Summarizer == nil:
		return nil, fmt.Errorf("%w: pipeline requires a summarizer", types.ErrAuthOrConfig)
	case deps.Embedder == nil:
		return nil, fmt.Errorf("%w: pipeline requires an embedder", types.ErrAuthOrConfig)
	case deps.Sink == nil:
		return nil, fmt.Errorf("%w: pipeline requires a vector sink", types.ErrAuthOrConfig)
	case deps.SummarizeQuota == nil || deps.EmbedQuota == nil:
		return nil, fmt.Errorf("%w: pipeline requires a scheduler per quota", types.ErrAuthOrConfig)
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = deadletter.DefaultMaxRetries
	}
	if cfg.MaxTransientRetries < 1 {
		cfg.MaxTransientRetries = DefaultMaxTransientRetries
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, deps: deps, logger: logger, now: time.Now}, nil
}

// Config returns the effective configuration
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Input is one run's work
type Input struct {
	RunID string
	Items []Item
	// Summaries maps chunk digests to summaries recorded by earlier runs
	Summaries map[types.Digest]string
}

// Result is the outcome of a run. It is returned even when Run fails.
type Result struct {
	Stats       types.RunStats
	DeadLetters []types.DeadLetterEntry
	Quotas      []types.QuotaState
}

// Run processes every item that is not already complete. Records are
// updated in place.
//
// Cancelling ctx stops new dispatches; in-flight batches finish and Run
// returns ctx.Err() with records left in consistent states. A fatal error
// (auth/config, vector store persistence) is returned as-is. Exhausting the
// transient budget returns ErrRetryBudgetExhausted.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	r := newRun(p, in)
	r.stats.StartedAt = p.now().UTC()

	for i, it := range in.Items {
		r.enqueue(&work{Item: it, seq: i})
	}

	p.logger.Info("pipeline run started",
		"run_id", in.RunID,
		"items", len(in.Items),
		"to_summarize", r.summarizeQ.len(),
		"to_embed", r.embedQ.len(),
		"cached", r.stats.Cached)

	if r.outstanding > 0 {
		r.execute(ctx)
	}

	res := r.result()
	switch {
	case r.err != nil:
		p.logger.Error("pipeline run aborted", "run_id", in.RunID, "error", r.err)
		return res, r.err
	case r.outstanding > 0 && ctx.Err() != nil:
		res.Stats.Cancelled = true
		p.logger.Warn("pipeline run cancelled", "run_id", in.RunID, "remaining", r.outstanding)
		return res, ctx.Err()
	}
	p.logger.Info("pipeline run finished",
		"run_id", in.RunID,
		"processed", res.Stats.Processed,
		"succeeded", res.Stats.Succeeded,
		"failed", res.Stats.Failed,
		"summarize_calls", res.Stats.SummarizeCalls,
		"embed_calls", res.Stats.EmbedCalls,
		"duration", res.Stats.Duration)
	return res, nil
}

// stage is one phase with its own queue, quota and in-flight bound
type stage struct {
	name    string
	q       *queue
	sem     *semaphore.Weighted
	quota   *scheduler.Scheduler
	process func(ctx context.Context, batch []*work)
}

type run struct {
	p  *Pipeline
	dl *deadletter.Handler

	summarizeQ *queue
	embedQ     *queue

	mu          sync.Mutex
	stats       types.RunStats
	summaries   map[types.Digest]string
	outstanding int
	err         error

	stop     context.CancelFunc
	stopOnce sync.Once
}

func newRun(p *Pipeline, in Input) *run {
	summaries := make(map[types.Digest]string, len(in.Summaries))
	for d, s := range in.Summaries {
		summaries[d] = s
	}
	return &run{
		p:          p,
		dl:         deadletter.NewHandler(p.cfg.MaxRetries, in.RunID, p.logger),
		summarizeQ: newQueue(),
		embedQ:     newQueue(),
		stats:      types.RunStats{RunID: in.RunID},
		summaries:  summaries,
	}
}

// enqueue routes an item by its record state. Runs before dispatch starts.
func (r *run) enqueue(w *work) {
	rec := w.Record
	if rec.Status == types.ChunkCompleted && r.complete(rec) {
		return
	}

	r.stats.Processed++
	r.outstanding++
	rec.RetryCount = 0

	switch {
	case rec.HasSummary():
		rec.Status = types.ChunkSummarized
		r.embedQ.push(w)
	case r.summaries[rec.Digest] != "":
		rec.Summary = r.summaries[rec.Digest]
		rec.Status = types.ChunkSummarized
		r.stats.Cached++
		r.embedQ.push(w)
	default:
		rec.Status = types.ChunkPending
		r.summarizeQ.push(w)
	}
}

// complete reports whether rec holds every embedding this run requires
func (r *run) complete(rec *types.ChunkRecord) bool {
	if !rec.HasSummary() || !rec.HasEmbedding(types.EmbeddingContent) {
		return false
	}
	return !r.p.cfg.DualEmbedding || rec.HasEmbedding(types.EmbeddingSummary)
}

func (r *run) execute(ctx context.Context) {
	dctx, cancel := context.WithCancel(ctx)
	r.stop = cancel
	defer cancel()

	// Batches outlive cancellation of ctx so in-flight work can finish
	bctx := context.WithoutCancel(ctx)

	stages := []*stage{
		{name: PhaseSummarize, q: r.summarizeQ, quota: r.p.deps.SummarizeQuota, process: r.summarize},
		{name: PhaseEmbed, q: r.embedQ, quota: r.p.deps.EmbedQuota, process: r.embed},
	}

	var g errgroup.Group
	for _, st := range stages {
		st.sem = semaphore.NewWeighted(int64(r.p.cfg.Parallelism))
		g.Go(func() error {
			r.dispatch(dctx, bctx, &g, st)
			return nil
		})
	}
	_ = g.Wait()
}

// dispatch admits and launches batches for one stage until the run is
// done, aborted or cancelled
func (r *run) dispatch(ctx, bctx context.Context, g *errgroup.Group, st *stage) {
	for {
		if ctx.Err() != nil || st.q.wait(ctx) == 0 {
			return
		}
		if err := st.sem.Acquire(ctx, 1); err != nil {
			return
		}
		granted, err := st.quota.Admit(ctx, st.q.len())
		if err != nil {
			st.sem.Release(1)
			return
		}
		batch := st.q.pop(granted)
		if len(batch) == 0 {
			st.sem.Release(1)
			continue
		}
		r.p.logger.Debug("dispatching batch", "quota", st.name, "batch_size", len(batch), "class", int(batch[0].Class))
		g.Go(func() error {
			defer st.sem.Release(1)
			st.process(bctx, batch)
			return nil
		})
	}
}

func (r *run) summarize(ctx context.Context, batch []*work) {
	// summarized items move to the embed queue together
	var done []*work
	defer func() { r.embedQ.push(done...) }()

	pending := make([]*work, 0, len(batch))
	for _, w := range batch {
		if s, ok := r.knownSummary(w.Record.Digest); ok {
			done = append(done, r.summarized(w, s, true))
			continue
		}
		w.Record.Status = types.ChunkSummarizing
		pending = append(pending, w)
	}
	if len(pending) == 0 {
		return
	}

	// identical chunks in one batch share a request
	index := make(map[types.Digest]int, len(pending))
	var reqs []summarizer.Request
	tokens := 0
	for _, w := range pending {
		if _, ok := index[w.Record.Digest]; ok {
			continue
		}
		index[w.Record.Digest] = len(reqs)
		reqs = append(reqs, summarizer.Request{
			Text:     w.Content,
			Path:     w.Record.FilePath,
			Language: w.Language,
			Name:     w.Record.Name,
		})
		tokens += types.EstimateTokens(w.Content)
	}

	out, err := r.p.deps.Summarizer.Summarize(ctx, reqs)
	r.count(func(s *types.RunStats) { s.SummarizeCalls++ })
	if err == nil && len(out) != len(reqs) {
		err = fmt.Errorf("%w: %d summaries for %d chunks", types.ErrChunkProcessing, len(out), len(reqs))
	}
	r.p.deps.SummarizeQuota.Report(err, charged(err, tokens))
	if err != nil {
		r.failed(PhaseSummarize, pending, err)
		return
	}

	for _, w := range pending {
		s := strings.TrimSpace(out[index[w.Record.Digest]])
		if s == "" {
			r.chunkFailure(PhaseSummarize, w, ErrEmptySummary)
			continue
		}
		r.remember(w.Record.Digest, s)
		done = append(done, r.summarized(w, s, false))
	}
}

func (r *run) embed(ctx context.Context, batch []*work) {
	dual := r.p.cfg.DualEmbedding
	texts := make([]string, 0, 2*len(batch))
	tokens := 0
	for _, w := range batch {
		w.Record.Status = types.ChunkEmbedding
		texts = append(texts, w.Content)
		tokens += types.EstimateTokens(w.Content)
		if dual {
			texts = append(texts, w.Record.Summary)
			tokens += types.EstimateTokens(w.Record.Summary)
		}
	}

	resp, err := r.p.deps.Embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
	if resp == nil || resp.CacheHits < len(texts) {
		r.count(func(s *types.RunStats) { s.EmbedCalls++ })
	}
	if err == nil && (resp == nil || len(resp.Embeddings) != len(texts)) {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		err = fmt.Errorf("%w: %d embeddings for %d texts", types.ErrChunkProcessing, got, len(texts))
	}
	r.p.deps.EmbedQuota.Report(err, charged(err, tokens))
	if err != nil {
		r.failed(PhaseEmbed, batch, err)
		return
	}

	records := make([]storage.VectorRecord, 0, len(texts))
	refs := make([][]types.EmbeddingRef, len(batch))
	next := 0
	for i, w := range batch {
		kinds := []types.EmbeddingKind{types.EmbeddingContent}
		if dual {
			kinds = append(kinds, types.EmbeddingSummary)
		}
		for _, kind := range kinds {
			rec := vectorRecord(w.Record, kind, resp.Embeddings[next].Vector)
			next++
			records = append(records, rec)
			refs[i] = append(refs[i], types.EmbeddingRef{Kind: kind, VectorID: rec.ID})
		}
	}

	if _, err := r.p.deps.Sink.Upsert(ctx, records); err != nil {
		if errors.Is(err, types.ErrChunkProcessing) {
			r.failed(PhaseEmbed, batch, err)
			return
		}
		r.resetStatus(PhaseEmbed, batch)
		r.fail(fmt.Errorf("%w: vector store upsert: %w", types.ErrPersistence, err))
		return
	}

	now := r.p.now().UTC()
	for i, w := range batch {
		rec := w.Record
		rec.Embeddings = refs[i]
		rec.Status = types.ChunkCompleted
		rec.LastError = ""
		rec.CompletedAt = &now
		r.finish(true)
	}
}

func vectorRecord(rec *types.ChunkRecord, kind types.EmbeddingKind, vec []float32) storage.VectorRecord {
	return storage.VectorRecord{
		ID:        storage.VectorID(rec.ID, kind),
		ChunkID:   rec.ID,
		Kind:      kind,
		FilePath:  rec.FilePath,
		StartLine: rec.StartLine,
		EndLine:   rec.EndLine,
		Name:      rec.Name,
		Summary:   rec.Summary,
		Digest:    rec.Digest,
		Vector:    vec,
	}
}

// failed routes a batch-level error by its classification
func (r *run) failed(phase string, batch []*work, err error) {
	r.resetStatus(phase, batch)
	switch {
	case types.IsFatal(err):
		r.fail(err)

	case types.IsTransient(err):
		for _, w := range batch {
			w.transient++
			if w.transient > r.p.cfg.MaxTransientRetries {
				r.fail(fmt.Errorf("%w: chunk %s failed %d times: %w",
					ErrRetryBudgetExhausted, w.Record.ID, w.transient, err))
			}
		}
		r.queueFor(phase).push(batch...)

	case len(batch) > 1:
		// bisect until the bad chunk fails alone; no chunk is charged an attempt
		half := (len(batch) + 1) / 2
		r.p.logger.Debug("splitting failed batch", "quota", phase, "batch_size", len(batch), "limit", half, "error", err)
		for _, w := range batch {
			if w.limit == 0 || half < w.limit {
				w.limit = half
			}
		}
		r.queueFor(phase).push(batch...)

	default:
		r.chunkFailure(phase, batch[0], err)
	}
}

// chunkFailure charges one attempt to a single chunk
func (r *run) chunkFailure(phase string, w *work, err error) {
	if r.dl.RecordFailure(w.Record, phase, err) {
		r.finish(false)
		return
	}
	r.resetStatus(phase, []*work{w})
	w.limit = 1
	r.queueFor(phase).push(w)
}

// resetStatus returns in-flight records to the state their stage starts from
func (r *run) resetStatus(phase string, batch []*work) {
	status := types.ChunkPending
	if phase == PhaseEmbed {
		status = types.ChunkSummarized
	}
	for _, w := range batch {
		w.Record.Status = status
	}
}

func (r *run) queueFor(phase string) *queue {
	if phase == PhaseEmbed {
		return r.embedQ
	}
	return r.summarizeQ
}

func (r *run) summarized(w *work, summary string, cached bool) *work {
	w.Record.Summary = summary
	w.Record.Status = types.ChunkSummarized
	w.limit = 0
	if cached {
		r.count(func(s *types.RunStats) { s.Cached++ })
	}
	return w
}

func (r *run) knownSummary(d types.Digest) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.summaries[d]
	return s, ok && s != ""
}

func (r *run) remember(d types.Digest, summary string) {
	r.mu.Lock()
	r.summaries[d] = summary
	r.mu.Unlock()
}

func (r *run) count(f func(*types.RunStats)) {
	r.mu.Lock()
	f(&r.stats)
	r.mu.Unlock()
}

// finish retires one item; the run stops when none remain
func (r *run) finish(ok bool) {
	r.mu.Lock()
	if ok {
		r.stats.Succeeded++
	} else {
		r.stats.Failed++
	}
	r.outstanding--
	done := r.outstanding == 0
	r.mu.Unlock()
	if done {
		r.halt()
	}
}

// fail records the first fatal error and stops dispatching
func (r *run) fail(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
	r.halt()
}

func (r *run) halt() {
	r.stopOnce.Do(func() {
		if r.stop != nil {
			r.stop()
		}
	})
}

func (r *run) result() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := r.stats
	stats.Duration = r.p.now().Sub(stats.StartedAt)
	return &Result{
		Stats:       stats,
		DeadLetters: r.dl.Entries(),
		Quotas:      []types.QuotaState{r.p.deps.SummarizeQuota.State(), r.p.deps.EmbedQuota.State()},
	}
}

// charged is the token usage billed for a call: throttled and transient
// failures are not billed
func charged(err error, tokens int) int {
	if err != nil && types.IsTransient(err) {
		return 0
	}
	return tokens
}
