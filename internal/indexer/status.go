package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/deltaindex/internal/deadletter"
	"github.com/dshills/deltaindex/internal/storage"
	"github.com/dshills/deltaindex/pkg/types"
)

// Status is the committed state of an index
type Status struct {
	Root            string
	DataDir         string
	CommittedAt     string
	SummarizerModel string
	EmbedderModel   string
	DualEmbedding   bool
	Files           int
	Chunks          int
	ChunksByStatus  map[types.ChunkStatus]int
	LastRun         *types.RunStats
	DeadLetters     []types.DeadLetterEntry // Active entries only
	Store           *storage.Stats
}

// Status reads the last committed manifest, the dead-letter ledger and the
// sink's statistics. It does not take the run lock.
func (idx *Indexer) Status(ctx context.Context) (*Status, error) {
	m, err := idx.state.Load()
	if err != nil {
		return nil, err
	}
	st := &Status{
		Root:            idx.cfg.Root,
		DataDir:         idx.cfg.DataDir,
		SummarizerModel: m.SummarizerModel,
		EmbedderModel:   m.EmbedderModel,
		DualEmbedding:   m.DualEmbedding,
		Files:           len(m.Files),
		Chunks:          len(m.Chunks),
		ChunksByStatus:  make(map[types.ChunkStatus]int),
		LastRun:         m.LastRun,
	}
	if !m.CommittedAt.IsZero() {
		st.CommittedAt = m.CommittedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	for _, c := range m.Chunks {
		st.ChunksByStatus[c.Status]++
	}

	ledger, err := deadletter.LoadLedger(idx.cfg.DataDir, idx.logger)
	if err != nil {
		return nil, err
	}
	st.DeadLetters = ledger.Active()

	st.Store, err = idx.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("read vector store stats: %w", err)
	}
	return st, nil
}

// Health is the reachability of each collaborator. A nil entry is healthy.
type Health struct {
	Store      error
	Summarizer error
	Embedder   error
}

// OK reports whether every collaborator is healthy
func (h *Health) OK() bool {
	return h.Err() == nil
}

// Err joins the collaborator errors
func (h *Health) Err() error {
	var errs []error
	if h.Store != nil {
		errs = append(errs, fmt.Errorf("vector store: %w", h.Store))
	}
	if h.Summarizer != nil {
		errs = append(errs, fmt.Errorf("summarizer: %w", h.Summarizer))
	}
	if h.Embedder != nil {
		errs = append(errs, fmt.Errorf("embedder: %w", h.Embedder))
	}
	return errors.Join(errs...)
}

// Health checks the sink and both backends
func (idx *Indexer) Health(ctx context.Context) *Health {
	return &Health{
		Store:      idx.store.HealthCheck(ctx),
		Summarizer: idx.sum.Health(ctx),
		Embedder:   idx.emb.Health(ctx),
	}
}

// DeleteCollection drops the sink collection and resets the manifest so the
// next run rebuilds everything. It refuses without confirm.
func (idx *Indexer) DeleteCollection(ctx context.Context, confirm bool) error {
	if !confirm {
		return storage.ErrConfirmationRequired
	}
	release, err := idx.acquire()
	if err != nil {
		return err
	}
	defer release()

	if err := idx.store.Delete(ctx, "", true); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete collection: %w", err)
	}
	if err := idx.state.Reset(ctx); err != nil {
		return fmt.Errorf("reset manifest: %w", err)
	}
	idx.logger.Info("collection deleted and manifest reset", "data_dir", idx.cfg.DataDir)
	return nil
}
