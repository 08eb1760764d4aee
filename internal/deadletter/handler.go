// Package deadletter isolates chunks that keep failing. The Handler counts
// non-transient failures per chunk within a run; the Ledger persists every
// chunk that exhausted its retries.
package deadletter

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dshills/deltaindex/pkg/types"
)

// DefaultMaxRetries is the number of failed attempts before a chunk is dead-lettered
const DefaultMaxRetries = 3

// Handler tracks per-chunk retry counters for one run. It is safe for
// concurrent use.
type Handler struct {
	maxRetries int
	runID      string
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	attempts map[string]int
	entries  []types.DeadLetterEntry
}

// NewHandler creates a handler; maxRetries < 1 means DefaultMaxRetries
func NewHandler(maxRetries int, runID string, logger *slog.Logger) *Handler {
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		maxRetries: maxRetries,
		runID:      runID,
		logger:     logger,
		now:        time.Now,
		attempts:   make(map[string]int),
	}
}

// MaxRetries returns the retry threshold
func (h *Handler) MaxRetries() int {
	return h.maxRetries
}

// RecordFailure counts one failed attempt for rec and updates its retry
// counter and last error. It reports true when the chunk reached the
// threshold, in which case rec is marked failed and a ledger entry is kept.
// Transient errors must not be passed here.
func (h *Handler) RecordFailure(rec *types.ChunkRecord, phase string, err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.attempts[rec.ID]++
	n := h.attempts[rec.ID]
	rec.RetryCount = n
	rec.LastError = err.Error()

	if n < h.maxRetries {
		h.logger.Debug("chunk attempt failed", "chunk_id", rec.ID, "phase", phase, "attempt", n, "error", err)
		return false
	}

	rec.Status = types.ChunkFailed
	h.entries = append(h.entries, types.DeadLetterEntry{
		RunID:       h.runID,
		ChunkID:     rec.ID,
		FilePath:    rec.FilePath,
		Digest:      rec.Digest,
		Phase:       phase,
		LastError:   rec.LastError,
		RetryCount:  n,
		Disposition: types.DispositionDeadLettered,
		RecordedAt:  h.now().UTC(),
	})
	h.logger.Warn("chunk dead-lettered",
		"chunk_id", rec.ID, "path", rec.FilePath, "phase", phase, "attempts", n, "error", err)
	return true
}

// Attempts returns the number of failures recorded for a chunk this run
func (h *Handler) Attempts(chunkID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts[chunkID]
}

// Entries returns this run's dead-letter entries ordered by chunk id
func (h *Handler) Entries() []types.DeadLetterEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := append([]types.DeadLetterEntry(nil), h.entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkID < out[j].ChunkID })
	return out
}

// Count returns the number of chunks dead-lettered this run
func (h *Handler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
