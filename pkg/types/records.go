package types

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"
)

// FileStatus is the change classification of a file relative to the last committed manifest
type FileStatus string

const (
	FileUnchanged FileStatus = "unchanged"
	FileChanged   FileStatus = "changed"
	FileNew       FileStatus = "new"
	FileDeleted   FileStatus = "deleted"
)

// ChunkStatus is the pipeline state of a chunk
type ChunkStatus string

const (
	ChunkPending     ChunkStatus = "pending"
	ChunkSummarizing ChunkStatus = "summarizing"
	ChunkSummarized  ChunkStatus = "summarized"
	ChunkEmbedding   ChunkStatus = "embedding"
	ChunkCompleted   ChunkStatus = "completed"
	ChunkFailed      ChunkStatus = "failed"
)

// InProgress reports whether the status is one of the transient in-flight states
func (s ChunkStatus) InProgress() bool {
	return s == ChunkSummarizing || s == ChunkEmbedding
}

// EmbeddingKind tags a vector by the text it was computed from
type EmbeddingKind string

const (
	EmbeddingContent EmbeddingKind = "content"
	EmbeddingSummary EmbeddingKind = "summary"
)

// PriorityClass orders files for dispatch. 0 is the highest priority.
type PriorityClass int

const (
	ClassChangedEntryPoint PriorityClass = 0
	ClassChangedHighFanIn  PriorityClass = 1
	ClassChangedOther      PriorityClass = 2
	ClassUnchanged         PriorityClass = 3
)

// FileSignals are the structural inputs to prioritization
type FileSignals struct {
	EntryPoint bool
	FanIn      int
}

// Digest is a hex-encoded SHA-256 of some content
type Digest string

// ComputeDigest returns the content digest of b
func ComputeDigest(b []byte) Digest {
	h := sha256.Sum256(b)
	return Digest(hex.EncodeToString(h[:]))
}

// Short returns an abbreviated digest for logs and ids
func (d Digest) Short() string {
	if len(d) <= 12 {
		return string(d)
	}
	return string(d[:12])
}

// FileRecord is the manifest entry for one source file
type FileRecord struct {
	Path       string     `json:"path"`
	Digest     Digest     `json:"digest"`
	ModTime    time.Time  `json:"mod_time"`
	SizeBytes  int64      `json:"size_bytes"`
	Language   string     `json:"language,omitempty"`
	ChunkCount int        `json:"chunk_count"`
	ChunkIDs   []string   `json:"chunk_ids,omitempty"`
	Status     FileStatus `json:"status"`
}

// EmbeddingRef points at a vector held by the vector store
type EmbeddingRef struct {
	Kind     EmbeddingKind `json:"kind"`
	VectorID string        `json:"vector_id"`
}

// ChunkRecord is the manifest entry for one chunk
type ChunkRecord struct {
	ID          string         `json:"id"`
	FilePath    string         `json:"file_path"`
	Ordinal     int            `json:"ordinal"`
	Digest      Digest         `json:"digest"`
	Name        string         `json:"name,omitempty"`
	Kind        string         `json:"kind,omitempty"`
	StartLine   int            `json:"start_line"`
	EndLine     int            `json:"end_line"`
	Summary     string         `json:"summary,omitempty"`
	Embeddings  []EmbeddingRef `json:"embeddings,omitempty"`
	Status      ChunkStatus    `json:"status"`
	LastError   string         `json:"last_error,omitempty"`
	RetryCount  int            `json:"retry_count,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// HasSummary reports whether a summary is recorded for the chunk's current digest
func (c *ChunkRecord) HasSummary() bool {
	return c.Summary != ""
}

// HasEmbedding reports whether an embedding of the given kind is recorded
func (c *ChunkRecord) HasEmbedding(kind EmbeddingKind) bool {
	for _, ref := range c.Embeddings {
		if ref.Kind == kind {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the record
func (c *ChunkRecord) Clone() *ChunkRecord {
	cp := *c
	if c.Embeddings != nil {
		cp.Embeddings = append([]EmbeddingRef(nil), c.Embeddings...)
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// RunStats summarizes a pipeline run
type RunStats struct {
	RunID          string        `json:"run_id"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	FilesPlanned   int           `json:"files_planned"`
	FilesSkipped   int           `json:"files_skipped"`
	FilesDeleted   int           `json:"files_deleted"`
	Processed      int           `json:"processed"`
	Succeeded      int           `json:"succeeded"`
	Failed         int           `json:"failed"`
	Cached         int           `json:"cached"`
	SummarizeCalls int           `json:"summarize_calls"`
	EmbedCalls     int           `json:"embed_calls"`
	Cancelled      bool          `json:"cancelled,omitempty"`
}

// SuccessRate is succeeded/processed, or 1 when nothing was processed
func (s RunStats) SuccessRate() float64 {
	if s.Processed == 0 {
		return 1
	}
	return float64(s.Succeeded) / float64(s.Processed)
}

// Manifest is the durable snapshot of all file and chunk records
type Manifest struct {
	Version         string                  `json:"version"`
	RunID           string                  `json:"run_id,omitempty"`
	CommittedAt     time.Time               `json:"committed_at"`
	SummarizerModel string                  `json:"summarizer_model,omitempty"`
	EmbedderModel   string                  `json:"embedder_model,omitempty"`
	DualEmbedding   bool                    `json:"dual_embedding,omitempty"`
	Files           map[string]*FileRecord  `json:"files"`
	Chunks          map[string]*ChunkRecord `json:"chunks"`
	LastRun         *RunStats               `json:"last_run,omitempty"`
}

// NewManifest returns an empty manifest at the given format version
func NewManifest(version string) *Manifest {
	return &Manifest{
		Version: version,
		Files:   make(map[string]*FileRecord),
		Chunks:  make(map[string]*ChunkRecord),
	}
}

// Clone returns a deep copy so a run can mutate its working set without
// touching the last committed snapshot
func (m *Manifest) Clone() *Manifest {
	cp := *m
	cp.Files = make(map[string]*FileRecord, len(m.Files))
	for k, f := range m.Files {
		fc := *f
		fc.ChunkIDs = append([]string(nil), f.ChunkIDs...)
		cp.Files[k] = &fc
	}
	cp.Chunks = make(map[string]*ChunkRecord, len(m.Chunks))
	for k, c := range m.Chunks {
		cp.Chunks[k] = c.Clone()
	}
	if m.LastRun != nil {
		lr := *m.LastRun
		cp.LastRun = &lr
	}
	return &cp
}

// ChunksForFile returns the file's chunk records in ordinal order
func (m *Manifest) ChunksForFile(path string) []*ChunkRecord {
	f, ok := m.Files[path]
	if !ok {
		return nil
	}
	out := make([]*ChunkRecord, 0, len(f.ChunkIDs))
	for _, id := range f.ChunkIDs {
		if c, ok := m.Chunks[id]; ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

// RemoveFile drops a file and all of its chunks, returning the removed chunk ids
func (m *Manifest) RemoveFile(path string) []string {
	f, ok := m.Files[path]
	if !ok {
		return nil
	}
	removed := make([]string, 0, len(f.ChunkIDs))
	for _, id := range f.ChunkIDs {
		if _, ok := m.Chunks[id]; ok {
			delete(m.Chunks, id)
			removed = append(removed, id)
		}
	}
	delete(m.Files, path)
	return removed
}

// SummaryIndex maps chunk digests to summaries already recorded anywhere in the manifest
func (m *Manifest) SummaryIndex() map[Digest]string {
	idx := make(map[Digest]string)
	for _, c := range m.Chunks {
		if c.HasSummary() {
			idx[c.Digest] = c.Summary
		}
	}
	return idx
}

// Disposition is the final outcome of a dead-lettered chunk
type Disposition string

const (
	// DispositionDeadLettered chunks are excluded for the rest of the run and
	// retried on a later run only if their digest is unchanged.
	DispositionDeadLettered Disposition = "dead_lettered"
	// DispositionSuperseded entries belong to chunks whose content changed or
	// whose file was deleted since they failed.
	DispositionSuperseded Disposition = "superseded"
)

// DeadLetterEntry records a chunk that exhausted its retries
type DeadLetterEntry struct {
	RunID       string      `json:"run_id"`
	ChunkID     string      `json:"chunk_id"`
	FilePath    string      `json:"file_path"`
	Digest      Digest      `json:"digest"`
	Phase       string      `json:"phase"`
	LastError   string      `json:"last_error"`
	RetryCount  int         `json:"retry_count"`
	Disposition Disposition `json:"disposition"`
	RecordedAt  time.Time   `json:"recorded_at"`
}

// QuotaState is a point-in-time view of one scheduler's quota window
type QuotaState struct {
	Quota            string        `json:"quota"`
	WindowStart      time.Time     `json:"window_start"`
	RequestsInWindow int           `json:"requests_in_window"`
	TokensInWindow   int           `json:"tokens_in_window"`
	BatchSize        int           `json:"batch_size"`
	Delay            time.Duration `json:"delay"`
	NotBefore        time.Time     `json:"not_before"`
	Successes        int           `json:"consecutive_successes"`
	Throttles        int           `json:"throttles"`
}
