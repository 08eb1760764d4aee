package storage

import (
	"context"
	"time"

	"github.com/dshills/deltaindex/pkg/types"
)

// DefaultCollection is used when no collection name is configured
const DefaultCollection = "default"

// VectorStore is the sink for finalized vectors. Upsert, Search, DeleteChunks
// and HealthCheck are idempotent. Delete requires explicit confirmation.
type VectorStore interface {
	// EnsureCollection creates the collection or, when the model or dimension
	// differ from what it was created with, empties it. reset reports the latter.
	EnsureCollection(ctx context.Context, model string, dimension int) (reset bool, err error)

	// Upsert writes records keyed by ID and returns how many rows changed.
	// Re-upserting an identical record changes nothing.
	Upsert(ctx context.Context, records []VectorRecord) (int, error)

	Search(ctx context.Context, query []float32, limit int, filters *SearchFilters) ([]Match, error)

	// DeleteChunks removes every record whose parent chunk is listed
	DeleteChunks(ctx context.Context, chunkIDs []string) (int, error)

	// Delete drops a whole collection. It refuses unless confirm is true.
	Delete(ctx context.Context, collection string, confirm bool) error

	HealthCheck(ctx context.Context) error
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// VectorRecord is one vector and its metadata
type VectorRecord struct {
	ID        string
	ChunkID   string
	Kind      types.EmbeddingKind
	FilePath  string
	StartLine int
	EndLine   int
	Name      string
	Summary   string
	Digest    types.Digest
	Vector    []float32
	UpdatedAt time.Time
}

// VectorID is the record id for a chunk's vector of the given kind
func VectorID(chunkID string, kind types.EmbeddingKind) string {
	return chunkID + ":" + string(kind)
}

// SearchFilters narrows a vector search
type SearchFilters struct {
	Kinds       []types.EmbeddingKind
	FilePattern string  // GLOB over file_path
	MinScore    float64 // Minimum cosine similarity
}

// Match is a search hit with its cosine similarity
type Match struct {
	Record VectorRecord
	Score  float64
}

// Stats describes the contents of one collection
type Stats struct {
	Collection     string
	Model          string
	Dimension      int
	Vectors        int
	ContentVectors int
	SummaryVectors int
	Chunks         int
	Files          int
	SchemaVersion  string
	BuildMode      string
}
