package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDigest(t *testing.T) {
	d1 := ComputeDigest([]byte("hello world"))
	assert.Equal(t, Digest("b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"), d1)

	d2 := ComputeDigest([]byte("hello worle"))
	assert.NotEqual(t, d1, d2, "single byte change must change digest")
	assert.Equal(t, "b94d27b9934d", d1.Short())
}

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, ErrThrottled},
		{http.StatusServiceUnavailable, ErrTransient},
		{http.StatusRequestTimeout, ErrTransient},
		{http.StatusUnauthorized, ErrAuthOrConfig},
		{http.StatusForbidden, ErrAuthOrConfig},
		{http.StatusBadRequest, ErrChunkProcessing},
		{http.StatusRequestEntityTooLarge, ErrChunkProcessing},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, KindForStatus(tt.status))
		})
	}
}

func TestErrorClassification(t *testing.T) {
	throttled := NewProviderError("openai", http.StatusTooManyRequests, errors.New("slow down"))
	assert.True(t, IsThrottled(throttled))
	assert.True(t, IsTransient(throttled), "throttling is a transient error")
	assert.False(t, IsFatal(throttled))

	auth := NewProviderError("openai", http.StatusUnauthorized, errors.New("bad key"))
	assert.True(t, IsFatal(auth))
	assert.False(t, IsTransient(auth))

	wrapped := fmt.Errorf("batch 3: %w", NewProviderError("jina", http.StatusBadRequest, errors.New("too long")))
	assert.True(t, errors.Is(wrapped, ErrChunkProcessing))
	assert.False(t, IsTransient(wrapped))

	persist := fmt.Errorf("%w: disk full", ErrPersistence)
	assert.True(t, IsFatal(persist))
}

func TestManifestClone(t *testing.T) {
	m := NewManifest("1.0.0")
	m.Files["a.go"] = &FileRecord{Path: "a.go", Digest: "d1", ChunkIDs: []string{"c1"}}
	m.Chunks["c1"] = &ChunkRecord{ID: "c1", FilePath: "a.go", Summary: "s", Embeddings: []EmbeddingRef{{Kind: EmbeddingContent, VectorID: "c1"}}}

	cp := m.Clone()
	cp.Files["a.go"].ChunkIDs[0] = "changed"
	cp.Chunks["c1"].Embeddings[0].VectorID = "changed"
	cp.Chunks["c1"].Summary = "other"

	assert.Equal(t, "c1", m.Files["a.go"].ChunkIDs[0])
	assert.Equal(t, "c1", m.Chunks["c1"].Embeddings[0].VectorID)
	assert.Equal(t, "s", m.Chunks["c1"].Summary)
}

func TestManifestRemoveFile(t *testing.T) {
	m := NewManifest("1.0.0")
	m.Files["a.go"] = &FileRecord{Path: "a.go", ChunkIDs: []string{"c1", "c2"}}
	m.Chunks["c1"] = &ChunkRecord{ID: "c1"}
	m.Chunks["c2"] = &ChunkRecord{ID: "c2"}
	m.Chunks["c3"] = &ChunkRecord{ID: "c3"}

	removed := m.RemoveFile("a.go")
	assert.ElementsMatch(t, []string{"c1", "c2"}, removed)
	assert.Len(t, m.Chunks, 1)
	assert.Empty(t, m.Files)
	assert.Nil(t, m.RemoveFile("missing.go"))
}

func TestSuccessRate(t *testing.T) {
	assert.Equal(t, 1.0, RunStats{}.SuccessRate())
	assert.InDelta(t, 0.75, RunStats{Processed: 4, Succeeded: 3}.SuccessRate(), 1e-9)
}

func TestChunkValidate(t *testing.T) {
	c := NewChunk("main", ChunkFunction, "go", "func main() {}", 1, 1)
	require.NoError(t, c.Validate())
	assert.Equal(t, 3, c.TokenCount())

	bad := c
	bad.StartLine = 3
	assert.Error(t, bad.Validate())

	empty := NewChunk("", ChunkWindow, "text", "", 1, 1)
	assert.ErrorIs(t, empty.Validate(), ErrEmptyContent)
}
