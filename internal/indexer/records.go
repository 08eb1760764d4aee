package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dshills/deltaindex/internal/chunker"
	"github.com/dshills/deltaindex/internal/pipeline"
	"github.com/dshills/deltaindex/internal/planner"
	"github.com/dshills/deltaindex/internal/walker"
	"github.com/dshills/deltaindex/pkg/types"
)

// chunkIDLen is the hex length of a chunk id before any duplicate suffix
const chunkIDLen = 24

// ChunkID derives a stable id from the file path and chunk digest, so an
// unchanged chunk keeps its id when other parts of its file move. The nth
// repeat of a digest within one file gets a "#n" suffix.
func ChunkID(path string, digest types.Digest, n int) string {
	h := sha256.Sum256([]byte(path + "\x00" + string(digest)))
	id := hex.EncodeToString(h[:])[:chunkIDLen]
	if n > 0 {
		id = fmt.Sprintf("%s#%d", id, n)
	}
	return id
}

// complete reports whether a record holds everything a run would produce
func complete(c *types.ChunkRecord, dual bool) bool {
	if c.Status != types.ChunkCompleted || !c.HasSummary() || !c.HasEmbedding(types.EmbeddingContent) {
		return false
	}
	return !dual || c.HasEmbedding(types.EmbeddingSummary)
}

// resetRecord moves a record back to the state its cached results support
func resetRecord(c *types.ChunkRecord) {
	switch {
	case c.Status == types.ChunkFailed:
		return
	case !c.HasSummary():
		c.Status = types.ChunkPending
	case len(c.Embeddings) == 0 || c.Status != types.ChunkCompleted:
		c.Status = types.ChunkSummarized
	}
	if c.Status != types.ChunkCompleted {
		c.CompletedAt = nil
	}
}

// settle rolls back in-flight states so a committed manifest only holds
// resting states
func settle(m *types.Manifest) {
	for _, c := range m.Chunks {
		switch c.Status {
		case types.ChunkSummarizing:
			c.Status = types.ChunkPending
		case types.ChunkEmbedding:
			c.Status = types.ChunkSummarized
		}
	}
}

// builder applies a plan to the working manifest and collects pipeline items
type builder struct {
	m       *types.Manifest
	dual    bool
	items   []pipeline.Item
	stale   []string // Chunk ids whose vectors must leave the sink
	skipped int
}

func newBuilder(m *types.Manifest, dual bool) *builder {
	return &builder{m: m, dual: dual}
}

func (b *builder) removeFile(path string) {
	b.stale = append(b.stale, b.m.RemoveFile(path)...)
}

// fileComplete reports whether every recorded chunk of path is complete
func (b *builder) fileComplete(path string) bool {
	f, ok := b.m.Files[path]
	if !ok {
		return false
	}
	chunks := b.m.ChunksForFile(path)
	if len(chunks) != len(f.ChunkIDs) {
		return false
	}
	for _, c := range chunks {
		if !complete(c, b.dual) {
			return false
		}
	}
	return true
}

// touch refreshes a file record without rechunking
func (b *builder) touch(f walker.File, status types.FileStatus) {
	rec := b.m.Files[f.Path]
	rec.ModTime = f.ModTime
	rec.SizeBytes = f.Size
	rec.Status = status
}

// addFile chunks a file, reuses records whose digest survived, queues every
// chunk and marks vanished chunks stale. A parse error leaves the previous
// records of the file untouched.
func (b *builder) addFile(src *chunker.Source, sc *scan, pf planner.PlannedFile) error {
	f := sc.files[pf.Path]
	content, err := sc.read(pf.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrParse, err)
	}
	chunks, err := src.Chunk(pf.Path, content, "")
	if err != nil {
		return err
	}
	if len(chunks) == 0 && len(content) > 0 {
		return fmt.Errorf("%w: %s: no chunks", types.ErrParse, pf.Path)
	}

	old := make(map[string]bool)
	if prev, ok := b.m.Files[pf.Path]; ok {
		for _, id := range prev.ChunkIDs {
			old[id] = true
		}
	}

	seen := make(map[types.Digest]int)
	ids := make([]string, 0, len(chunks))
	for i, ch := range chunks {
		id := ChunkID(pf.Path, ch.Digest, seen[ch.Digest])
		seen[ch.Digest]++

		rec, ok := b.m.Chunks[id]
		if !ok {
			rec = &types.ChunkRecord{
				ID:       id,
				FilePath: pf.Path,
				Digest:   ch.Digest,
				Status:   types.ChunkPending,
			}
			b.m.Chunks[id] = rec
		} else if rec.StartLine != ch.StartLine || rec.EndLine != ch.EndLine || rec.Name != ch.Name {
			// Vector metadata carries the location; re-embed to refresh it
			rec.Embeddings = nil
			resetRecord(rec)
		}
		rec.Ordinal = i
		rec.Name = ch.Name
		rec.Kind = string(ch.Type)
		rec.StartLine = ch.StartLine
		rec.EndLine = ch.EndLine

		delete(old, id)
		ids = append(ids, id)
		b.items = append(b.items, pipeline.Item{
			Record:   rec,
			Content:  ch.Content,
			Language: ch.Language,
			Class:    pf.Class,
		})
	}

	for id := range old {
		delete(b.m.Chunks, id)
		b.stale = append(b.stale, id)
	}

	// An empty file is recorded with no chunks so it settles as unchanged
	lang := src.Registry().Lookup(pf.Path, content).Language
	if len(chunks) > 0 {
		lang = chunks[0].Language
	}
	b.m.Files[pf.Path] = &types.FileRecord{
		Path:       pf.Path,
		Digest:     f.Digest,
		ModTime:    f.ModTime,
		SizeBytes:  f.Size,
		Language:   lang,
		ChunkCount: len(ids),
		ChunkIDs:   ids,
		Status:     pf.Status,
	}
	return nil
}
