package chunker

import (
	"strings"

	"github.com/dshills/deltaindex/pkg/types"
)

const (
	// DefaultWindowLines is the fixed-window chunk height
	DefaultWindowLines = 40
	// DefaultWindowOverlap is the number of lines shared by consecutive windows
	DefaultWindowOverlap = 10
)

// WindowSplitter is the language-agnostic fallback: fixed-size line windows
// with overlap
type WindowSplitter struct {
	lines   int
	overlap int
}

// NewWindowSplitter creates a splitter; overlap is clamped below lines
func NewWindowSplitter(lines, overlap int) *WindowSplitter {
	if lines <= 0 {
		lines = DefaultWindowLines
	}
	if overlap < 0 || overlap >= lines {
		overlap = 0
	}
	return &WindowSplitter{lines: lines, overlap: overlap}
}

// Chunk splits content into windows. Windows made only of whitespace are
// dropped, but a non-empty file always yields at least one chunk.
func (w *WindowSplitter) Chunk(path string, content []byte) ([]types.Chunk, error) {
	if len(content) == 0 {
		return nil, nil
	}
	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	return w.split(lines, 1, "", types.ChunkWindow, ""), nil
}

// split windows lines whose first element is at baseLine
func (w *WindowSplitter) split(lines []string, baseLine int, name string, typ types.ChunkType, lang string) []types.Chunk {
	var chunks []types.Chunk
	for i := 0; i < len(lines); {
		end := i + w.lines
		if end > len(lines) {
			end = len(lines)
		}
		body := strings.Join(lines[i:end], "\n")
		if strings.TrimSpace(body) != "" {
			chunks = append(chunks, types.NewChunk(name, typ, lang, body, baseLine+i, baseLine+end-1))
		}
		if end >= len(lines) {
			break
		}
		i += w.lines - w.overlap
	}
	if len(chunks) == 0 && len(lines) > 0 {
		body := strings.Join(lines, "\n")
		chunks = append(chunks, types.NewChunk(name, typ, lang, body, baseLine, baseLine+len(lines)-1))
	}
	return chunks
}
