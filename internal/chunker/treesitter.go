//go:build cgo

package chunker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/dshills/deltaindex/pkg/types"
)

// TreeSitterStrategy extracts chunks with a tree-sitter query. The query must
// capture the outer node as @chunk and may capture an identifier as @name.
type TreeSitterStrategy struct {
	lang     string
	language *sitter.Language
	query    string
	window   *WindowSplitter
}

// NewTreeSitterStrategy creates a strategy for one grammar
func NewTreeSitterStrategy(lang string, language *sitter.Language, query string) *TreeSitterStrategy {
	return &TreeSitterStrategy{
		lang:     lang,
		language: language,
		query:    query,
		window:   NewWindowSplitter(DefaultWindowLines, DefaultWindowOverlap),
	}
}

type capture struct {
	name      string
	kind      string
	startLine int
	endLine   int
	startByte uint32
	endByte   uint32
}

// Chunk parses content and returns one chunk per outermost capture
func (t *TreeSitterStrategy) Chunk(path string, content []byte) ([]types.Chunk, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(t.language)

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	q, err := sitter.NewQuery([]byte(t.query), t.language)
	if err != nil {
		return nil, fmt.Errorf("compile query for %s: %w", t.lang, err)
	}
	defer q.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, tree.RootNode())

	var caps []capture
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		var node *sitter.Node
		var name string
		for _, c := range m.Captures {
			switch q.CaptureNameForId(c.Index) {
			case "chunk":
				node = c.Node
			case "name":
				name = c.Node.Content(content)
			}
		}
		if node == nil {
			continue
		}
		caps = append(caps, capture{
			name:      name,
			kind:      node.Type(),
			startLine: int(node.StartPoint().Row) + 1,
			endLine:   int(node.EndPoint().Row) + 1,
			startByte: node.StartByte(),
			endByte:   node.EndByte(),
		})
	}

	lines := strings.Split(string(content), "\n")
	var chunks []types.Chunk
	for _, c := range outermost(caps) {
		end := c.endLine
		if end > len(lines) {
			end = len(lines)
		}
		typ := types.ChunkFunction
		if strings.Contains(c.kind, "class") {
			typ = types.ChunkClass
		}
		body := strings.Join(lines[c.startLine-1:end], "\n")
		if len(body) > MaxChunkBytes {
			chunks = append(chunks, t.window.split(lines[c.startLine-1:end], c.startLine, c.name, typ, t.lang)...)
			continue
		}
		chunks = append(chunks, types.NewChunk(c.name, typ, t.lang, body, c.startLine, end))
	}
	return chunks, nil
}

// outermost drops captures nested inside a previously kept capture
func outermost(caps []capture) []capture {
	if len(caps) <= 1 {
		return caps
	}
	sort.Slice(caps, func(i, j int) bool {
		if caps[i].startByte != caps[j].startByte {
			return caps[i].startByte < caps[j].startByte
		}
		return caps[i].endByte-caps[i].startByte > caps[j].endByte-caps[j].startByte
	})

	result := make([]capture, 0, len(caps))
	var lastEnd uint32
	for i, c := range caps {
		if i == 0 || c.startByte >= lastEnd {
			result = append(result, c)
			if c.endByte > lastEnd {
				lastEnd = c.endByte
			}
		}
	}
	return result
}
