package chunker

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/dshills/deltaindex/internal/parser"
	"github.com/dshills/deltaindex/pkg/types"
)

// MaxChunkBytes is the size above which a semantic chunk is re-split into windows
const MaxChunkBytes = 8192

// Source is the pipeline's chunk source: it resolves a strategy through the
// registry and guarantees that a non-empty text file yields at least one chunk
type Source struct {
	registry *Registry
	logger   *slog.Logger
}

// New creates a Source with the Go strategy and any tree-sitter grammars
// available in this build registered
func New() *Source {
	reg := NewRegistry()
	reg.Register("go", []string{"go"}, NewGoStrategy())
	registerTreeSitter(reg)
	registerPlainLanguages(reg)
	return NewSource(reg, nil)
}

// NewSource wraps an existing registry
func NewSource(reg *Registry, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{registry: reg, logger: logger}
}

// Registry exposes the strategy registry
func (s *Source) Registry() *Registry {
	return s.registry
}

// Chunk returns the ordered chunks of content. languageHint overrides the
// registry's language detection when non-empty. Binary or non-UTF-8 content
// is reported as types.ErrParse.
func (s *Source) Chunk(path string, content []byte, languageHint string) ([]types.Chunk, error) {
	if len(content) == 0 {
		return nil, nil
	}

	capability := s.registry.Lookup(path, content)
	if capability.Binary {
		return nil, fmt.Errorf("%w: %s: binary content", types.ErrParse, path)
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w: %s: invalid UTF-8", types.ErrParse, path)
	}

	lang := capability.Language
	if languageHint != "" {
		lang = languageHint
	}

	chunks, err := capability.Strategy.Chunk(path, content)
	if err != nil || len(chunks) == 0 {
		if err != nil {
			s.logger.Debug("semantic chunking failed, using fallback",
				"path", path, "language", lang, "error", err)
		}
		chunks, err = s.registry.Fallback().Chunk(path, content)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", types.ErrParse, path, err)
		}
	}

	for i := range chunks {
		if chunks[i].Language == "" {
			chunks[i].Language = lang
		}
	}
	return chunks, nil
}

// GoStrategy chunks Go files at top-level declaration boundaries
type GoStrategy struct {
	parser *parser.Parser
	window *WindowSplitter
}

// NewGoStrategy creates the Go AST strategy
func NewGoStrategy() *GoStrategy {
	return &GoStrategy{
		parser: parser.New(),
		window: NewWindowSplitter(DefaultWindowLines, DefaultWindowOverlap),
	}
}

// Chunk creates one chunk per declaration. Files whose syntax errors leave no
// usable declarations fall through to a package-level chunk.
func (g *GoStrategy) Chunk(path string, content []byte) ([]types.Chunk, error) {
	result := g.parser.ParseSource(path, content)
	lines := strings.Split(string(content), "\n")

	chunks := make([]types.Chunk, 0, len(result.Symbols))
	for i := range result.Symbols {
		chunks = append(chunks, g.symbolChunks(&result.Symbols[i], lines)...)
	}

	if len(chunks) == 0 {
		name := result.PackageName
		if name == "" {
			name = "package"
		}
		chunks = g.window.split(trimTrailingEmpty(lines), 1, name, types.ChunkPackage, "go")
	}
	return chunks, nil
}

func (g *GoStrategy) symbolChunks(sym *types.Symbol, lines []string) []types.Chunk {
	if sym.Start.Line <= 0 || sym.End.Line <= 0 || sym.Start.Line > len(lines) {
		return nil
	}
	start := sym.Start.Line - 1
	end := sym.End.Line
	if end > len(lines) {
		end = len(lines)
	}

	typ := chunkTypeForKind(sym.Kind)
	body := strings.Join(lines[start:end], "\n")
	if len(body) > MaxChunkBytes {
		return g.window.split(lines[start:end], sym.Start.Line, sym.Name, typ, "go")
	}
	return []types.Chunk{types.NewChunk(sym.Name, typ, "go", body, sym.Start.Line, end)}
}

func chunkTypeForKind(kind types.SymbolKind) types.ChunkType {
	switch kind {
	case types.KindFunction:
		return types.ChunkFunction
	case types.KindMethod:
		return types.ChunkMethod
	case types.KindConst:
		return types.ChunkConstGroup
	case types.KindVar:
		return types.ChunkVarGroup
	default:
		return types.ChunkTypeDecl
	}
}

func trimTrailingEmpty(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// registerPlainLanguages names common text formats so their chunks carry a
// language; they are split by the window fallback
func registerPlainLanguages(reg *Registry) {
	reg.RegisterExtensions("markdown", "md", "markdown")
	reg.RegisterExtensions("yaml", "yaml", "yml")
	reg.RegisterExtensions("json", "json")
	reg.RegisterExtensions("shell", "sh", "bash")
	reg.RegisterExtensions("sql", "sql")
	reg.RegisterShebang("sh", "shell")
	reg.RegisterShebang("bash", "shell")
}
