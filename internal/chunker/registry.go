package chunker

import (
	"bytes"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dshills/deltaindex/pkg/types"
)

// Strategy turns file content into ordered chunks
type Strategy interface {
	Chunk(path string, content []byte) ([]types.Chunk, error)
}

// StrategyFunc adapts a function to the Strategy interface
type StrategyFunc func(path string, content []byte) ([]types.Chunk, error)

// Chunk calls f
func (f StrategyFunc) Chunk(path string, content []byte) ([]types.Chunk, error) {
	return f(path, content)
}

// Capability describes how a file should be handled
type Capability struct {
	Language string
	// Semantic is false when only the fixed-window fallback is available
	Semantic bool
	// Binary content cannot be chunked at all
	Binary   bool
	Strategy Strategy
}

// LanguageText is reported for text files no strategy claims
const LanguageText = "text"

// sniffLen mirrors net/http.DetectContentType's window
const sniffLen = 8000

// Registry maps file extensions and content heuristics to chunking strategies
type Registry struct {
	mu       sync.RWMutex
	byExt    map[string]string // extension (without dot) -> language
	byLang   map[string]Strategy
	shebangs map[string]string // interpreter -> language
	fallback Strategy
}

// NewRegistry creates a registry whose fallback is fixed-window splitting
func NewRegistry() *Registry {
	return &Registry{
		byExt:    make(map[string]string),
		byLang:   make(map[string]Strategy),
		shebangs: make(map[string]string),
		fallback: NewWindowSplitter(DefaultWindowLines, DefaultWindowOverlap),
	}
}

// Register adds a strategy for a language and its extensions
func (r *Registry) Register(lang string, exts []string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byLang[lang] = s
	for _, ext := range exts {
		r.byExt[strings.ToLower(strings.TrimPrefix(ext, "."))] = lang
	}
}

// RegisterExtensions maps extensions to a language without a semantic strategy
func (r *Registry) RegisterExtensions(lang string, exts ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range exts {
		r.byExt[strings.ToLower(strings.TrimPrefix(ext, "."))] = lang
	}
}

// RegisterShebang maps an interpreter name (python3, node, bash) to a language
func (r *Registry) RegisterShebang(interpreter, lang string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shebangs[interpreter] = lang
}

// Lookup resolves a capability from the path's extension and the first bytes
// of content. head may be nil when content is not available yet.
func (r *Registry) Lookup(path string, head []byte) Capability {
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if isBinary(head) {
		return Capability{Binary: true}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	lang, ok := r.byExt[ext]
	if !ok {
		lang, ok = r.shebangs[interpreter(head)]
	}
	if !ok {
		return Capability{Language: LanguageText, Strategy: r.fallback}
	}
	if s, ok := r.byLang[lang]; ok {
		return Capability{Language: lang, Semantic: true, Strategy: s}
	}
	return Capability{Language: lang, Strategy: r.fallback}
}

// Known reports whether path has a registered extension
func (r *Registry) Known(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byExt[strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))]
	return ok
}

// Extensions returns all registered extensions (without dot)
func (r *Registry) Extensions() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make(map[string]bool, len(r.byExt))
	for ext := range r.byExt {
		exts[ext] = true
	}
	return exts
}

// Fallback returns the strategy used when no semantic chunker applies
func (r *Registry) Fallback() Strategy {
	return r.fallback
}

func isBinary(head []byte) bool {
	return bytes.IndexByte(head, 0) >= 0
}

// interpreter returns the program named by a "#!" line, with env indirection
// and version suffixes stripped ("#!/usr/bin/env python3" -> "python")
func interpreter(head []byte) string {
	if !bytes.HasPrefix(head, []byte("#!")) {
		return ""
	}
	line := head[2:]
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(string(line))
	if len(fields) == 0 {
		return ""
	}
	prog := filepath.Base(fields[0])
	if prog == "env" && len(fields) > 1 {
		prog = fields[1]
	}
	return strings.TrimRight(prog, "0123456789.")
}
