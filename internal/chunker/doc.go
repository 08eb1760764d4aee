// Package chunker is the pipeline's chunk source.
//
// A Registry resolves a Capability for each file from its extension and a
// content heuristic (binary sniffing, "#!" interpreter lines). The capability
// names the language and the Strategy that produces chunks; the Source wraps
// the registry and guarantees the pipeline never receives zero chunks for a
// non-empty text file:
//
//	src := chunker.New()
//	chunks, err := src.Chunk("cmd/tool/main.go", content, "")
//	if errors.Is(err, types.ErrParse) {
//	    // binary or undecodable: skip the file
//	}
//
// Strategies:
//
//   - GoStrategy: one chunk per top-level declaration via go/ast, const and var
//     groups kept together, oversized declarations re-split into windows
//   - TreeSitterStrategy: query-driven chunks for Python, JavaScript and
//     TypeScript (cgo builds only)
//   - WindowSplitter: 40-line windows with 10 lines of overlap, used for any
//     text the registry has no semantic strategy for, and whenever a semantic
//     strategy fails or returns nothing
//
// Chunk content is the raw source slice; its SHA-256 digest is the cache key
// for summaries and embeddings downstream.
package chunker
