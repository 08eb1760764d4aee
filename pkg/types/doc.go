// Package types provides shared type definitions for deltaindex.
//
// # Records
//
// FileRecord and ChunkRecord are the entries of the Manifest, the durable
// snapshot reloaded at the start of every run:
//
//	m := types.NewManifest("1.0.0")
//	m.Files["cmd/main.go"] = &types.FileRecord{Path: "cmd/main.go", Digest: d}
//
// A chunk moves through
//
//	pending -> summarizing -> summarized -> embedding -> completed
//
// and may diverge to failed from any in-progress state. A chunk is completed
// only when it holds a summary and every required embedding reference.
//
// # Errors
//
// Every backend and pipeline error is classified against the sentinels in
// errors.go:
//
//	switch {
//	case types.IsThrottled(err): // shrink batch, back off
//	case types.IsTransient(err): // back off, retry
//	case types.IsFatal(err):     // abort the run
//	default:                     // chunk failure, dead-letter path
//	}
//
// # Go Symbols
//
// Symbol and ParseResult describe the output of the Go AST parser used by
// the Go chunking strategy and structural analysis.
package types
