// Package mcp implements the Model Context Protocol (MCP) server for deltaindex.
//
// The server exposes the indexer and searcher of one source tree to AI
// coding assistants:
//   - analyze_changes: Report what the next run would process (no backend calls)
//   - run_pipeline: Run one incremental summarize/embed pass and commit
//   - search_code: Search indexed chunks with natural language queries
//   - get_status: Manifest, vector store and dead-letter statistics
//   - health_check: Probe the vector store and both backends
//   - delete_collection: Drop all vectors and reset the manifest (requires confirm)
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout is reserved for protocol traffic; all logging goes to stderr.
//
// # Basic Usage
//
//	deltaindex --root /path/to/project mcp
//
// # Tool: search_code
//
//	Request:
//	{
//	  "name": "search_code",
//	  "arguments": {
//	    "query": "retry with backoff",
//	    "limit": 5,
//	    "file_pattern": "internal/*"
//	  }
//	}
//
//	Response:
//	{
//	  "query": "retry with backoff",
//	  "results": [
//	    {
//	      "rank": 1,
//	      "chunk_id": "3f0c9a...",
//	      "relevance_score": 0.86,
//	      "file_path": "internal/retry/retry.go",
//	      "start_line": 12,
//	      "end_line": 40
//	    }
//	  ],
//	  "total_results": 1,
//	  "cache_hit": false
//	}
//
// # Error Handling
//
// Handler failures are returned as *MCPError values:
//   - -32602: Invalid params
//   - -32603: Internal error (store, filesystem)
//   - -32002: Another run holds the index lock
//   - -32004: Empty query
//   - -32005: Backend rejected credentials or configuration
//
// A run that was interrupted after committing (cancellation, transient
// retry budget exhausted) is not an error: run_pipeline returns its report
// with the cause in the "error" field.
package mcp
