package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/deltaindex/internal/searcher"
)

var readOnly = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

// analyzeChangesTool returns the tool definition for analyze_changes
func analyzeChangesTool() mcp.Tool {
	return mcp.NewTool("analyze_changes",
		mcp.WithDescription("Compare the working tree with the last committed manifest and report changed, new, deleted and unchanged files in dispatch order. Makes no backend calls."),
		mcp.WithToolAnnotation(readOnly),
	)
}

// runPipelineTool returns the tool definition for run_pipeline
func runPipelineTool() mcp.Tool {
	return mcp.NewTool("run_pipeline",
		mcp.WithDescription("Run one incremental indexing pass: summarize and embed changed chunks, remove vectors of deleted files, then commit the manifest."),
		mcp.WithBoolean("force",
			mcp.Description("Reprocess every chunk, ignoring stored summaries and embeddings"),
			mcp.DefaultBool(false),
		),
	)
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	return mcp.NewTool("search_code",
		mcp.WithDescription("Search indexed chunks by natural language. Content and summary similarity are blended when dual embedding is enabled."),
		mcp.WithToolAnnotation(readOnly),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query (natural language or keywords)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results to return (1-100)"),
			mcp.DefaultNumber(searcher.DefaultLimit),
			mcp.Min(1),
			mcp.Max(searcher.MaxLimit),
		),
		mcp.WithString("file_pattern",
			mcp.Description("Glob over file paths (e.g. 'internal/*')"),
		),
		mcp.WithNumber("min_score",
			mcp.Description("Minimum cosine similarity of a candidate vector (0.0-1.0)"),
			mcp.Min(0),
			mcp.Max(1),
		),
		mcp.WithBoolean("use_cache",
			mcp.Description("Serve repeated queries from the result cache"),
			mcp.DefaultBool(true),
		),
	)
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.NewTool("get_status",
		mcp.WithDescription("Report manifest, vector store and dead-letter statistics for the index"),
		mcp.WithToolAnnotation(readOnly),
	)
}

// healthCheckTool returns the tool definition for health_check
func healthCheckTool() mcp.Tool {
	return mcp.NewTool("health_check",
		mcp.WithDescription("Probe the vector store, the summarization backend and the embedding backend"),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{
			ReadOnlyHint:    mcp.ToBoolPtr(true),
			DestructiveHint: mcp.ToBoolPtr(false),
			IdempotentHint:  mcp.ToBoolPtr(true),
			OpenWorldHint:   mcp.ToBoolPtr(true),
		}),
	)
}

// deleteCollectionTool returns the tool definition for delete_collection
func deleteCollectionTool() mcp.Tool {
	return mcp.NewTool("delete_collection",
		mcp.WithDescription("Delete every stored vector and reset the manifest. The next run rebuilds from scratch."),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{
			ReadOnlyHint:    mcp.ToBoolPtr(false),
			DestructiveHint: mcp.ToBoolPtr(true),
			IdempotentHint:  mcp.ToBoolPtr(true),
			OpenWorldHint:   mcp.ToBoolPtr(false),
		}),
		mcp.WithBoolean("confirm",
			mcp.Required(),
			mcp.Description("Must be true to delete"),
		),
	)
}
