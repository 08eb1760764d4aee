package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/deltaindex/internal/indexer"
	"github.com/dshills/deltaindex/internal/searcher"
	"github.com/dshills/deltaindex/internal/state"
	"github.com/dshills/deltaindex/internal/storage"
	"github.com/dshills/deltaindex/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another run holds the index lock
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
	ErrorCodeBackendConfig      = -32005 // Backend rejected credentials or configuration
)

// maxListed caps per-file lists in responses
const maxListed = 50

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    any
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

func newMCPError(code int, message string, data any) error {
	return &MCPError{Code: code, Message: message, Data: data}
}

// runError maps an indexer error to a protocol error
func runError(message string, err error) error {
	code := ErrorCodeInternalError
	switch {
	case errors.Is(err, state.ErrIndexLocked):
		code = ErrorCodeIndexingInProgress
	case errors.Is(err, types.ErrAuthOrConfig):
		code = ErrorCodeBackendConfig
	}
	return newMCPError(code, message, map[string]any{"error": err.Error()})
}

type fileEntry struct {
	Path       string `json:"path"`
	Status     string `json:"status"`
	Class      int    `json:"priority_class"`
	EntryPoint bool   `json:"entry_point,omitempty"`
	FanIn      int    `json:"fan_in,omitempty"`
}

type analyzeResponse struct {
	HasChanges bool                `json:"has_changes"`
	Changed    []string            `json:"changed"`
	New        []string            `json:"new"`
	Deleted    []string            `json:"deleted"`
	Unchanged  int                 `json:"unchanged"`
	Pending    int                 `json:"pending_chunks"`
	ByClass    map[string]int      `json:"by_class"`
	Files      []fileEntry         `json:"files"`
	Truncated  bool                `json:"truncated,omitempty"`
	Skipped    []map[string]string `json:"skipped,omitempty"`
}

func (s *Server) handleAnalyzeChanges(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, err := s.indexer.AnalyzeChanges(ctx)
	if err != nil {
		return nil, runError("change analysis failed", err)
	}

	resp := analyzeResponse{
		HasChanges: a.HasChanges(),
		Changed:    nonNil(a.Changed),
		New:        nonNil(a.New),
		Deleted:    nonNil(a.Deleted),
		Unchanged:  len(a.Unchanged),
		Pending:    a.Pending,
		ByClass:    classCounts(a.ByClass),
	}
	for i, f := range a.Files {
		if i == maxListed {
			resp.Truncated = true
			break
		}
		resp.Files = append(resp.Files, fileEntry{
			Path:       f.Path,
			Status:     string(f.Status),
			Class:      int(f.Class),
			EntryPoint: f.Signals.EntryPoint,
			FanIn:      f.Signals.FanIn,
		})
	}
	for _, sk := range a.Skipped {
		resp.Skipped = append(resp.Skipped, map[string]string{"path": sk.Path, "reason": sk.Reason})
	}
	return jsonResult(resp)
}

type runResponse struct {
	Committed   bool                    `json:"committed"`
	Stats       types.RunStats          `json:"stats"`
	DurationMS  int64                   `json:"duration_ms"`
	SuccessRate float64                 `json:"success_rate"`
	ByClass     map[string]int          `json:"by_class"`
	Deleted     []string                `json:"deleted,omitempty"`
	DeadLetters []types.DeadLetterEntry `json:"dead_letters,omitempty"`
	Quotas      []types.QuotaState      `json:"quotas"`
	Error       string                  `json:"error,omitempty"`
}

func (s *Server) handleRunPipeline(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	force := request.GetBool("force", false)

	report, err := s.indexer.Run(ctx, indexer.RunOptions{Force: force})
	if report == nil || !report.Committed {
		if err == nil {
			err = errors.New("run did not commit")
		}
		return nil, runError("pipeline run failed", err)
	}
	// Cached results may point at replaced chunks
	s.searcher.InvalidateCache()

	resp := runResponse{
		Committed:   report.Committed,
		Stats:       report.Stats,
		DurationMS:  report.Stats.Duration.Milliseconds(),
		SuccessRate: report.Stats.SuccessRate(),
		ByClass:     classCounts(report.ByClass),
		Deleted:     report.Deleted,
		DeadLetters: report.DeadLetters,
		Quotas:      report.Quotas,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	s.logger.Info("run_pipeline finished",
		"run_id", report.Stats.RunID,
		"processed", report.Stats.Processed,
		"failed", report.Stats.Failed,
		"error", resp.Error)
	return jsonResult(resp)
}

type searchHit struct {
	Rank           int     `json:"rank"`
	ChunkID        string  `json:"chunk_id"`
	RelevanceScore float64 `json:"relevance_score"`
	ContentScore   float64 `json:"content_score"`
	SummaryScore   float64 `json:"summary_score,omitempty"`
	FilePath       string  `json:"file_path"`
	StartLine      int     `json:"start_line"`
	EndLine        int     `json:"end_line"`
	Name           string  `json:"name,omitempty"`
	Summary        string  `json:"summary,omitempty"`
}

type searchResponse struct {
	Query        string      `json:"query"`
	Results      []searchHit `json:"results"`
	TotalResults int         `json:"total_results"`
	DurationMS   int64       `json:"duration_ms"`
	CacheHit     bool        `json:"cache_hit"`
}

func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := strings.TrimSpace(request.GetString("query", ""))
	if query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]any{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := request.GetInt("limit", searcher.DefaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]any{
			"param": "limit",
			"value": limit,
		})
	}

	minScore := request.GetFloat("min_score", 0)
	if minScore < 0 || minScore > 1 {
		return nil, newMCPError(ErrorCodeInvalidParams, "min_score must be between 0 and 1", map[string]any{
			"param": "min_score",
			"value": minScore,
		})
	}

	req := searcher.SearchRequest{
		Query:    query,
		Limit:    limit,
		UseCache: request.GetBool("use_cache", true),
	}
	if pattern := request.GetString("file_pattern", ""); pattern != "" || minScore > 0 {
		req.Filters = &storage.SearchFilters{FilePattern: pattern, MinScore: minScore}
	}

	out, err := s.searcher.Search(ctx, req)
	if err != nil {
		return nil, runError("search failed", err)
	}

	resp := searchResponse{
		Query:        query,
		Results:      make([]searchHit, 0, len(out.Results)),
		TotalResults: out.TotalResults,
		DurationMS:   out.Duration.Milliseconds(),
		CacheHit:     out.CacheHit,
	}
	for _, r := range out.Results {
		resp.Results = append(resp.Results, searchHit{
			Rank:           r.Rank,
			ChunkID:        r.ChunkID,
			RelevanceScore: r.RelevanceScore,
			ContentScore:   r.ContentScore,
			SummaryScore:   r.SummaryScore,
			FilePath:       r.FilePath,
			StartLine:      r.StartLine,
			EndLine:        r.EndLine,
			Name:           r.Name,
			Summary:        r.Summary,
		})
	}
	return jsonResult(resp)
}

func (s *Server) handleGetStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.indexer.Status(ctx)
	if err != nil {
		return nil, runError("failed to get status", err)
	}

	byStatus := make(map[string]int, len(st.ChunksByStatus))
	for k, v := range st.ChunksByStatus {
		byStatus[string(k)] = v
	}

	response := map[string]any{
		"indexed":          st.CommittedAt != "",
		"root":             st.Root,
		"data_dir":         st.DataDir,
		"committed_at":     st.CommittedAt,
		"summarizer_model": st.SummarizerModel,
		"embedder_model":   st.EmbedderModel,
		"dual_embedding":   st.DualEmbedding,
		"files":            st.Files,
		"chunks":           st.Chunks,
		"chunks_by_status": byStatus,
		"dead_letters":     len(st.DeadLetters),
	}
	if st.LastRun != nil {
		response["last_run"] = st.LastRun
	}
	if st.Store != nil {
		response["store"] = map[string]any{
			"collection":      st.Store.Collection,
			"model":           st.Store.Model,
			"dimension":       st.Store.Dimension,
			"vectors":         st.Store.Vectors,
			"content_vectors": st.Store.ContentVectors,
			"summary_vectors": st.Store.SummaryVectors,
			"schema_version":  st.Store.SchemaVersion,
			"build_mode":      st.Store.BuildMode,
		}
	}
	return jsonResult(response)
}

func (s *Server) handleHealthCheck(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h := s.indexer.Health(ctx)
	response := map[string]any{
		"healthy":    h.OK(),
		"store":      probe(h.Store),
		"summarizer": probe(h.Summarizer),
		"embedder":   probe(h.Embedder),
		"checked_at": time.Now().UTC().Format(time.RFC3339),
	}
	return jsonResult(response)
}

func (s *Server) handleDeleteCollection(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	confirm := request.GetBool("confirm", false)

	err := s.indexer.DeleteCollection(ctx, confirm)
	if errors.Is(err, storage.ErrConfirmationRequired) {
		return nil, newMCPError(ErrorCodeInvalidParams, "delete_collection requires confirm=true", map[string]any{
			"param": "confirm",
			"value": confirm,
		})
	}
	if err != nil {
		return nil, runError("failed to delete collection", err)
	}
	s.searcher.InvalidateCache()

	s.logger.Warn("collection deleted")
	return jsonResult(map[string]any{"deleted": true})
}

// Helper functions

func probe(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}

func classCounts(in map[types.PriorityClass]int) map[string]int {
	out := make(map[string]int, len(in))
	for class, n := range in {
		out[className(class)] = n
	}
	return out
}

func className(c types.PriorityClass) string {
	switch c {
	case types.ClassChangedEntryPoint:
		return "changed_entry_point"
	case types.ClassChangedHighFanIn:
		return "changed_high_fan_in"
	case types.ClassChangedOther:
		return "changed_other"
	case types.ClassUnchanged:
		return "unchanged"
	}
	return fmt.Sprintf("class_%d", int(c))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// jsonResult formats a payload as indented JSON text content
func jsonResult(data any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to encode response", map[string]any{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(string(b)), nil
}
