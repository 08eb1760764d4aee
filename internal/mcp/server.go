package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/deltaindex/internal/indexer"
	"github.com/dshills/deltaindex/internal/searcher"
)

const (
	// ServerName is the MCP server name
	ServerName = "deltaindex"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
	logger   *slog.Logger
}

// NewServer registers the tools against an indexer and a searcher that
// share one embedder
func NewServer(idx *indexer.Indexer, srch *searcher.Searcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp: server.NewMCPServer(
			ServerName,
			ServerVersion,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		indexer:  idx,
		searcher: srch,
		logger:   logger.With("component", "mcp"),
	}
	s.registerTools()
	return s
}

// Serve runs the server on stdio until ctx is done or stdin closes.
// Stdout carries protocol traffic only; logs go to the logger.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	s.logger.Info("mcp server started", "root", s.indexer.Config().Root)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(analyzeChangesTool(), s.handleAnalyzeChanges)
	s.mcp.AddTool(runPipelineTool(), s.handleRunPipeline)
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(healthCheckTool(), s.handleHealthCheck)
	s.mcp.AddTool(deleteCollectionTool(), s.handleDeleteCollection)
}
