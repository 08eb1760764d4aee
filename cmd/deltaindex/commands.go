package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/deltaindex/internal/indexer"
	"github.com/dshills/deltaindex/internal/mcp"
	"github.com/dshills/deltaindex/internal/searcher"
	"github.com/dshills/deltaindex/internal/storage"
	"github.com/dshills/deltaindex/internal/watch"
	"github.com/dshills/deltaindex/pkg/types"
)

var classLabels = map[types.PriorityClass]string{
	types.ClassChangedEntryPoint: "changed entry point",
	types.ClassChangedHighFanIn:  "changed high fan-in",
	types.ClassChangedOther:      "changed other",
	types.ClassUnchanged:         "unchanged",
}

// --- diff ---

func newDiffCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "diff",
		Short: "Show what the next run would process",
		Long: `Compare the tree with the last committed manifest and print changed,
new, deleted and unchanged files in dispatch order. No backend calls.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			an, err := a.indexer.AnalyzeChanges(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.json {
				return printJSON(out, an)
			}

			fmt.Fprintf(out, "%d changed, %d new, %d deleted, %d unchanged\n",
				len(an.Changed), len(an.New), len(an.Deleted), len(an.Unchanged))
			if an.Pending > 0 {
				printStatus(out, "Pending chunks", "%d", an.Pending)
			}
			for _, f := range an.Files {
				if f.Status == types.FileUnchanged {
					continue
				}
				fmt.Fprintf(out, "  %-8s %-20s %s\n", f.Status, classLabels[f.Class], f.Path)
			}
			for _, p := range an.Deleted {
				fmt.Fprintf(out, "  %-8s %-20s %s\n", "deleted", "", p)
			}
			for _, sk := range an.Skipped {
				a.logger.Debug("skipped file", "path", sk.Path, "reason", sk.Reason)
			}
			if !an.HasChanges() {
				printSuccess("Index is up to date")
			}
			return nil
		},
	}
}

// --- run ---

func newRunCmd(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one incremental summarize and embed pass",
		Long: `Run one incremental pass over the tree and commit the manifest.

An interrupted run (Ctrl-C, exhausted transient retry budget) still
commits finished chunks; the next run continues from there.

Examples:
  deltaindex run
  deltaindex run --force
  deltaindex --root ~/src/project --dual-embedding run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			printStep("Indexing %s", a.cfg.Root)
			report, runErr := a.indexer.Run(cmd.Context(), indexer.RunOptions{Force: force})
			if report == nil || !report.Committed {
				return runErr
			}

			out := cmd.OutOrStdout()
			if a.json {
				if err := printJSON(out, report); err != nil {
					return err
				}
			} else {
				printReport(cmd, report)
			}

			switch {
			case runErr == nil:
				printSuccess("Run %s committed", report.Stats.RunID)
			case errors.Is(runErr, context.Canceled):
				printWarning("Run interrupted; progress committed")
			default:
				printWarning("Run stopped early; progress committed")
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "reprocess every chunk, ignoring stored summaries and embeddings")
	return cmd
}

func printReport(cmd *cobra.Command, r *indexer.Report) {
	out := cmd.OutOrStdout()
	s := r.Stats
	printStatus(out, "Files", "%d planned, %d skipped, %d deleted", s.FilesPlanned, s.FilesSkipped, s.FilesDeleted)
	printStatus(out, "Chunks", "%d processed, %d succeeded, %d failed, %d cached", s.Processed, s.Succeeded, s.Failed, s.Cached)
	printStatus(out, "Success rate", "%.1f%%", s.SuccessRate()*100)
	printStatus(out, "Backend calls", "%d summarize, %d embed", s.SummarizeCalls, s.EmbedCalls)
	printStatus(out, "Duration", "%s", s.Duration.Round(time.Millisecond))
	for _, q := range r.Quotas {
		printStatus(out, "Quota "+q.Quota, "batch %d, delay %s, %d throttles", q.BatchSize, q.Delay, q.Throttles)
	}
	for _, d := range r.DeadLetters {
		printWarning("dead letter %s (%s, %s): %s", d.ChunkID, d.FilePath, d.Phase, d.LastError)
	}
}

// --- stats ---

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show last committed run statistics and dead letters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			st, err := a.indexer.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.json {
				return printJSON(out, st)
			}

			if st.CommittedAt == "" {
				printWarning("No run has been committed yet. Run 'deltaindex run' first.")
			}
			printStatus(out, "Root", "%s", st.Root)
			printStatus(out, "Committed", "%s", st.CommittedAt)
			printStatus(out, "Models", "summarizer %s, embedder %s", st.SummarizerModel, st.EmbedderModel)
			printStatus(out, "Dual embedding", "%t", st.DualEmbedding)
			printStatus(out, "Files", "%d", st.Files)
			printStatus(out, "Chunks", "%d %s", st.Chunks, formatStatuses(st.ChunksByStatus))
			if st.Store != nil {
				printStatus(out, "Vectors", "%d (%d content, %d summary) in %q, schema %s",
					st.Store.Vectors, st.Store.ContentVectors, st.Store.SummaryVectors, st.Store.Collection, st.Store.SchemaVersion)
			}
			if r := st.LastRun; r != nil {
				printStatus(out, "Last run", "%s at %s: %d processed, %d failed, %.1f%% success, %s",
					r.RunID, r.StartedAt.Format(time.RFC3339), r.Processed, r.Failed, r.SuccessRate()*100, r.Duration.Round(time.Millisecond))
			}
			printStatus(out, "Dead letters", "%d", len(st.DeadLetters))
			for _, d := range st.DeadLetters {
				fmt.Fprintf(out, "    %s %s (%s, %d retries): %s\n", d.FilePath, d.ChunkID, d.Phase, d.RetryCount, d.LastError)
			}
			return nil
		},
	}
}

func formatStatuses(m map[types.ChunkStatus]int) string {
	order := []types.ChunkStatus{
		types.ChunkCompleted, types.ChunkSummarized, types.ChunkPending, types.ChunkFailed,
	}
	var parts []string
	for _, s := range order {
		if n := m[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// --- health ---

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the vector store and both backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			h := a.indexer.Health(cmd.Context())
			out := cmd.OutOrStdout()
			for _, c := range []struct {
				name string
				err  error
			}{
				{"store", h.Store},
				{"summarizer", h.Summarizer},
				{"embedder", h.Embedder},
			} {
				if c.err != nil {
					printStatus(out, c.name, "%s", colorize(colorRed, c.err.Error()))
					continue
				}
				printStatus(out, c.name, "%s", colorize(colorGreen, "ok"))
			}
			return h.Err()
		},
	}
}

// --- delete-collection ---

func newDeleteCollectionCmd(opts *rootOptions) *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "delete-collection",
		Short: "Delete all vectors and reset the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			err = a.indexer.DeleteCollection(cmd.Context(), confirm)
			if errors.Is(err, storage.ErrConfirmationRequired) {
				printWarning("This will delete ALL vectors of %q. Use --confirm to proceed.", a.cfg.Collection)
				return err
			}
			if err != nil {
				return err
			}
			printSuccess("Collection %q deleted; the next run rebuilds from scratch", a.cfg.Collection)
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm deletion")
	return cmd
}

// --- search ---

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		limit    int
		pattern  string
		minScore float64
		noCache  bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index with a natural language query",
		Long: `Search the index with a natural language query.

Examples:
  deltaindex search "retry with exponential backoff"
  deltaindex search --limit 3 --file 'internal/*' "config loading"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			req := searcher.SearchRequest{
				Query:    strings.Join(args, " "),
				Limit:    limit,
				UseCache: !noCache,
				CacheTTL: a.cfg.Search.CacheTTL.Std(),
			}
			if pattern != "" || minScore > 0 {
				req.Filters = &storage.SearchFilters{FilePattern: pattern, MinScore: minScore}
			}
			resp, err := a.searcher.Search(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.json {
				return printJSON(out, resp)
			}
			if len(resp.Results) == 0 {
				printWarning("No results")
				return nil
			}
			for _, r := range resp.Results {
				name := r.Name
				if name == "" {
					name = "-"
				}
				fmt.Fprintf(out, "%2d. %s %s:%d-%d  %s\n", r.Rank,
					colorize(colorBold, fmt.Sprintf("%.3f", r.RelevanceScore)), r.FilePath, r.StartLine, r.EndLine, name)
				if r.Summary != "" {
					fmt.Fprintf(out, "    %s\n", firstLine(r.Summary))
				}
			}
			a.logger.Debug("search finished", "results", resp.TotalResults, "candidates", resp.Candidates, "duration", resp.Duration)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", searcher.DefaultLimit, "maximum number of results (1-100)")
	cmd.Flags().StringVar(&pattern, "file", "", "glob over file paths")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "minimum cosine similarity (0-1)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the query cache")
	return cmd
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// --- watch ---

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run incrementally whenever files change",
		Long: `Run once, then watch the tree and run again after each burst of
changes settles. Stops on Ctrl-C or on an auth/config failure.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			w, err := watch.New(a.cfg.Root, watch.Options{
				Debounce: a.cfg.Watch.Debounce.Std(),
				Walk:     a.indexer.Config().Walk,
				Ignore:   []string{a.cfg.DataDir},
				Logger:   a.logger,
			})
			if err != nil {
				return err
			}
			defer func() { _ = w.Close() }()

			printStep("Watching %s", a.cfg.Root)
			return w.Run(cmd.Context(), func(ctx context.Context, paths []string) error {
				report, err := a.indexer.Run(ctx, indexer.RunOptions{})
				if report != nil && report.Committed {
					a.searcher.InvalidateCache()
					a.logger.Info("run committed",
						"run_id", report.Stats.RunID,
						"changed", len(paths),
						"processed", report.Stats.Processed,
						"failed", report.Stats.Failed)
				}
				return err
			})
		},
	}
}

// --- mcp ---

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the index as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			err = mcp.NewServer(a.indexer, a.searcher, a.logger).Serve(cmd.Context())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
