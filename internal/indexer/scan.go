package indexer

import (
	"context"
	"fmt"
	"sync"

	"github.com/dshills/deltaindex/internal/planner"
	"github.com/dshills/deltaindex/internal/state"
	"github.com/dshills/deltaindex/internal/walker"
	"github.com/dshills/deltaindex/pkg/types"
)

// scan is the tree as seen by one run
type scan struct {
	files   map[string]walker.File
	skipped []walker.Skip
	diff    *state.DiffResult
	plan    *planner.Plan

	mu       sync.Mutex
	contents map[string][]byte
}

// read returns a discovered file's content, verified against its walk
// digest and kept for the rest of the run
func (s *scan) read(path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.contents[path]; ok {
		return b, nil
	}
	f, ok := s.files[path]
	if !ok {
		return nil, fmt.Errorf("%s was not discovered", path)
	}
	b, err := walker.ReadFile(f)
	if err != nil {
		return nil, err
	}
	s.contents[path] = b
	return b, nil
}

// scan walks the tree, diffs it against prev and plans dispatch order
func (idx *Indexer) scan(ctx context.Context, prev *types.Manifest) (*scan, error) {
	walked, err := walker.Walk(ctx, idx.cfg.Root, idx.cfg.Walk)
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", idx.cfg.Root, err)
	}

	s := &scan{
		files:    make(map[string]walker.File, len(walked.Files)),
		skipped:  walked.Skipped,
		contents: make(map[string][]byte),
	}
	current := make(map[string]types.Digest, len(walked.Files))
	for _, f := range walked.Files {
		s.files[f.Path] = f
		current[f.Path] = f.Digest
	}
	s.diff = state.Diff(prev, current)

	signals, err := idx.analyzer.Analyze(ctx, idx.cfg.Root, walked.Paths(), s.read)
	if err != nil {
		return nil, fmt.Errorf("analyze structure: %w", err)
	}
	s.plan = idx.planner.Plan(s.diff, signals)
	return s, nil
}

// Analysis is a dry-run view of the next run
type Analysis struct {
	Changed   []string
	New       []string
	Unchanged []string
	Deleted   []string
	Files     []planner.PlannedFile // Dispatch order
	ByClass   map[types.PriorityClass]int
	Skipped   []walker.Skip
	// Pending counts recorded chunks of unchanged files that are not complete
	Pending int
}

// HasChanges reports whether the next run has new work from the tree
func (a *Analysis) HasChanges() bool {
	return len(a.Changed)+len(a.New)+len(a.Deleted) > 0
}

// AnalyzeChanges diffs the tree against the last committed manifest and
// plans the next run without calling any backend
func (idx *Indexer) AnalyzeChanges(ctx context.Context) (*Analysis, error) {
	prev, err := idx.state.Load()
	if err != nil {
		return nil, err
	}
	sc, err := idx.scan(ctx, prev)
	if err != nil {
		return nil, err
	}

	a := &Analysis{
		Changed:   sc.diff.Changed,
		New:       sc.diff.New,
		Unchanged: sc.diff.Unchanged,
		Deleted:   sc.diff.Deleted,
		Files:     sc.plan.Files,
		ByClass:   sc.plan.CountByClass(),
		Skipped:   sc.skipped,
	}
	dual := idx.cfg.Pipeline.DualEmbedding
	for _, path := range sc.diff.Unchanged {
		for _, c := range prev.ChunksForFile(path) {
			if !complete(c, dual) {
				a.Pending++
			}
		}
	}
	return a, nil
}
