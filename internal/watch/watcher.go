// Package watch re-runs the indexer when files under the root change.
// Events are debounced; events arriving during a run are coalesced into
// the next one, so runs never overlap.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/deltaindex/internal/walker"
	"github.com/dshills/deltaindex/pkg/types"
)

// RunFunc performs one incremental run. paths lists the changed files that
// triggered it and is nil for the initial run.
type RunFunc func(ctx context.Context, paths []string) error

// Options configure a watcher
type Options struct {
	Debounce time.Duration
	Walk     walker.Options
	// Ignore lists absolute paths whose events are dropped, such as the data directory
	Ignore []string
	Logger *slog.Logger
}

// Watcher turns filesystem events under a root into runs
type Watcher struct {
	root      string
	filter    *walker.Filter
	ignore    []string
	debouncer *Debouncer
	fsw       *fsnotify.Watcher
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	signal  chan struct{}
}

// New watches every walkable directory under root
func New(root string, opts Options) (*Watcher, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	rootAbs = filepath.Clean(rootAbs)

	filter, err := walker.NewFilter(rootAbs, opts.Walk)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var ignore []string
	for _, p := range opts.Ignore {
		if rel, ok := relTo(rootAbs, p); ok {
			ignore = append(ignore, rel)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:      rootAbs,
		filter:    filter,
		ignore:    ignore,
		debouncer: NewDebouncer(opts.Debounce),
		fsw:       fsw,
		logger:    logger,
		pending:   make(map[string]struct{}),
		signal:    make(chan struct{}, 1),
	}
	w.debouncer.OnFire(w.enqueue)

	if err := w.addDirRecursive(rootAbs); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Close stops watching
func (w *Watcher) Close() error {
	w.debouncer.Stop()
	return w.fsw.Close()
}

// Run performs an initial run, then one run per debounced batch of
// changes until ctx is done. A run failing with a fatal error stops the
// watch and is returned; other run errors are logged.
func (w *Watcher) Run(ctx context.Context, fn RunFunc) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := w.invoke(gctx, fn, nil); err != nil {
			return err
		}
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-w.signal:
			}
			if err := w.invoke(gctx, fn, w.drain()); err != nil {
				return err
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-w.fsw.Events:
				if !ok {
					return nil
				}
				w.handleEvent(ev)
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return nil
				}
				w.logger.Warn("watch error", "error", err)
			}
		}
	})

	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (w *Watcher) invoke(ctx context.Context, fn RunFunc, paths []string) error {
	if err := ctx.Err(); err != nil {
		return nil
	}
	w.logger.Info("change detected, running", "paths", len(paths))
	err := fn(ctx, paths)
	switch {
	case err == nil:
		return nil
	case types.IsFatal(err):
		return err
	default:
		w.logger.Warn("run failed, waiting for further changes", "error", err)
		return nil
	}
}

// enqueue records fired paths and wakes the runner without blocking
func (w *Watcher) enqueue(paths []string) {
	w.mu.Lock()
	for _, p := range paths {
		w.pending[p] = struct{}{}
	}
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *Watcher) drain() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	return paths
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	rel, ok := relTo(w.root, ev.Name)
	if !ok || w.ignored(rel) {
		return
	}

	if ev.Op&(fsnotify.Create|fsnotify.Rename) != 0 {
		if st, err := os.Stat(ev.Name); err == nil && st.IsDir() {
			if w.filter.Include(rel, true) {
				if err := w.addDirRecursive(ev.Name); err != nil {
					w.logger.Warn("cannot watch new directory", "path", rel, "error", err)
				}
				w.debouncer.Push(rel)
			}
			return
		}
	}

	if ev.Op == fsnotify.Chmod || !w.filter.Include(rel, false) {
		return
	}
	w.debouncer.Push(rel)
}

func (w *Watcher) ignored(rel string) bool {
	for _, ig := range w.ignore {
		if rel == ig || strings.HasPrefix(rel, ig+"/") {
			return true
		}
	}
	return false
}

func (w *Watcher) addDirRecursive(absDir string) error {
	return filepath.WalkDir(absDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root {
			rel, ok := relTo(w.root, p)
			if !ok || w.ignored(rel) || !w.filter.Include(rel, true) {
				return filepath.SkipDir
			}
		}
		return w.fsw.Add(p)
	})
}

// relTo returns abs relative to root in slash form, or false when abs is
// root itself or outside it
func relTo(root, abs string) (string, bool) {
	if strings.TrimSpace(abs) == "" {
		return "", false
	}
	rel, err := filepath.Rel(root, filepath.Clean(abs))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
