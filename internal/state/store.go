// Package state is the State Store: it loads, diffs and atomically commits
// the manifest, and serializes runs against one index.
package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/natefinch/atomic"

	"github.com/dshills/deltaindex/pkg/types"
)

const (
	// ManifestVersion is the format version written by this build
	ManifestVersion = "1.0.0"
	// ManifestFile is the manifest's name inside the data directory
	ManifestFile = "manifest.json"
)

// Store owns the manifest of one index
type Store struct {
	dir    string
	logger *slog.Logger
	retry  RetryConfig

	// write is atomic.WriteFile; replaced in tests to inject failures
	write func(path string, r io.Reader) error
}

// New creates a store rooted at the data directory dir
func New(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:    dir,
		logger: logger,
		retry:  DefaultRetryConfig(),
		write:  atomic.WriteFile,
	}
}

// Dir returns the data directory
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the manifest file path
func (s *Store) Path() string {
	return filepath.Join(s.dir, ManifestFile)
}

// Load reads the last committed manifest. A missing, corrupt or
// incompatible manifest yields an empty one; only I/O failures other than
// absence are returned as errors.
func (s *Store) Load() (*types.Manifest, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return types.NewManifest(ManifestVersion), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %v", types.ErrPersistence, err)
	}

	var m types.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		s.logger.Warn("manifest is corrupt, starting from an empty index", "path", s.Path(), "error", err)
		return types.NewManifest(ManifestVersion), nil
	}
	if !compatible(m.Version) {
		s.logger.Warn("manifest format is incompatible, starting from an empty index",
			"path", s.Path(), "version", m.Version, "supported", ManifestVersion)
		return types.NewManifest(ManifestVersion), nil
	}

	if m.Files == nil {
		m.Files = make(map[string]*types.FileRecord)
	}
	if m.Chunks == nil {
		m.Chunks = make(map[string]*types.ChunkRecord)
	}
	for id, c := range m.Chunks {
		if c == nil {
			delete(m.Chunks, id)
		}
	}
	for path, f := range m.Files {
		if f == nil {
			delete(m.Files, path)
		}
	}
	return &m, nil
}

// compatible accepts manifests with the same major format version
func compatible(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	current := semver.MustParse(ManifestVersion)
	return v.Major() == current.Major()
}

// Commit writes m atomically. Failed writes are retried with backoff; the
// previous manifest is untouched until a write succeeds.
func (s *Store) Commit(ctx context.Context, m *types.Manifest) error {
	m.Version = ManifestVersion
	m.CommittedAt = time.Now().UTC()

	if err := s.writeJSON(ctx, s.Path(), m); err != nil {
		return fmt.Errorf("commit manifest: %w", err)
	}
	s.logger.Debug("manifest committed", "path", s.Path(), "files", len(m.Files), "chunks", len(m.Chunks))
	return nil
}

// Reset replaces the manifest with an empty one
func (s *Store) Reset(ctx context.Context) error {
	return s.Commit(ctx, types.NewManifest(ManifestVersion))
}

// WriteJSON atomically writes v as indented JSON next to the manifest
func (s *Store) WriteJSON(ctx context.Context, name string, v any) error {
	return s.writeJSON(ctx, filepath.Join(s.dir, name), v)
}

func (s *Store) writeJSON(ctx context.Context, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", types.ErrPersistence, filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: create data dir: %v", types.ErrPersistence, err)
	}

	attempt := 0
	err = retryWithBackoff(ctx, s.retry, func() error {
		attempt++
		werr := s.write(path, bytes.NewReader(data))
		if werr != nil {
			s.logger.Warn("atomic write failed", "path", path, "attempt", attempt, "error", werr)
		}
		return werr
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: write %s after %d attempts: %v", types.ErrPersistence, filepath.Base(path), attempt, err)
	}
	return nil
}

// DiffResult partitions the current file list against a manifest. Each
// slice is sorted by path.
type DiffResult struct {
	Changed   []string
	New       []string
	Unchanged []string
	Deleted   []string

	status map[string]types.FileStatus
}

// Status returns the classification of path
func (d *DiffResult) Status(path string) types.FileStatus {
	return d.status[path]
}

// HasChanges reports whether anything differs from the manifest
func (d *DiffResult) HasChanges() bool {
	return len(d.Changed)+len(d.New)+len(d.Deleted) > 0
}

// Diff classifies current files, keyed by path, against prev using content
// digests only
func Diff(prev *types.Manifest, current map[string]types.Digest) *DiffResult {
	d := &DiffResult{status: make(map[string]types.FileStatus, len(current))}

	for path, digest := range current {
		rec, ok := prev.Files[path]
		switch {
		case !ok:
			d.New = append(d.New, path)
			d.status[path] = types.FileNew
		case rec.Digest != digest:
			d.Changed = append(d.Changed, path)
			d.status[path] = types.FileChanged
		default:
			d.Unchanged = append(d.Unchanged, path)
			d.status[path] = types.FileUnchanged
		}
	}
	for path := range prev.Files {
		if _, ok := current[path]; !ok {
			d.Deleted = append(d.Deleted, path)
			d.status[path] = types.FileDeleted
		}
	}

	sort.Strings(d.Changed)
	sort.Strings(d.New)
	sort.Strings(d.Unchanged)
	sort.Strings(d.Deleted)
	return d
}
