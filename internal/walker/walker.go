// Package walker discovers the files of a source tree and computes their
// content digests.
package walker

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dshills/deltaindex/pkg/types"
)

// DefaultMaxFileBytes is the size cap above which files are skipped
const DefaultMaxFileBytes = 1 << 20

// sniffLen is the prefix inspected for NUL bytes
const sniffLen = 8000

// Options controls discovery
type Options struct {
	IncludeVendor bool     // Whether to walk vendor directories (default: false)
	ScanAll       bool     // Ignore .gitignore and hidden-file rules
	MaxFileBytes  int64    // Zero means DefaultMaxFileBytes
	ExcludeGlobs  []string // Extra patterns; basename globs when they contain no slash
	// ExcludePaths are root-relative slash paths left out with everything
	// beneath them, even under ScanAll
	ExcludePaths []string
}

// File is one discovered file. Path is slash-separated and relative to the root.
type File struct {
	Path    string
	AbsPath string
	Digest  types.Digest
	ModTime time.Time
	Size    int64
}

// Skip records a file left out of the listing and why
type Skip struct {
	Path   string
	Reason string
}

// Result is the outcome of a walk, sorted by path
type Result struct {
	Files   []File
	Skipped []Skip
}

// Paths returns the discovered relative paths
func (r *Result) Paths() []string {
	paths := make([]string, len(r.Files))
	for i, f := range r.Files {
		paths[i] = f.Path
	}
	return paths
}

// Walk lists the indexable files under root. Cancellation is checked per entry.
func Walk(ctx context.Context, root string, opts Options) (*Result, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	filter, err := NewFilter(root, opts)
	if err != nil {
		return nil, err
	}
	maxBytes := opts.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}

	result := &Result{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			result.Skipped = append(result.Skipped, Skip{Path: path, Reason: walkErr.Error()})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if !filter.Include(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !filter.Include(rel, false) {
			return nil
		}

		file, reason, err := digestFile(path, maxBytes)
		if err != nil {
			result.Skipped = append(result.Skipped, Skip{Path: rel, Reason: err.Error()})
			return nil
		}
		if reason != "" {
			result.Skipped = append(result.Skipped, Skip{Path: rel, Reason: reason})
			return nil
		}
		file.Path = rel
		file.AbsPath = path
		result.Files = append(result.Files, file)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result.Files, func(i, j int) bool { return result.Files[i].Path < result.Files[j].Path })
	return result, nil
}

// Filter answers whether a root-relative path is part of the walk. Watch
// mode uses it to drop events the walker would never see.
type Filter struct {
	opts Options
	ig   *ignoreMatcher
}

// NewFilter loads the ignore rules of root
func NewFilter(root string, opts Options) (*Filter, error) {
	ig, err := loadIgnoreMatcher(root, opts.ScanAll, opts.ExcludeGlobs)
	if err != nil {
		return nil, fmt.Errorf("load ignore patterns: %w", err)
	}
	return &Filter{opts: opts, ig: ig}, nil
}

// Include reports whether rel (slash-separated) is walked. Parent
// directories are not checked.
func (f *Filter) Include(rel string, isDir bool) bool {
	if underAny(f.opts.ExcludePaths, rel) {
		return false
	}
	name := path.Base(rel)
	if isDir {
		return !skipDir(name, f.opts) && (f.opts.ScanAll || !f.ig.isIgnored(rel, true))
	}
	if !f.opts.ScanAll && isHidden(name) {
		return false
	}
	return !f.ig.isIgnored(rel, false)
}

func underAny(prefixes []string, rel string) bool {
	for _, p := range prefixes {
		p = strings.Trim(p, "/")
		if p == "" || p == "." {
			continue
		}
		if rel == p || strings.HasPrefix(rel, p+"/") {
			return true
		}
	}
	return false
}

func skipDir(name string, opts Options) bool {
	switch name {
	case ".git", "node_modules":
		return true
	case "vendor":
		return !opts.IncludeVendor
	}
	return !opts.ScanAll && isHidden(name)
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// digestFile reads and hashes a file, reporting a skip reason for oversized
// or binary content
func digestFile(path string, maxBytes int64) (File, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, "", err
	}
	if info.Size() > maxBytes {
		return File{}, fmt.Sprintf("size %d exceeds limit %d", info.Size(), maxBytes), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return File{}, "", err
	}
	head := content
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return File{}, "binary content", nil
	}

	return File{
		Digest:  types.ComputeDigest(content),
		ModTime: info.ModTime(),
		Size:    info.Size(),
	}, "", nil
}

// ReadFile reads a discovered file and verifies it still matches its digest.
// A mismatch means the file changed after the walk.
func ReadFile(f File) ([]byte, error) {
	content, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return nil, err
	}
	if got := types.ComputeDigest(content); got != f.Digest {
		return nil, fmt.Errorf("%s changed during run (digest %s, expected %s)", f.Path, got.Short(), f.Digest.Short())
	}
	return content, nil
}
