package walker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/deltaindex/pkg/types"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWalk_FiltersAndDigests(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "pkg/util.go", "package pkg\n")
	writeFile(t, root, "vendor/dep/dep.go", "package dep\n")
	writeFile(t, root, "node_modules/x/index.js", "module.exports = 1\n")
	writeFile(t, root, ".hidden/secret.go", "package secret\n")
	writeFile(t, root, ".env", "KEY=1\n")
	writeFile(t, root, "build/out.txt", "artifact\n")
	writeFile(t, root, "debug.log", "log line\n")
	writeFile(t, root, ".gitignore", "build/\n*.log\n")
	writeFile(t, root, "image.png", "\x89PNG\x00\x00")

	result, err := Walk(context.Background(), root, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"main.go", "pkg/util.go"}, result.Paths())
	assert.Equal(t, types.ComputeDigest([]byte("package main\n")), result.Files[0].Digest)
	assert.Equal(t, int64(len("package main\n")), result.Files[0].Size)

	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "image.png", result.Skipped[0].Path)
	assert.Equal(t, "binary content", result.Skipped[0].Reason)
}

func TestWalk_IncludeVendorAndExcludeGlobs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "main_test.go", "package main\n")
	writeFile(t, root, "vendor/dep/dep.go", "package dep\n")

	result, err := Walk(context.Background(), root, Options{
		IncludeVendor: true,
		ExcludeGlobs:  []string{"*_test.go"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"main.go", "vendor/dep/dep.go"}, result.Paths())
}

func TestWalk_SizeLimit(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "small.txt", "ok\n")
	writeFile(t, root, "large.txt", "0123456789012345678901234567890123456789\n")

	result, err := Walk(context.Background(), root, Options{MaxFileBytes: 16})
	require.NoError(t, err)
	assert.Equal(t, []string{"small.txt"}, result.Paths())
	require.Len(t, result.Skipped, 1)
	assert.Contains(t, result.Skipped[0].Reason, "exceeds limit")
}

func TestWalk_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Walk(ctx, root, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWalk_NotADirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	_, err := Walk(context.Background(), filepath.Join(root, "a.go"), Options{})
	assert.Error(t, err)
}

func TestReadFile_DetectsConcurrentChange(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")

	result, err := Walk(context.Background(), root, Options{})
	require.NoError(t, err)
	require.Len(t, result.Files, 1)

	content, err := ReadFile(result.Files[0])
	require.NoError(t, err)
	assert.Equal(t, "package a\n", string(content))

	writeFile(t, root, "a.go", "package b\n")
	_, err = ReadFile(result.Files[0])
	assert.Error(t, err)
}

func TestFilter_MatchesWalk(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "build/\n*.log\n")

	f, err := NewFilter(root, Options{ExcludeGlobs: []string{"*.tmp"}})
	require.NoError(t, err)

	assert.True(t, f.Include("pkg", true))
	assert.True(t, f.Include("pkg/util.go", false))
	assert.False(t, f.Include("build", true))
	assert.False(t, f.Include("vendor", true))
	assert.False(t, f.Include(".git", true))
	assert.False(t, f.Include(".deltaindex", true))
	assert.False(t, f.Include("debug.log", false))
	assert.False(t, f.Include("pkg/.env", false))
	assert.False(t, f.Include("scratch.tmp", false))
}

func TestWalk_ExcludePathsApplyUnderScanAll(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, ".deltaindex/manifest.json", "{}\n")
	writeFile(t, root, "data/vectors.db-wal", "wal\n")
	writeFile(t, root, "database/schema.sql", "create table t;\n")

	result, err := Walk(context.Background(), root, Options{
		ScanAll:      true,
		ExcludePaths: []string{".deltaindex", "data/vectors.db-wal", "data/vectors.db"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"database/schema.sql", "main.go"}, result.Paths())
}
