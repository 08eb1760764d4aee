package state

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/deltaindex/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(t.TempDir(), nil)
	s.retry = RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
	return s
}

func sampleManifest() *types.Manifest {
	done := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := types.NewManifest(ManifestVersion)
	m.EmbedderModel = "nomic-embed-text"
	m.Files["main.go"] = &types.FileRecord{
		Path: "main.go", Digest: "aa", ModTime: done, SizeBytes: 10,
		Language: "go", ChunkCount: 1, ChunkIDs: []string{"c1"}, Status: types.FileNew,
	}
	m.Chunks["c1"] = &types.ChunkRecord{
		ID: "c1", FilePath: "main.go", Digest: "bb", Summary: "entry point",
		Embeddings:  []types.EmbeddingRef{{Kind: types.EmbeddingContent, VectorID: "c1"}},
		Status:      types.ChunkCompleted,
		CompletedAt: &done,
	}
	m.LastRun = &types.RunStats{RunID: "r1", Processed: 1, Succeeded: 1}
	return m
}

func TestLoad_MissingManifest(t *testing.T) {
	s := newTestStore(t)
	m, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, m.Files)
	assert.Empty(t, m.Chunks)
	assert.Equal(t, ManifestVersion, m.Version)
}

func TestCommitLoad_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	m := sampleManifest()
	require.NoError(t, s.Commit(context.Background(), m))

	loaded, err := s.Load()
	require.NoError(t, err)
	if diff := cmp.Diff(m.Files, loaded.Files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(m.Chunks, loaded.Chunks); diff != "" {
		t.Errorf("chunks mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "nomic-embed-text", loaded.EmbedderModel)
	require.NotNil(t, loaded.LastRun)
	assert.Equal(t, "r1", loaded.LastRun.RunID)
}

func TestLoad_CorruptManifestIsEmpty(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))

	m, err := s.Load()
	require.NoError(t, err, "corruption is never fatal")
	assert.Empty(t, m.Files)
}

func TestLoad_IncompatibleVersionIsEmpty(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"version":"2.0.0","files":{"a.go":{"path":"a.go"}},"chunks":{}}`), 0o644))

	m, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, m.Files)

	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"version":"1.3.0","files":{"a.go":{"path":"a.go"}}}`), 0o644))
	m, err = s.Load()
	require.NoError(t, err)
	assert.Len(t, m.Files, 1, "minor versions are compatible")
	assert.NotNil(t, m.Chunks)
}

func TestCommit_RetriesTransientWriteFailures(t *testing.T) {
	s := newTestStore(t)
	calls := 0
	s.write = func(path string, r io.Reader) error {
		calls++
		if calls < 3 {
			return errors.New("disk hiccup")
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		return os.WriteFile(path, data, 0o644)
	}

	require.NoError(t, s.Commit(context.Background(), sampleManifest()))
	assert.Equal(t, 3, calls)
}

func TestCommit_PersistentFailureLeavesPreviousManifest(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Commit(context.Background(), sampleManifest()))

	s.write = func(string, io.Reader) error { return errors.New("read-only filesystem") }
	next := types.NewManifest(ManifestVersion)
	err := s.Commit(context.Background(), next)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrPersistence)
	assert.True(t, types.IsFatal(err))

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, loaded.Files, 1, "previous commit is intact")
}

func TestCommit_NoTempFilesLeftBehind(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Commit(context.Background(), sampleManifest()))
	require.NoError(t, s.Commit(context.Background(), sampleManifest()))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{ManifestFile}, names)
}

func TestDiff(t *testing.T) {
	prev := types.NewManifest(ManifestVersion)
	prev.Files["same.go"] = &types.FileRecord{Path: "same.go", Digest: "d1", ModTime: time.Unix(1, 0)}
	prev.Files["edit.go"] = &types.FileRecord{Path: "edit.go", Digest: "d2"}
	prev.Files["gone.go"] = &types.FileRecord{Path: "gone.go", Digest: "d3"}

	d := Diff(prev, map[string]types.Digest{
		"same.go":  "d1",
		"edit.go":  "d2-modified",
		"added.go": "d4",
	})

	assert.Equal(t, []string{"edit.go"}, d.Changed)
	assert.Equal(t, []string{"added.go"}, d.New)
	assert.Equal(t, []string{"same.go"}, d.Unchanged)
	assert.Equal(t, []string{"gone.go"}, d.Deleted)
	assert.Equal(t, types.FileChanged, d.Status("edit.go"))
	assert.Equal(t, types.FileDeleted, d.Status("gone.go"))
	assert.True(t, d.HasChanges())

	same := Diff(prev, map[string]types.Digest{"same.go": "d1", "edit.go": "d2", "gone.go": "d3"})
	assert.False(t, same.HasChanges())
}

func TestRunLock_RejectsSecondHolder(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("flock is unix-only")
	}
	dir := t.TempDir()
	first, err := AcquireRunLock(dir)
	require.NoError(t, err)

	_, err = AcquireRunLock(dir)
	assert.ErrorIs(t, err, ErrIndexLocked)

	require.NoError(t, first.Release())
	again, err := AcquireRunLock(dir)
	require.NoError(t, err)
	require.NoError(t, again.Release())

	_, statErr := os.Stat(filepath.Join(dir, LockFile))
	assert.NoError(t, statErr)
}
