package deadletter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/deltaindex/internal/state"
	"github.com/dshills/deltaindex/pkg/types"
)

func TestHandler_DeadLettersAfterMaxRetries(t *testing.T) {
	h := NewHandler(3, "run-1", nil)
	rec := &types.ChunkRecord{ID: "c1", FilePath: "a.go", Digest: "d", Status: types.ChunkSummarizing}
	bad := errors.New("payload rejected")

	assert.False(t, h.RecordFailure(rec, "summarize", bad))
	assert.False(t, h.RecordFailure(rec, "summarize", bad))
	assert.Equal(t, types.ChunkSummarizing, rec.Status)
	assert.Equal(t, 2, rec.RetryCount)

	assert.True(t, h.RecordFailure(rec, "summarize", bad))
	assert.Equal(t, types.ChunkFailed, rec.Status)
	assert.Equal(t, 3, rec.RetryCount)
	assert.Equal(t, "payload rejected", rec.LastError)

	entries := h.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "run-1", entries[0].RunID)
	assert.Equal(t, "c1", entries[0].ChunkID)
	assert.Equal(t, 3, entries[0].RetryCount)
	assert.Equal(t, types.DispositionDeadLettered, entries[0].Disposition)
}

func TestHandler_ConcurrentFailures(t *testing.T) {
	h := NewHandler(5, "r", nil)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := &types.ChunkRecord{ID: []string{"a", "b"}[i%2]}
			h.RecordFailure(rec, "embed", errors.New("x"))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, h.Attempts("a"))
	assert.Equal(t, 5, h.Attempts("b"))
	assert.Equal(t, 2, h.Count())
}

func TestNewHandler_DefaultRetries(t *testing.T) {
	assert.Equal(t, DefaultMaxRetries, NewHandler(0, "r", nil).MaxRetries())
}

func TestLedger_SaveLoadReconcile(t *testing.T) {
	dir := t.TempDir()
	store := state.New(dir, nil)

	l, err := LoadLedger(dir, nil)
	require.NoError(t, err)
	assert.Empty(t, l.Entries)

	l.Append(
		types.DeadLetterEntry{ChunkID: "gone", Digest: "d1", Disposition: types.DispositionDeadLettered},
		types.DeadLetterEntry{ChunkID: "fixed", Digest: "d2", Disposition: types.DispositionDeadLettered},
		types.DeadLetterEntry{ChunkID: "stuck", Digest: "d3", Disposition: types.DispositionDeadLettered},
		types.DeadLetterEntry{ChunkID: "edited", Digest: "d4", Disposition: types.DispositionDeadLettered},
	)
	require.NoError(t, l.Save(context.Background(), store))

	loaded, err := LoadLedger(dir, nil)
	require.NoError(t, err)
	require.Len(t, loaded.Entries, 4)

	m := types.NewManifest(state.ManifestVersion)
	m.Chunks["fixed"] = &types.ChunkRecord{ID: "fixed", Digest: "d2", Status: types.ChunkCompleted}
	m.Chunks["stuck"] = &types.ChunkRecord{ID: "stuck", Digest: "d3", Status: types.ChunkFailed}
	m.Chunks["edited"] = &types.ChunkRecord{ID: "edited", Digest: "d4-new", Status: types.ChunkPending}
	loaded.Reconcile(m)

	active := loaded.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "stuck", active[0].ChunkID)
}

func TestLedger_ActiveKeepsLatestPerChunk(t *testing.T) {
	l := &Ledger{}
	l.Append(
		types.DeadLetterEntry{RunID: "r1", ChunkID: "c", Disposition: types.DispositionDeadLettered},
		types.DeadLetterEntry{RunID: "r2", ChunkID: "c", Disposition: types.DispositionDeadLettered},
	)
	active := l.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "r2", active[0].RunID)
}

func TestLedger_TrimsHistory(t *testing.T) {
	l := &Ledger{}
	for i := 0; i < MaxLedgerEntries+5; i++ {
		l.Append(types.DeadLetterEntry{RetryCount: i})
	}
	require.Len(t, l.Entries, MaxLedgerEntries)
	assert.Equal(t, 5, l.Entries[0].RetryCount)
}

func TestLoadLedger_Corrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, LedgerFile), []byte("]]"), 0o644))
	l, err := LoadLedger(dir, nil)
	require.NoError(t, err)
	assert.Empty(t, l.Entries)
}
