package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dshills/deltaindex/pkg/types"
)

// LedgerFile is the ledger's name inside the data directory
const LedgerFile = "deadletter.json"

// MaxLedgerEntries bounds the persisted history; the oldest entries go first
const MaxLedgerEntries = 1000

// Writer persists a document atomically. *state.Store satisfies it.
type Writer interface {
	WriteJSON(ctx context.Context, name string, v any) error
}

// Ledger is the persisted dead-letter history
type Ledger struct {
	Entries []types.DeadLetterEntry `json:"entries"`
}

// LoadLedger reads the ledger from dir. A missing or corrupt ledger is empty.
func LoadLedger(dir string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(filepath.Join(dir, LedgerFile))
	if errors.Is(err, fs.ErrNotExist) {
		return &Ledger{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dead-letter ledger: %w", err)
	}
	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		logger.Warn("dead-letter ledger is corrupt, starting empty", "error", err)
		return &Ledger{}, nil
	}
	return &l, nil
}

// Append adds entries and trims the history to MaxLedgerEntries
func (l *Ledger) Append(entries ...types.DeadLetterEntry) {
	l.Entries = append(l.Entries, entries...)
	if over := len(l.Entries) - MaxLedgerEntries; over > 0 {
		l.Entries = append([]types.DeadLetterEntry(nil), l.Entries[over:]...)
	}
}

// Reconcile marks dead-lettered entries superseded when their chunk no
// longer exists, changed content, or has since completed
func (l *Ledger) Reconcile(m *types.Manifest) {
	for i := range l.Entries {
		e := &l.Entries[i]
		if e.Disposition != types.DispositionDeadLettered {
			continue
		}
		rec, ok := m.Chunks[e.ChunkID]
		if !ok || rec.Digest != e.Digest || rec.Status == types.ChunkCompleted {
			e.Disposition = types.DispositionSuperseded
		}
	}
}

// Active returns the entries still dead-lettered, latest per chunk
func (l *Ledger) Active() []types.DeadLetterEntry {
	latest := make(map[string]int)
	for i, e := range l.Entries {
		if e.Disposition == types.DispositionDeadLettered {
			latest[e.ChunkID] = i
		}
	}
	out := make([]types.DeadLetterEntry, 0, len(latest))
	for i, e := range l.Entries {
		if idx, ok := latest[e.ChunkID]; ok && idx == i {
			out = append(out, e)
		}
	}
	return out
}

// Save writes the ledger atomically
func (l *Ledger) Save(ctx context.Context, w Writer) error {
	if err := w.WriteJSON(ctx, LedgerFile, l); err != nil {
		return fmt.Errorf("save dead-letter ledger: %w", err)
	}
	return nil
}
