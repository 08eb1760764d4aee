package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/deltaindex/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrConfirmationRequired is returned by Delete without confirm
	ErrConfirmationRequired = errors.New("collection deletion requires confirmation")
	// ErrDimensionMismatch is returned when a vector does not match its collection
	ErrDimensionMismatch = fmt.Errorf("%w: vector dimension mismatch", types.ErrChunkProcessing)
)

// maxParams keeps IN lists under SQLite's bound parameter limit
const maxParams = 500

// SQLiteStore implements VectorStore on a single SQLite database
type SQLiteStore struct {
	db         *sql.DB
	collection string
}

var _ VectorStore = (*SQLiteStore)(nil)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStore opens dbPath and binds the store to collection
func NewSQLiteStore(dbPath, collection string) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	if collection == "" {
		collection = DefaultCollection
	}
	return &SQLiteStore{db: db, collection: collection}, nil
}

// Collection returns the collection this store writes to
func (s *SQLiteStore) Collection() string {
	return s.collection
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// withTx runs fn inside a transaction, rolling back on error
func (s *SQLiteStore) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) EnsureCollection(ctx context.Context, model string, dimension int) (bool, error) {
	reset := false
	err := s.withTx(ctx, func(q querier) error {
		var curModel string
		var curDim int
		err := q.QueryRowContext(ctx,
			"SELECT model, dimension FROM collections WHERE name = ?", s.collection).Scan(&curModel, &curDim)
		if errors.Is(err, sql.ErrNoRows) {
			_, err = q.ExecContext(ctx,
				"INSERT INTO collections (name, model, dimension) VALUES (?, ?, ?)",
				s.collection, model, dimension)
			if err != nil {
				return fmt.Errorf("failed to create collection: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read collection: %w", err)
		}
		if curModel == model && curDim == dimension {
			return nil
		}

		if _, err := q.ExecContext(ctx, "DELETE FROM vectors WHERE collection = ?", s.collection); err != nil {
			return fmt.Errorf("failed to clear collection: %w", err)
		}
		_, err = q.ExecContext(ctx,
			"UPDATE collections SET model = ?, dimension = ?, updated_at = ? WHERE name = ?",
			model, dimension, time.Now(), s.collection)
		if err != nil {
			return fmt.Errorf("failed to update collection: %w", err)
		}
		reset = true
		return nil
	})
	return reset, err
}

// dimension returns the collection's pinned dimension, 0 when unpinned
func (s *SQLiteStore) dimension(ctx context.Context, q querier) (int, error) {
	var dim int
	err := q.QueryRowContext(ctx, "SELECT dimension FROM collections WHERE name = ?", s.collection).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return dim, err
}

func (s *SQLiteStore) Upsert(ctx context.Context, records []VectorRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	// The WHERE on the update turns identical re-upserts into no-ops, so
	// updated_at and the change count only move when content moves.
	const query = `
		INSERT INTO vectors (collection, id, chunk_id, kind, file_path, start_line, end_line,
			name, summary, digest, dimension, vector, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			chunk_id = excluded.chunk_id,
			kind = excluded.kind,
			file_path = excluded.file_path,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			name = excluded.name,
			summary = excluded.summary,
			digest = excluded.digest,
			dimension = excluded.dimension,
			vector = excluded.vector,
			updated_at = excluded.updated_at
		WHERE vectors.digest IS NOT excluded.digest
			OR vectors.vector IS NOT excluded.vector
			OR vectors.summary IS NOT excluded.summary
			OR vectors.file_path IS NOT excluded.file_path
			OR vectors.start_line IS NOT excluded.start_line
			OR vectors.end_line IS NOT excluded.end_line
			OR vectors.name IS NOT excluded.name
	`

	changed := 0
	err := s.withTx(ctx, func(q querier) error {
		dim, err := s.dimension(ctx, q)
		if errors.Is(err, ErrNotFound) {
			if _, err := q.ExecContext(ctx, "INSERT INTO collections (name) VALUES (?)", s.collection); err != nil {
				return fmt.Errorf("failed to create collection: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("failed to read collection: %w", err)
		}

		now := time.Now()
		for _, r := range records {
			if r.ID == "" || r.ChunkID == "" {
				return fmt.Errorf("%w: record id and chunk id are required", types.ErrChunkProcessing)
			}
			if dim > 0 && len(r.Vector) != dim {
				return fmt.Errorf("%w: record %s has %d, collection has %d", ErrDimensionMismatch, r.ID, len(r.Vector), dim)
			}
			blob, err := encodeVector(r.Vector)
			if err != nil {
				return fmt.Errorf("serialize vector %s: %w", r.ID, err)
			}
			res, err := q.ExecContext(ctx, query,
				s.collection, r.ID, r.ChunkID, string(r.Kind), r.FilePath, r.StartLine, r.EndLine,
				r.Name, r.Summary, string(r.Digest), len(r.Vector), blob, now)
			if err != nil {
				return fmt.Errorf("failed to upsert vector %s: %w", r.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			changed += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

func (s *SQLiteStore) Search(ctx context.Context, query []float32, limit int, filters *SearchFilters) ([]Match, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if limit <= 0 {
		return []Match{}, nil
	}
	return searchVector(ctx, s.db, s.collection, query, limit, filters)
}

func (s *SQLiteStore) DeleteChunks(ctx context.Context, chunkIDs []string) (int, error) {
	if len(chunkIDs) == 0 {
		return 0, nil
	}
	deleted := 0
	err := s.withTx(ctx, func(q querier) error {
		for start := 0; start < len(chunkIDs); start += maxParams {
			end := min(start+maxParams, len(chunkIDs))
			batch := chunkIDs[start:end]

			args := make([]interface{}, 0, len(batch)+1)
			args = append(args, s.collection)
			for _, id := range batch {
				args = append(args, id)
			}
			res, err := q.ExecContext(ctx,
				"DELETE FROM vectors WHERE collection = ? AND chunk_id IN ("+placeholders(len(batch))+")", args...)
			if err != nil {
				return fmt.Errorf("failed to delete vectors: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			deleted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, collection string, confirm bool) error {
	if !confirm {
		return ErrConfirmationRequired
	}
	if collection == "" {
		collection = s.collection
	}
	return s.withTx(ctx, func(q querier) error {
		// Explicit vector delete; foreign keys may be off on foreign connections
		if _, err := q.ExecContext(ctx, "DELETE FROM vectors WHERE collection = ?", collection); err != nil {
			return fmt.Errorf("failed to delete vectors: %w", err)
		}
		res, err := q.ExecContext(ctx, "DELETE FROM collections WHERE name = ?", collection)
		if err != nil {
			return fmt.Errorf("failed to delete collection: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("collection %q: %w", collection, ErrNotFound)
		}
		return nil
	})
}

func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	v, err := SchemaVersion(ctx, s.db)
	if err != nil {
		return err
	}
	if v != CurrentSchemaVersion {
		return fmt.Errorf("schema version %s, want %s", v, CurrentSchemaVersion)
	}
	if VectorExtensionAvailable {
		var version string
		if err := s.db.QueryRowContext(ctx, "SELECT vec_version()").Scan(&version); err != nil {
			return fmt.Errorf("sqlite-vec not loaded: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Collection: s.collection, BuildMode: BuildMode}

	err := s.db.QueryRowContext(ctx,
		"SELECT model, dimension FROM collections WHERE name = ?", s.collection).Scan(&st.Model, &st.Dimension)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read collection: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT chunk_id),
			COUNT(DISTINCT file_path)
		FROM vectors WHERE collection = ?`,
		string(types.EmbeddingContent), string(types.EmbeddingSummary), s.collection,
	).Scan(&st.Vectors, &st.ContentVectors, &st.SummaryVectors, &st.Chunks, &st.Files)
	if err != nil {
		return nil, fmt.Errorf("failed to count vectors: %w", err)
	}

	if st.SchemaVersion, err = SchemaVersion(ctx, s.db); err != nil {
		return nil, err
	}
	return st, nil
}

// Get returns one record by id
func (s *SQLiteStore) Get(ctx context.Context, id string) (*VectorRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM vectors WHERE collection = ? AND id = ?", s.collection, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

const recordColumns = "id, chunk_id, kind, file_path, start_line, end_line, name, summary, digest, vector, updated_at"

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner, extra ...interface{}) (*VectorRecord, error) {
	var r VectorRecord
	var kind, digest string
	var name, summary sql.NullString
	var blob []byte
	dest := []interface{}{&r.ID, &r.ChunkID, &kind, &r.FilePath, &r.StartLine, &r.EndLine,
		&name, &summary, &digest, &blob, &r.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	r.Kind = types.EmbeddingKind(kind)
	r.Digest = types.Digest(digest)
	r.Name = name.String
	r.Summary = summary.String
	r.Vector = deserializeVector(blob)
	return &r, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
