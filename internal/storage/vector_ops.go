package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// searchVector performs vector similarity search using cosine similarity
func searchVector(ctx context.Context, db *sql.DB, collection string, queryVector []float32, limit int, filters *SearchFilters) ([]Match, error) {
	// Use optimized SQL-based search when sqlite-vec is available
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, db, collection, queryVector, limit, filters)
	}
	// Fall back to Go-based computation for purego builds
	return searchVectorFallback(ctx, db, collection, queryVector, limit, filters)
}

// searchVectorOptimized uses sqlite-vec extension for SQL-based vector similarity search
func searchVectorOptimized(ctx context.Context, db *sql.DB, collection string, queryVector []float32, limit int, filters *SearchFilters) ([]Match, error) {
	queryBlob, err := encodeVector(queryVector)
	if err != nil {
		return nil, fmt.Errorf("serialize query vector: %w", err)
	}

	// vec_distance_cosine returns distance (lower is better); convert to similarity
	query := `
		SELECT ` + recordColumns + `, 1.0 - vec_distance_cosine(vector, ?) AS similarity
		FROM vectors
		WHERE collection = ? AND dimension = ?
	`
	args := []interface{}{queryBlob, collection, len(queryVector)}
	query, args = applyVectorFilters(query, args, filters)

	if filters != nil && filters.MinScore > 0 {
		query += " AND (1.0 - vec_distance_cosine(vector, ?)) >= ?"
		args = append(args, queryBlob, filters.MinScore)
	}

	query += " ORDER BY similarity DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]Match, 0, limit)
	for rows.Next() {
		var score float64
		rec, err := scanRecord(rows, &score)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, Match{Record: *rec, Score: score})
	}
	return results, rows.Err()
}

// searchVectorFallback ranks vectors in Go when sqlite-vec is not available
func searchVectorFallback(ctx context.Context, db *sql.DB, collection string, queryVector []float32, limit int, filters *SearchFilters) ([]Match, error) {
	query := `SELECT ` + recordColumns + ` FROM vectors WHERE collection = ? AND dimension = ?`
	args := []interface{}{collection, len(queryVector)}
	query, args = applyVectorFilters(query, args, filters)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates, err := computeSimilarityScores(rows, queryVector, filters)
	if err != nil {
		return nil, err
	}

	sortCandidates(candidates)

	if limit > len(candidates) {
		limit = len(candidates)
	}
	return candidates[:limit], nil
}

// applyVectorFilters adds WHERE clause filters for vector search
func applyVectorFilters(query string, args []interface{}, filters *SearchFilters) (string, []interface{}) {
	if filters == nil {
		return query, args
	}

	if len(filters.Kinds) > 0 {
		query += " AND kind IN (" + placeholders(len(filters.Kinds)) + ")"
		for _, k := range filters.Kinds {
			args = append(args, string(k))
		}
	}

	if filters.FilePattern != "" {
		query += " AND file_path GLOB ?"
		args = append(args, filters.FilePattern)
	}

	return query, args
}

// computeSimilarityScores processes rows and computes cosine similarity
func computeSimilarityScores(rows *sql.Rows, queryVector []float32, filters *SearchFilters) ([]Match, error) {
	candidates := make([]Match, 0, 256)

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if len(rec.Vector) != len(queryVector) {
			continue // Dimension mismatch, skip
		}

		similarity := cosineSimilarity(queryVector, rec.Vector)
		if filters != nil && filters.MinScore > 0 && similarity < filters.MinScore {
			continue
		}

		candidates = append(candidates, Match{Record: *rec, Score: similarity})
	}

	return candidates, rows.Err()
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sortCandidates sorts by score descending, then id for a stable order
func sortCandidates(candidates []Match) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Record.ID < candidates[j].Record.ID
	})
}

// CosineSimilarity is an exported helper for the searcher and tests
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
