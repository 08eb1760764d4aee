// Package storage is the vector store sink: a SQLite database holding one
// or more collections of vectors with their chunk metadata.
//
// # Database Schema
//
// Tables:
//   - schema_version: applied migrations (semver)
//   - collections: collection name with the embedding model and dimension it was built with
//   - vectors: one row per (collection, id); content and summary vectors of a chunk share chunk_id
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStore(".deltaindex/vectors.db", "default")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	if _, err := store.EnsureCollection(ctx, "jina-embeddings-v3", 1024); err != nil {
//	    return err
//	}
//	n, err := store.Upsert(ctx, []storage.VectorRecord{{
//	    ID:      storage.VectorID(chunkID, types.EmbeddingContent),
//	    ChunkID: chunkID,
//	    Kind:    types.EmbeddingContent,
//	    Vector:  vec,
//	}})
//
// Upsert is idempotent: an identical record reports zero changed rows.
// Delete drops a whole collection and returns ErrConfirmationRequired unless
// confirm is true.
//
// # Build Tags
//
// Default build:
//
//   - Uses modernc.org/sqlite driver
//   - Cosine similarity computed in Go
//   - No C compiler needed
//
// sqlite_vec build:
//
//   - Uses github.com/mattn/go-sqlite3 driver
//   - Registers sqlite-vec; vec_distance_cosine ranks inside SQLite
//   - Requires C compiler
//
//     CGO_ENABLED=1 go build -tags sqlite_vec
package storage
