//go:build sqlite_vec

package storage

// This file is compiled with the sqlite_vec tag. It registers the sqlite-vec
// extension on every mattn/go-sqlite3 connection so cosine distance is
// computed inside SQLite.
//
// Build command:
//   CGO_ENABLED=1 go build -tags sqlite_vec ./...

import (
	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)

func init() {
	sqlite_vec.Auto()
}

// encodeVector uses the extension's own float32 blob format
func encodeVector(v []float32) ([]byte, error) {
	return sqlite_vec.SerializeFloat32(v)
}
