//go:build !sqlite_vec

package storage

// This file is compiled by default. It uses the pure Go SQLite driver and
// ranks vectors in Go.
//
// Build command:
//   CGO_ENABLED=0 go build ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = false

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)

func encodeVector(v []float32) ([]byte, error) {
	return serializeVector(v), nil
}
