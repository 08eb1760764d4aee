package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrIndexLocked is returned when another run holds the index
var ErrIndexLocked = errors.New("index is locked by another run")

// LockFile is the advisory lock's name inside the data directory
const LockFile = "run.lock"

// RunLock is an exclusive advisory lock on a data directory
type RunLock struct {
	file *os.File
}

// AcquireRunLock takes the run lock without blocking. A held lock is
// reported as ErrIndexLocked.
func AcquireRunLock(dir string) (*RunLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dir, LockFile)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644) //nolint:gosec // path is from config
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := tryLock(file); err != nil {
		_ = file.Close()
		return nil, err
	}
	return &RunLock{file: file}, nil
}

// Release drops the lock
func (l *RunLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlock(l.file)
	err := l.file.Close()
	l.file = nil
	return err
}
