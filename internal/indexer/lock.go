package indexer

import "sync/atomic"

// IndexLock rejects a second run inside one process without blocking. The
// data directory's flock covers other processes.
type IndexLock struct {
	state atomic.Int32 // 0 = free, 1 = held
}

// TryAcquire takes the lock, reporting false when a run already holds it
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release frees the lock. Only the holder may call it.
func (l *IndexLock) Release() {
	l.state.Store(0)
}
