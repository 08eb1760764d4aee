package pipeline

import (
	"container/heap"
	"context"
	"sync"
)

// work is one chunk moving through a stage queue
type work struct {
	Item
	seq       int // Dispatch order from the plan
	limit     int // Largest batch the item may join; 0 means no limit
	transient int // Transient failures seen this run
}

// workHeap orders by priority class, then plan order
type workHeap []*work

func (h workHeap) Len() int { return len(h) }
func (h workHeap) Less(i, j int) bool {
	if h[i].Class != h[j].Class {
		return h[i].Class < h[j].Class
	}
	return h[i].seq < h[j].seq
}
func (h workHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *workHeap) Push(x any)   { *h = append(*h, x.(*work)) }
func (h *workHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return w
}

// queue is a priority queue with a wakeup signal. Any goroutine may push;
// only the stage dispatcher pops.
type queue struct {
	mu     sync.Mutex
	h      workHeap
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) push(ws ...*work) {
	if len(ws) == 0 {
		return
	}
	q.mu.Lock()
	for _, w := range ws {
		heap.Push(&q.h, w)
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// pop removes up to n items in priority order, stopping before an item
// whose limit the batch would exceed. A limited item also caps the rest of
// the batch.
func (q *queue) pop(n int) []*work {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*work
	for len(out) < n && q.h.Len() > 0 {
		head := q.h[0]
		limit := n
		if head.limit > 0 {
			limit = min(n, head.limit)
		}
		if len(out) >= limit {
			break
		}
		n = limit
		out = append(out, heap.Pop(&q.h).(*work))
	}
	return out
}

// wait blocks until the queue is non-empty and returns its length, or
// returns 0 once ctx is done
func (q *queue) wait(ctx context.Context) int {
	for {
		if n := q.len(); n > 0 {
			return n
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return 0
		}
	}
}
