package watch

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultDebounce is the quiet period before queued paths fire
const DefaultDebounce = 500 * time.Millisecond

// Debouncer coalesces paths pushed within the delay of each other into
// one callback
type Debouncer struct {
	delay time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	queued map[string]struct{}
	onFire func(paths []string)
}

func NewDebouncer(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{
		delay:  delay,
		queued: map[string]struct{}{},
	}
}

// Delay returns the quiet period
func (d *Debouncer) Delay() time.Duration {
	return d.delay
}

// OnFire sets the callback. It receives sorted, unique paths.
func (d *Debouncer) OnFire(fn func(paths []string)) {
	d.mu.Lock()
	d.onFire = fn
	d.mu.Unlock()
}

// Push queues a path and restarts the quiet period
func (d *Debouncer) Push(path string) {
	path = strings.TrimSpace(path)
	if path == "" {
		return
	}

	d.mu.Lock()
	d.queued[path] = struct{}{}
	if d.timer != nil {
		_ = d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
	d.mu.Unlock()
}

// Stop cancels a pending fire and drops queued paths
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if d.timer != nil {
		_ = d.timer.Stop()
		d.timer = nil
	}
	d.queued = map[string]struct{}{}
	d.mu.Unlock()
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	queued := d.queued
	d.queued = map[string]struct{}{}
	fn := d.onFire
	d.mu.Unlock()

	if fn == nil || len(queued) == 0 {
		return
	}

	paths := make([]string, 0, len(queued))
	for p := range queued {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	fn(paths)
}
