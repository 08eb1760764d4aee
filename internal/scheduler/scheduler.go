// Package scheduler gates calls to a rate-limited backend. One Scheduler
// exists per quota type; it admits batches against a sliding window of
// requests and tokens and adapts batch size and backoff delay to throttling.
//
// Batch size follows additive increase / multiplicative decrease: it halves
// on every throttle (floored at MinBatch) and grows by GrowStep after
// GrowAfter consecutive successes (capped at MaxBatch). The backoff delay
// doubles after each throttle or transient failure (capped at MaxDelay) and
// resets to InitialDelay after ResetAfter consecutive successes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dshills/deltaindex/pkg/types"
)

// ErrInvalidRequest is returned by Admit for a non-positive request
var ErrInvalidRequest = errors.New("requested batch size must be positive")

// Config bounds one quota type
type Config struct {
	Quota string

	MinBatch     int
	MaxBatch     int
	InitialBatch int // Zero means MaxBatch

	InitialDelay time.Duration
	MaxDelay     time.Duration

	Window               time.Duration // Sliding window length
	MaxRequestsPerWindow int           // Zero disables the request limit
	MaxTokensPerWindow   int           // Zero disables the token limit

	GrowAfter  int     // Consecutive successes before the batch grows
	GrowStep   int     // Additive growth
	ResetAfter int     // Consecutive successes before the delay resets
	Jitter     float64 // Upward jitter as a fraction of the delay, in [0,1]
}

// MinInitialDelay is the smallest accepted InitialDelay. The delay grows by
// doubling, so it must start above zero.
const MinInitialDelay = time.Millisecond

// DefaultConfig returns conservative bounds for a quota type
func DefaultConfig(quota string) Config {
	return Config{
		Quota:        quota,
		MinBatch:     1,
		MaxBatch:     16,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Window:       time.Minute,
		GrowAfter:    3,
		GrowStep:     1,
		ResetAfter:   5,
		Jitter:       0.1,
	}
}

// Validate rejects inconsistent bounds
func (c Config) Validate() error {
	switch {
	case c.MinBatch < 1:
		return fmt.Errorf("%s: min batch must be >= 1, got %d", c.Quota, c.MinBatch)
	case c.MaxBatch < c.MinBatch:
		return fmt.Errorf("%s: max batch %d is below min batch %d", c.Quota, c.MaxBatch, c.MinBatch)
	case c.InitialBatch != 0 && (c.InitialBatch < c.MinBatch || c.InitialBatch > c.MaxBatch):
		return fmt.Errorf("%s: initial batch %d outside [%d, %d]", c.Quota, c.InitialBatch, c.MinBatch, c.MaxBatch)
	case c.InitialDelay < MinInitialDelay:
		return fmt.Errorf("%s: initial delay must be at least %s, got %s", c.Quota, MinInitialDelay, c.InitialDelay)
	case c.MaxDelay < c.InitialDelay:
		return fmt.Errorf("%s: max delay %s is below initial delay %s", c.Quota, c.MaxDelay, c.InitialDelay)
	case c.Window <= 0 && (c.MaxRequestsPerWindow > 0 || c.MaxTokensPerWindow > 0):
		return fmt.Errorf("%s: window must be positive when window limits are set", c.Quota)
	case c.MaxRequestsPerWindow < 0 || c.MaxTokensPerWindow < 0:
		return fmt.Errorf("%s: window limits must not be negative", c.Quota)
	case c.Jitter < 0 || c.Jitter > 1:
		return fmt.Errorf("%s: jitter must be within [0, 1], got %v", c.Quota, c.Jitter)
	}
	return nil
}

type tokenEvent struct {
	at     time.Time
	tokens int
}

// Scheduler is safe for concurrent use. All quota state is guarded by mu.
type Scheduler struct {
	cfg    Config
	clock  Clock
	logger *slog.Logger
	jitter func() float64

	mu          sync.Mutex
	batch       int
	delay       time.Duration
	notBefore   time.Time
	successes   int
	throttles   int
	windowStart time.Time
	requests    []time.Time
	tokens      []tokenEvent
	tokenTotal  int
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithJitterSource replaces the [0,1) random source used for jitter
func WithJitterSource(f func() float64) Option {
	return func(s *Scheduler) { s.jitter = f }
}

// New creates a scheduler; cfg is validated and zero growth settings are defaulted
func New(cfg Config, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.GrowAfter < 1 {
		cfg.GrowAfter = 1
	}
	if cfg.GrowStep < 1 {
		cfg.GrowStep = 1
	}
	if cfg.ResetAfter < 1 {
		cfg.ResetAfter = cfg.GrowAfter
	}
	s := &Scheduler{
		cfg:    cfg,
		clock:  realClock{},
		logger: slog.Default(),
		jitter: rand.Float64,
		delay:  cfg.InitialDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.batch = cfg.MaxBatch
	if cfg.InitialBatch != 0 {
		s.batch = cfg.InitialBatch
	}
	s.windowStart = s.clock.Now()
	return s, nil
}

// Quota returns the quota type name
func (s *Scheduler) Quota() string {
	return s.cfg.Quota
}

// Admit blocks until the quota window has capacity and any backoff has
// elapsed, then returns a batch size no larger than requested or the current
// bound. The admitted request is counted against the window immediately.
func (s *Scheduler) Admit(ctx context.Context, requested int) (int, error) {
	if requested < 1 {
		return 0, ErrInvalidRequest
	}
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		s.mu.Lock()
		now := s.clock.Now()
		wait := s.waitLocked(now)
		if wait <= 0 {
			granted := min(requested, s.batch)
			s.requests = append(s.requests, now)
			s.mu.Unlock()
			return granted, nil
		}
		s.mu.Unlock()

		s.logger.Debug("quota wait", "quota", s.cfg.Quota, "wait", wait)
		timer := s.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		case <-timer.C():
		}
	}
}

// waitLocked returns how long a caller must wait at now: the longer of the
// remaining backoff and the time until the window frees capacity
func (s *Scheduler) waitLocked(now time.Time) time.Duration {
	s.pruneLocked(now)

	var wait time.Duration
	if s.notBefore.After(now) {
		wait = s.notBefore.Sub(now)
	}
	if s.cfg.MaxRequestsPerWindow > 0 && len(s.requests) >= s.cfg.MaxRequestsPerWindow {
		// the oldest request that must expire to fall below the limit
		idx := len(s.requests) - s.cfg.MaxRequestsPerWindow
		wait = max(wait, s.requests[idx].Add(s.cfg.Window).Sub(now))
	}
	if s.cfg.MaxTokensPerWindow > 0 && s.tokenTotal >= s.cfg.MaxTokensPerWindow {
		remaining := s.tokenTotal
		for _, ev := range s.tokens {
			remaining -= ev.tokens
			if remaining < s.cfg.MaxTokensPerWindow {
				wait = max(wait, ev.at.Add(s.cfg.Window).Sub(now))
				break
			}
		}
	}
	return wait
}

func (s *Scheduler) pruneLocked(now time.Time) {
	if s.cfg.Window <= 0 {
		s.requests = s.requests[:0]
		s.tokens = s.tokens[:0]
		s.tokenTotal = 0
		s.windowStart = now
		return
	}
	cutoff := now.Add(-s.cfg.Window)

	i := 0
	for i < len(s.requests) && !s.requests[i].After(cutoff) {
		i++
	}
	s.requests = s.requests[i:]

	j := 0
	for j < len(s.tokens) && !s.tokens[j].at.After(cutoff) {
		s.tokenTotal -= s.tokens[j].tokens
		j++
	}
	s.tokens = s.tokens[j:]

	if s.windowStart.Before(cutoff) {
		s.windowStart = cutoff
	}
}

// Report records the outcome of an admitted batch. tokens is the usage
// charged to the window. Throttling shrinks the batch and schedules backoff;
// other transient errors only back off; per-chunk and fatal errors leave the
// quota state untouched.
func (s *Scheduler) Report(err error, tokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if tokens > 0 {
		s.tokens = append(s.tokens, tokenEvent{at: now, tokens: tokens})
		s.tokenTotal += tokens
	}

	switch {
	case err == nil:
		s.successes++
		if s.successes%s.cfg.GrowAfter == 0 && s.batch < s.cfg.MaxBatch {
			s.batch = min(s.batch+s.cfg.GrowStep, s.cfg.MaxBatch)
			s.logger.Debug("batch size grown", "quota", s.cfg.Quota, "batch_size", s.batch)
		}
		if s.successes >= s.cfg.ResetAfter {
			s.delay = s.cfg.InitialDelay
		}

	case types.IsThrottled(err):
		s.throttles++
		s.successes = 0
		s.batch = max(s.batch/2, s.cfg.MinBatch)
		wait := s.backoffLocked(now, types.RetryAfter(err))
		s.logger.Warn("quota throttled",
			"quota", s.cfg.Quota, "batch_size", s.batch, "wait", wait, "next_delay", s.delay)

	case types.IsTransient(err):
		s.successes = 0
		wait := s.backoffLocked(now, types.RetryAfter(err))
		s.logger.Warn("transient backend error, backing off",
			"quota", s.cfg.Quota, "wait", wait, "error", err)
	}
}

// backoffLocked defers admission by the current delay (with jitter, or the
// server's retry hint if longer) and doubles the delay. The wait never
// exceeds MaxDelay.
func (s *Scheduler) backoffLocked(now time.Time, hint time.Duration) time.Duration {
	wait := s.delay
	if s.cfg.Jitter > 0 {
		wait += time.Duration(float64(s.delay) * s.cfg.Jitter * s.jitter())
		wait = min(wait, s.cfg.MaxDelay)
	}
	if hint > wait {
		wait = min(hint, s.cfg.MaxDelay)
		wait = max(wait, s.delay)
	}
	if nb := now.Add(wait); nb.After(s.notBefore) {
		s.notBefore = nb
	}
	s.delay = min(s.delay*2, s.cfg.MaxDelay)
	return wait
}

// BatchSize returns the current batch size bound
func (s *Scheduler) BatchSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batch
}

// State returns a snapshot of the quota window
func (s *Scheduler) State() types.QuotaState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.clock.Now())
	return types.QuotaState{
		Quota:            s.cfg.Quota,
		WindowStart:      s.windowStart,
		RequestsInWindow: len(s.requests),
		TokensInWindow:   s.tokenTotal,
		BatchSize:        s.batch,
		Delay:            s.delay,
		NotBefore:        s.notBefore,
		Successes:        s.successes,
		Throttles:        s.throttles,
	}
}
