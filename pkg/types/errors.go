package types

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error taxonomy shared by every pipeline component. Classification is done
// with errors.Is against these sentinels.
var (
	// ErrTransient is retried through scheduler backoff and never surfaced as a chunk failure
	ErrTransient = errors.New("transient provider error")
	// ErrThrottled is the throttling subset of ErrTransient
	ErrThrottled = fmt.Errorf("%w: throttled", ErrTransient)
	// ErrAuthOrConfig aborts the whole run
	ErrAuthOrConfig = errors.New("auth or config error")
	// ErrParse is scoped to a single file, which is skipped
	ErrParse = errors.New("parse error")
	// ErrPersistence is a failed manifest write
	ErrPersistence = errors.New("persistence error")
	// ErrChunkProcessing is a non-transient per-chunk failure routed to the dead-letter handler
	ErrChunkProcessing = errors.New("chunk processing error")
)

// Domain errors for type validation
var (
	ErrInvalidChunkID        = errors.New("invalid chunk ID")
	ErrInvalidRank           = errors.New("rank must be >= 1")
	ErrInvalidRelevanceScore = errors.New("relevance score must be between 0 and 1")
	ErrEmptyContent          = errors.New("content cannot be empty")
)

// ProviderError is returned by summarization and embedding backends
type ProviderError struct {
	Provider   string
	StatusCode int
	// RetryAfter is the backend's hint, zero when absent
	RetryAfter time.Duration
	Kind       error
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %v (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// NewProviderError classifies an HTTP status into the error taxonomy
func NewProviderError(provider string, status int, err error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: status,
		Kind:       KindForStatus(status),
		Err:        err,
	}
}

// KindForStatus maps an HTTP status code to a taxonomy sentinel
func KindForStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrThrottled
	case status == http.StatusRequestTimeout, status >= 500:
		return ErrTransient
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		status == http.StatusNotFound, status == http.StatusPaymentRequired:
		return ErrAuthOrConfig
	default:
		return ErrChunkProcessing
	}
}

// ClassifyTransport wraps a transport-level error (no HTTP response).
// Timeouts and network failures are transient; cancellation is passed through.
func ClassifyTransport(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &ProviderError{Provider: provider, Kind: ErrTransient, Err: err}
}

// IsTransient reports whether err is retryable through scheduler backoff
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsThrottled reports whether err is a throttling signal
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// IsFatal reports whether err must abort the whole run
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthOrConfig) || errors.Is(err, ErrPersistence)
}

// RetryAfter extracts a backend retry hint from err, if any
func RetryAfter(err error) time.Duration {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}
