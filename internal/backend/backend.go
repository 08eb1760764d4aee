// Package backend holds the HTTP plumbing shared by summarization and
// embedding providers: JSON requests whose failures are classified into the
// pipeline's error taxonomy.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/deltaindex/pkg/types"
)

// maxErrorBody bounds how much of an error response is kept
const maxErrorBody = 512

// NewHTTPClient returns a client with the given timeout
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// PostJSON sends in as JSON and decodes a 200 response into out. Non-200
// responses become *types.ProviderError classified by status; transport
// failures are transient; an undecodable 200 is a chunk processing error.
func PostJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &types.ProviderError{Provider: provider, Kind: types.ErrAuthOrConfig, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return types.ClassifyTransport(provider, fmt.Errorf("api call: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		pe := types.NewProviderError(provider, resp.StatusCode,
			fmt.Errorf("api error: %s", strings.TrimSpace(string(bodyBytes))))
		pe.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return pe
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &types.ProviderError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Kind:       types.ErrChunkProcessing,
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}
	return nil
}

// Ping reports whether url answers a GET with 200
func Ping(ctx context.Context, client *http.Client, provider, url string, headers map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &types.ProviderError{Provider: provider, Kind: types.ErrAuthOrConfig, Err: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return types.ClassifyTransport(provider, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return types.NewProviderError(provider, resp.StatusCode, fmt.Errorf("health probe %s", url))
	}
	return nil
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
