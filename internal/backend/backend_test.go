package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/deltaindex/pkg/types"
)

type echo struct {
	Value string `json:"value"`
}

func TestPostJSON_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		var in echo
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(echo{Value: in.Value + "!"})
	}))
	defer srv.Close()

	var out echo
	err := PostJSON(context.Background(), srv.Client(), "test", srv.URL, map[string]string{"Authorization": "Bearer k"}, echo{Value: "hi"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "hi!", out.Value)
}

func TestPostJSON_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusTooManyRequests, types.IsThrottled},
		{http.StatusBadGateway, types.IsTransient},
		{http.StatusUnauthorized, types.IsFatal},
		{http.StatusBadRequest, func(err error) bool { return !types.IsTransient(err) && !types.IsFatal(err) }},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "2")
			http.Error(w, "nope", tt.status)
		}))
		var out echo
		err := PostJSON(context.Background(), srv.Client(), "test", srv.URL, nil, echo{}, &out)
		srv.Close()

		require.Error(t, err)
		assert.True(t, tt.check(err), "status %d: %v", tt.status, err)
		assert.Equal(t, 2*time.Second, types.RetryAfter(err))
	}
}

func TestPostJSON_TransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	var out echo
	err := PostJSON(context.Background(), http.DefaultClient, "test", url, nil, echo{}, &out)
	require.Error(t, err)
	assert.True(t, types.IsTransient(err))
}

func TestPostJSON_BadBodyIsChunkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	var out echo
	err := PostJSON(context.Background(), srv.Client(), "test", srv.URL, nil, echo{}, &out)
	assert.ErrorIs(t, err, types.ErrChunkProcessing)
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	assert.NoError(t, Ping(context.Background(), srv.Client(), "ollama", srv.URL+"/api/tags", nil))
	assert.Error(t, Ping(context.Background(), srv.Client(), "ollama", srv.URL+"/other", nil))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 5*time.Second, ParseRetryAfter("5", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("-3", now))
	assert.Equal(t, 30*time.Second, ParseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("garbage", now))
}
