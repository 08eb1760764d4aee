package summarizer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/deltaindex/pkg/types"
)

func TestOllama_Summarize(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		calls.Add(1)
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 1)
		assert.Contains(t, req.Messages[0].Content, "File: main.go")
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{Message: Message{Role: "assistant", Content: "  Entry point\n of the tool. "}})
	}))
	defer srv.Close()

	s := NewOllama(srv.URL, "test-model")
	out, err := s.Summarize(context.Background(), []Request{
		{Text: "func main() {}", Path: "main.go", Language: "go"},
		{Text: "func other() {}", Path: "main.go", Language: "go"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Entry point of the tool.", "Entry point of the tool."}, out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOllama_ThrottleIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewOllama(srv.URL, "m").Summarize(context.Background(), []Request{{Text: "x", Path: "a"}})
	require.Error(t, err)
	assert.True(t, types.IsThrottled(err))
}

func TestOllama_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
	}))
	defer srv.Close()
	assert.NoError(t, NewOllama(srv.URL, "").Health(context.Background()))
}

func TestOpenAI_Summarize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Parses config."}}]}`))
	}))
	defer srv.Close()

	s, err := NewOpenAI("sk-test", srv.URL, "")
	require.NoError(t, err)
	out, err := s.Summarize(context.Background(), []Request{{Text: "func Load() {}", Path: "config.go"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Parses config."}, out)
	assert.Equal(t, DefaultOpenAIModel, s.Model())
}

func TestOpenAI_AuthFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s, err := NewOpenAI("sk-bad", srv.URL, "")
	require.NoError(t, err)
	_, err = s.Summarize(context.Background(), []Request{{Text: "x"}})
	assert.True(t, types.IsFatal(err))
}

func TestOpenAI_MissingKey(t *testing.T) {
	t.Setenv(EnvOpenAIAPIKey, "")
	_, err := NewOpenAI("", "", "")
	assert.ErrorIs(t, err, types.ErrAuthOrConfig)
}

func TestLocal_Summarize(t *testing.T) {
	s := NewLocal()
	out, err := s.Summarize(context.Background(), []Request{
		{Text: "// Load reads the config file.\n// It applies defaults.\nfunc Load() {}", Path: "config.go", Name: "Load"},
		{Text: "SELECT * FROM users;", Path: "q.sql"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Load (config.go, 3 lines): Load reads the config file. It applies defaults.", out[0])
	assert.Equal(t, "SELECT * FROM users; (q.sql, 1 lines)", out[1])

	again, err := s.Summarize(context.Background(), []Request{{Text: "// Load reads the config file.\n// It applies defaults.\nfunc Load() {}", Path: "config.go", Name: "Load"}})
	require.NoError(t, err)
	assert.Equal(t, out[0], again[0], "local summaries are deterministic")
}

func TestValidate_EmptyText(t *testing.T) {
	_, err := NewLocal().Summarize(context.Background(), []Request{{Text: "ok"}, {Text: "  "}})
	assert.ErrorIs(t, err, types.ErrChunkProcessing)
}

func TestBuildPrompt_Truncates(t *testing.T) {
	p := buildPrompt(Request{Text: strings.Repeat("x", MaxInputChars+100), Path: "big.txt"})
	assert.Less(t, len(p), MaxInputChars+len(chunkSummaryPrompt)+50)
	assert.Contains(t, p, "Language: unknown")
}

func TestNew(t *testing.T) {
	s, err := New(Config{Provider: "local"})
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, s.Provider())

	s, err = New(Config{Provider: "OLLAMA", Model: "qwen"})
	require.NoError(t, err)
	assert.Equal(t, "qwen", s.Model())

	_, err = New(Config{Provider: "bogus"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.True(t, types.IsFatal(err))

	t.Setenv(EnvOpenAIAPIKey, "")
	assert.Equal(t, ProviderOllama, DetectProvider())
}
