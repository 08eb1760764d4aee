// Package embedder generates vector embeddings for chunks and summaries.
//
// Providers (Ollama, OpenAI, Jina AI, local) each make exactly one backend
// call per GenerateBatch. They never retry: failures come back classified
// into the pipeline's error taxonomy (see pkg/types) so the scheduler can
// back off on throttling and the pipeline can dead-letter rejected input.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{Provider: "ollama", CacheSize: 10000})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: []string{chunk.Content, summary},
//	})
//	if types.IsThrottled(err) {
//	    // shrink the batch and wait
//	}
//
// # Caching
//
// A positive CacheSize wraps the provider in Cached, an LRU keyed by the
// digest of model and text. Cached texts never reach the backend; a batch
// made only of cache hits makes no call at all.
//
// # Provider Selection
//
// An empty Config.Provider is resolved from the environment:
//
//  1. If JINA_API_KEY is set → use Jina AI
//  2. Else if OPENAI_API_KEY is set → use OpenAI
//  3. Else → Ollama on localhost
//
// The local provider hashes words into buckets of a 384-dimension unit
// vector. It is deterministic and offline, and texts sharing vocabulary score
// as similar, which is enough for tests and air-gapped smoke runs.
package embedder
