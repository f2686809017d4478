package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/wandergen/wandergen-backend/internal/logger"
	"github.com/wandergen/wandergen-backend/internal/types"
)

func newTestProvider(t *testing.T, baseURL string) *OpenAIProvider {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_BASE_URL", baseURL)
	t.Setenv("OPENAI_MAX_RETRIES", "2")
	t.Setenv("OPENAI_TIMEOUT_SECONDS", "5")
	t.Setenv("EMBEDDINGS_DIMENSION", "2")

	p, err := NewOpenAIProvider(logger.NewNop())
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	return p
}

func embeddingsHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header = %q", got)
		}
		var req embeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Dimensions != 2 {
			t.Errorf("request dimensions = %d, want 2", req.Dimensions)
		}

		resp := embeddingsResponse{}
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float64 `json:"embedding"`
				Index     int       `json:"index"`
			}{
				Embedding: []float64{float64(i), 0.5},
				Index:     i,
			})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func TestOpenAIProviderEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(embeddingsHandler(t))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	vecs, err := p.EmbedBatch(context.Background(), []string{"alpha", "bravo", "charlie"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}
	for i, vec := range vecs {
		if len(vec) != 2 || vec[0] != float32(i) {
			t.Fatalf("vector %d = %v", i, vec)
		}
	}
}

func TestOpenAIProviderRetriesThrottling(t *testing.T) {
	var calls int32
	handler := embeddingsHandler(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
			return
		}
		handler(w, r)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	vecs, err := p.EmbedBatch(context.Background(), []string{"retry me"})
	if err != nil {
		t.Fatalf("EmbedBatch after retry: %v", err)
	}
	if len(vecs) != 1 {
		t.Fatalf("got %d vectors, want 1", len(vecs))
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("server saw %d calls, want 2", got)
	}
}

func TestOpenAIProviderFailsFastOnAuthError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":{"message":"invalid api key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	_, err := p.EmbedBatch(context.Background(), []string{"unauthorized"})
	if err == nil {
		t.Fatal("expected error")
	}
	var provErr *types.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("error %T is not a ProviderError", err)
	}
	if provErr.Retryable {
		t.Fatal("auth failure marked retryable")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("server saw %d calls, want 1 (no retries)", got)
	}
}

func TestOpenAIProviderRejectsWrongDimension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := embeddingsResponse{}
		resp.Data = append(resp.Data, struct {
			Embedding []float64 `json:"embedding"`
			Index     int       `json:"index"`
		}{
			Embedding: []float64{0.1, 0.2, 0.3},
			Index:     0,
		})
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	_, err := p.EmbedBatch(context.Background(), []string{"oversized vector"})
	if err == nil {
		t.Fatal("expected error for mismatched dimension")
	}
	var provErr *types.ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("error %T is not a ProviderError", err)
	}
	if provErr.Retryable {
		t.Fatal("dimension mismatch marked retryable")
	}
}

func TestOpenAIProviderBatchesLargeInput(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		embeddingsHandler(t)(w, r)
	}))
	defer srv.Close()

	texts := make([]string, openAIBatchSize+10)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk %d", i)
	}

	p := newTestProvider(t, srv.URL)
	vecs, err := p.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("server saw %d calls, want 2", got)
	}
}
