package generation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wandergen/wandergen-backend/internal/logger"
)

func newTestClient(baseURL string) *runpodClient {
	return &runpodClient{
		log:         logger.NewNop(),
		baseURL:     baseURL,
		apiKey:      "test-key",
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		maxRetries:  1,
		pollInitial: 5 * time.Millisecond,
		pollMax:     20 * time.Millisecond,
	}
}

func testPayload(t *testing.T) Payload {
	t.Helper()
	p, err := LoadPayload([]byte(`{"3": {"class_type": "KSampler", "inputs": {"seed": 1}}}`))
	if err != nil {
		t.Fatalf("LoadPayload: %v", err)
	}
	return p
}

func TestGeneratePollsToCompletion(t *testing.T) {
	imageData := base64.StdEncoding.EncodeToString([]byte("fake png bytes"))
	var statusCalls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header = %q", got)
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/run":
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "IN_QUEUE"})
		case r.Method == http.MethodGet && r.URL.Path == "/status/job-1":
			if atomic.AddInt32(&statusCalls, 1) < 3 {
				_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "IN_PROGRESS"})
				return
			}
			fmt.Fprintf(w, `{"id": "job-1", "status": "COMPLETED", "output": {"images": [{"filename": "out.png", "type": "base64", "data": %q}]}}`, imageData)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	result, err := c.Generate(context.Background(), testPayload(t), GenerateOptions{MaxWait: 5 * time.Second})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status = %s", result.Status)
	}
	if len(result.Images) != 1 || result.Images[0].Filename != "out.png" {
		t.Fatalf("images = %+v", result.Images)
	}
	if string(result.Images[0].Data) != "fake png bytes" {
		t.Fatalf("decoded image = %q", result.Images[0].Data)
	}
	if atomic.LoadInt32(&statusCalls) < 3 {
		t.Fatalf("status polled %d times, want >= 3", statusCalls)
	}
}

func TestGenerateRetriesPatchedValidationFailure(t *testing.T) {
	validationError := `Workflow validation failed:
  • Node 3 (errors): [{'type': 'value_not_in_list', 'extra_info': {'input_name': 'sampler_name', 'input_config': [['euler', 'dpmpp_2m'], {}], 'received_value': 'bogus'}}]
  • Node 3 (class_type): KSampler`

	var runs int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/run":
			n := atomic.AddInt32(&runs, 1)
			var body Payload
			_ = json.NewDecoder(r.Body).Decode(&body)
			if n == 2 {
				got := body.Workflow()["3"].(map[string]any)["inputs"].(map[string]any)["sampler_name"]
				if got != "euler" {
					t.Errorf("resubmission sampler_name = %v, want patched value", got)
				}
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"id": fmt.Sprintf("job-%d", n), "status": "IN_QUEUE"})
		case r.Method == http.MethodGet:
			if atomic.LoadInt32(&runs) == 1 {
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "FAILED", "error": validationError})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "COMPLETED", "output": map[string]any{"images": []any{}}})
		}
	}))
	defer srv.Close()

	p, _ := LoadPayload([]byte(`{"3": {"class_type": "KSampler", "inputs": {"sampler_name": "bogus"}}}`))
	c := newTestClient(srv.URL)

	result, err := c.Generate(context.Background(), p, GenerateOptions{MaxWait: 5 * time.Second})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status = %s", result.Status)
	}
	if got := atomic.LoadInt32(&runs); got != 2 {
		t.Fatalf("submissions = %d, want 2", got)
	}
}

func TestGenerateUnfixableFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "IN_QUEUE"})
		case r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "FAILED", "error": "CUDA out of memory"})
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	result, err := c.Generate(context.Background(), testPayload(t), GenerateOptions{MaxWait: 5 * time.Second})
	if err == nil {
		t.Fatal("expected error for failed generation")
	}
	if result == nil || result.Status != StatusFailed {
		t.Fatalf("result = %+v", result)
	}
}

func TestGenerateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "IN_QUEUE"})
		case r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "IN_PROGRESS"})
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Generate(context.Background(), testPayload(t), GenerateOptions{MaxWait: 30 * time.Millisecond})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
