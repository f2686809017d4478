package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/wandergen/wandergen-backend/internal/httpx"
	"github.com/wandergen/wandergen-backend/internal/logger"
	"github.com/wandergen/wandergen-backend/internal/types"
	"github.com/wandergen/wandergen-backend/internal/utils"
)

const (
	openAIDefaultBaseURL = "https://api.openai.com"
	openAIDefaultModel   = "text-embedding-3-small"

	// The embeddings endpoint accepts larger arrays, but 64 keeps request
	// payloads under typical proxy body limits for chunk-sized inputs.
	openAIBatchSize = 64
)

// OpenAIProvider calls the OpenAI embeddings endpoint. Transient failures
// are retried with exponential backoff; everything else fails fast.
type OpenAIProvider struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	dim        int
	httpClient *http.Client
	maxRetries int
}

func NewOpenAIProvider(log *logger.Logger) (*OpenAIProvider, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimRight(utils.GetEnv("OPENAI_BASE_URL", openAIDefaultBaseURL, log), "/")
	model := utils.GetEnv("OPENAI_EMBED_MODEL", openAIDefaultModel, log)
	dim := utils.GetEnvAsInt("EMBEDDINGS_DIMENSION", DefaultDimension, log)
	timeoutSec := utils.GetEnvAsInt("OPENAI_TIMEOUT_SECONDS", 60, log)
	maxRetries := utils.GetEnvAsInt("OPENAI_MAX_RETRIES", 4, log)

	return &OpenAIProvider{
		log:        log.With("service", "OpenAIProvider"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		dim:        dim,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

func (p *OpenAIProvider) Name() string   { return "openai" }
func (p *OpenAIProvider) Dimension() int { return p.dim }

// text-embedding-3 models accept 8191 tokens per input.
func (p *OpenAIProvider) MaxTokens() int { return 8191 }

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += openAIBatchSize {
		end := start + openAIBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := p.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

type openAIHTTPError struct {
	StatusCode int
	Body       string
}

func (e *openAIHTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *openAIHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
	// text-embedding-3 models truncate to this length server-side, which
	// keeps stored vectors compatible with the pgvector column width.
	Dimensions int `json:"dimensions,omitempty"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (p *OpenAIProvider) embedOnce(ctx context.Context, batch []string) ([][]float32, error) {
	clean := make([]string, len(batch))
	for i := range batch {
		s := strings.TrimSpace(batch[i])
		if s == "" {
			s = " "
		}
		clean[i] = s
	}

	var resp embeddingsResponse
	if err := p.do(ctx, embeddingsRequest{Model: p.model, Input: clean, Dimensions: p.dim}, &resp); err != nil {
		return nil, types.NewProviderError("openai", httpx.IsRetryableError(err), err)
	}
	if len(resp.Data) != len(clean) {
		return nil, types.NewProviderError("openai", false,
			fmt.Errorf("embeddings count mismatch: got %d, want %d", len(resp.Data), len(clean)))
	}

	out := make([][]float32, len(clean))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, types.NewProviderError("openai", false,
				fmt.Errorf("embedding index %d out of range", d.Index))
		}
		if len(d.Embedding) != p.dim {
			return nil, types.NewProviderError("openai", false,
				fmt.Errorf("embedding %d has dimension %d, want %d", d.Index, len(d.Embedding), p.dim))
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		out[d.Index] = vec
	}
	return out, nil
}

func (p *OpenAIProvider) do(ctx context.Context, body, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := p.doOnce(ctx, body)
		if err == nil {
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("openai decode error: %w", uErr)
			}
			return nil
		}

		if !httpx.IsRetryableError(err) {
			return err
		}
		if attempt == p.maxRetries {
			return err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		p.log.Warn("OpenAI embeddings request retrying",
			"attempt", attempt+1,
			"max_retries", p.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepFor):
		}
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

func (p *OpenAIProvider) doOnce(ctx context.Context, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/embeddings", &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &openAIHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}
