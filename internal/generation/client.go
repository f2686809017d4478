package generation

import (
	"bytes"
	"context"
	"encoding/base64"
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

// Terminal job statuses reported by the serverless endpoint.
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
	StatusTimedOut  = "TIMED_OUT"
)

type GenerateOptions struct {
	// MaxWait caps the total polling time for one submission.
	MaxWait time.Duration
	// Prompt, when set, overwrites the workflow's positive prompt first.
	Prompt string
}

// Image is one decoded artifact from a completed generation.
type Image struct {
	Filename string
	Data     []byte
	// URL is set instead of Data when the worker stored the artifact
	// externally.
	URL string
}

type Result struct {
	Status  string
	Images  []Image
	Issues  []ValidationIssue
	Missing []string
	Raw     json.RawMessage
}

// Client runs a ComfyUI workflow on a serverless endpoint and returns the
// produced artifacts.
type Client interface {
	Generate(ctx context.Context, payload Payload, opts GenerateOptions) (*Result, error)
}

type runpodClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int

	pollInitial time.Duration
	pollMax     time.Duration
}

func NewRunPodClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(os.Getenv("RUNPOD_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing RUNPOD_API_KEY")
	}

	baseURL := strings.TrimSpace(os.Getenv("RUNPOD_BASE_URL"))
	if baseURL == "" {
		endpointID := strings.TrimSpace(os.Getenv("RUNPOD_ENDPOINT_ID"))
		if endpointID == "" {
			return nil, fmt.Errorf("missing RUNPOD_ENDPOINT_ID")
		}
		baseURL = "https://api.runpod.ai/v2/" + endpointID
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeoutSec := utils.GetEnvAsInt("RUNPOD_TIMEOUT_SECONDS", 30, log)
	maxRetries := utils.GetEnvAsInt("RUNPOD_MAX_RETRIES", 3, log)

	return &runpodClient{
		log:         log.With("service", "RunPodClient"),
		baseURL:     baseURL,
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries:  maxRetries,
		pollInitial: 2 * time.Second,
		pollMax:     10 * time.Second,
	}, nil
}

type submitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type statusResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Error  string          `json:"error"`
	Output json.RawMessage `json:"output"`
}

// Generate submits the workflow and polls to completion. A validation
// failure with worker-offered choices is patched and resubmitted exactly
// once; anything else surfaces as a ProviderError.
func (c *runpodClient) Generate(ctx context.Context, payload Payload, opts GenerateOptions) (*Result, error) {
	if payload.Workflow() == nil {
		return nil, types.NewValidationError("workflow", "payload has no workflow")
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 10 * time.Minute
	}

	if _, err := payload.Sanitize(); err != nil {
		return nil, types.NewValidationError("workflow", err.Error())
	}
	if opts.Prompt != "" {
		payload.PatchPositivePrompt(opts.Prompt)
	}
	if n := payload.CoerceSeeds(); n > 0 {
		c.log.Info("Coerced workflow seed inputs", "count", n)
	}

	status, err := c.runOnce(ctx, payload, opts.MaxWait)
	if err != nil {
		return nil, err
	}

	if strings.ToUpper(status.Status) != StatusCompleted {
		issues := ParseValidationIssues(status.Error)
		patched, missing := ApplyValidationFallbacks(payload, issues)
		if len(patched) > 0 {
			c.log.Info("Retrying generation with patched workflow inputs", "patched", len(patched))
			status, err = c.runOnce(ctx, payload, opts.MaxWait)
			if err != nil {
				return nil, err
			}
		}
		if strings.ToUpper(status.Status) != StatusCompleted {
			result := c.buildResult(status)
			result.Issues = issues
			result.Missing = missing
			return result, types.NewProviderError("runpod", false,
				fmt.Errorf("generation finished with status %s: %s", status.Status, status.Error))
		}
	}

	return c.buildResult(status), nil
}

func (c *runpodClient) runOnce(ctx context.Context, payload Payload, maxWait time.Duration) (*statusResponse, error) {
	var submitted submitResponse
	if err := c.do(ctx, http.MethodPost, "/run", payload, &submitted); err != nil {
		return nil, types.NewProviderError("runpod", httpx.IsRetryableError(err), err)
	}
	if submitted.ID == "" {
		return nil, types.NewProviderError("runpod", false, fmt.Errorf("submission returned no job id"))
	}
	c.log.Info("Generation job submitted", "remote_job_id", submitted.ID)

	deadline := time.Now().Add(maxWait)
	sleep := c.pollInitial

	for {
		var status statusResponse
		if err := c.do(ctx, http.MethodGet, "/status/"+submitted.ID, nil, &status); err != nil {
			return nil, types.NewProviderError("runpod", httpx.IsRetryableError(err), err)
		}

		switch strings.ToUpper(status.Status) {
		case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
			return &status, nil
		}

		if time.Now().After(deadline) {
			return nil, types.NewProviderError("runpod", true,
				fmt.Errorf("generation not finished in %s, last status %s", maxWait, status.Status))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
		sleep = time.Duration(float64(sleep) * 1.2)
		if sleep > c.pollMax {
			sleep = c.pollMax
		}
	}
}

func (c *runpodClient) buildResult(status *statusResponse) *Result {
	result := &Result{Status: strings.ToUpper(status.Status), Raw: status.Output}
	if len(status.Output) == 0 {
		return result
	}

	var output struct {
		Images []struct {
			Filename string `json:"filename"`
			Type     string `json:"type"`
			Data     string `json:"data"`
		} `json:"images"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(status.Output, &output); err != nil {
		c.log.Warn("Generation output not decodable", "error", err.Error())
		return result
	}

	// Legacy workers put one base64 image in output.message.
	if len(output.Images) == 0 && strings.TrimSpace(output.Message) != "" {
		output.Images = append(output.Images, struct {
			Filename string `json:"filename"`
			Type     string `json:"type"`
			Data     string `json:"data"`
		}{Filename: "output.png", Type: "base64", Data: output.Message})
	}

	for i, img := range output.Images {
		name := img.Filename
		if name == "" {
			name = fmt.Sprintf("image_%02d.png", i+1)
		}
		if strings.EqualFold(img.Type, "s3_url") {
			result.Images = append(result.Images, Image{Filename: name, URL: img.Data})
			continue
		}

		data := img.Data
		if i := strings.Index(data, ","); i >= 0 && strings.HasPrefix(data, "data:") {
			data = data[i+1:]
		}
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			c.log.Warn("Generated image not decodable", "filename", name, "error", err.Error())
			continue
		}
		result.Images = append(result.Images, Image{Filename: name, Data: raw})
	}
	return result
}

func (c *runpodClient) do(ctx context.Context, method, path string, body any, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("runpod decode error: %w", uErr)
			}
			return nil
		}

		if !httpx.IsRetryableError(err) {
			return err
		}
		if attempt == c.maxRetries {
			return err
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("RunPod request retrying",
			"path", path, "attempt", attempt+1, "sleep", sleepFor.String(), "error", err.Error())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepFor):
		}
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

type runpodHTTPError struct {
	StatusCode int
	Body       string
}

func (e *runpodHTTPError) Error() string {
	return fmt.Sprintf("runpod http %d: %s", e.StatusCode, e.Body)
}

func (e *runpodHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *runpodClient) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &runpodHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}
