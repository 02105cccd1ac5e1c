// Package qwen talks to a self-hosted Qwen-Image generation service.
package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dailystory/internal/clock"
	"dailystory/internal/domain"
	"dailystory/internal/infra"
	"dailystory/internal/providers/artifact"
)

// Name identifies this backend in logs, records and step definitions.
const Name = "qwen"

// ErrMissingBaseURL indicates that the client was configured without an endpoint.
var ErrMissingBaseURL = errors.New("qwen: api url is required")

// Options configures the Qwen-Image client.
type Options struct {
	BaseURL        string
	Steps          int
	CFGScale       float64
	HTTPClient     *http.Client
	Clock          clock.Clock
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client submits generation tasks to the queue and polls them.
type Client struct {
	baseURL    string
	steps      int
	cfgScale   float64
	httpClient *http.Client
	clock      clock.Clock
	logger     infra.Logger
}

type generationRequest struct {
	Prompt            string  `json:"prompt"`
	NegativePrompt    string  `json:"negative_prompt"`
	AspectRatio       string  `json:"aspect_ratio"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	CFGScale          float64 `json:"cfg_scale"`
	Seed              *int64  `json:"seed,omitempty"`
}

type taskResponse struct {
	TaskID        string `json:"task_id"`
	QueuePosition int    `json:"queue_position"`
}

// NewClient constructs a client with the queue defaults.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	steps := opts.Steps
	if steps <= 0 {
		steps = 50
	}
	cfgScale := opts.CFGScale
	if cfgScale <= 0 {
		cfgScale = 4.0
	}
	return &Client{
		baseURL:    baseURL,
		steps:      steps,
		cfgScale:   cfgScale,
		httpClient: httpClient,
		clock:      clock.OrReal(opts.Clock),
		logger:     infra.LoggerOrDiscard(opts.Logger),
	}, nil
}

func (c *Client) Name() string { return Name }

// CheckAvailability waits until the health endpoint reports a loaded model.
func (c *Client) CheckAvailability(ctx context.Context, timeout, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	start := c.clock.Now()
	deadline := start.Add(timeout)
	for {
		healthy, err := c.healthy(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Str("provider", Name).Msg("qwen: health check failed")
		}
		if healthy {
			return nil
		}
		if !c.clock.Now().Add(interval).Before(deadline) {
			return &domain.ServiceUnavailableError{Provider: Name, Waited: c.clock.Now().Sub(start)}
		}
		if err := c.clock.Sleep(ctx, interval); err != nil {
			return err
		}
	}
}

func (c *Client) healthy(ctx context.Context) (bool, error) {
	raw, status, err := c.do(ctx, http.MethodGet, "/api/v1/health", nil)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, artifact.SnippetError(status, raw)
	}
	decoded, err := artifact.DecodeObject(raw)
	if err != nil {
		return false, fmt.Errorf("qwen: decode health: %w", err)
	}
	switch strings.ToLower(artifact.ProbeString(decoded, "status")) {
	case "healthy", "ok":
		return true, nil
	}
	return false, nil
}

// Submit enqueues a generation task.
func (c *Client) Submit(ctx context.Context, req artifact.Request) (artifact.Handle, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return artifact.Handle{}, &domain.SubmissionError{Provider: Name, Err: fmt.Errorf("%w: prompt is required", domain.ErrInvalidParams)}
	}
	steps := req.Params.Steps
	if steps <= 0 {
		steps = c.steps
	}
	aspect := strings.TrimSpace(req.Params.AspectRatio)
	if aspect == "" {
		aspect = "16:9"
	}
	payload := generationRequest{
		Prompt:            prompt,
		NegativePrompt:    strings.TrimSpace(req.Params.NegativePrompt),
		AspectRatio:       aspect,
		NumInferenceSteps: steps,
		CFGScale:          c.cfgScale,
		Seed:              req.Params.Seed,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return artifact.Handle{}, fmt.Errorf("qwen: encode request: %w", err)
	}
	raw, status, err := c.do(ctx, http.MethodPost, "/api/v1/generate", body)
	if err != nil {
		return artifact.Handle{}, &domain.TransportError{Provider: Name, Op: "submit", Err: err}
	}
	if status < 200 || status >= 300 {
		return artifact.Handle{}, &domain.SubmissionError{Provider: Name, Status: status, Err: artifact.SnippetError(status, raw)}
	}
	var decoded taskResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return artifact.Handle{}, &domain.SubmissionError{Provider: Name, Status: status, Err: fmt.Errorf("decode response: %w", err)}
	}
	if decoded.TaskID == "" {
		return artifact.Handle{}, &domain.SubmissionError{Provider: Name, Status: status, Err: errors.New("response has no task_id")}
	}
	c.logger.Info().Str("provider", Name).Str("job_id", decoded.TaskID).Int("queue_position", decoded.QueuePosition).Msg("qwen: task queued")
	return artifact.Handle{Provider: Name, JobID: decoded.TaskID}, nil
}

// Poll reads the task once. Relative image URLs are resolved against the
// service base URL.
func (c *Client) Poll(ctx context.Context, h artifact.Handle) (domain.AsyncJob, error) {
	raw, status, err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(h.JobID), nil)
	if err != nil {
		return domain.AsyncJob{}, &domain.TransportError{Provider: Name, Op: "poll", Err: err}
	}
	if status != http.StatusOK {
		return domain.AsyncJob{}, &domain.TransportError{Provider: Name, Op: "poll", Err: artifact.SnippetError(status, raw)}
	}
	decoded, err := artifact.DecodeObject(raw)
	if err != nil {
		return domain.AsyncJob{}, fmt.Errorf("qwen: decode task: %w", err)
	}
	job := domain.AsyncJob{ID: h.JobID}
	switch artifact.ProbeString(decoded, "status") {
	case "completed":
		imageURL := artifact.ProbeString(decoded, "image_url")
		if imageURL == "" {
			return domain.AsyncJob{}, &domain.MalformedResultError{Provider: Name, Field: "image_url"}
		}
		if strings.HasPrefix(imageURL, "/") {
			imageURL = c.baseURL + imageURL
		}
		job.Status = domain.JobStatusSucceeded
		job.ResultURL = imageURL
	case "failed":
		job.Status = domain.JobStatusFailed
		job.FailureReason = artifact.ProbeFailureReason(decoded, "error")
	case "pending", "queued":
		job.Status = domain.JobStatusPending
	default:
		job.Status = domain.JobStatusProcessing
	}
	c.logger.Debug().
		Str("provider", Name).
		Str("job_id", h.JobID).
		Str("status", string(job.Status)).
		Str("queue_position", artifact.ProbeString(decoded, "queue_position")).
		Msg("qwen: task polled")
	return job, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("qwen: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	raw, err := artifact.ReadBody(resp)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("qwen: read response: %w", err)
	}
	return raw, resp.StatusCode, nil
}
