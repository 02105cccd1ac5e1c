// Package flux submits generations to the Black Forest Labs FLUX API.
package flux

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dailystory/internal/domain"
	"dailystory/internal/infra"
	"dailystory/internal/providers/artifact"
)

const (
	Name         = "flux"
	DefaultModel = "flux-pro-1.1-ultra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("flux: api key is required")

// Options configures the BFL client.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client submits FLUX requests and polls get_result.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     infra.Logger
}

type generateRequest struct {
	Prompt      string `json:"prompt"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	AspectRatio string `json:"aspect_ratio"`
	Steps       int    `json:"steps"`
	Seed        *int64 `json:"seed,omitempty"`
}

type resultResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result struct {
		Sample string `json:"sample"`
	} `json:"result"`
}

// NewClient constructs a client for the given model endpoint.
func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.bfl.ml/v1"
	}
	model := strings.Trim(strings.TrimSpace(opts.Model), "/")
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     infra.LoggerOrDiscard(opts.Logger),
	}, nil
}

func (c *Client) Name() string { return Name }

// Submit creates a generation request. Defaults produce a 9:16 story frame.
func (c *Client) Submit(ctx context.Context, req artifact.Request) (artifact.Handle, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return artifact.Handle{}, &domain.SubmissionError{Provider: Name, Err: fmt.Errorf("%w: prompt is required", domain.ErrInvalidParams)}
	}
	p := req.Params
	payload := generateRequest{
		Prompt:      prompt,
		Width:       p.Width,
		Height:      p.Height,
		AspectRatio: p.AspectRatio,
		Steps:       p.Steps,
		Seed:        p.Seed,
	}
	if payload.Width <= 0 {
		payload.Width = 768
	}
	if payload.Height <= 0 {
		payload.Height = 1344
	}
	if payload.AspectRatio == "" {
		payload.AspectRatio = "9:16"
	}
	if payload.Steps <= 0 {
		payload.Steps = 50
	}
	model := c.model
	if p.Model != "" {
		model = strings.Trim(p.Model, "/")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return artifact.Handle{}, fmt.Errorf("flux: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+model, bytes.NewReader(body))
	if err != nil {
		return artifact.Handle{}, fmt.Errorf("flux: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return artifact.Handle{}, &domain.TransportError{Provider: Name, Op: "submit", Err: err}
	}
	defer resp.Body.Close()
	raw, err := artifact.ReadBody(resp)
	if err != nil {
		return artifact.Handle{}, &domain.TransportError{Provider: Name, Op: "read submit response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return artifact.Handle{}, &domain.SubmissionError{Provider: Name, Status: resp.StatusCode, Err: artifact.SnippetError(resp.StatusCode, raw)}
	}
	var decoded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil || decoded.ID == "" {
		return artifact.Handle{}, &domain.SubmissionError{Provider: Name, Status: resp.StatusCode, Err: errors.New("response has no id")}
	}
	c.logger.Info().Str("provider", Name).Str("model", model).Str("job_id", decoded.ID).Msg("flux: request submitted")
	return artifact.Handle{Provider: Name, JobID: decoded.ID}, nil
}

// Poll reads get_result once.
func (c *Client) Poll(ctx context.Context, h artifact.Handle) (domain.AsyncJob, error) {
	endpoint := c.baseURL + "/get_result?id=" + url.QueryEscape(h.JobID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.AsyncJob{}, fmt.Errorf("flux: build request: %w", err)
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.AsyncJob{}, &domain.TransportError{Provider: Name, Op: "poll", Err: err}
	}
	defer resp.Body.Close()
	raw, err := artifact.ReadBody(resp)
	if err != nil {
		return domain.AsyncJob{}, &domain.TransportError{Provider: Name, Op: "read result", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return domain.AsyncJob{}, &domain.TransportError{Provider: Name, Op: "poll", Err: artifact.SnippetError(resp.StatusCode, raw)}
	}
	var decoded resultResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return domain.AsyncJob{}, fmt.Errorf("flux: decode result: %w", err)
	}
	return mapResult(h.JobID, decoded)
}

func mapResult(id string, r resultResponse) (domain.AsyncJob, error) {
	job := domain.AsyncJob{ID: id}
	switch r.Status {
	case "Ready":
		if r.Result.Sample == "" {
			return domain.AsyncJob{}, &domain.MalformedResultError{Provider: Name, Field: "result.sample"}
		}
		job.Status = domain.JobStatusSucceeded
		job.ResultURL = r.Result.Sample
	case "Pending", "Queued":
		job.Status = domain.JobStatusPending
	case "Processing":
		job.Status = domain.JobStatusProcessing
	default:
		job.Status = domain.JobStatusFailed
		job.FailureReason = r.Status
		if job.FailureReason == "" {
			job.FailureReason = domain.UnknownFailureReason
		}
	}
	return job, nil
}

func (c *Client) authorize(r *http.Request) {
	r.Header.Set("Accept", "application/json")
	r.Header.Set("x-key", c.apiKey)
}
