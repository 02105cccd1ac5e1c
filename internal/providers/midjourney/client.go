// Package midjourney talks to the Kolersky Midjourney proxy API.
package midjourney

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

// Name identifies this backend in logs, records and step definitions.
const Name = "midjourney"

const (
	TaskTextToImage  = "text-to-image"
	TaskImageToImage = "image-to-image"
	TaskImageToVideo = "image-to-video"
)

// Result selection. A text-to-image task returns the 2x2 grid and the single
// upscaled images; OutputGrid reports the grid.
const (
	OutputGrid   = "grid"
	OutputSingle = "single"
	OutputVideo  = "video"
)

// ErrMissingToken indicates that the client was configured without credentials.
var ErrMissingToken = errors.New("midjourney: api token is required")

// Options configures the Kolersky client.
type Options struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client submits and polls Midjourney tasks.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     infra.Logger
}

type generateRequest struct {
	TaskType       string `json:"taskType"`
	Prompt         string `json:"prompt"`
	AspectRatio    string `json:"aspectRatio,omitempty"`
	Speed          string `json:"speed,omitempty"`
	FileURL        string `json:"file_url,omitempty"`
	Motion         string `json:"motion,omitempty"`
	VideoBatchSize int    `json:"video_batch_size,omitempty"`
}

// NewClient constructs a client with defaults for the public endpoint.
func NewClient(opts Options) (*Client, error) {
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, ErrMissingToken
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.kolersky.com/v1"
	}
	return &Client{
		token:      token,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     infra.LoggerOrDiscard(opts.Logger),
	}, nil
}

func (c *Client) Name() string { return Name }

// Submit creates a generation task. Image-to-video tasks require
// Params.SourceURL.
func (c *Client) Submit(ctx context.Context, req artifact.Request) (artifact.Handle, error) {
	payload, err := buildPayload(req)
	if err != nil {
		return artifact.Handle{}, &domain.SubmissionError{Provider: Name, Err: err}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return artifact.Handle{}, fmt.Errorf("midjourney: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/midjourney/generate", bytes.NewReader(body))
	if err != nil {
		return artifact.Handle{}, fmt.Errorf("midjourney: build request: %w", err)
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
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return artifact.Handle{}, &domain.SubmissionError{Provider: Name, Status: resp.StatusCode, Err: artifact.SnippetError(resp.StatusCode, raw)}
	}
	decoded, err := artifact.DecodeObject(raw)
	if err != nil {
		return artifact.Handle{}, &domain.SubmissionError{Provider: Name, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	id := artifact.ProbeString(decoded, "requestId", "task_id", "data.requestId")
	if id == "" {
		return artifact.Handle{}, &domain.SubmissionError{Provider: Name, Status: resp.StatusCode, Err: errors.New("response has no requestId")}
	}
	output := resultOutput(payload.TaskType, req.Params.Output)
	c.logger.Info().Str("provider", Name).Str("job_id", id).Str("task_type", payload.TaskType).Str("output", output).Msg("midjourney: task submitted")
	return artifact.Handle{Provider: Name, JobID: id, Output: output}, nil
}

// Poll reads the task status once.
func (c *Client) Poll(ctx context.Context, h artifact.Handle) (domain.AsyncJob, error) {
	endpoint := c.baseURL + "/status?requestId=" + url.QueryEscape(h.JobID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.AsyncJob{}, fmt.Errorf("midjourney: build request: %w", err)
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.AsyncJob{}, &domain.TransportError{Provider: Name, Op: "poll", Err: err}
	}
	defer resp.Body.Close()
	raw, err := artifact.ReadBody(resp)
	if err != nil {
		return domain.AsyncJob{}, &domain.TransportError{Provider: Name, Op: "read status", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return domain.AsyncJob{}, &domain.TransportError{Provider: Name, Op: "poll", Err: artifact.SnippetError(resp.StatusCode, raw)}
	}
	decoded, err := artifact.DecodeObject(raw)
	if err != nil {
		return domain.AsyncJob{}, fmt.Errorf("midjourney: decode status: %w", err)
	}
	return parseStatus(h.JobID, h.Output, decoded)
}

var resultPaths = map[string][]string{
	OutputGrid:   {"data.output.image_url", "output.image_url", "data.output.images.0.url"},
	OutputSingle: {"data.output.images.0.url", "data.output.image_url", "output.image_url"},
	OutputVideo:  {"data.output.video_urls.0"},
}

func resultOutput(taskType, requested string) string {
	if taskType == TaskImageToVideo {
		return OutputVideo
	}
	if requested == OutputSingle {
		return OutputSingle
	}
	return OutputGrid
}

func parseStatus(id, output string, body any) (domain.AsyncJob, error) {
	job := domain.AsyncJob{ID: id}
	switch artifact.ProbeString(body, "status") {
	case "success":
		paths, ok := resultPaths[output]
		if !ok {
			paths = resultPaths[OutputGrid]
		}
		job.Status = domain.JobStatusSucceeded
		job.ResultURL = artifact.ProbeString(body, paths...)
		if job.ResultURL == "" {
			return domain.AsyncJob{}, &domain.MalformedResultError{Provider: Name, Field: paths[0]}
		}
	case "error":
		job.Status = domain.JobStatusFailed
		job.FailureReason = artifact.ProbeFailureReason(body,
			"data.output.failReason",
			"data.failReason",
			"error.message",
			"message",
		)
	default:
		job.Status = domain.JobStatusProcessing
	}
	return job, nil
}

func buildPayload(req artifact.Request) (generateRequest, error) {
	p := req.Params
	taskType := p.TaskType
	if taskType == "" {
		taskType = TaskTextToImage
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return generateRequest{}, fmt.Errorf("%w: prompt is required", domain.ErrInvalidParams)
	}
	payload := generateRequest{TaskType: taskType, Prompt: prompt}
	switch taskType {
	case TaskTextToImage:
		payload.AspectRatio = orDefault(p.AspectRatio, "1:1")
		payload.Speed = orDefault(p.Speed, "relaxed")
	case TaskImageToImage:
		if p.SourceURL == "" {
			return generateRequest{}, fmt.Errorf("%w: %s needs a source url", domain.ErrInvalidParams, taskType)
		}
		payload.FileURL = p.SourceURL
		payload.AspectRatio = orDefault(p.AspectRatio, "1:1")
		payload.Speed = orDefault(p.Speed, "relaxed")
	case TaskImageToVideo:
		if p.SourceURL == "" {
			return generateRequest{}, fmt.Errorf("%w: %s needs a source url", domain.ErrInvalidParams, taskType)
		}
		payload.FileURL = p.SourceURL
		payload.Motion = orDefault(p.Motion, "high")
		payload.VideoBatchSize = p.BatchSize
		if payload.VideoBatchSize <= 0 {
			payload.VideoBatchSize = 1
		}
	default:
		return generateRequest{}, fmt.Errorf("%w: unknown task type %q", domain.ErrInvalidParams, taskType)
	}
	return payload, nil
}

func (c *Client) authorize(r *http.Request) {
	r.Header.Set("Authorization", "Bearer "+c.token)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
