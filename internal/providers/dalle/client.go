// Package dalle generates images with the OpenAI images API. The upstream
// call is synchronous, so Submit returns an already finished handle.
package dalle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"dailystory/internal/domain"
	"dailystory/internal/infra"
	"dailystory/internal/providers/artifact"
)

const (
	Name         = "dalle"
	DefaultModel = "dall-e-3"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("dalle: api key is required")

// Options configures the images client.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	Size       string
	Quality    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client calls /images/generations.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	size       string
	quality    string
	httpClient *http.Client
	logger     infra.Logger
}

type generationRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	Size    string `json:"size"`
	Quality string `json:"quality"`
	N       int    `json:"n"`
}

type generationResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// NewClient constructs a client with dall-e-3 defaults.
func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	c := &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      opts.Model,
		size:       opts.Size,
		quality:    opts.Quality,
		httpClient: httpClient,
		logger:     infra.LoggerOrDiscard(opts.Logger),
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.size == "" {
		c.size = "1024x1024"
	}
	if c.quality == "" {
		c.quality = "standard"
	}
	return c, nil
}

func (c *Client) Name() string { return Name }

// Submit performs the generation and returns a handle holding the result.
func (c *Client) Submit(ctx context.Context, req artifact.Request) (artifact.Handle, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return artifact.Handle{}, &domain.SubmissionError{Provider: Name, Err: fmt.Errorf("%w: prompt is required", domain.ErrInvalidParams)}
	}
	model := c.model
	if req.Params.Model != "" {
		model = req.Params.Model
	}
	size := c.size
	if req.Params.Resolution != "" {
		size = req.Params.Resolution
	}
	body, err := json.Marshal(generationRequest{Model: model, Prompt: prompt, Size: size, Quality: c.quality, N: 1})
	if err != nil {
		return artifact.Handle{}, fmt.Errorf("dalle: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return artifact.Handle{}, fmt.Errorf("dalle: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return artifact.Handle{}, &domain.TransportError{Provider: Name, Op: "generate", Err: err}
	}
	defer resp.Body.Close()
	raw, err := artifact.ReadBody(resp)
	if err != nil {
		return artifact.Handle{}, &domain.TransportError{Provider: Name, Op: "read response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return artifact.Handle{}, &domain.SubmissionError{Provider: Name, Status: resp.StatusCode, Err: artifact.SnippetError(resp.StatusCode, raw)}
	}
	var decoded generationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return artifact.Handle{}, &domain.SubmissionError{Provider: Name, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	job := domain.AsyncJob{ID: uuid.NewString(), Status: domain.JobStatusSucceeded}
	if len(decoded.Data) > 0 {
		item := decoded.Data[0]
		switch {
		case item.URL != "":
			job.ResultURL = item.URL
		case item.B64JSON != "":
			data, err := base64.StdEncoding.DecodeString(item.B64JSON)
			if err != nil {
				return artifact.Handle{}, fmt.Errorf("dalle: decode image: %w", err)
			}
			job.ResultData = data
		}
	}
	if !job.HasResult() {
		return artifact.Handle{}, &domain.MalformedResultError{Provider: Name, Field: "data[0]"}
	}
	c.logger.Info().Str("provider", Name).Str("model", model).Str("job_id", job.ID).Msg("dalle: image generated")
	return artifact.CompletedHandle(Name, job), nil
}

// Poll returns the job captured by Submit.
func (c *Client) Poll(ctx context.Context, h artifact.Handle) (domain.AsyncJob, error) {
	if h.Done == nil {
		return domain.AsyncJob{}, fmt.Errorf("dalle: handle %s carries no result", h.JobID)
	}
	return *h.Done, nil
}
