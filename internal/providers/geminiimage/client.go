// Package geminiimage generates images through Gemini generateContent with
// the image response modality. Keys rotate on any failed call.
package geminiimage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"dailystory/internal/domain"
	"dailystory/internal/infra"
	"dailystory/internal/infra/credentials"
	"dailystory/internal/providers/artifact"
)

const (
	Name         = "gemini_image"
	DefaultModel = "gemini-2.5-flash-image-preview"
)

// Options configures the client.
type Options struct {
	Keys       []string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client is a synchronous image backend with its own credential pool.
type Client struct {
	pool       *credentials.Pool
	model      string
	baseURL    string
	httpClient *http.Client
	logger     infra.Logger
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	FileData   *geminiFileData   `json:"fileData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type generateRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type generateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// NewClient constructs a client. It fails when no key is configured.
func NewClient(opts Options) (*Client, error) {
	pool, err := credentials.NewPool(opts.Keys)
	if err != nil {
		return nil, fmt.Errorf("gemini_image: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		pool:       pool,
		model:      model,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     infra.LoggerOrDiscard(opts.Logger),
	}, nil
}

func (c *Client) Name() string { return Name }

// Submit tries every key once starting from the current one and returns a
// completed handle for the first image produced.
func (c *Client) Submit(ctx context.Context, req artifact.Request) (artifact.Handle, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return artifact.Handle{}, &domain.SubmissionError{Provider: Name, Err: fmt.Errorf("%w: prompt is required", domain.ErrInvalidParams)}
	}
	body, err := json.Marshal(generateRequest{
		Contents:         []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: generationConfig{ResponseModalities: []string{"TEXT", "IMAGE"}},
	})
	if err != nil {
		return artifact.Handle{}, fmt.Errorf("gemini_image: encode request: %w", err)
	}

	var lastErr error
	for i := 0; i < c.pool.Len(); i++ {
		key := c.pool.Current()
		job, err := c.generate(ctx, key, body)
		if err == nil {
			c.logger.Info().Str("provider", Name).Str("model", c.model).Str("job_id", job.ID).Msg("gemini_image: image generated")
			return artifact.CompletedHandle(Name, job), nil
		}
		if ctx.Err() != nil {
			return artifact.Handle{}, ctx.Err()
		}
		lastErr = err
		next := c.pool.Rotate()
		c.logger.Warn().Err(err).Str("provider", Name).Str("next_key", credentials.Mask(next)).Msg("gemini_image: rotating credential")
	}
	return artifact.Handle{}, fmt.Errorf("%s: %w: %v", Name, domain.ErrExhaustedCredentials, lastErr)
}

// Poll returns the job captured by Submit.
func (c *Client) Poll(ctx context.Context, h artifact.Handle) (domain.AsyncJob, error) {
	if h.Done == nil {
		return domain.AsyncJob{}, fmt.Errorf("gemini_image: handle %s carries no result", h.JobID)
	}
	return *h.Done, nil
}

func (c *Client) generate(ctx context.Context, key string, body []byte) (domain.AsyncJob, error) {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, url.PathEscape(c.model), url.QueryEscape(key))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.AsyncJob{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.AsyncJob{}, &domain.TransportError{Provider: Name, Op: "generate", Err: err}
	}
	defer resp.Body.Close()
	raw, err := artifact.ReadBody(resp)
	if err != nil {
		return domain.AsyncJob{}, &domain.TransportError{Provider: Name, Op: "read response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return domain.AsyncJob{}, &domain.SubmissionError{Provider: Name, Status: resp.StatusCode, Err: artifact.SnippetError(resp.StatusCode, raw)}
	}
	var decoded generateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return domain.AsyncJob{}, fmt.Errorf("decode response: %w", err)
	}
	job := domain.AsyncJob{ID: uuid.NewString(), Status: domain.JobStatusSucceeded}
	for _, candidate := range decoded.Candidates {
		for _, part := range candidate.Content.Parts {
			if err := fillResult(&job, part); err != nil {
				return domain.AsyncJob{}, err
			}
			if job.HasResult() {
				return job, nil
			}
		}
	}
	return domain.AsyncJob{}, &domain.MalformedResultError{Provider: Name, Field: "candidates[].content.parts[].inlineData"}
}

func fillResult(job *domain.AsyncJob, part geminiPart) error {
	if part.InlineData != nil && part.InlineData.Data != "" {
		data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
		if err != nil {
			return fmt.Errorf("decode inline data: %w", err)
		}
		job.ResultData = data
		return nil
	}
	if part.FileData != nil && part.FileData.FileURI != "" {
		job.ResultURL = part.FileData.FileURI
	}
	return nil
}
