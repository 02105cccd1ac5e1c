// Package kandinsky drives the FusionBrain Kandinsky text-to-image API.
package kandinsky

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"dailystory/internal/clock"
	"dailystory/internal/domain"
	"dailystory/internal/infra"
	"dailystory/internal/providers/artifact"
)

const (
	Name = "kandinsky"

	statusDone            = "DONE"
	statusFail            = "FAIL"
	statusDisabledByQueue = "DISABLED_BY_QUEUE"

	maxQueryRunes = 1000
	modelCacheKey = "model_id"
)

// ErrMissingCredentials indicates an incomplete key pair.
var ErrMissingCredentials = errors.New("kandinsky: api key and secret key are required")

// Options configures the FusionBrain client.
type Options struct {
	APIKey     string
	SecretKey  string
	BaseURL    string
	ModelTTL   time.Duration
	HTTPClient *http.Client
	Clock      clock.Clock
	Logger     *infra.Logger
}

// Client submits text2image runs and polls their status.
type Client struct {
	apiKey     string
	secretKey  string
	baseURL    string
	models     *cache.Cache
	modelTTL   time.Duration
	httpClient *http.Client
	clock      clock.Clock
	logger     infra.Logger
}

type runParams struct {
	Type           string         `json:"type"`
	NumImages      int            `json:"numImages"`
	Width          int            `json:"width"`
	Height         int            `json:"height"`
	GenerateParams generateParams `json:"generateParams"`
}

type generateParams struct {
	Query string `json:"query"`
}

// NewClient constructs a client. The resolved model id is cached for
// ModelTTL, one hour by default.
func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	secret := strings.TrimSpace(opts.SecretKey)
	if apiKey == "" || secret == "" {
		return nil, ErrMissingCredentials
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api-key.fusionbrain.ai"
	}
	ttl := opts.ModelTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Client{
		apiKey:     apiKey,
		secretKey:  secret,
		baseURL:    baseURL,
		models:     cache.New(ttl, 2*ttl),
		modelTTL:   ttl,
		httpClient: httpClient,
		clock:      clock.OrReal(opts.Clock),
		logger:     infra.LoggerOrDiscard(opts.Logger),
	}, nil
}

func (c *Client) Name() string { return Name }

// ModelID returns the first model advertised by the API.
func (c *Client) ModelID(ctx context.Context) (string, error) {
	if v, ok := c.models.Get(modelCacheKey); ok {
		return v.(string), nil
	}
	raw, status, err := c.get(ctx, "/key/api/v1/models")
	if err != nil {
		return "", &domain.TransportError{Provider: Name, Op: "list models", Err: err}
	}
	if status != http.StatusOK {
		return "", &domain.SubmissionError{Provider: Name, Status: status, Err: artifact.SnippetError(status, raw)}
	}
	decoded, err := artifact.DecodeObject(raw)
	if err != nil {
		return "", fmt.Errorf("kandinsky: decode models: %w", err)
	}
	id := artifact.ProbeString(decoded, "0.id")
	if id == "" {
		return "", &domain.MalformedResultError{Provider: Name, Field: "models[0].id"}
	}
	c.models.Set(modelCacheKey, id, c.modelTTL)
	return id, nil
}

// CheckAvailability polls the availability endpoint until the model queue is
// enabled or the budget runs out.
func (c *Client) CheckAvailability(ctx context.Context, timeout, interval time.Duration) error {
	modelID, err := c.ModelID(ctx)
	if err != nil {
		return err
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	start := c.clock.Now()
	deadline := start.Add(timeout)
	for {
		available, err := c.available(ctx, modelID)
		if err != nil {
			return err
		}
		if available {
			return nil
		}
		c.logger.Warn().Str("provider", Name).Str("model_id", modelID).Msg("kandinsky: queue disabled, waiting")
		if !c.clock.Now().Add(interval).Before(deadline) {
			return &domain.ServiceUnavailableError{Provider: Name, Waited: c.clock.Now().Sub(start)}
		}
		if err := c.clock.Sleep(ctx, interval); err != nil {
			return err
		}
	}
}

func (c *Client) available(ctx context.Context, modelID string) (bool, error) {
	raw, status, err := c.get(ctx, "/key/api/v1/text2image/availability?model_id="+url.QueryEscape(modelID))
	if err != nil {
		return false, &domain.TransportError{Provider: Name, Op: "availability", Err: err}
	}
	if status != http.StatusOK {
		return false, &domain.TransportError{Provider: Name, Op: "availability", Err: artifact.SnippetError(status, raw)}
	}
	decoded, err := artifact.DecodeObject(raw)
	if err != nil {
		return false, fmt.Errorf("kandinsky: decode availability: %w", err)
	}
	return artifact.ProbeString(decoded, "model_status", "status") != statusDisabledByQueue, nil
}

// Submit starts a text2image run and returns its uuid as the job id.
func (c *Client) Submit(ctx context.Context, req artifact.Request) (artifact.Handle, error) {
	query := strings.TrimSpace(req.Prompt)
	if query == "" {
		return artifact.Handle{}, &domain.SubmissionError{Provider: Name, Err: fmt.Errorf("%w: prompt is required", domain.ErrInvalidParams)}
	}
	if r := []rune(query); len(r) > maxQueryRunes {
		query = string(r[:maxQueryRunes])
	}
	modelID, err := c.ModelID(ctx)
	if err != nil {
		return artifact.Handle{}, err
	}
	params := runParams{
		Type:           "GENERATE",
		NumImages:      1,
		Width:          orDefault(req.Params.Width, 1344),
		Height:         orDefault(req.Params.Height, 768),
		GenerateParams: generateParams{Query: query},
	}
	body, contentType, err := encodeRun(modelID, params)
	if err != nil {
		return artifact.Handle{}, fmt.Errorf("kandinsky: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/key/api/v1/text2image/run", body)
	if err != nil {
		return artifact.Handle{}, fmt.Errorf("kandinsky: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
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
	id := artifact.ProbeString(decoded, "uuid")
	if id == "" {
		return artifact.Handle{}, &domain.SubmissionError{Provider: Name, Status: resp.StatusCode, Err: errors.New("response has no uuid")}
	}
	c.logger.Info().Str("provider", Name).Str("job_id", id).Str("model_id", modelID).Msg("kandinsky: run submitted")
	return artifact.Handle{Provider: Name, JobID: id}, nil
}

// Poll reads the run status once. A finished run carries the decoded image
// bytes in ResultData.
func (c *Client) Poll(ctx context.Context, h artifact.Handle) (domain.AsyncJob, error) {
	raw, status, err := c.get(ctx, "/key/api/v1/text2image/status/"+url.PathEscape(h.JobID))
	if err != nil {
		return domain.AsyncJob{}, &domain.TransportError{Provider: Name, Op: "poll", Err: err}
	}
	if status != http.StatusOK {
		return domain.AsyncJob{}, &domain.TransportError{Provider: Name, Op: "poll", Err: artifact.SnippetError(status, raw)}
	}
	decoded, err := artifact.DecodeObject(raw)
	if err != nil {
		return domain.AsyncJob{}, fmt.Errorf("kandinsky: decode status: %w", err)
	}
	return parseStatus(h.JobID, decoded)
}

func parseStatus(id string, body any) (domain.AsyncJob, error) {
	job := domain.AsyncJob{ID: id}
	switch artifact.ProbeString(body, "status") {
	case statusDone:
		encoded := artifact.ProbeString(body, "images.0", "result.files.0")
		if encoded == "" {
			return domain.AsyncJob{}, &domain.MalformedResultError{Provider: Name, Field: "images[0]"}
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return domain.AsyncJob{}, fmt.Errorf("kandinsky: decode image: %w", err)
		}
		job.Status = domain.JobStatusSucceeded
		job.ResultData = data
	case statusFail:
		job.Status = domain.JobStatusFailed
		job.FailureReason = artifact.ProbeFailureReason(body, "errorDescription", "error")
	default:
		job.Status = domain.JobStatusProcessing
	}
	return job, nil
}

func encodeRun(modelID string, params runParams) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	if err := mw.WriteField("model_id", modelID); err != nil {
		return nil, "", err
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="params"`)
	header.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if err := json.NewEncoder(part).Encode(params); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf, mw.FormDataContentType(), nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	c.authorize(httpReq)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	raw, err := artifact.ReadBody(resp)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return raw, resp.StatusCode, nil
}

func (c *Client) authorize(r *http.Request) {
	r.Header.Set("X-Key", "Key "+c.apiKey)
	r.Header.Set("X-Secret", "Secret "+c.secretKey)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
