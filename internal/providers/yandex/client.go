// Package yandex drives YandexART asynchronous image generation.
package yandex

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"dailystory/internal/domain"
	"dailystory/internal/infra"
	"dailystory/internal/providers/artifact"
	"dailystory/internal/providers/prompt"
)

const (
	Name = "yandex"

	maxPromptRunes = 500
	defaultSeed    = 1863
	iamCacheKey    = "iam"
)

// ErrMissingCredentials indicates a missing OAuth token or folder id.
var ErrMissingCredentials = errors.New("yandex: oauth token and folder id are required")

// Options configures the YandexART client.
type Options struct {
	OAuthToken string
	FolderID   string
	IAMURL     string
	BaseURL    string
	TokenTTL   time.Duration
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client exchanges the OAuth token for an IAM token and runs async
// generation operations.
type Client struct {
	oauthToken string
	folderID   string
	iamURL     string
	baseURL    string
	tokens     *cache.Cache
	tokenTTL   time.Duration
	httpClient *http.Client
	logger     infra.Logger
}

type generationRequest struct {
	ModelURI          string            `json:"modelUri"`
	GenerationOptions generationOptions `json:"generationOptions"`
	Messages          []message         `json:"messages"`
}

type generationOptions struct {
	Seed        int64       `json:"seed"`
	AspectRatio aspectRatio `json:"aspectRatio"`
}

type aspectRatio struct {
	WidthRatio  int `json:"widthRatio"`
	HeightRatio int `json:"heightRatio"`
}

type message struct {
	Weight int    `json:"weight"`
	Text   string `json:"text"`
}

// NewClient constructs a client. IAM tokens are cached for TokenTTL, one
// hour by default.
func NewClient(opts Options) (*Client, error) {
	oauth := strings.TrimSpace(opts.OAuthToken)
	folder := strings.TrimSpace(opts.FolderID)
	if oauth == "" || folder == "" {
		return nil, ErrMissingCredentials
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	iamURL := strings.TrimSpace(opts.IAMURL)
	if iamURL == "" {
		iamURL = "https://iam.api.cloud.yandex.net/iam/v1/tokens"
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://llm.api.cloud.yandex.net"
	}
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Client{
		oauthToken: oauth,
		folderID:   folder,
		iamURL:     iamURL,
		baseURL:    baseURL,
		tokens:     cache.New(ttl, 2*ttl),
		tokenTTL:   ttl,
		httpClient: httpClient,
		logger:     infra.LoggerOrDiscard(opts.Logger),
	}, nil
}

func (c *Client) Name() string { return Name }

// IAMToken returns a cached IAM token or exchanges the OAuth token for a new one.
func (c *Client) IAMToken(ctx context.Context) (string, error) {
	if v, ok := c.tokens.Get(iamCacheKey); ok {
		return v.(string), nil
	}
	body, _ := json.Marshal(map[string]string{"yandexPassportOauthToken": c.oauthToken})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.iamURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("yandex: build token request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &domain.TransportError{Provider: Name, Op: "iam token", Err: err}
	}
	defer resp.Body.Close()
	raw, err := artifact.ReadBody(resp)
	if err != nil {
		return "", &domain.TransportError{Provider: Name, Op: "iam token", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("yandex: iam token: %w", artifact.SnippetError(resp.StatusCode, raw))
	}
	var decoded struct {
		IAMToken string `json:"iamToken"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil || decoded.IAMToken == "" {
		return "", &domain.MalformedResultError{Provider: Name, Field: "iamToken"}
	}
	c.tokens.Set(iamCacheKey, decoded.IAMToken, c.tokenTTL)
	c.logger.Info().Str("provider", Name).Msg("yandex: iam token refreshed")
	return decoded.IAMToken, nil
}

// Submit starts an imageGenerationAsync operation. Prompts longer than 500
// runes are cut and suffixed with "...".
func (c *Client) Submit(ctx context.Context, req artifact.Request) (artifact.Handle, error) {
	text := prompt.Sanitize(req.Prompt, prompt.SanitizeOptions{MaxRunes: maxPromptRunes, Ellipsis: "..."})
	if text == "" {
		return artifact.Handle{}, &domain.SubmissionError{Provider: Name, Err: fmt.Errorf("%w: prompt is required", domain.ErrInvalidParams)}
	}
	seed := int64(defaultSeed)
	if req.Params.Seed != nil {
		seed = *req.Params.Seed
	}
	w, h := parseAspect(req.Params.AspectRatio)
	payload := generationRequest{
		ModelURI: fmt.Sprintf("art://%s/yandex-art/latest", c.folderID),
		GenerationOptions: generationOptions{
			Seed:        seed,
			AspectRatio: aspectRatio{WidthRatio: w, HeightRatio: h},
		},
		Messages: []message{{Weight: 1, Text: text}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return artifact.Handle{}, fmt.Errorf("yandex: encode request: %w", err)
	}
	raw, status, err := c.do(ctx, http.MethodPost, "/foundationModels/v1/imageGenerationAsync", body)
	if err != nil {
		return artifact.Handle{}, err
	}
	if status != http.StatusOK {
		return artifact.Handle{}, &domain.SubmissionError{Provider: Name, Status: status, Err: artifact.SnippetError(status, raw)}
	}
	decoded, err := artifact.DecodeObject(raw)
	if err != nil {
		return artifact.Handle{}, &domain.SubmissionError{Provider: Name, Status: status, Err: fmt.Errorf("decode response: %w", err)}
	}
	id := artifact.ProbeString(decoded, "id")
	if id == "" {
		return artifact.Handle{}, &domain.SubmissionError{Provider: Name, Status: status, Err: errors.New("response has no operation id")}
	}
	c.logger.Info().Str("provider", Name).Str("job_id", id).Msg("yandex: operation started")
	return artifact.Handle{Provider: Name, JobID: id}, nil
}

// Poll reads the operation once.
func (c *Client) Poll(ctx context.Context, h artifact.Handle) (domain.AsyncJob, error) {
	raw, status, err := c.do(ctx, http.MethodGet, "/operations/"+url.PathEscape(h.JobID), nil)
	if err != nil {
		return domain.AsyncJob{}, err
	}
	if status != http.StatusOK {
		return domain.AsyncJob{}, &domain.TransportError{Provider: Name, Op: "poll", Err: artifact.SnippetError(status, raw)}
	}
	decoded, err := artifact.DecodeObject(raw)
	if err != nil {
		return domain.AsyncJob{}, fmt.Errorf("yandex: decode operation: %w", err)
	}
	return parseOperation(h.JobID, decoded)
}

func parseOperation(id string, body any) (domain.AsyncJob, error) {
	job := domain.AsyncJob{ID: id}
	if _, failed := artifact.Lookup(body, "error"); failed {
		job.Status = domain.JobStatusFailed
		job.FailureReason = artifact.ProbeFailureReason(body, "error.message")
		return job, nil
	}
	if done, _ := artifact.Lookup(body, "done"); done != true {
		job.Status = domain.JobStatusProcessing
		return job, nil
	}
	encoded := artifact.ProbeString(body, "response.image")
	if encoded == "" {
		return domain.AsyncJob{}, &domain.MalformedResultError{Provider: Name, Field: "response.image"}
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return domain.AsyncJob{}, fmt.Errorf("yandex: decode image: %w", err)
	}
	job.Status = domain.JobStatusSucceeded
	job.ResultData = data
	return job, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	token, err := c.IAMToken(ctx)
	if err != nil {
		return nil, 0, err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("yandex: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("X-Folder-Id", c.folderID)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, &domain.TransportError{Provider: Name, Op: strings.ToLower(method) + " " + path, Err: err}
	}
	defer resp.Body.Close()
	raw, err := artifact.ReadBody(resp)
	if err != nil {
		return nil, resp.StatusCode, &domain.TransportError{Provider: Name, Op: "read response", Err: err}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		// Expired IAM token; the next attempt exchanges a fresh one.
		c.tokens.Delete(iamCacheKey)
	}
	return raw, resp.StatusCode, nil
}

// parseAspect reads "W:H" and falls back to the 2:1 story banner ratio.
func parseAspect(s string) (int, int) {
	var w, h int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &w, &h); err != nil || w <= 0 || h <= 0 {
		return 2, 1
	}
	return w, h
}
