package prompt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"dailystory/internal/domain"
	"dailystory/internal/infra/credentials"
)

const (
	geminiProviderName   = "gemini"
	geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultModel   = "gemini-1.5-pro-latest"
	invalidKeyMarker     = "API_KEY_INVALID"
)

type GeminiOptions struct {
	Keys       []string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Failover   FailoverOptions
}

// GeminiGenerator calls generateContent and fails over across its key pool.
type GeminiGenerator struct {
	model    string
	baseURL  string
	client   *http.Client
	failover failover
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func NewGeminiGenerator(opts GeminiOptions) (*GeminiGenerator, error) {
	pool, err := credentials.NewPool(opts.Keys)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = geminiDefaultModel
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTextTimeout}
	}
	return &GeminiGenerator{
		model:    model,
		baseURL:  baseURL,
		client:   client,
		failover: newFailover(pool, opts.Failover),
	}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	return g.failover.run(ctx, g, req)
}

// Pool exposes the key pool so callers can inspect the active key.
func (g *GeminiGenerator) Pool() *credentials.Pool {
	return g.failover.pool
}

func (g *GeminiGenerator) name() string { return geminiProviderName }

func (g *GeminiGenerator) complete(ctx context.Context, key string, req domain.GenerationRequest) outcome {
	parts := make([]geminiPart, 0, 2)
	if s := strings.TrimSpace(req.SystemInstruction); s != "" {
		parts = append(parts, geminiPart{Text: s})
	}
	parts = append(parts, geminiPart{Text: req.UserInstruction})
	payload := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxOutputTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return outcome{verdict: verdictFatal, err: fmt.Errorf("gemini: encode request: %w", err)}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(key), bytes.NewReader(body))
	if err != nil {
		return outcome{verdict: verdictFatal, err: fmt.Errorf("gemini: build request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return transportOutcome(ctx, geminiProviderName, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return transportOutcome(ctx, geminiProviderName, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var out geminiResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return outcome{verdict: verdictRotate, reason: "decode_response", err: fmt.Errorf("gemini: decode response: %w", err)}
		}
		return outcome{verdict: verdictDone, text: extractGeminiText(out)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return outcome{verdict: verdictRotate, reason: "http_429", err: statusError(geminiProviderName, resp.StatusCode, raw)}
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(string(raw), invalidKeyMarker):
		return outcome{verdict: verdictRotate, reason: "invalid_key", err: statusError(geminiProviderName, resp.StatusCode, raw)}
	case resp.StatusCode == http.StatusServiceUnavailable:
		return outcome{verdict: verdictRetrySame, reason: "http_503", err: statusError(geminiProviderName, resp.StatusCode, raw)}
	default:
		return outcome{verdict: verdictRotate, reason: fmt.Sprintf("http_%d", resp.StatusCode), err: statusError(geminiProviderName, resp.StatusCode, raw)}
	}
}

func (g *GeminiGenerator) endpoint(key string) string {
	return fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, url.PathEscape(g.model), url.QueryEscape(key))
}

// extractGeminiText returns the first part of the first candidate. A missing
// field yields an empty string rather than an error.
func extractGeminiText(resp geminiResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	parts := resp.Candidates[0].Content.Parts
	if len(parts) == 0 {
		return ""
	}
	return parts[0].Text
}

func statusError(provider string, status int, body []byte) error {
	msg := truncateRunes(strings.ToValidUTF8(strings.TrimSpace(string(body)), "\uFFFD"), 512)
	return fmt.Errorf("%s: status %d: %s", provider, status, msg)
}

var _ Generator = (*GeminiGenerator)(nil)
