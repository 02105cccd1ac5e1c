package prompt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"dailystory/internal/domain"
	"dailystory/internal/infra/credentials"
)

const (
	openAIProviderName   = "openai"
	openAIDefaultBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
)

type OpenAIOptions struct {
	Keys         []string
	Model        string
	BaseURL      string
	Organization string
	HTTPClient   *http.Client
	Failover     FailoverOptions
}

// OpenAIGenerator calls chat/completions with the same failover rules as Gemini.
// 401 stands in for Gemini's invalid-key marker.
type OpenAIGenerator struct {
	model        string
	baseURL      string
	organization string
	client       *http.Client
	failover     failover
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func NewOpenAIGenerator(opts OpenAIOptions) (*OpenAIGenerator, error) {
	pool, err := credentials.NewPool(opts.Keys)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTextTimeout}
	}
	return &OpenAIGenerator{
		model:        model,
		baseURL:      baseURL,
		organization: strings.TrimSpace(opts.Organization),
		client:       client,
		failover:     newFailover(pool, opts.Failover),
	}, nil
}

func (o *OpenAIGenerator) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	return o.failover.run(ctx, o, req)
}

func (o *OpenAIGenerator) name() string { return openAIProviderName }

func (o *OpenAIGenerator) complete(ctx context.Context, key string, req domain.GenerationRequest) outcome {
	messages := make([]openAIMessage, 0, 2)
	if s := strings.TrimSpace(req.SystemInstruction); s != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: s})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.UserInstruction})
	body, err := json.Marshal(openAIChatRequest{
		Model:       o.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxOutputTokens,
	})
	if err != nil {
		return outcome{verdict: verdictFatal, err: fmt.Errorf("openai: encode request: %w", err)}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return outcome{verdict: verdictFatal, err: fmt.Errorf("openai: build request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)
	if o.organization != "" {
		httpReq.Header.Set("OpenAI-Organization", o.organization)
	}
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return transportOutcome(ctx, openAIProviderName, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return transportOutcome(ctx, openAIProviderName, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var out openAIChatResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return outcome{verdict: verdictRotate, reason: "decode_response", err: fmt.Errorf("openai: decode response: %w", err)}
		}
		if len(out.Choices) == 0 {
			return outcome{verdict: verdictDone}
		}
		return outcome{verdict: verdictDone, text: out.Choices[0].Message.Content}
	case http.StatusTooManyRequests:
		return outcome{verdict: verdictRotate, reason: "http_429", err: statusError(openAIProviderName, resp.StatusCode, raw)}
	case http.StatusUnauthorized:
		return outcome{verdict: verdictRotate, reason: "invalid_key", err: statusError(openAIProviderName, resp.StatusCode, raw)}
	case http.StatusServiceUnavailable:
		return outcome{verdict: verdictRetrySame, reason: "http_503", err: statusError(openAIProviderName, resp.StatusCode, raw)}
	default:
		return outcome{verdict: verdictRotate, reason: fmt.Sprintf("http_%d", resp.StatusCode), err: statusError(openAIProviderName, resp.StatusCode, raw)}
	}
}

var _ Generator = (*OpenAIGenerator)(nil)
