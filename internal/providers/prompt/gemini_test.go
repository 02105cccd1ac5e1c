package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"dailystory/internal/clock"
	"dailystory/internal/domain"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

const okBody = `{"candidates":[{"content":{"parts":[{"text":"a red cat on a windowsill"}]}}]}`

// keyedGemini answers by key; calls records the key of every request in order.
func keyedGemini(t *testing.T, answers map[string][]*http.Response, calls *[]string) *http.Client {
	t.Helper()
	return &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		key := r.URL.Query().Get("key")
		*calls = append(*calls, key)
		queue := answers[key]
		if len(queue) == 0 {
			t.Fatalf("unexpected call with key %q", key)
		}
		resp := queue[0]
		if len(queue) > 1 {
			answers[key] = queue[1:]
		}
		return resp, nil
	})}
}

func newTestGemini(t *testing.T, keys []string, client *http.Client, fake *clock.Fake, reasons *[]string) *GeminiGenerator {
	t.Helper()
	gen, err := NewGeminiGenerator(GeminiOptions{
		Keys:       keys,
		BaseURL:    "https://gemini.test/v1beta",
		HTTPClient: client,
		Failover: FailoverOptions{
			Clock: fake,
			OnFallback: func(reason string, err error) {
				if reasons != nil {
					*reasons = append(*reasons, reason)
				}
			},
		},
	})
	if err != nil {
		t.Fatalf("NewGeminiGenerator returned error: %v", err)
	}
	return gen
}

func TestNewGeminiGeneratorRequiresKeys(t *testing.T) {
	if _, err := NewGeminiGenerator(GeminiOptions{}); !errors.Is(err, domain.ErrEmptyCredentialPool) {
		t.Fatalf("error = %v, want ErrEmptyCredentialPool", err)
	}
}

func TestGeminiRotatesOncePerRateLimit(t *testing.T) {
	var calls, reasons []string
	answers := map[string][]*http.Response{
		"k1": {jsonResponse(http.StatusTooManyRequests, `{"error":{"status":"RESOURCE_EXHAUSTED"}}`)},
		"k2": {jsonResponse(http.StatusTooManyRequests, `{"error":{"status":"RESOURCE_EXHAUSTED"}}`)},
		"k3": {jsonResponse(http.StatusOK, okBody)},
		"k4": {jsonResponse(http.StatusOK, okBody)},
	}
	fake := clock.NewFake(time.Now())
	gen := newTestGemini(t, []string{"k1", "k2", "k3", "k4"}, keyedGemini(t, answers, &calls), fake, &reasons)

	text, err := gen.Generate(context.Background(), domain.GenerationRequest{UserInstruction: "red cat", Temperature: 1})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if text != "a red cat on a windowsill" {
		t.Fatalf("text = %q", text)
	}
	if strings.Join(calls, ",") != "k1,k2,k3" {
		t.Fatalf("calls = %v, want k1,k2,k3", calls)
	}
	if strings.Join(reasons, ",") != "http_429,http_429" {
		t.Fatalf("reasons = %v", reasons)
	}
	if gen.Pool().Index() != 2 {
		t.Fatalf("pool index = %d, want 2", gen.Pool().Index())
	}
	if len(fake.Sleeps()) != 0 {
		t.Fatalf("rotation must not sleep, got %v", fake.Sleeps())
	}
}

func TestGeminiExhaustsPoolAfterOneAttemptPerKey(t *testing.T) {
	var calls []string
	answers := map[string][]*http.Response{
		"k1": {jsonResponse(http.StatusTooManyRequests, `{}`)},
		"k2": {jsonResponse(http.StatusTooManyRequests, `{}`)},
		"k3": {jsonResponse(http.StatusTooManyRequests, `{}`)},
	}
	gen := newTestGemini(t, []string{"k1", "k2", "k3"}, keyedGemini(t, answers, &calls), clock.NewFake(time.Now()), nil)

	_, err := gen.Generate(context.Background(), domain.GenerationRequest{UserInstruction: "x"})
	if !errors.Is(err, domain.ErrExhaustedCredentials) {
		t.Fatalf("error = %v, want ErrExhaustedCredentials", err)
	}
	if len(calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(calls))
	}
	if gen.Pool().Index() != 0 {
		t.Fatalf("pool index = %d, want wrap to 0", gen.Pool().Index())
	}
}

func TestGeminiRotatesOnInvalidKeyAndOtherStatuses(t *testing.T) {
	var calls, reasons []string
	answers := map[string][]*http.Response{
		"bad":   {jsonResponse(http.StatusBadRequest, `{"error":{"details":[{"reason":"API_KEY_INVALID"}]}}`)},
		"blown": {jsonResponse(http.StatusInternalServerError, `oops`)},
		"good":  {jsonResponse(http.StatusOK, okBody)},
	}
	gen := newTestGemini(t, []string{"bad", "blown", "good"}, keyedGemini(t, answers, &calls), clock.NewFake(time.Now()), &reasons)

	if _, err := gen.Generate(context.Background(), domain.GenerationRequest{UserInstruction: "x"}); err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if strings.Join(reasons, ",") != "invalid_key,http_500" {
		t.Fatalf("reasons = %v", reasons)
	}
}

func TestGeminiRetriesSameKeyWhileOverloaded(t *testing.T) {
	var calls []string
	answers := map[string][]*http.Response{
		"k1": {jsonResponse(http.StatusServiceUnavailable, `{}`)},
		"k2": {jsonResponse(http.StatusOK, okBody)},
	}
	fake := clock.NewFake(time.Now())
	gen := newTestGemini(t, []string{"k1", "k2"}, keyedGemini(t, answers, &calls), fake, nil)

	_, err := gen.Generate(context.Background(), domain.GenerationRequest{UserInstruction: "x"})
	if !errors.Is(err, domain.ErrUpstreamOverloaded) {
		t.Fatalf("error = %v, want ErrUpstreamOverloaded", err)
	}
	if strings.Join(calls, ",") != "k1,k1,k1" {
		t.Fatalf("calls = %v, want three calls with k1", calls)
	}
	sleeps := fake.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != defaultOverloadDelay || sleeps[1] != defaultOverloadDelay {
		t.Fatalf("sleeps = %v", sleeps)
	}
}

func TestGeminiRecoversAfterTransientOverload(t *testing.T) {
	var calls []string
	answers := map[string][]*http.Response{
		"k1": {jsonResponse(http.StatusServiceUnavailable, `{}`), jsonResponse(http.StatusOK, okBody)},
	}
	fake := clock.NewFake(time.Now())
	gen := newTestGemini(t, []string{"k1"}, keyedGemini(t, answers, &calls), fake, nil)

	text, err := gen.Generate(context.Background(), domain.GenerationRequest{UserInstruction: "x"})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if text == "" || len(calls) != 2 || len(fake.Sleeps()) != 1 {
		t.Fatalf("text=%q calls=%v sleeps=%v", text, calls, fake.Sleeps())
	}
}

func TestGeminiMissingTextYieldsEmptyString(t *testing.T) {
	var calls []string
	answers := map[string][]*http.Response{
		"k1": {jsonResponse(http.StatusOK, `{"candidates":[]}`)},
	}
	gen := newTestGemini(t, []string{"k1", "k2"}, keyedGemini(t, answers, &calls), clock.NewFake(time.Now()), nil)

	text, err := gen.Generate(context.Background(), domain.GenerationRequest{UserInstruction: "x"})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if text != "" {
		t.Fatalf("text = %q, want empty", text)
	}
	if len(calls) != 1 {
		t.Fatalf("calls = %v, want one", calls)
	}
}

func TestGeminiTransportErrorRotates(t *testing.T) {
	var reasons []string
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Query().Get("key") == "k1" {
			return nil, errors.New("connection reset")
		}
		return jsonResponse(http.StatusOK, okBody), nil
	})}
	gen := newTestGemini(t, []string{"k1", "k2"}, client, clock.NewFake(time.Now()), &reasons)

	if _, err := gen.Generate(context.Background(), domain.GenerationRequest{UserInstruction: "x"}); err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if len(reasons) != 1 || reasons[0] != "http_request" {
		t.Fatalf("reasons = %v", reasons)
	}
}

func TestGeminiStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		cancel()
		return nil, context.Canceled
	})}
	gen := newTestGemini(t, []string{"k1", "k2", "k3"}, client, clock.NewFake(time.Now()), nil)

	_, err := gen.Generate(ctx, domain.GenerationRequest{UserInstruction: "x"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestGeminiRequestShape(t *testing.T) {
	var captured geminiRequest
	var path string
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		return jsonResponse(http.StatusOK, okBody), nil
	})}
	gen := newTestGemini(t, []string{"k1"}, client, clock.NewFake(time.Now()), nil)

	_, err := gen.Generate(context.Background(), domain.GenerationRequest{
		SystemInstruction: "You write prompts.",
		UserInstruction:   "Today is 01 January 2024.",
		Temperature:       0.7,
		MaxOutputTokens:   8000,
	})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if path != "/v1beta/models/gemini-1.5-pro-latest:generateContent" {
		t.Fatalf("path = %q", path)
	}
	if len(captured.Contents) != 1 || len(captured.Contents[0].Parts) != 2 {
		t.Fatalf("unexpected contents: %+v", captured.Contents)
	}
	if captured.Contents[0].Parts[0].Text != "You write prompts." {
		t.Fatalf("first part = %q", captured.Contents[0].Parts[0].Text)
	}
	if captured.GenerationConfig == nil || captured.GenerationConfig.MaxOutputTokens != 8000 || captured.GenerationConfig.Temperature != 0.7 {
		t.Fatalf("generation config = %+v", captured.GenerationConfig)
	}
}
