package qwen

import (
	"bytes"
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
	"dailystory/internal/providers/artifact"
)

func TestSubmitPayload(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/api/v1/generate", map[string]any{"task_id": "t-1", "queue_position": 2})
	client := newTestClient(t, transport, nil)

	seed := int64(7)
	h, err := client.Submit(context.Background(), artifact.Request{
		Prompt: "harbor at night",
		Params: artifact.Params{NegativePrompt: "blurry", Seed: &seed},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if h.JobID != "t-1" {
		t.Fatalf("job id = %q, want t-1", h.JobID)
	}

	var payload map[string]any
	if err := json.Unmarshal(transport.lastBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["aspect_ratio"] != "16:9" {
		t.Fatalf("aspect_ratio = %v, want 16:9", payload["aspect_ratio"])
	}
	if payload["num_inference_steps"] != float64(50) || payload["cfg_scale"] != 4.0 {
		t.Fatalf("defaults not applied: %v", payload)
	}
	if payload["negative_prompt"] != "blurry" || payload["seed"] != float64(7) {
		t.Fatalf("payload = %v", payload)
	}
}

func TestSubmitWithoutSeedOmitsField(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/api/v1/generate", map[string]any{"task_id": "t-2"})
	client := newTestClient(t, transport, nil)

	if _, err := client.Submit(context.Background(), artifact.Request{Prompt: "x"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if bytes.Contains(transport.lastBody, []byte(`"seed"`)) {
		t.Fatalf("seed should be omitted: %s", transport.lastBody)
	}
}

func TestPollStatuses(t *testing.T) {
	cases := []struct {
		name       string
		body       map[string]any
		wantStatus domain.JobStatus
		wantURL    string
		wantReason string
	}{
		{
			name:       "relative url resolved",
			body:       map[string]any{"status": "completed", "image_url": "/images/t-1.png"},
			wantStatus: domain.JobStatusSucceeded,
			wantURL:    "http://qwen.test/images/t-1.png",
		},
		{
			name:       "absolute url kept",
			body:       map[string]any{"status": "completed", "image_url": "https://cdn.test/t-1.png"},
			wantStatus: domain.JobStatusSucceeded,
			wantURL:    "https://cdn.test/t-1.png",
		},
		{
			name:       "failed",
			body:       map[string]any{"status": "failed", "error": "CUDA out of memory"},
			wantStatus: domain.JobStatusFailed,
			wantReason: "CUDA out of memory",
		},
		{
			name:       "queued",
			body:       map[string]any{"status": "queued", "queue_position": 3},
			wantStatus: domain.JobStatusPending,
		},
		{
			name:       "processing",
			body:       map[string]any{"status": "processing"},
			wantStatus: domain.JobStatusProcessing,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			transport := &captureTransport{responses: map[string]responseStub{}}
			transport.setJSONResponse("/api/v1/tasks/t-1", tc.body)
			client := newTestClient(t, transport, nil)

			job, err := client.Poll(context.Background(), artifact.Handle{JobID: "t-1"})
			if err != nil {
				t.Fatalf("poll: %v", err)
			}
			if job.Status != tc.wantStatus || job.ResultURL != tc.wantURL || job.FailureReason != tc.wantReason {
				t.Fatalf("job = %+v", job)
			}
		})
	}
}

func TestCheckAvailabilityUnhealthy(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/api/v1/health", map[string]any{"status": "loading"})
	fake := clock.NewFake(time.Now())
	client := newTestClient(t, transport, fake)

	err := client.CheckAvailability(context.Background(), 30*time.Second, 10*time.Second)
	var unavailable *domain.ServiceUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("error = %v, want ServiceUnavailableError", err)
	}
	if len(fake.Sleeps()) != 2 {
		t.Fatalf("sleeps = %v", fake.Sleeps())
	}
}

func TestCheckAvailabilityHealthy(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	transport.setJSONResponse("/api/v1/health", map[string]any{"status": "healthy", "model_loaded": true})
	client := newTestClient(t, transport, clock.NewFake(time.Now()))

	if err := client.CheckAvailability(context.Background(), time.Minute, time.Second); err != nil {
		t.Fatalf("availability: %v", err)
	}
}

func newTestClient(t *testing.T, transport *captureTransport, clk clock.Clock) *Client {
	t.Helper()
	client, err := NewClient(Options{
		BaseURL:    "http://qwen.test",
		HTTPClient: &http.Client{Transport: transport},
		Clock:      clk,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

type captureTransport struct {
	responses map[string]responseStub
	lastBody  []byte
}

type responseStub struct {
	status int
	header http.Header
	body   []byte
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodPost {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		c.lastBody = body
	}
	if stub, ok := c.responses[req.URL.Path]; ok {
		return stub.toResponse(), nil
	}
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Body:       io.NopCloser(strings.NewReader("not found")),
	}, nil
}

func (c *captureTransport) setJSONResponse(path string, payload any) {
	body, _ := json.Marshal(payload)
	c.responses[path] = responseStub{
		status: http.StatusOK,
		header: http.Header{"Content-Type": []string{"application/json"}},
		body:   body,
	}
}

func (s responseStub) toResponse() *http.Response {
	header := http.Header{}
	for k, values := range s.header {
		cloned := make([]string, len(values))
		copy(cloned, values)
		header[k] = cloned
	}
	return &http.Response{
		StatusCode: s.status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(s.body)),
	}
}
