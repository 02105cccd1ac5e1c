package kandinsky

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dailystory/internal/clock"
	"dailystory/internal/domain"
	"dailystory/internal/providers/artifact"
)

type fakeAPI struct {
	modelCalls   int
	availability []string
	availCalls   int
	lastParams   runParams
	lastModel    string
	statusBody   string
}

func (f *fakeAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Key") != "Key k" || r.Header.Get("X-Secret") != "Secret s" {
			t.Fatalf("missing auth headers: %v", r.Header)
		}
		switch {
		case r.URL.Path == "/key/api/v1/models":
			f.modelCalls++
			_, _ = w.Write([]byte(`[{"id":4,"name":"Kandinsky"}]`))
		case r.URL.Path == "/key/api/v1/text2image/availability":
			if r.URL.Query().Get("model_id") != "4" {
				t.Fatalf("model_id = %q", r.URL.Query().Get("model_id"))
			}
			status := "ENABLED"
			if f.availCalls < len(f.availability) {
				status = f.availability[f.availCalls]
			}
			f.availCalls++
			_, _ = w.Write([]byte(`{"model_status":"` + status + `"}`))
		case r.URL.Path == "/key/api/v1/text2image/run":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Fatalf("parse multipart: %v", err)
			}
			f.lastModel = r.FormValue("model_id")
			if err := json.Unmarshal([]byte(r.FormValue("params")), &f.lastParams); err != nil {
				t.Fatalf("decode params: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"uuid":"run-1","status":"INITIAL"}`))
		case strings.HasPrefix(r.URL.Path, "/key/api/v1/text2image/status/"):
			_, _ = w.Write([]byte(f.statusBody))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}
}

func newTestClient(t *testing.T, api *fakeAPI, clk clock.Clock) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	client, err := NewClient(Options{APIKey: "k", SecretKey: "s", BaseURL: srv.URL, HTTPClient: srv.Client(), Clock: clk})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestSubmitUsesCachedModelAndTruncatesQuery(t *testing.T) {
	api := &fakeAPI{}
	client := newTestClient(t, api, nil)
	long := strings.Repeat("я", maxQueryRunes+50)

	for i := 0; i < 2; i++ {
		h, err := client.Submit(context.Background(), artifact.Request{Prompt: long})
		if err != nil {
			t.Fatalf("Submit returned error: %v", err)
		}
		if h.JobID != "run-1" {
			t.Fatalf("JobID = %q", h.JobID)
		}
	}
	if api.modelCalls != 1 {
		t.Fatalf("model lookups = %d, want 1", api.modelCalls)
	}
	if api.lastModel != "4" {
		t.Fatalf("model_id = %q", api.lastModel)
	}
	if got := len([]rune(api.lastParams.GenerateParams.Query)); got != maxQueryRunes {
		t.Fatalf("query runes = %d", got)
	}
	if api.lastParams.Width != 1344 || api.lastParams.Height != 768 || api.lastParams.Type != "GENERATE" {
		t.Fatalf("params = %+v", api.lastParams)
	}
}

func TestPollDoneDecodesImage(t *testing.T) {
	img := []byte{0x89, 'P', 'N', 'G'}
	api := &fakeAPI{statusBody: `{"status":"DONE","images":["` + base64.StdEncoding.EncodeToString(img) + `"]}`}
	client := newTestClient(t, api, nil)

	job, err := client.Poll(context.Background(), artifact.Handle{JobID: "run-1"})
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if job.Status != domain.JobStatusSucceeded || string(job.ResultData) != string(img) {
		t.Fatalf("job = %+v", job)
	}
}

func TestPollFail(t *testing.T) {
	api := &fakeAPI{statusBody: `{"status":"FAIL","errorDescription":"censored"}`}
	client := newTestClient(t, api, nil)

	job, err := client.Poll(context.Background(), artifact.Handle{JobID: "run-1"})
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if job.Status != domain.JobStatusFailed || job.FailureReason != "censored" {
		t.Fatalf("job = %+v", job)
	}
}

func TestCheckAvailabilityWaitsForQueue(t *testing.T) {
	api := &fakeAPI{availability: []string{statusDisabledByQueue, statusDisabledByQueue}}
	fake := clock.NewFake(time.Now())
	client := newTestClient(t, api, fake)

	if err := client.CheckAvailability(context.Background(), time.Minute, 10*time.Second); err != nil {
		t.Fatalf("CheckAvailability returned error: %v", err)
	}
	if api.availCalls != 3 {
		t.Fatalf("availability calls = %d, want 3", api.availCalls)
	}
	if len(fake.Sleeps()) != 2 {
		t.Fatalf("sleeps = %v", fake.Sleeps())
	}
}

func TestCheckAvailabilityTimesOut(t *testing.T) {
	disabled := make([]string, 100)
	for i := range disabled {
		disabled[i] = statusDisabledByQueue
	}
	api := &fakeAPI{availability: disabled}
	client := newTestClient(t, api, clock.NewFake(time.Now()))

	err := client.CheckAvailability(context.Background(), time.Minute, 10*time.Second)
	var unavailable *domain.ServiceUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("error = %v, want ServiceUnavailableError", err)
	}
	if api.availCalls > 7 {
		t.Fatalf("availability calls = %d", api.availCalls)
	}
}
