// Package artifact defines the submit/poll contract shared by every image and
// video generation backend, and the polling loop that drives a job to a
// terminal state.
package artifact

import (
	"context"
	"time"

	"dailystory/internal/domain"
)

// Params carries generation settings. Each backend reads the fields it
// understands and ignores the rest.
type Params struct {
	Model          string
	TaskType       string
	AspectRatio    string
	Speed          string
	Motion         string
	BatchSize      int
	Width          int
	Height         int
	Steps          int
	Resolution     string
	NegativePrompt string
	SourceURL      string
	Seed           *int64
	// Output selects which result a backend reports when a job returns
	// several. The values are backend specific.
	Output string
}

// Request is one generation submission.
type Request struct {
	Prompt string
	Params Params
}

// Handle identifies a submitted job. Backends that answer synchronously put
// the finished job in Done so Poll can return it without another call.
type Handle struct {
	Provider string
	JobID    string
	Output   string
	Done     *domain.AsyncJob
}

// Poller performs a single status check.
type Poller interface {
	Poll(ctx context.Context, h Handle) (domain.AsyncJob, error)
}

// Provider is implemented once per upstream backend.
type Provider interface {
	Poller
	Name() string
	Submit(ctx context.Context, req Request) (Handle, error)
}

// AvailabilityChecker is implemented by backends whose queue can be globally
// disabled. It returns *domain.ServiceUnavailableError when the backend stays
// unavailable for the whole budget.
type AvailabilityChecker interface {
	CheckAvailability(ctx context.Context, timeout, interval time.Duration) error
}

// CompletedHandle wraps an already finished job for synchronous backends.
func CompletedHandle(provider string, job domain.AsyncJob) Handle {
	return Handle{Provider: provider, JobID: job.ID, Done: &job}
}
