package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrExhaustedCredentials is returned when every key in the pool was tried without a usable response.
	ErrExhaustedCredentials = errors.New("credential pool exhausted")
	// ErrUpstreamOverloaded is returned when the text backend keeps answering 503 for the same key.
	ErrUpstreamOverloaded = errors.New("text completion upstream overloaded")

	ErrEmptyCredentialPool = errors.New("credential pool is empty")
	ErrUnknownProvider     = errors.New("unknown provider")
	ErrInvalidParams       = errors.New("invalid generation parameters")
)

// UnknownFailureReason is used when a provider reports failure without a readable reason.
const UnknownFailureReason = "unknown error"

// SubmissionError reports a rejected or malformed job submission.
type SubmissionError struct {
	Provider string
	Status   int
	Err      error
}

func (e *SubmissionError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: submit failed with status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: submit failed: %v", e.Provider, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// TransportError reports a connectivity failure while talking to a provider.
type TransportError struct {
	Provider string
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TaskTimeoutError reports a job that stayed non-terminal for the whole wait budget.
type TaskTimeoutError struct {
	JobID   string
	Timeout time.Duration
	Last    JobStatus
}

func (e *TaskTimeoutError) Error() string {
	return fmt.Sprintf("job %s not finished after %s (last status %s)", e.JobID, e.Timeout, e.Last)
}

// TaskFailedError reports a job that reached the failed state.
type TaskFailedError struct {
	JobID  string
	Reason string
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Reason)
}

// ServiceUnavailableError reports a backend whose queue stayed disabled for the whole budget.
type ServiceUnavailableError struct {
	Provider string
	Waited   time.Duration
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("%s: service unavailable after %s", e.Provider, e.Waited)
}

// MalformedResultError reports a succeeded job without a required field.
type MalformedResultError struct {
	Provider string
	Field    string
}

func (e *MalformedResultError) Error() string {
	return fmt.Sprintf("%s: result is missing %s", e.Provider, e.Field)
}
