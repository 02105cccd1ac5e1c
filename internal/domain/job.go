package domain

import "fmt"

// JobStatus enumerates provider job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Known reports whether s is one of the four lifecycle states.
func (s JobStatus) Known() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusSucceeded, JobStatusFailed:
		return true
	}
	return false
}

// AsyncJob is a provider-side unit of asynchronous work as observed by one poll.
type AsyncJob struct {
	ID            string
	Status        JobStatus
	ResultURL     string
	ResultData    []byte
	FailureReason string
}

// HasResult reports whether the job carries an artifact reference.
func (j AsyncJob) HasResult() bool {
	return j.ResultURL != "" || len(j.ResultData) > 0
}

// Transition moves the job to next. Terminal jobs never change and unknown
// states are refused.
func (j *AsyncJob) Transition(next JobStatus) error {
	if !next.Known() {
		return fmt.Errorf("job %s: unknown status %q", j.ID, next)
	}
	if j.Status.IsTerminal() && next != j.Status {
		return fmt.Errorf("job %s: cannot move from %s to %s", j.ID, j.Status, next)
	}
	j.Status = next
	return nil
}

// AttemptOutcome classifies one executor attempt.
type AttemptOutcome string

const (
	AttemptSuccess          AttemptOutcome = "success"
	AttemptRetryableFailure AttemptOutcome = "retryable_failure"
	AttemptFatalFailure     AttemptOutcome = "fatal_failure"
)

// Attempt records a single try inside the executor's retry loop.
type Attempt struct {
	Number  int
	Outcome AttemptOutcome
}
