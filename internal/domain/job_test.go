package domain

import "testing"

func TestAsyncJobTransitionKeepsTerminalState(t *testing.T) {
	job := AsyncJob{ID: "j1", Status: JobStatusPending}
	if err := job.Transition(JobStatusProcessing); err != nil {
		t.Fatalf("Transition to processing: %v", err)
	}
	if err := job.Transition(JobStatusSucceeded); err != nil {
		t.Fatalf("Transition to succeeded: %v", err)
	}
	if err := job.Transition(JobStatusFailed); err == nil {
		t.Fatal("expected error leaving a terminal state")
	}
	if job.Status != JobStatusSucceeded {
		t.Fatalf("Status = %s, want %s", job.Status, JobStatusSucceeded)
	}
}

func TestAsyncJobTransitionRejectsUnknownStatus(t *testing.T) {
	job := AsyncJob{ID: "j2", Status: JobStatusProcessing}
	if err := job.Transition(JobStatus("queued")); err == nil {
		t.Fatal("expected error for unknown status")
	}
	if job.Status != JobStatusProcessing {
		t.Fatalf("Status = %s, want %s", job.Status, JobStatusProcessing)
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   bool
	}{
		{JobStatusPending, false},
		{JobStatusProcessing, false},
		{JobStatusSucceeded, true},
		{JobStatusFailed, true},
	}
	for _, tc := range tests {
		if got := tc.status.IsTerminal(); got != tc.want {
			t.Fatalf("%s.IsTerminal() = %v, want %v", tc.status, got, tc.want)
		}
	}
}
