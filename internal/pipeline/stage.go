package pipeline

import "fmt"

// Stage is a step of the run state machine.
type Stage string

const (
	StageIdle            Stage = "idle"
	StagePromptGenerated Stage = "prompt_generated"
	StageJobSubmitted    Stage = "job_submitted"
	StageJobPolling      Stage = "job_polling"
	StageArtifactReady   Stage = "artifact_ready"
	StagePostProcessed   Stage = "postprocessed"
	StagePersisted       Stage = "persisted"
	StagePublished       Stage = "published"
	StageDone            Stage = "done"
	StageFailed          Stage = "failed"
)

var successor = map[Stage]Stage{
	StageIdle:            StagePromptGenerated,
	StagePromptGenerated: StageJobSubmitted,
	StageJobSubmitted:    StageJobPolling,
	StageJobPolling:      StageArtifactReady,
	StageArtifactReady:   StagePostProcessed,
	StagePostProcessed:   StagePersisted,
	StagePersisted:       StagePublished,
	StagePublished:       StageDone,
}

// stageMachine tracks a run's position. FAILED and DONE are absorbing.
type stageMachine struct {
	current Stage
	history []Stage
}

func newStageMachine() *stageMachine {
	return &stageMachine{current: StageIdle, history: []Stage{StageIdle}}
}

// advance moves forward one stage. Re-entering the current stage is a no-op.
// JOB_POLLING may go back to JOB_SUBMITTED for a retried attempt or a
// chained step.
func (m *stageMachine) advance(next Stage) error {
	if m.current == StageFailed || m.current == StageDone {
		return fmt.Errorf("pipeline: run already %s", m.current)
	}
	if next == m.current {
		return nil
	}
	ok := successor[m.current] == next ||
		(m.current == StageJobPolling && next == StageJobSubmitted)
	if !ok {
		return fmt.Errorf("pipeline: illegal transition %s -> %s", m.current, next)
	}
	m.current = next
	m.history = append(m.history, next)
	return nil
}

// fail moves to FAILED and returns the stage the run was in.
func (m *stageMachine) fail() Stage {
	prev := m.current
	if m.current != StageFailed {
		m.current = StageFailed
		m.history = append(m.history, StageFailed)
	}
	return prev
}
