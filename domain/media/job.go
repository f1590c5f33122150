package media

import (
	"fmt"
	"time"
)

// JobState is the lifecycle state of a conversion attempt
type JobState int

const (
	JobPending JobState = iota
	JobRunning
	JobSucceeded
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobRunning:
		return "running"
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	default:
		return fmt.Sprintf("JobState(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// TranscodeJob represents one conversion attempt. It is never persisted.
type TranscodeJob struct {
	ID         string
	InputPath  string
	OutputPath string
	State      JobState
	StartedAt  time.Time
	FinishedAt time.Time
	Diagnostic string
}

// NewTranscodeJob creates a pending job for a staged upload
func NewTranscodeJob(upload UploadRecord, outputPath string) *TranscodeJob {
	return &TranscodeJob{
		ID:         upload.ID,
		InputPath:  upload.StoragePath,
		OutputPath: outputPath,
		State:      JobPending,
	}
}

// Start moves the job from pending to running
func (j *TranscodeJob) Start(now time.Time) error {
	if j.State != JobPending {
		return fmt.Errorf("job %s: cannot start from state %s", j.ID, j.State)
	}
	j.State = JobRunning
	j.StartedAt = now
	return nil
}

// Succeed marks a running job as succeeded
func (j *TranscodeJob) Succeed(now time.Time) error {
	if j.State != JobRunning {
		return fmt.Errorf("job %s: cannot succeed from state %s", j.ID, j.State)
	}
	j.State = JobSucceeded
	j.FinishedAt = now
	return nil
}

// Fail marks a pending or running job as failed with the engine's diagnostic text
func (j *TranscodeJob) Fail(now time.Time, diagnostic string) error {
	if j.State.Terminal() {
		return fmt.Errorf("job %s: cannot fail from state %s", j.ID, j.State)
	}
	j.State = JobFailed
	j.FinishedAt = now
	j.Diagnostic = diagnostic
	return nil
}

// Duration returns how long the job ran, or zero if it has not finished
func (j *TranscodeJob) Duration() time.Duration {
	if j.StartedAt.IsZero() || j.FinishedAt.IsZero() {
		return 0
	}
	return j.FinishedAt.Sub(j.StartedAt)
}
