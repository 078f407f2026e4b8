package engine

import (
	"time"

	"github.com/JaimeStill/mender/pkg/workflow"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Progress is the engine's latest progress report for a running job.
type Progress struct {
	Node  string `json:"node,omitempty"`
	Value int    `json:"value"`
	Max   int    `json:"max"`
}

// Job is one submitted workflow tracked to a terminal state. A Job belongs
// to the Execute call that created it.
type Job struct {
	PromptID    string
	Workflow    workflow.Flat
	Status      Status
	Outputs     workflow.Outputs
	Progress    Progress
	Transport   string
	SubmittedAt time.Time
	FinishedAt  time.Time
	Err         error
}

func newJob(flat workflow.Flat) *Job {
	return &Job{Workflow: flat, Status: StatusPending}
}

func (j *Job) start(promptID string) {
	if j.Status != StatusPending {
		return
	}
	j.PromptID = promptID
	j.SubmittedAt = time.Now()
	j.Status = StatusRunning
}

func (j *Job) succeed(outputs workflow.Outputs) {
	if j.Status.Terminal() {
		return
	}
	j.Outputs = outputs
	j.Status = StatusSucceeded
	j.FinishedAt = time.Now()
}

func (j *Job) fail(status Status, err error) {
	if j.Status.Terminal() {
		return
	}
	j.Status = status
	j.Err = err
	j.FinishedAt = time.Now()
}
