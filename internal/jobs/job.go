// Package jobs accepts restoration requests over HTTP, records them in
// PostgreSQL and runs them against the engine in the background.
package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/mender/pkg/engine"
	"github.com/JaimeStill/mender/pkg/workflow"
)

// Job is the persisted record of one request.
type Job struct {
	ID             uuid.UUID     `json:"id"`
	Template       string        `json:"template"`
	Instruction    string        `json:"instruction"`
	InputFilename  string        `json:"input_filename"`
	InputKey       string        `json:"input_key"`
	PromptID       *string       `json:"prompt_id"`
	Status         engine.Status `json:"status"`
	ErrorKind      *ErrorKind    `json:"error_kind,omitempty"`
	ErrorMessage   *string       `json:"error_message,omitempty"`
	ProgressValue  int           `json:"progress_value"`
	ProgressMax    int           `json:"progress_max"`
	ResultFilename *string       `json:"result_filename,omitempty"`
	ResultKey      *string       `json:"result_key,omitempty"`
	ResultURL      *string       `json:"result_url,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

// CreateCommand carries an uploaded image and the instruction to apply.
type CreateCommand struct {
	Data        []byte
	Filename    string
	ContentType string
	Instruction string
	// Template names the workflow template; empty selects the default.
	Template string
}

// URLCommand is the JSON body of a request that references a remote image.
type URLCommand struct {
	ImageURL    string `json:"image_url"`
	Instruction string `json:"instruction"`
	Template    string `json:"template,omitempty"`
}

// ErrorKind classifies why a job did not succeed.
type ErrorKind string

const (
	KindSubmission    ErrorKind = "submission"
	KindExecution     ErrorKind = "execution"
	KindTimeout       ErrorKind = "timeout"
	KindConfiguration ErrorKind = "configuration"
	KindNoResult      ErrorKind = "no_result"
	KindInternal      ErrorKind = "internal"
)

// Classify maps a processing error to its kind and the terminal status the
// job ends in.
func Classify(err error) (ErrorKind, engine.Status) {
	switch {
	case errors.Is(err, engine.ErrTimeout):
		return KindTimeout, engine.StatusTimedOut
	case errors.Is(err, engine.ErrSubmission):
		return KindSubmission, engine.StatusFailed
	case errors.Is(err, engine.ErrExecution):
		return KindExecution, engine.StatusFailed
	case errors.Is(err, workflow.ErrConfiguration):
		return KindConfiguration, engine.StatusFailed
	case errors.Is(err, workflow.ErrNoResult):
		return KindNoResult, engine.StatusFailed
	default:
		return KindInternal, engine.StatusFailed
	}
}
