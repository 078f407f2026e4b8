package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrSubmission is matched by every SubmissionError.
	ErrSubmission = errors.New("submission rejected")
	// ErrExecution is matched by every ExecutionError.
	ErrExecution = errors.New("execution failed")
	// ErrTimeout is matched by every TimeoutError.
	ErrTimeout = errors.New("job timed out")
)

// SubmissionError reports that the engine did not accept work: a transport
// failure, a non-success status or a response without a prompt id.
type SubmissionError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *SubmissionError) Error() string {
	var b strings.Builder
	b.WriteString(ErrSubmission.Error())
	if e.Op != "" {
		b.WriteString(": " + e.Op)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Body != "" {
		b.WriteString(": " + e.Body)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *SubmissionError) Is(target error) bool {
	return target == ErrSubmission
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// ExecutionError reports that the engine ran the job and recorded an error.
type ExecutionError struct {
	PromptID string
	Messages []string
}

func (e *ExecutionError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("%s: prompt %s", ErrExecution, e.PromptID)
	}
	return fmt.Sprintf("%s: prompt %s: %s", ErrExecution, e.PromptID, strings.Join(e.Messages, "; "))
}

func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecution
}

// TimeoutError reports that a job did not reach a terminal state before its
// deadline. The job may still be running on the engine.
type TimeoutError struct {
	PromptID string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: prompt %s after %s", ErrTimeout, e.PromptID, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}
