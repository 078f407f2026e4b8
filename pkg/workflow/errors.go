package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidDocument indicates the input is neither workflow shape.
	ErrInvalidDocument = errors.New("invalid workflow document")
	// ErrInvalidLink indicates a graph link whose target node or slot does not exist.
	ErrInvalidLink = errors.New("invalid workflow link")
	// ErrNodeNotFound indicates a node id absent from the document.
	ErrNodeNotFound = errors.New("workflow node not found")
	// ErrConfiguration is matched by every ConfigurationError.
	ErrConfiguration = errors.New("workflow configuration error")
	// ErrNoResult is matched by every NoResultError.
	ErrNoResult = errors.New("no result artifact")
)

// ConfigurationError reports that the workflow cannot be used as configured,
// such as an override target that names a missing node. It is not retryable.
type ConfigurationError struct {
	Reasons []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConfiguration, strings.Join(e.Reasons, "; "))
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// NoResultError reports a successful run that produced no selectable artifact.
type NoResultError struct {
	Nodes int
}

func (e *NoResultError) Error() string {
	return fmt.Sprintf("%s: %d output nodes", ErrNoResult, e.Nodes)
}

func (e *NoResultError) Is(target error) bool {
	return target == ErrNoResult
}
