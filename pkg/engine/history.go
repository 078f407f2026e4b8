package engine

import (
	"encoding/json"
	"fmt"

	"github.com/JaimeStill/mender/pkg/workflow"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// HistoryStatus is the engine's record of how a prompt ended.
type HistoryStatus struct {
	StatusStr string            `json:"status_str"`
	Completed bool              `json:"completed"`
	Messages  []json.RawMessage `json:"messages"`
}

// HistoryEntry is the history record of one prompt. The engine only writes
// it once execution has stopped.
type HistoryEntry struct {
	Status  *HistoryStatus   `json:"status,omitempty"`
	Outputs workflow.Outputs `json:"outputs"`
}

// Done reports whether the entry describes a finished prompt. Entries
// without a status block come from engines that predate it and are only
// written on completion.
func (e *HistoryEntry) Done() bool {
	if e.Status == nil {
		return true
	}
	return e.Status.Completed || e.Status.StatusStr == statusSuccess || e.Status.StatusStr == statusError
}

// Failed reports whether the engine recorded an execution error.
func (e *HistoryEntry) Failed() bool {
	return e.Status != nil && e.Status.StatusStr == statusError
}

// Errors extracts readable descriptions of the error and interruption
// messages recorded for the prompt.
func (s *HistoryStatus) Errors() []string {
	var out []string
	for _, raw := range s.Messages {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
			continue
		}

		var kind string
		if err := json.Unmarshal(pair[0], &kind); err != nil {
			continue
		}

		var data struct {
			NodeID           string `json:"node_id"`
			NodeType         string `json:"node_type"`
			ExceptionType    string `json:"exception_type"`
			ExceptionMessage string `json:"exception_message"`
		}
		_ = json.Unmarshal(pair[1], &data)

		switch kind {
		case "execution_error":
			out = append(out, describeNodeError(data.NodeID, data.NodeType, data.ExceptionType, data.ExceptionMessage))
		case "execution_interrupted":
			out = append(out, fmt.Sprintf("interrupted at node %s", data.NodeID))
		}
	}
	return out
}

func describeNodeError(nodeID, nodeType, excType, excMessage string) string {
	msg := excMessage
	if excType != "" {
		msg = excType + ": " + msg
	}
	if nodeID == "" {
		return msg
	}
	if nodeType != "" {
		return fmt.Sprintf("node %s (%s): %s", nodeID, nodeType, msg)
	}
	return fmt.Sprintf("node %s: %s", nodeID, msg)
}

// QueueState is the engine's work queue.
type QueueState struct {
	Running []json.RawMessage `json:"queue_running"`
	Pending []json.RawMessage `json:"queue_pending"`
}

// Position reports whether a prompt is running, pending, or neither.
func (q *QueueState) Position(promptID string) (running, pending bool) {
	return containsPrompt(q.Running, promptID), containsPrompt(q.Pending, promptID)
}

// queue items are [number, prompt_id, prompt, extra_data, outputs_to_execute]
func containsPrompt(items []json.RawMessage, promptID string) bool {
	for _, raw := range items {
		var item []json.RawMessage
		if err := json.Unmarshal(raw, &item); err != nil || len(item) < 2 {
			continue
		}
		var id string
		if err := json.Unmarshal(item[1], &id); err == nil && id == promptID {
			return true
		}
	}
	return false
}

// UploadedImage identifies an image stored in the engine's input area.
type UploadedImage struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// Reference returns the filename a loader node expects.
func (u UploadedImage) Reference() string {
	if u.Subfolder == "" {
		return u.Name
	}
	return u.Subfolder + "/" + u.Name
}
