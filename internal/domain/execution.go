// Package domain defines core business entities and value objects for flowcard.
//
// The domain layer is independent of infrastructure concerns: it describes
// executions, history records, cache entries and catalog cards, plus the
// error taxonomy shared by every adapter.
package domain

import (
	"encoding/json"
	"strings"
)

// ExecutionStatus is the lifecycle state reported by the remote workflow API.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "Running"
	StatusCompleted ExecutionStatus = "Completed"
	StatusFailed    ExecutionStatus = "Failed"
	StatusCancelled ExecutionStatus = "Cancelled"
)

// IsTerminal reports whether no further transition can happen.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the four known states.
func (s ExecutionStatus) Valid() bool {
	return s == StatusRunning || s.IsTerminal()
}

// ParseExecutionStatus normalizes a wire status. Remote deployments differ in
// casing and some report Success/Fail instead of Completed/Failed.
func ParseExecutionStatus(raw string) (ExecutionStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "running", "pending", "queued":
		return StatusRunning, true
	case "completed", "success", "succeeded":
		return StatusCompleted, true
	case "failed", "fail", "error":
		return StatusFailed, true
	case "cancelled", "canceled":
		return StatusCancelled, true
	default:
		return "", false
	}
}

// ExecutionRequest is one submission of a named workflow.
type ExecutionRequest struct {
	WorkflowID string         `validate:"required"`
	Parameters map[string]any `validate:"required"`
	// Credential is an opaque bearer token. When empty the configured
	// credential source is consulted. It is never written to history.
	Credential string
	BotID      string
}

// ExecutionErrorInfo is the structured failure carried by a Failed result.
type ExecutionErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	// Kind is set on results synthesized locally from an ErrorKind.
	Kind string `json:"kind,omitempty"`
}

// ExecutionResult is the state of one remote execution.
//
// Output is only present when Completed and Error only when Failed; both are
// absent while Running.
type ExecutionResult struct {
	ID                   string              `json:"id"`
	WorkflowID           string              `json:"workflowId,omitempty"`
	Status               ExecutionStatus     `json:"status"`
	Output               json.RawMessage     `json:"output,omitempty"`
	Error                *ExecutionErrorInfo `json:"error,omitempty"`
	DebugURL             string              `json:"debugUrl,omitempty"`
	CreatedAt            int64               `json:"createdAt"`
	UpdatedAt            int64               `json:"updatedAt"`
	ExecutionTimeSeconds *float64            `json:"executionTimeSeconds,omitempty"`
}

// Normalize enforces the output/error exclusivity for the current status.
func (r ExecutionResult) Normalize() ExecutionResult {
	switch r.Status {
	case StatusCompleted:
		r.Error = nil
	case StatusFailed:
		r.Output = nil
	default:
		r.Output = nil
		r.Error = nil
	}
	return r
}

// Clone returns a deep copy so callers can't alias stored records.
func (r ExecutionResult) Clone() ExecutionResult {
	if r.Output != nil {
		r.Output = append(json.RawMessage(nil), r.Output...)
	}
	if r.Error != nil {
		info := *r.Error
		r.Error = &info
	}
	if r.ExecutionTimeSeconds != nil {
		v := *r.ExecutionTimeSeconds
		r.ExecutionTimeSeconds = &v
	}
	return r
}

// OutputString decodes Output when the workflow produced a JSON string and
// falls back to the raw JSON text otherwise.
func (r ExecutionResult) OutputString() string {
	if len(r.Output) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Output, &s); err == nil {
		return s
	}
	return string(r.Output)
}

// ProgressFunc receives intermediate non-terminal results while polling.
type ProgressFunc func(ExecutionResult)

// CloneParameters deep copies a JSON-like parameter map by round-tripping it
// through encoding/json, so later mutation of the caller's map can't reach
// stored history. Values that can't be encoded fall back to a shallow copy.
func CloneParameters(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	data, err := json.Marshal(params)
	if err == nil {
		var out map[string]any
		if err := json.Unmarshal(data, &out); err == nil {
			return out
		}
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
