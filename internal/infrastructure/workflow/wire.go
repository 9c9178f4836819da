package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/doeshing/flowcard/internal/domain"
)

// runRequest is the body of POST /workflow/run.
type runRequest struct {
	WorkflowID string         `json:"workflow_id"`
	Parameters map[string]any `json:"parameters"`
	BotID      string         `json:"bot_id,omitempty"`
}

// envelope wraps every response. Code != 0 is a business failure whatever
// the HTTP status was.
type envelope struct {
	Code int            `json:"code"`
	Msg  string         `json:"msg"`
	Data *wireExecution `json:"data,omitempty"`
}

type wireExecution struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	Status     string          `json:"status"`
	CreatedAt  int64           `json:"created_at"`
	UpdatedAt  int64           `json:"updated_at"`
	DebugURL   string          `json:"debug_url,omitempty"`
	Error      *wireError      `json:"error,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (w wireExecution) toResult() (domain.ExecutionResult, error) {
	status, ok := domain.ParseExecutionStatus(w.Status)
	if !ok {
		return domain.ExecutionResult{}, fmt.Errorf("unknown execution status %q", w.Status)
	}
	res := domain.ExecutionResult{
		ID:         w.ID,
		WorkflowID: w.WorkflowID,
		Status:     status,
		Output:     w.Output,
		DebugURL:   w.DebugURL,
		CreatedAt:  w.CreatedAt,
		UpdatedAt:  w.UpdatedAt,
	}
	if w.Error != nil {
		res.Error = &domain.ExecutionErrorInfo{Code: w.Error.Code, Message: w.Error.Message}
	}
	if status == domain.StatusFailed && res.Error == nil {
		res.Error = &domain.ExecutionErrorInfo{Message: "workflow reported failure without details"}
	}
	return res.Normalize(), nil
}
