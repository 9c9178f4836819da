package domain

// EventType names a change notification.
type EventType string

const (
	EventExecutionStarted  EventType = "execution.started"
	EventExecutionProgress EventType = "execution.progress"
	EventExecutionFinished EventType = "execution.finished"
	EventCatalogChanged    EventType = "catalog.changed"
)

// Event is published whenever state a view depends on changes.
type Event struct {
	Type        EventType       `json:"type"`
	Key         string          `json:"key,omitempty"`
	CardID      string          `json:"cardId,omitempty"`
	HistoryID   string          `json:"historyId,omitempty"`
	ExecutionID string          `json:"executionId,omitempty"`
	Status      ExecutionStatus `json:"status,omitempty"`
	Timestamp   int64           `json:"timestamp"`
}
