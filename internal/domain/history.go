package domain

// HistoryItem is the durable local record of one execution attempt.
type HistoryItem struct {
	ID                   string           `json:"id"`
	CardID               string           `json:"cardId"`
	CardTitle            string           `json:"cardTitle"`
	WorkflowID           string           `json:"workflowId,omitempty"`
	Inputs               map[string]any   `json:"inputs"`
	Result               *ExecutionResult `json:"result,omitempty"`
	Timestamp            int64            `json:"timestamp"`
	ExecutionTimeSeconds *float64         `json:"executionTimeSeconds,omitempty"`
}

// Pending reports whether the attempt has not reached a terminal record yet.
func (h HistoryItem) Pending() bool {
	return h.Result == nil
}

// Status returns the result status, or "" while pending.
func (h HistoryItem) Status() ExecutionStatus {
	if h.Result == nil {
		return ""
	}
	return h.Result.Status
}

// Clone returns a deep copy of the record.
func (h HistoryItem) Clone() HistoryItem {
	h.Inputs = CloneParameters(h.Inputs)
	if h.Result != nil {
		res := h.Result.Clone()
		h.Result = &res
	}
	if h.ExecutionTimeSeconds != nil {
		v := *h.ExecutionTimeSeconds
		h.ExecutionTimeSeconds = &v
	}
	return h
}

// WithPatch returns a copy of h with the non-nil patch fields applied.
func (h HistoryItem) WithPatch(p HistoryPatch) HistoryItem {
	out := h.Clone()
	if p.Result != nil {
		res := p.Result.Clone()
		out.Result = &res
	}
	if p.ExecutionTimeSeconds != nil {
		v := *p.ExecutionTimeSeconds
		out.ExecutionTimeSeconds = &v
	}
	if p.CardTitle != nil {
		out.CardTitle = *p.CardTitle
	}
	return out
}

// NewHistoryItem carries the caller-supplied fields of a pending record.
type NewHistoryItem struct {
	CardID     string
	CardTitle  string
	WorkflowID string
	Inputs     map[string]any
}

// HistoryPatch lists the fields an update may change.
type HistoryPatch struct {
	Result               *ExecutionResult
	ExecutionTimeSeconds *float64
	CardTitle            *string
}

// HistorySortKey selects the ordering of a history query.
type HistorySortKey string

const (
	SortByTimestamp     HistorySortKey = "timestamp"
	SortByExecutionTime HistorySortKey = "executionTime"
)

// SortOrder is ascending or descending.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// HistoryQuery filters, sorts and pages history records. Zero values mean
// "no filter", timestamp ordering, descending, no paging.
type HistoryQuery struct {
	CardID    string
	Status    ExecutionStatus
	SortBy    HistorySortKey
	SortOrder SortOrder
	Offset    int
	Limit     int
}

// HistoryStats aggregates outcomes over a set of records.
type HistoryStats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Running   int `json:"running"`
	Cancelled int `json:"cancelled"`
	// Pending counts records with no result yet; they are included in Running.
	Pending          int      `json:"pending"`
	AvgExecutionTime *float64 `json:"avgExecutionTime,omitempty"`
}
