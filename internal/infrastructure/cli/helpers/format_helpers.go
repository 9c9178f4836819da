package helpers

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/doeshing/flowcard/internal/domain"
)

// TimestampFormat is used wherever an absolute time is printed.
const TimestampFormat = "2006-01-02 15:04:05"

// RelativeTime renders a unix-millisecond timestamp as "3 minutes ago".
func RelativeTime(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return humanize.Time(time.UnixMilli(ms))
}

// AbsoluteTime renders a unix-millisecond timestamp in local time.
func AbsoluteTime(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format(TimestampFormat)
}

// Seconds renders an optional duration in seconds.
func Seconds(secs *float64) string {
	if secs == nil {
		return "-"
	}
	return humanize.FtoaWithDigits(*secs, 2) + "s"
}

// StatusLabel is the status column of a history row.
func StatusLabel(item domain.HistoryItem) string {
	if item.Pending() {
		return "pending"
	}
	return strings.ToLower(string(item.Status()))
}

// SuccessRate is the completed share of finished runs, as a percentage.
func SuccessRate(stats domain.HistoryStats) float64 {
	finished := stats.Completed + stats.Failed + stats.Cancelled
	if finished == 0 {
		return 0
	}
	return float64(stats.Completed) / float64(finished) * 100
}

// ParseParams merges a JSON object with key=value pairs; pairs win.
func ParseParams(pairs []string, jsonObject string) (map[string]any, error) {
	params := map[string]any{}
	if strings.TrimSpace(jsonObject) != "" {
		if err := json.Unmarshal([]byte(jsonObject), &params); err != nil {
			return nil, fmt.Errorf("--params must be a JSON object: %w", err)
		}
		if params == nil {
			params = map[string]any{}
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}
