package domain

import "encoding/json"

// CacheEntry is one persisted cache slot. The wire shape is {data, expiresAt}.
type CacheEntry struct {
	Key       string          `json:"key,omitempty"`
	Data      json.RawMessage `json:"data"`
	ExpiresAt int64           `json:"expiresAt"`
}

// Expired reports whether the entry must no longer be returned at nowMS.
func (e CacheEntry) Expired(nowMS int64) bool {
	return nowMS >= e.ExpiresAt
}
