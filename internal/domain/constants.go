package domain

import "time"

// File permissions constants
const (
	// DirectoryPermissions is the default permission for directories (rwxr-xr-x)
	DirectoryPermissions = 0o755
	// SecureFilePermissions is the permission for sensitive files (rw-------)
	SecureFilePermissions = 0o600
)

// Workflow client defaults
const (
	// DefaultBaseURL is the remote workflow API root
	DefaultBaseURL = "https://api.coze.cn/v1"
	// DefaultTokenEnvVar holds the bearer token when no other source is configured
	DefaultTokenEnvVar = "FLOWCARD_API_TOKEN"
	// DefaultRequestTimeout bounds every single network call
	DefaultRequestTimeout = 30 * time.Second
	// DefaultPollInterval is the constant delay between status polls
	DefaultPollInterval = 2 * time.Second
	// DefaultMaxPollAttempts caps the number of status polls per execution
	DefaultMaxPollAttempts = 90
)

// History constants
const (
	// HistoryStorageKey is the fixed storage slot of the history list
	HistoryStorageKey = "workflow_execution_history"
	// DefaultMaxHistoryItems is the retention cap (oldest evicted first)
	DefaultMaxHistoryItems = 500
	// DefaultHistoryCleanupKeep is how many records survive a storage-full cleanup
	DefaultHistoryCleanupKeep = 100
	// DefaultStatsTTL is how long cached history stats are served
	DefaultStatsTTL = 30 * time.Second
)

// Cache constants
const (
	// CacheKeyPrefix namespaces cache slots in the persistent tier
	CacheKeyPrefix = "cache:"
	// DefaultCacheTTL applies when a caller passes no TTL
	DefaultCacheTTL = 5 * time.Minute
)

// Catalog constants
const (
	// CardsCacheKey is the cache key of the card list
	CardsCacheKey = "cards:list"
	// DefaultCatalogTTL is how long the card list is cached
	DefaultCatalogTTL = 10 * time.Minute
	// DefaultSyncCooldown prevents overlapping background refreshes
	DefaultSyncCooldown = 30 * time.Second
	// DefaultSyncInterval is the background refresh period of `serve`
	DefaultSyncInterval = 5 * time.Minute
)

// Storage constants
const (
	// DefaultStorageBackend is the persistent tier used when none is configured
	DefaultStorageBackend = "bolt"
	// DefaultQuotaBytes mirrors the budget of browser local storage
	DefaultQuotaBytes = 5 * 1024 * 1024
)

// Notification constants
const (
	// DefaultTopicPrefix namespaces MQTT topics
	DefaultTopicPrefix = "flowcard/"
)

// Server constants
const (
	// DefaultServerAddr is the listen address of `flowcard serve`
	DefaultServerAddr = ":8080"
)
