package domain

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config behaviour lives on the entity so every adapter reads settings the
// same way, with the same defaults.

// RequestTimeout returns the per-call network deadline.
func (c *Config) RequestTimeout() time.Duration {
	return parseDurationOr(c.Workflow.RequestTimeout, DefaultRequestTimeout)
}

// PollInterval returns the constant delay between status polls.
func (c *Config) PollInterval() time.Duration {
	return parseDurationOr(c.Workflow.PollInterval, DefaultPollInterval)
}

// MaxPollAttempts returns the polling budget.
func (c *Config) MaxPollAttempts() int {
	if c.Workflow.MaxPollAttempts <= 0 {
		return DefaultMaxPollAttempts
	}
	return c.Workflow.MaxPollAttempts
}

// PollBudget is the effective ceiling on wall time spent polling.
func (c *Config) PollBudget() time.Duration {
	return time.Duration(c.MaxPollAttempts()) * c.PollInterval()
}

// TokenEnvVar returns the environment variable holding the bearer token.
func (c *Config) TokenEnvVar() string {
	if c.Workflow.TokenEnvVar == "" {
		return DefaultTokenEnvVar
	}
	return c.Workflow.TokenEnvVar
}

// CatalogTTL returns how long the card list stays cached.
func (c *Config) CatalogTTL() time.Duration {
	return parseDurationOr(c.Catalog.TTL, DefaultCatalogTTL)
}

// SyncCooldown returns the minimum gap between two background refreshes.
func (c *Config) SyncCooldown() time.Duration {
	return parseDurationOr(c.Catalog.SyncCooldown, DefaultSyncCooldown)
}

// SyncInterval returns the background refresh period.
func (c *Config) SyncInterval() time.Duration {
	return parseDurationOr(c.Catalog.SyncInterval, DefaultSyncInterval)
}

// MaxHistoryItems returns the history retention cap.
func (c *Config) MaxHistoryItems() int {
	if c.History.MaxItems <= 0 {
		return DefaultMaxHistoryItems
	}
	return c.History.MaxItems
}

// HistoryCleanupKeep returns how many records survive a storage-full cleanup.
// It never exceeds the retention cap.
func (c *Config) HistoryCleanupKeep() int {
	keep := c.History.CleanupKeep
	if keep <= 0 {
		keep = DefaultHistoryCleanupKeep
	}
	if max := c.MaxHistoryItems(); keep > max {
		keep = max
	}
	return keep
}

// StatsTTL returns how long cached history stats are served.
func (c *Config) StatsTTL() time.Duration {
	return parseDurationOr(c.History.StatsTTL, DefaultStatsTTL)
}

// CacheTTL returns the default cache entry lifetime.
func (c *Config) CacheTTL() time.Duration {
	return parseDurationOr(c.Cache.DefaultTTL, DefaultCacheTTL)
}

// StorageBackend returns the configured persistent backend name.
func (c *Config) StorageBackend() string {
	if c.Storage.Backend == "" {
		return DefaultStorageBackend
	}
	return strings.ToLower(c.Storage.Backend)
}

// StorageDir returns the directory holding local state, expanding "~/".
func (c *Config) StorageDir(home string) string {
	dir := c.Storage.Dir
	if dir == "" {
		return filepath.Join(home, ".flowcard")
	}
	if strings.HasPrefix(dir, "~/") {
		return filepath.Join(home, dir[2:])
	}
	return filepath.Clean(dir)
}

// CatalogFile returns the local card file path, expanding "~/".
func (c *Config) CatalogFile(home string) string {
	file := c.Catalog.File
	if file == "" {
		return filepath.Join(c.StorageDir(home), "cards.yaml")
	}
	if strings.HasPrefix(file, "~/") {
		return filepath.Join(home, file[2:])
	}
	return filepath.Clean(file)
}

// NotificationsEnabled reports whether an MQTT broker is configured.
func (c *Config) NotificationsEnabled() bool {
	return strings.TrimSpace(c.Notify.MQTTBroker) != ""
}

// TopicPrefix returns the MQTT topic namespace with a trailing slash.
func (c *Config) TopicPrefix() string {
	prefix := c.Notify.TopicPrefix
	if prefix == "" {
		return DefaultTopicPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

// ServerAddr returns the listen address of the HTTP API.
func (c *Config) ServerAddr() string {
	if c.Server.Addr == "" {
		return DefaultServerAddr
	}
	return c.Server.Addr
}

// DebugEnabled reports whether verbose logging was requested.
func (c *Config) DebugEnabled() bool {
	if v := os.Getenv("FLOWCARD_DEBUG"); strings.EqualFold(v, "1") || strings.EqualFold(v, "true") {
		return true
	}
	return strings.EqualFold(c.Log.Level, "debug")
}

func parseDurationOr(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
