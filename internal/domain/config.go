package domain

// Config mirrors ~/.flowcard/config.yaml.
type Config struct {
	ConfigFormatVersion string           `yaml:"config_format_version" mapstructure:"config_format_version"`
	Workflow            WorkflowSettings `yaml:"workflow" mapstructure:"workflow" validate:"required"`
	Catalog             CatalogSettings  `yaml:"catalog" mapstructure:"catalog"`
	History             HistorySettings  `yaml:"history" mapstructure:"history"`
	Cache               CacheSettings    `yaml:"cache" mapstructure:"cache"`
	Storage             StorageSettings  `yaml:"storage" mapstructure:"storage"`
	Log                 LogSettings      `yaml:"log" mapstructure:"log"`
	Notify              NotifySettings   `yaml:"notify" mapstructure:"notify"`
	Server              ServerSettings   `yaml:"server" mapstructure:"server"`
}

// WorkflowSettings configures the remote workflow API client.
type WorkflowSettings struct {
	BaseURL         string `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`
	BotID           string `yaml:"bot_id,omitempty" mapstructure:"bot_id"`
	TokenEnvVar     string `yaml:"token_env_var,omitempty" mapstructure:"token_env_var"`
	RequestTimeout  string `yaml:"request_timeout" mapstructure:"request_timeout" validate:"omitempty,duration"`
	PollInterval    string `yaml:"poll_interval" mapstructure:"poll_interval" validate:"omitempty,duration"`
	MaxPollAttempts int    `yaml:"max_poll_attempts" mapstructure:"max_poll_attempts" validate:"gte=0"`
}

// CatalogSettings configures where cards come from and how they are cached.
type CatalogSettings struct {
	URL          string `yaml:"url,omitempty" mapstructure:"url" validate:"omitempty,url"`
	File         string `yaml:"file,omitempty" mapstructure:"file"`
	TTL          string `yaml:"ttl" mapstructure:"ttl" validate:"omitempty,duration"`
	SyncCooldown string `yaml:"sync_cooldown" mapstructure:"sync_cooldown" validate:"omitempty,duration"`
	SyncInterval string `yaml:"sync_interval" mapstructure:"sync_interval" validate:"omitempty,duration"`
}

// HistorySettings bounds the execution history.
type HistorySettings struct {
	MaxItems    int    `yaml:"max_items" mapstructure:"max_items" validate:"gte=0"`
	CleanupKeep int    `yaml:"cleanup_keep" mapstructure:"cleanup_keep" validate:"gte=0"`
	StatsTTL    string `yaml:"stats_ttl" mapstructure:"stats_ttl" validate:"omitempty,duration"`
}

// CacheSettings controls the two-tier cache.
type CacheSettings struct {
	DefaultTTL string `yaml:"default_ttl" mapstructure:"default_ttl" validate:"omitempty,duration"`
}

// StorageSettings selects the local persistent storage backend.
type StorageSettings struct {
	Backend    string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=bolt sqlite file memory"`
	Dir        string `yaml:"dir,omitempty" mapstructure:"dir"`
	QuotaBytes int64  `yaml:"quota_bytes" mapstructure:"quota_bytes" validate:"gte=0"`
}

// LogSettings controls log verbosity and format.
type LogSettings struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" mapstructure:"format" validate:"omitempty,oneof=console json"`
}

// NotifySettings enables MQTT change notifications.
type NotifySettings struct {
	MQTTBroker  string `yaml:"mqtt_broker,omitempty" mapstructure:"mqtt_broker"`
	TopicPrefix string `yaml:"topic_prefix,omitempty" mapstructure:"topic_prefix"`
	ClientID    string `yaml:"client_id,omitempty" mapstructure:"client_id"`
}

// ServerSettings configures `flowcard serve`.
type ServerSettings struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}
