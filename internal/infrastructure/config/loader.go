package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/doeshing/flowcard/assets"
	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/pkg/filesystem"
	"github.com/doeshing/flowcard/internal/ports"
)

// EnvPrefix namespaces environment overrides: FLOWCARD_WORKFLOW_BASE_URL
// overrides workflow.base_url.
const EnvPrefix = "FLOWCARD"

// envKeys lists every setting an environment variable may override, including
// keys the config file leaves out.
var envKeys = []string{
	"workflow.base_url",
	"workflow.bot_id",
	"workflow.token_env_var",
	"workflow.request_timeout",
	"workflow.poll_interval",
	"workflow.max_poll_attempts",
	"catalog.url",
	"catalog.file",
	"catalog.ttl",
	"catalog.sync_cooldown",
	"catalog.sync_interval",
	"history.max_items",
	"history.cleanup_keep",
	"history.stats_ttl",
	"cache.default_ttl",
	"storage.backend",
	"storage.dir",
	"storage.quota_bytes",
	"log.level",
	"log.format",
	"notify.mqtt_broker",
	"notify.topic_prefix",
	"notify.client_id",
	"server.addr",
}

// FileLoader loads YAML configuration from ~/.flowcard/config.yaml
// (overridable via FLOWCARD_CONFIG) with FLOWCARD_* environment overrides.
type FileLoader struct {
	overridePath string
}

// NewFileLoader builds a new loader.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{overridePath: path}
}

// Load implements ports.ConfigProvider.
func (l *FileLoader) Load(context.Context) (domain.Config, error) {
	path := l.resolvePath()
	if _, err := filesystem.WriteIfMissing(path, assets.DefaultConfigYAML, domain.SecureFilePermissions); err != nil {
		return domain.Config{}, fmt.Errorf("write default config: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return domain.Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return domain.Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return domain.Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return hydrateDefaults(cfg), nil
}

func (l *FileLoader) resolvePath() string {
	if l.overridePath != "" {
		return filesystem.ExpandPath(l.overridePath)
	}
	if custom := os.Getenv("FLOWCARD_CONFIG"); custom != "" {
		return filesystem.ExpandPath(custom)
	}
	return filepath.Join(filesystem.UserHomeDir(), ".flowcard", "config.yaml")
}

// Path returns the resolved config file path.
func (l *FileLoader) Path() string {
	return l.resolvePath()
}

// Save writes the given config back to disk.
func (l *FileLoader) Save(cfg domain.Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	path := l.resolvePath()
	if err := os.MkdirAll(filepath.Dir(path), domain.DirectoryPermissions); err != nil {
		return err
	}
	return os.WriteFile(path, raw, domain.SecureFilePermissions)
}

// Reset overwrites the config with defaults and returns the default snapshot.
func (l *FileLoader) Reset() (domain.Config, error) {
	cfg, err := DefaultConfig()
	if err != nil {
		return domain.Config{}, err
	}
	if err := l.Save(cfg); err != nil {
		return domain.Config{}, err
	}
	return cfg, nil
}

// Backup copies the current config file to a timestamped backup.
func (l *FileLoader) Backup() (string, error) {
	path := l.resolvePath()
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	backup := fmt.Sprintf("%s.%s.bak", path, time.Now().Format("20060102T150405"))
	if err := os.WriteFile(backup, data, domain.SecureFilePermissions); err != nil {
		return "", err
	}
	return backup, nil
}

// DefaultConfig returns the embedded bootstrap configuration.
func DefaultConfig() (domain.Config, error) {
	var cfg domain.Config
	if err := yaml.Unmarshal(assets.DefaultConfigYAML, &cfg); err != nil {
		return domain.Config{}, fmt.Errorf("embedded default config: %w", err)
	}
	return hydrateDefaults(cfg), nil
}

func hydrateDefaults(cfg domain.Config) domain.Config {
	if cfg.ConfigFormatVersion == "" {
		cfg.ConfigFormatVersion = "1"
	}
	if cfg.Workflow.BaseURL == "" {
		cfg.Workflow.BaseURL = domain.DefaultBaseURL
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = domain.DefaultStorageBackend
	}
	if cfg.Storage.QuotaBytes == 0 {
		cfg.Storage.QuotaBytes = domain.DefaultQuotaBytes
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.DebugEnabled() {
		cfg.Log.Level = "debug"
	}
	return cfg
}

var _ ports.ConfigProvider = (*FileLoader)(nil)
