package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/flowcard/assets"
	"github.com/doeshing/flowcard/internal/domain"
)

func TestLoadWritesDefaultOnFirstRun(t *testing.T) {
	t.Setenv("FLOWCARD_DEBUG", "")
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	loader := NewFileLoader(path)

	cfg, err := loader.Load(context.Background())
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, assets.DefaultConfigYAML, raw)

	assert.Equal(t, domain.DefaultBaseURL, cfg.Workflow.BaseURL)
	assert.Equal(t, 90, cfg.MaxPollAttempts())
	assert.Equal(t, "bolt", cfg.StorageBackend())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, path, loader.Path())
}

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	t.Setenv("FLOWCARD_DEBUG", "")
	t.Setenv("FLOWCARD_WORKFLOW_MAX_POLL_ATTEMPTS", "7")
	t.Setenv("FLOWCARD_WORKFLOW_BOT_ID", "bot-9")
	t.Setenv("FLOWCARD_STORAGE_BACKEND", "sqlite")

	cfg, err := NewFileLoader(filepath.Join(t.TempDir(), "config.yaml")).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Workflow.MaxPollAttempts)
	assert.Equal(t, "bot-9", cfg.Workflow.BotID)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
}

func TestLoadHonoursConfigEnvPath(t *testing.T) {
	t.Setenv("FLOWCARD_DEBUG", "")
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workflow:\n  base_url: http://localhost:9000\n"), 0o600))
	t.Setenv("FLOWCARD_CONFIG", path)

	cfg, err := NewFileLoader("").Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", cfg.Workflow.BaseURL)
	assert.Equal(t, "bolt", cfg.Storage.Backend)
	assert.EqualValues(t, domain.DefaultQuotaBytes, cfg.Storage.QuotaBytes)
}

func TestDebugEnvForcesDebugLevel(t *testing.T) {
	t.Setenv("FLOWCARD_DEBUG", "1")
	cfg, err := NewFileLoader(filepath.Join(t.TempDir(), "config.yaml")).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestSaveResetBackup(t *testing.T) {
	t.Setenv("FLOWCARD_DEBUG", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	loader := NewFileLoader(path)
	ctx := context.Background()

	cfg, err := loader.Load(ctx)
	require.NoError(t, err)
	cfg.Workflow.PollInterval = "5s"
	require.NoError(t, loader.Save(cfg))

	reloaded, err := loader.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "5s", reloaded.Workflow.PollInterval)

	backup, err := loader.Backup()
	require.NoError(t, err)
	assert.FileExists(t, backup)

	def, err := loader.Reset()
	require.NoError(t, err)
	assert.Equal(t, "2s", def.Workflow.PollInterval)
	reloaded, err = loader.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2s", reloaded.Workflow.PollInterval)
}
