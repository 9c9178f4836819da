package domain_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/doeshing/flowcard/internal/domain"
)

// TestConfig_Durations tests duration parsing with fallbacks
func TestConfig_Durations(t *testing.T) {
	tests := []struct {
		name         string
		config       domain.Config
		wantTimeout  time.Duration
		wantInterval time.Duration
		wantAttempts int
	}{
		{
			name:         "empty config uses defaults",
			config:       domain.Config{},
			wantTimeout:  domain.DefaultRequestTimeout,
			wantInterval: domain.DefaultPollInterval,
			wantAttempts: domain.DefaultMaxPollAttempts,
		},
		{
			name: "explicit values win",
			config: domain.Config{Workflow: domain.WorkflowSettings{
				RequestTimeout:  "5s",
				PollInterval:    "250ms",
				MaxPollAttempts: 3,
			}},
			wantTimeout:  5 * time.Second,
			wantInterval: 250 * time.Millisecond,
			wantAttempts: 3,
		},
		{
			name: "unparseable and negative values fall back",
			config: domain.Config{Workflow: domain.WorkflowSettings{
				RequestTimeout:  "soon",
				PollInterval:    "-1s",
				MaxPollAttempts: -4,
			}},
			wantTimeout:  domain.DefaultRequestTimeout,
			wantInterval: domain.DefaultPollInterval,
			wantAttempts: domain.DefaultMaxPollAttempts,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantTimeout, tt.config.RequestTimeout())
			assert.Equal(t, tt.wantInterval, tt.config.PollInterval())
			assert.Equal(t, tt.wantAttempts, tt.config.MaxPollAttempts())
			assert.Equal(t, time.Duration(tt.wantAttempts)*tt.wantInterval, tt.config.PollBudget())
		})
	}
}

// TestConfig_HistoryCleanupKeep tests the cleanup bound never exceeds the cap
func TestConfig_HistoryCleanupKeep(t *testing.T) {
	cfg := domain.Config{History: domain.HistorySettings{MaxItems: 50, CleanupKeep: 80}}
	assert.Equal(t, 50, cfg.HistoryCleanupKeep())

	cfg = domain.Config{}
	assert.Equal(t, domain.DefaultMaxHistoryItems, cfg.MaxHistoryItems())
	assert.Equal(t, domain.DefaultHistoryCleanupKeep, cfg.HistoryCleanupKeep())
}

// TestConfig_Paths tests home expansion of storage paths
func TestConfig_Paths(t *testing.T) {
	home := filepath.FromSlash("/home/dev")

	cfg := domain.Config{}
	assert.Equal(t, filepath.Join(home, ".flowcard"), cfg.StorageDir(home))
	assert.Equal(t, filepath.Join(home, ".flowcard", "cards.yaml"), cfg.CatalogFile(home))

	cfg.Storage.Dir = "~/state"
	cfg.Catalog.File = "~/cards/list.yaml"
	assert.Equal(t, filepath.Join(home, "state"), cfg.StorageDir(home))
	assert.Equal(t, filepath.Join(home, "cards", "list.yaml"), cfg.CatalogFile(home))
}

// TestConfig_TopicPrefix tests slash normalization
func TestConfig_TopicPrefix(t *testing.T) {
	cfg := domain.Config{}
	assert.Equal(t, domain.DefaultTopicPrefix, cfg.TopicPrefix())

	cfg.Notify.TopicPrefix = "apps/flow"
	assert.Equal(t, "apps/flow/", cfg.TopicPrefix())
	assert.False(t, cfg.NotificationsEnabled())

	cfg.Notify.MQTTBroker = "tcp://localhost:1883"
	assert.True(t, cfg.NotificationsEnabled())
}
