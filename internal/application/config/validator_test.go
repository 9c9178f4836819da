package config

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/flowcard/internal/domain"
)

func validConfig() domain.Config {
	return domain.Config{
		ConfigFormatVersion: "1",
		Workflow: domain.WorkflowSettings{
			BaseURL:         "https://api.example.com/v1",
			RequestTimeout:  "30s",
			PollInterval:    "2s",
			MaxPollAttempts: 90,
		},
		Catalog: domain.CatalogSettings{File: "~/.flowcard/cards.yaml", TTL: "10m"},
		Storage: domain.StorageSettings{Backend: "bolt"},
		Log:     domain.LogSettings{Level: "info", Format: "console"},
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidateReportsFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.Config)
		want   string
	}{
		{"bad duration", func(c *domain.Config) { c.Workflow.PollInterval = "soon" }, "workflow.poll_interval must be a positive duration"},
		{"negative duration", func(c *domain.Config) { c.Catalog.TTL = "-1m" }, "catalog.ttl must be a positive duration"},
		{"bad url", func(c *domain.Config) { c.Workflow.BaseURL = "not a url" }, "workflow.base_url must be a URL"},
		{"missing url", func(c *domain.Config) { c.Workflow.BaseURL = "" }, "workflow.base_url is required"},
		{"unknown backend", func(c *domain.Config) { c.Storage.Backend = "redis" }, "storage.backend must be one of"},
		{"negative attempts", func(c *domain.Config) { c.Workflow.MaxPollAttempts = -1 }, "workflow.max_poll_attempts must be >= 0"},
		{"no catalog", func(c *domain.Config) { c.Catalog.File = "" }, "catalog.url or catalog.file"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestDiff(t *testing.T) {
	a := validConfig()
	b := validConfig()
	assert.Empty(t, Diff(a, b))

	b.Workflow.PollInterval = "5s"
	diff := Diff(a, b)
	assert.Contains(t, diff, "2s")
	assert.Contains(t, diff, "5s")
}

type stubProvider struct {
	cfg domain.Config
	err error
}

func (s stubProvider) Load(context.Context) (domain.Config, error) { return s.cfg, s.err }

func TestValidatedProvider(t *testing.T) {
	ctx := context.Background()

	cfg, err := ValidatedProvider{Inner: stubProvider{cfg: validConfig()}}.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bolt", cfg.Storage.Backend)

	bad := validConfig()
	bad.Log.Level = "loud"
	_, err = ValidatedProvider{Inner: stubProvider{cfg: bad}}.Load(ctx)
	assert.ErrorContains(t, err, "log.level")

	boom := errors.New("unreadable")
	_, err = ValidatedProvider{Inner: stubProvider{err: boom}}.Load(ctx)
	assert.ErrorIs(t, err, boom)
}
