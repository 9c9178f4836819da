package doctor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/infrastructure/credentials"
	"github.com/doeshing/flowcard/internal/infrastructure/storage"
)

type stubConfig struct {
	cfg domain.Config
	err error
}

func (s stubConfig) Load(context.Context) (domain.Config, error) { return s.cfg, s.err }

type stubCards []domain.Card

func (s stubCards) ListCards(context.Context) ([]domain.Card, error) { return s, nil }

func statusByName(report domain.HealthReport) map[string]domain.HealthStatus {
	out := make(map[string]domain.HealthStatus, len(report.Checks))
	for _, c := range report.Checks {
		out[c.Name] = c.Status
	}
	return out
}

func TestDoctorAllGreen(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer remote.Close()

	cfg := domain.Config{ConfigFormatVersion: "1", Workflow: domain.WorkflowSettings{BaseURL: remote.URL}, Storage: domain.StorageSettings{Backend: "memory", QuotaBytes: 1 << 20}}
	kv := storage.NewMemoryStore()
	svc := &Service{
		ConfigProvider: stubConfig{cfg: cfg},
		Credentials:    credentials.Static("tok"),
		Storage:        kv,
		Cards:          stubCards{{ID: "a", Title: "A", WorkflowID: "wf"}},
	}

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Healthy())
	statuses := statusByName(report)
	assert.Equal(t, domain.HealthOK, statuses["Config file"])
	assert.Equal(t, domain.HealthOK, statuses["Credential"])
	assert.Equal(t, domain.HealthOK, statuses["Storage (memory)"])
	assert.Equal(t, domain.HealthOK, statuses["Card catalog"])
	assert.Equal(t, domain.HealthOK, statuses["Workflow API"])

	_, found, err := kv.Get(context.Background(), probeKey)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDoctorReportsProblems(t *testing.T) {
	ctx := context.Background()
	full, err := storage.NewQuotaStore(ctx, storage.NewMemoryStore(), 4)
	require.NoError(t, err)

	cfg := domain.Config{Workflow: domain.WorkflowSettings{BaseURL: "http://127.0.0.1:1"}}
	svc := &Service{
		ConfigProvider: stubConfig{cfg: cfg},
		Credentials:    credentials.Static(""),
		Storage:        full,
		Cards:          stubCards{},
	}

	report, err := svc.Run(ctx)
	require.NoError(t, err)
	assert.False(t, report.Healthy())
	statuses := statusByName(report)
	assert.Equal(t, domain.HealthWarn, statuses["Credential"])
	assert.Equal(t, domain.HealthError, statuses["Storage (bolt)"])
	assert.Equal(t, domain.HealthWarn, statuses["Card catalog"])
	assert.Equal(t, domain.HealthWarn, statuses["Workflow API"])
}

func TestDoctorStopsOnConfigError(t *testing.T) {
	boom := errors.New("bad yaml")
	report, err := (&Service{ConfigProvider: stubConfig{err: boom}}).Run(context.Background())
	assert.ErrorIs(t, err, boom)
	require.Len(t, report.Checks, 1)
	assert.Equal(t, domain.HealthError, report.Checks[0].Status)
}
