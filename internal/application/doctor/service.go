package doctor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/ports"
)

const probeKey = "doctor:probe"

// Service runs environment diagnostics.
type Service struct {
	ConfigProvider ports.ConfigProvider
	Credentials    ports.CredentialSource
	Storage        ports.KeyValueStore
	Cards          ports.CardSource
	HTTPClient     *http.Client
}

// Run executes checks and returns a report.
func (s *Service) Run(ctx context.Context) (domain.HealthReport, error) {
	var checks []domain.HealthCheck

	cfg, err := s.ConfigProvider.Load(ctx)
	if err != nil {
		checks = append(checks, fail("Config file", fmt.Sprintf("load failed: %v", err)))
		return domain.HealthReport{Checks: checks}, err
	}
	checks = append(checks, ok("Config file", fmt.Sprintf("format %s, %d polls every %s", cfg.ConfigFormatVersion, cfg.MaxPollAttempts(), cfg.PollInterval())))

	checks = append(checks, s.credentialCheck(ctx, cfg))

	if s.Storage != nil {
		checks = append(checks, s.storageCheck(ctx, cfg))
	} else {
		checks = append(checks, warn("Storage", "storage not initialized"))
	}

	if s.Cards != nil {
		if cards, err := s.Cards.ListCards(ctx); err != nil {
			checks = append(checks, warn("Card catalog", err.Error()))
		} else if len(cards) == 0 {
			checks = append(checks, warn("Card catalog", "no cards defined"))
		} else {
			checks = append(checks, ok("Card catalog", fmt.Sprintf("%d cards", len(cards))))
		}
	}

	checks = append(checks, s.remoteCheck(ctx, cfg))

	return domain.HealthReport{Checks: checks}, nil
}

func (s *Service) credentialCheck(ctx context.Context, cfg domain.Config) domain.HealthCheck {
	if s.Credentials == nil {
		return warn("Credential", "no credential source")
	}
	token, err := s.Credentials.Token(ctx)
	switch {
	case err != nil:
		return fail("Credential", err.Error())
	case token == "":
		return warn("Credential", cfg.TokenEnvVar()+" missing")
	default:
		return ok("Credential", "token available")
	}
}

func (s *Service) storageCheck(ctx context.Context, cfg domain.Config) domain.HealthCheck {
	name := "Storage (" + cfg.StorageBackend() + ")"
	if err := s.Storage.Set(ctx, probeKey, []byte("ok")); err != nil {
		return fail(name, fmt.Sprintf("write failed: %v", err))
	}
	if _, found, err := s.Storage.Get(ctx, probeKey); err != nil || !found {
		return fail(name, "read back failed")
	}
	if err := s.Storage.Delete(ctx, probeKey); err != nil {
		return warn(name, fmt.Sprintf("cleanup failed: %v", err))
	}
	return ok(name, "writable, quota "+humanize.IBytes(uint64(cfg.Storage.QuotaBytes)))
}

// remoteCheck treats any HTTP answer as reachable; only transport errors warn.
func (s *Service) remoteCheck(ctx context.Context, cfg domain.Config) domain.HealthCheck {
	client := s.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, cfg.Workflow.BaseURL, nil)
	if err != nil {
		return fail("Workflow API", err.Error())
	}
	resp, err := client.Do(req)
	if err != nil {
		return warn("Workflow API", fmt.Sprintf("%s unreachable: %v", cfg.Workflow.BaseURL, err))
	}
	resp.Body.Close()
	return ok("Workflow API", fmt.Sprintf("%s answered %d", cfg.Workflow.BaseURL, resp.StatusCode))
}

func ok(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthOK, Details: details}
}

func warn(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthWarn, Details: details}
}

func fail(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthError, Details: details}
}
