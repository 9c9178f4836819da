// Package ports defines the interfaces (ports) for the hexagonal architecture.
//
// This package establishes the contract between the application core and external
// adapters (infrastructure). Following the Ports and Adapters (Hexagonal) pattern,
// these interfaces allow the orchestrator to remain independent of specific
// implementations like storage engines, HTTP clients, or message brokers.
//
// Key architectural concepts:
//   - Ports: Interfaces defined here (e.g., WorkflowClient, HistoryStore)
//   - Adapters: Concrete implementations in the infrastructure layer
//   - Dependency inversion: Application depends on abstractions, not implementations
package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/doeshing/flowcard/internal/domain"
)

// ConfigProvider loads the latest configuration from persistent storage.
// Implementations typically read from ~/.flowcard/config.yaml.
type ConfigProvider interface {
	Load(context.Context) (domain.Config, error)
}

// KeyValueStore is local persistent storage: string slots holding bytes.
// Writes that would exceed the storage budget fail with domain.ErrStorageFull.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// CredentialSource resolves the bearer token for remote calls.
// An empty token with a nil error means no credential is available.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)
}

// PollOptions tune one PollUntilTerminal loop.
type PollOptions struct {
	MaxAttempts int
	Interval    time.Duration
	OnProgress  domain.ProgressFunc
}

// WorkflowClient submits one remote job and drives it to a terminal state.
type WorkflowClient interface {
	Run(ctx context.Context, req domain.ExecutionRequest) (domain.ExecutionResult, error)
	Poll(ctx context.Context, executionID string) (domain.ExecutionResult, error)
	PollUntilTerminal(ctx context.Context, executionID string, opts PollOptions) (domain.ExecutionResult, error)
}

// HistoryStore is the durable record of execution attempts.
type HistoryStore interface {
	Create(ctx context.Context, item domain.NewHistoryItem) (string, error)
	Update(ctx context.Context, id string, patch domain.HistoryPatch) (bool, error)
	Get(ctx context.Context, id string) (domain.HistoryItem, bool, error)
	Query(ctx context.Context, q domain.HistoryQuery) ([]domain.HistoryItem, error)
	Stats(ctx context.Context, cardID string) (domain.HistoryStats, error)
	DeleteMany(ctx context.Context, ids []string) (int, error)
	ClearAll(ctx context.Context) error
	ExportAll(ctx context.Context, cardID string) ([]byte, error)
	ImportAll(ctx context.Context, data []byte, merge bool) (int, error)
}

// CacheStore is the two-tier expiring cache. Values are stored JSON-encoded;
// a cached JSON null is still a hit.
type CacheStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (json.RawMessage, bool)
	Has(ctx context.Context, key string) bool
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
}

// CardSource lists the catalog. It is the external list API behind the
// cached card view.
type CardSource interface {
	ListCards(ctx context.Context) ([]domain.Card, error)
}

// Notifier publishes change notifications to interested views.
type Notifier interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Metrics records orchestrator activity. A nil Metrics is never passed;
// use metrics.Nop() when recording is not wanted.
type Metrics interface {
	CacheHit(tier string)
	CacheMiss()
	CacheExpired()
	CacheWriteFailed()
	PollAttempt()
	ExecutionFinished(status domain.ExecutionStatus, kind domain.ErrorKind, elapsed time.Duration)
	HistorySize(n int)
}

// Logger provides structured logging abstraction for the application layer.
// Implementations can route to different backends (stdout, files, external services).
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
}
