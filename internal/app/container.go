package app

import (
	"context"
	"errors"
	"net/http"

	"github.com/doeshing/flowcard/assets"
	"github.com/doeshing/flowcard/internal/application/catalog"
	configapp "github.com/doeshing/flowcard/internal/application/config"
	"github.com/doeshing/flowcard/internal/application/doctor"
	"github.com/doeshing/flowcard/internal/application/execution"
	"github.com/doeshing/flowcard/internal/domain"
	"github.com/doeshing/flowcard/internal/infrastructure/cache"
	"github.com/doeshing/flowcard/internal/infrastructure/cards"
	"github.com/doeshing/flowcard/internal/infrastructure/config"
	"github.com/doeshing/flowcard/internal/infrastructure/credentials"
	"github.com/doeshing/flowcard/internal/infrastructure/history"
	"github.com/doeshing/flowcard/internal/infrastructure/metrics"
	"github.com/doeshing/flowcard/internal/infrastructure/notify"
	"github.com/doeshing/flowcard/internal/infrastructure/storage"
	"github.com/doeshing/flowcard/internal/infrastructure/workflow"
	"github.com/doeshing/flowcard/internal/pkg/filesystem"
	"github.com/doeshing/flowcard/internal/pkg/logger"
	"github.com/doeshing/flowcard/internal/ports"
)

// Options controls how the container is assembled.
type Options struct {
	Verbose bool
	// ConfigPath overrides the config file location; empty means the default.
	ConfigPath string
	// Storage replaces the configured backend. Used by tests.
	Storage ports.KeyValueStore
}

// Container wires up application services with infrastructure adapters.
type Container struct {
	Config         domain.Config
	ConfigProvider ports.ConfigProvider
	ConfigLoader   *config.FileLoader
	Logger         *logger.Logger
	Metrics        *metrics.Recorder
	Storage        ports.KeyValueStore
	CacheStore     *cache.Store
	HistoryStore   *history.Store
	Credentials    ports.CredentialSource
	Workflow       *workflow.Client
	Cards          ports.CardSource
	Notifier       ports.Notifier
	Executor       *execution.Service
	Catalog        *catalog.Service
	DoctorService  *doctor.Service

	closers []func() error
}

// BuildContainer constructs the dependency graph. The raw config is used for
// wiring so that `config` subcommands still work on an invalid file; the
// services themselves load through the validating provider.
func BuildContainer(ctx context.Context, opts Options) (*Container, error) {
	cfgLoader := config.NewFileLoader(opts.ConfigPath)
	cfg, err := cfgLoader.Load(ctx)
	if err != nil {
		return nil, err
	}
	provider := configapp.ValidatedProvider{Inner: cfgLoader}

	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	log := logger.New(logger.Options{Level: level, Format: cfg.Log.Format})

	c := &Container{
		Config:         cfg,
		ConfigProvider: provider,
		ConfigLoader:   cfgLoader,
		Logger:         log,
		Metrics:        metrics.NewRecorder(),
	}

	home := filesystem.UserHomeDir()
	kv := opts.Storage
	if kv == nil {
		kv, err = storage.Open(ctx, cfg.StorageBackend(), cfg.StorageDir(home), storage.DefaultQuota(cfg.Storage.QuotaBytes))
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, kv.Close)
	}
	c.Storage = kv

	c.CacheStore = cache.New(kv, cache.Options{
		DefaultTTL: cfg.CacheTTL(),
		Metrics:    c.Metrics,
		Logger:     log.With("cache"),
	})
	c.HistoryStore = history.New(kv, history.Options{
		MaxItems:    cfg.MaxHistoryItems(),
		CleanupKeep: cfg.HistoryCleanupKeep(),
		Metrics:     c.Metrics,
		Logger:      log.With("history"),
	})

	c.Credentials = credentials.Env{Var: cfg.TokenEnvVar()}
	httpClient := &http.Client{}
	c.Workflow = workflow.New(workflow.Config{
		BaseURL:        cfg.Workflow.BaseURL,
		BotID:          cfg.Workflow.BotID,
		RequestTimeout: cfg.RequestTimeout(),
		HTTPClient:     httpClient,
		Credentials:    c.Credentials,
		Metrics:        c.Metrics,
		Logger:         log.With("workflow"),
	})

	c.Cards, err = buildCardSource(cfg, home, httpClient, c.Credentials, log)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Notifier = c.buildNotifier(cfg, log)

	c.Executor = &execution.Service{
		ConfigProvider: provider,
		Client:         c.Workflow,
		History:        c.HistoryStore,
		Cache:          c.CacheStore,
		Notifier:       c.Notifier,
		Metrics:        c.Metrics,
		Logger:         log.With("execution"),
	}
	c.Catalog = catalog.NewService(c.Cards, c.CacheStore, catalog.Options{
		TTL:      cfg.CatalogTTL(),
		Cooldown: cfg.SyncCooldown(),
		Notifier: c.Notifier,
		Logger:   log.With("catalog"),
	})
	c.DoctorService = &doctor.Service{
		ConfigProvider: provider,
		Credentials:    c.Credentials,
		Storage:        kv,
		Cards:          c.Cards,
		HTTPClient:     httpClient,
	}
	return c, nil
}

// Close releases the storage handle and the broker connection.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func buildCardSource(cfg domain.Config, home string, httpClient *http.Client, creds ports.CredentialSource, log *logger.Logger) (ports.CardSource, error) {
	if cfg.Catalog.URL != "" {
		return &cards.HTTPSource{
			BaseURL:     cfg.Catalog.URL,
			Timeout:     cfg.RequestTimeout(),
			HTTPClient:  httpClient,
			Credentials: creds,
			Logger:      log.With("cards"),
		}, nil
	}
	path := cfg.CatalogFile(home)
	if _, err := filesystem.WriteIfMissing(path, assets.SampleCardsYAML, domain.SecureFilePermissions); err != nil {
		return nil, err
	}
	return &cards.FileSource{Path: path, Logger: log.With("cards")}, nil
}

// buildNotifier always logs events; with a broker configured they are also
// published over MQTT. A broker that cannot be reached is logged, not fatal.
func (c *Container) buildNotifier(cfg domain.Config, log *logger.Logger) ports.Notifier {
	logNotifier := notify.Log{Logger: log.With("events")}
	if !cfg.NotificationsEnabled() {
		return logNotifier
	}
	broker, err := notify.DialMQTT(cfg.Notify, log.With("mqtt"))
	if err != nil {
		log.Warn("mqtt notifications disabled", map[string]interface{}{
			"broker": cfg.Notify.MQTTBroker,
			"error":  err.Error(),
		})
		return logNotifier
	}
	c.closers = append(c.closers, func() error {
		broker.Close()
		return nil
	})
	return notify.Fanout{logNotifier, broker}
}
