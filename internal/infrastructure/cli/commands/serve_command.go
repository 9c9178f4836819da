package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/doeshing/flowcard/internal/app"
	"github.com/doeshing/flowcard/internal/infrastructure/httpapi"
)

type serveOptions struct {
	addr         string
	allowOrigins []string
	noSync       bool
}

// NewServeCommand creates the serve command: the HTTP API, Prometheus
// metrics and the background catalog refresh in one process.
func NewServeCommand(container *app.Container) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and keep the card catalog fresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cmd, container, opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (default from config server.addr)")
	cmd.Flags().StringSliceVar(&opts.allowOrigins, "allow-origin", nil, "CORS origins allowed to call the API (default any)")
	cmd.Flags().BoolVar(&opts.noSync, "no-sync", false, "Disable the background catalog refresh")
	return cmd
}

func runServer(ctx context.Context, cmd *cobra.Command, container *app.Container, opts serveOptions) error {
	if container.Executor == nil || container.Catalog == nil {
		return errors.New(ErrExecutorUnavailable)
	}
	cfg := container.Config
	addr := opts.addr
	if addr == "" {
		addr = cfg.ServerAddr()
	}
	if !cfg.DebugEnabled() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := httpapi.NewRouter(httpapi.Handlers{
		Executor:     container.Executor,
		Catalog:      container.Catalog,
		History:      container.HistoryStore,
		Gatherer:     container.Metrics.Registry(),
		Logger:       container.Logger.With("http"),
		AllowOrigins: opts.allowOrigins,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	if !opts.noSync {
		wg.Add(1)
		go func() {
			defer wg.Done()
			container.Catalog.RunSync(ctx, cfg.SyncInterval())
		}()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Serving flowcard API on %s\n", addr)
	err := httpapi.Serve(ctx, addr, router, container.Logger.With("http"))
	// Serve also returns early on a listen error; the refresher must stop then too.
	cancel()
	wg.Wait()
	return err
}
