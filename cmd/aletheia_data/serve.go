package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/italolelis/aletheia_data/internal/cleanup"
	"github.com/italolelis/aletheia_data/internal/http/rest"
	"github.com/italolelis/aletheia_data/internal/logctx"
	"github.com/italolelis/aletheia_data/internal/telemetry"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the cache over HTTP and prune it periodically",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	if err := a.setupTelemetry(ctx); err != nil {
		return err
	}

	// =========================================================================
	// Start Cache
	c, err := a.openCache(ctx)
	if err != nil {
		return err
	}

	// =========================================================================
	// Start Cleanup
	pruner := &cleanup.Pruner{
		Root:           c.Path(),
		Registry:       c.Registry(),
		KeepTempFor:    a.cfg.KeepTempFor,
		KeepHistoryFor: a.cfg.KeepHistoryFor,
		Ledger:         a.ledger,
		Telemetry:      a.telemetry,
	}
	pruner.Start(ctx, a.cfg.CleanupInterval)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := a.setupServer(ctx, rest.NewFilesHandler(c, a.ledger, a.cfg.Web.Username, a.cfg.Web.Password, a.telemetry))

	go func() {
		logger.Info("initializing API support", "host", a.cfg.Web.BindAddress, "cache_dir", c.Path())
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

// setupServer mounts the cache API next to the health and metrics endpoints.
func (a *app) setupServer(ctx context.Context, files *rest.FilesHandler) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(a.telemetry).Middleware)

	r.Get("/healthz", rest.HandleHealth)
	r.Handle("/metrics", a.telemetry.Handler())
	r.Mount("/", files.Routes())

	return &http.Server{
		Addr:         a.cfg.Web.BindAddress,
		ReadTimeout:  a.cfg.Web.ReadTimeout,
		WriteTimeout: a.cfg.Web.WriteTimeout,
		IdleTimeout:  a.cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "aletheia_data"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
