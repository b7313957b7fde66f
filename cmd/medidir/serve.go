// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/medidir/medidir/internal/config"
	"github.com/medidir/medidir/internal/observability"
	"github.com/medidir/medidir/pkg/errutil"
)

type serveOptions struct {
	migrate bool
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the sign-in and account API, the browser redirect flows, the
metrics and health listener, and the periodic sweep of expired sessions
and tokens.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts, nil)
		},
	}

	cmd.Flags().BoolVar(&opts.migrate, "migrate", false, "apply pending database migrations before serving")

	return cmd
}

func runServe(cmd *cobra.Command, opts *serveOptions, deps *Deps) error {
	deps = deps.withDefaults()
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if opts.migrate {
		if err := migrateUp(cfg, deps, logger); err != nil {
			return err
		}
	}

	st, err := deps.StorageOpener(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	svc, err := newServices(cfg, st, logger)
	if err != nil {
		return err
	}

	registry := observability.NewRegistry()
	metrics := observability.NewMetrics(registry)

	handler, err := newWebHandler(cfg, svc, deps.MailerFactory(cfg, logger), metrics, logger)
	if err != nil {
		return err
	}

	var obsServer *observability.Server
	if cfg.Server.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.Server.MetricsAddr, registry, metrics, st.Ping)
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Server.MetricsAddr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	listener, err := deps.ListenerFactory("tcp", cfg.Server.Addr)
	if err != nil {
		stopObservability(obsServer, cfg, logger)
		return oops.Code("LISTEN_FAILED").With("addr", cfg.Server.Addr).Wrap(err)
	}

	httpServer := &http.Server{
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErrCh := make(chan error, 1)
	go func() {
		defer close(httpErrCh)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- oops.Code("HTTP_SERVE_FAILED").Wrap(err)
		}
	}()

	go runSweeper(ctx, cfg.SweepInterval(), svc, metrics, logger)

	logger.Info("medidir started",
		"addr", listener.Addr().String(),
		"public_url", cfg.Server.PublicURL,
		"version", version,
	)

	var serveErr error
	select {
	case <-ctx.Done():
	case err, ok := <-httpErrCh:
		if ok {
			errutil.LogError(logger, "http server failed", err)
			serveErr = err
		}
		cancel()
	}
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer shutdownCancel()

	var shutdownErr error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errutil.LogError(logger, "http server shutdown failed", err)
		shutdownErr = oops.Code("SHUTDOWN_FAILED").With("server", "http").Wrap(err)
	}
	stopObservability(obsServer, cfg, logger)

	logger.Info("medidir stopped")
	if serveErr != nil {
		return serveErr
	}
	return shutdownErr
}

// stopObservability stops server when it is running.
func stopObservability(server *observability.Server, cfg *config.Config, logger *slog.Logger) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		errutil.LogError(logger, "observability server shutdown failed", err)
	}
}

// monitorServerErrors cancels ctx when a server reports an error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
