package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
	ragdhttp "github.com/fyrsmithlabs/ragd/internal/http"
)

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the ragd HTTP server. When queue.enabled is set the process also
consumes asynchronous ingestion tasks from Redis.

Examples:
  # Start with defaults (memory storage, no providers)
  ragd serve

  # Gemini for embeddings and generation
  RAGD_EMBEDDINGS_PROVIDER=gemini RAGD_GENERATION_PROVIDER=gemini \
  GEMINI_API_KEY=... ragd serve --port 9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override server.http_port")
	return cmd
}

// runServe blocks until ctx is cancelled or the server fails, then shuts
// everything down within server.shutdown_timeout.
func runServe(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing: %w", err)
	}

	srv, err := ragdhttp.NewServer(a.core, a.logger, &ragdhttp.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		MaxUploadMB: cfg.Server.MaxUploadMB,
		UploadDir:   cfg.Server.UploadDir,
	}, ragdhttp.WithTelemetry(a.telemetry), ragdhttp.WithVersion(version))
	if err != nil {
		a.Close(context.Background())
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	workerCtx, stopWorker := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	if a.worker != nil {
		go func() {
			defer close(workerDone)
			if err := a.worker.Run(workerCtx); err != nil {
				errCh <- err
			}
		}()
	} else {
		close(workerDone)
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info(context.Background(), "shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error(context.Background(), "server stopped", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn(shutdownCtx, "http shutdown incomplete", zap.Error(err))
	}
	stopWorker()
	<-workerDone
	if err := a.Close(shutdownCtx); err != nil {
		a.logger.Warn(shutdownCtx, "releasing resources failed", zap.Error(err))
	}
	return runErr
}
