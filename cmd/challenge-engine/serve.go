package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/terra-clan/challenge-engine/internal/api"
	"github.com/terra-clan/challenge-engine/internal/backfill"
	"github.com/terra-clan/challenge-engine/internal/storage"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the statistics backfill worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			logger.Infow("starting challenge-engine",
				"host", cfg.Server.Host,
				"port", cfg.Server.Port,
				"memory", inMemory,
			)

			initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer initCancel()

			if !inMemory {
				logger.Infow("running database migrations", "override_dir", cfg.Database.MigrationsDir)
				if err := storage.MigrateFromDSN(initCtx, cfg.Database.DSN, cfg.Database.MigrationsDir, logger); err != nil {
					return err
				}
			}

			a, err := newApp(initCtx, cfg, logger, inMemory)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Errorw("failed to close services", "error", err)
				}
			}()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if cfg.Backfill.Enabled {
				backfill.NewWorker(a.stats, a.catalog, cfg.Backfill.Interval, logger).Start(ctx)
			}

			server := api.NewServer(cfg.Server, a.engine, a.stats, a.events, a.registry, a.repo, logger)
			httpServer := &http.Server{
				Addr:        cfg.Addr(),
				Handler:     server.Router(),
				ReadTimeout: 15 * time.Second,
				// builds may take the whole request timeout
				WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
				IdleTimeout:  60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Infow("HTTP server starting", "addr", httpServer.Addr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			select {
			case <-quit:
				logger.Info("shutting down gracefully...")
			case err := <-errCh:
				logger.Errorw("HTTP server error", "error", err)
				return err
			}

			// Stop background workers
			cancel()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Errorw("HTTP server shutdown error", "error", err)
			}

			logger.Info("challenge-engine stopped")
			return nil
		},
	}
}
