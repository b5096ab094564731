/*
main.go - Application entry point

PURPOSE:
  Starts the rent engine: the HTTP API with its daily scan scheduler, a
  one-off scan, or a schema migration. Handles configuration, dependency
  injection, and graceful shutdown.

COMMANDS:
  serve              HTTP API + cron scan (default)
  scan [--date=D]    Run one notification scan and print its summary
  migrate            Create or update the schema, then exit

STARTUP SEQUENCE:
  1. Load configuration (.env + environment)
  2. Initialize logger
  3. Open the store and migrate
  4. Build finance.Service and notify.Pipeline
  5. Configure router and scheduler
  6. Start server with graceful shutdown

ENVIRONMENT:
  DATABASE_DRIVER  sqlite3 | postgres         (default sqlite3)
  DATABASE_URL     file path or postgres DSN   (default ./data/rent.db)
  HTTP_PORT, LOG_LEVEL, ENVIRONMENT, ALLOWED_ORIGINS
  SCAN_CRON, SCAN_BATCH_SIZE, STORE_TIMEOUT, DELIVERY_TIMEOUT,
  DELIVERY_RATE, DELIVERY_BURST, ACCRUAL_WORKERS, REMINDER_CATCH_UP,
  RUN_LEASE

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for a running scan)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

SEE ALSO:
  - config/config.go: environment variables and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warp/rent-engine/api"
	"github.com/warp/rent-engine/config"
	"github.com/warp/rent-engine/finance"
	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/logging"
	"github.com/warp/rent-engine/notify"
	"github.com/warp/rent-engine/store/sqlstore"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "rentengine",
		Short:        "Rental finance accrual and notification engine",
		SilenceUsage: true,
		RunE:         runServe,
	}
	rootCmd.AddCommand(serveCmd(), scanCmd(), migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the daily scan",
		RunE:  runServe,
	}
}

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one notification scan and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			date, _ := cmd.Flags().GetString("date")
			var ref *generic.Date
			if date != "" {
				d, err := generic.ParseDate(date)
				if err != nil {
					return err
				}
				ref = &d
			}

			app, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			sum, err := app.pipeline.RunScan(cmd.Context(), ref)
			if err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sum)
		},
	}
	cmd.Flags().String("date", "", "reference date (YYYY-MM-DD), defaults to today")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()
			app.log.Info("schema up to date")
			return nil
		},
	}
}

// =============================================================================
// WIRING
// =============================================================================

type application struct {
	cfg      *config.Config
	log      *logrus.Logger
	store    *sqlstore.Store
	finance  *finance.Service
	pipeline *notify.Pipeline
}

func setup(ctx context.Context) (*application, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logging.Init(cfg.LogLevel, cfg.Environment)

	if cfg.DatabaseDriver == sqlstore.DriverSQLite && !strings.HasPrefix(cfg.DatabaseURL, ":memory:") {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabaseURL), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	store, err := sqlstore.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}

	svc := finance.NewService(store, log.WithField("component", "finance"))
	svc.Workers = cfg.AccrualWorkers
	svc.Timeout = cfg.StoreTimeout

	pipeline := notify.NewPipeline(store, store, svc,
		notify.LogDeliverer{Log: log.WithField("component", "delivery")},
		cfg.Pipeline(), log.WithField("component", "notify"))

	return &application{cfg: cfg, log: log, store: store, finance: svc, pipeline: pipeline}, nil
}

func (a *application) close() {
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("failed to close store")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer app.close()

	handler := api.NewHandler(app.store, app.finance, app.pipeline, app.log.WithField("component", "api"))
	router := api.NewRouter(handler, app.cfg.AllowedOrigins)

	scheduler, err := api.NewScanScheduler(app.pipeline, app.cfg.ScanCron, app.log.WithField("component", "scheduler"))
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         ":" + app.cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		app.log.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	app.log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	app.log.Info("server stopped")
	return nil
}
