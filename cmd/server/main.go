/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the contract readjustment server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, config.toml, .env, REAJUSTE_* env vars)
  2. Parse command-line flags (override port and database)
  3. Open the store and build the engine
  4. Configure HTTP router and the early-warning scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port      HTTP server port (default: from config, 8080)
  -db        Database DSN; a file path for SQLite (":memory:" works)
  -driver    sqlite3 or postgres
  -scenario  Load a demo scenario at startup

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (http.shutdown_timeout)
  4. Close the store and lock connections

EXAMPLES:
  ./server -db="./data/reajuste.db"
  ./server -db=":memory:" -scenario=portfolio
  REAJUSTE_DATABASE_DRIVER=postgres REAJUSTE_DATABASE_DSN="postgres://..." ./server

SEE ALSO:
  - api/server.go: Router configuration
  - app/app.go: Component wiring
  - config/config.go: Configuration keys
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/terravista/lot-sales/api"
	"github.com/terravista/lot-sales/app"
	"github.com/terravista/lot-sales/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags
	port := flag.Int("port", cfg.App.Port, "HTTP server port")
	dsn := flag.String("db", cfg.Database.DSN, "Database DSN (SQLite path or postgres URL)")
	driver := flag.String("driver", cfg.Database.Driver, "Database driver: sqlite3 or postgres")
	scenario := flag.String("scenario", "", "Demo scenario to load at startup")
	flag.Parse()

	cfg.App.Port = *port
	cfg.Database.DSN = *dsn
	cfg.Database.Driver = *driver
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logr, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logr.Sync()

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("failed to initialize", zap.Error(err))
	}
	defer a.Close()

	handler := api.NewHandler(a.Store, a.Engine, logr.Named("http"))
	if *scenario != "" {
		if err := handler.LoadScenario(ctx, *scenario); err != nil {
			logr.Fatal("failed to load scenario", zap.String("scenario", *scenario), zap.Error(err))
		}
	}

	scheduler := api.NewEarlyWarningScheduler(a.Engine, logr)
	scheduler.CheckInterval = cfg.Scheduler.Interval
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.Metrics = handler.Metrics
	handler.Alerts = scheduler
	scheduler.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      api.NewRouter(handler, cfg.HTTP.CORSAllowOrigins),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logr.Info("server starting", zap.String("addr", server.Addr), zap.String("env", cfg.App.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Info("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Error("server forced to shutdown", zap.Error(err))
	}

	logr.Info("server stopped")
}
