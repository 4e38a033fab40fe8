/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the group ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (flags over environment)
  2. Configure logging
  3. Open the store selected by -db-driver
  4. Choose notification and settlement-code delivery
  5. Build the service, metrics registry and router
  6. Start server with graceful shutdown

CONFIGURATION:
  See config/config.go for every flag and environment variable.

DELIVERY:
  With -telegram-token, events are posted to -telegram-chat and settlement
  codes go to the creator's registered contact as a Telegram chat id.
  Without it, both are written to the log.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  JWT_SECRET=dev ./server -db="./data/ledger.db"

  # Run in memory with debug logs
  JWT_SECRET=dev ./server -db-driver=memory -log-level=debug

  # Run against PostgreSQL
  JWT_SECRET=dev DATABASE_URL=postgres://localhost/ledger ./server -db-driver=postgres

SEE ALSO:
  - config/config.go: Settings
  - api/server.go: Router configuration
  - service/service.go: Operations
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/warp/group-ledger/api"
	"github.com/warp/group-ledger/config"
	"github.com/warp/group-ledger/ledger"
	"github.com/warp/group-ledger/ledger/store"
	"github.com/warp/group-ledger/notify"
	"github.com/warp/group-ledger/pkg/logging"
	"github.com/warp/group-ledger/service"
	"github.com/warp/group-ledger/store/postgres"
	"github.com/warp/group-ledger/store/sqlite"
)

func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(2)
	}

	logger := logging.Setup(cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// backend is what a storage driver provides. The memory driver keeps its
// user directory in memory too.
type backend struct {
	repo      ledger.Repository
	directory service.Directory
	users     api.UserRegistry
	close     func()
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.DBDriver {
	case config.DriverMemory:
		users := store.NewUsers()
		return &backend{repo: store.NewMemory(), directory: users, users: users, close: func() {}}, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &backend{repo: s, directory: s, users: s, close: s.Close}, nil
	default:
		s, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return &backend{repo: s, directory: s, users: s, close: func() { s.Close() }}, nil
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// Initialize store
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize %s store: %w", cfg.DBDriver, err)
	}
	defer b.close()

	// Delivery
	var notifier service.Notifier = notify.NewLog(logger)
	var sender service.OTPSender = notify.NewLogOTP(logger)
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, logger)
		if err != nil {
			return err
		}
		notifier = notify.Fanout{notifier, tg}
		sender = tg
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithMetrics(service.NewMetrics(reg)),
		service.WithNotifier(notifier),
		service.WithOTPSender(sender),
		service.WithOTPTTL(cfg.OTPTTL),
		service.WithMaxWriteRetries(cfg.MaxWriteRetries),
	}
	if b.directory != nil {
		opts = append(opts, service.WithDirectory(b.directory))
	}
	svc := service.New(b.repo, opts...)

	// Create router
	router := api.NewRouter(api.NewHandler(svc, b.users), api.NewAuthenticator(cfg.JWTSecret), reg)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Addr(), "db_driver", cfg.DBDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
