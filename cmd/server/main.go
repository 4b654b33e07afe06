package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/shorelinestewards/rsvp-ledger/internal/config"
	"github.com/shorelinestewards/rsvp-ledger/internal/server"
	"github.com/shorelinestewards/rsvp-ledger/pkg/store/postgres"
	"github.com/shorelinestewards/rsvp-ledger/pkg/utils/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	godotenv.Load()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "prod"
	}

	logger, err := logging.InitLogger(env)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not configured")
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	srv := server.New(db, logger, cfg)

	// Shut down cleanly on SIGINT/SIGTERM so in-flight RSVP writes finish.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-stop
		logger.Info("Shutting down", zap.String("signal", sig.String()))
		if err := srv.Shutdown(); err != nil {
			logger.Error("Shutdown failed", zap.Error(err))
		}
	}()

	return srv.Listen(cfg.ListenAddr)
}
