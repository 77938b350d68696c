package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/mail-ingest/internal/config"
	"github.com/mikey/mail-ingest/internal/di"
	"github.com/mikey/mail-ingest/internal/ports"
	"github.com/mikey/mail-ingest/internal/server"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	logger *zap.Logger,
	cfg *config.Config,
	srv *server.Server,
	states ports.SyncStateRepository,
	captioner ports.Captioner,
) error {
	defer logger.Sync()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
			return err
		}
	case sig := <-sigCh:
		logger.Info("Shutting down...", zap.String("signal", sig.String()))
	}

	shutdownTimeout, err := cfg.GetDuration("server.shutdown_timeout")
	if err != nil {
		shutdownTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Failed to shut down HTTP server", zap.Error(err))
	}

	if err := states.Close(); err != nil {
		logger.Error("Failed to close sync-state store", zap.Error(err))
	}
	if closer, ok := captioner.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close captioner", zap.Error(err))
		}
	}

	logger.Info("Shutdown complete")
	return nil
}
