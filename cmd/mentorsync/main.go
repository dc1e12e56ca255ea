package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mentorsync/internal/app"
	"mentorsync/internal/config"
	"mentorsync/internal/logger"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "mentorsync",
		Short: "Realtime messaging server for mentorship sessions",
		Long: `mentorsync serves live session rooms over WebSocket and a REST API
for session management.

Configuration is read from --config, ./config.yaml or ./configs/config.yaml,
and every key can be overridden with a MENTORSYNC_ environment variable.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("MENTORSYNC_CONFIG_FILE"), "path to config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context(), configPath)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("mentorsync version %s\n", version)
		},
	})
	return root
}

func setup(path string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log.With(zap.String("service", cfg.App.Name)), nil
}

// serve runs until SIGINT/SIGTERM or a server failure, then shuts down within
// the configured timeout.
func serve(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}

	// STEP 1: configuration and logging
	cfg, log, err := setup(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// STEP 2: build and start
	application, err := app.NewApplication(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	// STEP 3: wait for a signal or a server failure
	waitErr := make(chan error, 1)
	go func() { waitErr <- application.Wait() }()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case runErr = <-waitErr:
		if runErr != nil {
			log.Error("server stopped", zap.Error(runErr))
		}
	}

	// STEP 4: graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout+5*time.Second)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("shutdown error: %w", err))
	}
	return runErr
}

func migrate(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, log, err := setup(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	cfg.Database.AutoMigrate = true
	store, err := app.OpenStore(parent, cfg, log)
	if err != nil {
		return err
	}
	log.Info("database schema is up to date", zap.String("driver", cfg.Database.Driver))
	return store.Close()
}
