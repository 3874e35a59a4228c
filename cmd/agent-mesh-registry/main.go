package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"agent-mesh/src/core/config"
	"agent-mesh/src/core/database"
	"agent-mesh/src/core/logger"
	"agent-mesh/src/core/registry"
)

// version is injected at build time via ldflags
var version = "dev"

var (
	flagHost   string
	flagPort   int
	flagConfig string
)

var rootCmd = &cobra.Command{
	Use:   "agent-mesh-registry",
	Short: "Agent mesh registry service",
	Long: `Central control plane for an agent mesh: agents register capabilities,
declare dependencies, and get wired to healthy providers at runtime.

The registry is passive: agents pull state via registration and heartbeat
responses; nothing is pushed to them.`,
	Version: version,
	RunE:    runServer,
}

func init() {
	rootCmd.Flags().StringVar(&flagHost, "host", "", "Host to bind the server to (overrides HOST env var)")
	rootCmd.Flags().IntVar(&flagPort, "port", 0, "Port to bind the server to (overrides PORT env var)")
	rootCmd.Flags().StringVar(&flagConfig, "config", "", "Path to a YAML config file overlaying the environment")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg := config.LoadFromEnv()

	if flagConfig != "" {
		if err := cfg.MergeFile(flagConfig); err != nil {
			return fmt.Errorf("failed to load config file: %w", err)
		}
	}
	if flagHost != "" {
		cfg.Host = flagHost
	}
	if flagPort != 0 {
		cfg.Port = flagPort
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	appLogger := logger.New(cfg)
	appLogger.SetGinMode()
	appLogger.Info("Starting %s | %s", cfg.RegistryName, appLogger.GetStartupBanner())

	appLogger.Info("Initializing database: %s", cfg.Database.DatabaseURL)
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			appLogger.Warning("Failed to close database: %v", err)
		}
	}()

	server := registry.NewServer(db, cfg, appLogger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		appLogger.Info("Received signal %v, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		return err
	}

	appLogger.Info("Registry stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
