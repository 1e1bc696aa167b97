package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/DEFRA/apha-integration-bridge-sub000/internal/config"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/constants"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/logger"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/logging"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "bridge-service",
		Short: "APHA integration bridge",
		Long:  "Consumes case-management messages and writes them to Salesforce, and serves the synchronous case-management API",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (defaults and environment are used when omitted)")

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			earlyLog := logging.NewEarlyLog(constants.ServiceName)

			if configFile == "" {
				configFile = os.Getenv("CONFIG_FILE")
			}

			cfg, err := config.Load(configFile)
			if err != nil {
				earlyLog.Error("Failed to load config: %v", err)
				return err
			}

			log, err := logger.New(cfg.Logging)
			if err != nil {
				earlyLog.Error("Failed to init logger: %v", err)
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting APHA integration bridge",
				"broker", cfg.Broker.Type,
				"intake_enabled", cfg.Intake.Enabled,
				"salesforce_enabled", cfg.Salesforce.Enabled,
			)

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				_ = app.Shutdown(ctx)
				return err
			}

			if err := app.Run(ctx); err != nil {
				log.ErrorwCtx(ctx, "Application error", "error", err)
				return err
			}
			return nil
		},
	}
}
