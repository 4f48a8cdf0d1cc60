// Package cmd implements the partprice command-line interface.
package cmd

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/partprice/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/partprice/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/partprice/internal/config"
)

// Version is set at build time.
var Version = "dev"

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// debug forces debug logging.
	debug bool

	rootCmd = &cobra.Command{
		Use:           "partprice",
		Short:         "Auto-part price aggregation",
		Long:          `Compares auto-part prices across marketplaces and storefronts and keeps a catalog of offers current.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	// .env is optional
	_ = godotenv.Load()
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("partprice version %s\n", Version)
		},
	})
	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(cycleCommand())
	rootCmd.AddCommand(compareCommand())
	rootCmd.AddCommand(importCommand())
	rootCmd.AddCommand(migrateCommand())
}

// loadConfig reads the configuration and builds the logger.
func loadConfig() (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(config.New(cfgFile))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if debug {
		cfg.Logger.Level = "debug"
		cfg.Server.Debug = true
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, log.With(logger.String("service", bootstrap.ServiceName)), nil
}

// loadApp wires the full application.
func loadApp() (*bootstrap.App, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	app, err := bootstrap.New(cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("initialize application: %w", err)
	}
	return app, nil
}

// closeApp releases the app and flushes its logger.
func closeApp(app *bootstrap.App) {
	if err := app.Close(); err != nil {
		app.Logger.Error("Failed to close application", logger.Error(err))
	}
	_ = app.Logger.Sync()
}
