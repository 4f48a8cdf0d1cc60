package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/partprice/internal/catalog"
	"github.com/jonesrussell/north-cloud/partprice/internal/config"
)

var errNotPostgres = errors.New("migrations need database.driver postgres")

func migrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the catalog schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if cfg.Database.Driver != config.DriverPostgres {
				return errNotPostgres
			}
			return catalog.RunMigrations(cfg.Database.DSN, cfg.Database.MigrationsDir, log)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default: 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("steps must be a positive integer: %q", args[0])
				}
				steps = n
			}

			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if cfg.Database.Driver != config.DriverPostgres {
				return errNotPostgres
			}
			return catalog.MigrateDown(cfg.Database.DSN, cfg.Database.MigrationsDir, steps, log)
		},
	})

	return cmd
}
