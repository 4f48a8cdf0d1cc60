package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file" //nolint:blankimports // File source driver

	"github.com/jonesrussell/north-cloud/partprice/infrastructure/logger"
)

// RunMigrations applies every pending migration found in dir.
func RunMigrations(dsn, dir string, log logger.Logger) error {
	return withMigrator(dsn, dir, func(m *migrate.Migrate, path string) error {
		if err := m.Up(); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				log.Info("No pending migrations", logger.String("migrations_path", path))
				return nil
			}
			return fmt.Errorf("run migrations: %w", err)
		}
		log.Info("Migrations applied successfully", logger.String("migrations_path", path))
		return nil
	})
}

// MigrateDown rolls back steps migrations (default: 1).
func MigrateDown(dsn, dir string, steps int, log logger.Logger) error {
	if steps <= 0 {
		steps = 1
	}
	return withMigrator(dsn, dir, func(m *migrate.Migrate, path string) error {
		if err := m.Steps(-steps); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				log.Info("No migrations to roll back", logger.String("migrations_path", path))
				return nil
			}
			return fmt.Errorf("roll back migrations: %w", err)
		}
		log.Info("Migrations rolled back",
			logger.Int("steps", steps),
			logger.String("migrations_path", path),
		)
		return nil
	})
}

func withMigrator(dsn, dir string, fn func(m *migrate.Migrate, path string) error) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open database connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	if dir == "" {
		dir = "migrations"
	}
	if abs, absErr := filepath.Abs(dir); absErr == nil {
		dir = abs
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	return fn(m, dir)
}
