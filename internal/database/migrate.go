package database

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"
)

// RunMigrations runs all pending migrations from an embedded filesystem.
// The migration SQL mirrors the lazy DDL in store.EnsureSchema; operators who
// prefer versioned migrations over lazy creation run cmd/migrate instead.
func RunMigrations(databaseURL string, migrationsFS embed.FS, migrationsPath string) error {
	d, err := iofs.New(migrationsFS, migrationsPath)
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Info().Msg("No migrations applied yet")
	} else {
		log.Info().
			Uint("version", version).
			Bool("dirty", dirty).
			Msg("Database migration completed")
	}

	return nil
}
