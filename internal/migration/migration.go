// Package migration applies the embedded access-log schema with golang-migrate.
package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// Migrator is the interface used by RunMigrations so callers can inject a
// mock in unit tests.
type Migrator interface {
	Up() error
	Version() (version uint, dirty bool, err error)
}

// migrateMaker creates a Migrator from a *sql.DB and the migrations
// filesystem. Replaced in tests to inject a mock.
type migrateMaker func(db *sql.DB, migrationsFS fs.FS) (Migrator, error)

// defaultMakeMigrator builds a real *migrate.Migrate backed by iofs and the
// postgres driver.
func defaultMakeMigrator(db *sql.DB, migrationsFS fs.FS) (Migrator, error) {
	src, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return nil, fmt.Errorf("iofs source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "contentgate_schema_migrations"})
	if err != nil {
		return nil, fmt.Errorf("postgres driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migrate instance: %w", err)
	}
	return m, nil
}

// RunMigrations applies all pending migrations found in dir of files (for
// example an embed.FS holding migrations/*.sql) and logs the resulting
// schema version.
func RunMigrations(db *sql.DB, files fs.FS, dir string, logger *zap.Logger) error {
	sub, err := fs.Sub(files, dir)
	if err != nil {
		return fmt.Errorf("migrations dir %q: %w", dir, err)
	}
	return runMigrations(db, sub, defaultMakeMigrator, logger)
}

// runMigrations is the testable inner implementation.
func runMigrations(db *sql.DB, migrationsFS fs.FS, maker migrateMaker, logger *zap.Logger) error {
	m, err := maker(db, migrationsFS)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("migrate version: %w", err)
	}
	logger.Info("schema migrated", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}
