package storage

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// RunMigrations applies all pending up migrations from the given directory.
func RunMigrations(dbURL, migrationsDir string) error {
	return withMigrate(dbURL, migrationsDir, func(m *migrate.Migrate) error {
		return m.Up()
	})
}

// RollbackMigrations reverts the given number of applied migrations.
func RollbackMigrations(dbURL, migrationsDir string, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("rollback steps must be positive, got %d", steps)
	}
	return withMigrate(dbURL, migrationsDir, func(m *migrate.Migrate) error {
		return m.Steps(-steps)
	})
}

// MigrationVersion reports the current schema version and dirty flag.
// A database with no migrations applied reports version 0.
func MigrationVersion(dbURL, migrationsDir string) (version uint, dirty bool, err error) {
	err = withMigrate(dbURL, migrationsDir, func(m *migrate.Migrate) error {
		v, d, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		version, dirty = v, d
		return err
	})
	return version, dirty, err
}

func withMigrate(dbURL, migrationsDir string, fn func(*migrate.Migrate) error) error {
	m, err := migrate.New("file://"+migrationsDir, dbURL)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	defer m.Close()

	if err := fn(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}
