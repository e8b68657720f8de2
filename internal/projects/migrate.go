package projects

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite3 "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// runMigrations applies every pending versioned migration in migrations/ to
// sqlDB, using driverName ("postgres" or "sqlite3") to select the matching
// golang-migrate database driver. Unlike the teacher's migrate CLI, which
// opens its own *sql.DB against the migrations target, this reuses the
// *sql.DB gorm already holds: a second connection to an in-memory sqlite
// database would be a distinct, empty database, so the store's own pool is
// the only connection migrations can run against.
func runMigrations(sqlDB *sql.DB, driverName string) error {
	var driver database.Driver
	var err error
	switch driverName {
	case "postgres":
		driver, err = migratepostgres.WithInstance(sqlDB, &migratepostgres.Config{})
	case "sqlite3":
		driver, err = migratesqlite3.WithInstance(sqlDB, &migratesqlite3.Config{})
	default:
		return fmt.Errorf("run migrations: unsupported driver %q", driverName)
	}
	if err != nil {
		return fmt.Errorf("build migration driver: %w", err)
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, driverName, driver)
	if err != nil {
		return fmt.Errorf("build migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
