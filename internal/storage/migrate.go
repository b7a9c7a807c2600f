package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// dialectMap maps sql drivers to goose dialect names.
var dialectMap = map[string]string{
	DriverSQLite:   "sqlite3",
	DriverPostgres: "postgres",
}

// runMigrations applies all pending migrations from the embedded set.
func runMigrations(db *sql.DB, driver string) error {
	dialect, ok := dialectMap[driver]
	if !ok {
		dialect = driver
	}
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	goose.SetBaseFS(sub)

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	log.Debug().Str("driver", driver).Msg("migrations applied")
	return nil
}
