package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies the embedded migrations up to the latest version.
func Migrate(ctx context.Context, dsn string) error {
	return withMigrator(dsn, func(db *sql.DB) error {
		return goose.UpContext(ctx, db, "migrations")
	})
}

// MigrateDown rolls back the most recent migration.
func MigrateDown(ctx context.Context, dsn string) error {
	return withMigrator(dsn, func(db *sql.DB) error {
		return goose.DownContext(ctx, db, "migrations")
	})
}

// MigrationStatus logs the applied state of every migration.
func MigrationStatus(ctx context.Context, dsn string) error {
	return withMigrator(dsn, func(db *sql.DB) error {
		return goose.StatusContext(ctx, db, "migrations")
	})
}

func withMigrator(dsn string, fn func(db *sql.DB) error) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("op=postgres.Migrate: %w", err)
	}
	defer db.Close()
	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("op=postgres.Migrate: %w", err)
	}
	if err := fn(db); err != nil {
		return fmt.Errorf("op=postgres.Migrate: %w", err)
	}
	return nil
}
