// Package migrate applies the embedded goose migrations for the documents
// table.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed postgres/*.sql sqlite/*.sql
var migrations embed.FS

// Postgres migrates the database behind pool. The *sql.DB wrapper is not
// closed because the pool outlives it.
func Postgres(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger) error {
	db := stdlib.OpenDBFromPool(pool)
	return up(ctx, goose.DialectPostgres, db, "postgres", log)
}

func SQLite(ctx context.Context, db *sql.DB, log *slog.Logger) error {
	return up(ctx, goose.DialectSQLite3, db, "sqlite", log)
}

func up(ctx context.Context, dialect goose.Dialect, db *sql.DB, dir string, log *slog.Logger) error {
	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return fmt.Errorf("migrations: %s: %w", dir, err)
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("migrations: new provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrations: goose up: %w", err)
	}
	if log != nil {
		for _, r := range results {
			log.Info("migration applied", "dialect", string(dialect), "version", r.Source.Version, "duration", r.Duration)
		}
	}
	return nil
}
