package dbpool

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cketlive/scoring/internal/platform/env"
)

// New opens a pgx pool for databaseURL sized by the DB_* settings.
func New(ctx context.Context, databaseURL string, pool env.DBPool) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	minConns := max(pool.MinConns, 0)
	maxConns := pool.MaxConns
	if maxConns <= 0 {
		maxConns = 20
	}
	if minConns > maxConns {
		minConns = maxConns
	}

	cfg.MinConns = int32(minConns)
	cfg.MaxConns = int32(maxConns)
	if pool.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = pool.MaxConnLifetime
	}
	if pool.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = pool.MaxConnIdleTime
	}
	if pool.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = pool.HealthCheckPeriod
	}

	return pgxpool.NewWithConfig(ctx, cfg)
}
