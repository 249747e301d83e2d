package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lychee-technology/modepress"
)

// ValidatePostgresConfig performs basic sanity checks on the postgres store settings.
func ValidatePostgresConfig(cfg modepress.PostgresConfig) error {
	if cfg.Host == "" {
		return fmt.Errorf("store.postgres.host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("store.postgres.port must be a valid TCP port")
	}
	if cfg.MaxConnections <= 0 {
		return fmt.Errorf("store.postgres.maxConnections must be greater than 0")
	}
	if cfg.Table == "" {
		return fmt.Errorf("store.postgres.table is required")
	}
	return nil
}

// PostgresHealthCheck connects with dsn, pings and runs a trivial query.
// timeout may be 0 to use 5s.
func PostgresHealthCheck(ctx context.Context, dsn string, timeout time.Duration) error {
	if dsn == "" {
		return fmt.Errorf("empty dsn")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	if _, err := pool.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("postgres simple query failed: %w", err)
	}
	return nil
}

// StoreHealthCheck pings store when it has a remote backend.
func StoreHealthCheck(ctx context.Context, store modepress.Store, timeout time.Duration) error {
	checker, ok := store.(modepress.HealthChecker)
	if !ok {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := checker.Ping(ctx); err != nil {
		return fmt.Errorf("store ping failed: %w", err)
	}
	return nil
}
