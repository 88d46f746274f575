package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// PoolConfig holds tunable parameters for the PostgreSQL connection pool.
type PoolConfig struct {
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// ServerPoolConfig sizes the pool for the long-running ranking API. Every
// request touches the pool twice (analytics writes from the worker plus
// trace reads), so it keeps warm connections around.
func ServerPoolConfig(maxConns, minConns int) PoolConfig {
	if maxConns <= 0 {
		maxConns = 10
	}
	if minConns <= 0 {
		minConns = 2
	}
	return PoolConfig{
		MaxConns:        maxConns,
		MinConns:        minConns,
		MaxConnLifetime: 1 * time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// ExportPoolConfig sizes the pool for the export CLI: one connection per
// concurrent page fetch plus one for status queries. The process is short
// lived, so no idle connections are kept.
func ExportPoolConfig(concurrency int) PoolConfig {
	if concurrency <= 0 {
		concurrency = 1
	}
	return PoolConfig{
		MaxConns:        concurrency + 1,
		MinConns:        1,
		MaxConnLifetime: 15 * time.Minute,
		MaxConnIdleTime: 1 * time.Minute,
	}
}

// buildPoolConfig parses the DSN, applies the pool settings, and registers
// pgvector types on every new connection so analytics embedding columns
// scan without manual conversion.
func buildPoolConfig(dsn string, pc PoolConfig) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if pc.MaxConns > 0 {
		config.MaxConns = int32(pc.MaxConns)
	}
	if pc.MinConns > 0 {
		config.MinConns = int32(pc.MinConns)
	}
	if pc.MaxConnLifetime > 0 {
		config.MaxConnLifetime = pc.MaxConnLifetime
	}
	if pc.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = pc.MaxConnIdleTime
	}

	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	return config, nil
}

// NewPostgresDB creates a PostgreSQL connection pool with the given sizing.
func NewPostgresDB(ctx context.Context, dsn string, pc PoolConfig) (*pgxpool.Pool, error) {
	config, err := buildPoolConfig(dsn, pc)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return pool, nil
}
