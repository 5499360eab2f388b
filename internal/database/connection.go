package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	readyAttempts = 5
	readyBackoff  = time.Second
	pingTimeout   = 2 * time.Second
)

// DB owns the pgx pool shared by every repository
type DB struct {
	Pool   *pgxpool.Pool
	logger *slog.Logger
}

// poolConfig maps DatabaseConfig onto pgxpool settings.
// Sessions run in UTC so timestamptz columns round-trip unchanged.
func poolConfig(cfg *config.DatabaseConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("invalid database settings: %w", err)
	}

	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.HealthCheckPeriod = cfg.HealthCheckPeriod

	pc.ConnConfig.RuntimeParams["application_name"] = "warden"
	pc.ConnConfig.RuntimeParams["timezone"] = "UTC"

	return pc, nil
}

// Open builds the pool and waits for Postgres to answer, retrying while it starts up
func Open(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	pc, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	db := &DB{Pool: pool, logger: logger}
	if err := db.waitReady(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("database pool ready",
		slog.String("host", cfg.Host),
		slog.String("database", cfg.Name),
		slog.Int("max_conns", int(pc.MaxConns)),
		slog.Int("min_conns", int(pc.MinConns)),
	)
	return db, nil
}

// NewFromPool wraps a pool someone else opened, e.g. a test container
func NewFromPool(pool *pgxpool.Pool, logger *slog.Logger) *DB {
	return &DB{Pool: pool, logger: logger}
}

func (db *DB) waitReady(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= readyAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = db.HealthCheck(pingCtx)
		cancel()
		if err == nil {
			return nil
		}

		db.logger.Warn("database not ready",
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		if attempt == readyAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * readyBackoff):
		}
	}
	return fmt.Errorf("database unreachable after %d attempts: %w", readyAttempts, err)
}

// HealthCheck pings one pooled connection. Callers bound it with ctx.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func (db *DB) Close() {
	stat := db.Pool.Stat()
	db.logger.Info("closing database pool",
		slog.Int("acquired_conns", int(stat.AcquiredConns())),
		slog.Int("total_conns", int(stat.TotalConns())))
	db.Pool.Close()
}
