package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/condo_sync/internal/migrations"
	"github.com/cybertec-postgresql/condo_sync/internal/retry"
)

// PgxIface is the subset of pgx used by the engine; satisfied by
// *pgxpool.Pool, pgx.Tx and pgxmock.
type PgxIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

type ConnConfigCallback = func(*pgxpool.Config) error

// NewPool creates a new pool from a PostgreSQL connection string
func NewPool(ctx context.Context, connStr string, callbacks ...ConnConfigCallback) (*pgxpool.Pool, error) {
	connConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	logger := logrus.WithField("component", "postgresql")
	if connConfig.ConnConfig.ConnectTimeout == 0 {
		connConfig.ConnConfig.ConnectTimeout = time.Second * 5
	}
	connConfig.MaxConnIdleTime = 15 * time.Second
	connConfig.ConnConfig.RuntimeParams["application_name"] = "condo_sync"
	connConfig.ConnConfig.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		logger.WithField("severity", n.Severity).WithField("notice", n.Message).Info("Notice received")
	}
	for _, f := range callbacks {
		if err := f(connConfig); err != nil {
			return nil, err
		}
	}
	return pgxpool.NewWithConfig(ctx, connConfig)
}

// NewPoolWithRetry creates a pool and pings it, retrying with backoff
func NewPoolWithRetry(ctx context.Context, connStr string, callbacks ...ConnConfigCallback) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	err := retry.WithOperation(ctx, retry.PostgreSQLDefaults(), "postgres connect", func(ctx context.Context) error {
		var attemptErr error
		pool, attemptErr = NewPool(ctx, connStr, callbacks...)
		if attemptErr != nil {
			return attemptErr
		}

		if pingErr := pool.Ping(ctx); pingErr != nil {
			pool.Close()
			return pingErr
		}

		return nil
	})

	if err != nil {
		logrus.WithError(err).Error("Failed to establish PostgreSQL connection after all retries")
		return nil, err
	}

	return pool, nil
}

// ApplyMigrations checks and applies database migrations if needed
func ApplyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	needsMigration, err := migrations.NeedsUpgrade(ctx, conn.Conn())
	if err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}

	if !needsMigration {
		logrus.Info("Database schema is up to date")
		return nil
	}

	logrus.Info("Applying database migrations...")
	if err := migrations.Apply(ctx, conn.Conn()); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	logrus.Info("Database migrations completed successfully")
	return nil
}
