// Package migrations contains the PostgreSQL schema migrations of the condo_sync store.
package migrations

import (
	"context"
	"fmt"
	"sync"

	migrator "github.com/cybertec-postgresql/pgx-migrator"
	"github.com/jackc/pgx/v5"
)

// TableName is the bookkeeping table used by the migrator.
const TableName = "condo_sync_migrations"

const createTablesSQL = `
-- Record values, one row per (partition, key)
CREATE TABLE condo_kv (
	partition text NOT NULL,
	key text NOT NULL,
	value bytea NOT NULL,
	updated_at timestamp with time zone NOT NULL DEFAULT now(),
	PRIMARY KEY(partition, key)
);

-- Secondary index entries, replaced together with their value
CREATE TABLE condo_kv_index (
	partition text NOT NULL,
	key text NOT NULL,
	name text NOT NULL,
	value text NOT NULL,
	PRIMARY KEY(partition, key, name),
	FOREIGN KEY(partition, key) REFERENCES condo_kv(partition, key) ON DELETE CASCADE
);

CREATE INDEX idx_condo_kv_index_lookup ON condo_kv_index(partition, name, value, key);
`

// migrations holds function returning all upgrade migrations needed
var migrations func() migrator.Option = func() migrator.Option {
	return migrator.Migrations(
		&migrator.Migration{
			Name: "001_create_kv_tables",
			Func: func(ctx context.Context, tx pgx.Tx) error {
				_, err := tx.Exec(ctx, createTablesSQL)
				return err
			},
		},
		// adding new migration here
	)
}

var (
	migratorInstance *migrator.Migrator
	migratorErr      error
	once             sync.Once
)

// getMigrator returns a singleton migrator instance
func getMigrator() (*migrator.Migrator, error) {
	once.Do(func() {
		migratorInstance, migratorErr = migrator.New(
			migrations(),
			migrator.TableName(TableName),
		)
	})
	return migratorInstance, migratorErr
}

// Apply applies all pending migrations to the database
func Apply(ctx context.Context, conn *pgx.Conn) error {
	m, err := getMigrator()
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Migrate(ctx, conn); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// NeedsUpgrade checks if the database needs migration
func NeedsUpgrade(ctx context.Context, conn *pgx.Conn) (bool, error) {
	m, err := getMigrator()
	if err != nil {
		return false, fmt.Errorf("failed to create migrator: %w", err)
	}

	needUpgrade, err := m.NeedUpgrade(ctx, conn)
	if err != nil {
		return false, fmt.Errorf("failed to check migration status: %w", err)
	}

	return needUpgrade, nil
}
