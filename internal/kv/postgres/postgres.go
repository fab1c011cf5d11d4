// Package postgres provides a kv.Engine backed by PostgreSQL tables, for
// deployments where the local store is a shared server-side database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/cybertec-postgresql/condo_sync/internal/kv"
)

// Engine is a PostgreSQL kv.Engine.
type Engine struct {
	db    PgxIface
	close func()
}

var _ kv.Engine = (*Engine)(nil)

// New wraps an existing connection or pool. Close is a no-op; the caller owns db.
func New(db PgxIface) *Engine {
	return &Engine{db: db}
}

// Open connects to connStr with retry, applies the schema migrations and
// returns an engine owning the pool.
func Open(ctx context.Context, connStr string) (*Engine, error) {
	pool, err := NewPoolWithRetry(ctx, connStr)
	if err != nil {
		return nil, err
	}
	if err := ApplyMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Engine{db: pool, close: pool.Close}, nil
}

// Close releases the pool if the engine owns it.
func (e *Engine) Close() error {
	if e.close != nil {
		e.close()
	}
	return nil
}

// Put implements kv.Engine.
func (e *Engine) Put(ctx context.Context, partition, key string, value []byte, indexes map[string]string) error {
	return e.inTx(ctx, func(tx pgx.Tx) error {
		return putTx(ctx, tx, partition, key, value, indexes)
	})
}

// Update implements kv.Engine. An existing row is locked with FOR UPDATE
// until fn's change is committed.
func (e *Engine) Update(ctx context.Context, partition, key string, fn kv.UpdateFunc) error {
	err := e.inTx(ctx, func(tx pgx.Tx) error {
		var current []byte
		found := true
		err := tx.QueryRow(ctx, `SELECT value FROM condo_kv
			WHERE partition = $1 AND key = $2
			FOR UPDATE`, partition, key).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			found = false
		} else if err != nil {
			return fmt.Errorf("failed to lock value: %w", err)
		}

		change, err := fn(current, found)
		if err != nil {
			return err
		}
		if change.Delete {
			if _, err := tx.Exec(ctx, `DELETE FROM condo_kv WHERE partition = $1 AND key = $2`,
				partition, key); err != nil {
				return fmt.Errorf("failed to delete value: %w", err)
			}
			return nil
		}
		return putTx(ctx, tx, partition, key, change.Value, change.Indexes)
	})
	if errors.Is(err, kv.ErrSkip) {
		return nil
	}
	return err
}

func putTx(ctx context.Context, tx pgx.Tx, partition, key string, value []byte, indexes map[string]string) error {
	if value == nil {
		value = []byte{}
	}
	_, err := tx.Exec(ctx, `INSERT INTO condo_kv (partition, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (partition, key) DO UPDATE SET
		value = EXCLUDED.value, updated_at = now()`, partition, key, value)
	if err != nil {
		return fmt.Errorf("failed to upsert value: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM condo_kv_index WHERE partition = $1 AND key = $2`,
		partition, key); err != nil {
		return fmt.Errorf("failed to clear index entries: %w", err)
	}

	names := make([]string, 0, len(indexes))
	for name := range indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := tx.Exec(ctx, `INSERT INTO condo_kv_index (partition, key, name, value)
			VALUES ($1, $2, $3, $4)`, partition, key, name, indexes[name]); err != nil {
			return fmt.Errorf("failed to insert index entry %s: %w", name, err)
		}
	}
	return nil
}

// Get implements kv.Engine.
func (e *Engine) Get(ctx context.Context, partition, key string) ([]byte, error) {
	var value []byte
	err := e.db.QueryRow(ctx, `SELECT value FROM condo_kv WHERE partition = $1 AND key = $2`,
		partition, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get value: %w", err)
	}
	return value, nil
}

// Delete implements kv.Engine. Index entries are removed by the cascading foreign key.
func (e *Engine) Delete(ctx context.Context, partition, key string) error {
	if _, err := e.db.Exec(ctx, `DELETE FROM condo_kv WHERE partition = $1 AND key = $2`,
		partition, key); err != nil {
		return fmt.Errorf("failed to delete value: %w", err)
	}
	return nil
}

// List implements kv.Engine.
func (e *Engine) List(ctx context.Context, partition string) ([]kv.Item, error) {
	rows, err := e.db.Query(ctx, `SELECT key, value FROM condo_kv
		WHERE partition = $1
		ORDER BY key ASC`, partition)
	if err != nil {
		return nil, fmt.Errorf("failed to query partition: %w", err)
	}
	return collectItems(rows)
}

// ListByIndex implements kv.Engine.
func (e *Engine) ListByIndex(ctx context.Context, partition, index, value string) ([]kv.Item, error) {
	rows, err := e.db.Query(ctx, `SELECT k.key, k.value
		FROM condo_kv_index i
		JOIN condo_kv k ON k.partition = i.partition AND k.key = i.key
		WHERE i.partition = $1 AND i.name = $2 AND i.value = $3
		ORDER BY k.key ASC`, partition, index, value)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}
	return collectItems(rows)
}

// Clear implements kv.Engine.
func (e *Engine) Clear(ctx context.Context, partition string) error {
	if _, err := e.db.Exec(ctx, `DELETE FROM condo_kv WHERE partition = $1`, partition); err != nil {
		return fmt.Errorf("failed to clear partition: %w", err)
	}
	return nil
}

func (e *Engine) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func collectItems(rows pgx.Rows) ([]kv.Item, error) {
	defer rows.Close()

	items := []kv.Item{}
	for rows.Next() {
		var it kv.Item
		if err := rows.Scan(&it.Key, &it.Value); err != nil {
			return nil, fmt.Errorf("error scanning item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return items, nil
}
