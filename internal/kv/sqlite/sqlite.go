// Package sqlite provides a kv.Engine backed by an embedded SQLite database.
//
// The database is configured with:
//   - WAL mode: readers do not block the single writer
//   - synchronous=NORMAL: durable across process crashes
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: index rows follow their value row
//
// A Put replaces the value row and all of its index rows in one transaction.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/condo_sync/internal/kv"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - kv and kv_index tables
const currentSchemaVersion = 1

// Engine is a SQLite kv.Engine.
type Engine struct {
	db *sql.DB
}

var _ kv.Engine = (*Engine)(nil)

// Open creates or opens the database at path and applies pragmas and schema.
// Safe to call repeatedly on the same file.
func Open(path string) (*Engine, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer; a single connection also keeps pragmas and
	// :memory: databases stable.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logrus.WithField("path", path).Debug("SQLite store opened")
	return &Engine{db: db}, nil
}

// Close closes the database.
func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

// Put implements kv.Engine.
func (e *Engine) Put(ctx context.Context, partition, key string, value []byte, indexes map[string]string) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put: begin tx: %w", err)
	}
	defer tx.Rollback() // no-op once committed

	if err := putTx(ctx, tx, partition, key, value, indexes); err != nil {
		return fmt.Errorf("put: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put: commit: %w", err)
	}
	return nil
}

// Get implements kv.Engine.
func (e *Engine) Get(ctx context.Context, partition, key string) ([]byte, error) {
	var value []byte
	err := e.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE partition = ? AND key = ?`, partition, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}
	return value, nil
}

// Update implements kv.Engine. The pool holds a single connection, so the
// transaction serializes against every other write.
func (e *Engine) Update(ctx context.Context, partition, key string, fn kv.UpdateFunc) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update: begin tx: %w", err)
	}
	defer tx.Rollback()

	var current []byte
	found := true
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE partition = ? AND key = ?`, partition, key).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		found = false
	} else if err != nil {
		return fmt.Errorf("update: read: %w", err)
	}

	change, err := fn(current, found)
	if errors.Is(err, kv.ErrSkip) {
		return nil
	}
	if err != nil {
		return err
	}

	if change.Delete {
		err = deleteTx(ctx, tx, partition, key)
	} else {
		err = putTx(ctx, tx, partition, key, change.Value, change.Indexes)
	}
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update: commit: %w", err)
	}
	return nil
}

// Delete implements kv.Engine.
func (e *Engine) Delete(ctx context.Context, partition, key string) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := deleteTx(ctx, tx, partition, key); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete: commit: %w", err)
	}
	return nil
}

func putTx(ctx context.Context, tx *sql.Tx, partition, key string, value []byte, indexes map[string]string) error {
	if value == nil {
		value = []byte{}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO kv (partition, key, value) VALUES (?, ?, ?)
		ON CONFLICT (partition, key) DO UPDATE SET value = excluded.value
	`, partition, key, value); err != nil {
		return fmt.Errorf("upsert value: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM kv_index WHERE partition = ? AND key = ?`, partition, key); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}

	for name, v := range indexes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kv_index (partition, key, name, value) VALUES (?, ?, ?, ?)`,
			partition, key, name, v); err != nil {
			return fmt.Errorf("insert index %s: %w", name, err)
		}
	}
	return nil
}

func deleteTx(ctx context.Context, tx *sql.Tx, partition, key string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM kv_index WHERE partition = ? AND key = ?`, partition, key); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM kv WHERE partition = ? AND key = ?`, partition, key); err != nil {
		return fmt.Errorf("value: %w", err)
	}
	return nil
}

// List implements kv.Engine.
func (e *Engine) List(ctx context.Context, partition string) ([]kv.Item, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT key, value FROM kv WHERE partition = ? ORDER BY key ASC`, partition)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	return scanItems(rows)
}

// ListByIndex implements kv.Engine.
func (e *Engine) ListByIndex(ctx context.Context, partition, index, value string) ([]kv.Item, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT k.key, k.value
		FROM kv_index i
		JOIN kv k ON k.partition = i.partition AND k.key = i.key
		WHERE i.partition = ? AND i.name = ? AND i.value = ?
		ORDER BY k.key ASC
	`, partition, index, value)
	if err != nil {
		return nil, fmt.Errorf("list by index: %w", err)
	}
	return scanItems(rows)
}

// Clear implements kv.Engine.
func (e *Engine) Clear(ctx context.Context, partition string) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM kv_index WHERE partition = ?`, partition); err != nil {
		return fmt.Errorf("clear: index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE partition = ?`, partition); err != nil {
		return fmt.Errorf("clear: values: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clear: commit: %w", err)
	}
	return nil
}

func scanItems(rows *sql.Rows) ([]kv.Item, error) {
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
