// Package kv defines the durable storage engine capability used by the local
// store: a partitioned, transactional key-value engine with secondary indexes.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist in the partition.
var ErrNotFound = errors.New("key not found")

// ErrSkip returned by an UpdateFunc leaves the key untouched. Update then returns nil.
var ErrSkip = errors.New("update skipped")

// Change is the outcome of an UpdateFunc.
type Change struct {
	Value   []byte
	Indexes map[string]string
	// Delete removes the key instead of writing Value.
	Delete bool
}

// UpdateFunc computes the replacement of current, which is nil when found is
// false. It runs while the key is locked and must not call back into the engine.
type UpdateFunc func(current []byte, found bool) (Change, error)

// Item is a stored key-value pair.
type Item struct {
	Key   string
	Value []byte
}

// Engine is a partitioned key-value engine. Every mutating call is atomic:
// a Put replaces the value and all of its index entries or nothing at all.
type Engine interface {
	// Put upserts value under key and replaces the key's index entries with
	// indexes (index name -> value).
	Put(ctx context.Context, partition, key string, value []byte, indexes map[string]string) error
	Get(ctx context.Context, partition, key string) ([]byte, error)
	// Update reads the key and applies fn's change atomically: no other write
	// to the key can land between the read and the write.
	Update(ctx context.Context, partition, key string, fn UpdateFunc) error
	// Delete removes the key and its index entries. Deleting a missing key is not an error.
	Delete(ctx context.Context, partition, key string) error
	// List returns all items of the partition ordered by key.
	List(ctx context.Context, partition string) ([]Item, error)
	// ListByIndex returns the items whose index entry name equals value, ordered by key.
	ListByIndex(ctx context.Context, partition, index, value string) ([]Item, error)
	// Clear removes every key of the partition.
	Clear(ctx context.Context, partition string) error
	Close() error
}
