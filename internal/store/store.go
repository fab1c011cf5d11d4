// Package store implements the local durable store: partitioned records with
// a dirty flag and secondary indexes, a TTL cache, process metadata, durable
// storage for the sync queue and bulk export/import. All state lives in a
// kv.Engine; the store itself holds none.
package store

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cybertec-postgresql/condo_sync/internal/kv"
	"github.com/cybertec-postgresql/condo_sync/internal/partition"
)

// Reserved partitions. They hold engine state and are never exported.
const (
	QueuePartition    = "syncQueue"
	CachePartition    = "cache"
	MetadataPartition = "metadata"
)

var (
	ErrReservedPartition = errors.New("reserved partition")
	ErrUnknownPartition  = errors.New("unknown partition")
	ErrInvalidPayload    = errors.New("payload is not valid JSON")
	ErrMissingID         = errors.New("record id is empty")
)

// Store is the local durable store. It is safe for concurrent use as long as
// the underlying engine is.
type Store struct {
	engine  kv.Engine
	catalog *partition.Catalog
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store over engine. A nil catalog means partition.Default().
func New(engine kv.Engine, catalog *partition.Catalog, opts ...Option) *Store {
	if catalog == nil {
		catalog = partition.Default()
	}
	s := &Store{engine: engine, catalog: catalog, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the partition catalog the store was built with.
func (s *Store) Catalog() *partition.Catalog {
	return s.catalog
}

// Partitions returns the record partitions, sorted.
func (s *Store) Partitions() []string {
	return s.catalog.Names()
}

// Close closes the engine.
func (s *Store) Close() error {
	return s.engine.Close()
}

// CheckPartition reports whether name is a record partition of the catalog.
func (s *Store) CheckPartition(name string) error {
	if IsReserved(name) {
		return fmt.Errorf("%w: %s", ErrReservedPartition, name)
	}
	if _, ok := s.catalog.Lookup(name); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPartition, name)
	}
	return nil
}

// IsReserved reports whether name is one of the engine-owned partitions.
func IsReserved(name string) bool {
	switch name {
	case QueuePartition, CachePartition, MetadataPartition:
		return true
	}
	return false
}

// FormatID normalizes a record identifier given as a string or an integer.
func FormatID(id any) (string, error) {
	switch v := id.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float64:
		if v != float64(int64(v)) {
			return "", fmt.Errorf("record id %v is not an integer", v)
		}
		return strconv.FormatInt(int64(v), 10), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return "", fmt.Errorf("unsupported record id type %T", id)
}
