package store

import (
	"context"
	"fmt"

	"github.com/cybertec-postgresql/condo_sync/internal/kv"
)

// targetIndex links a queue entry to the record it mutates.
const targetIndex = "target"

// Target is the queue index value of a record.
func Target(partition, id string) string {
	return partition + "/" + id
}

// PutQueueEntry durably stores a serialized queue entry. The sync engine owns
// the entry format; target is the Target of the mutated record, if any.
func (s *Store) PutQueueEntry(ctx context.Context, id, target string, data []byte) error {
	var indexes map[string]string
	if target != "" {
		indexes = map[string]string{targetIndex: target}
	}
	if err := s.engine.Put(ctx, QueuePartition, id, data, indexes); err != nil {
		return fmt.Errorf("failed to store queue entry %s: %w", id, err)
	}
	return nil
}

// DeleteQueueEntry removes a queue entry.
func (s *Store) DeleteQueueEntry(ctx context.Context, id string) error {
	if err := s.engine.Delete(ctx, QueuePartition, id); err != nil {
		return fmt.Errorf("failed to delete queue entry %s: %w", id, err)
	}
	return nil
}

// QueueEntries returns all stored queue entries in id order.
func (s *Store) QueueEntries(ctx context.Context) ([]kv.Item, error) {
	items, err := s.engine.List(ctx, QueuePartition)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	return items, nil
}

// QueueEntriesFor returns the queue entries targeting a record.
func (s *Store) QueueEntriesFor(ctx context.Context, partition, id string) ([]kv.Item, error) {
	items, err := s.engine.ListByIndex(ctx, QueuePartition, targetIndex, Target(partition, id))
	if err != nil {
		return nil, fmt.Errorf("failed to query queue: %w", err)
	}
	return items, nil
}

// QueueLen returns the number of stored queue entries.
func (s *Store) QueueLen(ctx context.Context) (int, error) {
	items, err := s.QueueEntries(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}
