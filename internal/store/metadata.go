package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cybertec-postgresql/condo_sync/internal/kv"
)

type metadataEntry struct {
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// SetMetadata persists a single-valued piece of process state.
func (s *Store) SetMetadata(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode metadata %s: %w", key, err)
	}
	data, err := json.Marshal(metadataEntry{Value: raw, UpdatedAt: s.now().UTC()})
	if err != nil {
		return err
	}
	if err := s.engine.Put(ctx, MetadataPartition, key, data, nil); err != nil {
		return fmt.Errorf("failed to set metadata %s: %w", key, err)
	}
	return nil
}

// GetMetadata decodes the value stored under key into dst and reports whether it exists.
func (s *Store) GetMetadata(ctx context.Context, key string, dst any) (bool, error) {
	data, err := s.engine.Get(ctx, MetadataPartition, key)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get metadata %s: %w", key, err)
	}
	var entry metadataEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return false, fmt.Errorf("failed to decode metadata %s: %w", key, err)
	}
	if dst != nil {
		if err := json.Unmarshal(entry.Value, dst); err != nil {
			return false, fmt.Errorf("failed to decode metadata %s: %w", key, err)
		}
	}
	return true, nil
}
