package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cybertec-postgresql/condo_sync/internal/kv"
)

// DirtyIndex is maintained for every record partition.
const DirtyIndex = "dirty"

// Record is one persisted domain object. Payload is opaque to the store
// except for the indexed top-level fields.
type Record struct {
	ID            string          `json:"id"`
	Payload       json.RawMessage `json:"payload"`
	LastSyncedAt  time.Time       `json:"lastSyncedAt"`
	OriginIsLocal bool            `json:"originIsLocal"`
	Dirty         bool            `json:"dirty"`
}

// Save upserts a record. A local write is dirty until MarkSynced.
func (s *Store) Save(ctx context.Context, partition, id string, payload json.RawMessage, isLocal bool) error {
	if err := s.CheckPartition(partition); err != nil {
		return err
	}
	if id == "" {
		return ErrMissingID
	}
	if !json.Valid(payload) {
		return fmt.Errorf("%w: %s/%s", ErrInvalidPayload, partition, id)
	}
	return s.put(ctx, partition, Record{
		ID:            id,
		Payload:       payload,
		LastSyncedAt:  s.now().UTC(),
		OriginIsLocal: isLocal,
		Dirty:         isLocal,
	})
}

// Get returns the record or nil if it does not exist.
func (s *Store) Get(ctx context.Context, partition, id string) (*Record, error) {
	if err := s.CheckPartition(partition); err != nil {
		return nil, err
	}
	data, err := s.engine.Get(ctx, partition, id)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", partition, id, err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s/%s: %w", partition, id, err)
	}
	return &rec, nil
}

// GetAll returns every record of partition ordered by id.
func (s *Store) GetAll(ctx context.Context, partition string) ([]Record, error) {
	if err := s.CheckPartition(partition); err != nil {
		return nil, err
	}
	items, err := s.engine.List(ctx, partition)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", partition, err)
	}
	return decodeRecords(partition, items)
}

// GetByIndex returns the records whose indexed field equals value. Values
// are compared as text: strings unquoted, numbers and booleans as written.
func (s *Store) GetByIndex(ctx context.Context, partition, index, value string) ([]Record, error) {
	if err := s.CheckPartition(partition); err != nil {
		return nil, err
	}
	if index != DirtyIndex && !s.hasIndex(partition, index) {
		return nil, fmt.Errorf("partition %s has no index %q", partition, index)
	}
	items, err := s.engine.ListByIndex(ctx, partition, index, value)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s by %s: %w", partition, index, err)
	}
	return decodeRecords(partition, items)
}

// GetDirty returns the records of partition awaiting confirmation by the remote side.
func (s *Store) GetDirty(ctx context.Context, partition string) ([]Record, error) {
	return s.GetByIndex(ctx, partition, DirtyIndex, "true")
}

// Delete removes a record. Missing records are ignored.
func (s *Store) Delete(ctx context.Context, partition, id string) error {
	if err := s.CheckPartition(partition); err != nil {
		return err
	}
	if err := s.engine.Delete(ctx, partition, id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", partition, id, err)
	}
	return nil
}

// ClearPartition removes every record of partition.
func (s *Store) ClearPartition(ctx context.Context, partition string) error {
	if err := s.CheckPartition(partition); err != nil {
		return err
	}
	if err := s.engine.Clear(ctx, partition); err != nil {
		return fmt.Errorf("failed to clear %s: %w", partition, err)
	}
	return nil
}

// MarkSynced clears the dirty and local flags after a confirmed delivery.
// It is a no-op for missing records and unknown partitions. The read and the
// write are one atomic engine update, so a concurrent Save is never undone.
func (s *Store) MarkSynced(ctx context.Context, partition, id string) error {
	return s.markSynced(ctx, partition, id, nil)
}

// MarkSyncedIf is MarkSynced restricted to a record whose payload still
// equals delivered (compared as compact JSON). A record rewritten since the
// delivery keeps its dirty flag; the result reports whether it was cleared.
func (s *Store) MarkSyncedIf(ctx context.Context, partition, id string, delivered json.RawMessage) (bool, error) {
	want, err := compactJSON(delivered)
	if err != nil {
		return false, fmt.Errorf("%w: %s/%s", ErrInvalidPayload, partition, id)
	}
	cleared := false
	err = s.markSynced(ctx, partition, id, func(rec Record) bool {
		got, err := compactJSON(rec.Payload)
		cleared = err == nil && bytes.Equal(got, want)
		return cleared
	})
	return cleared && err == nil, err
}

func (s *Store) markSynced(ctx context.Context, partition, id string, match func(Record) bool) error {
	if s.CheckPartition(partition) != nil {
		return nil
	}
	err := s.engine.Update(ctx, partition, id, func(current []byte, found bool) (kv.Change, error) {
		if !found {
			return kv.Change{}, kv.ErrSkip
		}
		rec, err := decodeRecord(current)
		if err != nil {
			return kv.Change{}, fmt.Errorf("failed to decode %s/%s: %w", partition, id, err)
		}
		if match != nil && !match(rec) {
			return kv.Change{}, kv.ErrSkip
		}
		rec.Dirty = false
		rec.OriginIsLocal = false
		rec.LastSyncedAt = s.now().UTC()
		data, indexes, err := s.encode(partition, rec)
		if err != nil {
			return kv.Change{}, err
		}
		return kv.Change{Value: data, Indexes: indexes}, nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark %s/%s synced: %w", partition, id, err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, partition string, rec Record) error {
	data, indexes, err := s.encode(partition, rec)
	if err != nil {
		return err
	}
	if err := s.engine.Put(ctx, partition, rec.ID, data, indexes); err != nil {
		return fmt.Errorf("failed to save %s/%s: %w", partition, rec.ID, err)
	}
	return nil
}

func (s *Store) encode(partition string, rec Record) ([]byte, map[string]string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode %s/%s: %w", partition, rec.ID, err)
	}
	indexes := indexValues(rec.Payload, s.catalog.Indexes(partition))
	indexes[DirtyIndex] = fmt.Sprint(rec.Dirty)
	return data, indexes, nil
}

func compactJSON(raw json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Store) hasIndex(partition, index string) bool {
	for _, name := range s.catalog.Indexes(partition) {
		if name == index {
			return true
		}
	}
	return false
}

// indexValues extracts the scalar top-level fields named by fields.
// Missing, null and non-scalar fields are not indexed.
func indexValues(payload json.RawMessage, fields []string) map[string]string {
	out := make(map[string]string, len(fields)+1)
	if len(fields) == 0 {
		return out
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return out
	}
	for _, f := range fields {
		if v, ok := scalarText(obj[f]); ok {
			out[f] = v
		}
	}
	return out
}

func scalarText(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case '{', '[', 'n':
		return "", false
	}
	return string(raw), true
}

// RecordIDOf returns the payload's top-level "id" field as text.
func RecordIDOf(payload json.RawMessage) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return "", false
	}
	id, ok := scalarText(obj["id"])
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func decodeRecord(data []byte) (Record, error) {
	var rec Record
	err := json.Unmarshal(data, &rec)
	return rec, err
}

func decodeRecords(partition string, items []kv.Item) ([]Record, error) {
	out := make([]Record, 0, len(items))
	for _, it := range items {
		rec, err := decodeRecord(it.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s/%s: %w", partition, it.Key, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
