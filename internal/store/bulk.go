package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// ExportAll returns the payloads of every record partition. Reserved
// partitions are not included. The snapshot is read partition by partition
// and is not transactional.
func (s *Store) ExportAll(ctx context.Context) (map[string][]json.RawMessage, error) {
	out := make(map[string][]json.RawMessage)
	for _, name := range s.catalog.Names() {
		recs, err := s.GetAll(ctx, name)
		if err != nil {
			return nil, err
		}
		payloads := make([]json.RawMessage, 0, len(recs))
		for _, rec := range recs {
			payloads = append(payloads, rec.Payload)
		}
		out[name] = payloads
	}
	return out, nil
}

// ImportAll upserts every payload as a clean record keyed by its "id" field
// and returns the number of records written. Importing the same data twice
// yields the same records.
func (s *Store) ImportAll(ctx context.Context, data map[string][]json.RawMessage) (int, error) {
	n := 0
	for name, payloads := range data {
		if err := s.CheckPartition(name); err != nil {
			return n, err
		}
		for i, payload := range payloads {
			id, ok := RecordIDOf(payload)
			if !ok {
				return n, fmt.Errorf("%s item %d: %w", name, i, ErrMissingID)
			}
			if err := s.Save(ctx, name, id, payload, false); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}
