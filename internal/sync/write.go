package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/condo_sync/internal/store"
	"github.com/cybertec-postgresql/condo_sync/internal/transport"
)

// Write applies an application mutation. While online, and when no earlier
// mutation of the same record is still queued, it is delivered directly and
// the record is stored clean. Otherwise the record is stored dirty (or
// removed, for Delete) and the mutation is enqueued. Only storage failures
// are returned.
func (e *Engine) Write(ctx context.Context, partition string, op Operation, id string, payload json.RawMessage) error {
	if op.Method() == "" {
		return fmt.Errorf("unknown operation %q", op)
	}
	if err := e.store.CheckPartition(partition); err != nil {
		return err
	}
	if id == "" {
		var ok bool
		if id, ok = store.RecordIDOf(payload); !ok {
			return store.ErrMissingID
		}
	}
	if len(payload) == 0 {
		raw, err := json.Marshal(map[string]string{"id": id})
		if err != nil {
			return err
		}
		payload = raw
	}

	if e.conn.Online() && e.deliverDirect(ctx, partition, op, id, payload) {
		if op == Delete {
			return e.store.Delete(ctx, partition, id)
		}
		return e.store.Save(ctx, partition, id, payload, false)
	}

	var err error
	if op == Delete {
		err = e.store.Delete(ctx, partition, id)
	} else {
		err = e.store.Save(ctx, partition, id, payload, true)
	}
	if err != nil {
		return err
	}
	_, err = e.enqueue(ctx, partition, op, id, payload)
	return err
}

func (e *Engine) deliverDirect(ctx context.Context, partition string, op Operation, id string, payload json.RawMessage) bool {
	queued, err := e.store.QueueEntriesFor(ctx, partition, id)
	if err != nil || len(queued) > 0 {
		return false
	}
	route := Resolve(e.store.Catalog(), Entry{Partition: partition, Operation: op})
	err = e.transport.Send(ctx, transport.Request{
		Method:   route.Method,
		Path:     route.Path,
		RecordID: id,
		Body:     payload,
	})
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"partition": partition,
			"operation": op,
		}).Info("Direct delivery failed, queueing mutation")
		return false
	}
	return true
}

// Reconcile enqueues an Update for every dirty record that has no queued
// entry, e.g. records written before the queue was tracked. It returns the
// number of entries created.
func (e *Engine) Reconcile(ctx context.Context) (int, error) {
	n := 0
	for _, name := range e.store.Partitions() {
		dirty, err := e.store.GetDirty(ctx, name)
		if err != nil {
			return n, err
		}
		for _, rec := range dirty {
			queued, err := e.store.QueueEntriesFor(ctx, name, rec.ID)
			if err != nil {
				return n, err
			}
			if len(queued) > 0 {
				continue
			}
			if _, err := e.enqueue(ctx, name, Update, rec.ID, rec.Payload); err != nil {
				return n, err
			}
			n++
		}
	}
	if n > 0 {
		logrus.WithField("count", n).Info("Re-enqueued dirty records without queue entries")
	}
	return n, nil
}
