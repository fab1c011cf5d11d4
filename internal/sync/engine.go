// Package sync drains the durable queue of offline mutations against the
// remote transport. Draining is single-flight, strictly sequential in
// enqueue order and bounded to MaxAttempts deliveries per entry.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/condo_sync/internal/store"
	"github.com/cybertec-postgresql/condo_sync/internal/transport"
)

const (
	// DefaultMaxAttempts is the number of failed deliveries after which an entry is dropped.
	DefaultMaxAttempts = 3
	// DefaultInterval is the retry timer period while online with a non-empty queue.
	DefaultInterval = 30 * time.Second
	// LastSyncKey is the metadata key holding the time of the last drain that delivered anything.
	LastSyncKey = "lastSyncAt"
)

// Connectivity is the online/offline signal gating automatic draining.
type Connectivity interface {
	Online() bool
	Subscribe() (<-chan bool, func())
}

// Result summarizes a drain pass.
type Result struct {
	Succeeded int
	Dropped   int
	// Skipped is set when the pass did not run: offline or another drain in progress.
	Skipped bool
}

// Engine is the synchronization engine.
type Engine struct {
	store       *store.Store
	transport   transport.Transport
	conn        Connectivity
	maxAttempts int
	interval    time.Duration
	now         func() time.Time
	hooks       []func(Result)

	draining atomic.Bool
	wake     chan struct{}

	clockMu      gosync.Mutex
	lastEnqueued time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithDrainHook registers fn to be called after every pass that ran.
func WithDrainHook(fn func(Result)) Option {
	return func(e *Engine) { e.hooks = append(e.hooks, fn) }
}

// New creates an engine over st delivering through tr.
func New(st *store.Store, tr transport.Transport, conn Connectivity, opts ...Option) *Engine {
	e := &Engine{
		store:       st,
		transport:   tr,
		conn:        conn,
		maxAttempts: DefaultMaxAttempts,
		interval:    DefaultInterval,
		now:         time.Now,
		wake:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enqueue appends a mutation to the queue. The payload is copied; its "id"
// field, if any, names the record to mark synced after delivery.
func (e *Engine) Enqueue(ctx context.Context, partition string, op Operation, payload json.RawMessage) (Entry, error) {
	recordID, _ := store.RecordIDOf(payload)
	return e.enqueue(ctx, partition, op, recordID, payload)
}

func (e *Engine) enqueue(ctx context.Context, partition string, op Operation, recordID string, payload json.RawMessage) (Entry, error) {
	if op.Method() == "" {
		return Entry{}, fmt.Errorf("unknown operation %q", op)
	}
	if partition == "" || store.IsReserved(partition) {
		return Entry{}, fmt.Errorf("invalid partition %q", partition)
	}
	if !json.Valid(payload) {
		return Entry{}, fmt.Errorf("%w: %s %s", store.ErrInvalidPayload, partition, op)
	}

	at := e.enqueueTime()
	entry := Entry{
		ID:         newEntryID(partition, op, at),
		Partition:  partition,
		Operation:  op,
		RecordID:   recordID,
		Payload:    append(json.RawMessage(nil), payload...),
		EnqueuedAt: at,
	}
	if err := e.persist(ctx, entry); err != nil {
		return Entry{}, err
	}

	logrus.WithFields(logrus.Fields{
		"entry":     entry.ID,
		"partition": partition,
		"operation": op,
	}).Debug("Mutation enqueued")

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return entry, nil
}

// enqueueTime is strictly increasing so that enqueue order survives a coarse clock.
func (e *Engine) enqueueTime() time.Time {
	e.clockMu.Lock()
	defer e.clockMu.Unlock()
	at := e.now().UTC()
	if !at.After(e.lastEnqueued) {
		at = e.lastEnqueued.Add(time.Nanosecond)
	}
	e.lastEnqueued = at
	return at
}

func (e *Engine) persist(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode queue entry %s: %w", entry.ID, err)
	}
	target := ""
	if entry.RecordID != "" {
		target = store.Target(entry.Partition, entry.RecordID)
	}
	return e.store.PutQueueEntry(ctx, entry.ID, target, data)
}

// Entries returns the queued entries in delivery order.
func (e *Engine) Entries(ctx context.Context) ([]Entry, error) {
	entries, _, err := e.snapshot(ctx)
	return entries, err
}

// Pending returns the queue length.
func (e *Engine) Pending(ctx context.Context) (int, error) {
	return e.store.QueueLen(ctx)
}

// snapshot reads and orders the queue. Entries that cannot be decoded are
// returned separately by id.
func (e *Engine) snapshot(ctx context.Context) ([]Entry, []string, error) {
	items, err := e.store.QueueEntries(ctx)
	if err != nil {
		return nil, nil, err
	}
	entries := make([]Entry, 0, len(items))
	var corrupt []string
	for _, it := range items {
		var entry Entry
		if err := json.Unmarshal(it.Value, &entry); err != nil || entry.Operation.Method() == "" {
			corrupt = append(corrupt, it.Key)
			continue
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].before(entries[j]) })
	return entries, corrupt, nil
}

// Drain delivers every queued entry once, in order. It returns immediately
// with Skipped set when offline or when another drain is running. Delivery
// failures are recorded on the entries, never returned; the error is only
// set when the queue could not be read.
func (e *Engine) Drain(ctx context.Context) (Result, error) {
	if !e.conn.Online() {
		return Result{Skipped: true}, nil
	}
	if !e.draining.CompareAndSwap(false, true) {
		logrus.Debug("Drain already in progress")
		return Result{Skipped: true}, nil
	}
	defer e.draining.Store(false)

	entries, corrupt, err := e.snapshot(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read sync queue: %w", err)
	}

	var res Result
	for _, id := range corrupt {
		logrus.WithField("entry", id).Error("Dropping undecodable queue entry")
		if err := e.store.DeleteQueueEntry(ctx, id); err != nil {
			logrus.WithError(err).WithField("entry", id).Error("Failed to remove queue entry")
			continue
		}
		res.Dropped++
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		switch e.deliver(ctx, entry) {
		case delivered:
			res.Succeeded++
		case dropped:
			res.Dropped++
		}
	}

	if res.Succeeded > 0 {
		if err := e.store.SetMetadata(ctx, LastSyncKey, e.now().UTC()); err != nil {
			logrus.WithError(err).Warn("Failed to record last sync time")
		}
	}
	if len(entries) > 0 || res.Dropped > 0 {
		logrus.WithFields(logrus.Fields{
			"queued":    len(entries),
			"succeeded": res.Succeeded,
			"dropped":   res.Dropped,
		}).Info("Sync queue drained")
	}
	for _, hook := range e.hooks {
		hook(res)
	}
	return res, nil
}

type outcome int

const (
	requeued outcome = iota
	delivered
	dropped
	aborted
)

// deliver attempts one entry. Storage failures after a delivery are logged,
// they do not stop the pass.
func (e *Engine) deliver(ctx context.Context, entry Entry) outcome {
	route := Resolve(e.store.Catalog(), entry)
	logger := logrus.WithFields(logrus.Fields{
		"entry":     entry.ID,
		"partition": entry.Partition,
		"operation": entry.Operation,
		"path":      route.Path,
	})

	err := e.transport.Send(ctx, transport.Request{
		Method:   route.Method,
		Path:     route.Path,
		RecordID: entry.RecordID,
		EntryID:  entry.ID,
		Body:     entry.Payload,
	})
	if err == nil {
		if err := e.store.DeleteQueueEntry(ctx, entry.ID); err != nil {
			logger.WithError(err).Error("Delivered entry could not be removed from the queue")
		}
		if entry.RecordID != "" && entry.Operation != Delete {
			e.markSynced(ctx, entry, logger)
		}
		logger.Debug("Entry delivered")
		return delivered
	}

	// shutting down is not the remote's fault
	if ctx.Err() != nil {
		logger.WithError(err).Debug("Delivery interrupted")
		return aborted
	}

	entry.Attempt++
	entry.LastError = err.Error()
	logger = logger.WithField("attempt", entry.Attempt).WithError(err)

	if entry.Attempt >= e.maxAttempts {
		if err := e.store.DeleteQueueEntry(ctx, entry.ID); err != nil {
			logger.WithField("storage_error", err).Error("Failed to remove dropped entry")
			return requeued
		}
		logger.Error("Delivery failed, dropping entry")
		return dropped
	}
	if err := e.persist(ctx, entry); err != nil {
		logger.WithField("storage_error", err).Error("Failed to persist entry attempt")
	} else {
		logger.Warn("Delivery failed, will retry")
	}
	return requeued
}

// markSynced clears the record's dirty flag unless a later mutation of the
// record is still queued or the stored payload is no longer the one delivered.
func (e *Engine) markSynced(ctx context.Context, entry Entry, logger *logrus.Entry) {
	queued, err := e.store.QueueEntriesFor(ctx, entry.Partition, entry.RecordID)
	if err != nil {
		logger.WithError(err).Error("Failed to read queued entries of record")
		return
	}
	if len(queued) > 0 {
		logger.WithField("queued", len(queued)).Debug("Record stays dirty behind queued entries")
		return
	}
	cleared, err := e.store.MarkSyncedIf(ctx, entry.Partition, entry.RecordID, entry.Payload)
	if err != nil {
		logger.WithError(err).Error("Failed to mark record synced")
		return
	}
	if !cleared {
		logger.Debug("Record changed since delivery, left dirty")
	}
}

// LastSyncAt returns the time of the last drain that delivered anything.
func (e *Engine) LastSyncAt(ctx context.Context) (time.Time, bool, error) {
	var t time.Time
	ok, err := e.store.GetMetadata(ctx, LastSyncKey, &t)
	return t, ok, err
}
