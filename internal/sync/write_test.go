package sync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybertec-postgresql/condo_sync/internal/store"
	"github.com/cybertec-postgresql/condo_sync/internal/transport"
)

func TestWrite_OnlineDeliversDirectly(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.engine.Write(ctx, "comunicados", Create, "", json.RawMessage(`{"id":"c1","titulo":"Assembleia"}`)))

	rec, err := f.store.Get(ctx, "comunicados", "c1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.Dirty)

	n, err := f.engine.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	calls := f.transport.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/api/comunicados", calls[0].Path)
	assert.Equal(t, "c1", calls[0].RecordID)
}

func TestWrite_OnlineFailureQueues(t *testing.T) {
	f := newFixture(t, true)
	f.transport.fail = func(int, transport.Request) error { return errors.New("timeout") }
	ctx := context.Background()

	require.NoError(t, f.engine.Write(ctx, "ocorrencias", Update, "2", json.RawMessage(`{"id":2}`)))

	rec, err := f.store.Get(ctx, "ocorrencias", "2")
	require.NoError(t, err)
	assert.True(t, rec.Dirty)

	entries, err := f.engine.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, Update, entries[0].Operation)
	assert.Equal(t, "2", entries[0].RecordID)
	assert.Zero(t, entries[0].Attempt, "direct delivery does not count as an attempt")
}

func TestWrite_KeepsOrderBehindQueuedMutation(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	require.NoError(t, f.engine.Write(ctx, "boletos", Create, "1", json.RawMessage(`{"id":1,"v":1}`)))

	f.monitor.Set(true)
	require.NoError(t, f.engine.Write(ctx, "boletos", Update, "1", json.RawMessage(`{"id":1,"v":2}`)))
	assert.Empty(t, f.transport.Calls(), "must not overtake the queued create")

	res, err := f.engine.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Succeeded: 2}, res)

	calls := f.transport.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "POST", calls[0].Method)
	assert.Equal(t, "PUT", calls[1].Method)
}

func TestWrite_Errors(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	assert.ErrorIs(t, f.engine.Write(ctx, "boletos", Create, "", json.RawMessage(`{"valor":1}`)), store.ErrMissingID)
	assert.ErrorIs(t, f.engine.Write(ctx, "assembleias", Create, "1", json.RawMessage(`{"id":1}`)), store.ErrUnknownPartition)
	assert.Error(t, f.engine.Write(ctx, "boletos", Operation("Patch"), "1", json.RawMessage(`{"id":1}`)))

	n, err := f.engine.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "failed writes enqueue nothing")
}

func TestWrite_UnknownPartitionNeverReachesRemote(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	err := f.engine.Write(ctx, "assembleias", Create, "1", json.RawMessage(`{"id":1}`))
	assert.ErrorIs(t, err, store.ErrUnknownPartition)
	err = f.engine.Write(ctx, store.CachePartition, Delete, "1", nil)
	assert.ErrorIs(t, err, store.ErrReservedPartition)

	assert.Empty(t, f.transport.Calls())
}

func TestReconcile(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	// dirty record from before the queue existed
	require.NoError(t, f.store.Save(ctx, "moradores", "m1", json.RawMessage(`{"id":"m1"}`), true))
	// dirty record with its entry
	require.NoError(t, f.engine.Write(ctx, "moradores", Create, "m2", json.RawMessage(`{"id":"m2"}`)))

	n, err := f.engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "reconcile is idempotent")

	entries, err := f.engine.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "m2", entries[0].RecordID)
	assert.Equal(t, "m1", entries[1].RecordID)
	assert.Equal(t, Update, entries[1].Operation)
}

func TestParseOperation(t *testing.T) {
	for _, op := range []Operation{Create, Update, Delete} {
		got, err := ParseOperation(string(op))
		require.NoError(t, err)
		assert.Equal(t, op, got)
	}
	_, err := ParseOperation("create")
	assert.Error(t, err)
}
