package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybertec-postgresql/condo_sync/internal/kv"
)

// interleavedEngine runs beforeUpdate once, right before the next Update
// reaches the engine, to place a competing write inside a read-modify-write.
type interleavedEngine struct {
	*kv.Memory
	mu           sync.Mutex
	beforeUpdate func()
}

func (e *interleavedEngine) Update(ctx context.Context, partition, key string, fn kv.UpdateFunc) error {
	e.mu.Lock()
	hook := e.beforeUpdate
	e.beforeUpdate = nil
	e.mu.Unlock()
	if hook != nil {
		hook()
	}
	return e.Memory.Update(ctx, partition, key, fn)
}

func newInterleavedStore(t *testing.T) (*Store, *interleavedEngine, *fakeClock) {
	t.Helper()
	engine := &interleavedEngine{Memory: kv.NewMemory()}
	clock := newFakeClock()
	s := New(engine, nil, WithClock(clock.Now))
	t.Cleanup(func() { _ = s.Close() })
	return s, engine, clock
}

func TestMarkSynced_KeepsInterleavedSave(t *testing.T) {
	s, engine, _ := newInterleavedStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "boletos", "1", json.RawMessage(`{"id":1,"v":1}`), true))
	engine.beforeUpdate = func() {
		require.NoError(t, s.Save(ctx, "boletos", "1", json.RawMessage(`{"id":1,"v":2}`), true))
	}

	require.NoError(t, s.MarkSynced(ctx, "boletos", "1"))

	rec, err := s.Get(ctx, "boletos", "1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.JSONEq(t, `{"id":1,"v":2}`, string(rec.Payload), "the newer write survives")
}

func TestMarkSyncedIf_LeavesRewrittenRecordDirty(t *testing.T) {
	s, engine, _ := newInterleavedStore(t)
	ctx := context.Background()

	delivered := json.RawMessage(`{"id":1,"v":1}`)
	require.NoError(t, s.Save(ctx, "boletos", "1", delivered, true))
	engine.beforeUpdate = func() {
		require.NoError(t, s.Save(ctx, "boletos", "1", json.RawMessage(`{"id":1,"v":2}`), true))
	}

	cleared, err := s.MarkSyncedIf(ctx, "boletos", "1", delivered)
	require.NoError(t, err)
	assert.False(t, cleared)

	rec, err := s.Get(ctx, "boletos", "1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"v":2}`, string(rec.Payload))
	assert.True(t, rec.Dirty, "the undelivered payload stays dirty")

	dirty, err := s.GetDirty(ctx, "boletos")
	require.NoError(t, err)
	assert.Len(t, dirty, 1)
}

func TestMarkSyncedIf(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "chamados", "3", json.RawMessage(`{"id": 3, "status": "aberto"}`), true))

	cleared, err := s.MarkSyncedIf(ctx, "chamados", "3", json.RawMessage(`{"id":3,"status":"fechado"}`))
	require.NoError(t, err)
	assert.False(t, cleared)

	cleared, err = s.MarkSyncedIf(ctx, "chamados", "3", json.RawMessage(`{"id":3,"status":"aberto"}`))
	require.NoError(t, err)
	assert.True(t, cleared, "payloads are compared as compact json")
	rec, err := s.Get(ctx, "chamados", "3")
	require.NoError(t, err)
	assert.False(t, rec.Dirty)
	assert.False(t, rec.OriginIsLocal)

	cleared, err = s.MarkSyncedIf(ctx, "chamados", "404", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, cleared)

	_, err = s.MarkSyncedIf(ctx, "chamados", "3", json.RawMessage(`{`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestMarkSynced_ConcurrentSaves(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	const writes = 50

	require.NoError(t, s.Save(ctx, "boletos", "1", json.RawMessage(`{"id":1,"v":0}`), true))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= writes; i++ {
			assert.NoError(t, s.Save(ctx, "boletos", "1", json.RawMessage(fmt.Sprintf(`{"id":1,"v":%d}`, i)), true))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < writes; i++ {
			assert.NoError(t, s.MarkSynced(ctx, "boletos", "1"))
		}
	}()
	wg.Wait()

	rec, err := s.Get(ctx, "boletos", "1")
	require.NoError(t, err)
	assert.JSONEq(t, fmt.Sprintf(`{"id":1,"v":%d}`, writes), string(rec.Payload))
}

func TestGetCache_KeepsRefreshedEntry(t *testing.T) {
	s, engine, clock := newInterleavedStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetCache(ctx, "unidades", []int{101}, time.Minute))
	clock.Advance(2 * time.Minute)

	engine.beforeUpdate = func() {
		require.NoError(t, s.SetCache(ctx, "unidades", []int{101, 102}, time.Minute))
	}
	ok, err := s.GetCache(ctx, "unidades", nil)
	require.NoError(t, err)
	assert.False(t, ok, "the value read was expired")

	var got []int
	ok, err = s.GetCache(ctx, "unidades", &got)
	require.NoError(t, err)
	assert.True(t, ok, "the refreshed entry is not evicted")
	assert.Equal(t, []int{101, 102}, got)
}
