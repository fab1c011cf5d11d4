package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybertec-postgresql/condo_sync/internal/kv"
)

func TestCache(t *testing.T) {
	s, engine, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetCache(ctx, "condominios", []string{"Solar", "Aurora"}, time.Minute))

	var got []string
	ok, err := s.GetCache(ctx, "condominios", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"Solar", "Aurora"}, got)

	clock.Advance(time.Minute)
	ok, err = s.GetCache(ctx, "condominios", &got)
	require.NoError(t, err)
	assert.False(t, ok, "entry expires at exactly ttl")

	_, err = engine.Get(ctx, CachePartition, "condominios")
	assert.ErrorIs(t, err, kv.ErrNotFound, "expired entry is evicted on read")

	ok, err = s.GetCache(ctx, "never-set", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, s.SetCache(ctx, "k", 1, 0))
}

func TestSweepExpiredCache(t *testing.T) {
	s, engine, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetCache(ctx, "short", 1, time.Second))
	require.NoError(t, s.SetCache(ctx, "long", 2, time.Hour))
	require.NoError(t, engine.Put(ctx, CachePartition, "garbage", []byte("not json"), nil))

	clock.Advance(time.Minute)
	n, err := s.SweepExpiredCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items, err := engine.List(ctx, CachePartition)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "long", items[0].Key)
}

func TestRunCacheSweeper(t *testing.T) {
	s, engine, clock := newTestStore(t)

	require.NoError(t, s.SetCache(context.Background(), "session", "x", time.Second))
	clock.Advance(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunCacheSweeper(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		items, err := engine.List(context.Background(), CachePartition)
		return err == nil && len(items) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestMetadata(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()

	ok, err := s.GetMetadata(ctx, "lastSyncAt", nil)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetMetadata(ctx, "lastSyncAt", clock.Now()))

	var got time.Time
	ok, err = s.GetMetadata(ctx, "lastSyncAt", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, clock.Now().Equal(got))
}
