// Package kvtest holds the behavioural tests every kv.Engine implementation must pass.
package kvtest

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybertec-postgresql/condo_sync/internal/kv"
)

// Run exercises engine through the full kv.Engine contract. newEngine must
// return an empty engine; it is called once per subtest.
func Run(t *testing.T, newEngine func(t *testing.T) kv.Engine) {
	t.Helper()

	t.Run("put and get", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		require.NoError(t, e.Put(ctx, "boletos", "1", []byte(`{"id":1}`), nil))
		got, err := e.Get(ctx, "boletos", "1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":1}`, string(got))
	})

	t.Run("get missing key", func(t *testing.T) {
		e := newEngine(t)
		_, err := e.Get(context.Background(), "boletos", "missing")
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("put overwrites", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		require.NoError(t, e.Put(ctx, "boletos", "1", []byte(`{"v":1}`), map[string]string{"status": "pendente"}))
		require.NoError(t, e.Put(ctx, "boletos", "1", []byte(`{"v":2}`), map[string]string{"status": "pago"}))

		got, err := e.Get(ctx, "boletos", "1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":2}`, string(got))

		old, err := e.ListByIndex(ctx, "boletos", "status", "pendente")
		require.NoError(t, err)
		assert.Empty(t, old, "stale index entries must be replaced")

		current, err := e.ListByIndex(ctx, "boletos", "status", "pago")
		require.NoError(t, err)
		require.Len(t, current, 1)
		assert.Equal(t, "1", current[0].Key)
	})

	t.Run("partitions are isolated", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		require.NoError(t, e.Put(ctx, "boletos", "1", []byte(`"b"`), nil))
		require.NoError(t, e.Put(ctx, "chamados", "1", []byte(`"c"`), nil))

		got, err := e.Get(ctx, "chamados", "1")
		require.NoError(t, err)
		assert.Equal(t, `"c"`, string(got))

		require.NoError(t, e.Clear(ctx, "boletos"))
		_, err = e.Get(ctx, "boletos", "1")
		assert.ErrorIs(t, err, kv.ErrNotFound)
		_, err = e.Get(ctx, "chamados", "1")
		assert.NoError(t, err)
	})

	t.Run("list is ordered by key", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		for _, k := range []string{"c", "a", "b"} {
			require.NoError(t, e.Put(ctx, "moradores", k, []byte(`"`+k+`"`), nil))
		}
		items, err := e.List(ctx, "moradores")
		require.NoError(t, err)
		require.Len(t, items, 3)
		assert.Equal(t, []string{"a", "b", "c"}, keys(items))
		assert.Equal(t, `"a"`, string(items[0].Value))
	})

	t.Run("list empty partition", func(t *testing.T) {
		e := newEngine(t)
		items, err := e.List(context.Background(), "nothing")
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("list by index", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		require.NoError(t, e.Put(ctx, "boletos", "1", []byte(`1`), map[string]string{"condominioId": "c1", "dirty": "true"}))
		require.NoError(t, e.Put(ctx, "boletos", "2", []byte(`2`), map[string]string{"condominioId": "c2", "dirty": "true"}))
		require.NoError(t, e.Put(ctx, "boletos", "3", []byte(`3`), map[string]string{"condominioId": "c1", "dirty": "false"}))

		items, err := e.ListByIndex(ctx, "boletos", "condominioId", "c1")
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "3"}, keys(items))

		items, err = e.ListByIndex(ctx, "boletos", "dirty", "true")
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2"}, keys(items))

		items, err = e.ListByIndex(ctx, "boletos", "unknown", "x")
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("delete removes index entries", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		require.NoError(t, e.Put(ctx, "reservas", "r1", []byte(`{}`), map[string]string{"area": "salao"}))
		require.NoError(t, e.Delete(ctx, "reservas", "r1"))
		require.NoError(t, e.Delete(ctx, "reservas", "r1"), "deleting twice is not an error")

		_, err := e.Get(ctx, "reservas", "r1")
		assert.ErrorIs(t, err, kv.ErrNotFound)
		items, err := e.ListByIndex(ctx, "reservas", "area", "salao")
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("update replaces value and indexes", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		require.NoError(t, e.Put(ctx, "boletos", "1", []byte(`{"v":1}`), map[string]string{"dirty": "true"}))
		err := e.Update(ctx, "boletos", "1", func(current []byte, found bool) (kv.Change, error) {
			assert.True(t, found)
			assert.JSONEq(t, `{"v":1}`, string(current))
			return kv.Change{Value: []byte(`{"v":2}`), Indexes: map[string]string{"dirty": "false"}}, nil
		})
		require.NoError(t, err)

		got, err := e.Get(ctx, "boletos", "1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":2}`, string(got))
		dirty, err := e.ListByIndex(ctx, "boletos", "dirty", "true")
		require.NoError(t, err)
		assert.Empty(t, dirty)
	})

	t.Run("update of missing key", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		err := e.Update(ctx, "boletos", "1", func(current []byte, found bool) (kv.Change, error) {
			assert.False(t, found)
			assert.Nil(t, current)
			return kv.Change{}, kv.ErrSkip
		})
		require.NoError(t, err)
		_, err = e.Get(ctx, "boletos", "1")
		assert.ErrorIs(t, err, kv.ErrNotFound)

		require.NoError(t, e.Update(ctx, "boletos", "1", func([]byte, bool) (kv.Change, error) {
			return kv.Change{Value: []byte(`"created"`)}, nil
		}))
		got, err := e.Get(ctx, "boletos", "1")
		require.NoError(t, err)
		assert.Equal(t, `"created"`, string(got))
	})

	t.Run("update delete and failure", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		require.NoError(t, e.Put(ctx, "cache", "k", []byte(`"v"`), map[string]string{"x": "1"}))

		boom := errors.New("boom")
		err := e.Update(ctx, "cache", "k", func([]byte, bool) (kv.Change, error) {
			return kv.Change{Value: []byte(`"lost"`)}, boom
		})
		assert.ErrorIs(t, err, boom)
		got, err := e.Get(ctx, "cache", "k")
		require.NoError(t, err)
		assert.Equal(t, `"v"`, string(got), "a failed update leaves the value untouched")

		require.NoError(t, e.Update(ctx, "cache", "k", func([]byte, bool) (kv.Change, error) {
			return kv.Change{Delete: true}, nil
		}))
		_, err = e.Get(ctx, "cache", "k")
		assert.ErrorIs(t, err, kv.ErrNotFound)
		items, err := e.ListByIndex(ctx, "cache", "x", "1")
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("concurrent updates do not lose writes", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()
		const workers = 20

		require.NoError(t, e.Put(ctx, "metadata", "counter", []byte("0"), nil))

		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- e.Update(ctx, "metadata", "counter", func(current []byte, _ bool) (kv.Change, error) {
					n, err := strconv.Atoi(string(current))
					if err != nil {
						return kv.Change{}, err
					}
					return kv.Change{Value: []byte(strconv.Itoa(n + 1))}, nil
				})
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := e.Get(ctx, "metadata", "counter")
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(workers), string(got))
	})

	t.Run("values are copied", func(t *testing.T) {
		e := newEngine(t)
		ctx := context.Background()

		buf := []byte(`"original"`)
		require.NoError(t, e.Put(ctx, "cache", "k", buf, nil))
		copy(buf, `"mutated!"`)

		got, err := e.Get(ctx, "cache", "k")
		require.NoError(t, err)
		assert.Equal(t, `"original"`, string(got))
	})
}

func keys(items []kv.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Key
	}
	return out
}
