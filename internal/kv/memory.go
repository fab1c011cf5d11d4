package kv

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var errClosed = errors.New("engine is closed")

type memEntry struct {
	value   []byte
	indexes map[string]string
}

// Memory is an in-process Engine. Values are copied on the way in and out so
// callers never share buffers with the engine.
type Memory struct {
	mu         sync.RWMutex
	partitions map[string]map[string]memEntry
	closed     bool
}

// NewMemory creates an empty in-memory engine.
func NewMemory() *Memory {
	return &Memory{partitions: make(map[string]map[string]memEntry)}
}

// Put implements Engine.
func (m *Memory) Put(ctx context.Context, partition, key string, value []byte, indexes map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}

	m.store(partition, key, value, indexes)
	return nil
}

// store requires m.mu held for writing.
func (m *Memory) store(partition, key string, value []byte, indexes map[string]string) {
	p, ok := m.partitions[partition]
	if !ok {
		p = make(map[string]memEntry)
		m.partitions[partition] = p
	}
	idx := make(map[string]string, len(indexes))
	for k, v := range indexes {
		idx[k] = v
	}
	p[key] = memEntry{value: clone(value), indexes: idx}
}

// Update implements Engine. fn runs under the write lock.
func (m *Memory) Update(ctx context.Context, partition, key string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}

	e, found := m.partitions[partition][key]
	change, err := fn(clone(e.value), found)
	if errors.Is(err, ErrSkip) {
		return nil
	}
	if err != nil {
		return err
	}
	if change.Delete {
		delete(m.partitions[partition], key)
		return nil
	}
	m.store(partition, key, change.Value, change.Indexes)
	return nil
}

// Get implements Engine.
func (m *Memory) Get(ctx context.Context, partition, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errClosed
	}

	e, ok := m.partitions[partition][key]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e.value), nil
}

// Delete implements Engine.
func (m *Memory) Delete(ctx context.Context, partition, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	delete(m.partitions[partition], key)
	return nil
}

// List implements Engine.
func (m *Memory) List(ctx context.Context, partition string) ([]Item, error) {
	return m.collect(ctx, partition, func(memEntry) bool { return true })
}

// ListByIndex implements Engine.
func (m *Memory) ListByIndex(ctx context.Context, partition, index, value string) ([]Item, error) {
	return m.collect(ctx, partition, func(e memEntry) bool {
		v, ok := e.indexes[index]
		return ok && v == value
	})
}

func (m *Memory) collect(ctx context.Context, partition string, match func(memEntry) bool) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errClosed
	}

	items := make([]Item, 0, len(m.partitions[partition]))
	for k, e := range m.partitions[partition] {
		if match(e) {
			items = append(items, Item{Key: k, Value: clone(e.value)})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items, nil
}

// Clear implements Engine.
func (m *Memory) Clear(ctx context.Context, partition string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	delete(m.partitions, partition)
	return nil
}

// Close implements Engine. Further calls fail.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.partitions = nil
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
