package kvstore

import (
	"bytes"
	"context"
	"slices"
	"strings"
	"sync"

	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	"github.com/drblury/adapterflow/stream"
)

// Memory is a Store kept in a map. It is the default backend and the one
// tests use.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Write(ctx context.Context, key, value []byte) error {
	if err := CheckKey("write", key); err != nil {
		return err
	}
	if err := errspkg.FromContext(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errspkg.Store("write", key, ErrClosed)
	}
	m.data[string(key)] = bytes.Clone(value)
	return nil
}

func (m *Memory) Read(ctx context.Context, key []byte) ([]byte, error) {
	if err := CheckKey("read", key); err != nil {
		return nil, err
	}
	if err := errspkg.FromContext(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errspkg.Store("read", key, ErrClosed)
	}
	v, ok := m.data[string(key)]
	if !ok {
		return nil, errspkg.ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (m *Memory) Delete(ctx context.Context, key []byte) error {
	if err := CheckKey("delete", key); err != nil {
		return err
	}
	if err := errspkg.FromContext(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errspkg.Store("delete", key, ErrClosed)
	}
	if _, ok := m.data[string(key)]; !ok {
		return errspkg.ErrNotFound
	}
	delete(m.data, string(key))
	return nil
}

// ListKeys lists a snapshot taken at call time.
func (m *Memory) ListKeys(ctx context.Context, prefix []byte) *stream.Sequence[[]byte] {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return stream.FromError[[]byte](errspkg.Store("list", prefix, ErrClosed))
	}
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, string(prefix)) {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()

	slices.Sort(keys)
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = []byte(k)
	}
	return stream.FromSlice(out...)
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.data = nil
	m.mu.Unlock()
	return nil
}
