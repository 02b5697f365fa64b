package kvstore

import (
	"bytes"
	"context"

	"github.com/drblury/adapterflow/internal/runtime/jsoncodec"
	"github.com/drblury/adapterflow/stream"
)

// scoped prefixes every key before it reaches the parent store.
type scoped struct {
	parent Store
	prefix []byte
}

// Scoped returns a view of store confined to keys starting with prefix.
// Keys passed to and listed by the view have the prefix removed. Closing the
// view leaves store open.
func Scoped(store Store, prefix []byte) Store {
	return &scoped{parent: store, prefix: bytes.Clone(prefix)}
}

func (s *scoped) key(k []byte) []byte {
	if len(k) == 0 {
		return nil
	}
	return append(bytes.Clone(s.prefix), k...)
}

func (s *scoped) Write(ctx context.Context, key, value []byte) error {
	if err := CheckKey("write", key); err != nil {
		return err
	}
	return s.parent.Write(ctx, s.key(key), value)
}

func (s *scoped) Read(ctx context.Context, key []byte) ([]byte, error) {
	if err := CheckKey("read", key); err != nil {
		return nil, err
	}
	return s.parent.Read(ctx, s.key(key))
}

func (s *scoped) Delete(ctx context.Context, key []byte) error {
	if err := CheckKey("delete", key); err != nil {
		return err
	}
	return s.parent.Delete(ctx, s.key(key))
}

func (s *scoped) ListKeys(ctx context.Context, prefix []byte) *stream.Sequence[[]byte] {
	full := append(bytes.Clone(s.prefix), prefix...)
	n := len(s.prefix)
	return stream.Map(ctx, s.parent.ListKeys(ctx, full), stream.Bounded(ListBuffer), func(k []byte) ([]byte, error) {
		return k[n:], nil
	}, stream.WithName("kvstore.scoped.list"))
}

func (s *scoped) Close() error { return nil }

// Typed stores values of T as JSON in a Store.
type Typed[T any] struct {
	store Store
}

// NewTyped wraps store.
func NewTyped[T any](store Store) Typed[T] {
	return Typed[T]{store: store}
}

// Write encodes v and stores it under key.
func (t Typed[T]) Write(ctx context.Context, key string, v T) error {
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		return err
	}
	return t.store.Write(ctx, []byte(key), data)
}

// Read decodes the value under key.
func (t Typed[T]) Read(ctx context.Context, key string) (T, error) {
	data, err := t.store.Read(ctx, []byte(key))
	if err != nil {
		var zero T
		return zero, err
	}
	return jsoncodec.DecodeAs[T](data)
}

// ReadOr returns fallback when key does not exist.
func (t Typed[T]) ReadOr(ctx context.Context, key string, fallback T) (T, error) {
	v, err := t.Read(ctx, key)
	if StatusOf(err) == StatusNotFound {
		return fallback, nil
	}
	return v, err
}

func (t Typed[T]) Delete(ctx context.Context, key string) error {
	return t.store.Delete(ctx, []byte(key))
}

// Keys lists the keys starting with prefix.
func (t Typed[T]) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := stream.Collect[[]byte](ctx, t.store.ListKeys(ctx, []byte(prefix)))
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out, err
}
