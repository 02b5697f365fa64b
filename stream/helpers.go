package stream

import (
	"context"
	"errors"
)

// ErrNoItems is returned by First when the sequence completed without
// yielding anything.
var ErrNoItems = errors.New("adapterflow: sequence completed without items")

// FromSlice returns a completed sequence holding items.
func FromSlice[T any](items ...T) *Sequence[T] {
	s := New[T](nil, Unbounded())
	for _, item := range items {
		_ = s.Write(context.Background(), item)
	}
	s.TryComplete(nil)
	return s
}

// FromError returns a sequence that yields nothing and fails with err.
func FromError[T any](err error) *Sequence[T] {
	s := New[T](nil, Unbounded())
	s.TryComplete(err)
	return s
}

// Go runs fn on a forwarding task and returns a sequence that yields its
// result once. It is the one-shot form of every feature operation: the
// caller gets the sequence immediately and fn's error becomes its terminal
// error.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error), opts ...TaskOption) *Sequence[T] {
	dst := New[T](nil, Bounded(1))
	called := false
	src := SourceFunc[T](func(ctx context.Context) (T, bool, error) {
		var zero T
		if called {
			return zero, false, nil
		}
		called = true
		v, err := fn(ctx)
		if err != nil {
			return zero, false, err
		}
		return v, true, nil
	})
	Forward[T](ctx, src, dst, opts...)
	return dst
}

// Map pumps src through fn into a new sequence with the given policy.
func Map[T, U any](ctx context.Context, src Source[T], policy Policy, fn func(T) (U, error), opts ...TaskOption) *Sequence[U] {
	dst := New[U](nil, policy)
	ForwardMap(ctx, src, dst, fn, opts...)
	return dst
}

// Collect drains src into a slice. It returns the items read so far along
// with the terminal error.
func Collect[T any](ctx context.Context, src Source[T]) ([]T, error) {
	var out []T
	for {
		item, ok, err := src.Next(ctx)
		if !ok {
			return out, err
		}
		out = append(out, item)
	}
}

// First reads one item and releases the rest of src. It is the convenience
// for callers that want a single result from a sequence.
func First[T any](ctx context.Context, src Source[T]) (T, error) {
	item, ok, err := src.Next(ctx)
	if c, isCancel := src.(interface{ Cancel(error) bool }); isCancel {
		c.Cancel(nil)
	}
	if !ok {
		if err == nil {
			err = ErrNoItems
		}
		return item, err
	}
	return item, nil
}
