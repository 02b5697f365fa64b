// Package kvstore is the key-value contract adapters use for durable
// cursor and checkpoint state. Keys are opaque bytes. Read and Delete report
// a missing key with errors.ErrNotFound; every other failure is a
// *errors.StoreError.
package kvstore

import (
	"bytes"
	"context"
	"errors"

	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	"github.com/drblury/adapterflow/stream"
)

// ErrClosed is wrapped into the StoreError of operations on a closed store.
var ErrClosed = errors.New("adapterflow: store closed")

// ListBuffer bounds how many keys a listing reads ahead of its consumer.
const ListBuffer = 64

// Store persists binary values under binary keys.
type Store interface {
	// Write creates or replaces the value of key.
	Write(ctx context.Context, key, value []byte) error
	// Read returns a copy of the value of key.
	Read(ctx context.Context, key []byte) ([]byte, error)
	// Delete removes key.
	Delete(ctx context.Context, key []byte) error
	// ListKeys yields the keys starting with prefix in ascending byte order.
	// A nil prefix lists everything.
	ListKeys(ctx context.Context, prefix []byte) *stream.Sequence[[]byte]
	Close() error
}

// Status is the outcome class of a store operation.
type Status int

const (
	StatusOK Status = iota
	StatusNotFound
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not-found"
	}
	return "error"
}

// StatusOf classifies the error of a store operation.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, errspkg.ErrNotFound):
		return StatusNotFound
	}
	return StatusError
}

// StreamKeys forwards src into a bounded sequence on a background task. src
// is closed when the listing ends if it implements io.Closer.
func StreamKeys(ctx context.Context, src stream.Source[[]byte]) *stream.Sequence[[]byte] {
	dst := stream.New[[]byte](nil, stream.Bounded(ListBuffer))
	stream.Forward(ctx, src, dst, stream.WithName("kvstore.list"))
	return dst
}

// PrefixEnd returns the smallest key greater than every key with prefix,
// or nil when no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// CheckKey rejects empty keys. Backends call it before touching storage.
func CheckKey(op string, key []byte) error {
	if len(key) == 0 {
		return errspkg.Validation("key", op+" requires a non-empty key")
	}
	return nil
}
