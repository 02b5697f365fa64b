// Package pebblestore is a kvstore backend on an embedded Pebble database.
package pebblestore

import (
	"bytes"
	"context"
	"errors"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	"github.com/drblury/adapterflow/kvstore"
	"github.com/drblury/adapterflow/stream"
)

// Options configures the store.
type Options struct {
	// DataDir is the database directory.
	DataDir string
	// FS overrides the filesystem. Tests pass vfs.NewMem().
	FS vfs.FS
	// Sync fsyncs the WAL on every write.
	Sync bool
}

// Store is a kvstore.Store backed by Pebble.
type Store struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions
}

var _ kvstore.Store = (*Store)(nil)

// Open creates or opens the database in opts.DataDir.
func Open(opts Options) (*Store, error) {
	if opts.DataDir == "" {
		return nil, errspkg.Validation("data_dir", "pebble requires a data directory")
	}
	po := &pebble.Options{}
	if opts.FS != nil {
		po.FS = opts.FS
	}
	db, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, errspkg.Store("open", nil, err)
	}
	wo := pebble.NoSync
	if opts.Sync {
		wo = pebble.Sync
	}
	return &Store{db: db, writeOpts: wo}, nil
}

func (s *Store) Write(ctx context.Context, key, value []byte) error {
	if err := kvstore.CheckKey("write", key); err != nil {
		return err
	}
	if err := errspkg.FromContext(ctx); err != nil {
		return err
	}
	return errspkg.Store("write", key, s.db.Set(key, value, s.writeOpts))
}

func (s *Store) Read(ctx context.Context, key []byte) ([]byte, error) {
	if err := kvstore.CheckKey("read", key); err != nil {
		return nil, err
	}
	if err := errspkg.FromContext(ctx); err != nil {
		return nil, err
	}
	val, closer, err := s.db.Get(key)
	if err != nil {
		return nil, errspkg.Store("read", key, translate(err))
	}
	defer closer.Close()
	return bytes.Clone(val), nil
}

// Delete reports ErrNotFound for missing keys, which Pebble itself does
// not distinguish.
func (s *Store) Delete(ctx context.Context, key []byte) error {
	if _, err := s.Read(ctx, key); err != nil {
		return err
	}
	return errspkg.Store("delete", key, s.db.Delete(key, s.writeOpts))
}

// ListKeys iterates a consistent snapshot of the key range.
func (s *Store) ListKeys(ctx context.Context, prefix []byte) *stream.Sequence[[]byte] {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: bytes.Clone(prefix),
		UpperBound: kvstore.PrefixEnd(prefix),
	})
	if err != nil {
		return stream.FromError[[]byte](errspkg.Store("list", prefix, err))
	}
	return kvstore.StreamKeys(ctx, &keyIterator{iter: iter})
}

func (s *Store) Close() error {
	return errspkg.Store("close", nil, s.db.Close())
}

func translate(err error) error {
	if errors.Is(err, pebble.ErrNotFound) {
		return errspkg.ErrNotFound
	}
	return err
}

type keyIterator struct {
	iter    *pebble.Iterator
	started bool
}

func (k *keyIterator) Next(ctx context.Context) ([]byte, bool, error) {
	if err := errspkg.FromContext(ctx); err != nil {
		return nil, false, err
	}
	var valid bool
	if !k.started {
		k.started = true
		valid = k.iter.First()
	} else {
		valid = k.iter.Next()
	}
	if !valid {
		return nil, false, errspkg.Store("list", nil, k.iter.Error())
	}
	return bytes.Clone(k.iter.Key()), true, nil
}

func (k *keyIterator) Close() error {
	return k.iter.Close()
}
