// Package natskv is a kvstore backend on a NATS JetStream key-value bucket.
// Binary keys are hex encoded because bucket keys are restricted to a
// subject-safe alphabet; hex keeps prefixes intact.
package natskv

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	nc "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	"github.com/drblury/adapterflow/kvstore"
	"github.com/drblury/adapterflow/stream"
)

// DefaultBucket is used when Options names no bucket.
const DefaultBucket = "adapterflow"

// DefaultTimeout bounds a single bucket operation.
const DefaultTimeout = 5 * time.Second

// Options configures Open.
type Options struct {
	URL     string
	Bucket  string
	Timeout time.Duration
}

// ConnectFactory allows overriding the NATS connection for testing.
var ConnectFactory = func(url string) (*nc.Conn, error) {
	return nc.Connect(url, nc.Name("adapterflow-kv"), nc.RetryOnFailedConnect(true))
}

// Store is a kvstore.Store over a jetstream.KeyValue bucket.
type Store struct {
	kv      jetstream.KeyValue
	timeout time.Duration
	conn    *nc.Conn
}

var _ kvstore.Store = (*Store)(nil)

// Open connects and creates the bucket when it does not exist.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.URL == "" {
		return nil, errspkg.Validation("url", "nats requires a URL")
	}
	if opts.Bucket == "" {
		opts.Bucket = DefaultBucket
	}
	conn, err := ConnectFactory(opts.URL)
	if err != nil {
		return nil, errspkg.Store("connect", nil, err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, errspkg.Store("connect", nil, err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      opts.Bucket,
		Description: "adapterflow adapter state",
		History:     1,
	})
	if err != nil {
		conn.Close()
		return nil, errspkg.Store("create bucket", nil, err)
	}
	s := New(kv, opts.Timeout)
	s.conn = conn
	return s, nil
}

// New wraps an existing bucket. Close leaves its connection open.
func New(kv jetstream.KeyValue, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{kv: kv, timeout: timeout}
}

// EncodeKey maps a binary key to its bucket key.
func EncodeKey(key []byte) string { return hex.EncodeToString(key) }

// DecodeKey reverses EncodeKey.
func DecodeKey(key string) ([]byte, error) { return hex.DecodeString(key) }

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) Write(ctx context.Context, key, value []byte) error {
	if err := kvstore.CheckKey("write", key); err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.kv.Put(ctx, EncodeKey(key), value)
	return fail("write", key, err)
}

func (s *Store) Read(ctx context.Context, key []byte) ([]byte, error) {
	if err := kvstore.CheckKey("read", key); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	entry, err := s.kv.Get(ctx, EncodeKey(key))
	if err != nil {
		return nil, fail("read", key, err)
	}
	return append([]byte(nil), entry.Value()...), nil
}

// Delete purges key so it no longer shows up in listings.
func (s *Store) Delete(ctx context.Context, key []byte) error {
	if err := kvstore.CheckKey("delete", key); err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.kv.Get(ctx, EncodeKey(key)); err != nil {
		return fail("delete", key, err)
	}
	return fail("delete", key, s.kv.Purge(ctx, EncodeKey(key)))
}

// ListKeys lists the bucket and keeps the keys under prefix. Bucket
// listings are unordered, so the matching keys are sorted before the first
// one is yielded.
func (s *Store) ListKeys(ctx context.Context, prefix []byte) *stream.Sequence[[]byte] {
	return kvstore.StreamKeys(ctx, &bucketKeys{kv: s.kv, prefix: EncodeKey(prefix)})
}

func (s *Store) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}

func fail(op string, key []byte, err error) error {
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return errspkg.ErrNotFound
	}
	return errspkg.Store(op, key, err)
}

type bucketKeys struct {
	kv     jetstream.KeyValue
	prefix string
	keys   []string
	loaded bool
}

func (b *bucketKeys) Next(ctx context.Context) ([]byte, bool, error) {
	if !b.loaded {
		b.loaded = true
		keys, err := b.load(ctx)
		if err != nil {
			return nil, false, err
		}
		b.keys = keys
	}
	if len(b.keys) == 0 {
		return nil, false, nil
	}
	k := b.keys[0]
	b.keys = b.keys[1:]
	key, err := DecodeKey(k)
	if err != nil {
		return nil, false, errspkg.Store("list", nil, fmt.Errorf("foreign key %q in bucket: %w", k, err))
	}
	return key, true, nil
}

func (b *bucketKeys) load(ctx context.Context) ([]string, error) {
	lister, err := b.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fail("list", nil, err)
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for {
		select {
		case <-ctx.Done():
			return nil, errspkg.FromContext(ctx)
		case k, ok := <-lister.Keys():
			if !ok {
				slices.Sort(keys)
				return keys, nil
			}
			if strings.HasPrefix(k, b.prefix) {
				keys = append(keys, k)
			}
		}
	}
}
