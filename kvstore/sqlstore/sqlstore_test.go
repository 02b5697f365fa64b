package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	"github.com/drblury/adapterflow/kvstore"
	"github.com/drblury/adapterflow/kvstore/kvstoretest"
	"github.com/drblury/adapterflow/stream"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{Dialect: SQLite, DSN: ":memory:"})
	require.NoError(t, err)
	return s
}

func TestSQLiteStore(t *testing.T) {
	kvstoretest.RunStoreSuite(t, func(t *testing.T) kvstore.Store {
		return openSQLite(t)
	})
}

func TestListingPagesThroughKeys(t *testing.T) {
	original := PageSize
	PageSize = 2
	t.Cleanup(func() { PageSize = original })

	ctx := context.Background()
	s := openSQLite(t)
	defer s.Close()

	for i := range 5 {
		require.NoError(t, s.Write(ctx, fmt.Appendf(nil, "tag/%d", i), []byte("v")))
	}
	require.NoError(t, s.Write(ctx, []byte("zzz"), []byte("v")))

	keys, err := stream.Collect[[]byte](ctx, s.ListKeys(ctx, []byte("tag/")))
	require.NoError(t, err)
	require.Len(t, keys, 5)
	for i, k := range keys {
		assert.Equal(t, fmt.Sprintf("tag/%d", i), string(k))
	}
}

func TestWritesDuringListing(t *testing.T) {
	original := PageSize
	PageSize = 1
	t.Cleanup(func() { PageSize = original })

	ctx := context.Background()
	s := openSQLite(t)
	defer s.Close()
	require.NoError(t, s.Write(ctx, []byte("a"), []byte("1")))
	require.NoError(t, s.Write(ctx, []byte("b"), []byte("2")))

	seq := s.ListKeys(ctx, nil)
	first, ok, err := seq.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", string(first))

	// The single SQLite connection is free between pages. Whether "c" is
	// listed depends on how far the listing read ahead.
	require.NoError(t, s.Write(ctx, []byte("c"), []byte("3")))

	rest, err := stream.Collect[[]byte](ctx, seq)
	require.NoError(t, err)
	require.NotEmpty(t, rest)
	assert.Equal(t, "b", string(rest[0]))
}

func TestOpenValidation(t *testing.T) {
	_, err := Open(context.Background(), Options{Dialect: SQLite})
	assert.ErrorIs(t, err, errspkg.ErrValidation)

	_, err = Open(context.Background(), Options{Dialect: SQLite, DSN: ":memory:", Table: "kv; DROP TABLE x"})
	assert.ErrorIs(t, err, errspkg.ErrValidation)
}

func TestNewKeepsCallerPool(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	s, err := New(context.Background(), db, SQLite, "checkpoints")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.NoError(t, db.PingContext(context.Background()))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM checkpoints`).Scan(&n))
	assert.Zero(t, n)
}

func TestPostgresQueries(t *testing.T) {
	s := &Store{dialect: Postgres, table: "kv"}

	q, args := s.pageQuery([]byte("tag/"), []byte("tag0"), true)
	assert.Equal(t, fmt.Sprintf("SELECT k FROM kv WHERE k >= $1 AND k < $2 ORDER BY k LIMIT %d", PageSize), q)
	assert.Len(t, args, 2)

	q, args = s.pageQuery([]byte("tag/3"), nil, false)
	assert.Equal(t, fmt.Sprintf("SELECT k FROM kv WHERE k > $1 ORDER BY k LIMIT %d", PageSize), q)
	assert.Len(t, args, 1)

	q, _ = s.pageQuery(nil, nil, true)
	assert.Equal(t, fmt.Sprintf("SELECT k FROM kv ORDER BY k LIMIT %d", PageSize), q)
}
