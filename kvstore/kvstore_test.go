package kvstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	"github.com/drblury/adapterflow/kvstore"
	"github.com/drblury/adapterflow/kvstore/kvstoretest"
	"github.com/drblury/adapterflow/stream"
)

func TestMemoryStore(t *testing.T) {
	kvstoretest.RunStoreSuite(t, func(t *testing.T) kvstore.Store {
		return kvstore.NewMemory()
	})
}

func TestMemoryCopiesValues(t *testing.T) {
	ctx := context.Background()
	m := kvstore.NewMemory()
	value := []byte("abc")
	require.NoError(t, m.Write(ctx, []byte("k"), value))
	value[0] = 'x'

	got, err := m.Read(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
	got[1] = 'y'

	again, err := m.Read(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
	assert.Equal(t, 1, m.Len())
}

func TestMemoryClosed(t *testing.T) {
	ctx := context.Background()
	m := kvstore.NewMemory()
	require.NoError(t, m.Close())

	err := m.Write(ctx, []byte("k"), nil)
	assert.ErrorIs(t, err, errspkg.ErrStore)
	assert.ErrorIs(t, err, kvstore.ErrClosed)
	assert.Equal(t, kvstore.StatusError, kvstore.StatusOf(err))

	_, err = stream.Collect[[]byte](ctx, m.ListKeys(ctx, nil))
	assert.ErrorIs(t, err, kvstore.ErrClosed)
}

func TestMemoryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := kvstore.NewMemory().Write(ctx, []byte("k"), nil)
	assert.ErrorIs(t, err, errspkg.ErrCancelled)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, kvstore.StatusOK, kvstore.StatusOf(nil))
	assert.Equal(t, kvstore.StatusNotFound, kvstore.StatusOf(errspkg.ErrNotFound))
	assert.Equal(t, kvstore.StatusError, kvstore.StatusOf(errors.New("disk full")))
	assert.Equal(t, "not-found", kvstore.StatusNotFound.String())
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte("b"), kvstore.PrefixEnd([]byte("a")))
	assert.Equal(t, []byte("b/"), kvstore.PrefixEnd([]byte("b.")))
	assert.Equal(t, []byte{0x02}, kvstore.PrefixEnd([]byte{0x01, 0xff}))
	assert.Nil(t, kvstore.PrefixEnd([]byte{0xff, 0xff}))
	assert.Nil(t, kvstore.PrefixEnd(nil))
}

func TestStreamKeysClosesSource(t *testing.T) {
	src := &sliceSource{keys: [][]byte{[]byte("a"), []byte("b")}, closed: make(chan struct{})}
	got, err := stream.Collect[[]byte](context.Background(), kvstore.StreamKeys(context.Background(), src))
	require.NoError(t, err)
	assert.Len(t, got, 2)
	<-src.closed
}

type sliceSource struct {
	keys   [][]byte
	closed chan struct{}
}

func (s *sliceSource) Next(context.Context) ([]byte, bool, error) {
	if len(s.keys) == 0 {
		return nil, false, nil
	}
	k := s.keys[0]
	s.keys = s.keys[1:]
	return k, true, nil
}

func (s *sliceSource) Close() error {
	close(s.closed)
	return nil
}
