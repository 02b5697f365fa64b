// Package kvstoretest holds the behaviour every kvstore backend must show.
package kvstoretest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	"github.com/drblury/adapterflow/kvstore"
	"github.com/drblury/adapterflow/stream"
)

// Open returns an empty store. The suite closes it.
type Open func(t *testing.T) kvstore.Store

func keys(t *testing.T, s kvstore.Store, prefix string) []string {
	t.Helper()
	var p []byte
	if prefix != "" {
		p = []byte(prefix)
	}
	got, err := stream.Collect[[]byte](context.Background(), s.ListKeys(context.Background(), p))
	require.NoError(t, err)
	out := make([]string, 0, len(got))
	for _, k := range got {
		out = append(out, string(k))
	}
	return out
}

// RunStoreSuite exercises a backend.
func RunStoreSuite(t *testing.T, open Open) {
	ctx := context.Background()

	t.Run("write read overwrite", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.Write(ctx, []byte("cursor/a"), []byte("1")))
		got, err := s.Read(ctx, []byte("cursor/a"))
		require.NoError(t, err)
		assert.Equal(t, "1", string(got))

		require.NoError(t, s.Write(ctx, []byte("cursor/a"), []byte("2")))
		got, err = s.Read(ctx, []byte("cursor/a"))
		require.NoError(t, err)
		assert.Equal(t, "2", string(got))
	})

	t.Run("not found", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		_, err := s.Read(ctx, []byte("missing"))
		assert.ErrorIs(t, err, errspkg.ErrNotFound)
		assert.Equal(t, kvstore.StatusNotFound, kvstore.StatusOf(err))

		err = s.Delete(ctx, []byte("missing"))
		assert.ErrorIs(t, err, errspkg.ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		require.NoError(t, s.Write(ctx, []byte("k"), []byte("v")))
		require.NoError(t, s.Delete(ctx, []byte("k")))
		_, err := s.Read(ctx, []byte("k"))
		assert.ErrorIs(t, err, errspkg.ErrNotFound)
	})

	t.Run("binary keys and values", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		key := []byte{0x00, 0xff, 0x10}
		value := []byte{0xde, 0xad, 0x00, 0xbe, 0xef}
		require.NoError(t, s.Write(ctx, key, value))
		got, err := s.Read(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, value, got)
	})

	t.Run("empty key is rejected", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		assert.ErrorIs(t, s.Write(ctx, nil, []byte("v")), errspkg.ErrValidation)
		_, err := s.Read(ctx, []byte{})
		assert.ErrorIs(t, err, errspkg.ErrValidation)
	})

	t.Run("list keys in order", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		for _, k := range []string{"b/2", "a/1", "b/1", "c"} {
			require.NoError(t, s.Write(ctx, []byte(k), []byte(k)))
		}
		assert.Equal(t, []string{"a/1", "b/1", "b/2", "c"}, keys(t, s, ""))
		assert.Equal(t, []string{"b/1", "b/2"}, keys(t, s, "b/"))
		assert.Empty(t, keys(t, s, "z"))
	})

	t.Run("scoped view", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		north := kvstore.Scoped(s, []byte("north/"))
		require.NoError(t, north.Write(ctx, []byte("cursor"), []byte("7")))
		require.NoError(t, s.Write(ctx, []byte("south/cursor"), []byte("9")))

		got, err := north.Read(ctx, []byte("cursor"))
		require.NoError(t, err)
		assert.Equal(t, "7", string(got))
		assert.Equal(t, []string{"cursor"}, keys(t, north, ""))
		assert.Equal(t, []string{"north/cursor", "south/cursor"}, keys(t, s, ""))
	})

	t.Run("typed view", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		type checkpoint struct {
			Position string `json:"position"`
			Count    int    `json:"count"`
		}
		typed := kvstore.NewTyped[checkpoint](s)
		require.NoError(t, typed.Write(ctx, "events", checkpoint{Position: "p-3", Count: 3}))

		got, err := typed.Read(ctx, "events")
		require.NoError(t, err)
		assert.Equal(t, checkpoint{Position: "p-3", Count: 3}, got)

		fallback, err := typed.ReadOr(ctx, "alarms", checkpoint{Position: "start"})
		require.NoError(t, err)
		assert.Equal(t, "start", fallback.Position)

		names, err := typed.Keys(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"events"}, names)
	})
}
