package feature

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
)

type pinger interface{ Ping() string }

type ponger interface{ Pong() string }

type pingImpl struct{}

func (pingImpl) Ping() string { return "ping" }

type pingPongImpl struct{ pingImpl }

func (pingPongImpl) Pong() string { return "pong" }

var (
	pingContract = New[pinger](BaseURI+"test/ping/", "Ping", "", "test")
	pongContract = New[ponger](BaseURI+"test/pong/", "Pong", "", "test")
)

func TestAddRejectsDuplicate(t *testing.T) {
	set := NewSet()
	require.NoError(t, Register[pinger](set, pingContract, pingImpl{}))
	err := set.Add(pingContract, pingImpl{})
	assert.ErrorIs(t, err, errspkg.ErrDuplicateFeature)
	assert.Equal(t, 1, set.Len())
}

func TestAddRejectsMismatch(t *testing.T) {
	set := NewSet()
	assert.ErrorIs(t, set.Add(pongContract, pingImpl{}), errspkg.ErrFeatureMismatch)
	assert.ErrorIs(t, set.Add(pongContract, nil), errspkg.ErrFeatureMismatch)
	assert.ErrorIs(t, set.Add(nil, pingImpl{}), errspkg.ErrValidation)
	assert.Zero(t, set.Len())
}

func TestGetUnregisteredReturnsNone(t *testing.T) {
	set := NewSet()
	impl, ok := Get(set, pingContract)
	assert.False(t, ok)
	assert.Nil(t, impl)

	var nilSet *Set
	_, ok = Get(nilSet, pingContract)
	assert.False(t, ok)

	var zero Set
	_, ok = zero.Lookup(pingContract.URI())
	assert.False(t, ok)
}

func TestGetRegistered(t *testing.T) {
	set := NewSet()
	added, err := set.AddMatching(pingPongImpl{}, pingContract, pongContract)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	p, ok := Get(set, pingContract)
	require.True(t, ok)
	assert.Equal(t, "ping", p.Ping())

	q, ok := Get(set, pongContract)
	require.True(t, ok)
	assert.Equal(t, "pong", q.Pong())

	assert.True(t, set.Has(pongContract))
	desc, ok := set.Descriptor(pingContract.URI())
	require.True(t, ok)
	assert.Equal(t, "Ping", desc.DisplayName)
}

func TestSupportedIsSortedSnapshot(t *testing.T) {
	set := NewSet()
	require.NoError(t, set.Add(pongContract, pingPongImpl{}))
	require.NoError(t, set.Add(pingContract, pingPongImpl{}))

	snapshot := set.Supported()
	require.Len(t, snapshot, 2)
	assert.Equal(t, pingContract.URI(), snapshot[0].URI)
	assert.Equal(t, pongContract.URI(), snapshot[1].URI)

	ext, err := NewExtension[pinger](ExtensionBaseURI+"vendor/ping", "Vendor ping", "")
	require.NoError(t, err)
	require.NoError(t, set.Add(ext, pingImpl{}))
	assert.Len(t, snapshot, 2, "earlier snapshots are unaffected")
	assert.Len(t, set.Extensions(), 1)
}

func TestSealBlocksAdd(t *testing.T) {
	set := NewSet()
	set.Seal()
	assert.True(t, set.Sealed())
	assert.ErrorIs(t, set.Add(pingContract, pingImpl{}), errspkg.ErrFeatureSetSealed)
}

func TestValidateExtensionURI(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		want string
		ok   bool
	}{
		{"child", "asc:extensions/vendor/op/", "asc:extensions/vendor/op/", true},
		{"missing trailing slash", "asc:extensions/vendor", "asc:extensions/vendor/", true},
		{"base itself", "asc:extensions/", "", false},
		{"other base", "asc:features/real-time-data/", "", false},
		{"relative", "vendor/op/", "", false},
		{"empty segment", "asc:extensions/vendor//op/", "", false},
		{"dot segment", "asc:extensions/vendor/../op/", "", false},
		{"query", "asc:extensions/vendor/?x=1", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateExtensionURI(tt.uri)
			if !tt.ok {
				var invalid *errspkg.InvalidExtensionURIError
				assert.ErrorAs(t, err, &invalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAddValidatesExtensionURIs(t *testing.T) {
	set := NewSet()
	bad := New[pinger]("https://example.com/ping/", "", "", "")
	var invalid *errspkg.InvalidExtensionURIError
	assert.ErrorAs(t, set.Add(bad, pingImpl{}), &invalid)
}

func TestConcurrentLookupsDuringRegistration(t *testing.T) {
	set := NewSet()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				_, _ = Get(set, pingContract)
				_ = set.Supported()
			}
		}()
	}
	require.NoError(t, set.Add(pingContract, pingImpl{}))
	wg.Wait()

	_, ok := Get(set, pingContract)
	assert.True(t, ok)
}
