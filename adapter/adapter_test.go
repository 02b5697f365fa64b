package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/adapterflow/feature"
	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	"github.com/drblury/adapterflow/internal/runtime/metadata"
)

type greeter interface{ Greet() string }

type greeterImpl struct{}

func (greeterImpl) Greet() string { return "hello" }

var greeterContract = feature.New[greeter](feature.BaseURI+"test/greet/", "Greet", "", "test")

func TestDescriptorValidate(t *testing.T) {
	assert.NoError(t, Descriptor{ID: "plant-1", Name: "Plant"}.Validate())

	err := Descriptor{ID: "bad id", Name: ""}.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrValidation)
	assert.Contains(t, err.Error(), "name")
}

func TestResolve(t *testing.T) {
	base, err := NewBase(Descriptor{ID: "plant-1", Name: "Plant"})
	require.NoError(t, err)

	_, err = Resolve(base, greeterContract)
	var unsupported *errspkg.UnsupportedFeatureError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "plant-1", unsupported.AdapterID)
	assert.Equal(t, greeterContract.URI(), unsupported.Feature)

	require.NoError(t, feature.Register[greeter](base.Features(), greeterContract, greeterImpl{}))
	g, err := Resolve(base, greeterContract)
	require.NoError(t, err)
	assert.Equal(t, "hello", g.Greet())
	assert.Equal(t, "hello", MustResolve(base, greeterContract).Greet())

	_, err = Resolve[greeter](nil, greeterContract)
	assert.ErrorIs(t, err, errspkg.ErrAdapterRequired)
}

func TestDescribe(t *testing.T) {
	base, err := NewBase(Descriptor{ID: "plant-1", Name: "Plant"})
	require.NoError(t, err)
	require.NoError(t, base.Features().Add(greeterContract, greeterImpl{}))
	ext, err := feature.NewExtension[greeter](feature.ExtensionBaseURI+"vendor/greet", "", "")
	require.NoError(t, err)
	require.NoError(t, base.Features().Add(ext, greeterImpl{}))

	info := Describe(base)
	assert.Equal(t, []string{greeterContract.URI()}, info.Features)
	assert.Equal(t, []string{"asc:extensions/vendor/greet/"}, info.Extensions)
	assert.True(t, info.Supports(ext.URI()))
	assert.False(t, info.Supports("asc:features/other/"))
}

func TestCallContextMetadataRoundTrip(t *testing.T) {
	cc := NewCallContext("u-1", "Operator")
	cc.Set("tenant", "north")
	require.NotEmpty(t, cc.CorrelationID)

	md := cc.Metadata()
	assert.Equal(t, "u-1", md[metadata.KeyCallerID])
	assert.Equal(t, "north", md["tenant"])

	back := FromMetadata(md)
	assert.Equal(t, cc.CallerID, back.CallerID)
	assert.Equal(t, cc.CallerName, back.CallerName)
	assert.Equal(t, cc.CorrelationID, back.CorrelationID)
	assert.Equal(t, "north", back.Get("tenant"))
	assert.Empty(t, back.Get(metadata.KeyCallerID))

	assert.NotEmpty(t, FromMetadata(nil).CorrelationID)
	assert.NotNil(t, OrAnonymous(nil))
}
