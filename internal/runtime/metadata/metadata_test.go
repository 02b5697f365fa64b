package metadata

import (
	"net/http"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	grpcmd "google.golang.org/grpc/metadata"
)

func TestCloneDoesNotAlias(t *testing.T) {
	original := Metadata{"a": "1", "b": "2"}
	clone := original.Clone()
	clone["a"] = "changed"

	assert.Equal(t, "1", original["a"])
	assert.Len(t, clone, len(original))
}

func TestCloneEmpty(t *testing.T) {
	var m Metadata
	cloned := m.Clone()
	assert.NotNil(t, cloned)
	assert.Empty(t, cloned)
}

func TestWithAndWithAll(t *testing.T) {
	base := Metadata{"foo": "bar"}
	enriched := base.With("baz", "qux")
	assert.Empty(t, base.Get("baz"))
	assert.Equal(t, "qux", enriched.Get("baz"))

	merged := enriched.WithAll(Metadata{"alpha": "beta"})
	assert.Equal(t, "beta", merged["alpha"])
	assert.Equal(t, "qux", merged["baz"])
}

func TestNewPairs(t *testing.T) {
	md := New(KeyCallerID, "operator-7", KeyCorrelationID, "c-1", "dangling")
	assert.Equal(t, Metadata{KeyCallerID: "operator-7", KeyCorrelationID: "c-1"}, md)
}

func TestWatermillPrefixing(t *testing.T) {
	md := Metadata{KeyCallerID: "operator-7"}
	wm := ToWatermill(md, "md_")
	assert.Equal(t, "operator-7", wm["md_caller_id"])

	wm["unrelated"] = "header"
	back := FromWatermill(wm, "md_")
	assert.Equal(t, md, back)

	all := FromWatermill(message.Metadata{"x": "y"}, "")
	assert.Equal(t, Metadata{"x": "y"}, all)
}

func TestGRPCRoundTrip(t *testing.T) {
	md := Metadata{KeyCallerID: "operator-7", KeyCorrelationID: "c-1"}
	out := ToGRPC(md)
	assert.Equal(t, []string{"operator-7"}, out.Get("x-adapterflow-caller-id"))

	incoming := grpcmd.Join(out, grpcmd.Pairs("authorization", "secret"))
	assert.Equal(t, md, FromGRPC(incoming))
}

func TestHTTPRoundTrip(t *testing.T) {
	md := Metadata{KeyCallerName: "Control Room"}
	h := http.Header{}
	ToHTTPHeader(md, h)
	h.Set("Content-Type", "application/json")

	assert.Equal(t, "Control Room", h.Get("X-Adapterflow-Caller-Name"))
	assert.Equal(t, md, FromHTTPHeader(h))
}
