package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/adapterflow/feature"
	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
)

func TestRequestValidation(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	later := now.Add(time.Hour)

	tests := []struct {
		name  string
		req   Validator
		field string
	}{
		{"find tags paging", FindTagsRequest{PageSize: 0, Page: 1}, "pageSize"},
		{"get tags empty", GetTagsRequest{}, "tags"},
		{"get tags blank entry", GetTagsRequest{Tags: []string{"a", " "}}, "tags[1]"},
		{"raw reversed range", ReadRawTagValuesRequest{Tags: []string{"a"}, UtcStartTime: later, UtcEndTime: now}, "utcEndTime"},
		{"raw negative count", ReadRawTagValuesRequest{Tags: []string{"a"}, UtcStartTime: now, UtcEndTime: later, SampleCount: -1}, "sampleCount"},
		{"plot intervals", ReadPlotTagValuesRequest{Tags: []string{"a"}, UtcStartTime: now, UtcEndTime: later}, "intervals"},
		{"processed interval", ReadProcessedTagValuesRequest{Tags: []string{"a"}, UtcStartTime: now, UtcEndTime: later, DataFunctions: []string{DataFunctionAverage}}, "sampleInterval"},
		{"processed too many buckets", ReadProcessedTagValuesRequest{Tags: []string{"a"}, UtcStartTime: now, UtcEndTime: later, SampleInterval: time.Millisecond, DataFunctions: []string{DataFunctionAverage}}, "sampleInterval"},
		{"processed functions", ReadProcessedTagValuesRequest{Tags: []string{"a"}, UtcStartTime: now, UtcEndTime: later, SampleInterval: time.Minute}, "dataFunctions"},
		{"at times", ReadTagValuesAtTimesRequest{Tags: []string{"a"}}, "utcSampleTimes"},
		{"subscription type", CreateEventMessageSubscriptionRequest{SubscriptionType: "Sometimes"}, "subscriptionType"},
		{"cursor page size", ReadEventMessagesUsingCursorRequest{}, "pageSize"},
		{"time range direction", ReadEventMessagesForTimeRangeRequest{UtcStartTime: now, UtcEndTime: later, Direction: "Sideways", PageSize: 1, Page: 1}, "direction"},
		{"nodes", GetAssetModelNodesRequest{}, "nodes"},
		{"annotation ref", DeleteAnnotationRequest{TagID: "a"}, "annotationId"},
		{"annotation range end", CreateAnnotationRequest{TagID: "a", Annotation: AnnotationFields{AnnotationType: AnnotationTimeRange, UtcStartTime: now, Value: "x"}}, "annotation.utcEndTime"},
		{"extension payload", InvokeExtensionRequest{OperationID: "op", Payload: []byte("{")}, "payload"},
		{"write item", WriteTagValueItem{TagID: "a"}, "utcSampleTime"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errspkg.ErrValidation)
			var ve *errspkg.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestValidRequestsPass(t *testing.T) {
	now := time.Now().UTC()
	end := now.Add(time.Hour)
	valid := []Validator{
		FindTagsRequest{Name: "*", PageSize: 10, Page: 1},
		ReadRawTagValuesRequest{Tags: []string{"a"}, UtcStartTime: now, UtcEndTime: end, BoundaryType: BoundaryOutside},
		ReadPlotTagValuesRequest{Tags: []string{"a"}, UtcStartTime: now, UtcEndTime: end, Intervals: 100},
		ReadProcessedTagValuesRequest{Tags: []string{"a"}, UtcStartTime: now, UtcEndTime: end, SampleInterval: time.Minute, DataFunctions: []string{DataFunctionMaximum}},
		CreateEventMessageSubscriptionRequest{},
		CreateAnnotationRequest{TagID: "a", Annotation: AnnotationFields{AnnotationType: AnnotationTimeRange, UtcStartTime: now, UtcEndTime: &end, Value: "note"}},
		InvokeExtensionRequest{OperationID: "op", Payload: []byte(`{"x":1}`)},
	}
	for _, v := range valid {
		assert.NoError(t, v.Validate(), "%T", v)
	}
	assert.NoError(t, Validate(EmptyRequest{}))
}

func TestSnapshotSubscriptionTopicIsOrderIndependent(t *testing.T) {
	a := CreateSnapshotTagValueSubscriptionRequest{Tags: []string{"b", "a"}}
	b := CreateSnapshotTagValueSubscriptionRequest{Tags: []string{"a", "b"}}
	assert.Equal(t, a.Topic(), b.Topic())
	assert.Equal(t, []string{"b", "a"}, a.Tags, "Topic must not reorder the request")

	c := CreateSnapshotTagValueSubscriptionRequest{Tags: []string{"a"}, PublishInterval: time.Second}
	assert.Equal(t, "a@1s", c.Topic())
}

func TestBuiltinsAreUniqueAndUnderBase(t *testing.T) {
	seen := map[string]bool{}
	for _, k := range Builtins() {
		uri := k.Descriptor().URI
		assert.False(t, seen[uri], "duplicate %s", uri)
		seen[uri] = true
		assert.False(t, k.Descriptor().IsExtension(), uri)
	}
	_, ok := Builtin(EventMessagePushFeature.URI())
	assert.True(t, ok)
}

func TestLookupOperation(t *testing.T) {
	op, ok := LookupOperation(SnapshotTagValuePushFeature.URI(), OpSubscribeSnapshotTagValues)
	require.True(t, ok)
	assert.Equal(t, Push, op.Kind)

	_, ok = LookupOperation(TagSearchFeature.URI(), OpReadRawTagValues)
	assert.False(t, ok)

	op, ok = LookupOperation(feature.ExtensionBaseURI+"vendor/x/", OpExtensionInvoke)
	require.True(t, ok)
	assert.Equal(t, Unary, op.Kind)
}

func TestCompositeHealthTakesWorst(t *testing.T) {
	r := Composite("adapter",
		HealthCheckResult{DisplayName: "a", Status: Healthy},
		HealthCheckResult{DisplayName: "b", Status: Degraded},
	)
	assert.Equal(t, Degraded, r.Status)
	assert.Equal(t, Healthy, Composite("empty").Status)
}

func TestTagValueFloat(t *testing.T) {
	f, ok := TagValue{Value: 3}.Float()
	assert.True(t, ok)
	assert.Equal(t, 3.0, f)
	_, ok = TagValue{Value: "x"}.Float()
	assert.False(t, ok)
}

func TestExtensionContract(t *testing.T) {
	c, err := NewExtension(feature.ExtensionBaseURI+"vendor/ops", "Vendor", "")
	require.NoError(t, err)
	assert.Equal(t, "asc:extensions/vendor/ops/", c.URI())

	_, err = NewExtension("asc:features/nope/", "", "")
	var invalid *errspkg.InvalidExtensionURIError
	assert.ErrorAs(t, err, &invalid)
}
