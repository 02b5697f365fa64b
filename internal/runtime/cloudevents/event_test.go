package cloudevents

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	evt := New("adapterflow.call.v1", "hub-client", []byte(`{"tags":["t1"]}`))

	assert.Equal(t, SpecVersion, evt.SpecVersion)
	assert.Equal(t, "adapterflow.call.v1", evt.Type)
	assert.Equal(t, "hub-client", evt.Source)
	assert.NotEmpty(t, evt.ID)
	assert.False(t, evt.Time.IsZero())
	assert.JSONEq(t, `{"tags":["t1"]}`, string(evt.Data))
	require.NotNil(t, evt.DataContentType)
	assert.Equal(t, ContentTypeJSON, *evt.DataContentType)
	assert.NotNil(t, evt.Extensions)
}

func TestNewWithoutData(t *testing.T) {
	evt := New("adapterflow.cancel.v1", "hub-client", nil)
	assert.Nil(t, evt.Data)
	assert.Nil(t, evt.DataContentType)
}

func TestGetExtension(t *testing.T) {
	evt := New("t", "s", nil).WithExtension("name", "value").WithExtension("n", 7)

	assert.Equal(t, "value", evt.GetExtension("name"))
	assert.Equal(t, "value", evt.GetExtensionString("name"))
	assert.Equal(t, "7", evt.GetExtensionString("n"))
	assert.Equal(t, int64(7), evt.GetExtensionInt64("n"))
	assert.Nil(t, evt.GetExtension("missing"))
	assert.Equal(t, "", evt.GetExtensionString("missing"))
	assert.Equal(t, int64(0), evt.GetExtensionInt64("name"))

	evt.Extensions = nil
	assert.Nil(t, evt.GetExtension("name"))
}

func TestGetExtensionInt64Conversions(t *testing.T) {
	cases := map[string]any{
		"int":     int(3),
		"int64":   int64(3),
		"uint64":  uint64(3),
		"float64": float64(3),
		"number":  json.Number("3"),
	}
	for name, v := range cases {
		t.Run(name, func(t *testing.T) {
			evt := New("t", "s", nil).WithExtension("n", v)
			assert.Equal(t, int64(3), evt.GetExtensionInt64("n"))
		})
	}
}

func TestEventValidate(t *testing.T) {
	valid := New("t", "s", nil)
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Event)
		want   string
	}{
		{"missing specversion", func(e *Event) { e.SpecVersion = "" }, "specversion is required"},
		{"wrong specversion", func(e *Event) { e.SpecVersion = "0.3" }, "specversion must be"},
		{"missing type", func(e *Event) { e.Type = "" }, "type is required"},
		{"missing source", func(e *Event) { e.Source = "" }, "source is required"},
		{"missing id", func(e *Event) { e.ID = "" }, "id is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt := valid
			tt.mutate(&evt)
			err := evt.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEventMarshalJSONFlattensExtensions(t *testing.T) {
	evt := New("adapterflow.item.v1", "hub-server", []byte(`{"id":"t1"}`)).
		WithSubject("plant-1").
		WithExtension(ExtCallID, "call-1")
	SetSeq(&evt, 4)

	data, err := json.Marshal(evt)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "1.0", m["specversion"])
	assert.Equal(t, "plant-1", m["subject"])
	assert.Equal(t, "call-1", m[ExtCallID])
	assert.Equal(t, float64(4), m[ExtSeq])
	assert.Equal(t, map[string]any{"id": "t1"}, m["data"])
	assert.NotContains(t, m, "extensions")
}

func TestEventRoundTrip(t *testing.T) {
	original := New("adapterflow.complete.v1", "hub-server", []byte(`[1,2,3]`)).WithExtension(ExtCallID, "call-9")
	original.Time = time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)
	SetCount(&original, 3)
	SetError(&original, "validation", "tags: required")
	SetCorrelationID(&original, "corr-1")

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original.ID, decoded.ID)
	assert.Equal(t, original.Type, decoded.Type)
	assert.True(t, original.Time.Equal(decoded.Time))
	assert.JSONEq(t, `[1,2,3]`, string(decoded.Data))
	assert.Equal(t, "call-9", CallID(decoded))
	assert.Equal(t, uint64(3), Count(decoded))
	assert.Equal(t, "validation", ErrorKind(decoded))
	assert.Equal(t, "tags: required", GetErrorMessage(decoded))
	assert.Equal(t, "corr-1", GetCorrelationID(decoded))
	assert.NoError(t, decoded.Validate())
}

func TestEventUnmarshalJSONInvalid(t *testing.T) {
	var evt Event
	assert.Error(t, json.Unmarshal([]byte(`{not json`), &evt))
	assert.Error(t, json.Unmarshal([]byte(`{"specversion":"1.0","time":"yesterday"}`), &evt))
	assert.Error(t, json.Unmarshal([]byte(`{"type":42}`), &evt))
}

func TestCopyTracingContext(t *testing.T) {
	src := New("t", "s", nil)
	SetTraceID(&src, "trace-1")
	SetCorrelationID(&src, "corr-1")

	dst := New("t", "s", nil)
	CopyTracingContext(src, &dst)
	assert.Equal(t, "trace-1", GetTraceID(dst))
	assert.Equal(t, "corr-1", GetCorrelationID(dst))

	empty := Event{}
	CopyTracingContext(Event{}, &empty)
	assert.Nil(t, empty.Extensions)
}

func TestSettersInitialiseExtensions(t *testing.T) {
	var evt Event
	SetSeq(&evt, 1)
	SetCount(&evt, 2)
	SetError(&evt, "transport", "down")
	assert.Equal(t, uint64(1), Seq(evt))
	assert.Equal(t, uint64(2), Count(evt))
	assert.Equal(t, "transport", ErrorKind(evt))
	assert.Equal(t, "", ReplyTo(evt))
}
