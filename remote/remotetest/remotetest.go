// Package remotetest provides a sample adapter and a shared test suite for
// remote.Client implementations.
package remotetest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/adapterflow/adapter"
	"github.com/drblury/adapterflow/feature"
	"github.com/drblury/adapterflow/features"
	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	"github.com/drblury/adapterflow/remote"
	"github.com/drblury/adapterflow/stream"
	"github.com/drblury/adapterflow/subscription"
)

// AdapterID is the id of the sample adapter.
const AdapterID = "plant-1"

// EchoURI is the extension registered by the sample adapter.
const EchoURI = "asc:extensions/test/echo/"

// Resolver serves a fixed set of adapters.
type Resolver map[string]adapter.Adapter

func (r Resolver) Adapter(id string) (adapter.Adapter, bool) {
	a, ok := r[id]
	return a, ok
}

func (r Resolver) Adapters() []adapter.Adapter {
	out := make([]adapter.Adapter, 0, len(r))
	for _, a := range r {
		out = append(out, a)
	}
	return out
}

// PlantAdapter is a small adapter with tags, writes, live events and an
// echo extension.
type PlantAdapter struct {
	*adapter.Base

	tags   []features.TagDefinition
	events *subscription.Manager[features.EventMessage]

	mu     sync.Mutex
	live   *stream.Sequence[features.EventMessage]
	caller *adapter.CallContext
}

// NewPlantAdapter builds the sample adapter.
func NewPlantAdapter() (*PlantAdapter, error) {
	base, err := adapter.NewBase(adapter.Descriptor{ID: AdapterID, Name: "Plant 1"})
	if err != nil {
		return nil, err
	}
	a := &PlantAdapter{
		Base: base,
		tags: []features.TagDefinition{
			{ID: "t1", Name: "Temperature", Units: "C"},
			{ID: "t2", Name: "Pressure", Units: "bar"},
		},
		events: subscription.NewManager[features.EventMessage](subscription.WithName("plant-events")),
	}
	set := base.Features()
	if _, err := set.AddMatching(a,
		features.HealthCheckFeature,
		features.TagSearchFeature,
		features.WriteSnapshotTagValuesFeature,
		features.EventMessagePushFeature,
	); err != nil {
		return nil, err
	}
	echo, err := features.NewExtension(EchoURI, "Echo", "Echoes payloads.")
	if err != nil {
		return nil, err
	}
	if err := feature.Register(set, echo, features.Extension(echoExtension{})); err != nil {
		return nil, err
	}
	return a, nil
}

// Dispatcher returns a dispatcher serving only a.
func (a *PlantAdapter) Dispatcher() *remote.Dispatcher {
	return remote.NewDispatcher(Resolver{AdapterID: a})
}

// Live reports whether an upstream event feed is running.
func (a *PlantAdapter) Live() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live != nil
}

// Publish writes ev to the running event feed. It reports false when no
// feed is running.
func (a *PlantAdapter) Publish(ev features.EventMessage) bool {
	a.mu.Lock()
	live := a.live
	a.mu.Unlock()
	return live != nil && live.Write(context.Background(), ev) == nil
}

// LastCaller returns the call context of the latest health check.
func (a *PlantAdapter) LastCaller() *adapter.CallContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.caller
}

func (a *PlantAdapter) CheckHealth(ctx context.Context, cc *adapter.CallContext) (*stream.Sequence[features.HealthCheckResult], error) {
	a.mu.Lock()
	a.caller = cc
	a.mu.Unlock()
	return stream.Go(ctx, func(context.Context) (features.HealthCheckResult, error) {
		return features.Composite("plant", features.HealthCheckResult{DisplayName: "sensors", Status: features.Healthy}), nil
	}), nil
}

func (a *PlantAdapter) FindTags(_ context.Context, _ *adapter.CallContext, req features.FindTagsRequest) (*stream.Sequence[features.TagDefinition], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return stream.FromSlice(a.tags...), nil
}

func (a *PlantAdapter) GetTags(_ context.Context, _ *adapter.CallContext, req features.GetTagsRequest) (*stream.Sequence[features.TagDefinition], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var out []features.TagDefinition
	for _, id := range req.Tags {
		for _, tag := range a.tags {
			if tag.ID == id {
				out = append(out, tag)
			}
		}
	}
	return stream.FromSlice(out...), nil
}

func (a *PlantAdapter) WriteSnapshotTagValues(ctx context.Context, _ *adapter.CallContext, _ features.WriteTagValuesRequest, values stream.Source[features.WriteTagValueItem]) (*stream.Sequence[features.WriteTagValueResult], error) {
	return stream.Map(ctx, values, stream.Unbounded(), func(item features.WriteTagValueItem) (features.WriteTagValueResult, error) {
		status := features.WriteSuccess
		if item.Validate() != nil {
			status = features.WriteFail
		}
		return features.WriteTagValueResult{CorrelationID: item.CorrelationID, TagID: item.TagID, Status: status}, nil
	}), nil
}

func (a *PlantAdapter) SubscribeEventMessages(ctx context.Context, _ *adapter.CallContext, req features.CreateEventMessageSubscriptionRequest) (*stream.Sequence[features.EventMessage], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	kind := subscription.Active
	if req.IsPassive() {
		kind = subscription.Passive
	}
	key := subscription.Key{AdapterID: AdapterID, Feature: features.EventMessagePushFeature.URI(), Topic: req.Topic}
	h, err := a.events.Subscribe(ctx, key, kind, stream.Unbounded(), func(feedCtx context.Context, _ subscription.Feed) (stream.Source[features.EventMessage], error) {
		live := stream.New[features.EventMessage](feedCtx, stream.Unbounded())
		a.mu.Lock()
		a.live = live
		a.mu.Unlock()
		context.AfterFunc(feedCtx, func() {
			a.mu.Lock()
			if a.live == live {
				a.live = nil
			}
			a.mu.Unlock()
		})
		return live, nil
	})
	if err != nil {
		return nil, err
	}
	return h.Sequence(), nil
}

type echoExtension struct{}

func (echoExtension) Operations(context.Context, *adapter.CallContext) (*stream.Sequence[features.ExtensionOperation], error) {
	return stream.FromSlice(features.ExtensionOperation{ID: "echo", Name: "Echo"}), nil
}

func (echoExtension) Invoke(_ context.Context, _ *adapter.CallContext, req features.InvokeExtensionRequest) (*stream.Sequence[features.InvokeExtensionResponse], error) {
	return stream.FromSlice(features.InvokeExtensionResponse{Payload: req.Payload}), nil
}

func (echoExtension) Stream(_ context.Context, _ *adapter.CallContext, req features.InvokeExtensionRequest) (*stream.Sequence[features.InvokeExtensionResponse], error) {
	return stream.FromSlice(
		features.InvokeExtensionResponse{Payload: req.Payload},
		features.InvokeExtensionResponse{Payload: req.Payload},
	), nil
}

// Connect builds a client for a dispatcher. Implementations start their
// server inside it and register cleanup on t.
type Connect func(t *testing.T, d *remote.Dispatcher) remote.Client

// RunClientSuite exercises a remote.Client end to end through a Proxy.
func RunClientSuite(t *testing.T, connect Connect) {
	newProxy := func(t *testing.T) (*remote.Proxy, *PlantAdapter) {
		t.Helper()
		plant, err := NewPlantAdapter()
		require.NoError(t, err)
		client := connect(t, plant.Dispatcher())
		p, err := remote.NewProxy(context.Background(), client, remote.ProxyOptions{RemoteAdapterID: AdapterID})
		require.NoError(t, err)
		t.Cleanup(func() { _ = p.Close() })
		return p, plant
	}

	t.Run("describe", func(t *testing.T) {
		plant, err := NewPlantAdapter()
		require.NoError(t, err)
		client := connect(t, plant.Dispatcher())

		infos, err := client.ListAdapters(context.Background())
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.Equal(t, AdapterID, infos[0].Descriptor.ID)
		assert.True(t, infos[0].Supports(features.TagSearchFeature.URI()))
		assert.Equal(t, []string{EchoURI}, infos[0].Extensions)

		_, err = client.Describe(context.Background(), "missing")
		assert.ErrorIs(t, err, errspkg.ErrAdapterNotFound)
	})

	t.Run("server stream", func(t *testing.T) {
		p, _ := newProxy(t)
		seq, err := p.FindTags(context.Background(), adapter.NewCallContext("u1", "User"), features.FindTagsRequest{PageSize: 10, Page: 1})
		require.NoError(t, err)
		tags, err := stream.Collect(context.Background(), seq)
		require.NoError(t, err)
		require.Len(t, tags, 2)
		assert.Equal(t, "t1", tags[0].ID)
		assert.Equal(t, "Pressure", tags[1].Name)
	})

	t.Run("unary", func(t *testing.T) {
		p, plant := newProxy(t)
		cc := adapter.NewCallContext("u1", "Operator")
		cc.Set("site", "north")
		seq, err := p.CheckHealth(context.Background(), cc)
		require.NoError(t, err)
		res, err := stream.First(context.Background(), seq)
		require.NoError(t, err)
		assert.Equal(t, features.Healthy, res.Status)
		require.Len(t, res.InnerResults, 1)

		got := plant.LastCaller()
		require.NotNil(t, got)
		assert.Equal(t, "u1", got.CallerID)
		assert.Equal(t, "Operator", got.CallerName)
		assert.Equal(t, cc.CorrelationID, got.CorrelationID)
		assert.Equal(t, "north", got.Get("site"))
	})

	t.Run("client stream", func(t *testing.T) {
		p, _ := newProxy(t)
		now := time.Now().UTC()
		values := stream.FromSlice(
			features.WriteTagValueItem{CorrelationID: "c1", TagID: "t1", UtcSampleTime: now, Value: 20.5},
			features.WriteTagValueItem{CorrelationID: "c2", TagID: "t2"},
		)
		seq, err := p.WriteSnapshotTagValues(context.Background(), nil, features.WriteTagValuesRequest{}, values)
		require.NoError(t, err)
		results, err := stream.Collect(context.Background(), seq)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, features.WriteSuccess, results[0].Status)
		assert.Equal(t, features.WriteFail, results[1].Status)
		assert.Equal(t, "c2", results[1].CorrelationID)
	})

	t.Run("extension", func(t *testing.T) {
		p, _ := newProxy(t)
		contract, err := features.NewExtension(EchoURI, "", "")
		require.NoError(t, err)
		ext, err := adapter.Resolve(p, contract)
		require.NoError(t, err)

		seq, err := ext.Invoke(context.Background(), nil, features.InvokeExtensionRequest{OperationID: "echo", Payload: json.RawMessage(`{"n":7}`)})
		require.NoError(t, err)
		res, err := stream.First(context.Background(), seq)
		require.NoError(t, err)
		assert.JSONEq(t, `{"n":7}`, string(res.Payload))
	})

	t.Run("errors keep their kind", func(t *testing.T) {
		// Proxies validate requests locally, so send raw calls to reach
		// the remote checks.
		plant, err := NewPlantAdapter()
		require.NoError(t, err)
		c := connect(t, plant.Dispatcher())
		_, err = c.Invoke(context.Background(), remote.Call{
			AdapterID: AdapterID,
			Feature:   features.TagSearchFeature.URI(),
			Operation: features.OpGetTags,
			Payload:   []byte(`{"tags":[]}`),
		})
		assert.ErrorIs(t, err, errspkg.ErrValidation)

		_, err = c.Invoke(context.Background(), remote.Call{
			AdapterID: AdapterID,
			Feature:   features.ReadRawTagValuesFeature.URI(),
			Operation: features.OpReadRawTagValues,
			Payload:   []byte(`{}`),
		})
		assert.ErrorIs(t, err, errspkg.ErrUnsupportedFeature)
	})

	t.Run("push feed follows subscribers", func(t *testing.T) {
		p, plant := newProxy(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		seq, err := p.SubscribeEventMessages(ctx, nil, features.CreateEventMessageSubscriptionRequest{})
		require.NoError(t, err)
		require.Eventually(t, plant.Live, 2*time.Second, 5*time.Millisecond)

		for _, id := range []string{"e1", "e2", "e3"} {
			require.True(t, plant.Publish(features.EventMessage{ID: id}))
		}
		for _, want := range []string{"e1", "e2", "e3"} {
			ev, ok, err := seq.Next(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, want, ev.ID)
		}

		seq.Cancel(nil)
		require.Eventually(t, func() bool { return !plant.Live() }, 2*time.Second, 5*time.Millisecond)
	})
}
