package remote

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/adapterflow/adapter"
	"github.com/drblury/adapterflow/feature"
	"github.com/drblury/adapterflow/features"
	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	"github.com/drblury/adapterflow/internal/runtime/jsoncodec"
	"github.com/drblury/adapterflow/internal/runtime/logging"
	"github.com/drblury/adapterflow/stream"
	"github.com/drblury/adapterflow/subscription"
)

// ProxyOptions configures NewProxy.
type ProxyOptions struct {
	// RemoteAdapterID is the adapter to reach on the remote side.
	RemoteAdapterID string
	// Descriptor is the local identity of the proxy. It defaults to the
	// remote adapter's descriptor; an empty Name is taken from the remote.
	Descriptor adapter.Descriptor
	// Policy applies to every result sequence. The zero Policy means
	// Bounded(DefaultOutputCapacity).
	Policy stream.Policy
	Logger logging.ServiceLogger
	// Metrics records the proxy's shared push feeds.
	Metrics *subscription.Metrics
	Hooks   stream.ForwardHooks
}

// Proxy is an adapter whose features are served by a remote adapter. Only
// the contracts the remote reports are registered; extensions are proxied
// generically.
type Proxy struct {
	*adapter.Base

	client   Client
	remoteID string
	remote   adapter.Info
	opts     ProxyOptions
	log      logging.ServiceLogger
	tracer   trace.Tracer

	events    *subscription.Manager[features.EventMessage]
	snapshots *subscription.Manager[features.TagValueQueryResult]

	closeOnce sync.Once
	closeErr  error
}

// NewProxy asks the remote side to describe opts.RemoteAdapterID and builds
// a local adapter for it.
func NewProxy(ctx context.Context, client Client, opts ProxyOptions) (*Proxy, error) {
	if client == nil {
		return nil, errspkg.ErrClientRequired
	}
	if opts.RemoteAdapterID == "" {
		return nil, errspkg.Validation("remoteAdapterId", "remote adapter id is required")
	}
	info, err := client.Describe(ctx, opts.RemoteAdapterID)
	if err != nil {
		return nil, errspkg.Transport(client.Name(), "Describe", err)
	}

	desc := opts.Descriptor
	if desc.ID == "" {
		desc = info.Descriptor
	}
	if desc.Name == "" {
		desc.Name, desc.Description = info.Descriptor.Name, info.Descriptor.Description
	}
	base, err := adapter.NewBase(desc)
	if err != nil {
		return nil, err
	}
	if !opts.Policy.IsBounded() {
		opts.Policy = stream.Bounded(DefaultOutputCapacity)
	}

	log := logging.ForComponent(opts.Logger, "remote-proxy").With(logging.LogFields{
		logging.FieldAdapterID: desc.ID,
		logging.FieldTransport: client.Name(),
	})
	managerOpts := []subscription.Option{
		subscription.WithLogger(log),
		subscription.WithMetrics(opts.Metrics),
		subscription.WithForwardHooks(opts.Hooks),
	}

	p := &Proxy{
		Base:      base,
		client:    client,
		remoteID:  opts.RemoteAdapterID,
		remote:    info,
		opts:      opts,
		log:       log,
		tracer:    otel.Tracer(tracerName),
		events:    subscription.NewManager[features.EventMessage](append(managerOpts, subscription.WithName("proxy-events"))...),
		snapshots: subscription.NewManager[features.TagValueQueryResult](append(managerOpts, subscription.WithName("proxy-snapshots"))...),
	}
	if err := p.register(); err != nil {
		return nil, err
	}
	log.Info("Remote adapter proxied", logging.LogFields{
		"remote_adapter_id": opts.RemoteAdapterID,
		"features":          p.Features().Len(),
	})
	return p, nil
}

func (p *Proxy) register() error {
	set := p.Features()
	for _, uri := range p.remote.Features {
		key, ok := features.Builtin(uri)
		if !ok {
			p.log.Debug("Skipping unknown remote feature", logging.LogFields{logging.FieldFeature: uri})
			continue
		}
		if err := set.Add(key, p); err != nil {
			return err
		}
	}
	for _, uri := range p.remote.Extensions {
		contract, err := features.ExtensionContract(feature.Descriptor{URI: uri})
		if err != nil {
			return err
		}
		if err := set.Add(contract, &extensionProxy{p: p, uri: contract.URI()}); err != nil {
			return err
		}
	}
	set.Seal()
	return nil
}

// Remote returns what the remote side reported when the proxy was built.
func (p *Proxy) Remote() adapter.Info { return p.remote }

// Close ends every shared push feed and closes the client.
func (p *Proxy) Close() error {
	p.closeOnce.Do(func() {
		_ = p.events.Close()
		_ = p.snapshots.Close()
		p.closeErr = p.client.Close()
	})
	return p.closeErr
}

func (p *Proxy) newCall(cc *adapter.CallContext, featureURI, op string, req any) (Call, error) {
	if err := features.Validate(req); err != nil {
		return Call{}, err
	}
	payload, err := jsoncodec.Marshal(req)
	if err != nil {
		return Call{}, errspkg.Validation("payload", err.Error())
	}
	return Call{
		AdapterID: p.remoteID,
		Feature:   featureURI,
		Operation: op,
		Payload:   payload,
		Metadata:  adapter.OrAnonymous(cc).Metadata(),
	}, nil
}

func (p *Proxy) taskOptions(op string) []stream.TaskOption {
	return []stream.TaskOption{
		stream.WithName("remote:" + p.client.Name() + ":" + op),
		stream.WithHooks(p.opts.Hooks),
	}
}

// unary forwards a one-shot call.
func unary[Res any](ctx context.Context, p *Proxy, cc *adapter.CallContext, featureURI, op string, req any) (*stream.Sequence[Res], error) {
	call, err := p.newCall(cc, featureURI, op, req)
	if err != nil {
		return nil, err
	}
	return stream.Go(ctx, func(ctx context.Context) (Res, error) {
		var zero Res
		ctx, span := p.tracer.Start(ctx, op, trace.WithSpanKind(trace.SpanKindClient))
		defer span.End()
		span.SetAttributes(
			attribute.String("adapter.id", p.remoteID),
			attribute.String("feature.uri", featureURI),
			attribute.String("remote.transport", p.client.Name()),
		)

		raw, err := p.client.Invoke(ctx, call)
		if err != nil {
			err = remoteError(ctx, p.client.Name(), op, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return zero, err
		}
		res, err := jsoncodec.DecodeAs[Res](raw)
		if err != nil {
			return zero, errspkg.Transport(p.client.Name(), op, fmt.Errorf("decode result: %w", err))
		}
		return res, nil
	}, p.taskOptions(op)...), nil
}

// serverStream forwards a remote stream into a local sequence.
func serverStream[Res any](ctx context.Context, p *Proxy, cc *adapter.CallContext, featureURI, op string, req any, input stream.Source[[]byte]) (*stream.Sequence[Res], error) {
	call, err := p.newCall(cc, featureURI, op, req)
	if err != nil {
		return nil, err
	}
	call.Input = input
	dst := stream.New[Res](nil, p.opts.Policy)
	stream.Forward[Res](ctx, newDecodingSource[Res](p.client, call), dst, p.taskOptions(op)...)
	return dst, nil
}

func remoteError(ctx context.Context, transport, op string, err error) error {
	if ctxErr := errspkg.FromContext(ctx); ctxErr != nil {
		return ctxErr
	}
	return errspkg.Transport(transport, op, err)
}

// decodingSource reads a remote stream and decodes every item as T.
type decodingSource[T any] struct {
	raw *rawSource
}

func newDecodingSource[T any](client Client, call Call) *decodingSource[T] {
	return &decodingSource[T]{raw: newRawSource(client, call)}
}

func (d *decodingSource[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	data, ok, err := d.raw.Next(ctx)
	if err != nil || !ok {
		return zero, false, err
	}
	item, err := jsoncodec.DecodeAs[T](data)
	if err != nil {
		return zero, false, errspkg.Transport(d.raw.client.Name(), d.raw.call.Operation, fmt.Errorf("decode item: %w", err))
	}
	return item, true, nil
}

func (d *decodingSource[T]) Close() error { return d.raw.Close() }

func encodeSource[T any](src stream.Source[T]) stream.Source[[]byte] {
	if src == nil {
		return nil
	}
	return stream.SourceFunc[[]byte](func(ctx context.Context) ([]byte, bool, error) {
		item, ok, err := src.Next(ctx)
		if err != nil || !ok {
			return nil, false, err
		}
		data, err := jsoncodec.Marshal(item)
		if err != nil {
			return nil, false, errspkg.Validation("input", err.Error())
		}
		return data, true, nil
	})
}

func (p *Proxy) CheckHealth(ctx context.Context, cc *adapter.CallContext) (*stream.Sequence[features.HealthCheckResult], error) {
	return unary[features.HealthCheckResult](ctx, p, cc, features.HealthCheckFeature.URI(), features.OpCheckHealth, features.EmptyRequest{})
}

func (p *Proxy) FindTags(ctx context.Context, cc *adapter.CallContext, req features.FindTagsRequest) (*stream.Sequence[features.TagDefinition], error) {
	return serverStream[features.TagDefinition](ctx, p, cc, features.TagSearchFeature.URI(), features.OpFindTags, req, nil)
}

func (p *Proxy) GetTags(ctx context.Context, cc *adapter.CallContext, req features.GetTagsRequest) (*stream.Sequence[features.TagDefinition], error) {
	return serverStream[features.TagDefinition](ctx, p, cc, features.TagSearchFeature.URI(), features.OpGetTags, req, nil)
}

func (p *Proxy) ReadSnapshotTagValues(ctx context.Context, cc *adapter.CallContext, req features.ReadSnapshotTagValuesRequest) (*stream.Sequence[features.TagValueQueryResult], error) {
	return serverStream[features.TagValueQueryResult](ctx, p, cc, features.ReadSnapshotTagValuesFeature.URI(), features.OpReadSnapshotTagValues, req, nil)
}

func (p *Proxy) ReadRawTagValues(ctx context.Context, cc *adapter.CallContext, req features.ReadRawTagValuesRequest) (*stream.Sequence[features.TagValueQueryResult], error) {
	return serverStream[features.TagValueQueryResult](ctx, p, cc, features.ReadRawTagValuesFeature.URI(), features.OpReadRawTagValues, req, nil)
}

func (p *Proxy) ReadPlotTagValues(ctx context.Context, cc *adapter.CallContext, req features.ReadPlotTagValuesRequest) (*stream.Sequence[features.TagValueQueryResult], error) {
	return serverStream[features.TagValueQueryResult](ctx, p, cc, features.ReadPlotTagValuesFeature.URI(), features.OpReadPlotTagValues, req, nil)
}

func (p *Proxy) GetSupportedDataFunctions(ctx context.Context, cc *adapter.CallContext) (*stream.Sequence[features.DataFunctionDescriptor], error) {
	return serverStream[features.DataFunctionDescriptor](ctx, p, cc, features.ReadProcessedTagValuesFeature.URI(), features.OpGetSupportedDataFunctions, features.EmptyRequest{}, nil)
}

func (p *Proxy) ReadProcessedTagValues(ctx context.Context, cc *adapter.CallContext, req features.ReadProcessedTagValuesRequest) (*stream.Sequence[features.ProcessedTagValueQueryResult], error) {
	return serverStream[features.ProcessedTagValueQueryResult](ctx, p, cc, features.ReadProcessedTagValuesFeature.URI(), features.OpReadProcessedTagValues, req, nil)
}

func (p *Proxy) ReadTagValuesAtTimes(ctx context.Context, cc *adapter.CallContext, req features.ReadTagValuesAtTimesRequest) (*stream.Sequence[features.TagValueQueryResult], error) {
	return serverStream[features.TagValueQueryResult](ctx, p, cc, features.ReadTagValuesAtTimesFeature.URI(), features.OpReadTagValuesAtTimes, req, nil)
}

func (p *Proxy) WriteSnapshotTagValues(ctx context.Context, cc *adapter.CallContext, req features.WriteTagValuesRequest, values stream.Source[features.WriteTagValueItem]) (*stream.Sequence[features.WriteTagValueResult], error) {
	return serverStream[features.WriteTagValueResult](ctx, p, cc, features.WriteSnapshotTagValuesFeature.URI(), features.OpWriteSnapshotTagValues, req, encodeSource(values))
}

func (p *Proxy) ReadEventMessagesForTimeRange(ctx context.Context, cc *adapter.CallContext, req features.ReadEventMessagesForTimeRangeRequest) (*stream.Sequence[features.EventMessage], error) {
	return serverStream[features.EventMessage](ctx, p, cc, features.ReadEventMessagesForTimeRangeFeature.URI(), features.OpReadEventMessagesForTimeRange, req, nil)
}

func (p *Proxy) ReadEventMessagesUsingCursor(ctx context.Context, cc *adapter.CallContext, req features.ReadEventMessagesUsingCursorRequest) (*stream.Sequence[features.EventMessageWithCursorPosition], error) {
	return serverStream[features.EventMessageWithCursorPosition](ctx, p, cc, features.ReadEventMessagesUsingCursorFeature.URI(), features.OpReadEventMessagesUsingCursor, req, nil)
}

func (p *Proxy) WriteEventMessages(ctx context.Context, cc *adapter.CallContext, req features.WriteEventMessagesRequest, messages stream.Source[features.WriteEventMessageItem]) (*stream.Sequence[features.WriteEventMessageResult], error) {
	return serverStream[features.WriteEventMessageResult](ctx, p, cc, features.WriteEventMessagesFeature.URI(), features.OpWriteEventMessages, req, encodeSource(messages))
}

func (p *Proxy) BrowseAssetModelNodes(ctx context.Context, cc *adapter.CallContext, req features.BrowseAssetModelNodesRequest) (*stream.Sequence[features.AssetModelNode], error) {
	return serverStream[features.AssetModelNode](ctx, p, cc, features.AssetModelBrowseFeature.URI(), features.OpBrowseAssetModelNodes, req, nil)
}

func (p *Proxy) GetAssetModelNodes(ctx context.Context, cc *adapter.CallContext, req features.GetAssetModelNodesRequest) (*stream.Sequence[features.AssetModelNode], error) {
	return serverStream[features.AssetModelNode](ctx, p, cc, features.AssetModelBrowseFeature.URI(), features.OpGetAssetModelNodes, req, nil)
}

func (p *Proxy) FindAssetModelNodes(ctx context.Context, cc *adapter.CallContext, req features.FindAssetModelNodesRequest) (*stream.Sequence[features.AssetModelNode], error) {
	return serverStream[features.AssetModelNode](ctx, p, cc, features.AssetModelSearchFeature.URI(), features.OpFindAssetModelNodes, req, nil)
}

func (p *Proxy) ReadAnnotations(ctx context.Context, cc *adapter.CallContext, req features.ReadAnnotationsRequest) (*stream.Sequence[features.TagValueAnnotationQueryResult], error) {
	return serverStream[features.TagValueAnnotationQueryResult](ctx, p, cc, features.ReadAnnotationsFeature.URI(), features.OpReadAnnotations, req, nil)
}

func (p *Proxy) ReadAnnotation(ctx context.Context, cc *adapter.CallContext, req features.ReadAnnotationRequest) (*stream.Sequence[features.TagValueAnnotation], error) {
	return unary[features.TagValueAnnotation](ctx, p, cc, features.ReadAnnotationsFeature.URI(), features.OpReadAnnotation, req)
}

func (p *Proxy) CreateAnnotation(ctx context.Context, cc *adapter.CallContext, req features.CreateAnnotationRequest) (*stream.Sequence[features.WriteTagValueAnnotationResult], error) {
	return unary[features.WriteTagValueAnnotationResult](ctx, p, cc, features.WriteAnnotationsFeature.URI(), features.OpCreateAnnotation, req)
}

func (p *Proxy) UpdateAnnotation(ctx context.Context, cc *adapter.CallContext, req features.UpdateAnnotationRequest) (*stream.Sequence[features.WriteTagValueAnnotationResult], error) {
	return unary[features.WriteTagValueAnnotationResult](ctx, p, cc, features.WriteAnnotationsFeature.URI(), features.OpUpdateAnnotation, req)
}

func (p *Proxy) DeleteAnnotation(ctx context.Context, cc *adapter.CallContext, req features.DeleteAnnotationRequest) (*stream.Sequence[features.WriteTagValueAnnotationResult], error) {
	return unary[features.WriteTagValueAnnotationResult](ctx, p, cc, features.WriteAnnotationsFeature.URI(), features.OpDeleteAnnotation, req)
}

// SubscribeEventMessages joins the shared feed for req.Topic. The remote
// stream is opened by the first active subscriber and cancelled when the
// last subscriber leaves.
func (p *Proxy) SubscribeEventMessages(ctx context.Context, cc *adapter.CallContext, req features.CreateEventMessageSubscriptionRequest) (*stream.Sequence[features.EventMessage], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	kind := subscription.Active
	if req.IsPassive() {
		kind = subscription.Passive
	}
	upstream := features.CreateEventMessageSubscriptionRequest{SubscriptionType: features.SubscriptionActive, Topic: req.Topic}
	key := subscription.Key{AdapterID: p.Descriptor().ID, Feature: features.EventMessagePushFeature.URI(), Topic: req.Topic}
	return push(ctx, p, p.events, cc, key, kind, features.OpSubscribeEventMessages, upstream)
}

// SubscribeSnapshotTagValues joins the shared feed for the request's tag
// set.
func (p *Proxy) SubscribeSnapshotTagValues(ctx context.Context, cc *adapter.CallContext, req features.CreateSnapshotTagValueSubscriptionRequest) (*stream.Sequence[features.TagValueQueryResult], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	key := subscription.Key{AdapterID: p.Descriptor().ID, Feature: features.SnapshotTagValuePushFeature.URI(), Topic: req.Topic()}
	return push(ctx, p, p.snapshots, cc, key, subscription.Active, features.OpSubscribeSnapshotTagValues, req)
}

func push[T any](ctx context.Context, p *Proxy, m *subscription.Manager[T], cc *adapter.CallContext, key subscription.Key, kind subscription.Kind, op string, req any) (*stream.Sequence[T], error) {
	call, err := p.newCall(cc, key.Feature, op, req)
	if err != nil {
		return nil, err
	}
	h, err := m.Subscribe(ctx, key, kind, p.opts.Policy, func(_ context.Context, _ subscription.Feed) (stream.Source[T], error) {
		return newDecodingSource[T](p.client, call), nil
	})
	if err != nil {
		return nil, err
	}
	return h.Sequence(), nil
}

type extensionProxy struct {
	p   *Proxy
	uri string
}

func (e *extensionProxy) Operations(ctx context.Context, cc *adapter.CallContext) (*stream.Sequence[features.ExtensionOperation], error) {
	return serverStream[features.ExtensionOperation](ctx, e.p, cc, e.uri, features.OpExtensionOperations, features.EmptyRequest{}, nil)
}

func (e *extensionProxy) Invoke(ctx context.Context, cc *adapter.CallContext, req features.InvokeExtensionRequest) (*stream.Sequence[features.InvokeExtensionResponse], error) {
	return unary[features.InvokeExtensionResponse](ctx, e.p, cc, e.uri, features.OpExtensionInvoke, req)
}

func (e *extensionProxy) Stream(ctx context.Context, cc *adapter.CallContext, req features.InvokeExtensionRequest) (*stream.Sequence[features.InvokeExtensionResponse], error) {
	return serverStream[features.InvokeExtensionResponse](ctx, e.p, cc, e.uri, features.OpExtensionStream, req, nil)
}

var (
	_ features.HealthCheck              = (*Proxy)(nil)
	_ features.TagSearch                = (*Proxy)(nil)
	_ features.SnapshotTagValueWriter   = (*Proxy)(nil)
	_ features.SnapshotTagValuePusher   = (*Proxy)(nil)
	_ features.EventMessagePusher       = (*Proxy)(nil)
	_ features.EventMessageCursorReader = (*Proxy)(nil)
	_ features.AnnotationWriter         = (*Proxy)(nil)
	_ features.Extension                = (*extensionProxy)(nil)
)
