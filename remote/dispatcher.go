package remote

import (
	"context"
	"fmt"
	"sort"

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
)

const tracerName = "adapterflow-remote"

// DefaultOutputCapacity bounds the encoded output of a dispatched call.
const DefaultOutputCapacity = 64

// Resolver finds the local adapters a Dispatcher serves.
type Resolver interface {
	Adapter(id string) (adapter.Adapter, bool)
	Adapters() []adapter.Adapter
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(log logging.ServiceLogger) DispatcherOption {
	return func(d *Dispatcher) { d.log = logging.OrNop(log) }
}

// WithOutputPolicy sets the policy of the encoded output sequences.
func WithOutputPolicy(p stream.Policy) DispatcherOption {
	return func(d *Dispatcher) { d.out.policy = p }
}

// WithDispatchHooks attaches hooks to the encoding tasks.
func WithDispatchHooks(h stream.ForwardHooks) DispatcherOption {
	return func(d *Dispatcher) { d.out.hooks = d.out.hooks.Merge(h) }
}

type output struct {
	policy stream.Policy
	hooks  stream.ForwardHooks
}

// Dispatcher routes inbound remote calls to local adapters. Requests arrive
// as JSON and results leave as JSON-encoded byte sequences, so every wire
// binding shares the same routing and validation.
type Dispatcher struct {
	resolver Resolver
	log      logging.ServiceLogger
	out      output
	tracer   trace.Tracer
}

// NewDispatcher creates a Dispatcher over resolver.
func NewDispatcher(resolver Resolver, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		resolver: resolver,
		log:      logging.NopLogger(),
		out:      output{policy: stream.Bounded(DefaultOutputCapacity)},
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = logging.ForComponent(d.log, "dispatcher")
	return d
}

// Dispatch runs call and returns its encoded results. Lookup and request
// errors are returned before any sequence exists.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) (*stream.Sequence[[]byte], error) {
	ctx, span := d.tracer.Start(ctx, "Dispatch", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	span.SetAttributes(
		attribute.String("adapter.id", call.AdapterID),
		attribute.String("feature.uri", call.Feature),
		attribute.String("feature.operation", call.Operation),
	)

	seq, err := d.dispatch(ctx, call)
	fields := logging.LogFields{
		logging.FieldAdapterID: call.AdapterID,
		logging.FieldFeature:   call.Feature,
		logging.FieldOperation: call.Operation,
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		fields["error"] = err.Error()
		d.log.Debug("Remote call rejected", fields)
		return nil, err
	}
	d.log.Trace("Remote call dispatched", fields)
	return seq, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, call Call) (*stream.Sequence[[]byte], error) {
	if d.resolver == nil {
		return nil, errspkg.ErrAdapterNotFound
	}
	op, ok := features.LookupOperation(call.Feature, call.Operation)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", errspkg.ErrUnknownOperation, call.Operation, call.Feature)
	}
	a, ok := d.resolver.Adapter(call.AdapterID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrAdapterNotFound, call.AdapterID)
	}

	h := lookupHandler(op)
	if h == nil {
		return nil, fmt.Errorf("%w: %s on %s", errspkg.ErrUnknownOperation, call.Operation, call.Feature)
	}
	cc := adapter.FromMetadata(call.Metadata)
	return h(ctx, a, cc, call, d.out)
}

// Invoke dispatches call and returns its first result.
func (d *Dispatcher) Invoke(ctx context.Context, call Call) ([]byte, error) {
	seq, err := d.Dispatch(ctx, call)
	if err != nil {
		return nil, err
	}
	return stream.First(ctx, seq)
}

// Describe returns the Info of one local adapter.
func (d *Dispatcher) Describe(_ context.Context, adapterID string) (adapter.Info, error) {
	if d.resolver != nil {
		if a, ok := d.resolver.Adapter(adapterID); ok {
			return adapter.Describe(a), nil
		}
	}
	return adapter.Info{}, fmt.Errorf("%w: %s", errspkg.ErrAdapterNotFound, adapterID)
}

// ListAdapters returns the Info of every local adapter ordered by id.
func (d *Dispatcher) ListAdapters(_ context.Context) ([]adapter.Info, error) {
	if d.resolver == nil {
		return nil, nil
	}
	adapters := d.resolver.Adapters()
	infos := make([]adapter.Info, 0, len(adapters))
	for _, a := range adapters {
		infos = append(infos, adapter.Describe(a))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Descriptor.ID < infos[j].Descriptor.ID })
	return infos, nil
}

type handler func(ctx context.Context, a adapter.Adapter, cc *adapter.CallContext, call Call, out output) (*stream.Sequence[[]byte], error)

type resolveFunc[I any] func(a adapter.Adapter, featureURI string) (I, error)

func byContract[I any](c feature.Contract[I]) resolveFunc[I] {
	return func(a adapter.Adapter, _ string) (I, error) {
		return adapter.Resolve(a, c)
	}
}

var byExtension resolveFunc[features.Extension] = func(a adapter.Adapter, uri string) (features.Extension, error) {
	impl, ok := a.Features().Lookup(uri)
	ext, isExt := impl.(features.Extension)
	if !ok || !isExt {
		return nil, &errspkg.UnsupportedFeatureError{AdapterID: a.Descriptor().ID, Feature: uri}
	}
	return ext, nil
}

func bindCall[I, Req, Res any](resolve resolveFunc[I], method func(I, context.Context, *adapter.CallContext, Req, Call) (*stream.Sequence[Res], error)) handler {
	return func(ctx context.Context, a adapter.Adapter, cc *adapter.CallContext, call Call, out output) (*stream.Sequence[[]byte], error) {
		impl, err := resolve(a, call.Feature)
		if err != nil {
			return nil, err
		}
		req, err := decodeRequest[Req](call.Payload)
		if err != nil {
			return nil, err
		}
		seq, err := method(impl, ctx, cc, req, call)
		if err != nil {
			return nil, err
		}
		return encodeSequence(ctx, seq, call, out), nil
	}
}

func bind[I, Req, Res any](resolve resolveFunc[I], method func(I, context.Context, *adapter.CallContext, Req) (*stream.Sequence[Res], error)) handler {
	return bindCall(resolve, func(impl I, ctx context.Context, cc *adapter.CallContext, req Req, _ Call) (*stream.Sequence[Res], error) {
		return method(impl, ctx, cc, req)
	})
}

func bindEmpty[I, Res any](resolve resolveFunc[I], method func(I, context.Context, *adapter.CallContext) (*stream.Sequence[Res], error)) handler {
	return bindCall(resolve, func(impl I, ctx context.Context, cc *adapter.CallContext, _ features.EmptyRequest, _ Call) (*stream.Sequence[Res], error) {
		return method(impl, ctx, cc)
	})
}

func bindInput[I, Req, Item, Res any](resolve resolveFunc[I], method func(I, context.Context, *adapter.CallContext, Req, stream.Source[Item]) (*stream.Sequence[Res], error)) handler {
	return bindCall(resolve, func(impl I, ctx context.Context, cc *adapter.CallContext, req Req, call Call) (*stream.Sequence[Res], error) {
		return method(impl, ctx, cc, req, decodeSource[Item](call.Input))
	})
}

func decodeRequest[Req any](payload []byte) (Req, error) {
	req, err := jsoncodec.DecodeAs[Req](payload)
	if err != nil {
		return req, errspkg.Validation("payload", err.Error())
	}
	if err := features.Validate(req); err != nil {
		return req, err
	}
	return req, nil
}

func decodeSource[T any](src stream.Source[[]byte]) stream.Source[T] {
	if src == nil {
		return stream.FromSlice[T]()
	}
	return stream.SourceFunc[T](func(ctx context.Context) (T, bool, error) {
		var zero T
		raw, ok, err := src.Next(ctx)
		if err != nil || !ok {
			return zero, false, err
		}
		item, err := jsoncodec.DecodeAs[T](raw)
		if err != nil {
			return zero, false, errspkg.Validation("input", err.Error())
		}
		return item, true, nil
	})
}

func encodeSequence[T any](ctx context.Context, seq *stream.Sequence[T], call Call, out output) *stream.Sequence[[]byte] {
	return stream.Map(ctx, stream.Source[T](seq), out.policy, func(item T) ([]byte, error) {
		return jsoncodec.Marshal(item)
	}, stream.WithName("dispatch:"+call.Operation), stream.WithHooks(out.hooks))
}

var handlers = map[string]map[string]handler{
	features.HealthCheckFeature.URI(): {
		features.OpCheckHealth: bindEmpty(byContract(features.HealthCheckFeature), features.HealthCheck.CheckHealth),
	},
	features.TagSearchFeature.URI(): {
		features.OpFindTags: bind(byContract(features.TagSearchFeature), features.TagSearch.FindTags),
		features.OpGetTags:  bind(byContract(features.TagSearchFeature), features.TagSearch.GetTags),
	},
	features.ReadSnapshotTagValuesFeature.URI(): {
		features.OpReadSnapshotTagValues: bind(byContract(features.ReadSnapshotTagValuesFeature), features.SnapshotTagValueReader.ReadSnapshotTagValues),
	},
	features.ReadRawTagValuesFeature.URI(): {
		features.OpReadRawTagValues: bind(byContract(features.ReadRawTagValuesFeature), features.RawTagValueReader.ReadRawTagValues),
	},
	features.ReadPlotTagValuesFeature.URI(): {
		features.OpReadPlotTagValues: bind(byContract(features.ReadPlotTagValuesFeature), features.PlotTagValueReader.ReadPlotTagValues),
	},
	features.ReadProcessedTagValuesFeature.URI(): {
		features.OpGetSupportedDataFunctions: bindEmpty(byContract(features.ReadProcessedTagValuesFeature), features.ProcessedTagValueReader.GetSupportedDataFunctions),
		features.OpReadProcessedTagValues:    bind(byContract(features.ReadProcessedTagValuesFeature), features.ProcessedTagValueReader.ReadProcessedTagValues),
	},
	features.ReadTagValuesAtTimesFeature.URI(): {
		features.OpReadTagValuesAtTimes: bind(byContract(features.ReadTagValuesAtTimesFeature), features.TagValuesAtTimesReader.ReadTagValuesAtTimes),
	},
	features.WriteSnapshotTagValuesFeature.URI(): {
		features.OpWriteSnapshotTagValues: bindInput(byContract(features.WriteSnapshotTagValuesFeature), features.SnapshotTagValueWriter.WriteSnapshotTagValues),
	},
	features.SnapshotTagValuePushFeature.URI(): {
		features.OpSubscribeSnapshotTagValues: bind(byContract(features.SnapshotTagValuePushFeature), features.SnapshotTagValuePusher.SubscribeSnapshotTagValues),
	},
	features.EventMessagePushFeature.URI(): {
		features.OpSubscribeEventMessages: bind(byContract(features.EventMessagePushFeature), features.EventMessagePusher.SubscribeEventMessages),
	},
	features.ReadEventMessagesForTimeRangeFeature.URI(): {
		features.OpReadEventMessagesForTimeRange: bind(byContract(features.ReadEventMessagesForTimeRangeFeature), features.EventMessageTimeRangeReader.ReadEventMessagesForTimeRange),
	},
	features.ReadEventMessagesUsingCursorFeature.URI(): {
		features.OpReadEventMessagesUsingCursor: bind(byContract(features.ReadEventMessagesUsingCursorFeature), features.EventMessageCursorReader.ReadEventMessagesUsingCursor),
	},
	features.WriteEventMessagesFeature.URI(): {
		features.OpWriteEventMessages: bindInput(byContract(features.WriteEventMessagesFeature), features.EventMessageWriter.WriteEventMessages),
	},
	features.AssetModelBrowseFeature.URI(): {
		features.OpBrowseAssetModelNodes: bind(byContract(features.AssetModelBrowseFeature), features.AssetModelBrowser.BrowseAssetModelNodes),
		features.OpGetAssetModelNodes:    bind(byContract(features.AssetModelBrowseFeature), features.AssetModelBrowser.GetAssetModelNodes),
	},
	features.AssetModelSearchFeature.URI(): {
		features.OpFindAssetModelNodes: bind(byContract(features.AssetModelSearchFeature), features.AssetModelSearcher.FindAssetModelNodes),
	},
	features.ReadAnnotationsFeature.URI(): {
		features.OpReadAnnotations: bind(byContract(features.ReadAnnotationsFeature), features.AnnotationReader.ReadAnnotations),
		features.OpReadAnnotation:  bind(byContract(features.ReadAnnotationsFeature), features.AnnotationReader.ReadAnnotation),
	},
	features.WriteAnnotationsFeature.URI(): {
		features.OpCreateAnnotation: bind(byContract(features.WriteAnnotationsFeature), features.AnnotationWriter.CreateAnnotation),
		features.OpUpdateAnnotation: bind(byContract(features.WriteAnnotationsFeature), features.AnnotationWriter.UpdateAnnotation),
		features.OpDeleteAnnotation: bind(byContract(features.WriteAnnotationsFeature), features.AnnotationWriter.DeleteAnnotation),
	},
}

var extensionHandlers = map[string]handler{
	features.OpExtensionOperations: bindEmpty(byExtension, features.Extension.Operations),
	features.OpExtensionInvoke:     bind(byExtension, features.Extension.Invoke),
	features.OpExtensionStream:     bind(byExtension, features.Extension.Stream),
}

func lookupHandler(op features.Operation) handler {
	if ops, ok := handlers[op.Feature]; ok {
		return ops[op.Name]
	}
	return extensionHandlers[op.Name]
}
