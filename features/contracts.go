// Package features is the built-in feature catalogue: the contract of every
// optional adapter capability, its request and result types, and the
// operation names the remote bindings use on the wire.
//
// Every operation returns a *stream.Sequence. Request validation and
// unsupported-feature errors are returned synchronously, before any sequence
// exists; failures after that surface as the sequence's terminal error.
// One-shot operations return a single-item sequence; use stream.First to
// read it.
package features

import (
	"context"

	"github.com/drblury/adapterflow/adapter"
	"github.com/drblury/adapterflow/feature"
	"github.com/drblury/adapterflow/stream"
)

// EmptyRequest is the request of operations that take no parameters.
type EmptyRequest struct{}

// HealthCheck reports adapter health.
type HealthCheck interface {
	CheckHealth(ctx context.Context, cc *adapter.CallContext) (*stream.Sequence[HealthCheckResult], error)
}

// TagSearch finds and fetches tag definitions.
type TagSearch interface {
	FindTags(ctx context.Context, cc *adapter.CallContext, req FindTagsRequest) (*stream.Sequence[TagDefinition], error)
	GetTags(ctx context.Context, cc *adapter.CallContext, req GetTagsRequest) (*stream.Sequence[TagDefinition], error)
}

// SnapshotTagValueReader reads current tag values.
type SnapshotTagValueReader interface {
	ReadSnapshotTagValues(ctx context.Context, cc *adapter.CallContext, req ReadSnapshotTagValuesRequest) (*stream.Sequence[TagValueQueryResult], error)
}

// RawTagValueReader reads recorded samples.
type RawTagValueReader interface {
	ReadRawTagValues(ctx context.Context, cc *adapter.CallContext, req ReadRawTagValuesRequest) (*stream.Sequence[TagValueQueryResult], error)
}

// PlotTagValueReader reads trend-friendly samples.
type PlotTagValueReader interface {
	ReadPlotTagValues(ctx context.Context, cc *adapter.CallContext, req ReadPlotTagValuesRequest) (*stream.Sequence[TagValueQueryResult], error)
}

// ProcessedTagValueReader aggregates samples with data functions.
type ProcessedTagValueReader interface {
	GetSupportedDataFunctions(ctx context.Context, cc *adapter.CallContext) (*stream.Sequence[DataFunctionDescriptor], error)
	ReadProcessedTagValues(ctx context.Context, cc *adapter.CallContext, req ReadProcessedTagValuesRequest) (*stream.Sequence[ProcessedTagValueQueryResult], error)
}

// TagValuesAtTimesReader reads values at given instants.
type TagValuesAtTimesReader interface {
	ReadTagValuesAtTimes(ctx context.Context, cc *adapter.CallContext, req ReadTagValuesAtTimesRequest) (*stream.Sequence[TagValueQueryResult], error)
}

// SnapshotTagValueWriter writes current tag values.
type SnapshotTagValueWriter interface {
	WriteSnapshotTagValues(ctx context.Context, cc *adapter.CallContext, req WriteTagValuesRequest, values stream.Source[WriteTagValueItem]) (*stream.Sequence[WriteTagValueResult], error)
}

// SnapshotTagValuePusher pushes snapshot changes.
type SnapshotTagValuePusher interface {
	SubscribeSnapshotTagValues(ctx context.Context, cc *adapter.CallContext, req CreateSnapshotTagValueSubscriptionRequest) (*stream.Sequence[TagValueQueryResult], error)
}

// EventMessagePusher pushes live event messages.
type EventMessagePusher interface {
	SubscribeEventMessages(ctx context.Context, cc *adapter.CallContext, req CreateEventMessageSubscriptionRequest) (*stream.Sequence[EventMessage], error)
}

// EventMessageTimeRangeReader reads historical events by time.
type EventMessageTimeRangeReader interface {
	ReadEventMessagesForTimeRange(ctx context.Context, cc *adapter.CallContext, req ReadEventMessagesForTimeRangeRequest) (*stream.Sequence[EventMessage], error)
}

// EventMessageCursorReader reads historical events by cursor.
type EventMessageCursorReader interface {
	ReadEventMessagesUsingCursor(ctx context.Context, cc *adapter.CallContext, req ReadEventMessagesUsingCursorRequest) (*stream.Sequence[EventMessageWithCursorPosition], error)
}

// EventMessageWriter writes event messages.
type EventMessageWriter interface {
	WriteEventMessages(ctx context.Context, cc *adapter.CallContext, req WriteEventMessagesRequest, messages stream.Source[WriteEventMessageItem]) (*stream.Sequence[WriteEventMessageResult], error)
}

// AssetModelBrowser navigates the asset hierarchy.
type AssetModelBrowser interface {
	BrowseAssetModelNodes(ctx context.Context, cc *adapter.CallContext, req BrowseAssetModelNodesRequest) (*stream.Sequence[AssetModelNode], error)
	GetAssetModelNodes(ctx context.Context, cc *adapter.CallContext, req GetAssetModelNodesRequest) (*stream.Sequence[AssetModelNode], error)
}

// AssetModelSearcher searches the asset hierarchy.
type AssetModelSearcher interface {
	FindAssetModelNodes(ctx context.Context, cc *adapter.CallContext, req FindAssetModelNodesRequest) (*stream.Sequence[AssetModelNode], error)
}

// AnnotationReader reads tag value annotations.
type AnnotationReader interface {
	ReadAnnotations(ctx context.Context, cc *adapter.CallContext, req ReadAnnotationsRequest) (*stream.Sequence[TagValueAnnotationQueryResult], error)
	ReadAnnotation(ctx context.Context, cc *adapter.CallContext, req ReadAnnotationRequest) (*stream.Sequence[TagValueAnnotation], error)
}

// AnnotationWriter creates, updates and deletes annotations.
type AnnotationWriter interface {
	CreateAnnotation(ctx context.Context, cc *adapter.CallContext, req CreateAnnotationRequest) (*stream.Sequence[WriteTagValueAnnotationResult], error)
	UpdateAnnotation(ctx context.Context, cc *adapter.CallContext, req UpdateAnnotationRequest) (*stream.Sequence[WriteTagValueAnnotationResult], error)
	DeleteAnnotation(ctx context.Context, cc *adapter.CallContext, req DeleteAnnotationRequest) (*stream.Sequence[WriteTagValueAnnotationResult], error)
}

// Extension is the contract of every extension feature. Operations are
// identified by id and exchange opaque JSON.
type Extension interface {
	Operations(ctx context.Context, cc *adapter.CallContext) (*stream.Sequence[ExtensionOperation], error)
	Invoke(ctx context.Context, cc *adapter.CallContext, req InvokeExtensionRequest) (*stream.Sequence[InvokeExtensionResponse], error)
	Stream(ctx context.Context, cc *adapter.CallContext, req InvokeExtensionRequest) (*stream.Sequence[InvokeExtensionResponse], error)
}

const (
	categoryDiagnostics = "diagnostics"
	categoryRealTime    = "real-time-data"
	categoryEvents      = "alarms-and-events"
	categoryAssetModel  = "asset-model"
)

// Built-in contracts.
var (
	HealthCheckFeature = feature.New[HealthCheck](feature.BaseURI+"diagnostics/health-check/",
		"Health Check", "Reports the health of the adapter.", categoryDiagnostics)

	TagSearchFeature = feature.New[TagSearch](feature.BaseURI+"real-time-data/tag-search/",
		"Tag Search", "Finds and fetches tag definitions.", categoryRealTime)
	ReadSnapshotTagValuesFeature = feature.New[SnapshotTagValueReader](feature.BaseURI+"real-time-data/read-snapshot-tag-values/",
		"Read Snapshot Tag Values", "Reads the current value of tags.", categoryRealTime)
	ReadRawTagValuesFeature = feature.New[RawTagValueReader](feature.BaseURI+"real-time-data/read-raw-tag-values/",
		"Read Raw Tag Values", "Reads recorded samples of tags.", categoryRealTime)
	ReadPlotTagValuesFeature = feature.New[PlotTagValueReader](feature.BaseURI+"real-time-data/read-plot-tag-values/",
		"Read Plot Tag Values", "Reads samples suitable for trending.", categoryRealTime)
	ReadProcessedTagValuesFeature = feature.New[ProcessedTagValueReader](feature.BaseURI+"real-time-data/read-processed-tag-values/",
		"Read Processed Tag Values", "Aggregates samples with data functions.", categoryRealTime)
	ReadTagValuesAtTimesFeature = feature.New[TagValuesAtTimesReader](feature.BaseURI+"real-time-data/read-tag-values-at-times/",
		"Read Tag Values At Times", "Reads values at given instants.", categoryRealTime)
	WriteSnapshotTagValuesFeature = feature.New[SnapshotTagValueWriter](feature.BaseURI+"real-time-data/write-snapshot-tag-values/",
		"Write Snapshot Tag Values", "Writes current tag values.", categoryRealTime)
	SnapshotTagValuePushFeature = feature.New[SnapshotTagValuePusher](feature.BaseURI+"real-time-data/snapshot-tag-value-push/",
		"Snapshot Tag Value Push", "Pushes snapshot value changes.", categoryRealTime)
	ReadAnnotationsFeature = feature.New[AnnotationReader](feature.BaseURI+"real-time-data/annotations/read/",
		"Read Annotations", "Reads tag value annotations.", categoryRealTime)
	WriteAnnotationsFeature = feature.New[AnnotationWriter](feature.BaseURI+"real-time-data/annotations/write/",
		"Write Annotations", "Creates, updates and deletes annotations.", categoryRealTime)

	EventMessagePushFeature = feature.New[EventMessagePusher](feature.BaseURI+"alarms-and-events/event-message-push/",
		"Event Message Push", "Pushes live event messages.", categoryEvents)
	ReadEventMessagesForTimeRangeFeature = feature.New[EventMessageTimeRangeReader](feature.BaseURI+"alarms-and-events/read-event-messages-time-range/",
		"Read Event Messages For Time Range", "Reads historical events by time.", categoryEvents)
	ReadEventMessagesUsingCursorFeature = feature.New[EventMessageCursorReader](feature.BaseURI+"alarms-and-events/read-event-messages-cursor/",
		"Read Event Messages Using Cursor", "Reads historical events by cursor.", categoryEvents)
	WriteEventMessagesFeature = feature.New[EventMessageWriter](feature.BaseURI+"alarms-and-events/write-event-messages/",
		"Write Event Messages", "Writes event messages.", categoryEvents)

	AssetModelBrowseFeature = feature.New[AssetModelBrowser](feature.BaseURI+"asset-model/browse/",
		"Asset Model Browse", "Navigates the asset hierarchy.", categoryAssetModel)
	AssetModelSearchFeature = feature.New[AssetModelSearcher](feature.BaseURI+"asset-model/search/",
		"Asset Model Search", "Searches the asset hierarchy.", categoryAssetModel)
)

// Builtins returns every built-in contract.
func Builtins() []feature.Key {
	return []feature.Key{
		HealthCheckFeature,
		TagSearchFeature,
		ReadSnapshotTagValuesFeature,
		ReadRawTagValuesFeature,
		ReadPlotTagValuesFeature,
		ReadProcessedTagValuesFeature,
		ReadTagValuesAtTimesFeature,
		WriteSnapshotTagValuesFeature,
		SnapshotTagValuePushFeature,
		ReadAnnotationsFeature,
		WriteAnnotationsFeature,
		EventMessagePushFeature,
		ReadEventMessagesForTimeRangeFeature,
		ReadEventMessagesUsingCursorFeature,
		WriteEventMessagesFeature,
		AssetModelBrowseFeature,
		AssetModelSearchFeature,
	}
}

// Builtin returns the built-in contract registered under uri.
func Builtin(uri string) (feature.Key, bool) {
	for _, k := range Builtins() {
		if k.Descriptor().URI == uri {
			return k, true
		}
	}
	return nil, false
}

// NewExtension declares an extension contract under
// feature.ExtensionBaseURI.
func NewExtension(uri, displayName, description string) (feature.Contract[Extension], error) {
	return feature.NewExtension[Extension](uri, displayName, description)
}

// ExtensionContract returns the contract for an extension URI that was
// already validated, for example one received from a remote peer.
func ExtensionContract(desc feature.Descriptor) (feature.Contract[Extension], error) {
	return feature.NewExtension[Extension](desc.URI, desc.DisplayName, desc.Description)
}
