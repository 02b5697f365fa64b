package adapterflow

import (
	"context"

	"github.com/drblury/adapterflow/adapter"
	"github.com/drblury/adapterflow/feature"
	runtimepkg "github.com/drblury/adapterflow/internal/runtime"
	configpkg "github.com/drblury/adapterflow/internal/runtime/config"
	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	idspkg "github.com/drblury/adapterflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/adapterflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/adapterflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/adapterflow/internal/runtime/metadata"
	"github.com/drblury/adapterflow/kvstore"
	"github.com/drblury/adapterflow/stream"
	"github.com/drblury/adapterflow/transport"
)

type (
	Config              = configpkg.Config
	RemoteConfig        = configpkg.RemoteConfig
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	ResourceUsage       = runtimepkg.ResourceUsage
	ForwardMetrics      = runtimepkg.ForwardMetrics

	Adapter     = adapter.Adapter
	Descriptor  = adapter.Descriptor
	AdapterInfo = adapter.Info
	CallContext = adapter.CallContext

	FeatureContract[T any] = feature.Contract[T]
	FeatureSet             = feature.Set

	Sequence[T any] = stream.Sequence[T]
	Source[T any]   = stream.Source[T]
	Policy          = stream.Policy
	ForwardHooks    = stream.ForwardHooks
	TaskInfo        = stream.TaskInfo

	Store = kvstore.Store

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ValidationError          = errspkg.ValidationError
	UnsupportedFeatureError  = errspkg.UnsupportedFeatureError
	TransportError           = errspkg.TransportError
	CancelledError           = errspkg.CancelledError
	StoreError               = errspkg.StoreError
	InvalidExtensionURIError = errspkg.InvalidExtensionURIError
	ErrorKind                = errspkg.Kind

	// Transport registry
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

var (
	NewService  = runtimepkg.NewService
	LoadConfig  = configpkg.Load
	ParseConfig = configpkg.Parse
	OpenStore   = runtimepkg.OpenStore

	NewCallContext = adapter.NewCallContext
	Describe       = adapter.Describe

	// Streaming policies
	Unbounded         = stream.Unbounded
	Bounded           = stream.Bounded
	BoundedDropOldest = stream.BoundedDropOldest

	// Forwarding task hooks
	LoggingHooks      = runtimepkg.LoggingHooks
	MetricsHooks      = runtimepkg.MetricsHooks
	AlertingHooks     = runtimepkg.AlertingHooks
	NewForwardMetrics = runtimepkg.NewForwardMetrics

	// Modular transport registry.
	// Import individual transports via: _ "github.com/drblury/adapterflow/transport/kafka"
	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build
	GetCapabilities          = transport.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrCancelled          = errspkg.ErrCancelled
	ErrNotFound           = errspkg.ErrNotFound
	ErrSequenceClosed     = errspkg.ErrSequenceClosed
	ErrDuplicateFeature   = errspkg.ErrDuplicateFeature
	ErrFeatureMismatch    = errspkg.ErrFeatureMismatch
	ErrFeatureSetSealed   = errspkg.ErrFeatureSetSealed
	ErrAdapterRequired    = errspkg.ErrAdapterRequired
	ErrAdapterNotFound    = errspkg.ErrAdapterNotFound
	ErrDuplicateAdapter   = errspkg.ErrDuplicateAdapter
	ErrUnknownOperation   = errspkg.ErrUnknownOperation
	ErrValidation         = errspkg.ErrValidation
	ErrUnsupportedFeature = errspkg.ErrUnsupportedFeature
	ErrTransport          = errspkg.ErrTransport
	ErrStore              = errspkg.ErrStore
	ErrUnknownTransport   = transport.ErrUnknownTransport
	KindOf                = errspkg.KindOf

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NopLogger            = loggingpkg.NopLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Resolve returns a's implementation of contract, or an
// *UnsupportedFeatureError.
func Resolve[T any](a Adapter, contract FeatureContract[T]) (T, error) {
	return adapter.Resolve(a, contract)
}

// Collect drains a sequence into a slice.
func Collect[T any](ctx context.Context, src Source[T]) ([]T, error) {
	return stream.Collect(ctx, src)
}

// First reads one item of a sequence and releases the rest.
func First[T any](ctx context.Context, src Source[T]) (T, error) {
	return stream.First(ctx, src)
}

// FromSlice returns a completed sequence holding items.
func FromSlice[T any](items ...T) *Sequence[T] {
	return stream.FromSlice(items...)
}
