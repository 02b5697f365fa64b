package inmemory

import (
	"context"
	"fmt"

	"github.com/drblury/adapterflow/adapter"
	"github.com/drblury/adapterflow/features"
	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	"github.com/drblury/adapterflow/internal/runtime/jsoncodec"
	"github.com/drblury/adapterflow/stream"
)

// Admin extension operations.
const (
	OpStats       = "stats"
	OpCheckpoints = "checkpoints"
)

// Stats is the result of the stats operation.
type Stats struct {
	Tags        int `json:"tags"`
	Events      int `json:"events"`
	Nodes       int `json:"nodes"`
	Annotations int `json:"annotations"`
	TagFeeds    int `json:"tagFeeds"`
	EventFeeds  int `json:"eventFeeds"`
}

// Stats counts the adapter's content and running feeds.
func (a *Adapter) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Stats{
		Tags:        len(a.tags),
		Events:      len(a.history),
		Nodes:       len(a.nodes),
		Annotations: a.annotationCountLocked(),
		TagFeeds:    len(a.tagFeeds),
		EventFeeds:  len(a.eventFeeds),
	}
}

type adminExtension struct {
	a *Adapter
}

func (adminExtension) Operations(context.Context, *adapter.CallContext) (*stream.Sequence[features.ExtensionOperation], error) {
	return stream.FromSlice(
		features.ExtensionOperation{ID: OpStats, Name: "Stats", Description: "Counts tags, events, nodes and feeds."},
		features.ExtensionOperation{ID: OpCheckpoints, Name: "Checkpoints", Description: "Lists the recorded cursor checkpoints.", Streaming: true},
	), nil
}

func (x adminExtension) Invoke(ctx context.Context, _ *adapter.CallContext, req features.InvokeExtensionRequest) (*stream.Sequence[features.InvokeExtensionResponse], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.OperationID != OpStats {
		return nil, unknownOperation(req.OperationID)
	}
	return stream.Go(ctx, func(context.Context) (features.InvokeExtensionResponse, error) {
		payload, err := jsoncodec.Marshal(x.a.Stats())
		return features.InvokeExtensionResponse{Payload: payload}, err
	}, stream.WithName("inmemory.admin.stats")), nil
}

// Stream lists the checkpoint keys, one response per key.
func (x adminExtension) Stream(ctx context.Context, _ *adapter.CallContext, req features.InvokeExtensionRequest) (*stream.Sequence[features.InvokeExtensionResponse], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.OperationID != OpCheckpoints {
		return nil, unknownOperation(req.OperationID)
	}
	keys := x.a.cursors.ListKeys(ctx, nil)
	return stream.Map(ctx, keys, stream.Unbounded(), func(k []byte) (features.InvokeExtensionResponse, error) {
		payload, err := jsoncodec.Marshal(string(k))
		return features.InvokeExtensionResponse{Payload: payload}, err
	}, stream.WithName("inmemory.admin.checkpoints")), nil
}

func unknownOperation(id string) error {
	return fmt.Errorf("%w: %q", errspkg.ErrUnknownOperation, id)
}
