package remote

import (
	"context"

	"github.com/drblury/adapterflow/adapter"
)

// LocalClient is a Client that calls a Dispatcher in the same process. It
// lets a host proxy its own adapters and serves as the reference Client in
// tests.
type LocalClient struct {
	d *Dispatcher
}

// NewLocalClient wraps d.
func NewLocalClient(d *Dispatcher) *LocalClient {
	return &LocalClient{d: d}
}

func (c *LocalClient) Name() string { return "local" }

func (c *LocalClient) ListAdapters(ctx context.Context) ([]adapter.Info, error) {
	return c.d.ListAdapters(ctx)
}

func (c *LocalClient) Describe(ctx context.Context, adapterID string) (adapter.Info, error) {
	return c.d.Describe(ctx, adapterID)
}

func (c *LocalClient) Invoke(ctx context.Context, call Call) ([]byte, error) {
	return c.d.Invoke(ctx, call)
}

func (c *LocalClient) Stream(ctx context.Context, call Call) (RawStream, error) {
	seq, err := c.d.Dispatch(ctx, call)
	if err != nil {
		return nil, err
	}
	return SequenceStream(ctx, seq), nil
}

func (c *LocalClient) Close() error { return nil }

var _ Client = (*LocalClient)(nil)
