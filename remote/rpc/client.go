package rpc

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpcmd "google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/drblury/adapterflow/adapter"
	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	"github.com/drblury/adapterflow/internal/runtime/jsoncodec"
	"github.com/drblury/adapterflow/internal/runtime/metadata"
	"github.com/drblury/adapterflow/remote"
)

// Client is a remote.Client over gRPC.
type Client struct {
	conn   grpc.ClientConnInterface
	closer io.Closer
}

// Dial connects to target. Without options the connection is insecure.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, errspkg.Transport(transportName, "dial", err)
	}
	return &Client{conn: conn, closer: conn}, nil
}

// NewClient wraps an existing connection. Close does not close conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) Name() string { return transportName }

func (c *Client) ListAdapters(ctx context.Context) ([]adapter.Info, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, methodListAdapters, &emptypb.Empty{}, out); err != nil {
		return nil, fromStatus(err)
	}
	return jsoncodec.DecodeAs[[]adapter.Info](out.GetValue())
}

func (c *Client) Describe(ctx context.Context, adapterID string) (adapter.Info, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, methodDescribe, wrapperspb.String(adapterID), out); err != nil {
		return adapter.Info{}, fromStatus(err)
	}
	return jsoncodec.DecodeAs[adapter.Info](out.GetValue())
}

func (c *Client) Invoke(ctx context.Context, call remote.Call) ([]byte, error) {
	header, err := encodeHeader(call)
	if err != nil {
		return nil, errspkg.Validation("payload", err.Error())
	}
	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(outgoing(ctx, call.Metadata), methodInvoke, header, out); err != nil {
		return nil, fromStatus(err)
	}
	return out.GetValue(), nil
}

func (c *Client) Stream(ctx context.Context, call remote.Call) (remote.RawStream, error) {
	header, err := encodeHeader(call)
	if err != nil {
		return nil, errspkg.Validation("payload", err.Error())
	}
	ctx, cancel := context.WithCancelCause(outgoing(ctx, call.Metadata))
	cs, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], methodStream)
	if err != nil {
		cancel(err)
		return nil, fromStatus(err)
	}
	bidi := &grpc.GenericClientStream[structpb.Struct, wrapperspb.BytesValue]{ClientStream: cs}
	if err := bidi.Send(header); err != nil {
		cancel(err)
		return nil, fromStatus(err)
	}
	if call.Input == nil {
		_ = bidi.CloseSend()
	} else {
		go sendInput(ctx, cancel, bidi, call)
	}
	return &clientStream{ctx: ctx, bidi: bidi, cancel: cancel}, nil
}

func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

func outgoing(ctx context.Context, md metadata.Metadata) context.Context {
	if len(md) == 0 {
		return ctx
	}
	return grpcmd.NewOutgoingContext(ctx, metadata.ToGRPC(md))
}

// sendInput streams the client-side items after the header. A failing
// input aborts the whole call.
func sendInput(ctx context.Context, cancel context.CancelCauseFunc, bidi grpc.BidiStreamingClient[structpb.Struct, wrapperspb.BytesValue], call remote.Call) {
	for {
		data, ok, err := call.Input.Next(ctx)
		if err != nil {
			cancel(err)
			return
		}
		if !ok {
			_ = bidi.CloseSend()
			return
		}
		item, err := encodeItem(data)
		if err != nil {
			cancel(err)
			return
		}
		if err := bidi.Send(item); err != nil {
			return
		}
	}
}

type clientStream struct {
	ctx    context.Context
	bidi   grpc.BidiStreamingClient[structpb.Struct, wrapperspb.BytesValue]
	cancel context.CancelCauseFunc

	cur  []byte
	err  error
	done bool
}

func (s *clientStream) Next() bool {
	if s.done {
		return false
	}
	msg, err := s.bidi.Recv()
	if err != nil {
		s.done = true
		s.cur = nil
		if !errors.Is(err, io.EOF) {
			s.err = fromStatus(err)
			// A failed input aborts the call with its own error.
			if cause := context.Cause(s.ctx); cause != nil && !errors.Is(cause, context.Canceled) {
				s.err = cause
			}
		}
		return false
	}
	s.cur = msg.GetValue()
	return true
}

func (s *clientStream) Current() []byte { return s.cur }

func (s *clientStream) Err() error { return s.err }

func (s *clientStream) Close() error {
	s.done = true
	s.cancel(nil)
	return nil
}

var _ remote.Client = (*Client)(nil)
