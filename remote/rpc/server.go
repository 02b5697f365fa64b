package rpc

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/drblury/adapterflow/features"
	"github.com/drblury/adapterflow/internal/runtime/jsoncodec"
	"github.com/drblury/adapterflow/internal/runtime/logging"
	"github.com/drblury/adapterflow/remote"
	"github.com/drblury/adapterflow/stream"
)

// Server serves a Dispatcher over gRPC.
type Server struct {
	d    *remote.Dispatcher
	log  logging.ServiceLogger
	grpc *grpc.Server
	lis  net.Listener
}

// NewServer creates a gRPC server and registers the adapter service.
func NewServer(d *remote.Dispatcher, log logging.ServiceLogger, opts ...grpc.ServerOption) *Server {
	s := &Server{
		d:    d,
		log:  logging.ForComponent(log, "grpc-server"),
		grpc: grpc.NewServer(opts...),
	}
	RegisterAdapterServiceServer(s.grpc, &service{d: d, log: s.log})
	return s
}

// GRPC returns the underlying server, for example to serve on a custom
// listener.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve serves on l until ctx is done.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.lis = l
	s.log.Info("gRPC server listening", logging.LogFields{"address": l.Addr().String()})
	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(l) }()
	select {
	case <-ctx.Done():
		s.grpc.GracefulStop()
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// Close stops the server and closes the listener.
func (s *Server) Close() {
	if s.grpc != nil {
		s.grpc.Stop()
	}
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

type service struct {
	d   *remote.Dispatcher
	log logging.ServiceLogger
}

func (s *service) Invoke(ctx context.Context, in *structpb.Struct) (*wrapperspb.BytesValue, error) {
	out, err := s.d.Invoke(ctx, decodeHeader(ctx, in))
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(out), nil
}

func (s *service) Describe(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	info, err := s.d.Describe(ctx, in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	data, err := jsoncodec.Marshal(info)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(data), nil
}

func (s *service) ListAdapters(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	infos, err := s.d.ListAdapters(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	data, err := jsoncodec.Marshal(infos)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(data), nil
}

func (s *service) Stream(srv grpc.BidiStreamingServer[structpb.Struct, wrapperspb.BytesValue]) error {
	ctx := srv.Context()
	header, err := srv.Recv()
	if err != nil {
		return err
	}
	call := decodeHeader(ctx, header)
	if op, ok := features.LookupOperation(call.Feature, call.Operation); ok && op.Kind == features.ClientStream {
		call.Input = recvSource(srv)
	}

	seq, err := s.d.Dispatch(ctx, call)
	if err != nil {
		return toStatus(err)
	}
	return sendAll(ctx, srv, seq)
}

func sendAll(ctx context.Context, srv grpc.BidiStreamingServer[structpb.Struct, wrapperspb.BytesValue], seq *stream.Sequence[[]byte]) error {
	defer seq.Cancel(nil)
	for {
		item, ok, err := seq.Next(ctx)
		if !ok {
			return toStatus(err)
		}
		if err := srv.Send(wrapperspb.Bytes(item)); err != nil {
			return err
		}
	}
}
