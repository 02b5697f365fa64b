// Package rpc is the gRPC binding of the remote client contract. Calls
// travel as protobuf well-known types: a structpb.Struct call header, JSON
// payloads inside it, and wrapperspb.BytesValue results.
package rpc

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	grpcmd "google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/drblury/adapterflow/internal/runtime/metadata"
	"github.com/drblury/adapterflow/remote"
	"github.com/drblury/adapterflow/stream"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "adapterflow.remote.v1.AdapterService"

const (
	methodInvoke       = "/" + ServiceName + "/Invoke"
	methodDescribe     = "/" + ServiceName + "/Describe"
	methodListAdapters = "/" + ServiceName + "/ListAdapters"
	methodStream       = "/" + ServiceName + "/Stream"
)

// Call header fields.
const (
	fieldAdapterID = "adapter_id"
	fieldFeature   = "feature"
	fieldOperation = "operation"
	fieldPayload   = "payload"
	fieldItem      = "item"
)

// AdapterServiceServer is the server API of the adapter service.
type AdapterServiceServer interface {
	Invoke(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error)
	Describe(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	ListAdapters(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error)
	Stream(grpc.BidiStreamingServer[structpb.Struct, wrapperspb.BytesValue]) error
}

// RegisterAdapterServiceServer registers srv on s.
func RegisterAdapterServiceServer(s grpc.ServiceRegistrar, srv AdapterServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdapterServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: invokeHandler},
		{MethodName: "Describe", Handler: describeHandler},
		{MethodName: "ListAdapters", Handler: listAdaptersHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       streamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "adapterflow/remote/v1/adapter_service.proto",
}

func invokeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdapterServiceServer).Invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodInvoke}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdapterServiceServer).Invoke(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func describeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdapterServiceServer).Describe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodDescribe}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdapterServiceServer).Describe(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func listAdaptersHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdapterServiceServer).ListAdapters(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListAdapters}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AdapterServiceServer).ListAdapters(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func streamHandler(srv any, s grpc.ServerStream) error {
	return srv.(AdapterServiceServer).Stream(&grpc.GenericServerStream[structpb.Struct, wrapperspb.BytesValue]{ServerStream: s})
}

func encodeHeader(call remote.Call) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		fieldAdapterID: call.AdapterID,
		fieldFeature:   call.Feature,
		fieldOperation: call.Operation,
		fieldPayload:   string(call.Payload),
	})
}

func decodeHeader(ctx context.Context, in *structpb.Struct) remote.Call {
	fields := in.GetFields()
	call := remote.Call{
		AdapterID: fields[fieldAdapterID].GetStringValue(),
		Feature:   fields[fieldFeature].GetStringValue(),
		Operation: fields[fieldOperation].GetStringValue(),
		Metadata:  metadata.Metadata{},
	}
	if payload := fields[fieldPayload].GetStringValue(); payload != "" {
		call.Payload = []byte(payload)
	}
	if md, ok := grpcmd.FromIncomingContext(ctx); ok {
		call.Metadata = metadata.FromGRPC(md)
	}
	return call
}

func encodeItem(data []byte) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{fieldItem: string(data)})
}

// recvSource reads the client-stream items that follow the call header.
func recvSource(s grpc.BidiStreamingServer[structpb.Struct, wrapperspb.BytesValue]) stream.Source[[]byte] {
	return stream.SourceFunc[[]byte](func(context.Context) ([]byte, bool, error) {
		msg, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fromStatus(err)
		}
		return []byte(msg.GetFields()[fieldItem].GetStringValue()), true, nil
	})
}
