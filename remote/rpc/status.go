package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
)

const transportName = "grpc"

// toStatus maps the error taxonomy onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	var code codes.Code
	switch errspkg.KindOf(err) {
	case errspkg.KindValidation:
		code = codes.InvalidArgument
	case errspkg.KindUnsupported:
		code = codes.Unimplemented
	case errspkg.KindCancelled:
		code = codes.Canceled
	case errspkg.KindNotFound:
		code = codes.NotFound
	case errspkg.KindTransport:
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// fromStatus rebuilds a classified error from a gRPC status.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	msg := st.Message()
	switch st.Code() {
	case codes.OK:
		return nil
	case codes.InvalidArgument:
		return errspkg.FromKind(errspkg.KindValidation, transportName, msg)
	case codes.Unimplemented:
		return errspkg.FromKind(errspkg.KindUnsupported, transportName, msg)
	case codes.Canceled:
		return errspkg.FromKind(errspkg.KindCancelled, transportName, msg)
	case codes.NotFound:
		return errspkg.FromKind(errspkg.KindNotFound, transportName, msg)
	case codes.DeadlineExceeded:
		return errspkg.Transport(transportName, "remote", context.DeadlineExceeded)
	}
	return errspkg.FromKind(errspkg.KindTransport, transportName, msg)
}
