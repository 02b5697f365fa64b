package metadata

import (
	"strings"

	grpcmd "google.golang.org/grpc/metadata"
)

// GRPCPrefix namespaces call metadata inside gRPC headers.
const GRPCPrefix = "x-adapterflow-"

// ToGRPC converts call metadata into outgoing gRPC metadata.
func ToGRPC(md Metadata) grpcmd.MD {
	out := grpcmd.MD{}
	for k, v := range md {
		out.Set(GRPCPrefix+strings.ReplaceAll(k, "_", "-"), v)
	}
	return out
}

// FromGRPC extracts call metadata from incoming gRPC metadata.
func FromGRPC(md grpcmd.MD) Metadata {
	result := Metadata{}
	for k, values := range md {
		if len(values) == 0 || !strings.HasPrefix(k, GRPCPrefix) || len(k) == len(GRPCPrefix) {
			continue
		}
		result[normalizeKey(strings.TrimPrefix(k, GRPCPrefix))] = values[0]
	}
	return result
}
