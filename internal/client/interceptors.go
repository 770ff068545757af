package client

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/pesio-ai/be-proc-approvals/internal/common/auth"
)

// forwardMetadata is a gRPC unary client interceptor that propagates
// incoming request metadata (including the gateway identity) to outgoing
// service-to-service calls.
func forwardMetadata(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		ctx = metadata.NewOutgoingContext(ctx, md)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// attachPrincipal writes a principal stored on the context as gateway
// identity metadata. Callers outside a request (the CLI) use this to act
// as a given user.
func attachPrincipal(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	if p, err := auth.FromContext(ctx); err == nil {
		ctx = metadata.AppendToOutgoingContext(ctx,
			strings.ToLower(auth.HeaderUserID), p.UserID,
			strings.ToLower(auth.HeaderUserRole), p.Role,
			strings.ToLower(auth.HeaderVesselIDs), strings.Join(p.VesselIDs, ","),
			strings.ToLower(auth.HeaderPermissions), strings.Join(p.Permissions, ","),
		)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}
