package client

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-proc-approvals/internal/rpc"
)

// ApprovalsGRPCClient calls the ApprovalEngine gRPC service. Responses are
// the JSON shapes the HTTP API returns, decoded into generic maps.
type ApprovalsGRPCClient struct {
	conn *grpc.ClientConn
}

// NewApprovalsGRPCClient dials the approvals gRPC service and returns a client.
func NewApprovalsGRPCClient(addr string, opts ...grpc.DialOption) (*ApprovalsGRPCClient, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(forwardMetadata, attachPrincipal),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &ApprovalsGRPCClient{conn: conn}, nil
}

// Close releases the underlying gRPC connection.
func (c *ApprovalsGRPCClient) Close() error {
	return c.conn.Close()
}

// Call invokes method with a JSON-tagged request and returns the decoded
// response together with the response header metadata.
func (c *ApprovalsGRPCClient) Call(ctx context.Context, method string, req any) (map[string]any, metadata.MD, error) {
	in, err := rpc.Encode(req)
	if err != nil {
		return nil, nil, err
	}
	out := new(structpb.Struct)
	var header metadata.MD
	if err := c.conn.Invoke(ctx, rpc.FullMethod(method), in, out, grpc.Header(&header)); err != nil {
		return nil, header, err
	}
	return out.AsMap(), header, nil
}

// CreateRequisition creates a draft requisition as the context principal.
func (c *ApprovalsGRPCClient) CreateRequisition(ctx context.Context, req rpc.CreateRequisitionRequest) (map[string]any, error) {
	out, _, err := c.Call(ctx, rpc.MethodCreateRequisition, req)
	return out, err
}

// SubmitRequisition submits a draft. The bool reports whether the response
// asked for shore-side post-approval.
func (c *ApprovalsGRPCClient) SubmitRequisition(ctx context.Context, id, overrideID string) (map[string]any, bool, error) {
	out, header, err := c.Call(ctx, rpc.MethodSubmitRequisition, rpc.SubmitRequest{ID: id, OverrideID: overrideID})
	if err != nil {
		return nil, false, err
	}
	return out, postApprovalRequested(header), nil
}

// ApproveRequisition approves a requisition.
func (c *ApprovalsGRPCClient) ApproveRequisition(ctx context.Context, id, costCenter, notes string) (map[string]any, error) {
	out, _, err := c.Call(ctx, rpc.MethodApproveRequisition, rpc.ApproveRequest{ID: id, CostCenter: costCenter, Notes: notes})
	return out, err
}

// RejectRequisition rejects a requisition.
func (c *ApprovalsGRPCClient) RejectRequisition(ctx context.Context, id, reason string) (map[string]any, error) {
	out, _, err := c.Call(ctx, rpc.MethodRejectRequisition, rpc.ReasonRequest{ID: id, Reason: reason})
	return out, err
}

// GrantOverride requests an emergency override.
func (c *ApprovalsGRPCClient) GrantOverride(ctx context.Context, req rpc.GrantOverrideRequest) (map[string]any, bool, error) {
	out, header, err := c.Call(ctx, rpc.MethodGrantOverride, req)
	if err != nil {
		return nil, false, err
	}
	return out, postApprovalRequested(header), nil
}

// PostApproveOverride completes an override review.
func (c *ApprovalsGRPCClient) PostApproveOverride(ctx context.Context, id, reason string) (map[string]any, error) {
	out, _, err := c.Call(ctx, rpc.MethodPostApproveOverride, rpc.ReasonRequest{ID: id, Reason: reason})
	return out, err
}

// RunMaintenance triggers a sweep on the server.
func (c *ApprovalsGRPCClient) RunMaintenance(ctx context.Context) (map[string]any, error) {
	out, _, err := c.Call(ctx, rpc.MethodRunMaintenance, struct{}{})
	return out, err
}

func postApprovalRequested(md metadata.MD) bool {
	v := md.Get(rpc.PostApprovalMetadataKey)
	return len(v) > 0 && v[0] == "true"
}
