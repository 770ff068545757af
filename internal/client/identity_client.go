package client

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-proc-approvals/internal/common/errors"
	"github.com/pesio-ai/be-proc-approvals/internal/repository"
	"github.com/pesio-ai/be-proc-approvals/internal/rpc"
)

// IdentityGetUserMethod is the platform identity RPC used to resolve users.
const IdentityGetUserMethod = "/platform.identity.v1.IdentityService/GetUser"

// IdentityGRPCClient implements service.UserDirectory against the platform
// identity gRPC service, for deployments where users live there rather than
// in the approvals database.
type IdentityGRPCClient struct {
	conn *grpc.ClientConn
}

type identityUser struct {
	ID        string   `json:"id"`
	Role      string   `json:"role"`
	IsActive  bool     `json:"isActive"`
	VesselIDs []string `json:"vesselIds"`
}

// NewIdentityGRPCClient dials the identity gRPC service and returns a client.
func NewIdentityGRPCClient(addr string, opts ...grpc.DialOption) (*IdentityGRPCClient, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(forwardMetadata),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &IdentityGRPCClient{conn: conn}, nil
}

// Close releases the underlying gRPC connection.
func (c *IdentityGRPCClient) Close() error {
	return c.conn.Close()
}

// GetUser resolves a user's role, active flag and vessel assignments.
func (c *IdentityGRPCClient) GetUser(ctx context.Context, id string) (*repository.User, error) {
	in, err := structpb.NewStruct(map[string]any{"userId": id})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, IdentityGetUserMethod, in, out); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("user", id)
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get user from identity service")
	}

	var u identityUser
	if err := rpc.Decode(out, &u); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to decode identity user")
	}
	if u.ID == "" {
		u.ID = id
	}
	return &repository.User{ID: u.ID, Role: u.Role, IsActive: u.IsActive, VesselIDs: u.VesselIDs}, nil
}
