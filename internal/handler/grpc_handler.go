package handler

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-proc-approvals/internal/common/auth"
	"github.com/pesio-ai/be-proc-approvals/internal/common/errors"
	"github.com/pesio-ai/be-proc-approvals/internal/common/logger"
	"github.com/pesio-ai/be-proc-approvals/internal/policy"
	"github.com/pesio-ai/be-proc-approvals/internal/rpc"
	"github.com/pesio-ai/be-proc-approvals/internal/service"
)

// ApprovalEngineServer is the server side of the ApprovalEngine service.
type ApprovalEngineServer interface {
	CreateRequisition(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRequisition(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitRequisition(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApproveRequisition(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RejectRequisition(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EscalateRequisition(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GrantOverride(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ValidateOverride(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PostApproveOverride(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeactivateOverride(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EvaluatePolicy(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunMaintenance(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(ApprovalEngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(ApprovalEngineServer)
			if interceptor == nil {
				return fn(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: rpc.FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes the ApprovalEngine service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: rpc.ServiceName,
	HandlerType: (*ApprovalEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(rpc.MethodCreateRequisition, ApprovalEngineServer.CreateRequisition),
		unary(rpc.MethodGetRequisition, ApprovalEngineServer.GetRequisition),
		unary(rpc.MethodSubmitRequisition, ApprovalEngineServer.SubmitRequisition),
		unary(rpc.MethodApproveRequisition, ApprovalEngineServer.ApproveRequisition),
		unary(rpc.MethodRejectRequisition, ApprovalEngineServer.RejectRequisition),
		unary(rpc.MethodEscalateRequisition, ApprovalEngineServer.EscalateRequisition),
		unary(rpc.MethodGetHistory, ApprovalEngineServer.GetHistory),
		unary(rpc.MethodGrantOverride, ApprovalEngineServer.GrantOverride),
		unary(rpc.MethodValidateOverride, ApprovalEngineServer.ValidateOverride),
		unary(rpc.MethodPostApproveOverride, ApprovalEngineServer.PostApproveOverride),
		unary(rpc.MethodDeactivateOverride, ApprovalEngineServer.DeactivateOverride),
		unary(rpc.MethodEvaluatePolicy, ApprovalEngineServer.EvaluatePolicy),
		unary(rpc.MethodRunMaintenance, ApprovalEngineServer.RunMaintenance),
	},
	Metadata: "procurement/approvals/v1/approval_engine.proto",
}

// GRPCHandler implements the ApprovalEngine gRPC interface
type GRPCHandler struct {
	approvals *service.ApprovalService
	overrides *service.OverrideService
	sweeper   *service.Sweeper
	policies  *policy.Store
	now       func() time.Time
	log       *logger.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(approvals *service.ApprovalService, overrides *service.OverrideService, sweeper *service.Sweeper, policies *policy.Store, log *logger.Logger) *GRPCHandler {
	return &GRPCHandler{
		approvals: approvals,
		overrides: overrides,
		sweeper:   sweeper,
		policies:  policies,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log.Component("grpc"),
	}
}

// Register attaches the handler to a gRPC server.
func (h *GRPCHandler) Register(s *grpc.Server) {
	s.RegisterService(&ServiceDesc, h)
}

// ── Interceptors ──────────────────────────────────────────────────────────────

// PrincipalInterceptor reads the gateway principal from incoming metadata.
func PrincipalInterceptor(ctx context.Context, req any, _ *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if p, ok := auth.FromMetadata(md); ok {
			ctx = auth.WithPrincipal(ctx, p)
		}
	}
	return next(ctx, req)
}

// LoggingInterceptor logs each call with its outcome.
func LoggingInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		resp, err := next(ctx, req)
		ev := log.Debug()
		if err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Msg("gRPC call")
		return resp, err
	}
}

// ── Requisitions ──────────────────────────────────────────────────────────────

// CreateRequisition creates a draft requisition
func (h *GRPCHandler) CreateRequisition(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := auth.FromContext(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	var req rpc.CreateRequisitionRequest
	if err := rpc.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid amount %q", req.Amount)
	}

	r, err := h.approvals.CreateDraft(ctx, p, service.CreateRequest{
		VesselID:         req.VesselID,
		Amount:           amount,
		Currency:         req.Currency,
		UrgencyLevel:     req.UrgencyLevel,
		CriticalityLevel: req.CriticalityLevel,
		Department:       req.Department,
		Category:         req.Category,
		Tags:             req.Tags,
	})
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return encode(toRequisitionDTO(r))
}

// GetRequisition returns a requisition by id
func (h *GRPCHandler) GetRequisition(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req rpc.IDRequest
	if err := rpc.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	r, err := h.approvals.Get(ctx, req.ID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return encode(toRequisitionDTO(r))
}

// SubmitRequisition submits a draft. When an override still awaits review the
// post-approval header is sent back as response metadata.
func (h *GRPCHandler) SubmitRequisition(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := auth.FromContext(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	var req rpc.SubmitRequest
	if err := rpc.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	res, err := h.approvals.Submit(ctx, p, req.ID, req.OverrideID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	if res.RequiresPostApproval() {
		h.markPostApproval(ctx, "requisition", res.Requisition.ID)
	}
	return encode(SubmitResponse{
		Requisition:          toRequisitionDTO(res.Requisition),
		Decision:             res.Decision,
		RequiresPostApproval: res.RequiresPostApproval(),
	})
}

// ApproveRequisition approves a requisition
func (h *GRPCHandler) ApproveRequisition(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := auth.FromContext(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	var req rpc.ApproveRequest
	if err := rpc.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	r, err := h.approvals.Approve(ctx, p, req.ID, service.ApproveRequest{CostCenter: req.CostCenter, Notes: req.Notes})
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return encode(toRequisitionDTO(r))
}

// RejectRequisition rejects a requisition
func (h *GRPCHandler) RejectRequisition(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, req, err := h.reasonCall(ctx, in)
	if err != nil {
		return nil, err
	}
	r, err := h.approvals.Reject(ctx, p, req.ID, req.Reason)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return encode(toRequisitionDTO(r))
}

// EscalateRequisition escalates a requisition
func (h *GRPCHandler) EscalateRequisition(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, req, err := h.reasonCall(ctx, in)
	if err != nil {
		return nil, err
	}
	r, err := h.approvals.Escalate(ctx, p, req.ID, req.Reason)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return encode(toRequisitionDTO(r))
}

// GetHistory returns the audit trail of a requisition
func (h *GRPCHandler) GetHistory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req rpc.IDRequest
	if err := rpc.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	entries, err := h.approvals.History(ctx, req.ID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return encode(map[string]any{"entries": toTransitionDTOs(entries)})
}

// ── Emergency overrides ───────────────────────────────────────────────────────

// GrantOverride grants an emergency override to the caller
func (h *GRPCHandler) GrantOverride(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := auth.FromContext(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	var req rpc.GrantOverrideRequest
	if err := rpc.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	o, err := h.overrides.Grant(ctx, p, service.GrantRequest{
		VesselID:         req.VesselID,
		Reason:           req.Reason,
		UrgencyLevel:     req.UrgencyLevel,
		CriticalityLevel: req.CriticalityLevel,
	})
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	if o.RequiresPostApproval {
		h.markPostApproval(ctx, "override", o.ID)
	}
	return encode(toOverrideDTO(o))
}

// markPostApproval sets the post-approval response header. The response
// body carries the same flag, so a failure is logged and the call proceeds.
func (h *GRPCHandler) markPostApproval(ctx context.Context, resource, id string) {
	if err := grpc.SetHeader(ctx, metadata.Pairs(rpc.PostApprovalMetadataKey, "true")); err != nil {
		h.log.Warn().Err(err).
			Str("resource", resource).
			Str("resource_id", id).
			Msg("Failed to set post-approval header")
	}
}

// ValidateOverride checks an override is usable now
func (h *GRPCHandler) ValidateOverride(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req rpc.IDRequest
	if err := rpc.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	o, err := h.overrides.Validate(ctx, req.ID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return encode(toOverrideDTO(o))
}

// PostApproveOverride completes the shore-side review of an override
func (h *GRPCHandler) PostApproveOverride(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, req, err := h.reasonCall(ctx, in)
	if err != nil {
		return nil, err
	}
	o, closed, err := h.approvals.CompleteEmergencyReview(ctx, req.ID, p.UserID, req.Reason)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return encode(map[string]any{
		"override":           toOverrideDTO(o),
		"closedRequisitions": closed,
	})
}

// DeactivateOverride ends an override early
func (h *GRPCHandler) DeactivateOverride(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, req, err := h.reasonCall(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := h.overrides.Deactivate(ctx, req.ID, p.UserID, req.Reason); err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return encode(map[string]any{"id": req.ID, "isActive": false})
}

// ── Policy & maintenance ──────────────────────────────────────────────────────

// EvaluatePolicy dry-runs the current policy
func (h *GRPCHandler) EvaluatePolicy(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req rpc.CreateRequisitionRequest
	if err := rpc.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid amount %q", req.Amount)
	}

	d, err := h.policies.Current().Evaluate(policy.Requisition{
		Amount:           amount,
		Currency:         req.Currency,
		UrgencyLevel:     strings.ToUpper(req.UrgencyLevel),
		CriticalityLevel: strings.ToUpper(req.CriticalityLevel),
		VesselID:         req.VesselID,
		Department:       req.Department,
		Category:         req.Category,
		Tags:             req.Tags,
	})
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return encode(d)
}

// RunMaintenance runs one sweep. ADMIN only.
func (h *GRPCHandler) RunMaintenance(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	p, err := auth.FromContext(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	if policy.ParseRole(p.Role) != policy.RoleAdmin {
		return nil, mapErrorToGRPC(errors.New(errors.ErrCodeInsufficientAuthority, "maintenance requires the ADMIN role"))
	}

	report, err := h.sweeper.Run(ctx, h.now())
	if err != nil {
		h.log.Error().Err(err).Msg("Maintenance sweep failed")
		return nil, mapErrorToGRPC(err)
	}
	return encode(rpc.MaintenanceResult{
		ExpiredOverrides:    report.ExpiredOverrides,
		RequeuedEscalations: report.RequeuedEscalations,
	})
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func (h *GRPCHandler) reasonCall(ctx context.Context, in *structpb.Struct) (auth.Principal, rpc.ReasonRequest, error) {
	var req rpc.ReasonRequest
	p, err := auth.FromContext(ctx)
	if err != nil {
		return p, req, mapErrorToGRPC(err)
	}
	if err := rpc.Decode(in, &req); err != nil {
		return p, req, status.Error(codes.InvalidArgument, err.Error())
	}
	return p, req, nil
}

func encode(v any) (*structpb.Struct, error) {
	out, err := rpc.Encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
