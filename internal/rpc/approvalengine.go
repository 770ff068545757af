// Package rpc holds the wire contract of the ApprovalEngine gRPC service.
// Messages are google.protobuf.Struct values carrying the same JSON shapes
// as the HTTP API, so server and client share a single codec.
package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "procurement.approvals.v1.ApprovalEngine"

// PostApprovalMetadataKey is the response header set when the caller must
// obtain shore-side post-approval for an emergency override.
const PostApprovalMetadataKey = "x-emergency-override-post-approval"

// Method names.
const (
	MethodCreateRequisition   = "CreateRequisition"
	MethodGetRequisition      = "GetRequisition"
	MethodSubmitRequisition   = "SubmitRequisition"
	MethodApproveRequisition  = "ApproveRequisition"
	MethodRejectRequisition   = "RejectRequisition"
	MethodEscalateRequisition = "EscalateRequisition"
	MethodGetHistory          = "GetHistory"
	MethodGrantOverride       = "GrantOverride"
	MethodValidateOverride    = "ValidateOverride"
	MethodPostApproveOverride = "PostApproveOverride"
	MethodDeactivateOverride  = "DeactivateOverride"
	MethodEvaluatePolicy      = "EvaluatePolicy"
	MethodRunMaintenance      = "RunMaintenance"
)

// FullMethod returns the "/service/method" path used on the wire.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Encode converts a JSON-tagged value into a Struct.
func Encode(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("message is not an object: %w", err)
	}
	return structpb.NewStruct(m)
}

// Decode fills a JSON-tagged value from a Struct. A nil Struct leaves v
// untouched.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	return nil
}

// ── Requests ──────────────────────────────────────────────────────────────────

// IDRequest addresses a single resource.
type IDRequest struct {
	ID string `json:"id"`
}

// ReasonRequest addresses a resource and carries a reason.
type ReasonRequest struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// CreateRequisitionRequest describes a draft. Amount is a decimal string.
type CreateRequisitionRequest struct {
	VesselID         string   `json:"vesselId"`
	Amount           string   `json:"amount"`
	Currency         string   `json:"currency"`
	UrgencyLevel     string   `json:"urgencyLevel,omitempty"`
	CriticalityLevel string   `json:"criticalityLevel,omitempty"`
	Department       string   `json:"department,omitempty"`
	Category         string   `json:"category,omitempty"`
	Tags             []string `json:"tags,omitempty"`
}

// SubmitRequest submits a draft, optionally under an override.
type SubmitRequest struct {
	ID         string `json:"id"`
	OverrideID string `json:"overrideId,omitempty"`
}

// ApproveRequest approves a requisition.
type ApproveRequest struct {
	ID         string `json:"id"`
	CostCenter string `json:"costCenter,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// GrantOverrideRequest asks for an emergency override.
type GrantOverrideRequest struct {
	VesselID         string `json:"vesselId"`
	Reason           string `json:"reason"`
	UrgencyLevel     string `json:"urgencyLevel"`
	CriticalityLevel string `json:"criticalityLevel"`
}

// MaintenanceResult reports a sweep run.
type MaintenanceResult struct {
	ExpiredOverrides    int `json:"expiredOverrides"`
	RequeuedEscalations int `json:"requeuedEscalations"`
}
