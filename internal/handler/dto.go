package handler

import (
	"encoding/json"
	"time"

	"github.com/pesio-ai/be-proc-approvals/internal/policy"
	"github.com/pesio-ai/be-proc-approvals/internal/repository"
)

// RequisitionDTO is the wire form of a requisition.
type RequisitionDTO struct {
	ID                 string     `json:"id"`
	VesselID           string     `json:"vesselId"`
	RequesterID        string     `json:"requesterId"`
	Department         string     `json:"department,omitempty"`
	Category           string     `json:"category,omitempty"`
	Tags               []string   `json:"tags,omitempty"`
	Amount             string     `json:"amount"`
	Currency           string     `json:"currency"`
	UrgencyLevel       string     `json:"urgencyLevel,omitempty"`
	CriticalityLevel   string     `json:"criticalityLevel,omitempty"`
	State              string     `json:"state"`
	Version            int64      `json:"version"`
	RoutedBy           string     `json:"routedBy,omitempty"`
	PolicyVersion      int64      `json:"policyVersion,omitempty"`
	RequiredRole       string     `json:"requiredRole,omitempty"`
	RequiredLevel      int        `json:"requiredLevel,omitempty"`
	BudgetHierarchy    string     `json:"budgetHierarchy,omitempty"`
	CostCenterRequired bool       `json:"costCenterRequired,omitempty"`
	CostCenter         *string    `json:"costCenter,omitempty"`
	EscalateAt         *time.Time `json:"escalateAt,omitempty"`
	OverrideID         *string    `json:"overrideId,omitempty"`
	DecidedBy          *string    `json:"decidedBy,omitempty"`
	DecidedAt          *time.Time `json:"decidedAt,omitempty"`
	Notes              *string    `json:"notes,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

func toRequisitionDTO(r *repository.Requisition) RequisitionDTO {
	return RequisitionDTO{
		ID:                 r.ID,
		VesselID:           r.VesselID,
		RequesterID:        r.RequesterID,
		Department:         r.Department,
		Category:           r.Category,
		Tags:               r.Tags,
		Amount:             r.Amount.String(),
		Currency:           r.Currency,
		UrgencyLevel:       r.UrgencyLevel,
		CriticalityLevel:   r.CriticalityLevel,
		State:              string(r.State),
		Version:            r.Version,
		RoutedBy:           r.RoutedBy,
		PolicyVersion:      r.PolicyVersion,
		RequiredRole:       r.RequiredRole,
		RequiredLevel:      r.RequiredLevel,
		BudgetHierarchy:    r.BudgetHierarchy,
		CostCenterRequired: r.CostCenterRequired,
		CostCenter:         r.CostCenter,
		EscalateAt:         r.EscalateAt,
		OverrideID:         r.OverrideID,
		DecidedBy:          r.DecidedBy,
		DecidedAt:          r.DecidedAt,
		Notes:              r.Notes,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

// OverrideDTO is the wire form of an emergency override.
type OverrideDTO struct {
	ID                   string     `json:"id"`
	UserID               string     `json:"userId"`
	VesselID             string     `json:"vesselId"`
	Role                 string     `json:"role"`
	Reason               string     `json:"reason"`
	UrgencyLevel         string     `json:"urgencyLevel"`
	CriticalityLevel     string     `json:"criticalityLevel"`
	MaxAmount            *string    `json:"maxAmount,omitempty"`
	RequiresPostApproval bool       `json:"requiresPostApproval"`
	IsActive             bool       `json:"isActive"`
	CreatedAt            time.Time  `json:"createdAt"`
	ExpiresAt            time.Time  `json:"expiresAt"`
	DeactivatedAt        *time.Time `json:"deactivatedAt,omitempty"`
	DeactivationReason   *string    `json:"deactivationReason,omitempty"`
	ApprovedBy           *string    `json:"approvedBy,omitempty"`
	ApprovedAt           *time.Time `json:"approvedAt,omitempty"`
	PostApprovalReason   *string    `json:"postApprovalReason,omitempty"`
}

func toOverrideDTO(o *repository.EmergencyOverride) OverrideDTO {
	dto := OverrideDTO{
		ID:                   o.ID,
		UserID:               o.UserID,
		VesselID:             o.VesselID,
		Role:                 o.Role,
		Reason:               o.Reason,
		UrgencyLevel:         o.UrgencyLevel,
		CriticalityLevel:     o.CriticalityLevel,
		RequiresPostApproval: o.RequiresPostApproval,
		IsActive:             o.IsActive,
		CreatedAt:            o.CreatedAt,
		ExpiresAt:            o.ExpiresAt,
		DeactivatedAt:        o.DeactivatedAt,
		DeactivationReason:   o.DeactivationReason,
		ApprovedBy:           o.ApprovedBy,
		ApprovedAt:           o.ApprovedAt,
		PostApprovalReason:   o.PostApprovalReason,
	}
	if o.MaxAmount != nil {
		s := o.MaxAmount.String()
		dto.MaxAmount = &s
	}
	return dto
}

// TransitionDTO is one audit log entry.
type TransitionDTO struct {
	FromState string          `json:"fromState"`
	ToState   string          `json:"toState"`
	ActorID   string          `json:"actorId"`
	Source    string          `json:"source,omitempty"`
	Reason    *string         `json:"reason,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

func toTransitionDTOs(entries []*repository.TransitionEntry) []TransitionDTO {
	out := make([]TransitionDTO, 0, len(entries))
	for _, e := range entries {
		dto := TransitionDTO{
			FromState: string(e.FromState),
			ToState:   string(e.ToState),
			ActorID:   e.ActorID,
			Source:    e.Source,
			Reason:    e.Reason,
			Timestamp: e.Timestamp,
		}
		if len(e.Metadata) > 0 {
			if raw, err := json.Marshal(e.Metadata); err == nil {
				dto.Metadata = raw
			}
		}
		out = append(out, dto)
	}
	return out
}

// SubmitResponse is returned by submit.
type SubmitResponse struct {
	Requisition          RequisitionDTO   `json:"requisition"`
	Decision             *policy.Decision `json:"decision,omitempty"`
	RequiresPostApproval bool             `json:"requiresPostApproval"`
}
