package repository

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-proc-approvals/internal/policy"
)

// ── Requisition lifecycle ────────────────────────────────────────────────────

// State is a requisition's position in the approval workflow.
type State string

const (
	StateDraft             State = "DRAFT"
	StateSubmitted         State = "SUBMITTED"
	StateAutoApproved      State = "AUTO_APPROVED"
	StateAwaitingApproval  State = "AWAITING_APPROVAL"
	StateApproved          State = "APPROVED"
	StateRejected          State = "REJECTED"
	StateEscalated         State = "ESCALATED"
	StateEmergencyBypassed State = "EMERGENCY_BYPASSED"
	StateClosed            State = "CLOSED"
)

// Requisition is a purchase requisition together with its routing state.
type Requisition struct {
	ID               string
	VesselID         string
	RequesterID      string
	Department       string
	Category         string
	Tags             []string
	Amount           decimal.Decimal
	Currency         string
	UrgencyLevel     string
	CriticalityLevel string

	State   State
	Version int64

	// Routing, set when the requisition is submitted.
	RoutedBy           string // rule id, threshold id, or "rule+threshold"
	PolicyVersion      int64
	RequiredRole       string
	RequiredLevel      int
	BudgetHierarchy    string
	CostCenterRequired bool
	CostCenter         *string
	EscalateAt         *time.Time
	OverrideID         *string

	DecidedBy *string
	DecidedAt *time.Time
	Notes     *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PolicyInput projects the requisition onto the fields rules may test.
func (r *Requisition) PolicyInput() policy.Requisition {
	return policy.Requisition{
		ID:               r.ID,
		Amount:           r.Amount,
		Currency:         r.Currency,
		UrgencyLevel:     r.UrgencyLevel,
		CriticalityLevel: r.CriticalityLevel,
		VesselID:         r.VesselID,
		RequesterID:      r.RequesterID,
		Department:       r.Department,
		Category:         r.Category,
		Tags:             r.Tags,
	}
}

// ── Emergency overrides ──────────────────────────────────────────────────────

// EmergencyOverride is a time-boxed bypass grant tied to a user and vessel.
type EmergencyOverride struct {
	ID                   string
	UserID               string
	VesselID             string
	Role                 string
	Reason               string
	UrgencyLevel         string
	CriticalityLevel     string
	MaxAmount            *decimal.Decimal // nil = unbounded
	RequiresPostApproval bool
	IsActive             bool
	CreatedAt            time.Time
	ExpiresAt            time.Time
	DeactivatedAt        *time.Time
	DeactivationReason   *string
	ApprovedBy           *string
	ApprovedAt           *time.Time
	PostApprovalReason   *string
}

// Expired reports whether the override's window has closed at now.
func (o *EmergencyOverride) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// Covers reports whether amount is within the override's ceiling.
func (o *EmergencyOverride) Covers(amount decimal.Decimal) bool {
	return o.MaxAmount == nil || amount.LessThanOrEqual(*o.MaxAmount)
}

// ── Users ────────────────────────────────────────────────────────────────────

// User is the subset of the user directory the engine consults.
type User struct {
	ID        string
	Role      string
	IsActive  bool
	VesselIDs []string
}

// ── Audit ────────────────────────────────────────────────────────────────────

// TransitionEntry is one immutable state-change record.
type TransitionEntry struct {
	ID            string
	RequisitionID string
	FromState     State
	ToState       State
	ActorID       string
	Source        string // rule or threshold id behind the decision
	Reason        *string
	Timestamp     time.Time
	Metadata      map[string]any
}

// Severity grades security events.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// SecurityEvent records an authorization-relevant occurrence.
type SecurityEvent struct {
	ID         string
	EventType  string
	Severity   Severity
	UserID     string
	VesselID   *string
	OverrideID *string
	Details    map[string]any
	OccurredAt time.Time
}

// Compliance statuses for maritime regulation tracking.
const (
	CompliancePending   = "PENDING"
	ComplianceCompliant = "COMPLIANT"
)

// ComplianceEvent tracks regulatory follow-up for an emergency override.
type ComplianceEvent struct {
	ID         string
	OverrideID string
	VesselID   string
	Regulation string // SOLAS | ISM_CODE
	Status     string
	Details    map[string]any
	RecordedAt time.Time
}
