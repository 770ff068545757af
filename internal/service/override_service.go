package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pesio-ai/be-proc-approvals/internal/common/auth"
	"github.com/pesio-ai/be-proc-approvals/internal/common/errors"
	"github.com/pesio-ai/be-proc-approvals/internal/common/logger"
	"github.com/pesio-ai/be-proc-approvals/internal/policy"
	"github.com/pesio-ai/be-proc-approvals/internal/repository"
)

// PostApprovalHeader tells the client that a granted override still needs a
// shore-side review.
const PostApprovalHeader = "X-Emergency-Override-Post-Approval"

// Security event types.
const (
	EventOverrideGranted      = "EMERGENCY_OVERRIDE_GRANTED"
	EventOverrideDenied       = "EMERGENCY_OVERRIDE_DENIED"
	EventOverrideExpired      = "EMERGENCY_OVERRIDE_EXPIRED"
	EventOverrideDeactivated  = "EMERGENCY_OVERRIDE_DEACTIVATED"
	EventOverridePostApproved = "EMERGENCY_OVERRIDE_POST_APPROVED"
)

// Regulations an emergency override is tracked against.
const (
	RegulationSOLAS   = "SOLAS"
	RegulationISMCode = "ISM_CODE"
)

// OverrideStore persists emergency overrides.
type OverrideStore interface {
	Create(ctx context.Context, o *repository.EmergencyOverride) error
	GetByID(ctx context.Context, id string) (*repository.EmergencyOverride, error)
	Deactivate(ctx context.Context, id, reason string, at time.Time) (bool, error)
	DeactivateExpired(ctx context.Context, now time.Time) ([]*repository.EmergencyOverride, error)
	RecordPostApproval(ctx context.Context, id, approverID, reason string, at time.Time) (bool, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*repository.EmergencyOverride, error)
}

// UserDirectory resolves users by id.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*repository.User, error)
}

// AuditSink is the append-only audit trail.
type AuditSink interface {
	AppendTransition(ctx context.Context, entry *repository.TransitionEntry) error
	ListTransitions(ctx context.Context, requisitionID string) ([]*repository.TransitionEntry, error)
	AppendSecurityEvent(ctx context.Context, ev *repository.SecurityEvent) error
	AppendComplianceEvent(ctx context.Context, ev *repository.ComplianceEvent) error
}

// Notifier publishes workflow events. Implementations swallow and log their
// own failures.
type Notifier interface {
	PublishEvent(ctx context.Context, eventType, resourceType, resourceID, actorID string, recipients []string, payload map[string]any)
}

// postApproverRoles may sign off an emergency override after the fact.
var postApproverRoles = []policy.Role{
	policy.RoleSuperintendent,
	policy.RoleProcurementManager,
	policy.RoleAdmin,
}

// OverrideService grants, validates, expires and post-approves emergency
// overrides.
type OverrideService struct {
	overrides OverrideStore
	users     UserDirectory
	audit     AuditSink
	notifier  Notifier
	policies  *policy.Store
	now       func() time.Time
	log       *logger.Logger
}

// NewOverrideService creates a new OverrideService.
func NewOverrideService(
	overrides OverrideStore,
	users UserDirectory,
	audit AuditSink,
	notifier Notifier,
	policies *policy.Store,
	log *logger.Logger,
) *OverrideService {
	return &OverrideService{
		overrides: overrides,
		users:     users,
		audit:     audit,
		notifier:  notifier,
		policies:  policies,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
}

// WithClock replaces the time source.
func (s *OverrideService) WithClock(now func() time.Time) *OverrideService {
	s.now = now
	return s
}

// GrantRequest asks for an emergency override on a vessel.
type GrantRequest struct {
	VesselID         string
	Reason           string
	UrgencyLevel     string
	CriticalityLevel string
}

// ── Grant ─────────────────────────────────────────────────────────────────────

// Grant creates an active override for the principal. The caller propagates
// RequiresPostApproval to the client through PostApprovalHeader.
func (s *OverrideService) Grant(ctx context.Context, p auth.Principal, req GrantRequest) (*repository.EmergencyOverride, error) {
	ctx, span := tracer.Start(ctx, "OverrideService.Grant", trace.WithAttributes(
		attribute.String("user.id", p.UserID),
		attribute.String("vessel.id", req.VesselID),
	))
	defer span.End()

	if strings.TrimSpace(req.Reason) == "" {
		return nil, recordErr(span, errors.InvalidInput("reason", "emergency reason is required"))
	}
	if req.VesselID == "" {
		return nil, recordErr(span, errors.InvalidInput("vesselId", "vessel is required"))
	}

	urgency := strings.ToUpper(req.UrgencyLevel)
	criticality := strings.ToUpper(req.CriticalityLevel)

	bypass, ok := s.policies.Current().Bypasses.Lookup(urgency, criticality)
	if !ok {
		s.deny(ctx, p, req.VesselID, "no_bypass_configured", urgency, criticality)
		return nil, recordErr(span, errors.Newf(errors.ErrCodeValidation,
			"no emergency bypass configured for %s/%s", urgency, criticality))
	}

	role := policy.ParseRole(p.Role)
	if !bypass.Allows(role) {
		s.deny(ctx, p, req.VesselID, "role_not_eligible", urgency, criticality)
		return nil, recordErr(span, errors.Newf(errors.ErrCodeRoleNotEligible,
			"role %s may not grant %s/%s overrides", role, urgency, criticality))
	}

	if !p.AssignedTo(req.VesselID) {
		s.deny(ctx, p, req.VesselID, "vessel_not_authorized", urgency, criticality)
		return nil, recordErr(span, errors.Newf(errors.ErrCodeVesselNotAuthorized,
			"user is not assigned to vessel '%s'", req.VesselID))
	}

	now := s.now()
	o := &repository.EmergencyOverride{
		UserID:               p.UserID,
		VesselID:             req.VesselID,
		Role:                 string(role),
		Reason:               req.Reason,
		UrgencyLevel:         urgency,
		CriticalityLevel:     criticality,
		MaxAmount:            bypass.MaxAmount,
		RequiresPostApproval: bypass.RequiresPostApproval,
		CreatedAt:            now,
		ExpiresAt:            now.Add(bypass.Expiration()),
	}
	if err := s.overrides.Create(ctx, o); err != nil {
		return nil, recordErr(span, err)
	}

	s.appendSecurityEvent(ctx, &repository.SecurityEvent{
		EventType:  EventOverrideGranted,
		Severity:   repository.SeverityHigh,
		UserID:     p.UserID,
		VesselID:   &o.VesselID,
		OverrideID: &o.ID,
		Details: map[string]any{
			"urgency_level":          urgency,
			"criticality_level":      criticality,
			"requires_post_approval": o.RequiresPostApproval,
			"expires_at":             o.ExpiresAt,
		},
		OccurredAt: now,
	})

	status := repository.ComplianceCompliant
	if o.RequiresPostApproval {
		status = repository.CompliancePending
	}
	s.appendComplianceEvent(ctx, &repository.ComplianceEvent{
		OverrideID: o.ID,
		VesselID:   o.VesselID,
		Regulation: regulationFor(criticality),
		Status:     status,
		Details:    map[string]any{"reason": o.Reason, "granted_by": p.UserID},
		RecordedAt: now,
	})

	s.notifier.PublishEvent(ctx, "emergency_override_granted", "emergency_override", o.ID, p.UserID,
		roleRecipients(postApproverRoles),
		map[string]any{
			"vessel_id":              o.VesselID,
			"reason":                 o.Reason,
			"urgency_level":          urgency,
			"criticality_level":      criticality,
			"requires_post_approval": o.RequiresPostApproval,
			"expires_at":             o.ExpiresAt.Format(time.RFC3339),
		})

	s.log.Info().
		Str("override_id", o.ID).
		Str("user_id", p.UserID).
		Str("vessel_id", o.VesselID).
		Time("expires_at", o.ExpiresAt).
		Bool("requires_post_approval", o.RequiresPostApproval).
		Msg("Emergency override granted")

	return o, nil
}

// ── Validate ──────────────────────────────────────────────────────────────────

// Validate returns the override if it is active and unexpired. An override
// found past its expiry is deactivated on the spot.
func (s *OverrideService) Validate(ctx context.Context, id string) (*repository.EmergencyOverride, error) {
	ctx, span := tracer.Start(ctx, "OverrideService.Validate", trace.WithAttributes(attribute.String("override.id", id)))
	defer span.End()

	o, err := s.overrides.GetByID(ctx, id)
	if err != nil {
		return nil, recordErr(span, err)
	}
	if !o.IsActive {
		return nil, recordErr(span, errors.Newf(errors.ErrCodeInactive, "emergency override '%s' is inactive", id))
	}

	now := s.now()
	if o.Expired(now) {
		changed, err := s.overrides.Deactivate(ctx, id, "expired", now)
		if err != nil {
			s.log.Warn().Err(err).Str("override_id", id).Msg("Failed to deactivate expired override")
		}
		if changed {
			s.appendExpiry(ctx, o, now)
		}
		return nil, recordErr(span, errors.Newf(errors.ErrCodeExpired, "emergency override '%s' expired at %s",
			id, o.ExpiresAt.Format(time.RFC3339)))
	}
	return o, nil
}

// ── Post-approval ─────────────────────────────────────────────────────────────

// PostApprove records the shore-side review of an override. It may happen
// after the override expired; it may happen only once.
func (s *OverrideService) PostApprove(ctx context.Context, id, approverID, reason string) (*repository.EmergencyOverride, error) {
	ctx, span := tracer.Start(ctx, "OverrideService.PostApprove", trace.WithAttributes(
		attribute.String("override.id", id),
		attribute.String("approver.id", approverID),
	))
	defer span.End()

	if strings.TrimSpace(reason) == "" {
		return nil, recordErr(span, errors.InvalidInput("reason", "post-approval reason is required"))
	}

	o, err := s.overrides.GetByID(ctx, id)
	if err != nil {
		return nil, recordErr(span, err)
	}
	if !o.RequiresPostApproval {
		return nil, recordErr(span, errors.Newf(errors.ErrCodeValidation,
			"emergency override '%s' does not require post-approval", id))
	}
	if o.ApprovedBy != nil {
		return nil, recordErr(span, errors.Newf(errors.ErrCodeAlreadyApproved,
			"emergency override '%s' was already approved by %s", id, *o.ApprovedBy))
	}

	approver, err := s.users.GetUser(ctx, approverID)
	if err != nil {
		return nil, recordErr(span, err)
	}
	if err := canPostApprove(approver, o); err != nil {
		return nil, recordErr(span, err)
	}

	now := s.now()
	recorded, err := s.overrides.RecordPostApproval(ctx, id, approverID, reason, now)
	if err != nil {
		return nil, recordErr(span, err)
	}
	if !recorded {
		return nil, recordErr(span, errors.Newf(errors.ErrCodeAlreadyApproved,
			"emergency override '%s' was already approved", id))
	}
	o.ApprovedBy = &approverID
	o.ApprovedAt = &now
	o.PostApprovalReason = &reason

	s.appendSecurityEvent(ctx, &repository.SecurityEvent{
		EventType:  EventOverridePostApproved,
		Severity:   repository.SeverityMedium,
		UserID:     approverID,
		VesselID:   &o.VesselID,
		OverrideID: &o.ID,
		Details:    map[string]any{"reason": reason, "override_owner": o.UserID},
		OccurredAt: now,
	})
	s.appendComplianceEvent(ctx, &repository.ComplianceEvent{
		OverrideID: o.ID,
		VesselID:   o.VesselID,
		Regulation: regulationFor(o.CriticalityLevel),
		Status:     repository.ComplianceCompliant,
		Details:    map[string]any{"approved_by": approverID, "reason": reason},
		RecordedAt: now,
	})
	s.notifier.PublishEvent(ctx, "emergency_override_post_approved", "emergency_override", o.ID, approverID,
		[]string{o.UserID}, map[string]any{"reason": reason})

	s.log.Info().
		Str("override_id", o.ID).
		Str("approved_by", approverID).
		Msg("Emergency override post-approved")

	return o, nil
}

func canPostApprove(approver *repository.User, o *repository.EmergencyOverride) error {
	if !approver.IsActive {
		return errors.Newf(errors.ErrCodeInsufficientAuthority, "user '%s' is not active", approver.ID)
	}
	role := policy.ParseRole(approver.Role)
	if !slices.Contains(postApproverRoles, role) {
		return errors.Newf(errors.ErrCodeInsufficientAuthority, "role %s may not post-approve emergency overrides", role)
	}
	if approver.ID == o.UserID {
		return errors.New(errors.ErrCodeInsufficientAuthority, "an override cannot be post-approved by its owner")
	}
	return nil
}

// ── Deactivation and expiry ───────────────────────────────────────────────────

// Deactivate ends an active override early.
func (s *OverrideService) Deactivate(ctx context.Context, id, actorID, reason string) error {
	ctx, span := tracer.Start(ctx, "OverrideService.Deactivate", trace.WithAttributes(attribute.String("override.id", id)))
	defer span.End()

	if strings.TrimSpace(reason) == "" {
		return recordErr(span, errors.InvalidInput("reason", "deactivation reason is required"))
	}

	o, err := s.overrides.GetByID(ctx, id)
	if err != nil {
		return recordErr(span, err)
	}
	if !o.IsActive {
		return recordErr(span, errors.Newf(errors.ErrCodeInactive, "emergency override '%s' is already inactive", id))
	}

	now := s.now()
	changed, err := s.overrides.Deactivate(ctx, id, reason, now)
	if err != nil {
		return recordErr(span, err)
	}
	if !changed {
		return recordErr(span, errors.Newf(errors.ErrCodeInactive, "emergency override '%s' is already inactive", id))
	}

	s.appendSecurityEvent(ctx, &repository.SecurityEvent{
		EventType:  EventOverrideDeactivated,
		Severity:   repository.SeverityMedium,
		UserID:     actorID,
		VesselID:   &o.VesselID,
		OverrideID: &o.ID,
		Details:    map[string]any{"reason": reason},
		OccurredAt: now,
	})

	s.log.Info().Str("override_id", id).Str("actor_id", actorID).Msg("Emergency override deactivated")
	return nil
}

// SweepExpired deactivates every override whose expiry is at or before now
// and returns how many it changed. Running it twice with the same now
// changes nothing the second time.
func (s *OverrideService) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "OverrideService.SweepExpired")
	defer span.End()

	expired, err := s.overrides.DeactivateExpired(ctx, now)
	if err != nil {
		return 0, recordErr(span, err)
	}
	for _, o := range expired {
		s.appendExpiry(ctx, o, now)
	}
	span.SetAttributes(attribute.Int("overrides.expired", len(expired)))

	if len(expired) > 0 {
		s.log.Info().Int("count", len(expired)).Time("now", now).Msg("Expired emergency overrides deactivated")
	}
	return len(expired), nil
}

// ListActive returns the user's currently usable overrides.
func (s *OverrideService) ListActive(ctx context.Context, userID string) ([]*repository.EmergencyOverride, error) {
	return s.overrides.ListActiveByUser(ctx, userID, s.now())
}

// Get returns an override without validating it.
func (s *OverrideService) Get(ctx context.Context, id string) (*repository.EmergencyOverride, error) {
	return s.overrides.GetByID(ctx, id)
}

// ── Internal helpers ──────────────────────────────────────────────────────────

func (s *OverrideService) deny(ctx context.Context, p auth.Principal, vesselID, reason, urgency, criticality string) {
	s.appendSecurityEvent(ctx, &repository.SecurityEvent{
		EventType: EventOverrideDenied,
		Severity:  repository.SeverityHigh,
		UserID:    p.UserID,
		VesselID:  &vesselID,
		Details: map[string]any{
			"reason":            reason,
			"role":              p.Role,
			"urgency_level":     urgency,
			"criticality_level": criticality,
		},
		OccurredAt: s.now(),
	})
	s.log.Warn().
		Str("user_id", p.UserID).
		Str("vessel_id", vesselID).
		Str("reason", reason).
		Msg("Emergency override denied")
}

func (s *OverrideService) appendExpiry(ctx context.Context, o *repository.EmergencyOverride, now time.Time) {
	s.appendSecurityEvent(ctx, &repository.SecurityEvent{
		EventType:  EventOverrideExpired,
		Severity:   repository.SeverityMedium,
		UserID:     o.UserID,
		VesselID:   &o.VesselID,
		OverrideID: &o.ID,
		Details:    map[string]any{"expires_at": o.ExpiresAt},
		OccurredAt: now,
	})
}

// appendSecurityEvent writes a security event and logs a warning on failure (never returns error).
func (s *OverrideService) appendSecurityEvent(ctx context.Context, ev *repository.SecurityEvent) {
	if err := s.audit.AppendSecurityEvent(ctx, ev); err != nil {
		s.log.Warn().Err(err).
			Str("event_type", ev.EventType).
			Str("user_id", ev.UserID).
			Msg("Failed to write security event")
	}
}

// appendComplianceEvent writes a compliance record and logs a warning on failure.
func (s *OverrideService) appendComplianceEvent(ctx context.Context, ev *repository.ComplianceEvent) {
	if err := s.audit.AppendComplianceEvent(ctx, ev); err != nil {
		s.log.Warn().Err(err).
			Str("override_id", ev.OverrideID).
			Str("status", ev.Status).
			Msg("Failed to write compliance event")
	}
}

func regulationFor(criticality string) string {
	if strings.EqualFold(criticality, policy.CriticalitySafety) {
		return RegulationSOLAS
	}
	return RegulationISMCode
}

func roleRecipients(roles []policy.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = "role:" + string(r)
	}
	return out
}
