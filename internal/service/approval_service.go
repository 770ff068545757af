package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pesio-ai/be-proc-approvals/internal/common/auth"
	"github.com/pesio-ai/be-proc-approvals/internal/common/errors"
	"github.com/pesio-ai/be-proc-approvals/internal/common/logger"
	"github.com/pesio-ai/be-proc-approvals/internal/policy"
	"github.com/pesio-ai/be-proc-approvals/internal/repository"
)

// SystemActor is recorded as the actor of transitions nobody performed by hand.
const SystemActor = "system"

// RequisitionStore persists requisitions.
type RequisitionStore interface {
	Create(ctx context.Context, req *repository.Requisition) error
	GetByID(ctx context.Context, id string) (*repository.Requisition, error)
	UpdateState(ctx context.Context, req *repository.Requisition, from repository.State, version int64) error
	ListByOverride(ctx context.Context, overrideID string, state repository.State) ([]*repository.Requisition, error)
	ListDueEscalations(ctx context.Context, now time.Time) ([]*repository.Requisition, error)
}

// EscalationScheduler arranges for an escalated requisition to be requeued
// once its delay has passed.
type EscalationScheduler interface {
	ScheduleEscalation(ctx context.Context, requisitionID string, at time.Time) error
}

// transitions lists every legal move. States absent as keys are terminal.
var transitions = map[repository.State][]repository.State{
	repository.StateDraft: {repository.StateSubmitted},
	repository.StateSubmitted: {
		repository.StateAutoApproved,
		repository.StateAwaitingApproval,
		repository.StateEscalated,
		repository.StateEmergencyBypassed,
	},
	repository.StateAwaitingApproval: {
		repository.StateApproved,
		repository.StateRejected,
		repository.StateEscalated,
	},
	repository.StateEscalated: {
		repository.StateAwaitingApproval,
		repository.StateApproved,
		repository.StateRejected,
	},
	repository.StateEmergencyBypassed: {repository.StateClosed},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to repository.State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s repository.State) bool {
	return len(transitions[s]) == 0
}

// ApprovalService drives requisitions through the approval state machine.
type ApprovalService struct {
	requisitions RequisitionStore
	overrides    *OverrideService
	audit        AuditSink
	notifier     Notifier
	policies     *policy.Store
	scheduler    EscalationScheduler
	locks        *keyedMutex
	now          func() time.Time
	log          *logger.Logger
}

// NewApprovalService creates a new ApprovalService. scheduler may be nil, in
// which case escalations are only picked up by ProcessDueEscalations.
func NewApprovalService(
	requisitions RequisitionStore,
	overrides *OverrideService,
	audit AuditSink,
	notifier Notifier,
	policies *policy.Store,
	scheduler EscalationScheduler,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		requisitions: requisitions,
		overrides:    overrides,
		audit:        audit,
		notifier:     notifier,
		policies:     policies,
		scheduler:    scheduler,
		locks:        newKeyedMutex(),
		now:          func() time.Time { return time.Now().UTC() },
		log:          log,
	}
}

// WithClock replaces the time source.
func (s *ApprovalService) WithClock(now func() time.Time) *ApprovalService {
	s.now = now
	return s
}

// CreateRequest describes a new draft requisition.
type CreateRequest struct {
	VesselID         string
	Amount           decimal.Decimal
	Currency         string
	UrgencyLevel     string
	CriticalityLevel string
	Department       string
	Category         string
	Tags             []string
}

// ApproveRequest carries the approver's input.
type ApproveRequest struct {
	CostCenter string
	Notes      string
}

// SubmitResult reports how a submitted requisition was routed.
type SubmitResult struct {
	Requisition *repository.Requisition
	Decision    *policy.Decision
	Override    *repository.EmergencyOverride
}

// RequiresPostApproval reports whether the requisition went through an
// override that still awaits review.
func (r *SubmitResult) RequiresPostApproval() bool {
	return r.Override != nil && r.Override.RequiresPostApproval && r.Override.ApprovedBy == nil
}

// ── Create / Get ──────────────────────────────────────────────────────────────

// CreateDraft stores a new DRAFT requisition owned by the principal.
func (s *ApprovalService) CreateDraft(ctx context.Context, p auth.Principal, req CreateRequest) (*repository.Requisition, error) {
	if req.VesselID == "" {
		return nil, errors.InvalidInput("vesselId", "vessel is required")
	}
	if req.Currency == "" {
		return nil, errors.InvalidInput("currency", "currency is required")
	}
	if req.Amount.IsNegative() {
		return nil, errors.InvalidInput("amount", "amount cannot be negative")
	}
	if !p.AssignedTo(req.VesselID) {
		return nil, errors.Newf(errors.ErrCodeVesselNotAuthorized, "user is not assigned to vessel '%s'", req.VesselID)
	}

	r := &repository.Requisition{
		VesselID:         req.VesselID,
		RequesterID:      p.UserID,
		Department:       req.Department,
		Category:         req.Category,
		Tags:             req.Tags,
		Amount:           req.Amount,
		Currency:         strings.ToUpper(req.Currency),
		UrgencyLevel:     strings.ToUpper(req.UrgencyLevel),
		CriticalityLevel: strings.ToUpper(req.CriticalityLevel),
	}
	if err := s.requisitions.Create(ctx, r); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("requisition_id", r.ID).
		Str("vessel_id", r.VesselID).
		Str("amount", r.Amount.String()).
		Msg("Requisition draft created")
	return r, nil
}

// Get returns a requisition.
func (s *ApprovalService) Get(ctx context.Context, id string) (*repository.Requisition, error) {
	return s.requisitions.GetByID(ctx, id)
}

// ── Submit ────────────────────────────────────────────────────────────────────

// Submit moves a DRAFT requisition to SUBMITTED and routes it. With an
// override attached it is bypassed; otherwise the current policy snapshot
// decides. The draft is moved to its routed state in one conditional write,
// so a failed submission leaves it in DRAFT.
func (s *ApprovalService) Submit(ctx context.Context, p auth.Principal, id, overrideID string) (*SubmitResult, error) {
	ctx, span := tracer.Start(ctx, "ApprovalService.Submit", trace.WithAttributes(attribute.String("requisition.id", id)))
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	req, err := s.requisitions.GetByID(ctx, id)
	if err != nil {
		return nil, recordErr(span, err)
	}
	if req.RequesterID != p.UserID {
		return nil, recordErr(span, errors.New(errors.ErrCodeInsufficientAuthority, "only the requester can submit a requisition"))
	}
	if req.State != repository.StateDraft {
		return nil, recordErr(span, errors.Newf(errors.ErrCodeConflictingTransition,
			"requisition '%s' is %s, not DRAFT", id, req.State))
	}

	if overrideID != "" {
		res, err := s.submitWithOverride(ctx, p, req, overrideID)
		return res, recordErr(span, err)
	}

	snap := s.policies.Current()
	decision, err := snap.Evaluate(req.PolicyInput())
	if err != nil {
		return nil, recordErr(span, err)
	}
	for _, skipped := range decision.Skipped {
		s.log.Warn().
			Str("rule_id", skipped.RuleID).
			Str("reason", skipped.Reason).
			Msg("Malformed workflow rule skipped")
	}

	now := s.now()
	req.RoutedBy = decision.Source()
	req.PolicyVersion = decision.SnapshotVersion
	req.BudgetHierarchy = string(decision.BudgetHierarchy)
	req.CostCenterRequired = decision.CostCenterRequired
	if decision.CostCenter != "" {
		cc := decision.CostCenter
		req.CostCenter = &cc
	}

	var target repository.State
	switch decision.Outcome {
	case policy.OutcomeApprove, policy.OutcomeBypass:
		target = repository.StateAutoApproved
		actor := SystemActor
		req.DecidedBy = &actor
		req.DecidedAt = &now
	case policy.OutcomeRequireApproval:
		target = repository.StateAwaitingApproval
		req.RequiredRole = string(decision.ApproverRole)
		req.RequiredLevel = decision.ApproverLevel
	case policy.OutcomeEscalate:
		target = repository.StateEscalated
		req.RequiredRole = string(decision.ApproverRole)
		req.RequiredLevel = decision.ApproverLevel
		at := now.Add(decision.EscalationDelay)
		req.EscalateAt = &at
	}

	if err := s.advance(ctx, req,
		hop{to: repository.StateSubmitted, actorID: p.UserID},
		hop{to: target, actorID: SystemActor, source: req.RoutedBy},
	); err != nil {
		return nil, recordErr(span, err)
	}

	switch target {
	case repository.StateAutoApproved:
		s.notifier.PublishEvent(ctx, "requisition_approved", "requisition", req.ID, SystemActor,
			[]string{req.RequesterID}, map[string]any{"source": req.RoutedBy})
	case repository.StateAwaitingApproval:
		s.notifyApprovalRequired(ctx, req)
	case repository.StateEscalated:
		s.scheduleEscalation(ctx, req)
	}
	for _, n := range decision.Notifications {
		payload := map[string]any{"rule_id": decision.RuleID, "state": string(req.State)}
		recipients := []string{req.RequesterID}
		if n.ApproverRole != "" {
			recipients = roleRecipients([]policy.Role{n.ApproverRole})
		}
		s.notifier.PublishEvent(ctx, "requisition_rule_notification", "requisition", req.ID, SystemActor, recipients, payload)
	}

	s.log.Info().
		Str("requisition_id", req.ID).
		Str("state", string(req.State)).
		Str("source", req.RoutedBy).
		Int64("policy_version", req.PolicyVersion).
		Msg("Requisition submitted")

	return &SubmitResult{Requisition: req, Decision: decision}, nil
}

func (s *ApprovalService) submitWithOverride(ctx context.Context, p auth.Principal, req *repository.Requisition, overrideID string) (*SubmitResult, error) {
	o, err := s.overrides.Validate(ctx, overrideID)
	if err != nil {
		return nil, err
	}
	if o.UserID != req.RequesterID {
		return nil, errors.Newf(errors.ErrCodeRoleNotEligible, "emergency override '%s' is not held by the requester", overrideID)
	}
	if o.VesselID != req.VesselID {
		return nil, errors.Newf(errors.ErrCodeVesselNotAuthorized, "emergency override '%s' does not cover vessel '%s'", overrideID, req.VesselID)
	}
	bypass, ok := s.policies.Current().Bypasses.Lookup(o.UrgencyLevel, o.CriticalityLevel)
	if !ok || !bypass.Allows(policy.ParseRole(o.Role)) {
		return nil, errors.Newf(errors.ErrCodeRoleNotEligible, "role %s is no longer eligible for %s/%s overrides",
			o.Role, o.UrgencyLevel, o.CriticalityLevel)
	}
	if !o.Covers(req.Amount) {
		return nil, errors.Newf(errors.ErrCodeInsufficientAuthority, "amount %s exceeds the override ceiling of %s",
			req.Amount.String(), o.MaxAmount.String())
	}

	now := s.now()
	source := "emergency_override:" + o.ID
	req.RoutedBy = source
	req.PolicyVersion = s.policies.Current().Version
	req.OverrideID = &o.ID
	req.DecidedBy = &o.UserID
	req.DecidedAt = &now
	hops := []hop{
		{to: repository.StateSubmitted, actorID: p.UserID},
		{to: repository.StateEmergencyBypassed, actorID: p.UserID, source: source},
	}
	if !o.RequiresPostApproval || o.ApprovedBy != nil {
		hops = append(hops, hop{to: repository.StateClosed, actorID: SystemActor, source: source})
	}
	if err := s.advance(ctx, req, hops...); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("requisition_id", req.ID).
		Str("override_id", o.ID).
		Str("state", string(req.State)).
		Msg("Requisition bypassed under emergency override")

	return &SubmitResult{Requisition: req, Override: o}, nil
}

// ── Approve / Reject ──────────────────────────────────────────────────────────

// Approve records a decision by an approver of sufficient authority.
func (s *ApprovalService) Approve(ctx context.Context, p auth.Principal, id string, in ApproveRequest) (*repository.Requisition, error) {
	ctx, span := tracer.Start(ctx, "ApprovalService.Approve", trace.WithAttributes(attribute.String("requisition.id", id)))
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	req, err := s.requisitions.GetByID(ctx, id)
	if err != nil {
		return nil, recordErr(span, err)
	}
	if !CanTransition(req.State, repository.StateApproved) {
		return nil, recordErr(span, errors.Newf(errors.ErrCodeConflictingTransition,
			"requisition '%s' cannot be approved from %s", id, req.State))
	}
	if err := authorizeApprover(p, req); err != nil {
		return nil, recordErr(span, err)
	}

	if in.CostCenter != "" {
		cc := in.CostCenter
		req.CostCenter = &cc
	}
	if req.CostCenterRequired && (req.CostCenter == nil || *req.CostCenter == "") {
		return nil, recordErr(span, errors.InvalidInput("costCenter", "a cost center is required at this approval level"))
	}

	now := s.now()
	req.DecidedBy = &p.UserID
	req.DecidedAt = &now
	req.EscalateAt = nil
	if in.Notes != "" {
		req.Notes = &in.Notes
	}

	if err := s.transition(ctx, req, repository.StateApproved, p.UserID, req.RoutedBy, nil); err != nil {
		return nil, recordErr(span, err)
	}

	s.notifier.PublishEvent(ctx, "requisition_approved", "requisition", req.ID, p.UserID,
		[]string{req.RequesterID}, map[string]any{"approved_by": p.UserID})

	s.log.Info().
		Str("requisition_id", req.ID).
		Str("approved_by", p.UserID).
		Msg("Requisition approved")
	return req, nil
}

// Reject records a rejection. A reason is mandatory.
func (s *ApprovalService) Reject(ctx context.Context, p auth.Principal, id, reason string) (*repository.Requisition, error) {
	ctx, span := tracer.Start(ctx, "ApprovalService.Reject", trace.WithAttributes(attribute.String("requisition.id", id)))
	defer span.End()

	if strings.TrimSpace(reason) == "" {
		return nil, recordErr(span, errors.InvalidInput("reason", "rejection reason is required"))
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	req, err := s.requisitions.GetByID(ctx, id)
	if err != nil {
		return nil, recordErr(span, err)
	}
	if !CanTransition(req.State, repository.StateRejected) {
		return nil, recordErr(span, errors.Newf(errors.ErrCodeConflictingTransition,
			"requisition '%s' cannot be rejected from %s", id, req.State))
	}
	if err := authorizeApprover(p, req); err != nil {
		return nil, recordErr(span, err)
	}

	now := s.now()
	req.DecidedBy = &p.UserID
	req.DecidedAt = &now
	req.EscalateAt = nil
	req.Notes = &reason

	if err := s.transition(ctx, req, repository.StateRejected, p.UserID, req.RoutedBy, &reason); err != nil {
		return nil, recordErr(span, err)
	}

	s.notifier.PublishEvent(ctx, "requisition_rejected", "requisition", req.ID, p.UserID,
		[]string{req.RequesterID}, map[string]any{"reason": reason})

	s.log.Info().
		Str("requisition_id", req.ID).
		Str("rejected_by", p.UserID).
		Msg("Requisition rejected")
	return req, nil
}

// ── Escalation ────────────────────────────────────────────────────────────────

// Escalate hands an awaiting requisition to the next approver level. The
// requeue is due immediately.
func (s *ApprovalService) Escalate(ctx context.Context, p auth.Principal, id, reason string) (*repository.Requisition, error) {
	ctx, span := tracer.Start(ctx, "ApprovalService.Escalate", trace.WithAttributes(attribute.String("requisition.id", id)))
	defer span.End()

	if strings.TrimSpace(reason) == "" {
		return nil, recordErr(span, errors.InvalidInput("reason", "escalation reason is required"))
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	req, err := s.requisitions.GetByID(ctx, id)
	if err != nil {
		return nil, recordErr(span, err)
	}
	if req.State != repository.StateAwaitingApproval {
		return nil, recordErr(span, errors.Newf(errors.ErrCodeConflictingTransition,
			"requisition '%s' cannot be escalated from %s", id, req.State))
	}
	if err := authorizeApprover(p, req); err != nil {
		return nil, recordErr(span, err)
	}
	if req.RequiredLevel >= policy.MaxApproverLevel {
		return nil, recordErr(span, errors.New(errors.ErrCodeValidation, "requisition is already at the highest approval level"))
	}

	now := s.now()
	req.RequiredLevel++
	req.RequiredRole = string(s.policies.Current().RoleForLevel(req.RequiredLevel))
	req.EscalateAt = &now

	if err := s.transition(ctx, req, repository.StateEscalated, p.UserID, req.RoutedBy, &reason); err != nil {
		return nil, recordErr(span, err)
	}
	s.scheduleEscalation(ctx, req)

	s.log.Info().
		Str("requisition_id", req.ID).
		Int("level", req.RequiredLevel).
		Msg("Requisition escalated")
	return req, nil
}

// Requeue moves an ESCALATED requisition back to AWAITING_APPROVAL at its
// escalated level once the escalation delay has passed.
func (s *ApprovalService) Requeue(ctx context.Context, id string) (*repository.Requisition, error) {
	ctx, span := tracer.Start(ctx, "ApprovalService.Requeue", trace.WithAttributes(attribute.String("requisition.id", id)))
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	req, err := s.requisitions.GetByID(ctx, id)
	if err != nil {
		return nil, recordErr(span, err)
	}
	if req.State != repository.StateEscalated {
		return nil, recordErr(span, errors.Newf(errors.ErrCodeConflictingTransition,
			"requisition '%s' is %s, not ESCALATED", id, req.State))
	}
	now := s.now()
	if req.EscalateAt != nil && now.Before(*req.EscalateAt) {
		return nil, recordErr(span, errors.Newf(errors.ErrCodeValidation,
			"escalation of requisition '%s' is not due until %s", id, req.EscalateAt.Format(time.RFC3339)))
	}

	if req.RequiredRole == "" {
		req.RequiredRole = string(s.policies.Current().RoleForLevel(req.RequiredLevel))
	}
	req.EscalateAt = nil

	if err := s.transition(ctx, req, repository.StateAwaitingApproval, SystemActor, req.RoutedBy, nil); err != nil {
		return nil, recordErr(span, err)
	}
	s.notifyApprovalRequired(ctx, req)

	s.log.Info().
		Str("requisition_id", req.ID).
		Str("required_role", req.RequiredRole).
		Int("required_level", req.RequiredLevel).
		Msg("Escalated requisition requeued")
	return req, nil
}

// ProcessDueEscalations requeues every escalation due at now. Requisitions
// that moved on in the meantime are skipped.
func (s *ApprovalService) ProcessDueEscalations(ctx context.Context, now time.Time) (int, error) {
	due, err := s.requisitions.ListDueEscalations(ctx, now)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, req := range due {
		if _, err := s.Requeue(ctx, req.ID); err != nil {
			if errors.Is(err, errors.ErrConflictingTransition) {
				continue
			}
			s.log.Warn().Err(err).Str("requisition_id", req.ID).Msg("Failed to requeue escalation")
			continue
		}
		requeued++
	}
	return requeued, nil
}

// ── Emergency review ──────────────────────────────────────────────────────────

// CompleteEmergencyReview post-approves an override and closes every
// requisition bypassed under it.
func (s *ApprovalService) CompleteEmergencyReview(ctx context.Context, overrideID, approverID, reason string) (*repository.EmergencyOverride, int, error) {
	ctx, span := tracer.Start(ctx, "ApprovalService.CompleteEmergencyReview", trace.WithAttributes(attribute.String("override.id", overrideID)))
	defer span.End()

	o, err := s.overrides.PostApprove(ctx, overrideID, approverID, reason)
	if err != nil {
		return nil, 0, recordErr(span, err)
	}

	bypassed, err := s.requisitions.ListByOverride(ctx, overrideID, repository.StateEmergencyBypassed)
	if err != nil {
		return o, 0, recordErr(span, err)
	}

	closed := 0
	for _, r := range bypassed {
		if err := s.closeBypassed(ctx, r.ID, approverID, reason); err != nil {
			s.log.Warn().Err(err).Str("requisition_id", r.ID).Msg("Failed to close bypassed requisition")
			continue
		}
		closed++
	}

	s.log.Info().
		Str("override_id", overrideID).
		Int("closed", closed).
		Msg("Emergency review completed")
	return o, closed, nil
}

func (s *ApprovalService) closeBypassed(ctx context.Context, id, actorID, reason string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	req, err := s.requisitions.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return s.transition(ctx, req, repository.StateClosed, actorID, req.RoutedBy, &reason)
}

// ── History ───────────────────────────────────────────────────────────────────

// History returns a requisition's audit trail oldest-first.
func (s *ApprovalService) History(ctx context.Context, id string) ([]*repository.TransitionEntry, error) {
	if _, err := s.requisitions.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.audit.ListTransitions(ctx, id)
}

// ── Authorization helper ──────────────────────────────────────────────────────

// authorizeApprover checks the principal may decide on req.
func authorizeApprover(p auth.Principal, req *repository.Requisition) error {
	role := policy.ParseRole(p.Role)
	if !role.Known() || role.Level() < req.RequiredLevel || role.Level() == 0 {
		return errors.Newf(errors.ErrCodeInsufficientAuthority,
			"role %s (level %d) cannot act on a level %d approval", role, role.Level(), req.RequiredLevel)
	}
	if p.UserID == req.RequesterID {
		return errors.New(errors.ErrCodeInsufficientAuthority, "requesters cannot decide on their own requisitions")
	}
	if policy.BudgetHierarchy(req.BudgetHierarchy) == policy.BudgetVessel && !p.AssignedTo(req.VesselID) {
		return errors.Newf(errors.ErrCodeVesselNotAuthorized, "approver is not assigned to vessel '%s'", req.VesselID)
	}
	return nil
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// transition moves req to `to`, persisting conditionally on the state and
// version it was read at, then appends the audit entry.
func (s *ApprovalService) transition(ctx context.Context, req *repository.Requisition, to repository.State, actorID, source string, reason *string) error {
	return s.advance(ctx, req, hop{to: to, actorID: actorID, source: source, reason: reason})
}

// hop is one audited move inside an advance.
type hop struct {
	to      repository.State
	actorID string
	source  string
	reason  *string
}

// advance walks req through hops with a single conditional write from its
// current state and version to the last hop's state. Every hop must be a
// legal move; each one gets its own audit entry once the write succeeds.
func (s *ApprovalService) advance(ctx context.Context, req *repository.Requisition, hops ...hop) error {
	from := req.State
	cur := from
	for _, h := range hops {
		if !CanTransition(cur, h.to) {
			return errors.Newf(errors.ErrCodeConflictingTransition,
				"requisition '%s' cannot move from %s to %s", req.ID, cur, h.to)
		}
		cur = h.to
	}

	req.State = cur
	if err := s.requisitions.UpdateState(ctx, req, from, req.Version); err != nil {
		req.State = from
		return err
	}

	now := s.now()
	prev := from
	for _, h := range hops {
		s.appendAudit(ctx, &repository.TransitionEntry{
			RequisitionID: req.ID,
			FromState:     prev,
			ToState:       h.to,
			ActorID:       h.actorID,
			Source:        h.source,
			Reason:        h.reason,
			Timestamp:     now,
		})
		prev = h.to
	}
	return nil
}

// appendAudit writes an audit entry and logs a warning on failure (never returns error).
func (s *ApprovalService) appendAudit(ctx context.Context, entry *repository.TransitionEntry) {
	if err := s.audit.AppendTransition(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("requisition_id", entry.RequisitionID).
			Str("to_state", string(entry.ToState)).
			Msg("Failed to write audit log entry")
	}
}

func (s *ApprovalService) notifyApprovalRequired(ctx context.Context, req *repository.Requisition) {
	s.notifier.PublishEvent(ctx, "requisition_approval_required", "requisition", req.ID, req.RequesterID,
		roleRecipients([]policy.Role{policy.Role(req.RequiredRole)}),
		map[string]any{
			"vessel_id":      req.VesselID,
			"amount":         req.Amount.String(),
			"currency":       req.Currency,
			"required_level": req.RequiredLevel,
		})
}

func (s *ApprovalService) scheduleEscalation(ctx context.Context, req *repository.Requisition) {
	if s.scheduler == nil || req.EscalateAt == nil {
		return
	}
	if err := s.scheduler.ScheduleEscalation(ctx, req.ID, *req.EscalateAt); err != nil {
		s.log.Warn().Err(err).
			Str("requisition_id", req.ID).
			Msg("Failed to schedule escalation; the periodic sweep will pick it up")
	}
}
