// Package memory provides in-process implementations of the repositories
// for local runs without Postgres and for tests. Every read returns a copy,
// so callers can never mutate stored rows behind the store's back.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-proc-approvals/internal/common/errors"
	"github.com/pesio-ai/be-proc-approvals/internal/repository"
)

// ── Requisitions ──────────────────────────────────────────────────────────────

// Requisitions stores requisitions with the same conditional-update
// semantics as the Postgres repository.
type Requisitions struct {
	mu   sync.Mutex
	rows map[string]*repository.Requisition
}

func NewRequisitions() *Requisitions {
	return &Requisitions{rows: make(map[string]*repository.Requisition)}
}

func (m *Requisitions) Create(_ context.Context, r *repository.Requisition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	r.ID = uuid.NewString()
	r.State = repository.StateDraft
	r.Version = 1
	r.CreatedAt, r.UpdatedAt = now, now
	m.rows[r.ID] = cloneRequisition(r)
	return nil
}

func (m *Requisitions) GetByID(_ context.Context, id string) (*repository.Requisition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, errors.NotFound("requisition", id)
	}
	return cloneRequisition(r), nil
}

// UpdateState persists r only if the stored row is still at from/version.
func (m *Requisitions) UpdateState(_ context.Context, r *repository.Requisition, from repository.State, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[r.ID]
	if !ok || cur.State != from || cur.Version != version {
		return errors.Newf(errors.ErrCodeConflictingTransition,
			"requisition '%s' was modified concurrently or is no longer %s", r.ID, from)
	}
	r.Version = version + 1
	r.UpdatedAt = time.Now().UTC()
	m.rows[r.ID] = cloneRequisition(r)
	return nil
}

func (m *Requisitions) ListByOverride(_ context.Context, overrideID string, state repository.State) ([]*repository.Requisition, error) {
	return m.filter(func(r *repository.Requisition) bool {
		return r.OverrideID != nil && *r.OverrideID == overrideID && r.State == state
	}), nil
}

func (m *Requisitions) ListDueEscalations(_ context.Context, now time.Time) ([]*repository.Requisition, error) {
	return m.filter(func(r *repository.Requisition) bool {
		return r.State == repository.StateEscalated && r.EscalateAt != nil && !r.EscalateAt.After(now)
	}), nil
}

func (m *Requisitions) filter(keep func(*repository.Requisition) bool) []*repository.Requisition {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.Requisition
	for _, r := range m.rows {
		if keep(r) {
			out = append(out, cloneRequisition(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func cloneRequisition(r *repository.Requisition) *repository.Requisition {
	cp := *r
	cp.Tags = slices.Clone(r.Tags)
	return &cp
}

// ── Overrides ─────────────────────────────────────────────────────────────────

// Overrides stores emergency overrides.
type Overrides struct {
	mu   sync.Mutex
	rows map[string]*repository.EmergencyOverride
}

func NewOverrides() *Overrides {
	return &Overrides{rows: make(map[string]*repository.EmergencyOverride)}
}

// Len reports how many overrides were ever stored.
func (m *Overrides) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *Overrides) Create(_ context.Context, o *repository.EmergencyOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = uuid.NewString()
	o.IsActive = true
	cp := *o
	m.rows[o.ID] = &cp
	return nil
}

func (m *Overrides) GetByID(_ context.Context, id string) (*repository.EmergencyOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[id]
	if !ok {
		return nil, errors.NotFound("emergency_override", id)
	}
	cp := *o
	return &cp, nil
}

// Deactivate reports whether this call flipped the override to inactive.
func (m *Overrides) Deactivate(_ context.Context, id, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[id]
	if !ok || !o.IsActive {
		return false, nil
	}
	o.IsActive = false
	o.DeactivatedAt = &at
	o.DeactivationReason = &reason
	return true, nil
}

func (m *Overrides) DeactivateExpired(_ context.Context, now time.Time) ([]*repository.EmergencyOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.EmergencyOverride
	for _, o := range m.rows {
		if !o.IsActive || o.ExpiresAt.After(now) {
			continue
		}
		reason := "expired"
		o.IsActive = false
		o.DeactivatedAt = &now
		o.DeactivationReason = &reason
		cp := *o
		out = append(out, &cp)
	}
	return out, nil
}

// RecordPostApproval reports whether this call recorded the review.
func (m *Overrides) RecordPostApproval(_ context.Context, id, approverID, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[id]
	if !ok || o.ApprovedBy != nil {
		return false, nil
	}
	o.ApprovedBy = &approverID
	o.ApprovedAt = &at
	o.PostApprovalReason = &reason
	return true, nil
}

func (m *Overrides) ListActiveByUser(_ context.Context, userID string, now time.Time) ([]*repository.EmergencyOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.EmergencyOverride
	for _, o := range m.rows {
		if o.UserID == userID && o.IsActive && o.ExpiresAt.After(now) {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// ── Users ─────────────────────────────────────────────────────────────────────

// Users is a fixed user directory keyed by id.
type Users map[string]*repository.User

func (m Users) GetUser(_ context.Context, id string) (*repository.User, error) {
	u, ok := m[id]
	if !ok {
		return nil, errors.NotFound("user", id)
	}
	cp := *u
	cp.VesselIDs = slices.Clone(u.VesselIDs)
	return &cp, nil
}

// ── Audit ─────────────────────────────────────────────────────────────────────

// Audit is an append-only audit sink.
type Audit struct {
	mu          sync.Mutex
	transitions []*repository.TransitionEntry
	security    []*repository.SecurityEvent
	compliance  []*repository.ComplianceEvent
}

func NewAudit() *Audit {
	return &Audit{}
}

func (m *Audit) AppendTransition(_ context.Context, e *repository.TransitionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	cp.ID = uuid.NewString()
	m.transitions = append(m.transitions, &cp)
	return nil
}

// ListTransitions returns a requisition's entries in append order.
func (m *Audit) ListTransitions(_ context.Context, requisitionID string) ([]*repository.TransitionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.TransitionEntry
	for _, e := range m.transitions {
		if e.RequisitionID == requisitionID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Audit) AppendSecurityEvent(_ context.Context, ev *repository.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ev
	cp.ID = uuid.NewString()
	m.security = append(m.security, &cp)
	return nil
}

func (m *Audit) AppendComplianceEvent(_ context.Context, ev *repository.ComplianceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ev
	cp.ID = uuid.NewString()
	m.compliance = append(m.compliance, &cp)
	return nil
}

// SecurityEvents returns every security event recorded so far.
func (m *Audit) SecurityEvents() []*repository.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.security)
}

// ComplianceEvents returns every compliance event recorded so far.
func (m *Audit) ComplianceEvents() []*repository.ComplianceEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.compliance)
}
