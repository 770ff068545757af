package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-proc-approvals/internal/common/auth"
	"github.com/pesio-ai/be-proc-approvals/internal/common/errors"
	"github.com/pesio-ai/be-proc-approvals/internal/common/logger"
	"github.com/pesio-ai/be-proc-approvals/internal/policy"
	"github.com/pesio-ai/be-proc-approvals/internal/repository"
	"github.com/pesio-ai/be-proc-approvals/internal/repository/memory"
)

type approvalFixture struct {
	*overrideFixture
	approvals    *ApprovalService
	requisitions *memory.Requisitions
	scheduler    *memScheduler
	policies     *policy.Store
}

func newApprovalFixture(t *testing.T, rules ...policy.WorkflowRule) *approvalFixture {
	t.Helper()
	of := newOverrideFixture()

	def := policy.DefaultDefinition()
	def.Rules = rules
	snap, err := policy.NewSnapshot(def)
	require.NoError(t, err)
	store := policy.NewStore(snap)
	of.svc.policies = store

	f := &approvalFixture{
		overrideFixture: of,
		requisitions:    memory.NewRequisitions(),
		scheduler:       &memScheduler{},
		policies:        store,
	}
	f.approvals = NewApprovalService(f.requisitions, of.svc, of.audit, of.notifier, store, f.scheduler, logger.Nop()).
		WithClock(of.clock.Now)
	return f
}

var (
	crew       = auth.Principal{UserID: "u-crew", Role: "CREW", VesselIDs: []string{"v-1"}}
	master     = auth.Principal{UserID: "u-cpt", Role: "CAPTAIN", VesselIDs: []string{"v-1"}}
	superint   = auth.Principal{UserID: "u-super", Role: "SUPERINTENDENT", VesselIDs: []string{"v-1", "v-2"}}
	finance    = auth.Principal{UserID: "u-fin", Role: "FINANCE_TEAM"}
	shoreAdmin = auth.Principal{UserID: "u-admin", Role: "ADMIN"}
)

func (f *approvalFixture) draft(t *testing.T, p auth.Principal, amount int64) *repository.Requisition {
	t.Helper()
	r, err := f.approvals.CreateDraft(context.Background(), p, CreateRequest{
		VesselID:         "v-1",
		Amount:           decimal.NewFromInt(amount),
		Currency:         "usd",
		UrgencyLevel:     "routine",
		CriticalityLevel: "routine",
		Category:         "SPARES",
	})
	require.NoError(t, err)
	return r
}

func (f *approvalFixture) states(t *testing.T, id string) []repository.State {
	t.Helper()
	entries, err := f.approvals.History(context.Background(), id)
	require.NoError(t, err)
	out := make([]repository.State, 0, len(entries)+1)
	for i, e := range entries {
		if i == 0 {
			out = append(out, e.FromState)
		}
		out = append(out, e.ToState)
	}
	return out
}

func TestTransitionTable(t *testing.T) {
	assert.True(t, CanTransition(repository.StateDraft, repository.StateSubmitted))
	assert.True(t, CanTransition(repository.StateEscalated, repository.StateApproved))
	assert.True(t, CanTransition(repository.StateEmergencyBypassed, repository.StateClosed))
	assert.False(t, CanTransition(repository.StateDraft, repository.StateApproved))
	assert.False(t, CanTransition(repository.StateSubmitted, repository.StateClosed))

	for _, s := range []repository.State{
		repository.StateAutoApproved, repository.StateApproved,
		repository.StateRejected, repository.StateClosed,
	} {
		assert.True(t, IsTerminal(s), s)
	}
	assert.False(t, IsTerminal(repository.StateEmergencyBypassed))
}

func TestSubmitRoutesByThreshold(t *testing.T) {
	tests := []struct {
		amount    int64
		state     repository.State
		role      string
		level     int
		source    string
		costFlag  bool
		hierarchy string
	}{
		{amount: 120, state: repository.StateAutoApproved, source: "T1", hierarchy: "VESSEL"},
		{amount: 500, state: repository.StateAwaitingApproval, role: "CAPTAIN", level: 1, source: "T2", hierarchy: "VESSEL"},
		{amount: 7200, state: repository.StateAwaitingApproval, role: "SUPERINTENDENT", level: 2, source: "T3", costFlag: true, hierarchy: "FLEET"},
		{amount: 25000, state: repository.StateAwaitingApproval, role: "FINANCE_TEAM", level: 3, source: "T4", costFlag: true, hierarchy: "COMPANY"},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			f := newApprovalFixture(t)
			r := f.draft(t, crew, tt.amount)

			res, err := f.approvals.Submit(context.Background(), crew, r.ID, "")
			require.NoError(t, err)

			got := res.Requisition
			assert.Equal(t, tt.state, got.State)
			assert.Equal(t, tt.role, got.RequiredRole)
			assert.Equal(t, tt.level, got.RequiredLevel)
			assert.Equal(t, tt.source, got.RoutedBy)
			assert.Equal(t, tt.costFlag, got.CostCenterRequired)
			assert.Equal(t, tt.hierarchy, got.BudgetHierarchy)
			assert.Equal(t, []repository.State{repository.StateDraft, repository.StateSubmitted, tt.state}, f.states(t, r.ID))
		})
	}
}

func TestSubmitGuards(t *testing.T) {
	f := newApprovalFixture(t)
	ctx := context.Background()
	r := f.draft(t, crew, 800)

	_, err := f.approvals.Submit(ctx, master, r.ID, "")
	assert.ErrorIs(t, err, errors.ErrInsufficientAuthority)

	_, err = f.approvals.Submit(ctx, crew, "req-missing", "")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, err = f.approvals.Submit(ctx, crew, r.ID, "")
	require.NoError(t, err)

	_, err = f.approvals.Submit(ctx, crew, r.ID, "")
	assert.ErrorIs(t, err, errors.ErrConflictingTransition)
}

func TestSubmitCurrencyMismatchLeavesDraft(t *testing.T) {
	f := newApprovalFixture(t)
	r, err := f.approvals.CreateDraft(context.Background(), crew, CreateRequest{
		VesselID: "v-1", Amount: decimal.NewFromInt(100), Currency: "EUR",
	})
	require.NoError(t, err)

	_, err = f.approvals.Submit(context.Background(), crew, r.ID, "")
	assert.ErrorIs(t, err, errors.ErrValidation)

	stored, _ := f.approvals.Get(context.Background(), r.ID)
	assert.Equal(t, repository.StateDraft, stored.State)
}

func TestSubmitWriteFailureLeavesDraft(t *testing.T) {
	f := newApprovalFixture(t)
	ctx := context.Background()
	store := &flakyRequisitions{Requisitions: f.requisitions}
	svc := NewApprovalService(store, f.svc, f.audit, f.notifier, f.policies, f.scheduler, logger.Nop()).
		WithClock(f.clock.Now)
	r := f.draft(t, crew, 900)

	store.failNext = 1
	_, err := svc.Submit(ctx, crew, r.ID, "")
	require.Error(t, err)

	stored, err := svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StateDraft, stored.State)
	assert.Empty(t, f.states(t, r.ID))

	res, err := svc.Submit(ctx, crew, r.ID, "")
	require.NoError(t, err)
	assert.Equal(t, repository.StateAwaitingApproval, res.Requisition.State)
	assert.Equal(t, 2, store.writes)
	assert.Equal(t, []repository.State{
		repository.StateDraft, repository.StateSubmitted, repository.StateAwaitingApproval,
	}, f.states(t, r.ID))
}

func TestSubmitWithOverrideIsOneWrite(t *testing.T) {
	f := newApprovalFixture(t)
	ctx := context.Background()
	store := &flakyRequisitions{Requisitions: f.requisitions}
	svc := NewApprovalService(store, f.svc, f.audit, f.notifier, f.policies, f.scheduler, logger.Nop()).
		WithClock(f.clock.Now)
	o := f.grant(t, captain(), policy.UrgencyEmergency, policy.CriticalitySafety)
	capt := captain()
	r := f.draft(t, capt, 3000)

	store.failNext = 1
	_, err := svc.Submit(ctx, capt, r.ID, o.ID)
	require.Error(t, err)
	stored, err := svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StateDraft, stored.State)

	res, err := svc.Submit(ctx, capt, r.ID, o.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StateEmergencyBypassed, res.Requisition.State)
	assert.Equal(t, 2, store.writes)
}

func TestCreateDraftRequiresVesselAssignment(t *testing.T) {
	f := newApprovalFixture(t)
	_, err := f.approvals.CreateDraft(context.Background(), finance, CreateRequest{
		VesselID: "v-1", Amount: decimal.NewFromInt(100), Currency: "USD",
	})
	assert.ErrorIs(t, err, errors.ErrVesselNotAuthorized)

	_, err = f.approvals.CreateDraft(context.Background(), crew, CreateRequest{
		VesselID: "v-1", Amount: decimal.NewFromInt(-1), Currency: "USD",
	})
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestApproveAuthority(t *testing.T) {
	ctx := context.Background()

	t.Run("level too low", func(t *testing.T) {
		f := newApprovalFixture(t)
		r := f.draft(t, crew, 7200)
		_, err := f.approvals.Submit(ctx, crew, r.ID, "")
		require.NoError(t, err)

		_, err = f.approvals.Approve(ctx, master, r.ID, ApproveRequest{CostCenter: "CC-100"})
		assert.ErrorIs(t, err, errors.ErrInsufficientAuthority)
	})

	t.Run("own requisition", func(t *testing.T) {
		f := newApprovalFixture(t)
		r := f.draft(t, superint, 7200)
		_, err := f.approvals.Submit(ctx, superint, r.ID, "")
		require.NoError(t, err)

		_, err = f.approvals.Approve(ctx, superint, r.ID, ApproveRequest{CostCenter: "CC-100"})
		assert.ErrorIs(t, err, errors.ErrInsufficientAuthority)
	})

	t.Run("vessel budget needs assignment", func(t *testing.T) {
		f := newApprovalFixture(t)
		r := f.draft(t, crew, 900)
		_, err := f.approvals.Submit(ctx, crew, r.ID, "")
		require.NoError(t, err)

		_, err = f.approvals.Approve(ctx, finance, r.ID, ApproveRequest{})
		assert.ErrorIs(t, err, errors.ErrVesselNotAuthorized)

		got, err := f.approvals.Approve(ctx, master, r.ID, ApproveRequest{Notes: "ok"})
		require.NoError(t, err)
		assert.Equal(t, repository.StateApproved, got.State)
		require.NotNil(t, got.DecidedBy)
		assert.Equal(t, "u-cpt", *got.DecidedBy)
	})

	t.Run("cost center required", func(t *testing.T) {
		f := newApprovalFixture(t)
		r := f.draft(t, crew, 30000)
		_, err := f.approvals.Submit(ctx, crew, r.ID, "")
		require.NoError(t, err)

		_, err = f.approvals.Approve(ctx, finance, r.ID, ApproveRequest{})
		assert.ErrorIs(t, err, errors.ErrValidation)

		got, err := f.approvals.Approve(ctx, finance, r.ID, ApproveRequest{CostCenter: "CC-7"})
		require.NoError(t, err)
		assert.Equal(t, "CC-7", *got.CostCenter)
	})
}

func TestTerminalStatesNeverTransition(t *testing.T) {
	f := newApprovalFixture(t)
	ctx := context.Background()
	r := f.draft(t, crew, 900)
	_, err := f.approvals.Submit(ctx, crew, r.ID, "")
	require.NoError(t, err)

	_, err = f.approvals.Reject(ctx, master, r.ID, "Not budgeted")
	require.NoError(t, err)

	_, err = f.approvals.Approve(ctx, master, r.ID, ApproveRequest{})
	assert.ErrorIs(t, err, errors.ErrConflictingTransition)
	_, err = f.approvals.Escalate(ctx, master, r.ID, "second opinion")
	assert.ErrorIs(t, err, errors.ErrConflictingTransition)
	_, err = f.approvals.Reject(ctx, master, r.ID, "again")
	assert.ErrorIs(t, err, errors.ErrConflictingTransition)
}

func TestRejectRequiresReason(t *testing.T) {
	f := newApprovalFixture(t)
	r := f.draft(t, crew, 900)
	_, err := f.approvals.Submit(context.Background(), crew, r.ID, "")
	require.NoError(t, err)

	_, err = f.approvals.Reject(context.Background(), master, r.ID, "")
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestConcurrentApprovalsOnlyOneWins(t *testing.T) {
	f := newApprovalFixture(t)
	ctx := context.Background()
	r := f.draft(t, crew, 900)
	_, err := f.approvals.Submit(ctx, crew, r.ID, "")
	require.NoError(t, err)

	approvers := []auth.Principal{
		master,
		{UserID: "u-chief", Role: "CHIEF_ENGINEER", VesselIDs: []string{"v-1"}},
		superint,
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for _, p := range approvers {
		wg.Add(1)
		go func(p auth.Principal) {
			defer wg.Done()
			_, err := f.approvals.Approve(ctx, p, r.ID, ApproveRequest{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, errors.ErrConflictingTransition):
				conflicts++
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 2, conflicts)
	assert.Len(t, f.states(t, r.ID), 4)
}

func TestStaleWriteIsConflict(t *testing.T) {
	f := newApprovalFixture(t)
	ctx := context.Background()
	r := f.draft(t, crew, 900)
	_, err := f.approvals.Submit(ctx, crew, r.ID, "")
	require.NoError(t, err)

	stale, err := f.requisitions.GetByID(ctx, r.ID)
	require.NoError(t, err)
	_, err = f.approvals.Approve(ctx, master, r.ID, ApproveRequest{})
	require.NoError(t, err)

	stale.State = repository.StateRejected
	err = f.requisitions.UpdateState(ctx, stale, repository.StateAwaitingApproval, stale.Version)
	assert.ErrorIs(t, err, errors.ErrConflictingTransition)
}

func TestAuditFailureDoesNotRollBack(t *testing.T) {
	f := newApprovalFixture(t)
	ctx := context.Background()
	r := f.draft(t, crew, 900)
	f.audit.setFailing(true)

	res, err := f.approvals.Submit(ctx, crew, r.ID, "")
	require.NoError(t, err)
	assert.Equal(t, repository.StateAwaitingApproval, res.Requisition.State)
}

func TestRuleEscalationAndRequeue(t *testing.T) {
	delay := 4
	f := newApprovalFixture(t, policy.WorkflowRule{
		ID: "dry-dock", Priority: 10, IsActive: true,
		Conditions: []policy.Condition{{Field: "category", Operator: policy.OpEq, Value: "DRY_DOCK"}},
		Actions: []policy.Action{
			{Type: policy.ActionEscalate, EscalationDelayHours: &delay},
			{Type: policy.ActionNotify, ApproverRole: policy.RoleFinanceTeam},
		},
	})
	ctx := context.Background()

	r, err := f.approvals.CreateDraft(ctx, crew, CreateRequest{
		VesselID: "v-1", Amount: decimal.NewFromInt(2000), Currency: "USD", Category: "DRY_DOCK",
	})
	require.NoError(t, err)

	res, err := f.approvals.Submit(ctx, crew, r.ID, "")
	require.NoError(t, err)
	got := res.Requisition
	assert.Equal(t, repository.StateEscalated, got.State)
	assert.Equal(t, "dry-dock", got.RoutedBy)
	assert.Equal(t, 2, got.RequiredLevel, "one above the T2 row")
	assert.Equal(t, "SUPERINTENDENT", got.RequiredRole)
	require.NotNil(t, got.EscalateAt)
	assert.Equal(t, t0.Add(4*time.Hour), *got.EscalateAt)
	assert.Equal(t, t0.Add(4*time.Hour), f.scheduler.scheduled[r.ID])
	assert.Contains(t, f.notifier.types(), "requisition_rule_notification")

	_, err = f.approvals.Requeue(ctx, r.ID)
	assert.ErrorIs(t, err, errors.ErrValidation, "not due yet")

	n, err := f.approvals.ProcessDueEscalations(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.clock.Advance(4 * time.Hour)
	n, err = f.approvals.ProcessDueEscalations(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, _ := f.approvals.Get(ctx, r.ID)
	assert.Equal(t, repository.StateAwaitingApproval, stored.State)
	assert.Nil(t, stored.EscalateAt)

	n, err = f.approvals.ProcessDueEscalations(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestManualEscalation(t *testing.T) {
	f := newApprovalFixture(t)
	ctx := context.Background()
	r := f.draft(t, crew, 900)
	_, err := f.approvals.Submit(ctx, crew, r.ID, "")
	require.NoError(t, err)

	_, err = f.approvals.Escalate(ctx, master, r.ID, "")
	assert.ErrorIs(t, err, errors.ErrValidation)

	got, err := f.approvals.Escalate(ctx, master, r.ID, "Above my discretion")
	require.NoError(t, err)
	assert.Equal(t, repository.StateEscalated, got.State)
	assert.Equal(t, 2, got.RequiredLevel)
	assert.Equal(t, "SUPERINTENDENT", got.RequiredRole)

	// A level-2 approver may decide directly from ESCALATED.
	_, err = f.approvals.Approve(ctx, master, r.ID, ApproveRequest{})
	assert.ErrorIs(t, err, errors.ErrInsufficientAuthority)
	got, err = f.approvals.Approve(ctx, superint, r.ID, ApproveRequest{})
	require.NoError(t, err)
	assert.Equal(t, repository.StateApproved, got.State)
}

func TestRuleBypassAutoApproves(t *testing.T) {
	f := newApprovalFixture(t, policy.WorkflowRule{
		ID: "safety-stock", Priority: 5, IsActive: true,
		Conditions: []policy.Condition{{Field: "tags", Operator: policy.OpContains, Value: "SAFETY"}},
		Actions:    []policy.Action{{Type: policy.ActionBypass}},
	})
	ctx := context.Background()
	r, err := f.approvals.CreateDraft(ctx, crew, CreateRequest{
		VesselID: "v-1", Amount: decimal.NewFromInt(8000), Currency: "USD", Tags: []string{"SAFETY"},
	})
	require.NoError(t, err)

	res, err := f.approvals.Submit(ctx, crew, r.ID, "")
	require.NoError(t, err)
	assert.Equal(t, repository.StateAutoApproved, res.Requisition.State)
	assert.Equal(t, "safety-stock", res.Requisition.RoutedBy)
}

func TestSubmitWithOverride(t *testing.T) {
	ctx := context.Background()

	t.Run("post-approval pending", func(t *testing.T) {
		f := newApprovalFixture(t)
		o := f.grant(t, captain(), policy.UrgencyEmergency, policy.CriticalitySafety)
		capt := captain()
		r := f.draft(t, capt, 60000)

		res, err := f.approvals.Submit(ctx, capt, r.ID, o.ID)
		require.NoError(t, err)
		assert.Equal(t, repository.StateEmergencyBypassed, res.Requisition.State)
		assert.True(t, res.RequiresPostApproval())
		require.NotNil(t, res.Requisition.OverrideID)

		_, closed, err := f.approvals.CompleteEmergencyReview(ctx, o.ID, "u-super", "Fire pump replaced")
		require.NoError(t, err)
		assert.Equal(t, 1, closed)
		assert.Equal(t, []repository.State{
			repository.StateDraft, repository.StateSubmitted,
			repository.StateEmergencyBypassed, repository.StateClosed,
		}, f.states(t, r.ID))

		_, _, err = f.approvals.CompleteEmergencyReview(ctx, o.ID, "u-pm", "again")
		assert.ErrorIs(t, err, errors.ErrAlreadyApproved)
	})

	t.Run("amount above ceiling", func(t *testing.T) {
		f := newApprovalFixture(t)
		o := f.grant(t, captain(), policy.UrgencyUrgent, policy.CriticalitySafety) // max 5000
		capt := captain()
		r := f.draft(t, capt, 5001)

		_, err := f.approvals.Submit(ctx, capt, r.ID, o.ID)
		assert.ErrorIs(t, err, errors.ErrInsufficientAuthority)

		stored, _ := f.approvals.Get(ctx, r.ID)
		assert.Equal(t, repository.StateDraft, stored.State)
	})

	t.Run("override held by someone else", func(t *testing.T) {
		f := newApprovalFixture(t)
		o := f.grant(t, captain(), policy.UrgencyEmergency, policy.CriticalitySafety)
		r := f.draft(t, crew, 100)

		_, err := f.approvals.Submit(ctx, crew, r.ID, o.ID)
		assert.ErrorIs(t, err, errors.ErrRoleNotEligible)
	})

	t.Run("expired override", func(t *testing.T) {
		f := newApprovalFixture(t)
		o := f.grant(t, captain(), policy.UrgencyUrgent, policy.CriticalitySafety)
		capt := captain()
		r := f.draft(t, capt, 100)
		f.clock.Advance(8 * time.Hour)

		_, err := f.approvals.Submit(ctx, capt, r.ID, o.ID)
		assert.ErrorIs(t, err, errors.ErrExpired)
	})

	t.Run("no post-approval closes immediately", func(t *testing.T) {
		def := policy.DefaultDefinition()
		def.Bypasses[0].RequiresPostApproval = false
		f := newApprovalFixture(t)
		_, err := f.policies.Replace(def)
		require.NoError(t, err)

		o := f.grant(t, captain(), policy.UrgencyEmergency, policy.CriticalitySafety)
		assert.False(t, o.RequiresPostApproval)
		capt := captain()
		r := f.draft(t, capt, 100)

		res, err := f.approvals.Submit(ctx, capt, r.ID, o.ID)
		require.NoError(t, err)
		assert.Equal(t, repository.StateClosed, res.Requisition.State)
		assert.False(t, res.RequiresPostApproval())
	})
}

func TestHistoryUnknownRequisition(t *testing.T) {
	f := newApprovalFixture(t)
	_, err := f.approvals.History(context.Background(), "req-404")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestAdminMayApproveCompanyBudget(t *testing.T) {
	f := newApprovalFixture(t)
	ctx := context.Background()
	r := f.draft(t, crew, 40000)
	_, err := f.approvals.Submit(ctx, crew, r.ID, "")
	require.NoError(t, err)

	got, err := f.approvals.Approve(ctx, shoreAdmin, r.ID, ApproveRequest{CostCenter: "CC-1"})
	require.NoError(t, err)
	assert.Equal(t, repository.StateApproved, got.State)
}
