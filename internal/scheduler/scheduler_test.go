package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	apperrors "github.com/pesio-ai/be-proc-approvals/internal/common/errors"
	"github.com/pesio-ai/be-proc-approvals/internal/repository"
	"github.com/pesio-ai/be-proc-approvals/internal/service"
)

type countingSweeper struct {
	mu    sync.Mutex
	calls int
}

func (s *countingSweeper) Run(context.Context, time.Time) (service.SweepReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return service.SweepReport{ExpiredOverrides: 1}, nil
}

type stubRequeuer struct {
	err   error
	calls []string
}

func (r *stubRequeuer) Requeue(_ context.Context, id string) (*repository.Requisition, error) {
	r.calls = append(r.calls, id)
	if r.err != nil {
		return nil, r.err
	}
	return &repository.Requisition{ID: id, State: repository.StateAwaitingApproval}, nil
}

type workflowSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *workflowSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.env.RegisterWorkflow(OverrideSweepWorkflow)
	s.env.RegisterWorkflow(EscalationWorkflow)
}

func (s *workflowSuite) AfterTest(_, _ string) {
	s.env.AssertExpectations(s.T())
}

func TestWorkflows(t *testing.T) {
	suite.Run(t, new(workflowSuite))
}

func (s *workflowSuite) TestSweepContinuesAsNew() {
	sweeper := &countingSweeper{}
	s.env.RegisterActivity(&Activities{Sweeper: sweeper, Requeuer: &stubRequeuer{}})

	s.env.ExecuteWorkflow(OverrideSweepWorkflow, SweepInput{Interval: time.Minute})

	s.True(s.env.IsWorkflowCompleted())
	err := s.env.GetWorkflowError()
	s.Require().Error(err)
	s.True(workflow.IsContinueAsNewError(err))
	s.Equal(maxSweepsPerRun, sweeper.calls)
}

func (s *workflowSuite) TestEscalationWaitsUntilDue() {
	requeuer := &stubRequeuer{}
	s.env.RegisterActivity(&Activities{Sweeper: &countingSweeper{}, Requeuer: requeuer})

	start := s.env.Now()
	due := start.Add(4 * time.Hour)
	s.env.RegisterDelayedCallback(func() {
		s.Empty(requeuer.calls, "requeued before the escalation was due")
	}, 4*time.Hour-time.Minute)

	s.env.ExecuteWorkflow(EscalationWorkflow, EscalationInput{RequisitionID: "req-1", DueAt: due})

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
	var outcome string
	s.NoError(s.env.GetWorkflowResult(&outcome))
	s.Equal(OutcomeRequeued, outcome)
	s.Equal([]string{"req-1"}, requeuer.calls)
	s.False(s.env.Now().Before(due))
}

func (s *workflowSuite) TestEscalationSkipsDecidedRequisition() {
	requeuer := &stubRequeuer{err: apperrors.New(apperrors.ErrCodeConflictingTransition, "requisition 'req-2' is APPROVED, not ESCALATED")}
	s.env.RegisterActivity(&Activities{Sweeper: &countingSweeper{}, Requeuer: requeuer})

	s.env.ExecuteWorkflow(EscalationWorkflow, EscalationInput{RequisitionID: "req-2", DueAt: s.env.Now()})

	s.NoError(s.env.GetWorkflowError())
	var outcome string
	s.NoError(s.env.GetWorkflowResult(&outcome))
	s.Equal(OutcomeSkipped, outcome)
	s.Len(requeuer.calls, 1, "non-retryable errors are not retried")
}

func (s *workflowSuite) TestEscalationFailsOnMissingRequisition() {
	requeuer := &stubRequeuer{err: apperrors.NotFound("requisition", "req-3")}
	s.env.RegisterActivity(&Activities{Sweeper: &countingSweeper{}, Requeuer: requeuer})

	s.env.ExecuteWorkflow(EscalationWorkflow, EscalationInput{RequisitionID: "req-3", DueAt: s.env.Now()})

	s.Error(s.env.GetWorkflowError())
	s.Len(requeuer.calls, 1)
}

func TestRequeueActivityClassifiesErrors(t *testing.T) {
	var ts testsuite.WorkflowTestSuite

	tests := []struct {
		name     string
		err      error
		wantType string
		retry    bool
	}{
		{"not due", apperrors.New(apperrors.ErrCodeValidation, "not due"), ErrTypeNotDue, true},
		{"moved on", apperrors.New(apperrors.ErrCodeConflictingTransition, "moved"), ErrTypeAlreadyMoved, false},
		{"missing", apperrors.NotFound("requisition", "x"), ErrTypeNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := ts.NewTestActivityEnvironment()
			env.RegisterActivity(&Activities{Sweeper: &countingSweeper{}, Requeuer: &stubRequeuer{err: tt.err}})

			_, err := env.ExecuteActivity(ActivityRequeue, "req")
			require.Error(t, err)
			var appErr *temporal.ApplicationError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantType, appErr.Type())
			assert.Equal(t, !tt.retry, appErr.NonRetryable())
		})
	}

	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(&Activities{Sweeper: &countingSweeper{}, Requeuer: &stubRequeuer{}})
	val, err := env.ExecuteActivity(ActivityRequeue, "req")
	require.NoError(t, err)
	var outcome string
	require.NoError(t, val.Get(&outcome))
	assert.Equal(t, OutcomeRequeued, outcome)
}

func TestEscalationWorkflowIDIsStablePerDueTime(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.FixedZone("UTC+2", 2*3600))
	assert.Equal(t, "escalation-r-1-20260301T103000Z", EscalationWorkflowID("r-1", at))
	assert.NotEqual(t, EscalationWorkflowID("r-1", at), EscalationWorkflowID("r-1", at.Add(time.Second)))
}
