package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/pesio-ai/be-proc-approvals/internal/common/logger"
)

// SweepWorkflowID is the fixed id of the singleton sweep workflow.
const SweepWorkflowID = "procurement-approvals-sweep"

// EscalationScheduler starts one EscalationWorkflow per escalated
// requisition. It satisfies service.EscalationScheduler.
type EscalationScheduler struct {
	client    client.Client
	taskQueue string
	log       *logger.Logger
}

// NewEscalationScheduler creates an EscalationScheduler.
func NewEscalationScheduler(c client.Client, taskQueue string, log *logger.Logger) *EscalationScheduler {
	return &EscalationScheduler{client: c, taskQueue: taskQueue, log: log}
}

// ScheduleEscalation starts a durable timer that requeues requisitionID at
// at. Scheduling the same requisition and due time twice starts one workflow.
func (s *EscalationScheduler) ScheduleEscalation(ctx context.Context, requisitionID string, at time.Time) error {
	opts := client.StartWorkflowOptions{
		ID:        EscalationWorkflowID(requisitionID, at),
		TaskQueue: s.taskQueue,
	}
	run, err := s.client.ExecuteWorkflow(ctx, opts, EscalationWorkflow, EscalationInput{
		RequisitionID: requisitionID,
		DueAt:         at,
	})
	if err != nil {
		return fmt.Errorf("failed to start escalation workflow: %w", err)
	}

	s.log.Debug().
		Str("requisition_id", requisitionID).
		Str("workflow_id", run.GetID()).
		Str("run_id", run.GetRunID()).
		Time("due_at", at).
		Msg("Escalation workflow started")
	return nil
}

// EscalationWorkflowID derives the workflow id for one escalation.
func EscalationWorkflowID(requisitionID string, at time.Time) string {
	return fmt.Sprintf("escalation-%s-%s", requisitionID, at.UTC().Format("20060102T150405Z"))
}

// StartSweep starts the singleton sweep workflow. A sweep that is already
// running is left alone.
func StartSweep(ctx context.Context, c client.Client, taskQueue string, interval time.Duration) (client.WorkflowRun, error) {
	opts := client.StartWorkflowOptions{
		ID:        SweepWorkflowID,
		TaskQueue: taskQueue,
	}
	run, err := c.ExecuteWorkflow(ctx, opts, OverrideSweepWorkflow, SweepInput{Interval: interval})
	if err != nil {
		return nil, fmt.Errorf("failed to start sweep workflow: %w", err)
	}
	return run, nil
}

// NewWorker builds a worker on taskQueue with every scheduler workflow and
// activity registered.
func NewWorker(c client.Client, taskQueue, identity string, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{
		Identity:                               identity,
		MaxConcurrentActivityExecutionSize:     20,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})
	Register(w, acts)
	return w
}

// Register adds the scheduler's workflows and activities to r.
func Register(r worker.Registry, acts *Activities) {
	r.RegisterWorkflow(OverrideSweepWorkflow)
	r.RegisterWorkflow(EscalationWorkflow)
	r.RegisterActivity(acts)
}
