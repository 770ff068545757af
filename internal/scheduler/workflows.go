// Package scheduler runs the approval engine's timed work on Temporal: the
// periodic override/escalation sweep and one durable timer per escalated
// requisition.
package scheduler

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// maxSweepsPerRun bounds history growth; the sweep workflow continues as new
// after this many iterations.
const maxSweepsPerRun = 100

// SweepInput configures OverrideSweepWorkflow.
type SweepInput struct {
	Interval time.Duration
	// Iterations counts sweeps across continue-as-new runs.
	Iterations int
}

// SweepResult is what a single sweep activity reports back.
type SweepResult struct {
	ExpiredOverrides    int
	RequeuedEscalations int
}

// EscalationInput identifies the requisition an EscalationWorkflow requeues.
type EscalationInput struct {
	RequisitionID string
	DueAt         time.Time
}

func activityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{ErrTypeAlreadyMoved, ErrTypeNotFound},
		},
	}
}

// OverrideSweepWorkflow runs the maintenance sweep every Interval forever.
func OverrideSweepWorkflow(ctx workflow.Context, in SweepInput) error {
	logger := workflow.GetLogger(ctx)
	if in.Interval <= 0 {
		in.Interval = 5 * time.Minute
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions())

	for i := 0; i < maxSweepsPerRun; i++ {
		var result SweepResult
		err := workflow.ExecuteActivity(ctx, ActivitySweep, workflow.Now(ctx)).Get(ctx, &result)
		if err != nil {
			// A failed sweep is retried on the next tick.
			logger.Warn("Sweep failed", "error", err)
		} else if result.ExpiredOverrides > 0 || result.RequeuedEscalations > 0 {
			logger.Info("Sweep applied changes",
				"expiredOverrides", result.ExpiredOverrides,
				"requeuedEscalations", result.RequeuedEscalations)
		}
		in.Iterations++

		if err := workflow.Sleep(ctx, in.Interval); err != nil {
			return err
		}
	}

	return workflow.NewContinueAsNewError(ctx, OverrideSweepWorkflow, in)
}

// EscalationWorkflow sleeps until the escalation is due and then requeues
// the requisition. A requisition that was decided in the meantime ends the
// workflow without error.
func EscalationWorkflow(ctx workflow.Context, in EscalationInput) (string, error) {
	logger := workflow.GetLogger(ctx)

	if wait := in.DueAt.Sub(workflow.Now(ctx)); wait > 0 {
		if err := workflow.Sleep(ctx, wait); err != nil {
			return "", err
		}
	}

	ctx = workflow.WithActivityOptions(ctx, activityOptions())
	var outcome string
	err := workflow.ExecuteActivity(ctx, ActivityRequeue, in.RequisitionID).Get(ctx, &outcome)
	if err != nil {
		var appErr *temporal.ApplicationError
		if errors.As(err, &appErr) && appErr.Type() == ErrTypeAlreadyMoved {
			logger.Info("Requisition no longer escalated", "requisitionID", in.RequisitionID)
			return OutcomeSkipped, nil
		}
		return "", err
	}
	logger.Info("Escalation requeued", "requisitionID", in.RequisitionID)
	return outcome, nil
}
