package scheduler

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	apperrors "github.com/pesio-ai/be-proc-approvals/internal/common/errors"
	"github.com/pesio-ai/be-proc-approvals/internal/repository"
	"github.com/pesio-ai/be-proc-approvals/internal/service"
)

// Activity names as registered from the Activities struct.
const (
	ActivitySweep   = "Sweep"
	ActivityRequeue = "Requeue"
)

// Application error types surfaced to workflows.
const (
	ErrTypeNotDue       = "EscalationNotDue"
	ErrTypeAlreadyMoved = "RequisitionAlreadyMoved"
	ErrTypeNotFound     = "RequisitionNotFound"
)

// Outcomes returned by EscalationWorkflow.
const (
	OutcomeRequeued = "requeued"
	OutcomeSkipped  = "skipped"
)

// Sweeper is the maintenance pass the sweep activity drives.
type Sweeper interface {
	Run(ctx context.Context, now time.Time) (service.SweepReport, error)
}

// Requeuer moves a due escalation back into the approval queue.
type Requeuer interface {
	Requeue(ctx context.Context, id string) (*repository.Requisition, error)
}

// Activities holds the dependencies of the scheduler's activities.
type Activities struct {
	Sweeper  Sweeper
	Requeuer Requeuer
}

// Sweep runs one maintenance pass as of now.
func (a *Activities) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	logger := activity.GetLogger(ctx)

	report, err := a.Sweeper.Run(ctx, now)
	if err != nil {
		logger.Warn("Maintenance sweep failed", "error", err)
		return SweepResult{}, err
	}
	return SweepResult{
		ExpiredOverrides:    report.ExpiredOverrides,
		RequeuedEscalations: report.RequeuedEscalations,
	}, nil
}

// Requeue requeues one escalated requisition and classifies the service's
// errors for the workflow's retry policy.
func (a *Activities) Requeue(ctx context.Context, requisitionID string) (string, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Requeueing escalation", "requisitionID", requisitionID)

	_, err := a.Requeuer.Requeue(ctx, requisitionID)
	if err == nil {
		return OutcomeRequeued, nil
	}
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeValidation:
		return "", temporal.NewApplicationError(err.Error(), ErrTypeNotDue)
	case apperrors.ErrCodeConflictingTransition:
		return "", temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeAlreadyMoved, err)
	case apperrors.ErrCodeNotFound:
		return "", temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeNotFound, err)
	default:
		return "", err
	}
}
