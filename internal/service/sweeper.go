package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pesio-ai/be-proc-approvals/internal/common/logger"
)

// SweepReport summarises one maintenance pass.
type SweepReport struct {
	ExpiredOverrides    int
	RequeuedEscalations int
}

// Sweeper runs the periodic maintenance shared by the cron entry point, the
// Temporal workflow and the admin RPC.
type Sweeper struct {
	approvals *ApprovalService
	overrides *OverrideService
	log       *logger.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(approvals *ApprovalService, overrides *OverrideService, log *logger.Logger) *Sweeper {
	return &Sweeper{approvals: approvals, overrides: overrides, log: log}
}

// Run deactivates expired overrides and requeues due escalations. Both
// steps are idempotent; a failure in the first does not skip the second.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (SweepReport, error) {
	var report SweepReport
	var firstErr error

	expired, err := s.overrides.SweepExpired(ctx, now)
	if err != nil {
		firstErr = fmt.Errorf("failed to sweep expired overrides: %w", err)
	}
	report.ExpiredOverrides = expired

	requeued, err := s.approvals.ProcessDueEscalations(ctx, now)
	if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to requeue escalations: %w", err)
	}
	report.RequeuedEscalations = requeued

	s.log.Info().
		Int("expired_overrides", report.ExpiredOverrides).
		Int("requeued_escalations", report.RequeuedEscalations).
		Msg("Maintenance sweep finished")
	return report, firstErr
}
