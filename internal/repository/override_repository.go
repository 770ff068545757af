package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-proc-approvals/internal/common/database"
	"github.com/pesio-ai/be-proc-approvals/internal/common/errors"
)

// OverrideRepository stores emergency override grants. Every mutation is an
// update-if-active (or update-if-unapproved) so concurrent expiry, explicit
// deactivation and post-approval converge without overwriting each other.
type OverrideRepository struct {
	db database.Querier
}

// NewOverrideRepository creates a new OverrideRepository.
func NewOverrideRepository(db database.Querier) *OverrideRepository {
	return &OverrideRepository{db: db}
}

const overrideColumns = `
	id, user_id, vessel_id, role, reason,
	urgency_level, criticality_level, max_amount::text,
	requires_post_approval, is_active,
	created_at, expires_at,
	deactivated_at, deactivation_reason,
	approved_by, approved_at, post_approval_reason
`

// Create inserts an active override.
func (r *OverrideRepository) Create(ctx context.Context, o *EmergencyOverride) error {
	query := `
		INSERT INTO emergency_overrides
		    (user_id, vessel_id, role, reason,
		     urgency_level, criticality_level, max_amount,
		     requires_post_approval, is_active,
		     created_at, expires_at)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7::numeric,
		        $8, TRUE,
		        $9, $10)
		RETURNING id
	`

	var maxAmount *string
	if o.MaxAmount != nil {
		s := o.MaxAmount.String()
		maxAmount = &s
	}

	o.IsActive = true
	err := r.db.QueryRow(ctx, query,
		o.UserID,
		o.VesselID,
		o.Role,
		o.Reason,
		o.UrgencyLevel,
		o.CriticalityLevel,
		maxAmount,
		o.RequiresPostApproval,
		o.CreatedAt,
		o.ExpiresAt,
	).Scan(&o.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create emergency override")
	}
	return nil
}

// GetByID retrieves an override by primary key.
func (r *OverrideRepository) GetByID(ctx context.Context, id string) (*EmergencyOverride, error) {
	query := `SELECT ` + overrideColumns + ` FROM emergency_overrides WHERE id = $1`

	o, err := scanOverride(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("emergency_override", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get emergency override")
	}
	return o, nil
}

// Deactivate flips an active override to inactive. It reports false when the
// override was already inactive, leaving the first reason in place.
func (r *OverrideRepository) Deactivate(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	query := `
		UPDATE emergency_overrides
		SET is_active           = FALSE,
		    deactivated_at      = $2,
		    deactivation_reason = $3
		WHERE id = $1 AND is_active = TRUE
	`

	tag, err := r.db.Exec(ctx, query, id, at, reason)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to deactivate emergency override")
	}
	return tag.RowsAffected() == 1, nil
}

// DeactivateExpired deactivates every active override with expires_at <= now
// and returns the rows it changed. Re-running with the same now changes nothing.
func (r *OverrideRepository) DeactivateExpired(ctx context.Context, now time.Time) ([]*EmergencyOverride, error) {
	query := `
		UPDATE emergency_overrides
		SET is_active           = FALSE,
		    deactivated_at      = $1,
		    deactivation_reason = 'expired'
		WHERE is_active = TRUE AND expires_at <= $1
		RETURNING ` + overrideColumns

	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to expire emergency overrides")
	}
	defer rows.Close()

	return scanOverrides(rows)
}

// RecordPostApproval stamps the post-approval once. It reports false when the
// override already carries an approval.
func (r *OverrideRepository) RecordPostApproval(ctx context.Context, id, approverID, reason string, at time.Time) (bool, error) {
	query := `
		UPDATE emergency_overrides
		SET approved_by          = $2,
		    approved_at          = $3,
		    post_approval_reason = $4
		WHERE id = $1 AND approved_by IS NULL
	`

	tag, err := r.db.Exec(ctx, query, id, approverID, at, reason)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to record post-approval")
	}
	return tag.RowsAffected() == 1, nil
}

// ListActiveByUser returns the user's overrides that are active and unexpired at now.
func (r *OverrideRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*EmergencyOverride, error) {
	query := `SELECT ` + overrideColumns + `
		FROM emergency_overrides
		WHERE user_id = $1 AND is_active = TRUE AND expires_at > $2
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, userID, now)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list emergency overrides")
	}
	defer rows.Close()

	return scanOverrides(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanOverrides(rows pgx.Rows) ([]*EmergencyOverride, error) {
	var out []*EmergencyOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan emergency override")
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read emergency overrides")
	}
	return out, nil
}

func scanOverride(row rowScanner) (*EmergencyOverride, error) {
	o := &EmergencyOverride{}
	var maxAmount *string

	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.VesselID,
		&o.Role,
		&o.Reason,
		&o.UrgencyLevel,
		&o.CriticalityLevel,
		&maxAmount,
		&o.RequiresPostApproval,
		&o.IsActive,
		&o.CreatedAt,
		&o.ExpiresAt,
		&o.DeactivatedAt,
		&o.DeactivationReason,
		&o.ApprovedBy,
		&o.ApprovedAt,
		&o.PostApprovalReason,
	)
	if err != nil {
		return nil, err
	}

	if maxAmount != nil {
		d, err := decimal.NewFromString(*maxAmount)
		if err != nil {
			return nil, err
		}
		o.MaxAmount = &d
	}
	return o, nil
}
