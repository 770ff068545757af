package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-proc-approvals/internal/common/database"
	"github.com/pesio-ai/be-proc-approvals/internal/common/errors"
)

// RequisitionRepository persists requisitions and their routing state.
// State changes are conditional on the caller's view of state and version so
// two approvers can never both transition the same row.
type RequisitionRepository struct {
	db database.Querier
}

// NewRequisitionRepository creates a new RequisitionRepository.
func NewRequisitionRepository(db database.Querier) *RequisitionRepository {
	return &RequisitionRepository{db: db}
}

const requisitionColumns = `
	id, vessel_id, requester_id, department, category, tags,
	amount::text, currency, urgency_level, criticality_level,
	state, version,
	routed_by, policy_version, required_role, required_level,
	budget_hierarchy, cost_center_required, cost_center,
	escalate_at, override_id,
	decided_by, decided_at, notes,
	created_at, updated_at
`

// Create inserts a DRAFT requisition.
func (r *RequisitionRepository) Create(ctx context.Context, req *Requisition) error {
	query := `
		INSERT INTO requisitions
		    (vessel_id, requester_id, department, category, tags,
		     amount, currency, urgency_level, criticality_level,
		     state, version)
		VALUES ($1, $2, $3, $4, $5,
		        $6::numeric, $7, $8, $9,
		        $10, 1)
		RETURNING id, version, created_at, updated_at
	`

	req.State = StateDraft
	err := r.db.QueryRow(ctx, query,
		req.VesselID,
		req.RequesterID,
		req.Department,
		req.Category,
		req.Tags,
		req.Amount.String(),
		req.Currency,
		req.UrgencyLevel,
		req.CriticalityLevel,
		req.State,
	).Scan(&req.ID, &req.Version, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create requisition")
	}
	return nil
}

// GetByID retrieves a requisition by primary key.
func (r *RequisitionRepository) GetByID(ctx context.Context, id string) (*Requisition, error) {
	query := `SELECT ` + requisitionColumns + ` FROM requisitions WHERE id = $1`

	req, err := scanRequisition(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("requisition", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get requisition")
	}
	return req, nil
}

// UpdateState writes req's state and routing fields if the stored row is still
// in state from at version. On success req.Version is bumped. A row that has
// moved on yields ConflictingTransition.
func (r *RequisitionRepository) UpdateState(ctx context.Context, req *Requisition, from State, version int64) error {
	query := `
		UPDATE requisitions
		SET state                = $4,
		    version              = version + 1,
		    routed_by            = $5,
		    policy_version       = $6,
		    required_role        = $7,
		    required_level       = $8,
		    budget_hierarchy     = $9,
		    cost_center_required = $10,
		    cost_center          = $11,
		    escalate_at          = $12,
		    override_id          = $13,
		    decided_by           = $14,
		    decided_at           = $15,
		    notes                = $16,
		    updated_at           = NOW()
		WHERE id = $1 AND state = $2 AND version = $3
		RETURNING version, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		req.ID,
		from,
		version,
		req.State,
		req.RoutedBy,
		req.PolicyVersion,
		req.RequiredRole,
		req.RequiredLevel,
		req.BudgetHierarchy,
		req.CostCenterRequired,
		req.CostCenter,
		req.EscalateAt,
		req.OverrideID,
		req.DecidedBy,
		req.DecidedAt,
		req.Notes,
	).Scan(&req.Version, &req.UpdatedAt)
	if err == pgx.ErrNoRows {
		return errors.Newf(errors.ErrCodeConflictingTransition,
			"requisition '%s' is no longer %s at version %d", req.ID, from, version)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update requisition state")
	}
	return nil
}

// ListByOverride returns requisitions bypassed under an override and still in state.
func (r *RequisitionRepository) ListByOverride(ctx context.Context, overrideID string, state State) ([]*Requisition, error) {
	query := `SELECT ` + requisitionColumns + `
		FROM requisitions
		WHERE override_id = $1 AND state = $2
		ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, overrideID, state)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list requisitions by override")
	}
	defer rows.Close()

	return scanRequisitions(rows)
}

// ListDueEscalations returns ESCALATED requisitions whose delay has elapsed at now.
func (r *RequisitionRepository) ListDueEscalations(ctx context.Context, now time.Time) ([]*Requisition, error) {
	query := `SELECT ` + requisitionColumns + `
		FROM requisitions
		WHERE state = $1 AND escalate_at IS NOT NULL AND escalate_at <= $2
		ORDER BY escalate_at ASC`

	rows, err := r.db.Query(ctx, query, StateEscalated, now)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list due escalations")
	}
	defer rows.Close()

	return scanRequisitions(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequisitions(rows pgx.Rows) ([]*Requisition, error) {
	var out []*Requisition
	for rows.Next() {
		req, err := scanRequisition(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan requisition")
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read requisitions")
	}
	return out, nil
}

func scanRequisition(row rowScanner) (*Requisition, error) {
	req := &Requisition{}
	var (
		amount         string
		routedBy       *string
		policyVersion  *int64
		requiredRole   *string
		requiredLevel  *int
		hierarchy      *string
		costCenterFlag *bool
	)

	err := row.Scan(
		&req.ID,
		&req.VesselID,
		&req.RequesterID,
		&req.Department,
		&req.Category,
		&req.Tags,
		&amount,
		&req.Currency,
		&req.UrgencyLevel,
		&req.CriticalityLevel,
		&req.State,
		&req.Version,
		&routedBy,
		&policyVersion,
		&requiredRole,
		&requiredLevel,
		&hierarchy,
		&costCenterFlag,
		&req.CostCenter,
		&req.EscalateAt,
		&req.OverrideID,
		&req.DecidedBy,
		&req.DecidedAt,
		&req.Notes,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	req.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	if routedBy != nil {
		req.RoutedBy = *routedBy
	}
	if policyVersion != nil {
		req.PolicyVersion = *policyVersion
	}
	if requiredRole != nil {
		req.RequiredRole = *requiredRole
	}
	if requiredLevel != nil {
		req.RequiredLevel = *requiredLevel
	}
	if hierarchy != nil {
		req.BudgetHierarchy = *hierarchy
	}
	if costCenterFlag != nil {
		req.CostCenterRequired = *costCenterFlag
	}
	return req, nil
}
