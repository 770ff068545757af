package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-proc-approvals/internal/common/database"
	"github.com/pesio-ai/be-proc-approvals/internal/common/errors"
)

// ApprovalAuditRepository appends and reads the immutable audit trail:
// requisition transitions, security events and compliance events.
type ApprovalAuditRepository struct {
	db database.Querier
}

// NewApprovalAuditRepository creates a new ApprovalAuditRepository.
func NewApprovalAuditRepository(db database.Querier) *ApprovalAuditRepository {
	return &ApprovalAuditRepository{db: db}
}

// AppendTransition inserts one transition entry. The table has a
// delete-prevention trigger so appends are the only mutation exposed.
func (r *ApprovalAuditRepository) AppendTransition(ctx context.Context, entry *TransitionEntry) error {
	metadataJSON, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO requisition_audit_log
		    (requisition_id, from_state, to_state,
		     actor_id, source, reason, occurred_at, metadata)
		VALUES ($1, $2, $3,
		        $4, $5, $6, $7, $8)
		RETURNING id
	`

	return r.db.QueryRow(ctx, query,
		entry.RequisitionID,
		entry.FromState,
		entry.ToState,
		entry.ActorID,
		entry.Source,
		entry.Reason,
		entry.Timestamp,
		metadataJSON,
	).Scan(&entry.ID)
}

// ListTransitions returns a requisition's audit trail ordered oldest-first.
func (r *ApprovalAuditRepository) ListTransitions(ctx context.Context, requisitionID string) ([]*TransitionEntry, error) {
	query := `
		SELECT id, requisition_id, from_state, to_state,
		       actor_id, source, reason, occurred_at, metadata
		FROM requisition_audit_log
		WHERE requisition_id = $1
		ORDER BY seq ASC
	`

	rows, err := r.db.Query(ctx, query, requisitionID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	var entries []*TransitionEntry
	for rows.Next() {
		entry, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// AppendSecurityEvent inserts one security event.
func (r *ApprovalAuditRepository) AppendSecurityEvent(ctx context.Context, ev *SecurityEvent) error {
	detailsJSON, err := marshalMetadata(ev.Details)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO security_events
		    (event_type, severity, user_id, vessel_id, override_id, details, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	return r.db.QueryRow(ctx, query,
		ev.EventType,
		ev.Severity,
		ev.UserID,
		ev.VesselID,
		ev.OverrideID,
		detailsJSON,
		ev.OccurredAt,
	).Scan(&ev.ID)
}

// AppendComplianceEvent inserts one compliance tracking record.
func (r *ApprovalAuditRepository) AppendComplianceEvent(ctx context.Context, ev *ComplianceEvent) error {
	detailsJSON, err := marshalMetadata(ev.Details)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO compliance_events
		    (override_id, vessel_id, regulation, status, details, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	return r.db.QueryRow(ctx, query,
		ev.OverrideID,
		ev.VesselID,
		ev.Regulation,
		ev.Status,
		detailsJSON,
		ev.RecordedAt,
	).Scan(&ev.ID)
}

// ── helpers ───────────────────────────────────────────────────────────────────

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
	}
	return b, nil
}

func scanTransition(row pgx.Row) (*TransitionEntry, error) {
	entry := &TransitionEntry{}
	var metadataJSON []byte

	err := row.Scan(
		&entry.ID,
		&entry.RequisitionID,
		&entry.FromState,
		&entry.ToState,
		&entry.ActorID,
		&entry.Source,
		&entry.Reason,
		&entry.Timestamp,
		&metadataJSON,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
		}
	}
	return entry, nil
}
