package repository

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-proc-approvals/internal/common/database"
	"github.com/pesio-ai/be-proc-approvals/internal/common/errors"
	"github.com/pesio-ai/be-proc-approvals/internal/policy"
)

// ApprovalRulesRepository reads the policy tables: workflow rules (conditions
// and actions as JSONB), approval thresholds and emergency bypasses. It is a
// policy.Source; the service never mutates policy through it.
type ApprovalRulesRepository struct {
	db database.Querier
}

// NewApprovalRulesRepository creates a new ApprovalRulesRepository.
func NewApprovalRulesRepository(db database.Querier) *ApprovalRulesRepository {
	return &ApprovalRulesRepository{db: db}
}

// transactor is implemented by *database.DB.
type transactor interface {
	InTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// LoadPolicy implements policy.Source. On a pool the three tables are read
// in one transaction so a concurrent policy edit is seen whole or not at all.
func (r *ApprovalRulesRepository) LoadPolicy(ctx context.Context) (*policy.Definition, error) {
	tx, ok := r.db.(transactor)
	if !ok {
		return load(ctx, r)
	}
	var def *policy.Definition
	err := tx.InTransaction(ctx, func(t pgx.Tx) error {
		var err error
		def, err = load(ctx, &ApprovalRulesRepository{db: t})
		return err
	})
	if err != nil {
		return nil, err
	}
	return def, nil
}

func load(ctx context.Context, r *ApprovalRulesRepository) (*policy.Definition, error) {
	thresholds, err := r.ListThresholds(ctx)
	if err != nil {
		return nil, err
	}
	rules, err := r.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	bypasses, err := r.ListBypasses(ctx)
	if err != nil {
		return nil, err
	}
	return &policy.Definition{Thresholds: thresholds, Rules: rules, Bypasses: bypasses}, nil
}

// ListRules returns every workflow rule, active or not. Ordering is left to
// the snapshot so ties keep table order here.
func (r *ApprovalRulesRepository) ListRules(ctx context.Context) ([]policy.WorkflowRule, error) {
	query := `
		SELECT id, name, priority, is_active, conditions, actions
		FROM workflow_rules
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list workflow rules")
	}
	defer rows.Close()

	var rules []policy.WorkflowRule
	for rows.Next() {
		var (
			rule           policy.WorkflowRule
			conditionsJSON []byte
			actionsJSON    []byte
		)
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.Priority, &rule.IsActive, &conditionsJSON, &actionsJSON); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow rule")
		}
		if err := decodeJSON(conditionsJSON, &rule.Conditions); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeValidation, "rule '"+rule.ID+"' has malformed conditions")
		}
		if err := decodeJSON(actionsJSON, &rule.Actions); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeValidation, "rule '"+rule.ID+"' has malformed actions")
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// ListThresholds returns the approval threshold rows ordered by lower bound.
func (r *ApprovalRulesRepository) ListThresholds(ctx context.Context) ([]policy.Threshold, error) {
	query := `
		SELECT id, min_amount::text, max_amount::text, currency,
		       COALESCE(required_role, ''), approver_level,
		       budget_hierarchy, cost_center_required
		FROM approval_thresholds
		ORDER BY min_amount ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval thresholds")
	}
	defer rows.Close()

	var out []policy.Threshold
	for rows.Next() {
		var (
			t        policy.Threshold
			minText  string
			maxText  *string
			role     string
			hierarch string
		)
		if err := rows.Scan(&t.ID, &minText, &maxText, &t.Currency, &role, &t.ApproverLevel, &hierarch, &t.CostCenterRequired); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval threshold")
		}
		if t.MinAmount, err = decimal.NewFromString(minText); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeValidation, "threshold '"+t.ID+"' has a malformed min amount")
		}
		if t.MaxAmount, err = parseOptionalDecimal(maxText); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeValidation, "threshold '"+t.ID+"' has a malformed max amount")
		}
		t.RequiredRole = policy.ParseRole(role)
		t.BudgetHierarchy = policy.BudgetHierarchy(hierarch)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListBypasses returns the emergency bypass configuration.
func (r *ApprovalRulesRepository) ListBypasses(ctx context.Context) ([]policy.EmergencyBypass, error) {
	query := `
		SELECT urgency_level, criticality_level, allowed_roles,
		       requires_post_approval, max_amount::text, expiration_hours
		FROM emergency_bypasses
		ORDER BY urgency_level, criticality_level
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list emergency bypasses")
	}
	defer rows.Close()

	var out []policy.EmergencyBypass
	for rows.Next() {
		var (
			b       policy.EmergencyBypass
			roles   []string
			maxText *string
		)
		if err := rows.Scan(&b.UrgencyLevel, &b.CriticalityLevel, &roles, &b.RequiresPostApproval, &maxText, &b.ExpirationHours); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan emergency bypass")
		}
		for _, role := range roles {
			b.AllowedRoles = append(b.AllowedRoles, policy.ParseRole(role))
		}
		if b.MaxAmount, err = parseOptionalDecimal(maxText); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeValidation, "emergency bypass has a malformed max amount")
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// decodeJSON keeps numeric literals as json.Number so rule values compare
// as exact decimals.
func decodeJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func parseOptionalDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
