package policy

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-proc-approvals/internal/common/errors"
)

// Outcome is the routing result of an evaluation.
type Outcome string

const (
	OutcomeApprove         Outcome = "APPROVE"
	OutcomeBypass          Outcome = "BYPASS"
	OutcomeRequireApproval Outcome = "REQUIRE_APPROVAL"
	OutcomeEscalate        Outcome = "ESCALATE"
)

// RuleError records a rule that was skipped because it is malformed.
type RuleError struct {
	RuleID string `json:"ruleId"`
	Reason string `json:"reason"`
}

// Decision is the result of routing one requisition.
type Decision struct {
	Outcome            Outcome         `json:"outcome"`
	RuleID             string          `json:"ruleId,omitempty"`
	RuleName           string          `json:"ruleName,omitempty"`
	ThresholdID        string          `json:"thresholdId,omitempty"`
	ApproverRole       Role            `json:"approverRole,omitempty"`
	ApproverLevel      int             `json:"approverLevel"`
	BudgetHierarchy    BudgetHierarchy `json:"budgetHierarchy,omitempty"`
	CostCenterRequired bool            `json:"costCenterRequired"`
	CostCenter         string          `json:"costCenter,omitempty"`
	EscalationDelay    time.Duration   `json:"escalationDelay,omitempty"`
	Actions            []Action        `json:"actions,omitempty"`
	Notifications      []Action        `json:"notifications,omitempty"`
	Skipped            []RuleError     `json:"skipped,omitempty"`
	SnapshotVersion    int64           `json:"snapshotVersion"`
}

// Source identifies what produced the decision: the rule id when a rule
// decided the state, otherwise the threshold id.
func (d *Decision) Source() string {
	if d.RuleID != "" && d.ThresholdID == "" {
		return d.RuleID
	}
	if d.RuleID != "" {
		return d.RuleID + "+" + d.ThresholdID
	}
	return d.ThresholdID
}

// Approved reports whether the decision needs no human approver.
func (d *Decision) Approved() bool {
	return d.Outcome == OutcomeApprove || d.Outcome == OutcomeBypass
}

// Evaluate routes a requisition against the snapshot. The first active rule
// (priority descending, insertion order on ties) whose conditions hold
// supplies the actions; otherwise the threshold table decides.
func (s *Snapshot) Evaluate(req Requisition) (*Decision, error) {
	if req.Amount.IsNegative() {
		return nil, errors.InvalidInput("amount", "amount cannot be negative")
	}

	d := &Decision{SnapshotVersion: s.Version}

	for _, rule := range s.Rules {
		if !rule.IsActive {
			continue
		}
		matched, err := matchRule(rule, req)
		if err != nil {
			d.Skipped = append(d.Skipped, RuleError{RuleID: rule.ID, Reason: err.Error()})
			continue
		}
		if !matched {
			continue
		}
		d.RuleID = rule.ID
		d.RuleName = rule.Name
		d.Actions = slices.Clone(rule.Actions)
		if err := s.applyActions(d, rule.Actions, req); err != nil {
			return nil, err
		}
		return d, nil
	}

	if err := s.applyThreshold(d, req); err != nil {
		return nil, err
	}
	return d, nil
}

// applyActions picks the most restrictive state-changing action of the
// winning rule. NOTIFY actions are collected but never decide the state;
// when nothing else is left the threshold table does.
func (s *Snapshot) applyActions(d *Decision, actions []Action, req Requisition) error {
	var chosen *Action
	for i := range actions {
		a := actions[i]
		if a.Type == ActionNotify {
			d.Notifications = append(d.Notifications, a)
			continue
		}
		if (a.Type == ActionApprove || a.Type == ActionBypass) &&
			a.BudgetLimit != nil && req.Amount.GreaterThan(*a.BudgetLimit) {
			continue
		}
		if chosen == nil || a.Type.restrictiveness() > chosen.Type.restrictiveness() {
			chosen = &actions[i]
		}
	}

	if chosen == nil {
		return s.applyThreshold(d, req)
	}

	d.CostCenter = chosen.CostCenter
	switch chosen.Type {
	case ActionApprove:
		d.Outcome = OutcomeApprove
	case ActionBypass:
		d.Outcome = OutcomeBypass
	case ActionRequireApproval:
		d.Outcome = OutcomeRequireApproval
		return s.resolveApprover(d, *chosen, req, 0)
	case ActionEscalate:
		d.Outcome = OutcomeEscalate
		if chosen.EscalationDelayHours != nil {
			d.EscalationDelay = time.Duration(*chosen.EscalationDelayHours) * time.Hour
		}
		return s.resolveApprover(d, *chosen, req, 1)
	}
	return nil
}

// resolveApprover fills approver role and level from the action, falling
// back to the threshold row for the amount. bump raises the threshold level
// when the action does not name one (escalations go one level higher). An
// action naming its approver routes amounts the table cannot place; budget
// metadata then comes from the row for the named level.
func (s *Snapshot) resolveApprover(d *Decision, a Action, req Requisition, bump int) error {
	named := a.ApproverLevel != nil || a.ApproverRole != ""
	row, err := s.Thresholds.Lookup(req.Amount, req.Currency)
	placed := err == nil
	if !placed && !named {
		return err
	}

	level := row.ApproverLevel + bump
	if a.ApproverLevel != nil {
		level = *a.ApproverLevel
	} else if a.ApproverRole != "" {
		level = a.ApproverRole.Level()
	}
	if level < 1 {
		level = 1
	}
	if level > MaxApproverLevel {
		level = MaxApproverLevel
	}
	d.ApproverLevel = level

	if !placed {
		row, _ = s.Thresholds.ForLevel(level)
	}
	d.BudgetHierarchy = row.BudgetHierarchy
	d.CostCenterRequired = row.CostCenterRequired

	switch {
	case a.ApproverRole != "":
		d.ApproverRole = a.ApproverRole
	case level == row.ApproverLevel && row.RequiredRole != "":
		d.ApproverRole = row.RequiredRole
	default:
		d.ApproverRole = s.RoleForLevel(level)
	}
	return nil
}

func (s *Snapshot) applyThreshold(d *Decision, req Requisition) error {
	row, err := s.Thresholds.Lookup(req.Amount, req.Currency)
	if err != nil {
		return err
	}
	d.ThresholdID = row.ID
	d.BudgetHierarchy = row.BudgetHierarchy
	d.CostCenterRequired = row.CostCenterRequired
	if row.AutoApprove() {
		d.Outcome = OutcomeApprove
		return nil
	}
	d.Outcome = OutcomeRequireApproval
	d.ApproverRole = row.RequiredRole
	d.ApproverLevel = row.ApproverLevel
	return nil
}

// RoleForLevel names the approver role for a level: the threshold row's role
// when one exists, ADMIN beyond the table.
func (s *Snapshot) RoleForLevel(level int) Role {
	if row, ok := s.Thresholds.ForLevel(level); ok && row.RequiredRole != "" {
		return row.RequiredRole
	}
	return RoleAdmin
}

// matchRule folds the rule's conditions left to right. Any malformed
// condition makes the whole rule fail closed.
func matchRule(rule WorkflowRule, req Requisition) (bool, error) {
	if len(rule.Conditions) == 0 {
		return false, fmt.Errorf("rule has no conditions")
	}
	var result bool
	for i, c := range rule.Conditions {
		ok, err := evalCondition(c, req)
		if err != nil {
			return false, fmt.Errorf("condition %d (%s): %w", i, c.Field, err)
		}
		if i == 0 {
			result = ok
			continue
		}
		switch c.LogicalOperator {
		case "", LogicalAnd:
			result = result && ok
		case LogicalOr:
			result = result || ok
		default:
			return false, fmt.Errorf("condition %d: unknown logical operator %q", i, c.LogicalOperator)
		}
	}
	return result, nil
}

func evalCondition(c Condition, req Requisition) (bool, error) {
	if c.Operator == "" {
		return false, fmt.Errorf("missing operator")
	}
	if !c.Operator.Valid() {
		return false, fmt.Errorf("unknown operator %q", c.Operator)
	}
	val, kind, ok := req.field(c.Field)
	if !ok {
		return false, nil
	}
	switch kind {
	case kindNumber:
		return compareNumber(val.(decimal.Decimal), c.Operator, c.Value)
	case kindString:
		return compareString(val.(string), c.Operator, c.Value)
	case kindList:
		return compareList(val.([]string), c.Operator, c.Value)
	}
	return false, nil
}

func compareNumber(field decimal.Decimal, op Operator, value any) (bool, error) {
	if op == OpIn {
		items, err := toList(value)
		if err != nil {
			return false, err
		}
		for _, item := range items {
			d, err := toDecimal(item)
			if err != nil {
				return false, err
			}
			if field.Equal(d) {
				return true, nil
			}
		}
		return false, nil
	}
	if op == OpContains {
		return false, fmt.Errorf("operator contains does not apply to numeric fields")
	}
	want, err := toDecimal(value)
	if err != nil {
		return false, err
	}
	return ordered(field.Cmp(want), op), nil
}

func compareString(field string, op Operator, value any) (bool, error) {
	if op == OpIn {
		items, err := toList(value)
		if err != nil {
			return false, err
		}
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return false, fmt.Errorf("in list holds non-string %v", item)
			}
			if field == s {
				return true, nil
			}
		}
		return false, nil
	}
	want, ok := value.(string)
	if !ok {
		return false, fmt.Errorf("value %v is not a string", value)
	}
	if op == OpContains {
		return strings.Contains(field, want), nil
	}
	return ordered(strings.Compare(field, want), op), nil
}

func compareList(field []string, op Operator, value any) (bool, error) {
	switch op {
	case OpContains:
		want, ok := value.(string)
		if !ok {
			return false, fmt.Errorf("value %v is not a string", value)
		}
		return slices.Contains(field, want), nil
	case OpIn:
		items, err := toList(value)
		if err != nil {
			return false, err
		}
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return false, fmt.Errorf("in list holds non-string %v", item)
			}
			if slices.Contains(field, s) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("operator %s does not apply to list fields", op)
}

func ordered(cmp int, op Operator) bool {
	switch op {
	case OpEq:
		return cmp == 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	}
	return false
}

func toList(value any) ([]any, error) {
	switch v := value.(type) {
	case []any:
		return v, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("value %v is not a list", value)
}

func toDecimal(value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case json.Number:
		return decimal.NewFromString(v.String())
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("value %q is not numeric", v)
		}
		return d, nil
	}
	return decimal.Decimal{}, fmt.Errorf("value %v is not numeric", value)
}
