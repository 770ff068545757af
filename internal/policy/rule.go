package policy

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Operator compares a requisition field with a condition value.
type Operator string

const (
	OpEq       Operator = "eq"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpIn       Operator = "in"
	OpContains Operator = "contains"
)

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEq, OpGt, OpGte, OpLt, OpLte, OpIn, OpContains:
		return true
	}
	return false
}

// UnmarshalText rejects unknown operators. An empty operator is accepted
// here and fails closed at evaluation time.
func (op *Operator) UnmarshalText(text []byte) error {
	v := Operator(strings.ToLower(strings.TrimSpace(string(text))))
	if v != "" && !v.Valid() {
		return fmt.Errorf("unknown condition operator %q", string(text))
	}
	*op = v
	return nil
}

// LogicalOperator joins a condition to the result accumulated so far.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// UnmarshalText accepts AND, OR or empty (AND).
func (l *LogicalOperator) UnmarshalText(text []byte) error {
	v := LogicalOperator(strings.ToUpper(strings.TrimSpace(string(text))))
	switch v {
	case "", LogicalAnd, LogicalOr:
		*l = v
		return nil
	}
	return fmt.Errorf("unknown logical operator %q", string(text))
}

// ActionType is the closed set of rule actions.
type ActionType string

const (
	ActionApprove         ActionType = "APPROVE"
	ActionRequireApproval ActionType = "REQUIRE_APPROVAL"
	ActionEscalate        ActionType = "ESCALATE"
	ActionNotify          ActionType = "NOTIFY"
	ActionBypass          ActionType = "BYPASS"
)

// ParseActionType validates an action type name.
func ParseActionType(s string) (ActionType, error) {
	v := ActionType(strings.ToUpper(strings.TrimSpace(s)))
	switch v {
	case ActionApprove, ActionRequireApproval, ActionEscalate, ActionNotify, ActionBypass:
		return v, nil
	}
	return "", fmt.Errorf("unknown action type %q", s)
}

// UnmarshalText rejects unknown or empty action types.
func (a *ActionType) UnmarshalText(text []byte) error {
	v, err := ParseActionType(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// restrictiveness orders state-changing actions; NOTIFY is side-effect only.
func (a ActionType) restrictiveness() int {
	switch a {
	case ActionEscalate:
		return 4
	case ActionRequireApproval:
		return 3
	case ActionBypass:
		return 2
	case ActionApprove:
		return 1
	}
	return 0
}

// Condition is one clause of a rule.
type Condition struct {
	Field           string          `json:"field" yaml:"field"`
	Operator        Operator        `json:"operator" yaml:"operator"`
	Value           any             `json:"value" yaml:"value"`
	LogicalOperator LogicalOperator `json:"logicalOperator,omitempty" yaml:"logicalOperator,omitempty"`
}

// normalized returns a copy of r whose condition values for enum fields are
// upper-cased, so "emergency" and "EMERGENCY" match alike.
func (r WorkflowRule) normalized() WorkflowRule {
	conds := make([]Condition, len(r.Conditions))
	for i, c := range r.Conditions {
		if enumField(c.Field) {
			c.Value = upperValue(c.Value)
		}
		conds[i] = c
	}
	r.Conditions = conds
	return r
}

func upperValue(v any) any {
	switch t := v.(type) {
	case string:
		return strings.ToUpper(t)
	case []string:
		out := make([]string, len(t))
		for i, s := range t {
			out[i] = strings.ToUpper(s)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = upperValue(item)
		}
		return out
	}
	return v
}

// Action is what a matching rule asks for.
type Action struct {
	Type                 ActionType       `json:"type" yaml:"type"`
	ApproverRole         Role             `json:"approverRole,omitempty" yaml:"approverRole,omitempty"`
	ApproverLevel        *int             `json:"approverLevel,omitempty" yaml:"approverLevel,omitempty"`
	BudgetLimit          *decimal.Decimal `json:"budgetLimit,omitempty" yaml:"budgetLimit,omitempty"`
	CostCenter           string           `json:"costCenter,omitempty" yaml:"costCenter,omitempty"`
	EscalationDelayHours *int             `json:"escalationDelayHours,omitempty" yaml:"escalationDelayHours,omitempty"`
}

// WorkflowRule is a prioritised condition list with the actions it triggers.
type WorkflowRule struct {
	ID         string      `json:"id" yaml:"id"`
	Name       string      `json:"name" yaml:"name"`
	Priority   int         `json:"priority" yaml:"priority"`
	IsActive   bool        `json:"isActive" yaml:"isActive"`
	Conditions []Condition `json:"conditions" yaml:"conditions"`
	Actions    []Action    `json:"actions" yaml:"actions"`
}

// Validate checks the parts of a rule that cannot be enforced by parsing.
func (r WorkflowRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule %q has no id", r.Name)
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("rule '%s' has no actions", r.ID)
	}
	for i, a := range r.Actions {
		if _, err := ParseActionType(string(a.Type)); err != nil {
			return fmt.Errorf("rule '%s' action %d: %w", r.ID, i, err)
		}
		if a.ApproverRole != "" && !a.ApproverRole.Known() {
			return fmt.Errorf("rule '%s' action %d: unknown approver role '%s'", r.ID, i, a.ApproverRole)
		}
		if a.ApproverLevel != nil && (*a.ApproverLevel < 1 || *a.ApproverLevel > MaxApproverLevel) {
			return fmt.Errorf("rule '%s' action %d: approver level %d out of range", r.ID, i, *a.ApproverLevel)
		}
		if a.EscalationDelayHours != nil && *a.EscalationDelayHours < 0 {
			return fmt.Errorf("rule '%s' action %d: negative escalation delay", r.ID, i)
		}
	}
	return nil
}
