package policy

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-proc-approvals/internal/common/errors"
)

// Threshold maps an amount range to the approval it requires. A nil
// MaxAmount means the range is unbounded above.
type Threshold struct {
	ID                 string           `json:"id" yaml:"id"`
	MinAmount          decimal.Decimal  `json:"minAmount" yaml:"minAmount"`
	MaxAmount          *decimal.Decimal `json:"maxAmount,omitempty" yaml:"maxAmount,omitempty"`
	Currency           string           `json:"currency" yaml:"currency"`
	RequiredRole       Role             `json:"requiredRole,omitempty" yaml:"requiredRole,omitempty"`
	ApproverLevel      int              `json:"approverLevel" yaml:"approverLevel"`
	BudgetHierarchy    BudgetHierarchy  `json:"budgetHierarchy" yaml:"budgetHierarchy"`
	CostCenterRequired bool             `json:"costCenterRequired" yaml:"costCenterRequired"`
}

// AutoApprove reports whether the row needs no human approver.
func (t Threshold) AutoApprove() bool {
	return t.ApproverLevel == 0
}

// Contains reports whether amount falls in [MinAmount, MaxAmount).
func (t Threshold) Contains(amount decimal.Decimal) bool {
	if amount.LessThan(t.MinAmount) {
		return false
	}
	return t.MaxAmount == nil || amount.LessThan(*t.MaxAmount)
}

// ThresholdTable is an ordered, contiguous set of thresholds in a single
// reference currency.
type ThresholdTable []Threshold

// NewThresholdTable sorts rows by MinAmount and validates them.
func NewThresholdTable(rows []Threshold) (ThresholdTable, error) {
	table := make(ThresholdTable, len(rows))
	copy(table, rows)
	for i := range table {
		table[i].Currency = strings.ToUpper(table[i].Currency)
	}
	sort.SliceStable(table, func(i, j int) bool {
		return table[i].MinAmount.LessThan(table[j].MinAmount)
	})
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

// Currency is the table's reference currency.
func (t ThresholdTable) Currency() string {
	if len(t) == 0 {
		return ""
	}
	return t[0].Currency
}

// Validate checks ordering, contiguity and per-row consistency.
func (t ThresholdTable) Validate() error {
	if len(t) == 0 {
		return errors.New(errors.ErrCodeValidation, "threshold table is empty")
	}
	ids := make(map[string]struct{}, len(t))
	for i, row := range t {
		if row.ID == "" {
			return errors.Newf(errors.ErrCodeValidation, "threshold %d has no id", i)
		}
		if _, dup := ids[row.ID]; dup {
			return errors.Newf(errors.ErrCodeValidation, "duplicate threshold id '%s'", row.ID)
		}
		ids[row.ID] = struct{}{}

		if row.Currency != t[0].Currency {
			return errors.Newf(errors.ErrCodeValidation,
				"threshold '%s' currency %s differs from reference currency %s", row.ID, row.Currency, t[0].Currency)
		}
		if !row.BudgetHierarchy.Valid() {
			return errors.Newf(errors.ErrCodeValidation,
				"threshold '%s' has invalid budget hierarchy '%s'", row.ID, row.BudgetHierarchy)
		}
		if row.ApproverLevel < 0 || row.ApproverLevel > MaxApproverLevel {
			return errors.Newf(errors.ErrCodeValidation, "threshold '%s' approver level %d out of range", row.ID, row.ApproverLevel)
		}
		if row.ApproverLevel > 0 && !row.RequiredRole.Known() {
			return errors.Newf(errors.ErrCodeValidation, "threshold '%s' requires unknown role '%s'", row.ID, row.RequiredRole)
		}
		if row.MaxAmount != nil && !row.MaxAmount.GreaterThan(row.MinAmount) {
			return errors.Newf(errors.ErrCodeValidation, "threshold '%s' has an empty or inverted range", row.ID)
		}
		if i == 0 {
			continue
		}
		prev := t[i-1]
		if prev.MaxAmount == nil {
			return errors.Newf(errors.ErrCodeValidation, "threshold '%s' is unbounded but not last", prev.ID)
		}
		if !prev.MaxAmount.Equal(row.MinAmount) {
			return errors.Newf(errors.ErrCodeValidation,
				"thresholds '%s' and '%s' are not contiguous (%s vs %s)",
				prev.ID, row.ID, prev.MaxAmount.String(), row.MinAmount.String())
		}
	}
	return nil
}

// Lookup finds the row containing amount. The amount must be expressed in
// the table's reference currency.
func (t ThresholdTable) Lookup(amount decimal.Decimal, currency string) (Threshold, error) {
	if len(t) == 0 {
		return Threshold{}, errors.New(errors.ErrCodeValidation, "threshold table is empty")
	}
	if !strings.EqualFold(currency, t.Currency()) {
		return Threshold{}, errors.Newf(errors.ErrCodeValidation,
			"amount currency %s does not match reference currency %s", currency, t.Currency())
	}
	for _, row := range t {
		if row.Contains(amount) {
			return row, nil
		}
	}
	return Threshold{}, errors.Newf(errors.ErrCodeValidation, "no threshold covers amount %s %s", amount.String(), currency)
}

// ForLevel returns the lowest row requiring the given approver level.
func (t ThresholdTable) ForLevel(level int) (Threshold, bool) {
	for _, row := range t {
		if row.ApproverLevel == level {
			return row, true
		}
	}
	return Threshold{}, false
}
