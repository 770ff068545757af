package policy

import "github.com/shopspring/decimal"

func amount(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

// DefaultDefinition is the built-in policy used when no policy file or
// database rows are configured. Amounts are USD.
func DefaultDefinition() Definition {
	return Definition{
		Thresholds: []Threshold{
			{
				ID:              "T1",
				MinAmount:       decimal.Zero,
				MaxAmount:       amount(500),
				Currency:        "USD",
				ApproverLevel:   0,
				BudgetHierarchy: BudgetVessel,
			},
			{
				ID:              "T2",
				MinAmount:       decimal.NewFromInt(500),
				MaxAmount:       amount(5000),
				Currency:        "USD",
				RequiredRole:    RoleCaptain,
				ApproverLevel:   1,
				BudgetHierarchy: BudgetVessel,
			},
			{
				ID:                 "T3",
				MinAmount:          decimal.NewFromInt(5000),
				MaxAmount:          amount(25000),
				Currency:           "USD",
				RequiredRole:       RoleSuperintendent,
				ApproverLevel:      2,
				BudgetHierarchy:    BudgetFleet,
				CostCenterRequired: true,
			},
			{
				ID:                 "T4",
				MinAmount:          decimal.NewFromInt(25000),
				Currency:           "USD",
				RequiredRole:       RoleFinanceTeam,
				ApproverLevel:      3,
				BudgetHierarchy:    BudgetCompany,
				CostCenterRequired: true,
			},
		},
		Bypasses: []EmergencyBypass{
			{
				UrgencyLevel:         UrgencyEmergency,
				CriticalityLevel:     CriticalitySafety,
				AllowedRoles:         []Role{RoleCaptain, RoleChiefEngineer},
				RequiresPostApproval: true,
				ExpirationHours:      24,
			},
			{
				UrgencyLevel:         UrgencyEmergency,
				CriticalityLevel:     CriticalityOperational,
				AllowedRoles:         []Role{RoleCaptain, RoleChiefEngineer},
				RequiresPostApproval: true,
				MaxAmount:            amount(10000),
				ExpirationHours:      12,
			},
			{
				UrgencyLevel:         UrgencyUrgent,
				CriticalityLevel:     CriticalitySafety,
				AllowedRoles:         []Role{RoleCaptain},
				RequiresPostApproval: true,
				MaxAmount:            amount(5000),
				ExpirationHours:      8,
			},
		},
	}
}

// DefaultSnapshot builds the default policy. It panics only if the built-in
// definition is inconsistent.
func DefaultSnapshot() *Snapshot {
	snap, err := NewSnapshot(DefaultDefinition())
	if err != nil {
		panic("policy: invalid default definition: " + err.Error())
	}
	return snap
}
