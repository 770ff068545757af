// Package policy holds the approval policy (threshold table, workflow rules
// and emergency bypass table) and the pure in-memory rule evaluator that
// decides how a requisition is routed.
package policy

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Role is a crew or shore-side role name.
type Role string

const (
	RoleCrew               Role = "CREW"
	RoleChiefEngineer      Role = "CHIEF_ENGINEER"
	RoleCaptain            Role = "CAPTAIN"
	RoleSuperintendent     Role = "SUPERINTENDENT"
	RoleProcurementManager Role = "PROCUREMENT_MANAGER"
	RoleFinanceTeam        Role = "FINANCE_TEAM"
	RoleAdmin              Role = "ADMIN"
)

var roleLevels = map[Role]int{
	RoleCrew:               0,
	RoleChiefEngineer:      1,
	RoleCaptain:            1,
	RoleSuperintendent:     2,
	RoleProcurementManager: 2,
	RoleFinanceTeam:        3,
	RoleAdmin:              4,
}

// MaxApproverLevel is the highest approver level any role carries.
const MaxApproverLevel = 4

// Level returns the approver level of a role; unknown roles have none.
func (r Role) Level() int {
	return roleLevels[r]
}

// Known reports whether r is a recognised role.
func (r Role) Known() bool {
	_, ok := roleLevels[r]
	return ok
}

// ParseRole normalises a role claim.
func ParseRole(s string) Role {
	return Role(strings.ToUpper(strings.TrimSpace(s)))
}

// BudgetHierarchy is the scope of budget ownership.
type BudgetHierarchy string

const (
	BudgetVessel  BudgetHierarchy = "VESSEL"
	BudgetFleet   BudgetHierarchy = "FLEET"
	BudgetCompany BudgetHierarchy = "COMPANY"
)

// Valid reports whether h is one of the known hierarchies.
func (h BudgetHierarchy) Valid() bool {
	switch h {
	case BudgetVessel, BudgetFleet, BudgetCompany:
		return true
	}
	return false
}

// Urgency and criticality levels used by requisitions and the bypass table.
const (
	UrgencyRoutine   = "ROUTINE"
	UrgencyUrgent    = "URGENT"
	UrgencyEmergency = "EMERGENCY"

	CriticalityRoutine     = "ROUTINE"
	CriticalityOperational = "OPERATIONAL_CRITICAL"
	CriticalitySafety      = "SAFETY_CRITICAL"
)

// Requisition is the read-only snapshot of a purchase requisition the
// evaluator routes. Amount must already be in the policy's reference currency.
type Requisition struct {
	ID               string
	Amount           decimal.Decimal
	Currency         string
	UrgencyLevel     string
	CriticalityLevel string
	VesselID         string
	RequesterID      string
	Department       string
	Category         string
	Tags             []string
}

type fieldKind int

func fieldKey(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", ""))
}

// enumField reports whether a field holds an upper-case code (currency,
// urgency, criticality). Rule values for these fields are compared upper-cased.
func enumField(name string) bool {
	switch fieldKey(name) {
	case "currency", "urgencylevel", "urgency", "criticalitylevel", "criticality":
		return true
	}
	return false
}

const (
	kindNumber fieldKind = iota
	kindString
	kindList
)

// field resolves a rule field name. Names are matched case-insensitively and
// ignoring underscores, so "urgencyLevel" and "urgency_level" are the same.
// Empty string values count as absent.
func (r Requisition) field(name string) (any, fieldKind, bool) {
	key := fieldKey(name)
	str := func(v string) (any, fieldKind, bool) {
		return v, kindString, v != ""
	}
	switch key {
	case "amount":
		return r.Amount, kindNumber, true
	case "currency":
		return str(strings.ToUpper(r.Currency))
	case "urgencylevel", "urgency":
		return str(strings.ToUpper(r.UrgencyLevel))
	case "criticalitylevel", "criticality":
		return str(strings.ToUpper(r.CriticalityLevel))
	case "vesselid":
		return str(r.VesselID)
	case "requesterid":
		return str(r.RequesterID)
	case "department":
		return str(r.Department)
	case "category":
		return str(r.Category)
	case "tags":
		return r.Tags, kindList, len(r.Tags) > 0
	}
	return nil, 0, false
}
