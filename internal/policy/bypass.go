package policy

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EmergencyBypass describes who may self-authorise under a given
// urgency/criticality combination and for how long.
type EmergencyBypass struct {
	UrgencyLevel         string           `json:"urgencyLevel" yaml:"urgencyLevel"`
	CriticalityLevel     string           `json:"criticalityLevel" yaml:"criticalityLevel"`
	AllowedRoles         []Role           `json:"allowedRoles" yaml:"allowedRoles"`
	RequiresPostApproval bool             `json:"requiresPostApproval" yaml:"requiresPostApproval"`
	MaxAmount            *decimal.Decimal `json:"maxAmount,omitempty" yaml:"maxAmount,omitempty"`
	ExpirationHours      int              `json:"expirationHours" yaml:"expirationHours"`
}

// Allows reports whether role may use this bypass.
func (b EmergencyBypass) Allows(role Role) bool {
	return slices.Contains(b.AllowedRoles, role)
}

// Expiration is the lifetime of an override granted under this bypass.
func (b EmergencyBypass) Expiration() time.Duration {
	return time.Duration(b.ExpirationHours) * time.Hour
}

type bypassKey struct {
	urgency     string
	criticality string
}

// BypassTable indexes bypass configurations by (urgency, criticality).
type BypassTable struct {
	entries map[bypassKey]EmergencyBypass
	order   []EmergencyBypass
}

// NewBypassTable validates and indexes bypass entries.
func NewBypassTable(entries []EmergencyBypass) (BypassTable, error) {
	t := BypassTable{entries: make(map[bypassKey]EmergencyBypass, len(entries))}
	for _, e := range entries {
		e.UrgencyLevel = strings.ToUpper(e.UrgencyLevel)
		e.CriticalityLevel = strings.ToUpper(e.CriticalityLevel)
		k := bypassKey{e.UrgencyLevel, e.CriticalityLevel}
		if _, dup := t.entries[k]; dup {
			return BypassTable{}, fmt.Errorf("duplicate emergency bypass for %s/%s", k.urgency, k.criticality)
		}
		if e.ExpirationHours <= 0 {
			return BypassTable{}, fmt.Errorf("emergency bypass %s/%s must expire after a positive number of hours", k.urgency, k.criticality)
		}
		if len(e.AllowedRoles) == 0 {
			return BypassTable{}, fmt.Errorf("emergency bypass %s/%s allows no roles", k.urgency, k.criticality)
		}
		t.entries[k] = e
		t.order = append(t.order, e)
	}
	return t, nil
}

// Lookup finds the bypass for an urgency/criticality pair.
func (t BypassTable) Lookup(urgency, criticality string) (EmergencyBypass, bool) {
	e, ok := t.entries[bypassKey{strings.ToUpper(urgency), strings.ToUpper(criticality)}]
	return e, ok
}

// Entries returns the configured bypasses in load order.
func (t BypassTable) Entries() []EmergencyBypass {
	return slices.Clone(t.order)
}
