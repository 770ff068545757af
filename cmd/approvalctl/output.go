package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/pesio-ai/be-proc-approvals/internal/policy"
)

var (
	success = color.New(color.FgGreen, color.Bold)
	warning = color.New(color.FgYellow)
	failure = color.New(color.FgRed, color.Bold)
	muted   = color.New(color.Faint)
)

func outcomeColor(o policy.Outcome) *color.Color {
	switch o {
	case policy.OutcomeApprove, policy.OutcomeBypass:
		return success
	case policy.OutcomeEscalate:
		return failure
	default:
		return warning
	}
}

func printDecision(w io.Writer, d *policy.Decision) {
	fmt.Fprintf(w, "%s %s\n", outcomeColor(d.Outcome).Sprint(d.Outcome), muted.Sprintf("(source %s, policy v%d)", d.Source(), d.SnapshotVersion))
	if d.ApproverLevel > 0 {
		fmt.Fprintf(w, "  approver:    %s (level %d, %s budget)\n", d.ApproverRole, d.ApproverLevel, d.BudgetHierarchy)
	}
	if d.CostCenterRequired {
		fmt.Fprintf(w, "  cost center: %s\n", warning.Sprint("required"))
	}
	if d.CostCenter != "" {
		fmt.Fprintf(w, "  cost center: %s\n", d.CostCenter)
	}
	if d.EscalationDelay > 0 {
		fmt.Fprintf(w, "  escalates:   after %s\n", d.EscalationDelay)
	}
	if len(d.Notifications) > 0 {
		fmt.Fprintf(w, "  notify:      %d recipient group(s)\n", len(d.Notifications))
	}
	for _, s := range d.Skipped {
		fmt.Fprintf(w, "  %s rule %s: %s\n", warning.Sprint("skipped"), s.RuleID, s.Reason)
	}
}

func printSnapshot(w io.Writer, snap *policy.Snapshot) {
	fmt.Fprintf(w, "%s %d thresholds, %d rules, %d bypasses\n",
		success.Sprint("OK"), len(snap.Thresholds), len(snap.Rules), len(snap.Bypasses.Entries()))

	for _, t := range snap.Thresholds {
		upper := "∞"
		if t.MaxAmount != nil {
			upper = t.MaxAmount.String()
		}
		approver := string(t.RequiredRole)
		if t.AutoApprove() {
			approver = success.Sprint("auto-approve")
		}
		fmt.Fprintf(w, "  threshold %-4s %s [%s, %s)  %s  %s\n",
			t.ID, t.Currency, t.MinAmount.String(), upper, approver, muted.Sprint(t.BudgetHierarchy))
	}
	for _, r := range snap.Rules {
		state := success.Sprint("active  ")
		if !r.IsActive {
			state = muted.Sprint("inactive")
		}
		types := make([]string, 0, len(r.Actions))
		for _, a := range r.Actions {
			types = append(types, string(a.Type))
		}
		fmt.Fprintf(w, "  rule %-16s %s priority %3d  %s\n", r.ID, state, r.Priority, strings.Join(types, ","))
	}
	for _, b := range snap.Bypasses.Entries() {
		fmt.Fprintf(w, "  bypass %s/%s  %dh  roles %v\n", b.UrgencyLevel, b.CriticalityLevel, b.ExpirationHours, b.AllowedRoles)
	}
}
