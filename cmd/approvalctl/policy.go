package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-proc-approvals/internal/app"
	"github.com/pesio-ai/be-proc-approvals/internal/policy"
)

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect approval policies",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [file]",
		Short: "Validate a policy file, or the configured policy when no file is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			snap, err := resolveSnapshot(cmd.Context(), path)
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	})
	return cmd
}

type evaluateFlags struct {
	policyFile  string
	amount      string
	currency    string
	urgency     string
	criticality string
	vessel      string
	department  string
	category    string
	tags        []string
	asJSON      bool
}

func evaluateCmd() *cobra.Command {
	var f evaluateFlags
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Show how a requisition would be routed",
		Example: `  approvalctl evaluate --amount 7200 --category SPARE_PARTS
  approvalctl evaluate --policy ./policy.yaml --amount 300 --urgency EMERGENCY --criticality SAFETY_CRITICAL`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			amount, err := decimal.NewFromString(f.amount)
			if err != nil {
				return fmt.Errorf("invalid --amount %q: %w", f.amount, err)
			}
			snap, err := resolveSnapshot(cmd.Context(), f.policyFile)
			if err != nil {
				return err
			}
			decision, err := snap.Evaluate(policy.Requisition{
				Amount:           amount,
				Currency:         strings.ToUpper(f.currency),
				UrgencyLevel:     f.urgency,
				CriticalityLevel: f.criticality,
				VesselID:         f.vessel,
				Department:       f.department,
				Category:         f.category,
				Tags:             f.tags,
			})
			if err != nil {
				return err
			}
			if f.asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(decision)
			}
			printDecision(cmd.OutOrStdout(), decision)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.policyFile, "policy", "", "policy file to evaluate against (default: configured policy)")
	cmd.Flags().StringVar(&f.amount, "amount", "", "requisition amount")
	cmd.Flags().StringVar(&f.currency, "currency", "USD", "requisition currency")
	cmd.Flags().StringVar(&f.urgency, "urgency", policy.UrgencyRoutine, "urgency level")
	cmd.Flags().StringVar(&f.criticality, "criticality", "", "criticality level")
	cmd.Flags().StringVar(&f.vessel, "vessel", "", "vessel id")
	cmd.Flags().StringVar(&f.department, "department", "", "department")
	cmd.Flags().StringVar(&f.category, "category", "", "category")
	cmd.Flags().StringSliceVar(&f.tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print the decision as JSON")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

// resolveSnapshot loads path when given, otherwise the policy the service
// is configured with.
func resolveSnapshot(ctx context.Context, path string) (*policy.Snapshot, error) {
	if path != "" {
		def, err := policy.LoadFile(path)
		if err != nil {
			return nil, err
		}
		return policy.NewSnapshot(*def)
	}

	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	switch cfg.Policy.Source {
	case "default":
		return policy.DefaultSnapshot(), nil
	case "file":
		def, err := policy.LoadFile(cfg.Policy.File)
		if err != nil {
			return nil, err
		}
		return policy.NewSnapshot(*def)
	}

	cfg.NATS.Enabled = false
	cfg.Temporal.Enabled = false
	engine, err := app.Build(ctx, cfg, log, app.Options{SkipScheduler: true})
	if err != nil {
		return nil, err
	}
	defer engine.Close()
	return engine.Policies.Current(), nil
}
