package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/pesio-ai/be-proc-approvals/internal/app"
	approvalsclient "github.com/pesio-ai/be-proc-approvals/internal/client"
	"github.com/pesio-ai/be-proc-approvals/internal/common/auth"
	"github.com/pesio-ai/be-proc-approvals/internal/scheduler"
	"github.com/pesio-ai/be-proc-approvals/internal/service"
)

func sweepCmd() *cobra.Command {
	var (
		server string
		actor  string
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Deactivate expired overrides and requeue due escalations once",
		Long: `sweep runs one maintenance pass. Schedule it from cron when the Temporal
worker is not deployed. With --server the pass runs inside a running
service over gRPC; otherwise it connects to the configured store directly.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if server != "" {
				return remoteSweep(cmd, server, actor)
			}

			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Temporal.Enabled = false
			engine, err := app.Build(cmd.Context(), cfg, log, app.Options{SkipScheduler: true})
			if err != nil {
				return err
			}
			defer engine.Close()

			report, err := engine.Sweeper.Run(cmd.Context(), time.Now().UTC())
			printReport(cmd.OutOrStdout(), report)
			return err
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "gRPC address of a running service, e.g. localhost:9086")
	cmd.Flags().StringVar(&actor, "as", "approvalctl", "admin user id presented to the service")
	return cmd
}

func remoteSweep(cmd *cobra.Command, addr, actor string) error {
	c, err := approvalsclient.NewApprovalsGRPCClient(addr)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := auth.WithPrincipal(cmd.Context(), auth.Principal{UserID: actor, Role: "ADMIN"})
	out, err := c.RunMaintenance(ctx)
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), service.SweepReport{
		ExpiredOverrides:    asInt(out["expiredOverrides"]),
		RequeuedEscalations: asInt(out["requeuedEscalations"]),
	})
	return nil
}

func asInt(v any) int {
	f, _ := v.(float64)
	return int(f)
}

func printReport(w io.Writer, r service.SweepReport) {
	label := muted
	if r.ExpiredOverrides > 0 || r.RequeuedEscalations > 0 {
		label = success
	}
	fmt.Fprintf(w, "%s expired overrides: %d, requeued escalations: %d\n",
		label.Sprint("sweep"), r.ExpiredOverrides, r.RequeuedEscalations)
}

func scheduleSweepCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "schedule-sweep",
		Short: "Start the recurring sweep workflow on Temporal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if interval <= 0 {
				interval = cfg.Sweep.Interval
			}
			c, err := client.Dial(client.Options{
				HostPort:  cfg.Temporal.HostPort,
				Namespace: cfg.Temporal.Namespace,
				Logger:    scheduler.NewSDKLogger(log),
			})
			if err != nil {
				return fmt.Errorf("failed to create Temporal client: %w", err)
			}
			defer c.Close()

			run, err := scheduler.StartSweep(cmd.Context(), c, cfg.Temporal.TaskQueue, interval)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s workflow %s run %s every %s\n",
				success.Sprint("scheduled"), run.GetID(), run.GetRunID(), interval)
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "sweep interval (default: sweep.interval from config)")
	return cmd
}
