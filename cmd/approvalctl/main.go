package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-proc-approvals/internal/common/logger"
	"github.com/pesio-ai/be-proc-approvals/internal/config"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "approvalctl",
		Short: "Operate the procurement approval engine",
		Long: `approvalctl runs maintenance against the procurement approval engine,
validates approval policy files and previews how a requisition would be routed.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv("APPROVALS_CONFIG"), "path to a YAML config file")

	root.AddCommand(sweepCmd())
	root.AddCommand(policyCmd())
	root.AddCommand(evaluateCmd())
	root.AddCommand(scheduleSweepCmd())
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, failure.Sprint("error:"), err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: "approvalctl",
		Version:     cfg.Service.Version,
		Output:      os.Stderr,
	})
	return cfg, log, nil
}
