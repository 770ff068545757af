package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.temporal.io/sdk/worker"

	"github.com/pesio-ai/be-proc-approvals/internal/app"
	"github.com/pesio-ai/be-proc-approvals/internal/common/logger"
	"github.com/pesio-ai/be-proc-approvals/internal/config"
	"github.com/pesio-ai/be-proc-approvals/internal/scheduler"
	"github.com/pesio-ai/be-proc-approvals/internal/telemetry"
)

func main() {
	configPath := flag.String("config", os.Getenv("APPROVALS_CONFIG"), "path to a YAML config file")
	startSweep := flag.Bool("start-sweep", true, "start the sweep workflow if it is not running")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name + "-worker",
		Version:     cfg.Service.Version,
	})

	if !cfg.Temporal.Enabled {
		log.Fatal().Msg("temporal.enabled is false; nothing for the worker to do")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(cfg.Tracing, cfg.Service)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up tracing")
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// Requeues triggered inside the worker never schedule a new timer, so
	// the escalation scheduler is left out.
	engine, err := app.Build(ctx, cfg, log, app.Options{SkipScheduler: true})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize approval engine")
	}
	defer engine.Close()

	go engine.WatchPolicy(ctx)

	hostname, _ := os.Hostname()
	identity := "approvals-worker-" + hostname
	w := scheduler.NewWorker(engine.Temporal, cfg.Temporal.TaskQueue, identity, engine.Activities())

	if *startSweep {
		run, err := scheduler.StartSweep(ctx, engine.Temporal, cfg.Temporal.TaskQueue, cfg.Sweep.Interval)
		if err != nil {
			log.Warn().Err(err).Msg("Sweep workflow not started")
		} else {
			log.Info().Str("workflow_id", run.GetID()).Str("run_id", run.GetRunID()).Msg("Sweep workflow running")
		}
	}

	log.Info().
		Str("task_queue", cfg.Temporal.TaskQueue).
		Str("identity", identity).
		Msg("Worker starting")

	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Error().Err(err).Msg("Worker stopped with error")
		return
	}
	log.Info().Msg("Worker stopped")
}
