// Package app assembles the approval engine from configuration. The server,
// the Temporal worker and the CLI all build the same graph through Build.
package app

import (
	"context"
	"fmt"
	"os"

	"go.temporal.io/sdk/client"

	approvalsclient "github.com/pesio-ai/be-proc-approvals/internal/client"
	"github.com/pesio-ai/be-proc-approvals/internal/common/database"
	"github.com/pesio-ai/be-proc-approvals/internal/common/logger"
	"github.com/pesio-ai/be-proc-approvals/internal/config"
	"github.com/pesio-ai/be-proc-approvals/internal/policy"
	"github.com/pesio-ai/be-proc-approvals/internal/repository"
	"github.com/pesio-ai/be-proc-approvals/internal/repository/memory"
	"github.com/pesio-ai/be-proc-approvals/internal/scheduler"
	"github.com/pesio-ai/be-proc-approvals/internal/service"
)

// Options switch off parts of the graph a binary does not need.
type Options struct {
	// SkipScheduler leaves escalations to the sweep even when Temporal is
	// enabled.
	SkipScheduler bool
}

// App is the assembled engine.
type App struct {
	Config       *config.Config
	Log          *logger.Logger
	Approvals    *service.ApprovalService
	Overrides    *service.OverrideService
	Sweeper      *service.Sweeper
	Policies     *policy.Store
	PolicySource policy.Source
	Temporal     client.Client

	closers []func()
}

// Build connects every configured backend and wires the services. Call
// Close when done, also after a partial failure.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (a *App, err error) {
	a = &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var (
		requisitions service.RequisitionStore
		overrides    service.OverrideStore
		users        service.UserDirectory
		audit        service.AuditSink
	)

	switch cfg.Database.Driver {
	case "memory":
		log.Warn().Msg("Using in-memory store; data is lost on restart")
		requisitions = memory.NewRequisitions()
		overrides = memory.NewOverrides()
		users = memory.Users{}
		audit = memory.NewAudit()
	default:
		db, err := database.New(ctx, database.Config{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			Database:    cfg.Database.Database,
			SSLMode:     cfg.Database.SSLMode,
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			MaxConnTime: cfg.Database.MaxConnTime,
			MaxIdleTime: cfg.Database.MaxIdleTime,
			HealthCheck: cfg.Database.HealthCheck,
		})
		if err != nil {
			return a, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		log.Info().Msg("Database connection established")

		requisitions = repository.NewRequisitionRepository(db)
		overrides = repository.NewOverrideRepository(db)
		users = repository.NewUserRepository(db)
		audit = repository.NewApprovalAuditRepository(db)
		if cfg.Policy.Source == "database" {
			a.PolicySource = repository.NewApprovalRulesRepository(db)
		}
	}

	if cfg.Identity.GRPCAddr != "" {
		ic, err := approvalsclient.NewIdentityGRPCClient(cfg.Identity.GRPCAddr)
		if err != nil {
			return a, fmt.Errorf("failed to create identity client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = ic.Close() })
		users = ic
		log.Info().Str("identity_grpc", cfg.Identity.GRPCAddr).Msg("Resolving users through the identity service")
	}

	if cfg.Policy.Source == "file" {
		a.PolicySource = policy.FileSource{Path: cfg.Policy.File}
	}
	a.Policies = policy.NewStore(policy.DefaultSnapshot())
	if a.PolicySource != nil {
		snap, err := a.Policies.Reload(ctx, a.PolicySource)
		if err != nil {
			return a, err
		}
		log.Info().
			Str("source", cfg.Policy.Source).
			Int64("version", snap.Version).
			Int("rules", len(snap.Rules)).
			Msg("Approval policy loaded")
	}

	var bus approvalsclient.Bus
	if cfg.NATS.Enabled {
		nb, err := approvalsclient.ConnectNATS(cfg.NATS.URL, cfg.Service.Name, log)
		if err != nil {
			return a, err
		}
		a.closers = append(a.closers, func() { _ = nb.Close() })
		bus = nb
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	}
	notifier := approvalsclient.NewNotificationPublisher(bus, cfg.NATS.SubjectPrefix, log.Component("notifications"))

	var escalations service.EscalationScheduler
	if cfg.Temporal.Enabled {
		tc, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
			Identity:  fmt.Sprintf("%s@%s", cfg.Service.Name, hostname()),
			Logger:    scheduler.NewSDKLogger(log),
		})
		if err != nil {
			return a, fmt.Errorf("failed to create Temporal client: %w", err)
		}
		a.closers = append(a.closers, tc.Close)
		a.Temporal = tc
		if !opts.SkipScheduler {
			escalations = scheduler.NewEscalationScheduler(tc, cfg.Temporal.TaskQueue, log.Component("scheduler"))
		}
	}

	a.Overrides = service.NewOverrideService(overrides, users, audit, notifier, a.Policies, log.Component("overrides"))
	a.Approvals = service.NewApprovalService(requisitions, a.Overrides, audit, notifier, a.Policies, escalations, log.Component("approvals"))
	a.Sweeper = service.NewSweeper(a.Approvals, a.Overrides, log.Component("sweeper"))
	return a, nil
}

// WatchPolicy reloads the policy on the configured interval until ctx is
// done. It returns immediately for the built-in policy.
func (a *App) WatchPolicy(ctx context.Context) {
	if a.PolicySource == nil {
		return
	}
	a.Policies.Watch(ctx, a.PolicySource, a.Config.Policy.ReloadInterval, a.Log.Component("policy"))
}

// Activities returns the scheduler activities bound to this engine.
func (a *App) Activities() *scheduler.Activities {
	return &scheduler.Activities{Sweeper: a.Sweeper, Requeuer: a.Approvals}
}

// Close releases backends in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
