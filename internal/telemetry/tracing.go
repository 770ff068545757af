// Package telemetry installs the OpenTelemetry tracer provider the service
// layer's spans are recorded on.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/pesio-ai/be-proc-approvals/internal/config"
)

// Shutdown flushes and stops the installed provider.
type Shutdown func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

// Setup installs a global tracer provider according to cfg. With tracing
// disabled spans stay no-ops and the returned Shutdown does nothing.
func Setup(cfg config.TracingConfig, svc config.ServiceConfig) (Shutdown, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}
	var exporter sdktrace.SpanExporter
	if cfg.Stdout {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		exporter = exp
	}
	return Install(cfg.Sampler, svc.Name, svc.Version, exporter)
}

// Install registers a provider exporting to exporter, which may be nil to
// sample spans without exporting them.
func Install(sampler, serviceName, serviceVersion string, exporter sdktrace.SpanExporter) (Shutdown, error) {
	s, err := ParseSampler(sampler)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(s),
		sdktrace.WithResource(res),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// ParseSampler understands "always", "never" and "ratio:<fraction>". Ratio
// sampling respects the parent's decision.
func ParseSampler(s string) (sdktrace.Sampler, error) {
	switch {
	case s == "" || s == "always":
		return sdktrace.AlwaysSample(), nil
	case s == "never":
		return sdktrace.NeverSample(), nil
	case strings.HasPrefix(s, "ratio:"):
		f, err := strconv.ParseFloat(strings.TrimPrefix(s, "ratio:"), 64)
		if err != nil || f < 0 || f > 1 {
			return nil, fmt.Errorf("invalid sampler ratio %q", s)
		}
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(f)), nil
	default:
		return nil, fmt.Errorf("unknown sampler %q", s)
	}
}
