package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/pesio-ai/be-proc-approvals/internal/config"
)

func TestParseSampler(t *testing.T) {
	for _, s := range []string{"", "always", "never", "ratio:0.25", "ratio:1"} {
		_, err := ParseSampler(s)
		assert.NoError(t, err, s)
	}
	for _, s := range []string{"sometimes", "ratio:", "ratio:1.5", "ratio:-1"} {
		_, err := ParseSampler(s)
		assert.Error(t, err, s)
	}
}

func TestInstallExportsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	shutdown, err := Install("always", "be-proc-approvals", "test", exporter)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "ApprovalService.Submit")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "ApprovalService.Submit", spans[0].Name)
}

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(config.TracingConfig{Enabled: false}, config.ServiceConfig{Name: "x"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	_, err = Setup(config.TracingConfig{Enabled: true, Sampler: "bogus"}, config.ServiceConfig{Name: "x"})
	assert.Error(t, err)
}
