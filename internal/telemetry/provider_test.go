package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewResource(t *testing.T) {
	cfg := NewDefaultConfig()

	res := newResource(cfg)
	require.NotNil(t, res)

	attrs := map[string]string{}
	for _, attr := range res.Attributes() {
		attrs[string(attr.Key)] = attr.Value.Emit()
	}
	assert.Equal(t, "ragd", attrs["service.name"])
	assert.Equal(t, cfg.ServiceVersion, attrs["service.version"])
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "collector:4318", stripScheme("https://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("http://collector:4318"))
	assert.Equal(t, "collector:4317", stripScheme("collector:4317"))
}

func TestNewTracerProvider_WithExporter(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	exp := tracetest.NewInMemoryExporter()

	tp, err := newTracerProvider(context.Background(), cfg, newResource(cfg), WithTraceExporter(exp))
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "Pipeline.Ask")
	span.End()
	require.NoError(t, tp.ForceFlush(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "Pipeline.Ask", spans[0].Name)
}

func TestNewMeterProvider_Disabled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Metrics.Enabled = false

	mp, err := newMeterProvider(context.Background(), cfg, newResource(cfg))
	require.NoError(t, err)
	assert.Nil(t, mp)
}

func TestNewSampler(t *testing.T) {
	assert.Contains(t, newSampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, newSampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, newSampler(0.25).Description(), "TraceIDRatioBased")
}
