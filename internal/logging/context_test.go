package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func fieldMap(fields []zap.Field) map[string]zap.Field {
	m := make(map[string]zap.Field, len(fields))
	for _, f := range fields {
		m[f.Key] = f
	}
	return m
}

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestContextFields_Trace(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")

	tests := []struct {
		name    string
		flags   trace.TraceFlags
		sampled bool
	}{
		{"sampled", trace.FlagsSampled, true},
		{"not sampled", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := trace.NewSpanContext(trace.SpanContextConfig{
				TraceID:    traceID,
				SpanID:     spanID,
				TraceFlags: tt.flags,
			})
			ctx := trace.ContextWithSpanContext(context.Background(), sc)

			fields := fieldMap(ContextFields(ctx))
			assert.Equal(t, traceID.String(), fields["trace_id"].String)
			assert.Equal(t, spanID.String(), fields["span_id"].String)
			_, ok := fields["trace_sampled"]
			assert.Equal(t, tt.sampled, ok)
		})
	}
}

func TestContextFields_Tags(t *testing.T) {
	ctx := WithTenant(context.Background(), "docs")
	ctx = WithGeneration(ctx, "0123456789ab")
	ctx = WithRequestID(ctx, "req-42")

	fields := fieldMap(ContextFields(ctx))
	assert.Equal(t, "docs", fields["tenant"].String)
	assert.Equal(t, "0123456789ab", fields["generation"].String)
	assert.Equal(t, "req-42", fields["request.id"].String)
}

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, TenantFromContext(ctx))
	assert.Empty(t, GenerationFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = WithTenant(ctx, "kb")
	assert.Equal(t, "kb", TenantFromContext(ctx))
}
